package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/onstaq/automation-engine/internal/automation/action"
	"github.com/onstaq/automation-engine/internal/automation/cache"
	"github.com/onstaq/automation-engine/internal/automation/condition"
	"github.com/onstaq/automation-engine/internal/automation/executor"
	"github.com/onstaq/automation-engine/internal/automation/template"
	"github.com/onstaq/automation-engine/internal/automation/trigger"
	"github.com/onstaq/automation-engine/internal/config"
	"github.com/onstaq/automation-engine/internal/httpapi"
	"github.com/onstaq/automation-engine/internal/logger"
	"github.com/onstaq/automation-engine/internal/metrics"
	"github.com/onstaq/automation-engine/internal/store"
	"github.com/onstaq/automation-engine/internal/upstream"
)

// authAdapter narrows *upstream.Client.VerifyToken to httpapi.Authenticator,
// which returns any rather than *upstream.Me so the httpapi package never
// has to import upstream.
type authAdapter struct {
	client *upstream.Client
}

func (a authAdapter) VerifyToken(ctx context.Context, token string) (any, error) {
	return a.client.VerifyToken(ctx, token)
}

// lazyManualTrigger breaks the construction cycle between action.Runner
// (needs a ManualTrigger at New) and executor.Executor (needs an
// ActionRunner at New, and is itself the ManualTrigger): it is handed to
// action.New before exec exists, then pointed at exec once built.
type lazyManualTrigger struct {
	exec *executor.Executor
}

func (l *lazyManualTrigger) TriggerManually(ctx context.Context, ruleID string, parameters map[string]any, chainDepth int) (string, error) {
	return l.exec.TriggerManually(ctx, ruleID, parameters, chainDepth)
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	logger.SetLevelFromEnv("LOG_LEVEL", logger.LevelInfo)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("failed to ping database", "error", err)
	}

	upstreamClient := upstream.NewClient(cfg.OnstaqAPIURL, upstream.Credentials{
		Email:    cfg.OnstaqServiceEmail,
		Password: cfg.OnstaqServicePassword,
	})
	if err := upstreamClient.Login(ctx); err != nil {
		logger.Fatal("failed to authenticate against upstream", "error", err)
	}

	rawRuleStore := store.NewRuleStore(db)
	rulesCache := newRulesCache(cfg)
	ruleStore := store.NewCachedRuleStore(rawRuleStore, rulesCache)
	executionStore := store.NewExecutionStore(db)
	triggerStateStore := store.NewTriggerStateStore(db)
	webhookStore := store.NewWebhookSubscriptionStore(db)

	resolver := template.NewResolver(upstreamClient)
	conditionEvaluator := condition.New(resolver, upstreamClient)
	manualTrigger := &lazyManualTrigger{}
	actionRunner := action.New(upstreamClient, resolver, manualTrigger)

	exec := executor.New(executor.Config{MaxConcurrency: cfg.MaxConcurrentExecutions},
		ruleStore, executionStore, conditionEvaluator, actionRunner, resolver, upstreamClient)
	manualTrigger.exec = exec

	triggerManager := trigger.New(upstreamClient, triggerStateStore, ruleStore, exec.Fire, cfg.PollInterval)
	exec.SetWatcherManager(triggerManager)

	exec.Start()
	defer exec.Stop()

	allRules, err := ruleStore.ListRules(ctx, false)
	if err != nil {
		logger.Fatal("failed to load automations for trigger installation", "error", err)
	}
	triggerManager.StartAll(ctx, allRules)
	defer triggerManager.StopAll()
	logger.Info("installed trigger watchers", "ruleCount", len(allRules))

	metricsRegistry := metrics.New(exec)

	server := httpapi.New(ruleStore, executionStore, webhookStore, authAdapter{client: upstreamClient},
		exec, metricsRegistry, cfg.WebhookHMACSecretDefault)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		logger.Warn("logger shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

// newRulesCache picks a Redis-backed cache when REDIS_URL is set, falling
// back to an in-process cache for single-instance deployments.
func newRulesCache(cfg *config.Config) store.RulesCache {
	cacheConfig := cache.DefaultConfig()
	if cfg.RedisURL == "" {
		return cache.NewInMemory(cacheConfig)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, falling back to in-memory rule cache", "error", err)
		return cache.NewInMemory(cacheConfig)
	}
	return cache.NewRedis(redis.NewClient(opts), cacheConfig)
}
