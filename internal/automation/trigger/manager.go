// Package trigger implements the TriggerManager: one live watcher per
// enabled rule (periodic poller or cron timer), translating upstream
// changes into TriggerEvents handed to the executor.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/template"
	"github.com/onstaq/automation-engine/internal/logger"
	"github.com/onstaq/automation-engine/internal/upstream"
)

const (
	defaultPollInterval = 60 * time.Second
	minPollInterval     = 10 * time.Second
	historyPageSize     = 50
)

// Upstream is the subset of upstream access pollers need: listing items and
// history, plus ad-hoc query execution for oql.match. *upstream.Client
// satisfies it.
type Upstream interface {
	ListItems(ctx context.Context, catalogID string, window upstream.ListWindow) ([]automation.Item, error)
	GetItem(ctx context.Context, itemID string) (*automation.Item, error)
	ListHistory(ctx context.Context, catalogID, sinceID string, limit int) ([]upstream.HistoryEntry, error)
	ExecuteQuery(ctx context.Context, workspaceID, query string) (*template.QueryResult, error)
}

// TriggerStateStore persists per-rule poll bookmarks.
type TriggerStateStore interface {
	GetTriggerState(ctx context.Context, ruleID string) (*automation.TriggerState, error)
	SaveTriggerState(ctx context.Context, state *automation.TriggerState) error
}

// RuleStore resolves the current persisted rule for (re)install.
type RuleStore interface {
	GetRule(ctx context.Context, ruleID string) (*automation.Rule, error)
}

// Fire is the executor entry point a firing watcher calls into;
// *executor.Executor.Fire satisfies it.
type Fire func(ctx context.Context, rule *automation.Rule, event automation.TriggerEvent) (string, error)

// watcher is the running state for one rule's trigger.
type watcher struct {
	ruleID string
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns one watcher per enabled rule.
type Manager struct {
	upstream Upstream
	states   TriggerStateStore
	rules    RuleStore
	fire     Fire
	interval time.Duration

	mu       sync.Mutex
	watchers map[string]*watcher
	running  bool
}

// New builds a Manager polling every rule at interval (floored to
// minPollInterval). Call StartAll to install watchers for every rule.
func New(upstream Upstream, states TriggerStateStore, rules RuleStore, fire Fire, interval time.Duration) *Manager {
	if interval < minPollInterval {
		interval = minPollInterval
	}
	return &Manager{
		upstream: upstream,
		states:   states,
		rules:    rules,
		fire:     fire,
		interval: interval,
		watchers: make(map[string]*watcher),
	}
}

// StartAll installs a watcher for every enabled rule whose trigger kind
// requires one.
func (m *Manager) StartAll(ctx context.Context, rules []*automation.Rule) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	for _, r := range rules {
		if r.Enabled {
			m.StartOne(ctx, r)
		}
	}
}

// StartOne installs a watcher for rule, replacing any existing one.
func (m *Manager) StartOne(ctx context.Context, rule *automation.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if existing, ok := m.watchers[rule.ID]; ok {
		existing.cancel()
		<-existing.done
	}

	switch rule.Trigger.Kind {
	case automation.TriggerManual, automation.TriggerWebhookReceived:
		delete(m.watchers, rule.ID)
		return
	case automation.TriggerSchedule:
		m.watchers[rule.ID] = m.installCron(rule)
	default:
		m.watchers[rule.ID] = m.installPoller(rule)
	}
}

// StopOne cancels rule's watcher if any. Idempotent.
func (m *Manager) StopOne(ruleID string) {
	m.mu.Lock()
	w, ok := m.watchers[ruleID]
	if ok {
		delete(m.watchers, ruleID)
	}
	m.mu.Unlock()
	if ok {
		w.cancel()
		<-w.done
	}
}

// StopAll marks the manager not-running and cancels every watcher.
// Idempotent.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.running = false
	watchers := m.watchers
	m.watchers = make(map[string]*watcher)
	m.mu.Unlock()

	for _, w := range watchers {
		w.cancel()
		<-w.done
	}
}

// ReloadOne stops the current watcher for ruleID (if any) and re-installs
// it from the current persisted rule, satisfying executor.WatcherManager.
func (m *Manager) ReloadOne(ctx context.Context, ruleID string) error {
	m.StopOne(ruleID)
	rule, err := m.rules.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule.Enabled {
		m.StartOne(ctx, rule)
	}
	return nil
}

func (m *Manager) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) installPoller(rule *automation.Rule) *watcher {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := &watcher{ruleID: rule.ID, cancel: cancel, done: done}

	go func() {
		defer close(done)
		m.pollOnce(ctx, rule)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !m.isRunning() {
					return
				}
				m.pollOnce(ctx, rule)
			}
		}
	}()
	return w
}

func (m *Manager) pollOnce(ctx context.Context, rule *automation.Rule) {
	state, err := m.states.GetTriggerState(ctx, rule.ID)
	if err != nil {
		logger.Error("trigger poll: loading state failed", "ruleId", rule.ID, "error", err)
		return
	}
	if state == nil {
		state = &automation.TriggerState{RuleID: rule.ID, LastSeenData: map[string]any{}}
	}
	if state.LastSeenData == nil {
		state.LastSeenData = map[string]any{}
	}

	events, err := m.poll(ctx, rule, state)
	if err != nil {
		logger.Error("trigger poll failed, bookmark not advanced", "ruleId", rule.ID, "kind", rule.Trigger.Kind, "error", err)
		return
	}

	for _, ev := range events {
		if _, err := m.fire(ctx, rule, ev); err != nil {
			logger.Error("trigger fire failed", "ruleId", rule.ID, "error", err)
		}
	}

	state.LastCheckedAt = time.Now().UTC()
	state.UpdatedAt = state.LastCheckedAt
	if err := m.states.SaveTriggerState(ctx, state); err != nil {
		logger.Error("trigger poll: saving state failed", "ruleId", rule.ID, "error", err)
	}
}
