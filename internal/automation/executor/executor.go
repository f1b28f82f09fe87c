// Package executor implements the RuleProgramExecutor: the component-tree
// walker that runs under a bounded concurrency budget, delegates leaf work
// to the ConditionEvaluator and ActionRunner, and persists one Execution
// record per run.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/condition"
	"github.com/onstaq/automation-engine/internal/automation/template"
	"github.com/onstaq/automation-engine/internal/logger"
)

// RuleStore is the subset of persistence the executor needs to resolve a
// rule by id for triggerManually/test/reload.
type RuleStore interface {
	GetRule(ctx context.Context, ruleID string) (*automation.Rule, error)
}

// ExecutionStore persists the lifecycle of a single run.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *automation.Execution) error
	UpdateExecution(ctx context.Context, exec *automation.Execution) error
}

// ConditionEvaluator is the collaborator condition components delegate to;
// *condition.Evaluator satisfies it.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, execCtx *automation.ExecutionContext, node automation.ConditionNode) condition.Result
}

// ActionRunner is the collaborator action components delegate to;
// *action.Runner satisfies it.
type ActionRunner interface {
	Run(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode) (any, error)
}

// ItemResolver is the upstream surface the executor itself needs, beyond
// what it delegates to the ConditionEvaluator/ActionRunner: item resolution
// for manual-trigger parameters, reference listing for related_items
// branches, and query execution for lookup_items branches.
// *upstream.Client satisfies it.
type ItemResolver interface {
	GetItem(ctx context.Context, itemID string) (*automation.Item, error)
	LookupItemByKey(ctx context.Context, workspaceID, key string) (*automation.Item, error)
	ListReferences(ctx context.Context, itemID, direction, kind string) ([]automation.Item, error)
	ExecuteQuery(ctx context.Context, workspaceID, query string) (*template.QueryResult, error)
}

// job is one unit of queued work: a fully-formed ExecutionContext plus the
// rule program to walk.
type job struct {
	rule    *automation.Rule
	execCtx *automation.ExecutionContext
	exec    *automation.Execution
	done    chan struct{}
}

// Config bounds the executor's concurrency.
type Config struct {
	MaxConcurrency int
}

// Executor owns the global concurrency semaphore and FIFO queue shared by
// every rule's runs.
type Executor struct {
	rules      RuleStore
	executions ExecutionStore
	conditions ConditionEvaluator
	actions    ActionRunner
	resolver   *template.Resolver
	items      ItemResolver
	watchers   WatcherManager

	sem   chan struct{}
	queue *fifoQueue

	running atomic.Bool
	active  atomic.Int64
	wg      sync.WaitGroup
}

// New builds an Executor. Call Start before submitting work.
func New(cfg Config, rules RuleStore, executions ExecutionStore, conditions ConditionEvaluator, actions ActionRunner, resolver *template.Resolver, items ItemResolver) *Executor {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Executor{
		rules:      rules,
		executions: executions,
		conditions: conditions,
		actions:    actions,
		resolver:   resolver,
		items:      items,
		sem:        make(chan struct{}, maxConcurrency),
		queue:      newFIFOQueue(),
	}
}

// Start launches the dispatcher goroutine that pulls queued jobs and runs
// them once a concurrency slot is free.
func (e *Executor) Start() {
	e.running.Store(true)
	e.wg.Add(1)
	go e.dispatch()
	logger.Info("executor started")
}

// Stop sets the not-running flag and waits up to 30s for in-flight
// executions to drain before returning; runs already RUNNING are not
// interrupted.
func (e *Executor) Stop() {
	e.running.Store(false)
	e.queue.close()

	deadline := time.After(30 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for e.active.Load() > 0 {
		select {
		case <-deadline:
			logger.Warn("executor stop timed out waiting for active executions to drain", "active", e.active.Load())
			return
		case <-tick.C:
		}
	}
	e.wg.Wait()
	logger.Info("executor stopped")
}

// WatcherManager is the TriggerManager surface Reload delegates to;
// *trigger.Manager satisfies it. Wired after construction via
// SetWatcherManager to avoid an import cycle (trigger.Manager fires
// executions through Executor.Fire).
type WatcherManager interface {
	ReloadOne(ctx context.Context, ruleID string) error
}

// SetWatcherManager wires the TriggerManager used by Reload.
func (e *Executor) SetWatcherManager(m WatcherManager) { e.watchers = m }

// Reload stops the current watcher for ruleID (if any) and re-installs it
// from the current persisted rule.
func (e *Executor) Reload(ctx context.Context, ruleID string) error {
	if e.watchers == nil {
		return fmt.Errorf("reload: no watcher manager wired")
	}
	return e.watchers.ReloadOne(ctx, ruleID)
}

// QueueDepth reports the number of jobs waiting for a concurrency slot.
func (e *Executor) QueueDepth() int { return e.queue.depth() }

// ActiveCount reports the number of currently RUNNING executions.
func (e *Executor) ActiveCount() int64 { return e.active.Load() }

func (e *Executor) dispatch() {
	defer e.wg.Done()
	for {
		j, ok := e.queue.pop()
		if !ok {
			return
		}
		e.sem <- struct{}{}
		e.active.Add(1)
		go func(j *job) {
			defer func() {
				<-e.sem
				e.active.Add(-1)
				close(j.done)
			}()
			e.runJob(context.Background(), j)
		}(j)
	}
}

// submit enqueues a job and blocks until it completes, returning the
// executionId once the record has been written — matching
// triggerManually's documented "returns when the execution record has
// been written" contract.
func (e *Executor) submit(ctx context.Context, rule *automation.Rule, execCtx *automation.ExecutionContext, trigger automation.TriggerEvent) (string, error) {
	exec := &automation.Execution{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		Status:    automation.ExecutionPending,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	if e.executions != nil {
		if err := e.executions.CreateExecution(ctx, exec); err != nil {
			return "", fmt.Errorf("persisting pending execution: %w", err)
		}
	}

	j := &job{rule: rule, execCtx: execCtx, exec: exec, done: make(chan struct{})}
	e.queue.push(j)

	select {
	case <-j.done:
		return exec.ID, nil
	case <-ctx.Done():
		return exec.ID, ctx.Err()
	}
}

func (e *Executor) runJob(ctx context.Context, j *job) {
	j.exec.Status = automation.ExecutionRunning
	if e.executions != nil {
		_ = e.executions.UpdateExecution(ctx, j.exec)
	}

	results, runErr := e.walkComponents(ctx, j.execCtx, j.rule.Components)

	j.exec.ComponentResults = results
	completed := time.Now().UTC()
	j.exec.CompletedAt = &completed
	duration := completed.Sub(j.exec.StartedAt).Milliseconds()
	j.exec.DurationMs = &duration

	if runErr != nil {
		j.exec.Status = automation.ExecutionFailed
		j.exec.Error = runErr.Error()
		logger.Error("execution failed", "executionId", j.exec.ID, "ruleId", j.rule.ID, "error", runErr)
	} else {
		j.exec.Status = automation.ExecutionSuccess
	}

	if e.executions != nil {
		if err := e.executions.UpdateExecution(ctx, j.exec); err != nil {
			logger.Error("failed to persist execution result", "executionId", j.exec.ID, "error", err)
		}
	}
}

// TriggerManually implements action.ManualTrigger for the automation.trigger
// action, plus the public triggerManually(ruleId, parameters) entry point.
func (e *Executor) TriggerManually(ctx context.Context, ruleID string, parameters map[string]any, chainDepth int) (string, error) {
	if chainDepth > automation.MaxChainDepth {
		return "", fmt.Errorf("chain depth %d exceeds maximum %d", chainDepth, automation.MaxChainDepth)
	}
	rule, err := e.rules.GetRule(ctx, ruleID)
	if err != nil {
		return "", fmt.Errorf("triggerManually: %w", err)
	}

	trigger := automation.TriggerEvent{
		Type:             automation.TriggerManual,
		ManualParameters: parameters,
		Timestamp:        time.Now().UTC(),
	}
	if itemID, ok := parameters["itemId"].(string); ok && itemID != "" && e.items != nil {
		item, err := e.items.GetItem(ctx, itemID)
		if err != nil {
			return "", fmt.Errorf("triggerManually: resolving itemId: %w", err)
		}
		trigger.Item = item
	} else if itemKey, ok := parameters["itemKey"].(string); ok && itemKey != "" && e.items != nil {
		item, err := e.items.LookupItemByKey(ctx, rule.WorkspaceID, itemKey)
		if err != nil {
			return "", fmt.Errorf("triggerManually: resolving itemKey: %w", err)
		}
		trigger.Item = item
	}

	execCtx := &automation.ExecutionContext{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		WorkspaceID: rule.WorkspaceID,
		Trigger:     trigger,
		Variables:   map[string]any{},
		StartedAt:   time.Now().UTC(),
		ChainDepth:  chainDepth,
	}
	return e.submit(ctx, rule, execCtx, trigger)
}

// Fire runs rule against an already-built TriggerEvent, the entry point the
// TriggerManager calls for pollable/scheduled firings.
func (e *Executor) Fire(ctx context.Context, rule *automation.Rule, trigger automation.TriggerEvent) (string, error) {
	execCtx := &automation.ExecutionContext{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		WorkspaceID: rule.WorkspaceID,
		Trigger:     trigger,
		Variables:   map[string]any{},
		StartedAt:   time.Now().UTC(),
	}
	return e.submit(ctx, rule, execCtx, trigger)
}

// TestOutline is the dry-run result: an ordered human-readable outline of
// what would execute, with no side effects.
type TestOutline struct {
	WouldExecuteComponents []string `json:"wouldExecuteComponents"`
}

// Test walks rule's component tree against mockTrigger without calling any
// action handler, recording a label per component it would reach.
func (e *Executor) Test(ctx context.Context, ruleID string, mockTrigger automation.TriggerEvent) (*TestOutline, error) {
	rule, err := e.rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("test: %w", err)
	}
	execCtx := &automation.ExecutionContext{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		WorkspaceID: rule.WorkspaceID,
		Trigger:     mockTrigger,
		Variables:   map[string]any{},
		StartedAt:   time.Now().UTC(),
	}
	var outline []string
	describeComponents(execCtx, rule.Components, &outline)
	return &TestOutline{WouldExecuteComponents: outline}, nil
}

func describeComponents(execCtx *automation.ExecutionContext, components []automation.Component, outline *[]string) {
	for _, c := range components {
		switch c.Type {
		case automation.ComponentAction:
			*outline = append(*outline, fmt.Sprintf("action:%s", c.Action.Type))
		case automation.ComponentCondition:
			*outline = append(*outline, fmt.Sprintf("condition:%s", c.ID))
		case automation.ComponentBranch:
			*outline = append(*outline, fmt.Sprintf("branch:%s", c.Branch.Kind))
			describeComponents(execCtx, c.Branch.Components, outline)
		case automation.ComponentIfElse:
			*outline = append(*outline, fmt.Sprintf("if_else:%s", c.ID))
			describeComponents(execCtx, c.IfElse.Then, outline)
			describeComponents(execCtx, c.IfElse.Else, outline)
		}
	}
}
