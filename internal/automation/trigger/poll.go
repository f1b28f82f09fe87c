package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/upstream"
)

// poll runs one tick of rule's trigger against its current TriggerState,
// returning every TriggerEvent to fire. It records each emitted event's
// fingerprint (and, for oql.match, the latest count) in state; pollOnce
// persists state after firing the events, whether or not every fire
// succeeded, and does not persist it when poll returns an error.
func (m *Manager) poll(ctx context.Context, rule *automation.Rule, state *automation.TriggerState) ([]automation.TriggerEvent, error) {
	switch rule.Trigger.Kind {
	case automation.TriggerItemCreated:
		return m.pollItemCreated(ctx, rule, state)
	case automation.TriggerItemUpdated:
		return m.pollHistoryAction(ctx, rule, state, "UPDATED", itemUpdatedEvent)
	case automation.TriggerItemDeleted:
		return m.pollHistoryAction(ctx, rule, state, "DELETED", itemDeletedEvent)
	case automation.TriggerAttributeChanged:
		return m.pollAttributeChanged(ctx, rule, state)
	case automation.TriggerStatusChanged:
		return m.pollStatusChanged(ctx, rule, state)
	case automation.TriggerReferenceAdded:
		return m.pollHistoryAction(ctx, rule, state, "REFERENCE_ADDED", referenceAddedEvent(rule))
	case automation.TriggerItemLinked:
		return m.pollHistoryAction(ctx, rule, state, "REFERENCE_ADDED", itemLinkedEvent)
	case automation.TriggerItemUnlinked:
		return m.pollHistoryAction(ctx, rule, state, "REFERENCE_REMOVED", itemUnlinkedEvent)
	case automation.TriggerItemCommented:
		return m.pollHistoryAction(ctx, rule, state, "COMMENTED", itemCommentedEvent)
	case automation.TriggerOQLMatch:
		return m.pollOQLMatch(ctx, rule, state)
	default:
		return nil, fmt.Errorf("trigger kind %q is not pollable", rule.Trigger.Kind)
	}
}

// pollItemCreated lists the catalog's newest items and emits one event per
// item not yet recorded in lastSeenData, deduped by fingerprint.
func (m *Manager) pollItemCreated(ctx context.Context, rule *automation.Rule, state *automation.TriggerState) ([]automation.TriggerEvent, error) {
	items, err := m.upstream.ListItems(ctx, rule.Trigger.CatalogID, upstream.ListWindow{SortBy: "createdAt", Limit: 20})
	if err != nil {
		return nil, err
	}
	var events []automation.TriggerEvent
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if !state.LastCheckedAt.IsZero() && !item.CreatedAt.After(state.LastCheckedAt) {
			continue
		}
		fp := fingerprint(fmt.Sprintf("item.created:%s", item.ID))
		if seen(state, fp) {
			continue
		}
		markSeen(state, fp)
		events = append(events, automation.TriggerEvent{
			Type:      automation.TriggerItemCreated,
			Item:      &item,
			Timestamp: time.Now().UTC(),
		})
	}
	return events, nil
}

type historyEventBuilder func(rule *automation.Rule, entry upstream.HistoryEntry, item *automation.Item) (automation.TriggerEvent, bool)

// pollHistoryAction walks new history entries matching action (newest-first
// from upstream, replayed oldest-first) and builds one TriggerEvent per
// entry the builder accepts, deduped by fingerprint.
func (m *Manager) pollHistoryAction(ctx context.Context, rule *automation.Rule, state *automation.TriggerState, action string, build historyEventBuilder) ([]automation.TriggerEvent, error) {
	entries, err := m.upstream.ListHistory(ctx, rule.Trigger.CatalogID, "", historyPageSize)
	if err != nil {
		return nil, err
	}
	var events []automation.TriggerEvent
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.Action != action {
			continue
		}
		if !state.LastCheckedAt.IsZero() && !entry.CreatedAt.After(state.LastCheckedAt) {
			continue
		}
		fp := fingerprint(fmt.Sprintf("%s:%s:%s", rule.Trigger.Kind, entry.ItemID, entry.ID))
		if seen(state, fp) {
			continue
		}

		item, itemErr := m.resolveHistoryItem(ctx, entry, action)
		if itemErr != nil {
			continue
		}
		ev, ok := build(rule, entry, item)
		if !ok {
			continue
		}
		markSeen(state, fp)
		ev.Timestamp = time.Now().UTC()
		events = append(events, ev)
	}
	return events, nil
}

// resolveHistoryItem fetches the item a history entry refers to. DELETED
// entries are the exception: DeleteItem hard-deletes upstream, so GetItem
// would always 4xx for them. The deleted item's last-known snapshot is
// reconstructed from the entry's own ItemID/FromValue/CreatedAt instead of
// requiring a live fetch.
func (m *Manager) resolveHistoryItem(ctx context.Context, entry upstream.HistoryEntry, action string) (*automation.Item, error) {
	if action == "DELETED" {
		attrs, _ := entry.FromValue.(map[string]any)
		return &automation.Item{
			ID:              entry.ItemID,
			AttributeValues: attrs,
			CreatedAt:       entry.CreatedAt,
			UpdatedAt:       entry.CreatedAt,
		}, nil
	}
	return m.upstream.GetItem(ctx, entry.ItemID)
}

func itemUpdatedEvent(rule *automation.Rule, entry upstream.HistoryEntry, item *automation.Item) (automation.TriggerEvent, bool) {
	return automation.TriggerEvent{
		Type:           automation.TriggerItemUpdated,
		Item:           item,
		PreviousValues: previousValuesFromEntry(entry),
	}, true
}

func itemDeletedEvent(rule *automation.Rule, entry upstream.HistoryEntry, item *automation.Item) (automation.TriggerEvent, bool) {
	return automation.TriggerEvent{Type: automation.TriggerItemDeleted, Item: item}, true
}

func itemLinkedEvent(rule *automation.Rule, entry upstream.HistoryEntry, item *automation.Item) (automation.TriggerEvent, bool) {
	return automation.TriggerEvent{Type: automation.TriggerItemLinked, Item: item}, true
}

func itemUnlinkedEvent(rule *automation.Rule, entry upstream.HistoryEntry, item *automation.Item) (automation.TriggerEvent, bool) {
	return automation.TriggerEvent{Type: automation.TriggerItemUnlinked, Item: item}, true
}

func itemCommentedEvent(rule *automation.Rule, entry upstream.HistoryEntry, item *automation.Item) (automation.TriggerEvent, bool) {
	return automation.TriggerEvent{Type: automation.TriggerItemCommented, Item: item}, true
}

func referenceAddedEvent(rule *automation.Rule) historyEventBuilder {
	return func(r *automation.Rule, entry upstream.HistoryEntry, item *automation.Item) (automation.TriggerEvent, bool) {
		if rule.Trigger.ReferenceKind != "" && entry.Field != rule.Trigger.ReferenceKind {
			return automation.TriggerEvent{}, false
		}
		return automation.TriggerEvent{Type: automation.TriggerReferenceAdded, Item: item}, true
	}
}

func (m *Manager) pollAttributeChanged(ctx context.Context, rule *automation.Rule, state *automation.TriggerState) ([]automation.TriggerEvent, error) {
	return m.pollHistoryAction(ctx, rule, state, "UPDATED", func(r *automation.Rule, entry upstream.HistoryEntry, item *automation.Item) (automation.TriggerEvent, bool) {
		if r.Trigger.AttributeName != "" && entry.Field != r.Trigger.AttributeName {
			return automation.TriggerEvent{}, false
		}
		return automation.TriggerEvent{
			Type:           automation.TriggerAttributeChanged,
			Item:           item,
			PreviousValues: map[string]any{entry.Field: entry.FromValue},
		}, true
	})
}

func (m *Manager) pollStatusChanged(ctx context.Context, rule *automation.Rule, state *automation.TriggerState) ([]automation.TriggerEvent, error) {
	return m.pollHistoryAction(ctx, rule, state, "UPDATED", func(r *automation.Rule, entry upstream.HistoryEntry, item *automation.Item) (automation.TriggerEvent, bool) {
		if entry.Field != "STATUS" {
			return automation.TriggerEvent{}, false
		}
		if r.Trigger.FromStatus != "" && fmt.Sprint(entry.FromValue) != r.Trigger.FromStatus {
			return automation.TriggerEvent{}, false
		}
		if r.Trigger.ToStatus != "" && fmt.Sprint(entry.ToValue) != r.Trigger.ToStatus {
			return automation.TriggerEvent{}, false
		}
		return automation.TriggerEvent{
			Type:           automation.TriggerStatusChanged,
			Item:           item,
			PreviousValues: map[string]any{"STATUS": entry.FromValue},
		}, true
	})
}

// pollOQLMatch executes the trigger's saved query and fires according to
// TriggerOn: any_results fires whenever totalCount>0; new_results fires only
// when totalCount grows past a primed previous count; count_change fires on
// any change once primed. The first observation always primes without
// firing for new_results/count_change.
func (m *Manager) pollOQLMatch(ctx context.Context, rule *automation.Rule, state *automation.TriggerState) ([]automation.TriggerEvent, error) {
	result, err := m.upstream.ExecuteQuery(ctx, rule.WorkspaceID, rule.Trigger.Query)
	if err != nil {
		return nil, err
	}

	prevCount := -1
	if raw, ok := state.LastSeenData["oqlCount"]; ok {
		prevCount = toInt(raw)
	}
	state.LastSeenData["oqlCount"] = result.TotalCount

	fire := false
	switch rule.Trigger.TriggerOn {
	case automation.OQLPolicyAnyResults:
		fire = result.TotalCount > 0
	case automation.OQLPolicyNewResults:
		fire = prevCount >= 0 && result.TotalCount > prevCount
	case automation.OQLPolicyCountChange:
		fire = prevCount >= 0 && result.TotalCount != prevCount
	}
	if !fire {
		return nil, nil
	}
	return []automation.TriggerEvent{{
		Type:       automation.TriggerOQLMatch,
		OQLResults: result.Rows,
		Timestamp:  time.Now().UTC(),
	}}, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return -1
	}
}

// previousValuesFromEntry maps a single history entry's from-value into the
// previousValues shape condition/template consumers expect.
func previousValuesFromEntry(entry upstream.HistoryEntry) map[string]any {
	if entry.Field == "" {
		return nil
	}
	return map[string]any{entry.Field: entry.FromValue}
}
