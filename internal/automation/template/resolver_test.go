package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onstaq/automation-engine/internal/automation"
)

func newTestContext() *automation.ExecutionContext {
	return &automation.ExecutionContext{
		RuleID:      "rule-1",
		WorkspaceID: "ws-1",
		Variables:   map[string]any{},
		Trigger: automation.TriggerEvent{
			Type: automation.TriggerItemCreated,
			Item: &automation.Item{
				ID:  "item-1",
				Key: "TCK-1",
				AttributeValues: map[string]any{
					"Reporter": "Alice",
					"Tags":     []any{"a", "b", "c"},
				},
			},
		},
	}
}

func TestResolveStringPlainDottedPath(t *testing.T) {
	r := NewResolver(nil)
	out, err := r.ResolveString(context.Background(), newTestContext(), "Thanks, {{trigger.item.attributes.Reporter}}")
	require.NoError(t, err)
	assert.Equal(t, "Thanks, Alice", out)
}

func TestResolveStringPipelineWithFunctions(t *testing.T) {
	r := NewResolver(nil)
	out, err := r.ResolveString(context.Background(), newTestContext(), `{{trigger.item.attributes.Tags | join(" / ") | toUpperCase}}`)
	require.NoError(t, err)
	assert.Equal(t, "A / B / C", out)
}

func TestResolveStringPipeNullCoalescing(t *testing.T) {
	r := NewResolver(nil)
	ctx := newTestContext()
	out, err := r.ResolveString(context.Background(), ctx, `{{trigger.item.attributes.Missing | "fallback"}}`)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestResolveStringDivisionByZeroFailsAction(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.ResolveString(context.Background(), newTestContext(), "{{1 / 0}}")
	require.Error(t, err)
}

func TestResolveStringEachBlockEquivalentToMapJoin(t *testing.T) {
	ctx := newTestContext()
	r := NewResolver(nil)

	eachOut, err := r.ResolveString(context.Background(), ctx, "{{#each trigger.item.attributes.Tags}}{{currentItem}}{{/each}}")
	require.NoError(t, err)

	pipelineOut, err := r.ResolveString(context.Background(), ctx, `{{trigger.item.attributes.Tags | join("")}}`)
	require.NoError(t, err)

	assert.Equal(t, pipelineOut, eachOut)
}

func TestResolveStringIfElse(t *testing.T) {
	ctx := newTestContext()
	ctx.Trigger.ManualParameters = map[string]any{"p": "yes"}
	r := NewResolver(nil)

	out, err := r.ResolveString(context.Background(), ctx, `{{#if trigger.manualParameters.p == "yes"}}Y{{else}}N{{/if}}`)
	require.NoError(t, err)
	assert.Equal(t, "Y", out)

	ctx.Trigger.ManualParameters = map[string]any{"p": "no"}
	out, err = r.ResolveString(context.Background(), ctx, `{{#if trigger.manualParameters.p == "yes"}}Y{{else}}N{{/if}}`)
	require.NoError(t, err)
	assert.Equal(t, "N", out)
}

func TestResolveStringPurityAcrossInvocations(t *testing.T) {
	r := NewResolver(nil)
	ctx := newTestContext()
	first, err := r.ResolveString(context.Background(), ctx, "{{trigger.item.key}}-{{trigger.item.attributes.Reporter}}")
	require.NoError(t, err)
	second, err := r.ResolveString(context.Background(), ctx, "{{trigger.item.key}}-{{trigger.item.attributes.Reporter}}")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveDeepWalksNestedStructures(t *testing.T) {
	r := NewResolver(nil)
	ctx := newTestContext()
	input := map[string]any{
		"title": "{{trigger.item.key}}",
		"tags":  []any{"{{trigger.item.attributes.Reporter}}", "static"},
	}
	out, err := r.ResolveDeep(context.Background(), ctx, input)
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "TCK-1", m["title"])
	tags := m["tags"].([]any)
	assert.Equal(t, "Alice", tags[0])
	assert.Equal(t, "static", tags[1])
}

func TestLooseEqualsCaseInsensitive(t *testing.T) {
	assert.True(t, looseEquals("Open", "open"))
	assert.False(t, looseEquals("Open", "Closed"))
}
