package execctx_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/execctx"
)

func newCtx() *domain.ExecutionContext {
	ctx := domain.NewExecutionContext("org1", "emp1", domain.TriggerEvent{Type: domain.TriggerOnboard}, "corr1")
	ctx.Variables["region"] = "us-east"
	ctx.Secrets["api_key"] = "sk-super-secret"
	return ctx
}

func TestResolveMappings_Static(t *testing.T) {
	ctx := newCtx()
	mappings := []domain.ParameterMapping{
		{SourceType: domain.SourceStatic, SourcePath: `{"foo":"bar"}`, TargetPath: "payload"},
		{SourceType: domain.SourceStatic, SourcePath: "plain-string", TargetPath: "note"},
	}
	input, err := execctx.ResolveMappings(mappings, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain-string", input["note"])
	assert.Equal(t, map[string]any{"foo": "bar"}, input["payload"])
}

func TestResolveMappings_Context(t *testing.T) {
	ctx := newCtx()
	mappings := []domain.ParameterMapping{
		{SourceType: domain.SourceContext, SourcePath: "region", TargetPath: "location"},
	}
	input, err := execctx.ResolveMappings(mappings, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "us-east", input["location"])
}

func TestResolveMappings_NodeOutput(t *testing.T) {
	ctx := newCtx()
	outputs := map[string]domain.Variables{
		"A": {"sent": true, "messageId": "m-1"},
	}
	mappings := []domain.ParameterMapping{
		{SourceType: domain.SourceNodeOutput, SourcePath: "A.messageId", TargetPath: "refId"},
	}
	input, err := execctx.ResolveMappings(mappings, ctx, outputs)
	require.NoError(t, err)
	assert.Equal(t, "m-1", input["refId"])
}

func TestResolveMappings_RequiredMissingErrors(t *testing.T) {
	ctx := newCtx()
	mappings := []domain.ParameterMapping{
		{SourceType: domain.SourceContext, SourcePath: "does.not.exist", TargetPath: "x", Required: true},
	}
	_, err := execctx.ResolveMappings(mappings, ctx, nil)
	require.Error(t, err)
	var target *execctx.ErrMissingRequiredParameter
	assert.ErrorAs(t, err, &target)
}

func TestResolveMappings_DefaultValueUsedWhenAbsent(t *testing.T) {
	ctx := newCtx()
	mappings := []domain.ParameterMapping{
		{SourceType: domain.SourceContext, SourcePath: "missing", TargetPath: "x", DefaultValue: "fallback"},
	}
	input, err := execctx.ResolveMappings(mappings, ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", input["x"])
}

func TestContextRedaction(t *testing.T) {
	ctx := newCtx()
	serialized := ctx.Serialize()
	assert.Equal(t, domain.RedactedSecret, serialized.Secrets["api_key"])

	restored := domain.Deserialize(serialized)
	assert.Empty(t, restored.Secrets)
}
