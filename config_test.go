package adkbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictStateMapping_Payload(t *testing.T) {
	m := PredictStateMapping{
		StateKey:     "document",
		Tool:         "write_document",
		ToolArgument: "content",
		EmitConfirm:  true,
	}
	assert.Equal(t, map[string]any{
		"state_key":     "document",
		"tool":          "write_document",
		"tool_argument": "content",
	}, m.Payload())
}

func TestNormalizePredictState(t *testing.T) {
	assert.Nil(t, NormalizePredictState(nil))

	out := NormalizePredictState([]PredictStateMapping{
		{StateKey: "document", Tool: "write_document"},
		{StateKey: "", Tool: "write_document"},
		{StateKey: "outline", Tool: ""},
		{StateKey: "outline", Tool: "plan"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "document", out[0].StateKey)
	assert.Equal(t, "outline", out[1].StateKey)
}
