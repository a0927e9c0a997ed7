package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_UnionResolution(t *testing.T) {
	in := map[string]any{
		"oneOf": []any{
			map[string]any{"type": "null"},
			map[string]any{"type": "string", "description": "a name"},
		},
	}
	out, err := Resolve(KindPassthrough, in, Options{})
	require.NoError(t, err)
	assert.Equal(t, "string", out["type"])
	assert.Equal(t, "a name", out["description"])
	_, hasOneOf := out["oneOf"]
	assert.False(t, hasOneOf)
}

func TestResolve_UnionResolution_NoOp(t *testing.T) {
	in := map[string]any{"type": "string"}
	out, err := Resolve(KindPassthrough, in, Options{})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestResolve_AllOfMergesPropertiesAndRequired(t *testing.T) {
	in := map[string]any{
		"allOf": []any{
			map[string]any{
				"type":       "object",
				"properties": map[string]any{"a": map[string]any{"type": "string"}},
				"required":   []any{"a"},
			},
			map[string]any{
				"type":       "object",
				"properties": map[string]any{"b": map[string]any{"type": "integer"}},
				"required":   []any{"a", "b"},
			},
		},
	}
	out, err := Resolve(KindPassthrough, in, Options{})
	require.NoError(t, err)
	props := out["properties"].(map[string]any)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.ElementsMatch(t, []string{"a", "b"}, out["required"].([]string))
	assert.Equal(t, "object", out["type"])
}

func TestResolve_MultiValuedTypeCollapses(t *testing.T) {
	in := map[string]any{"type": []any{"null", "string"}}
	out, err := Resolve(KindPassthrough, in, Options{})
	require.NoError(t, err)
	assert.Equal(t, "string", out["type"])
}

func TestResolve_NestingCapLlama(t *testing.T) {
	in := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"outer": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"inner": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"leaf": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	}
	out, err := Resolve(KindLlama, in, Options{NestingCapDepth: 2})
	require.NoError(t, err)
	inner := out["properties"].(map[string]any)["outer"].(map[string]any)["properties"].(map[string]any)["inner"].(map[string]any)
	assert.Equal(t, "string", inner["type"])
	assert.Equal(t, "JSON object (flattened)", inner["description"])
}

func TestResolve_DescriptionTruncationMistral(t *testing.T) {
	long := "This is a very long description that goes well beyond one hundred characters in total length for sure. It keeps going."
	in := map[string]any{"type": "string", "description": long}
	out, err := Resolve(KindMistral, in, Options{})
	require.NoError(t, err)
	desc := out["description"].(string)
	assert.LessOrEqual(t, len(desc), 101)
}

func TestResolve_DescriptionTruncationQwenCap200(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "word "
	}
	in := map[string]any{"type": "string", "description": long}
	out, err := Resolve(KindQwen, in, Options{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out["description"].(string)), 201)
}

func TestResolve_ScrubSelfReferencingRef(t *testing.T) {
	in := map[string]any{"$ref": "#", "type": "object"}
	out, err := Resolve(KindPassthrough, in, Options{})
	require.NoError(t, err)
	_, has := out["$ref"]
	assert.False(t, has)
}

func TestResolve_ScrubUnknownFormat(t *testing.T) {
	in := map[string]any{"type": "string", "format": "exotic-format"}
	out, err := Resolve(KindPassthrough, in, Options{})
	require.NoError(t, err)
	_, has := out["format"]
	assert.False(t, has)
}

func TestResolve_AdditionalPropertiesPolicy(t *testing.T) {
	in := map[string]any{"type": "object", "properties": map[string]any{}}

	llama, err := Resolve(KindLlama, in, Options{})
	require.NoError(t, err)
	assert.Equal(t, false, llama["additionalProperties"])

	in2 := map[string]any{"type": "object", "additionalProperties": false}
	mistral, err := Resolve(KindMistral, in2, Options{})
	require.NoError(t, err)
	_, has := mistral["additionalProperties"]
	assert.False(t, has)
}

func TestResolve_DepthLimitRejected(t *testing.T) {
	node := map[string]any{"type": "string"}
	for i := 0; i < MaxDepth+2; i++ {
		node = map[string]any{
			"type":       "object",
			"properties": map[string]any{"child": node},
		}
	}
	_, err := Resolve(KindPassthrough, node, Options{})
	assert.ErrorIs(t, err, ErrSchemaTooDeep)
}

func TestResolve_Idempotent(t *testing.T) {
	in := map[string]any{
		"oneOf": []any{
			map[string]any{"type": "null"},
			map[string]any{"type": "string"},
		},
	}
	once, err := Resolve(KindLlama, in, Options{})
	require.NoError(t, err)
	twice, err := Resolve(KindLlama, once, Options{})
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestKindForModel(t *testing.T) {
	assert.Equal(t, KindLlama, KindForModel("llama-3.1-70b"))
	assert.Equal(t, KindMistral, KindForModel("mistral-large"))
	assert.Equal(t, KindQwen, KindForModel("Qwen2.5-Coder"))
	assert.Equal(t, KindOpenAIStrict, KindForModel("gpt-4o"))
	assert.Equal(t, KindPassthrough, KindForModel("claude-haiku-4-5"))
}
