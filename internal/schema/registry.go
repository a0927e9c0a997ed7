package schema

import "strings"

// registryEntry pairs a model-name substring match with the Kind it maps
// to. Order matters: the first match wins, same as the teacher's
// providerConstructors map in cmd/llmrouter/main.go but expressed as a
// slice instead of a map because match order has to be deterministic.
type registryEntry struct {
	substr string
	kind   Kind
}

// defaultRegistry is the static, no-dynamic-loading adapter lookup spec
// §9 Design Notes asks for in place of runtime-loaded plugins.
var defaultRegistry = []registryEntry{
	{"llama", KindLlama},
	{"mistral", KindMistral},
	{"mixtral", KindMistral},
	{"qwen", KindQwen},
	{"gpt-", KindOpenAIStrict},
	{"o1", KindOpenAIStrict},
	{"o3", KindOpenAIStrict},
}

// KindForModel resolves the schema Kind for a model name, falling back to
// KindPassthrough when nothing matches.
func KindForModel(model string) Kind {
	lower := strings.ToLower(model)
	for _, e := range defaultRegistry {
		if strings.Contains(lower, e.substr) {
			return e.kind
		}
	}
	return KindPassthrough
}
