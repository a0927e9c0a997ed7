// Package schema rewrites Anthropic tool input_schema fragments into the
// restricted JSON Schema dialect a target backend accepts.
//
// Every transform is a pure function of (Kind, schema) -> schema, mirroring
// the teacher's translation functions (toGeminiRequest, toAnthropicRequest):
// no hidden state, nothing stashed on a receiver. Schemas are decoded into
// map[string]any rather than a typed JSON-Schema struct because the shapes
// tools send are open-ended and the adapter only ever needs to inspect a
// handful of keywords.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSchemaTooDeep is returned when a schema exceeds the nesting cap of
// spec §4.1.6. The caller omits the tool and logs a warning rather than
// failing the whole request.
var ErrSchemaTooDeep = errors.New("schema_too_deep")

// MaxDepth is the hard nesting-depth limit, spec §4.1.6.
const MaxDepth = 10

// Kind identifies a target backend's schema dialect.
type Kind string

const (
	KindPassthrough  Kind = "passthrough"
	KindLlama        Kind = "llama"
	KindMistral      Kind = "mistral"
	KindQwen         Kind = "qwen"
	KindOpenAIStrict Kind = "openai-strict"
)

// Options configures the adapter's numeric knobs so behaviors named in
// spec §4.1 (the nesting cap default, the description caps) aren't
// hard-coded where a deployment might reasonably want to tune them.
type Options struct {
	// NestingCapDepth is the depth below which an object schema is
	// flattened to a string description (Llama-style backends). Default 2.
	NestingCapDepth int
}

func (o Options) withDefaults() Options {
	if o.NestingCapDepth <= 0 {
		o.NestingCapDepth = 2
	}
	return o
}

// Resolve rewrites schema for the given backend kind, applying the six
// transforms of spec §4.1 in order. The input is never mutated; a deep
// copy is taken before transforms run so Resolve is safe to call
// concurrently on a tool schema shared across requests.
func Resolve(kind Kind, schema map[string]any, opts Options) (map[string]any, error) {
	opts = opts.withDefaults()
	s := deepCopy(schema)

	if err := checkDepth(s, 0); err != nil {
		return nil, err
	}

	s = resolveUnions(s)

	switch kind {
	case KindLlama:
		s = capNesting(s, 0, opts.NestingCapDepth)
	}

	switch kind {
	case KindMistral:
		truncateDescriptions(s, 100)
	case KindQwen:
		truncateDescriptions(s, 200)
	}

	s = scrubKeywords(s)

	switch kind {
	case KindLlama, KindOpenAIStrict:
		setAdditionalPropertiesFalse(s)
	case KindMistral:
		removeAdditionalProperties(s)
	}

	return s, nil
}

// checkDepth rejects a schema nested more than MaxDepth levels, spec §4.1.6.
func checkDepth(node any, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: exceeds depth %d", ErrSchemaTooDeep, MaxDepth)
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for _, v := range props {
			if err := checkDepth(v, depth+1); err != nil {
				return err
			}
		}
	}
	if items, ok := m["items"]; ok {
		if err := checkDepth(items, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// resolveUnions implements spec §4.1.1: oneOf/anyOf pick the first
// non-null-typed member and merge it into the parent; allOf unions
// properties/required; multi-valued type arrays collapse to the first
// non-"null" entry. Idempotent: a schema with none of these keywords is
// returned unchanged, and running this twice on an already-resolved schema
// is a no-op because the keywords it looks for are gone after the first
// pass.
func resolveUnions(node any) map[string]any {
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}

	if union, ok := firstSlice(m, "oneOf", "anyOf"); ok {
		delete(m, "oneOf")
		delete(m, "anyOf")
		if member := firstNonNullMember(union); member != nil {
			for k, v := range member {
				m[k] = v
			}
		}
	}

	if allOf, ok := m["allOf"].([]any); ok {
		delete(m, "allOf")
		mergedProps, _ := m["properties"].(map[string]any)
		if mergedProps == nil {
			mergedProps = map[string]any{}
		}
		requiredSet := map[string]bool{}
		for _, r := range toStringSlice(m["required"]) {
			requiredSet[r] = true
		}
		var sharedType any
		sharedTypeSet := false
		typeAgrees := true
		for _, raw := range allOf {
			member, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if props, ok := member["properties"].(map[string]any); ok {
				for k, v := range props {
					mergedProps[k] = v
				}
			}
			for _, r := range toStringSlice(member["required"]) {
				requiredSet[r] = true
			}
			if t, ok := member["type"]; ok {
				if !sharedTypeSet {
					sharedType = t
					sharedTypeSet = true
				} else if sharedType != t {
					typeAgrees = false
				}
			}
		}
		if len(mergedProps) > 0 {
			m["properties"] = mergedProps
		}
		if len(requiredSet) > 0 {
			m["required"] = sortedKeys(requiredSet)
		}
		if sharedTypeSet && typeAgrees {
			m["type"] = sharedType
		}
	}

	if types, ok := m["type"].([]any); ok {
		m["type"] = firstNonNullType(types)
	}

	if props, ok := m["properties"].(map[string]any); ok {
		for k, v := range props {
			if child := resolveUnions(v); child != nil {
				props[k] = child
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		if child := resolveUnions(items); child != nil {
			m["items"] = child
		}
	}

	return m
}

func firstSlice(m map[string]any, keys ...string) ([]any, bool) {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v, true
		}
	}
	return nil, false
}

func firstNonNullMember(union []any) map[string]any {
	for _, raw := range union {
		member, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := member["type"].(string); t == "null" {
			continue
		}
		return member
	}
	return nil
}

func firstNonNullType(types []any) string {
	for _, t := range types {
		if s, ok := t.(string); ok && s != "null" {
			return s
		}
	}
	return "string"
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// capNesting implements spec §4.1.2: any object schema below depth
// replaces itself with a flattened string placeholder.
func capNesting(node any, depth, maxDepth int) map[string]any {
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	if t, _ := m["type"].(string); t == "object" && depth >= maxDepth {
		return map[string]any{
			"type":        "string",
			"description": "JSON object (flattened)",
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for k, v := range props {
			if child := capNesting(v, depth+1, maxDepth); child != nil {
				props[k] = child
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		if child := capNesting(items, depth+1, maxDepth); child != nil {
			m["items"] = child
		}
	}
	return m
}

// truncateDescriptions implements spec §4.1.3: cap description length at
// the last sentence boundary within the cap, else hard-cut with ellipsis.
func truncateDescriptions(node any, max int) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	if desc, ok := m["description"].(string); ok && len(desc) > max {
		m["description"] = truncateAtSentence(desc, max)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for _, v := range props {
			truncateDescriptions(v, max)
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		truncateDescriptions(items, max)
	}
}

func truncateAtSentence(s string, max int) string {
	if len(s) <= max {
		return s
	}
	window := s[:max]
	if idx := strings.LastIndexAny(window, ".!?"); idx >= 0 {
		return window[:idx+1]
	}
	if max <= 1 {
		return "…"
	}
	return strings.TrimSpace(window[:max-1]) + "…"
}

// scrubKeywords implements spec §4.1.4: drop self-referencing $ref, drop
// propertyNames without a pattern, drop unknown format values.
var knownFormats = map[string]bool{
	"date-time": true, "date": true, "time": true, "email": true,
	"uri": true, "uuid": true, "ipv4": true, "ipv6": true,
}

func scrubKeywords(node any) map[string]any {
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	if ref, ok := m["$ref"].(string); ok && (ref == "#" || ref == "#/") {
		delete(m, "$ref")
	}
	if pn, ok := m["propertyNames"].(map[string]any); ok {
		if _, hasPattern := pn["pattern"]; !hasPattern {
			delete(m, "propertyNames")
		}
	}
	if f, ok := m["format"].(string); ok && !knownFormats[f] {
		delete(m, "format")
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for k, v := range props {
			if child := scrubKeywords(v); child != nil {
				props[k] = child
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		if child := scrubKeywords(items); child != nil {
			m["items"] = child
		}
	}
	return m
}

// setAdditionalPropertiesFalse and removeAdditionalProperties implement
// spec §4.1.5 for backends that require or reject the keyword.
func setAdditionalPropertiesFalse(node any) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	if t, _ := m["type"].(string); t == "object" {
		m["additionalProperties"] = false
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for _, v := range props {
			setAdditionalPropertiesFalse(v)
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		setAdditionalPropertiesFalse(items)
	}
}

func removeAdditionalProperties(node any) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	delete(m, "additionalProperties")
	if props, ok := m["properties"].(map[string]any); ok {
		for _, v := range props {
			removeAdditionalProperties(v)
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		removeAdditionalProperties(items)
	}
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
