// Package convert translates between the Anthropic message/content-block
// model clients speak and the OpenAI chat-completion model backends speak.
//
// Every translation is a plain function, the same shape as the teacher's
// toAnthropicRequest/toGeminiRequest: no receivers holding request state,
// no inheritance between request kinds. Enriched with the tool-call and
// tool-result correlation logic the teacher's two-provider version never
// needed, learned from orchestre-dev-ccproxy's transformer.
package convert

import "errors"

// Sentinel errors surfaced per spec §4.2.
var (
	// ErrUnsupportedContentType is returned when a content block variant
	// has no OpenAI equivalent (e.g. a document block).
	ErrUnsupportedContentType = errors.New("unsupported_content_type")

	// ErrToolResultOrphan is returned when a tool_result block references
	// a tool_use_id never seen earlier in the conversation.
	ErrToolResultOrphan = errors.New("tool_result_orphan")

	// ErrSystemPromptTooMany is returned in strict mode when more than one
	// system block arrives where the target expects exactly one.
	ErrSystemPromptTooMany = errors.New("system_prompt_too_many")

	// ErrToolArgsMalformed marks a tool_calls[].function.arguments string
	// that failed to parse as JSON; the caller substitutes {} and keeps
	// going rather than failing the whole response.
	ErrToolArgsMalformed = errors.New("tool_args_malformed")
)
