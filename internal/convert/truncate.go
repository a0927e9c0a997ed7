package convert

import "strings"

// TruncateStrategy selects how the system prompt is cut down to fit
// system_prompt_max_tokens when truncate_system_prompt is enabled (spec
// §4.2, §6).
type TruncateStrategy string

const (
	// TruncatePrefix keeps the leading portion of the prompt.
	TruncatePrefix TruncateStrategy = "prefix"
	// TruncateTail keeps the trailing portion of the prompt.
	TruncateTail TruncateStrategy = "tail"
	// TruncateSummary keeps both ends and collapses the middle into a
	// marker, trading exactness for retaining the prompt's framing and
	// its most recent instructions.
	TruncateSummary TruncateStrategy = "summary"
)

// approxTokens estimates a token count from rune length. The pack carries
// no tokenizer library for counting tokens against the exact vocabulary a
// given backend uses, and the safety net this strategy implements only
// needs to be conservative, not exact, so a 4-characters-per-token
// heuristic (the commonly quoted rule of thumb for English text) stands
// in for a real tokenizer here.
func approxTokens(s string) int {
	n := len([]rune(s)) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// truncateSystem cuts text down to approximately maxTokens using strategy.
// A text already within budget is returned unchanged.
func truncateSystem(text string, strategy TruncateStrategy, maxTokens int) string {
	if maxTokens <= 0 || approxTokens(text) <= maxTokens {
		return text
	}
	maxChars := maxTokens * 4
	runes := []rune(text)
	if maxChars >= len(runes) {
		return text
	}

	switch strategy {
	case TruncateTail:
		return strings.TrimSpace(string(runes[len(runes)-maxChars:]))
	case TruncateSummary:
		half := maxChars / 2
		if half == 0 {
			return string(runes[:maxChars])
		}
		head := strings.TrimSpace(string(runes[:half]))
		tail := strings.TrimSpace(string(runes[len(runes)-half:]))
		return head + "\n...[truncated]...\n" + tail
	case TruncatePrefix:
		fallthrough
	default:
		return strings.TrimSpace(string(runes[:maxChars]))
	}
}
