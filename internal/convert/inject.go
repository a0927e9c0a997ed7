package convert

import (
	"strings"

	"github.com/howard-nolan/claudeproxy/internal/anthropic"
)

// injection text is deliberately short: it rides inside a system prompt a
// caller may also be truncating, so padding it out just gives truncation
// more to cut before it reaches the caller's own instructions.
const (
	explicitInjection = "You have tools available. When a task calls for one, invoke it directly instead of describing what you would do."
	subtleInjection   = "Prefer using an available tool over describing the action in prose."
)

// shouldInject decides whether this request needs a tool-use nudge. It
// triggers when tools are offered, the per-conversation injection budget
// isn't spent, and the fraction of recent assistant turns that produced no
// tool_use block meets or exceeds injectionThreshold — i.e. the model has
// been ignoring the tools it was given. The first assistant turn in a
// conversation (no prior turns to judge) always counts as eligible so the
// nudge can apply to a fresh conversation with tools attached.
func shouldInject(req *anthropic.Request, injectedSoFar int, opts Options) bool {
	if !opts.InjectToolInstructions || len(req.Tools) == 0 {
		return false
	}
	if opts.MaxInjectionsPerConversation > 0 && injectedSoFar >= opts.MaxInjectionsPerConversation {
		return false
	}

	var assistantTurns, turnsWithoutTool int
	for _, m := range req.Messages {
		if m.Role != "assistant" {
			continue
		}
		assistantTurns++
		hasToolUse := false
		for _, b := range m.Content {
			if b.Type == "tool_use" {
				hasToolUse = true
				break
			}
		}
		if !hasToolUse {
			turnsWithoutTool++
		}
	}

	if assistantTurns == 0 {
		return true
	}
	ratio := float64(turnsWithoutTool) / float64(assistantTurns)
	return ratio >= opts.InjectionThreshold
}

// injectInstructions appends a tool-use nudge to the end of the system
// prompt text in the configured style. ToOpenAI calls it before any
// system-prompt truncation, so a truncation that keeps the head of an
// over-budget prompt (the prefix strategy) cuts the nudge.
func injectInstructions(system string, style string) string {
	text := explicitInjection
	if style == "subtle" {
		text = subtleInjection
	}
	if strings.TrimSpace(system) == "" {
		return text
	}
	return system + "\n\n" + text
}
