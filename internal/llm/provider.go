// Package llm is the orchestrator's one seam onto the LLM SDK (§1: "the LLM
// SDK and the specific prompt text of each agent" are out of scope beyond
// this interface). Every agent role (planner, evaluator, extractor,
// synthesizer) calls Provider.Complete with its own prompt.
package llm

import "context"

// Message is a minimal chat turn; the orchestrator never needs streaming,
// tool-calling, or multi-modal content, so this stays far smaller than the
// teacher's own llm.Message.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Provider is the seam every agent role calls through.
type Provider interface {
	// Complete returns the assistant's reply text for one turn.
	Complete(ctx context.Context, model string, messages []Message, temperature float64) (string, error)
}

// ModelTier orders model identifiers from cheapest to most capable, the
// "adapter's ordered set" §4.7's mutation rules walk up or down.
type ModelTier []string

// Higher returns the next more-capable model after current, or current if
// already at the top.
func (t ModelTier) Higher(current string) string {
	for i, m := range t {
		if m == current && i+1 < len(t) {
			return t[i+1]
		}
	}
	if len(t) > 0 {
		return t[len(t)-1]
	}
	return current
}

// Lower returns the next cheaper model before current, or current if
// already at the bottom.
func (t ModelTier) Lower(current string) string {
	for i, m := range t {
		if m == current && i > 0 {
			return t[i-1]
		}
	}
	if len(t) > 0 {
		return t[0]
	}
	return current
}
