package llm

import "context"

// FakeProvider returns scripted responses in order, one per call, for
// deterministic tests of the research state machine and orchestrator. If
// Responses is exhausted it repeats the last entry.
type FakeProvider struct {
	Responses []string
	calls     int
	Prompts   []string // records every prompt seen, for assertions
}

func (f *FakeProvider) Complete(_ context.Context, _ string, messages []Message, _ float64) (string, error) {
	if len(messages) > 0 {
		f.Prompts = append(f.Prompts, messages[len(messages)-1].Content)
	}
	if len(f.Responses) == 0 {
		return "", nil
	}
	idx := f.calls
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	f.calls++
	return f.Responses[idx], nil
}
