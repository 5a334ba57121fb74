package research

import (
	"context"
	"strings"
	"testing"

	"probe/internal/runctx"
	"probe/internal/sse"
	"probe/internal/store"
	"probe/internal/toolcontract"
)

// fakeSearch returns queue[i] for the i-th call, cycling if exhausted.
type fakeSearch struct {
	queue  [][]store.Source
	calls  int
	failOn map[int]bool
}

func (f *fakeSearch) Search(_ context.Context, args toolcontract.SearchArgs) ([]store.Source, error) {
	i := f.calls
	f.calls++
	if f.failOn[i] {
		return nil, context.DeadlineExceeded
	}
	if i >= len(f.queue) {
		return nil, nil
	}
	return f.queue[i], nil
}

// fakeEvaluate marks relevant by URL membership in the relevant set.
type fakeEvaluate struct {
	relevant map[string]bool
}

func (f *fakeEvaluate) Evaluate(_ context.Context, args toolcontract.EvaluateArgs) ([]toolcontract.EvalVerdict, error) {
	out := make([]toolcontract.EvalVerdict, len(args.Candidates))
	for i, c := range args.Candidates {
		out[i] = toolcontract.EvalVerdict{URL: c.URL, IsRelevant: f.relevant[c.URL]}
	}
	return out, nil
}

// fakeExtract returns a fixed learning and follow-ups per URL.
type fakeExtract struct {
	learnings map[string]string
	followups map[string][]string
}

func (f *fakeExtract) Extract(_ context.Context, args toolcontract.ExtractArgs) (toolcontract.ExtractResult, error) {
	return toolcontract.ExtractResult{
		Learning:          f.learnings[args.Source.URL],
		FollowUpQuestions: f.followups[args.Source.URL],
	}, nil
}

type fakeSynthesize struct {
	out string
}

func (f *fakeSynthesize) Synthesize(context.Context, toolcontract.SynthesizeArgs) (string, error) {
	return f.out, nil
}

type fakePlan struct {
	queries []string
}

func (f *fakePlan) Reformulate(_ context.Context, query string, count int) ([]string, error) {
	if len(f.queries) >= count {
		return f.queries[:count], nil
	}
	return f.queries, nil
}

func srcs(urls ...string) []store.Source {
	out := make([]store.Source, len(urls))
	for i, u := range urls {
		out[i] = store.Source{Title: u, URL: u, Content: "content for " + u}
	}
	return out
}

func newEC(cfg store.StrategyConfig) *runctx.EpisodeContext {
	return runctx.NewEpisodeContext("ep1", "topic1", "trace1", 1, cfg)
}

func TestHappyPathStandardDepth(t *testing.T) {
	cfg := store.DefaultConfig("gpt-test")
	search := &fakeSearch{queue: [][]store.Source{
		srcs("https://a", "https://b"),
		srcs("https://c"),
		srcs("https://d", "https://e"), // phase 2
	}}
	eval := &fakeEvaluate{relevant: map[string]bool{
		"https://a": true, "https://b": true, "https://d": true,
	}}
	extract := &fakeExtract{
		learnings: map[string]string{
			"https://a": "learning a", "https://b": "learning b", "https://d": "learning d",
		},
		followups: map[string][]string{
			"https://a": {"follow a1"},
			"https://b": {"follow b1"},
		},
	}
	synth := &fakeSynthesize{out: "# Note\n\nsynthesized"}
	plan := &fakePlan{queries: []string{"q1", "q2"}}

	contracts := toolcontract.New(search, eval, extract, synth, plan, nil)
	runner := NewRunner(contracts, nil)
	ec := newEC(cfg)
	bus := sse.NewBus()
	go bus.Drain()

	res, err := runner.Run(context.Background(), ec, bus, "what are agent planners?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.SourcesReturned) != 5 {
		t.Fatalf("expected 5 sources returned, got %d: %v", len(res.SourcesReturned), res.SourcesReturned)
	}
	if len(res.SourcesSaved) != 3 {
		t.Fatalf("expected 3 sources saved, got %d", len(res.SourcesSaved))
	}
	toolUsage, followups, _, _, toolErrors := ec.Metrics.Snapshot()
	if toolUsage["search"] != 3 {
		t.Fatalf("expected 3 search invocations (2 phase-1 reformulations + 1 phase-2), got %d", toolUsage["search"])
	}
	if toolUsage["evaluate"] != 2 {
		t.Fatalf("expected 2 evaluate invocations, got %d", toolUsage["evaluate"])
	}
	if toolUsage["extract"] != 3 {
		t.Fatalf("expected 3 extract invocations, got %d", toolUsage["extract"])
	}
	if followups != 2 {
		t.Fatalf("expected followupCount 2, got %d", followups)
	}
	if toolErrors != 0 {
		t.Fatalf("expected no tool errors, got %d", toolErrors)
	}
	if !strings.Contains(res.NoteContent, "synthesized") {
		t.Fatalf("unexpected note content: %q", res.NoteContent)
	}
}

func TestDuplicateURLDedup(t *testing.T) {
	cfg := store.DefaultConfig("gpt-test")
	search := &fakeSearch{queue: [][]store.Source{
		srcs("https://a"),
		srcs("https://a"), // same URL again
	}}
	eval := &fakeEvaluate{relevant: map[string]bool{}}
	extract := &fakeExtract{}
	synth := &fakeSynthesize{out: "note"}
	plan := &fakePlan{queries: []string{"q1", "q2"}}

	contracts := toolcontract.New(search, eval, extract, synth, plan, nil)
	runner := NewRunner(contracts, nil)
	ec := newEC(cfg)
	bus := sse.NewBus()
	go bus.Drain()

	res, err := runner.Run(context.Background(), ec, bus, "dup query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.SourcesReturned) != 1 {
		t.Fatalf("expected exactly one deduped source, got %d", len(res.SourcesReturned))
	}
}

func TestPhase2NeverSpawnsPhase3(t *testing.T) {
	cfg := store.DefaultConfig("gpt-test")
	cfg.SearchDepth = store.DepthDeep // total follow-up ceiling 8, so phase 1's one follow-up opens phase 2
	search := &fakeSearch{queue: [][]store.Source{
		srcs("https://a"),
		srcs("https://p2a"), // phase 2 search
	}}
	eval := &fakeEvaluate{relevant: map[string]bool{"https://a": true, "https://p2a": true}}
	extract := &fakeExtract{
		learnings: map[string]string{"https://a": "l1", "https://p2a": "l2"},
		followups: map[string][]string{
			"https://a":    {"f1"},
			"https://p2a":  {"f2", "f3", "f4"}, // phase 2 extract yields new follow-ups
		},
	}
	synth := &fakeSynthesize{out: "note"}
	plan := &fakePlan{queries: []string{"q1"}}

	contracts := toolcontract.New(search, eval, extract, synth, plan, nil)
	runner := NewRunner(contracts, nil)
	ec := newEC(cfg)
	bus := sse.NewBus()
	go bus.Drain()

	_, err := runner.Run(context.Background(), ec, bus, "phase2 query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	toolUsage, _, _, _, _ := ec.Metrics.Snapshot()
	// Exactly 2 search calls total (phase1 + phase2), never a third.
	if toolUsage["search"] != 2 {
		t.Fatalf("expected exactly 2 search invocations (no phase 3), got %d", toolUsage["search"])
	}
}

func TestZeroSearchResultsSkipsToSynthesize(t *testing.T) {
	cfg := store.DefaultConfig("gpt-test")
	search := &fakeSearch{queue: [][]store.Source{{}}}
	eval := &fakeEvaluate{}
	extract := &fakeExtract{}
	synth := &fakeSynthesize{out: "no evidence found"}
	plan := &fakePlan{queries: []string{"q1"}}

	contracts := toolcontract.New(search, eval, extract, synth, plan, nil)
	runner := NewRunner(contracts, nil)
	ec := newEC(cfg)
	bus := sse.NewBus()
	go bus.Drain()

	res, err := runner.Run(context.Background(), ec, bus, "empty query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.SourcesReturned) != 0 {
		t.Fatalf("expected zero sources, got %d", len(res.SourcesReturned))
	}
	if res.NoteContent != "no evidence found" {
		t.Fatalf("unexpected note content: %q", res.NoteContent)
	}
}

func TestSearchFailureAllReformulationsFailsEpisode(t *testing.T) {
	cfg := store.DefaultConfig("gpt-test")
	search := &fakeSearch{queue: [][]store.Source{{}, {}}, failOn: map[int]bool{0: true, 1: true}}
	eval := &fakeEvaluate{}
	extract := &fakeExtract{}
	synth := &fakeSynthesize{out: "note"}
	plan := &fakePlan{queries: []string{"q1", "q2"}}

	contracts := toolcontract.New(search, eval, extract, synth, plan, nil)
	runner := NewRunner(contracts, nil)
	ec := newEC(cfg)
	bus := sse.NewBus()
	go bus.Drain()

	_, err := runner.Run(context.Background(), ec, bus, "all fail")
	if err == nil {
		t.Fatal("expected error when every phase-1 reformulation fails")
	}
}
