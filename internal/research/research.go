// Package research implements the two-phase Research State Machine
// (§4.3): INIT -> [SENSO_LOOKUP] -> PHASE1_{SEARCH,EVALUATE,EXTRACT} ->
// [PHASE2_{SEARCH,EVALUATE,EXTRACT}] -> SYNTHESIZE -> DONE|FAILED.
//
// Phase 2 never spawns a phase 3; this is a hard rule enforced by the
// Runner's shape, not a counter that could be defeated by a bad config.
package research

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"probe/internal/apperr"
	"probe/internal/runctx"
	"probe/internal/sse"
	"probe/internal/store"
	"probe/internal/toolcontract"
	"probe/internal/vectorstore"
)

// Result is everything the orchestrator needs to write the terminal
// Episode and Note once the state machine reaches DONE.
type Result struct {
	SourcesReturned []store.Source
	SourcesSaved    []store.Source
	NoteContent     string
}

// Runner drives one episode through the state machine. Knowledge may be
// nil; SENSO_LOOKUP and the synthesize-time supplemental retrieval are
// both skipped when so.
type Runner struct {
	Contracts *toolcontract.Contracts
	Knowledge vectorstore.KnowledgeStore
}

// NewRunner constructs a Runner. knowledge may be nil to disable senso.
func NewRunner(contracts *toolcontract.Contracts, knowledge vectorstore.KnowledgeStore) *Runner {
	return &Runner{Contracts: contracts, Knowledge: knowledge}
}

// accumulator carries everything the machine threads between phases.
type accumulator struct {
	seenURLs        map[string]bool
	sourcesReturned []store.Source
	relevant        []store.Source
	saved           []store.Source
	learnings       []string
	queries         []string
	followups       []string
	followupTotal   int
}

func newAccumulator() *accumulator {
	return &accumulator{seenURLs: make(map[string]bool)}
}

// Run executes the full state machine for one query and returns the
// synthesized result, or an error if the episode must fail (§7).
func (r *Runner) Run(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, query string) (Result, error) {
	acc := newAccumulator()

	if ec.Cancelled() {
		return Result{}, apperr.New(apperr.CancelledByCaller, "cancelled")
	}

	hitChunks, hit := r.sensoLookup(ctx, ec, bus, query)
	if hit {
		r.ingestSensoHit(acc, hitChunks)
	} else {
		if err := r.phase1Search(ctx, ec, bus, acc, query); err != nil {
			return Result{}, err
		}
	}

	bus.Publish(sse.Event{Type: sse.EventProgress, Phase: "PHASE1_EVALUATE", Step: 1, Total: 3})
	verdicts, err := r.evaluate(ctx, ec, bus, acc, query, acc.sourcesReturned)
	if err != nil {
		return Result{}, err
	}

	bus.Publish(sse.Event{Type: sse.EventProgress, Phase: "PHASE1_EXTRACT", Step: 2, Total: 3})
	r.extract(ctx, ec, bus, acc, query, verdicts)

	if r.phase2Eligible(ec, acc) {
		if err := r.phase2(ctx, ec, bus, acc, query); err != nil {
			return Result{}, err
		}
	}

	bus.Publish(sse.Event{Type: sse.EventProgress, Phase: "SYNTHESIZE", Step: 3, Total: 3})
	content, err := r.synthesize(ctx, ec, bus, acc, query)
	if err != nil {
		return Result{}, err
	}

	ec.Metrics.AddFollowups(acc.followupTotal)
	return Result{
		SourcesReturned: acc.sourcesReturned,
		SourcesSaved:    acc.saved,
		NoteContent:     content,
	}, nil
}

// sensoLookup runs SENSO_LOOKUP iff config.sensoFirst and a knowledge
// store is wired. A "strong hit" is >=1 chunk scoring at or above
// vectorstore.RelevanceCutoff.
func (r *Runner) sensoLookup(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, query string) ([]vectorstore.Chunk, bool) {
	if !ec.Config.SensoFirst || r.Knowledge == nil {
		return nil, false
	}
	if ec.Cancelled() {
		return nil, false
	}
	bus.Publish(sse.Event{Type: sse.EventToolCall, Tool: "senso_query", Args: map[string]any{"query": query}})
	chunks, err := r.Knowledge.Query(ctx, query, toolcontract.ResultCount(ec.Config.SearchDepth))
	if err != nil {
		bus.Publish(sse.Event{Type: sse.EventToolError, Tool: "senso_query", Error: err.Error()})
		return nil, false
	}
	strong := make([]vectorstore.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Score >= vectorstore.RelevanceCutoff {
			strong = append(strong, c)
		}
	}
	bus.Publish(sse.Event{Type: sse.EventToolResult, Tool: "senso_query", Result: "ok"})
	if len(strong) == 0 {
		return nil, false
	}
	ec.Metrics.MarkSensoSearch()
	return strong, true
}

func (r *Runner) ingestSensoHit(acc *accumulator, chunks []vectorstore.Chunk) {
	for _, c := range chunks {
		if acc.seenURLs[c.URL] {
			continue
		}
		acc.seenURLs[c.URL] = true
		acc.sourcesReturned = append(acc.sourcesReturned, store.Source{Title: c.Title, URL: c.URL, Content: c.Text})
	}
}

// phase1Search issues 2-3 reformulations and merges their results
// deterministically by URL-then-submission-order (§5).
func (r *Runner) phase1Search(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, acc *accumulator, query string) error {
	reformulations, err := r.Contracts.DoReformulate(ctx, ec, query)
	if err != nil || len(reformulations) == 0 {
		reformulations = []string{query}
	}
	acc.queries = append(acc.queries, reformulations...)

	type outcome struct {
		idx     int
		sources []store.Source
		err     error
	}
	outcomes := make([]outcome, len(reformulations))

	if ec.Config.ParallelSearches && len(reformulations) > 1 {
		fanout := len(reformulations)
		if fanout > 4 {
			fanout = 4
		}
		// Plain errgroup.Group (no WithContext): one reformulation failing
		// must not cancel the others, so nothing here ever returns a
		// non-nil error from Go - each outcome, success or failure, is
		// recorded directly into its slot.
		var g errgroup.Group
		g.SetLimit(fanout)
		for i, q := range reformulations {
			i, q := i, q
			g.Go(func() error {
				srcs, err := r.Contracts.DoSearch(ctx, ec, bus, q)
				outcomes[i] = outcome{idx: i, sources: srcs, err: err}
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, q := range reformulations {
			srcs, err := r.Contracts.DoSearch(ctx, ec, bus, q)
			outcomes[i] = outcome{idx: i, sources: srcs, err: err}
		}
	}

	failures := 0
	for _, o := range outcomes {
		if o.err != nil {
			failures++
		}
	}
	if failures == len(outcomes) {
		// §7: if phase 1 and this is the only reformulation, fail episode;
		// the same rule extends to "all reformulations failed".
		return outcomes[0].err
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].idx < outcomes[j].idx })
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		for _, src := range o.sources {
			if acc.seenURLs[src.URL] {
				continue
			}
			acc.seenURLs[src.URL] = true
			acc.sourcesReturned = append(acc.sourcesReturned, src)
		}
	}
	return nil
}

// evaluate scores every source it is given; URLs already seen in this
// episode are filtered out by the caller before they reach it.
func (r *Runner) evaluate(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, acc *accumulator, query string, sources []store.Source) ([]toolcontract.EvalVerdict, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	candidates := make([]toolcontract.EvalCandidate, 0, len(sources))
	for _, s := range sources {
		preview := s.Content
		budget := toolcontract.SummaryCharBudget(ec.Config.SearchDepth)
		if len(preview) > budget {
			preview = preview[:budget]
		}
		candidates = append(candidates, toolcontract.EvalCandidate{Title: s.Title, URL: s.URL, ContentPreview: preview})
	}
	verdicts, err := r.Contracts.DoEvaluate(ctx, ec, bus, query, candidates)
	if err != nil {
		return nil, err
	}
	return verdicts, nil
}

// extract runs PHASE1_EXTRACT/PHASE2_EXTRACT over results marked relevant.
func (r *Runner) extract(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, acc *accumulator, query string, verdicts []toolcontract.EvalVerdict) {
	byURL := make(map[string]store.Source, len(acc.sourcesReturned))
	for _, s := range acc.sourcesReturned {
		byURL[s.URL] = s
	}
	for _, v := range verdicts {
		if !v.IsRelevant {
			continue
		}
		src, ok := byURL[v.URL]
		if !ok {
			continue
		}
		acc.relevant = append(acc.relevant, src)

		res, err := r.Contracts.DoExtract(ctx, ec, bus, query, src)
		if err != nil {
			continue
		}
		if res.Learning == "" {
			// §4.3 edge case: counted as returned, never saved.
			continue
		}
		acc.learnings = append(acc.learnings, res.Learning)
		acc.saved = append(acc.saved, src)
		acc.followups = append(acc.followups, res.FollowUpQuestions...)
		acc.followupTotal += len(res.FollowUpQuestions)
	}
}

// phase2Eligible implements the PHASE2_SEARCH gate of §4.3: non-empty
// accumulated follow-ups and the running total still under the
// configured (clamped) ceiling.
func (r *Runner) phase2Eligible(ec *runctx.EpisodeContext, acc *accumulator) bool {
	if len(acc.followups) == 0 {
		return false
	}
	ceiling := toolcontract.MaxTotalFollowups(ec.Config)
	return acc.followupTotal < ceiling
}

// phase2 runs PHASE2_SEARCH/EVALUATE/EXTRACT exactly once; nothing in
// this function triggers a further phase regardless of new follow-ups.
func (r *Runner) phase2(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, acc *accumulator, originalQuery string) error {
	disjunction := strings.Join(acc.followups, " OR ")
	acc.followups = nil // phase 2's own extract may append more; never re-consumed
	acc.queries = append(acc.queries, disjunction)

	sources, err := r.Contracts.DoSearch(ctx, ec, bus, disjunction)
	if err != nil {
		return err
	}
	novel := make([]store.Source, 0, len(sources))
	for _, s := range sources {
		if acc.seenURLs[s.URL] {
			continue
		}
		acc.seenURLs[s.URL] = true
		acc.sourcesReturned = append(acc.sourcesReturned, s)
		novel = append(novel, s)
	}
	if len(novel) == 0 {
		return nil
	}

	verdicts, err := r.evaluate(ctx, ec, bus, acc, originalQuery, novel)
	if err != nil {
		return err
	}
	r.extract(ctx, ec, bus, acc, originalQuery, verdicts)
	return nil
}

// synthesize produces the final markdown. It may perform one extra
// knowledge-store retrieval to refine context (sensoGenerateUsed).
func (r *Runner) synthesize(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, acc *accumulator, query string) (string, error) {
	var additional []string
	if r.Knowledge != nil && !ec.Cancelled() {
		chunks, err := r.Knowledge.Query(ctx, query, 3)
		if err == nil && len(chunks) > 0 {
			ec.Metrics.MarkSensoGenerate()
			for _, c := range chunks {
				additional = append(additional, c.Text)
			}
		}
	}
	args := toolcontract.SynthesizeArgs{
		Query:            query,
		RelevantResults:  acc.relevant,
		Learnings:        acc.learnings,
		Queries:          acc.queries,
		AdditionalChunks: additional,
	}
	return r.Contracts.DoSynthesize(ctx, ec, bus, args)
}
