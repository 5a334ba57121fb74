package toolcontract

import (
	"context"
	"time"

	"probe/internal/apperr"
	"probe/internal/runctx"
	"probe/internal/sse"
	"probe/internal/store"
)

// DefaultTimeout is the per-tool call timeout (§4.4, §5) unless overridden.
const DefaultTimeout = 30 * time.Second

// Timeouts lets an operator override the default per tool name.
type Timeouts map[string]time.Duration

func (t Timeouts) For(tool string) time.Duration {
	if d, ok := t[tool]; ok && d > 0 {
		return d
	}
	return DefaultTimeout
}

// Contracts wraps the concrete tool implementations, reading strategy
// config from the ambient EpisodeContext and emitting the tool_call /
// tool_result / tool_error events of §6.2.
type Contracts struct {
	Search     SearchTool
	Evaluate   EvaluateTool
	Extract    ExtractTool
	Synthesize SynthesizeTool
	Plan       PlanTool
	Timeouts   Timeouts
}

// New constructs a Contracts layer. A nil Timeouts uses DefaultTimeout for
// every tool.
func New(search SearchTool, eval EvaluateTool, extract ExtractTool, synth SynthesizeTool, plan PlanTool, timeouts Timeouts) *Contracts {
	return &Contracts{Search: search, Evaluate: eval, Extract: extract, Synthesize: synth, Plan: plan, Timeouts: timeouts}
}

func checkCancelled(ec *runctx.EpisodeContext) error {
	if ec.Cancelled() {
		return apperr.New(apperr.CancelledByCaller, "cancelled")
	}
	return nil
}

// DoReformulate asks the PlanTool for query reformulations, count derived
// from searchDepth (§4.3).
func (c *Contracts) DoReformulate(ctx context.Context, ec *runctx.EpisodeContext, query string) ([]string, error) {
	if err := checkCancelled(ec); err != nil {
		return nil, err
	}
	count := ReformulationCount(ec.Config.SearchDepth)
	cctx, cancel := context.WithTimeout(ctx, c.Timeouts.For("plan"))
	defer cancel()
	return c.Plan.Reformulate(cctx, query, count)
}

// DoSearch derives search parameters from the strategy config, dispatches
// through SearchTool, and emits tool_call/tool_result/tool_error.
func (c *Contracts) DoSearch(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, query string) ([]store.Source, error) {
	if err := checkCancelled(ec); err != nil {
		return nil, err
	}
	args := SearchArgs{Query: query, Count: ResultCount(ec.Config.SearchDepth), TimeWindow: ec.Config.TimeWindow}
	bus.Publish(sse.Event{Type: sse.EventToolCall, Tool: store.ToolSearch, Args: args})
	ec.Metrics.IncTool(store.ToolSearch)

	cctx, cancel := context.WithTimeout(ctx, c.Timeouts.For(store.ToolSearch))
	defer cancel()
	results, err := c.Search.Search(cctx, args)
	if err != nil {
		ec.Metrics.IncToolError()
		err = classifyToolErr(store.ToolSearch, err)
		bus.Publish(sse.Event{Type: sse.EventToolError, Tool: store.ToolSearch, Error: err.Error()})
		return nil, err
	}
	urls := make([]string, 0, len(results))
	for _, r := range results {
		urls = append(urls, r.URL)
	}
	bus.Publish(sse.Event{Type: sse.EventSearchResults, Query: query, Count: len(results), URLs: urls})
	bus.Publish(sse.Event{Type: sse.EventToolResult, Tool: store.ToolSearch, Result: "ok"})
	return results, nil
}

// DoEvaluate derives the criteria preset and dispatches a batch evaluate
// call (§4.4).
func (c *Contracts) DoEvaluate(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, query string, candidates []EvalCandidate) ([]EvalVerdict, error) {
	if err := checkCancelled(ec); err != nil {
		return nil, err
	}
	args := EvaluateArgs{Query: query, Candidates: candidates, Criteria: EvaluateCriteria(ec.Config.SearchDepth)}
	bus.Publish(sse.Event{Type: sse.EventToolCall, Tool: store.ToolEvaluate, Args: map[string]any{"criteria": args.Criteria, "count": len(candidates)}})
	ec.Metrics.IncTool(store.ToolEvaluate)

	cctx, cancel := context.WithTimeout(ctx, c.Timeouts.For(store.ToolEvaluate))
	defer cancel()
	verdicts, err := c.Evaluate.Evaluate(cctx, args)
	if err != nil {
		// §7: evaluate failure marks all candidates not-relevant, episode continues.
		ec.Metrics.IncToolError()
		bus.Publish(sse.Event{Type: sse.EventToolError, Tool: store.ToolEvaluate, Error: err.Error()})
		verdicts = make([]EvalVerdict, len(candidates))
		for i, cand := range candidates {
			verdicts[i] = EvalVerdict{URL: cand.URL, IsRelevant: false, Reason: "Error in evaluation"}
		}
		return verdicts, nil
	}
	relevant := 0
	results := make([]sse.EvaluationResult, 0, len(verdicts))
	for _, v := range verdicts {
		if v.IsRelevant {
			relevant++
		}
		results = append(results, sse.EvaluationResult{URL: v.URL, IsRelevant: v.IsRelevant, Reason: v.Reason})
	}
	bus.Publish(sse.Event{Type: sse.EventEvaluationResults, Evaluated: len(verdicts), Relevant: relevant, Results: results})
	bus.Publish(sse.Event{Type: sse.EventToolResult, Tool: store.ToolEvaluate, Result: "ok"})
	return verdicts, nil
}

// DoExtract derives followupsPerResult and dispatches one extract call
// (§4.4).
func (c *Contracts) DoExtract(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, query string, src store.Source) (ExtractResult, error) {
	if err := checkCancelled(ec); err != nil {
		return ExtractResult{}, err
	}
	args := ExtractArgs{Query: query, Source: src, FollowupsPerResult: FollowupsPerResult(ec.Config)}
	bus.Publish(sse.Event{Type: sse.EventToolCall, Tool: store.ToolExtract, Args: map[string]any{"url": src.URL}})
	ec.Metrics.IncTool(store.ToolExtract)

	cctx, cancel := context.WithTimeout(ctx, c.Timeouts.For(store.ToolExtract))
	defer cancel()
	res, err := c.Extract.Extract(cctx, args)
	if err != nil {
		// §7: extract failure drops learnings for that result, episode continues.
		ec.Metrics.IncToolError()
		bus.Publish(sse.Event{Type: sse.EventToolError, Tool: store.ToolExtract, Error: err.Error()})
		return ExtractResult{}, nil
	}
	if len(res.FollowUpQuestions) > args.FollowupsPerResult {
		res.FollowUpQuestions = res.FollowUpQuestions[:args.FollowupsPerResult]
	}
	if res.Learning != "" {
		bus.Publish(sse.Event{Type: sse.EventLearningExtracted, Learning: res.Learning, FollowUpQuestions: res.FollowUpQuestions})
	}
	bus.Publish(sse.Event{Type: sse.EventToolResult, Tool: store.ToolExtract, Result: "ok"})
	return res, nil
}

// DoSynthesize dispatches the final synthesis call. Synthesize failures
// fail the episode (§7), so the error is returned as-is for the caller to
// propagate.
func (c *Contracts) DoSynthesize(ctx context.Context, ec *runctx.EpisodeContext, bus *sse.Bus, args SynthesizeArgs) (string, error) {
	if err := checkCancelled(ec); err != nil {
		return "", err
	}
	bus.Publish(sse.Event{Type: sse.EventToolCall, Tool: "synthesize", Args: map[string]any{"sources": len(args.RelevantResults)}})
	cctx, cancel := context.WithTimeout(ctx, c.Timeouts.For("synthesize"))
	defer cancel()
	md, err := c.Synthesize.Synthesize(cctx, args)
	if err != nil {
		bus.Publish(sse.Event{Type: sse.EventToolError, Tool: "synthesize", Error: err.Error()})
		return "", classifyToolErr("synthesize", err)
	}
	bus.Publish(sse.Event{Type: sse.EventToolResult, Tool: "synthesize", Result: "ok"})
	return md, nil
}

func classifyToolErr(tool string, err error) error {
	if err == context.DeadlineExceeded {
		return apperr.Wrap(apperr.ToolTimeout, tool+" timed out", err)
	}
	return apperr.Wrap(apperr.ToolUnavailable, tool+" call failed", err)
}
