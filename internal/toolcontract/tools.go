package toolcontract

import (
	"context"

	"probe/internal/store"
)

// SearchArgs is what the contracts layer derives and passes to SearchTool.
type SearchArgs struct {
	Query      string
	Count      int
	TimeWindow store.TimeWindow
}

// SearchTool issues one query reformulation against an external provider.
type SearchTool interface {
	Search(ctx context.Context, args SearchArgs) ([]store.Source, error)
}

// EvalCandidate is one (title,url,contentPreview) triple to score.
type EvalCandidate struct {
	Title          string
	URL            string
	ContentPreview string
}

// EvalVerdict is the per-result relevance judgement §4.3 PHASE1_EVALUATE emits.
type EvalVerdict struct {
	URL        string
	IsRelevant bool
	Reason     string
}

// EvaluateArgs is what the contracts layer derives for a batch evaluate call.
type EvaluateArgs struct {
	Query      string
	Candidates []EvalCandidate
	Criteria   string // selective|balanced|inclusive
}

// EvaluateTool scores a batch of candidates against the query, returning one
// verdict per input in the same order.
type EvaluateTool interface {
	Evaluate(ctx context.Context, args EvaluateArgs) ([]EvalVerdict, error)
}

// ExtractArgs is what the contracts layer derives for one extract call.
type ExtractArgs struct {
	Query             string
	Source            store.Source
	FollowupsPerResult int
}

// ExtractResult is the learning plus bounded follow-up questions §4.3
// PHASE1_EXTRACT produces.
type ExtractResult struct {
	Learning          string
	FollowUpQuestions []string
}

// ExtractTool pulls a learning and follow-up questions out of one source.
type ExtractTool interface {
	Extract(ctx context.Context, args ExtractArgs) (ExtractResult, error)
}

// SynthesizeArgs bundles everything SYNTHESIZE needs (§4.3).
type SynthesizeArgs struct {
	Query            string
	RelevantResults  []store.Source
	Learnings        []string
	Queries          []string
	AdditionalChunks []string // optional extra senso retrieval, if performed
}

// SynthesizeTool produces the final markdown note content.
type SynthesizeTool interface {
	Synthesize(ctx context.Context, args SynthesizeArgs) (string, error)
}

// PlanTool produces query reformulations for PHASE1_SEARCH / the
// disjunction query for PHASE2_SEARCH.
type PlanTool interface {
	Reformulate(ctx context.Context, query string, count int) ([]string, error)
}
