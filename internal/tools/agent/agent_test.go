package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"probe/internal/llm"
	"probe/internal/toolcontract"
)

func TestPlannerParsesReformulations(t *testing.T) {
	provider := &llm.FakeProvider{Responses: []string{`["a planners overview", "agent planner comparison"]`}}
	p := &Planner{Provider: provider, Model: "gpt-test"}

	queries, err := p.Reformulate(context.Background(), "agent planners", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a planners overview", "agent planner comparison"}, queries)
}

func TestPlannerHandlesFencedJSON(t *testing.T) {
	provider := &llm.FakeProvider{Responses: []string{"```json\n[\"one\"]\n```"}}
	p := &Planner{Provider: provider, Model: "gpt-test"}

	queries, err := p.Reformulate(context.Background(), "x", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"one"}, queries)
}

func TestEvaluatorReturnsOneVerdictPerCandidateInOrder(t *testing.T) {
	provider := &llm.FakeProvider{Responses: []string{
		`[{"url":"https://a","isRelevant":true,"reason":"on topic"},{"url":"https://b","isRelevant":false,"reason":"off topic"}]`,
	}}
	e := &Evaluator{Provider: provider, Model: "gpt-test"}

	verdicts, err := e.Evaluate(context.Background(), toolcontract.EvaluateArgs{
		Query: "q",
		Candidates: []toolcontract.EvalCandidate{
			{Title: "A", URL: "https://a"},
			{Title: "B", URL: "https://b"},
		},
		Criteria: "balanced",
	})
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	require.True(t, verdicts[0].IsRelevant)
	require.False(t, verdicts[1].IsRelevant)
}

func TestExtractorClampsFollowupsToLimit(t *testing.T) {
	provider := &llm.FakeProvider{Responses: []string{
		`{"learning":"planners decompose goals","followUpQuestions":["q1","q2","q3"]}`,
	}}
	x := &Extractor{Provider: provider, Model: "gpt-test"}

	res, err := x.Extract(context.Background(), toolcontract.ExtractArgs{
		Query:              "q",
		FollowupsPerResult: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "planners decompose goals", res.Learning)
	require.Len(t, res.FollowUpQuestions, 1)
}

func TestSynthesizerHandlesNoEvidenceCase(t *testing.T) {
	provider := &llm.FakeProvider{Responses: []string{"# No evidence found\n\nNothing relevant was located."}}
	s := &Synthesizer{Provider: provider, Model: "gpt-test"}

	md, err := s.Synthesize(context.Background(), toolcontract.SynthesizeArgs{Query: "q"})
	require.NoError(t, err)
	require.Contains(t, md, "No evidence found")
	require.Contains(t, provider.Prompts[0], "No relevant external evidence")
}
