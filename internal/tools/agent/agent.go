// Package agent implements the Tool Contracts Layer's LLM-backed tools:
// query reformulation, relevance evaluation, learning extraction, and
// markdown synthesis, all driven through internal/llm.Provider. Exact
// prompt wording is explicitly out of scope (spec.md §1); what matters is
// the request/response contract toolcontract expects.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"probe/internal/llm"
	"probe/internal/toolcontract"
)

// Roles lets the caller assign a different model per agent role (e.g. a
// cheaper model for evaluate, a more capable one for synthesize), the way
// the active strategy's single Model field is expected to flow down once
// §4.7's model mutation rules fire; until that wiring lands, every role can
// point at the same model string.
type Roles struct {
	Plan       string
	Evaluate   string
	Extract    string
	Synthesize string
}

// Planner implements toolcontract.PlanTool.
type Planner struct {
	Provider    llm.Provider
	Model       string
	Temperature float64
}

func (p *Planner) Reformulate(ctx context.Context, query string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	prompt := fmt.Sprintf(
		"Rewrite the research question below into %d distinct search queries that together cover it "+
			"from different angles. Respond with a JSON array of %d strings, nothing else.\n\nQuestion: %s",
		count, count, query)
	reply, err := p.Provider.Complete(ctx, p.Model, []llm.Message{
		{Role: "system", Content: "You produce search query reformulations for a research agent."},
		{Role: "user", Content: prompt},
	}, temperatureOr(p.Temperature, 0.3))
	if err != nil {
		return nil, err
	}
	var queries []string
	if err := json.Unmarshal([]byte(extractJSON(reply)), &queries); err != nil {
		return nil, fmt.Errorf("parse reformulation response: %w", err)
	}
	if len(queries) > count {
		queries = queries[:count]
	}
	return queries, nil
}

// Evaluator implements toolcontract.EvaluateTool.
type Evaluator struct {
	Provider    llm.Provider
	Model       string
	Temperature float64
}

type evaluateVerdictWire struct {
	URL        string `json:"url"`
	IsRelevant bool   `json:"isRelevant"`
	Reason     string `json:"reason"`
}

func (e *Evaluator) Evaluate(ctx context.Context, args toolcontract.EvaluateArgs) ([]toolcontract.EvalVerdict, error) {
	if len(args.Candidates) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\nCriteria: %s\n\nCandidates:\n", args.Query, args.Criteria)
	for i, c := range args.Candidates {
		fmt.Fprintf(&sb, "%d. title=%q url=%q preview=%q\n", i+1, c.Title, c.URL, c.ContentPreview)
	}
	sb.WriteString("\nFor each candidate, in the same order, decide whether it is relevant to the query. " +
		"Respond with a JSON array of objects {\"url\":string,\"isRelevant\":bool,\"reason\":string}, one per candidate, nothing else.")

	reply, err := e.Provider.Complete(ctx, e.Model, []llm.Message{
		{Role: "system", Content: "You score search results for relevance to a research query."},
		{Role: "user", Content: sb.String()},
	}, temperatureOr(e.Temperature, 0))
	if err != nil {
		return nil, err
	}
	var wire []evaluateVerdictWire
	if err := json.Unmarshal([]byte(extractJSON(reply)), &wire); err != nil {
		return nil, fmt.Errorf("parse evaluate response: %w", err)
	}
	verdicts := make([]toolcontract.EvalVerdict, len(args.Candidates))
	for i, c := range args.Candidates {
		if i < len(wire) {
			verdicts[i] = toolcontract.EvalVerdict{URL: c.URL, IsRelevant: wire[i].IsRelevant, Reason: wire[i].Reason}
		} else {
			verdicts[i] = toolcontract.EvalVerdict{URL: c.URL, IsRelevant: false, Reason: "no verdict returned"}
		}
	}
	return verdicts, nil
}

// Extractor implements toolcontract.ExtractTool.
type Extractor struct {
	Provider    llm.Provider
	Model       string
	Temperature float64
}

type extractWire struct {
	Learning          string   `json:"learning"`
	FollowUpQuestions []string `json:"followUpQuestions"`
}

func (x *Extractor) Extract(ctx context.Context, args toolcontract.ExtractArgs) (toolcontract.ExtractResult, error) {
	prompt := fmt.Sprintf(
		"Query: %s\n\nSource (%s):\n%s\n\nExtract the single most useful learning relevant to the query, "+
			"and up to %d follow-up questions this source raises. Respond with JSON "+
			"{\"learning\":string,\"followUpQuestions\":string[]}, nothing else.",
		args.Query, args.Source.URL, truncate(args.Source.Content, 6000), args.FollowupsPerResult)

	reply, err := x.Provider.Complete(ctx, x.Model, []llm.Message{
		{Role: "system", Content: "You extract concise research learnings from source text."},
		{Role: "user", Content: prompt},
	}, temperatureOr(x.Temperature, 0.2))
	if err != nil {
		return toolcontract.ExtractResult{}, err
	}
	var wire extractWire
	if err := json.Unmarshal([]byte(extractJSON(reply)), &wire); err != nil {
		return toolcontract.ExtractResult{}, fmt.Errorf("parse extract response: %w", err)
	}
	if len(wire.FollowUpQuestions) > args.FollowupsPerResult {
		wire.FollowUpQuestions = wire.FollowUpQuestions[:args.FollowupsPerResult]
	}
	return toolcontract.ExtractResult{Learning: wire.Learning, FollowUpQuestions: wire.FollowUpQuestions}, nil
}

// Synthesizer implements toolcontract.SynthesizeTool.
type Synthesizer struct {
	Provider    llm.Provider
	Model       string
	Temperature float64
}

func (s *Synthesizer) Synthesize(ctx context.Context, args toolcontract.SynthesizeArgs) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original question: %s\n\n", args.Query)
	if len(args.RelevantResults) == 0 {
		sb.WriteString("No relevant external evidence was found. Write a brief markdown note that explicitly " +
			"states no external evidence was found, and answer from general knowledge if possible.\n")
	} else {
		sb.WriteString("Sources:\n")
		for _, r := range args.RelevantResults {
			fmt.Fprintf(&sb, "- %s (%s)\n", r.Title, r.URL)
		}
		if len(args.Learnings) > 0 {
			sb.WriteString("\nLearnings gathered:\n")
			for _, l := range args.Learnings {
				fmt.Fprintf(&sb, "- %s\n", l)
			}
		}
	}
	if len(args.AdditionalChunks) > 0 {
		sb.WriteString("\nAdditional retrieved context:\n")
		for _, c := range args.AdditionalChunks {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	sb.WriteString("\nWrite the final research note in markdown, starting with a single # title line summarizing the finding.")

	reply, err := s.Provider.Complete(ctx, s.Model, []llm.Message{
		{Role: "system", Content: "You synthesize research findings into a markdown note."},
		{Role: "user", Content: sb.String()},
	}, temperatureOr(s.Temperature, 0.4))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func temperatureOr(t, def float64) float64 {
	if t == 0 {
		return def
	}
	return t
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// extractJSON strips a ```json fenced block if the model wrapped its
// response in one, since not every provider honors "nothing else".
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
