// Package evolve implements the Evolution Analyzer (§4.7): after every
// completed episode it looks at the topic's recent history and, if the
// data warrants it, proposes a new candidate Strategy version via the
// fixed mutation rule table.
package evolve

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"probe/internal/llm"
	"probe/internal/store"
	"probe/internal/strategy"
)

// EvolvedHook is the internal notification of §4.7 item 7 ("emit an
// internal notification so the UI polling endpoint returns the new
// evolution"). nil disables it.
type EvolvedHook func(topicID string, candidate store.Strategy, changes map[string]store.ConfigChange, reason string)

// Analyzer drives the per-topic evolution decision after each episode.
type Analyzer struct {
	Episodes    store.EpisodeStore
	Strategies  *strategy.Store
	Models      llm.ModelTier
	MinEpisodes int // default 1 in hyper-evolution mode, 5 in conservative mode
	OnEvolved   EvolvedHook

	mu   sync.Mutex
	seen map[string]bool // episode ids already analyzed, for idempotence
}

// New constructs an Analyzer. minEpisodes <= 0 defaults to 5 (conservative).
func New(episodes store.EpisodeStore, strategies *strategy.Store, models llm.ModelTier, minEpisodes int) *Analyzer {
	if minEpisodes <= 0 {
		minEpisodes = 5
	}
	return &Analyzer{
		Episodes:    episodes,
		Strategies:  strategies,
		Models:      models,
		MinEpisodes: minEpisodes,
		seen:        make(map[string]bool),
	}
}

// OnEpisodeCompleted is the orchestrator's post-episode hook
// (orchestrator.EpisodeHook). It is idempotent per episode id and never
// lets an internal failure propagate (§4.7: "Analyzer failures are logged
// and swallowed; they MUST NOT poison future episodes").
func (a *Analyzer) OnEpisodeCompleted(topicID, episodeID string) {
	a.mu.Lock()
	if a.seen[episodeID] {
		a.mu.Unlock()
		return
	}
	a.seen[episodeID] = true
	a.mu.Unlock()

	if err := a.analyze(context.Background(), topicID); err != nil {
		logrus.WithError(err).WithField("topicId", topicID).Warn("evolution analyzer failed")
	}
}

// window is the N most recent completed episodes the analyzer bases its
// decision on, default max(minEpisodes, 10).
func (a *Analyzer) window() int {
	if a.MinEpisodes > 10 {
		return a.MinEpisodes
	}
	return 10
}

func (a *Analyzer) analyze(ctx context.Context, topicID string) error {
	episodes, err := a.Episodes.LatestCompleted(ctx, topicID, a.window())
	if err != nil {
		return err
	}
	if len(episodes) < a.MinEpisodes {
		return nil
	}

	active, err := a.Strategies.GetActive(ctx, topicID)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}

	m := computeMetrics(episodes)
	newConfig, reasons := applyMutationRules(active.Config, m, a.Models)
	if len(reasons) == 0 {
		return nil // recommendation=keep
	}

	if len(strategy.DiffConfig(active.Config, newConfig)) == 0 {
		return nil // diff against active is empty; nothing actually changed
	}

	reason := humanReadableReason(reasons, m, len(episodes))
	candidate, changes, err := a.Strategies.CreateCandidate(ctx, topicID, newConfig, active.Version, reason)
	if err != nil {
		return err
	}
	if a.OnEvolved != nil {
		a.OnEvolved(topicID, candidate, changes, reason)
	}
	return nil
}

// metrics is the §4.7 step-2 aggregate over the episode window.
type metrics struct {
	saveRate       float64
	avgFollowups   float64
	sensoUsageRate float64
}

func computeMetrics(episodes []store.Episode) metrics {
	var totalReturned, totalSaved, totalFollowups, sensoHits int
	for _, e := range episodes {
		totalReturned += len(e.SourcesReturned)
		totalSaved += len(e.SourcesSaved)
		totalFollowups += e.FollowupCount
		if e.SensoSearchUsed {
			sensoHits++
		}
	}
	m := metrics{
		avgFollowups:   float64(totalFollowups) / float64(len(episodes)),
		sensoUsageRate: float64(sensoHits) / float64(len(episodes)),
	}
	if totalReturned == 0 {
		// No evidence ever returned is not the same signal as evidence
		// returned but never saved; treat as neutral rather than as the
		// strongest possible "evolve toward simpler" trigger.
		m.saveRate = 1.0
	} else {
		m.saveRate = float64(totalSaved) / float64(totalReturned)
	}
	return m
}

// applyMutationRules applies every matching rule of the §4.7 table, in
// order, accumulating changes onto a clone of current. Returns the human
// description of each triggered rule for the evolution log reason.
func applyMutationRules(current store.StrategyConfig, m metrics, models llm.ModelTier) (store.StrategyConfig, []string) {
	cfg := current.Clone()
	var reasons []string

	if m.saveRate < 0.40 {
		cfg.SearchDepth = store.DepthShallow
		cfg.TimeWindow = store.WindowMonth
		reasons = append(reasons, fmt.Sprintf("low save rate (%.0f%%)", m.saveRate*100))
	}
	if m.avgFollowups > 8 {
		v := 3
		cfg.MaxFollowups = &v
		if cfg.SearchDepth == store.DepthDeep {
			cfg.SearchDepth = store.DepthStandard
		}
		reasons = append(reasons, fmt.Sprintf("high average follow-up count (%.1f)", m.avgFollowups))
	}
	if m.sensoUsageRate < 0.20 {
		cfg.SensoFirst = true
		reasons = append(reasons, fmt.Sprintf("low senso usage rate (%.0f%%)", m.sensoUsageRate*100))
	}
	if m.saveRate < 0.50 && models != nil {
		if higher := models.Higher(cfg.Model); higher != cfg.Model {
			cfg.Model = higher
			reasons = append(reasons, "save rate below 50%, moving to a higher-capability model")
		}
	}
	if m.saveRate > 0.70 && models != nil {
		if lower := models.Lower(cfg.Model); lower != cfg.Model {
			cfg.Model = lower
			reasons = append(reasons, "save rate above 70%, moving to a lower-cost model")
		}
	}
	if m.avgFollowups > 6 {
		cfg.ParallelSearches = true
		reasons = append(reasons, fmt.Sprintf("average follow-up count %.1f favors parallel search", m.avgFollowups))
	}
	if m.saveRate == 0 {
		cfg.Tools = removeTool(cfg.Tools, store.ToolEvaluate)
		reasons = append(reasons, "zero save rate, dropping the evaluate tool")
	}
	if m.saveRate > 0.60 {
		if !cfg.HasTool(store.ToolEvaluate) {
			cfg.Tools = append(cfg.Tools, store.ToolEvaluate)
			reasons = append(reasons, "save rate above 60%, ensuring the evaluate tool stays enabled")
		}
	}

	return cfg, reasons
}

func removeTool(tools []string, name string) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if t != name {
			out = append(out, t)
		}
	}
	return out
}

func humanReadableReason(reasons []string, m metrics, episodeCount int) string {
	if len(reasons) == 1 {
		return capitalize(reasons[0]) + fmt.Sprintf(" across %d episodes", episodeCount)
	}
	return fmt.Sprintf("%d triggers across %d episodes: %s", len(reasons), episodeCount, joinReasons(reasons))
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
