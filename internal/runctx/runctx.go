// Package runctx propagates the per-episode EpisodeContext (§4.8) through
// every tool call as a scoped context.Context value, the way
// internal/rag/service scopes a tenant id onto a context rather than using
// a process-wide global.
package runctx

import (
	"context"
	"sync/atomic"

	"probe/internal/store"
)

type ctxKey string

const episodeCtxKey ctxKey = "episodeContext"

// MetricAccumulator collects per-tool counters and flags during one episode.
// All methods are safe for concurrent use since PHASE1_SEARCH may fan out
// concurrently when config.ParallelSearches is set.
type MetricAccumulator struct {
	toolUsage         syncCounterMap
	followupCount     int64
	sensoSearchUsed   int32
	sensoGenerateUsed int32
	toolErrors        int64
}

// NewMetricAccumulator constructs an empty accumulator.
func NewMetricAccumulator() *MetricAccumulator {
	return &MetricAccumulator{toolUsage: newSyncCounterMap()}
}

func (m *MetricAccumulator) IncTool(name string) { m.toolUsage.inc(name) }
func (m *MetricAccumulator) IncToolError()       { atomic.AddInt64(&m.toolErrors, 1) }
func (m *MetricAccumulator) AddFollowups(n int)  { atomic.AddInt64(&m.followupCount, int64(n)) }
func (m *MetricAccumulator) MarkSensoSearch()    { atomic.StoreInt32(&m.sensoSearchUsed, 1) }
func (m *MetricAccumulator) MarkSensoGenerate()  { atomic.StoreInt32(&m.sensoGenerateUsed, 1) }

func (m *MetricAccumulator) Snapshot() (toolUsage map[string]int, followups int, sensoSearch, sensoGenerate bool, toolErrors int) {
	return m.toolUsage.snapshot(), int(atomic.LoadInt64(&m.followupCount)), atomic.LoadInt32(&m.sensoSearchUsed) == 1,
		atomic.LoadInt32(&m.sensoGenerateUsed) == 1, int(atomic.LoadInt64(&m.toolErrors))
}

// EpisodeContext carries everything a tool call needs without reaching for
// process-wide state: the strategy in force, episode identity, a
// cooperative cancel signal, and the metric accumulator it writes into.
type EpisodeContext struct {
	EpisodeID       string
	TopicID         string
	TraceID         string
	StrategyVersion int
	Config          store.StrategyConfig
	Metrics         *MetricAccumulator

	cancelled *atomic.Bool
}

// NewEpisodeContext constructs an EpisodeContext with a fresh cancel flag.
func NewEpisodeContext(episodeID, topicID, traceID string, strategyVersion int, cfg store.StrategyConfig) *EpisodeContext {
	return &EpisodeContext{
		EpisodeID:       episodeID,
		TopicID:         topicID,
		TraceID:         traceID,
		StrategyVersion: strategyVersion,
		Config:          cfg,
		Metrics:         NewMetricAccumulator(),
		cancelled:       new(atomic.Bool),
	}
}

// Cancel marks the episode cancelled. Cooperative: checked at tool entry and
// between state machine transitions (§4.8).
func (e *EpisodeContext) Cancel() { e.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (e *EpisodeContext) Cancelled() bool { return e.cancelled.Load() }

// WithEpisode returns a context carrying ec, scoped to this call tree only.
func WithEpisode(ctx context.Context, ec *EpisodeContext) context.Context {
	return context.WithValue(ctx, episodeCtxKey, ec)
}

// FromContext retrieves the EpisodeContext attached by WithEpisode, if any.
func FromContext(ctx context.Context) (*EpisodeContext, bool) {
	ec, ok := ctx.Value(episodeCtxKey).(*EpisodeContext)
	return ec, ok
}
