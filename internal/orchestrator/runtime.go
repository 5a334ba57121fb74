// Package orchestrator implements the Episode Runtime (§4.2): select a
// strategy, create and run one episode through the Research State Machine,
// write the terminal Episode/Note, and schedule the (non-blocking)
// Evolution Analyzer hook.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"probe/internal/apperr"
	"probe/internal/research"
	"probe/internal/runctx"
	"probe/internal/sse"
	"probe/internal/store"
	"probe/internal/strategy"
)

// EpisodeHook is called once an episode reaches a terminal state, outside
// the user-facing SSE stream's critical path (§4.2 step 6). Implemented by
// internal/evolve's analyzer; nil disables the hook.
type EpisodeHook func(topicID, episodeID string)

// Runtime wires the Strategy Store, persistence, and the Research State
// Machine together into one runnable episode.
type Runtime struct {
	Stores      store.Store
	Strategies  *strategy.Store
	Research    *research.Runner
	OnCompleted EpisodeHook
}

// New constructs a Runtime. hook may be nil.
func New(stores store.Store, strategies *strategy.Store, runner *research.Runner, hook EpisodeHook) *Runtime {
	return &Runtime{Stores: stores, Strategies: strategies, Research: runner, OnCompleted: hook}
}

// Run starts one episode asynchronously and returns the event bus the
// caller should drain to the wire (§6.1's ask/stream endpoint). The
// returned error is only non-nil for failures that occur before any event
// can be emitted (e.g. the topic does not exist).
func (rt *Runtime) Run(ctx context.Context, topicID, query, userID string) (*sse.Bus, error) {
	if _, err := rt.Stores.GetTopic(ctx, topicID); err != nil {
		return nil, err
	}
	bus := sse.NewBus()
	// The episode outlives the request: a client disconnecting must not
	// cancel it (§5), so run it against a context detached from the
	// caller's: it keeps the caller's values but none of its deadline or
	// cancellation signal.
	go rt.run(context.WithoutCancel(ctx), bus, topicID, query, userID)
	return bus, nil
}

func (rt *Runtime) run(ctx context.Context, bus *sse.Bus, topicID, query, userID string) {
	defer bus.Close()

	strat, err := rt.Strategies.SelectForQuery(ctx, topicID)
	if err != nil {
		rt.fail(bus, "", err)
		return
	}
	bus.Publish(sse.Event{
		Type:    sse.EventStatus,
		Status:  "strategy_selected",
		Message: "selected strategy version",
		Details: map[string]any{"version": strat.Version, "searchDepth": strat.Config.SearchDepth, "model": strat.Config.Model},
	})

	now := time.Now()
	ep := store.Episode{
		ID:              uuid.NewString(),
		TopicID:         topicID,
		UserID:          userID,
		StrategyVersion: strat.Version,
		Query:           query,
		Status:          store.EpisodePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ep, err = rt.Stores.CreateEpisode(ctx, ep)
	if err != nil {
		rt.fail(bus, "", err)
		return
	}
	bus.Publish(sse.Event{Type: sse.EventEpisodeCreated, EpisodeID: ep.ID})

	ep.Status = store.EpisodeRunning
	if err := rt.Stores.UpdateEpisode(ctx, ep); err != nil {
		rt.fail(bus, ep.ID, err)
		return
	}

	ec := runctx.NewEpisodeContext(ep.ID, topicID, uuid.NewString(), strat.Version, strat.Config)

	result, runErr := rt.Research.Run(ctx, ec, bus, query)
	if runErr != nil {
		ep.Status = store.EpisodeFailed
		ep.ErrorMessage = errorMessageFor(runErr)
		ep.UpdatedAt = time.Now()
		rt.writeTerminal(ctx, ep)
		rt.fail(bus, ep.ID, runErr)
		rt.scheduleHook(topicID, ep.ID)
		return
	}

	note := store.Note{
		ID:        uuid.NewString(),
		TopicID:   topicID,
		EpisodeID: ep.ID,
		Title:     noteTitle(result.NoteContent, query),
		Content:   result.NoteContent,
		Type:      "research",
		CreatedAt: time.Now(),
	}
	note, err = rt.Stores.CreateNote(ctx, note)
	if err != nil {
		ep.Status = store.EpisodeFailed
		ep.ErrorMessage = "persisting note: " + err.Error()
		ep.UpdatedAt = time.Now()
		rt.writeTerminal(ctx, ep)
		rt.fail(bus, ep.ID, apperr.Wrap(apperr.PersistenceError, "failed to persist note", err))
		rt.scheduleHook(topicID, ep.ID)
		return
	}

	toolUsage, followups, sensoSearch, sensoGenerate, _ := ec.Metrics.Snapshot()
	ep.Status = store.EpisodeCompleted
	ep.SourcesReturned = result.SourcesReturned
	ep.SourcesSaved = result.SourcesSaved
	ep.ToolUsage = toolUsage
	ep.FollowupCount = followups
	ep.SensoSearchUsed = sensoSearch
	ep.SensoGenerateUsed = sensoGenerate
	ep.ResultNoteID = note.ID
	ep.UpdatedAt = time.Now()
	if err := rt.writeTerminal(ctx, ep); err != nil {
		rt.fail(bus, ep.ID, apperr.Wrap(apperr.PersistenceError, "failed to persist episode", err))
		rt.scheduleHook(topicID, ep.ID)
		return
	}

	bus.Publish(sse.Event{Type: sse.EventNoteCreated, NoteID: note.ID, NoteTitle: note.Title})
	bus.Publish(sse.Event{Type: sse.EventComplete, EpisodeID: ep.ID, NoteID: note.ID})
	rt.scheduleHook(topicID, ep.ID)
}

// writeTerminal persists the terminal episode state, retrying once after a
// short backoff if the first write fails, and returns the error of the
// second attempt. On the success path the caller turns that error into an
// error event in place of complete; the failure paths emit their own error
// event and ignore it.
func (rt *Runtime) writeTerminal(ctx context.Context, ep store.Episode) error {
	if err := rt.Stores.UpdateEpisode(ctx, ep); err != nil {
		time.Sleep(50 * time.Millisecond)
		return rt.Stores.UpdateEpisode(ctx, ep)
	}
	return nil
}

func (rt *Runtime) fail(bus *sse.Bus, episodeID string, err error) {
	bus.Publish(sse.Event{Type: sse.EventError, Error: errorMessageFor(err)})
}

func (rt *Runtime) scheduleHook(topicID, episodeID string) {
	if rt.OnCompleted == nil {
		return
	}
	go rt.OnCompleted(topicID, episodeID)
}

func errorMessageFor(err error) string {
	if apperr.Is(err, apperr.CancelledByCaller) || apperr.Is(err, apperr.CancelledByTimeout) {
		return "cancelled"
	}
	return err.Error()
}

// noteTitle is the first non-empty line of content, or the first 80 chars
// of the query if content has none (§4.2 step 4).
func noteTitle(content, query string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	if len(query) > 80 {
		return query[:80]
	}
	return query
}
