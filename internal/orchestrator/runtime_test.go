package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"probe/internal/research"
	"probe/internal/store"
	memstore "probe/internal/store/memory"
	"probe/internal/strategy"
	"probe/internal/toolcontract"
)

type stubSearch struct{ urls []string }

func (s *stubSearch) Search(context.Context, toolcontract.SearchArgs) ([]store.Source, error) {
	out := make([]store.Source, len(s.urls))
	for i, u := range s.urls {
		out[i] = store.Source{Title: u, URL: u, Content: "body"}
	}
	return out, nil
}

type stubEvaluate struct{}

func (stubEvaluate) Evaluate(_ context.Context, args toolcontract.EvaluateArgs) ([]toolcontract.EvalVerdict, error) {
	out := make([]toolcontract.EvalVerdict, len(args.Candidates))
	for i, c := range args.Candidates {
		out[i] = toolcontract.EvalVerdict{URL: c.URL, IsRelevant: true}
	}
	return out, nil
}

type stubExtract struct{}

func (stubExtract) Extract(_ context.Context, args toolcontract.ExtractArgs) (toolcontract.ExtractResult, error) {
	return toolcontract.ExtractResult{Learning: "learned something about " + args.Source.URL}, nil
}

type stubSynthesize struct{}

func (stubSynthesize) Synthesize(context.Context, toolcontract.SynthesizeArgs) (string, error) {
	return "# Findings\n\nbody text here", nil
}

type stubPlan struct{}

func (stubPlan) Reformulate(_ context.Context, query string, count int) ([]string, error) {
	qs := make([]string, count)
	for i := range qs {
		qs[i] = query
	}
	return qs, nil
}

func TestRuntimeHappyPathWritesCompletedEpisodeAndNote(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()

	topic, err := backing.CreateTopic(ctx, store.Topic{ID: "t1", Title: "Agent planners"})
	require.NoError(t, err)

	strategies := strategy.New(backing, "gpt-test", 42)
	_, err = strategies.CreateDefault(ctx, topic.ID)
	require.NoError(t, err)

	contracts := toolcontract.New(&stubSearch{urls: []string{"https://a"}}, stubEvaluate{}, stubExtract{}, stubSynthesize{}, stubPlan{}, nil)
	runner := research.NewRunner(contracts, nil)

	var hookTopic, hookEpisode string
	hookDone := make(chan struct{})
	hook := func(topicID, episodeID string) {
		hookTopic, hookEpisode = topicID, episodeID
		close(hookDone)
	}

	rt := New(backing, strategies, runner, hook)

	bus, err := rt.Run(ctx, topic.ID, "what are agent planners?", "")
	require.NoError(t, err)

	var terminal bool
	var noteID string
	timeout := time.After(2 * time.Second)
	for !terminal {
		select {
		case e := <-bus.Events():
			if e.Type == "complete" {
				terminal = true
				noteID = e.NoteID
			}
			if e.Type == "error" {
				t.Fatalf("unexpected error event: %s", e.Error)
			}
		case <-timeout:
			t.Fatal("timed out waiting for terminal event")
		}
	}

	select {
	case <-hookDone:
	case <-time.After(2 * time.Second):
		t.Fatal("post-episode hook never fired")
	}
	require.Equal(t, topic.ID, hookTopic)
	require.NotEmpty(t, hookEpisode)

	episodes, err := backing.ListEpisodes(ctx, topic.ID, store.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	require.Equal(t, store.EpisodeCompleted, episodes[0].Status)
	require.Equal(t, noteID, episodes[0].ResultNoteID)

	note, err := backing.GetNote(ctx, topic.ID, noteID)
	require.NoError(t, err)
	require.Equal(t, "Findings", note.Title)
}

func TestRuntimeFailsWithoutNoteWhenNoStrategyConfigured(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	topic, err := backing.CreateTopic(ctx, store.Topic{ID: "t2", Title: "No strategy"})
	require.NoError(t, err)

	strategies := strategy.New(backing, "gpt-test", 1)

	contracts := toolcontract.New(&stubSearch{}, stubEvaluate{}, stubExtract{}, stubSynthesize{}, stubPlan{}, nil)
	runner := research.NewRunner(contracts, nil)
	rt := New(backing, strategies, runner, nil)

	bus, err := rt.Run(ctx, topic.ID, "anything", "")
	require.NoError(t, err)

	e := <-bus.Events()
	require.Equal(t, "error", string(e.Type))

	notes, err := backing.ListNotes(ctx, topic.ID)
	require.NoError(t, err)
	require.Empty(t, notes)
}
