package evolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"probe/internal/llm"
	"probe/internal/store"
	memstore "probe/internal/store/memory"
	"probe/internal/strategy"
)

func completedEpisode(topicID string, returned, saved, followups int, senso bool) store.Episode {
	e := store.Episode{
		TopicID:         topicID,
		Status:          store.EpisodeCompleted,
		FollowupCount:   followups,
		SensoSearchUsed: senso,
	}
	for i := 0; i < returned; i++ {
		e.SourcesReturned = append(e.SourcesReturned, store.Source{URL: "u"})
	}
	for i := 0; i < saved; i++ {
		e.SourcesSaved = append(e.SourcesSaved, store.Source{URL: "u"})
	}
	return e
}

func TestAnalyzerCreatesCandidateOnLowSaveRate(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	topic, err := backing.CreateTopic(ctx, store.Topic{ID: "t1"})
	require.NoError(t, err)

	strategies := strategy.New(backing, "gpt-mid", 7)
	_, err = strategies.CreateDefault(ctx, topic.ID)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		// 10% save rate, avgFollowups 7.0 overall -> trips the saveRate<0.40
		// and avgFollowups>6 triggers.
		ep := completedEpisode(topic.ID, 10, 1, 7, false)
		_, err := backing.CreateEpisode(ctx, ep)
		require.NoError(t, err)
	}

	var hookTopic string
	var hookChanges map[string]store.ConfigChange
	analyzer := New(backing, strategies, llm.ModelTier{"gpt-mini", "gpt-mid", "gpt-max"}, 5)
	analyzer.OnEvolved = func(topicID string, candidate store.Strategy, changes map[string]store.ConfigChange, reason string) {
		hookTopic = topicID
		hookChanges = changes
		require.Equal(t, store.StatusCandidate, candidate.Status)
		require.NotEmpty(t, reason)
	}

	analyzer.OnEpisodeCompleted(topic.ID, "ep-final")

	require.Equal(t, topic.ID, hookTopic)
	require.Contains(t, hookChanges, "searchDepth")
	require.Equal(t, store.DepthShallow, hookChanges["searchDepth"].To)

	versions, err := strategies.ListVersions(ctx, topic.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, store.StatusCandidate, versions[1].Status)
	require.Equal(t, 20, versions[1].RolloutPercentage)
}

func TestAnalyzerIsIdempotentPerEpisode(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	topic, err := backing.CreateTopic(ctx, store.Topic{ID: "t2"})
	require.NoError(t, err)
	strategies := strategy.New(backing, "gpt-mid", 7)
	_, err = strategies.CreateDefault(ctx, topic.ID)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := backing.CreateEpisode(ctx, completedEpisode(topic.ID, 10, 1, 7, false))
		require.NoError(t, err)
	}

	calls := 0
	analyzer := New(backing, strategies, nil, 5)
	analyzer.OnEvolved = func(string, store.Strategy, map[string]store.ConfigChange, string) { calls++ }

	analyzer.OnEpisodeCompleted(topic.ID, "ep-dup")
	analyzer.OnEpisodeCompleted(topic.ID, "ep-dup")

	require.Equal(t, 1, calls)
}

func TestAnalyzerKeepsWhenMetricsAreHealthy(t *testing.T) {
	ctx := context.Background()
	backing := memstore.New()
	topic, err := backing.CreateTopic(ctx, store.Topic{ID: "t3"})
	require.NoError(t, err)
	strategies := strategy.New(backing, "gpt-mid", 7)
	_, err = strategies.CreateDefault(ctx, topic.ID)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		// 60% save rate, low follow-ups, healthy senso usage: nothing should trigger.
		ep := completedEpisode(topic.ID, 10, 6, 1, true)
		_, err := backing.CreateEpisode(ctx, ep)
		require.NoError(t, err)
	}

	calls := 0
	analyzer := New(backing, strategies, nil, 5)
	analyzer.OnEvolved = func(string, store.Strategy, map[string]store.ConfigChange, string) { calls++ }
	analyzer.OnEpisodeCompleted(topic.ID, "ep-healthy")

	require.Equal(t, 0, calls)
	versions, err := strategies.ListVersions(ctx, topic.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
}
