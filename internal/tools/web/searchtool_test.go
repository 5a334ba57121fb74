package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"probe/internal/store"
	"probe/internal/toolcontract"
)

func TestSearchToolFetchesMarkdownForEachResult(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><article><h1>Planners</h1><p>Agent planners decompose goals.</p></article></body></html>`))
	}))
	defer page.Close()

	searx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"A planner","url":"` + page.URL + `"}]}`))
	}))
	defer searx.Close()

	st := NewSearchTool(searx.URL, NewFetcher(WithTimeout(5_000_000_000)))

	sources, err := st.Search(context.Background(), toolcontract.SearchArgs{Query: "agent planners", Count: 5, TimeWindow: store.WindowWeek})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, page.URL, sources[0].URL)
	require.Contains(t, sources[0].Content, "Agent planners decompose goals")
}

func TestSearchToolDegradesOnFetchFailure(t *testing.T) {
	searx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"Unreachable","url":"http://127.0.0.1:1"}]}`))
	}))
	defer searx.Close()

	st := NewSearchTool(searx.URL, nil)
	sources, err := st.Search(context.Background(), toolcontract.SearchArgs{Query: "x", Count: 3})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, "Unreachable", sources[0].Title)
	require.Contains(t, sources[0].Content, "fetch failed")
}
