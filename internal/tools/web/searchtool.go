package web

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"probe/internal/store"
	"probe/internal/toolcontract"
)

// SearchTool implements toolcontract.SearchTool: it resolves a query via
// SearXNG, then fetches and converts each result page to markdown so the
// rest of the pipeline (evaluate/extract/synthesize) always works off real
// page content rather than a bare link.
type SearchTool struct {
	searx   *tool
	fetcher *Fetcher
	// FetchConcurrency bounds how many result pages are fetched at once.
	// 0 defaults to 4.
	FetchConcurrency int
}

// NewSearchTool wires a SearXNG client at searxngURL to a markdown fetcher.
func NewSearchTool(searxngURL string, fetcher *Fetcher) *SearchTool {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	return &SearchTool{searx: NewTool(searxngURL), fetcher: fetcher}
}

func (s *SearchTool) Search(ctx context.Context, args toolcontract.SearchArgs) ([]store.Source, error) {
	category := categoryForWindow(args.TimeWindow)
	count := args.Count
	if count <= 0 {
		count = 5
	}
	results, err := s.searx.searxngSearch(ctx, args.Query, count, category)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	concurrency := s.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	sources := make([]store.Source, len(results))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, r := range results {
		i, r := i, r
		g.Go(func() error {
			sources[i] = s.fetchOne(ctx, r)
			return nil
		})
	}
	_ = g.Wait()
	return sources, nil
}

// fetchOne never fails the whole search over one bad page: a fetch error
// degrades to a title-only Source so evaluate/extract still has a URL and
// title to work with (matches §4.3's evaluate still running against every
// search result, relevant or not).
func (s *SearchTool) fetchOne(ctx context.Context, r SearchResult) store.Source {
	res, err := s.fetcher.FetchMarkdown(ctx, r.URL)
	if err != nil {
		return store.Source{Title: r.Title, URL: r.URL, Content: fmt.Sprintf("(fetch failed: %s)", err)}
	}
	title := r.Title
	if res.Title != "" {
		title = res.Title
	}
	return store.Source{Title: title, URL: r.URL, Content: res.Markdown}
}

func categoryForWindow(w store.TimeWindow) string {
	if w == store.WindowDay || w == store.WindowWeek {
		return "news"
	}
	return "general"
}
