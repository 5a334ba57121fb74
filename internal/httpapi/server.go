// Package httpapi exposes the HTTP/SSE surface of §6.1-§6.2: topic CRUD,
// strategy/evolution inspection, and the streaming ask endpoint, following
// the same ServeMux method+path routing and respondJSON/respondError
// helper shape manifold uses for its playground API.
package httpapi

import (
	"net/http"

	"probe/internal/evolve"
	"probe/internal/orchestrator"
	"probe/internal/store"
	"probe/internal/strategy"
)

// Server wires the persistence, strategy, orchestrator and evolution layers
// to the HTTP surface.
type Server struct {
	stores     store.Store
	strategies *strategy.Store
	runtime    *orchestrator.Runtime
	mux        *http.ServeMux
}

// NewServer constructs the Server and registers every route.
func NewServer(stores store.Store, strategies *strategy.Store, runtime *orchestrator.Runtime) *Server {
	s := &Server{stores: stores, strategies: strategies, runtime: runtime, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	// Topics (spec.md §6.1 plus the SPEC_FULL.md §3 list/delete/paginated-history expansions)
	s.mux.HandleFunc("POST /api/topics", s.handleCreateTopic)
	s.mux.HandleFunc("GET /api/topics", s.handleListTopics)
	s.mux.HandleFunc("GET /api/topics/{topicID}", s.handleGetTopic)
	s.mux.HandleFunc("DELETE /api/topics/{topicID}", s.handleDeleteTopic)
	s.mux.HandleFunc("GET /api/topics/{topicID}/episodes", s.handleListEpisodes)

	// Notes
	s.mux.HandleFunc("GET /api/topics/{topicID}/notes/{noteID}", s.handleGetNote)

	// Strategies and evolutions
	s.mux.HandleFunc("GET /api/topics/{topicID}/strategies", s.handleListStrategies)
	s.mux.HandleFunc("POST /api/topics/{topicID}/strategies/{version}/promote", s.handlePromoteStrategy)
	s.mux.HandleFunc("GET /api/topics/{topicID}/evolutions", s.handleListEvolutions)

	// Research
	s.mux.HandleFunc("POST /api/topics/{topicID}/ask/stream", s.handleAskStream)
}

// WithEvolutionHook adapts an evolve.Analyzer into the Runtime's
// post-episode hook. Kept here, next to the server that owns the wiring,
// rather than in cmd/, since it is the one place both packages meet.
func WithEvolutionHook(rt *orchestrator.Runtime, analyzer *evolve.Analyzer) {
	rt.OnCompleted = analyzer.OnEpisodeCompleted
}
