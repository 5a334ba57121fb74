package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"probe/internal/apperr"
	"probe/internal/sse"
	"probe/internal/store"
)

type createTopicRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, errors.New("title is required"))
		return
	}

	if key := idempotencyKey(r); key != "" {
		if topicID, ok := s.stores.LookupIdempotencyKey(ctx, key); ok {
			topic, err := s.stores.GetTopic(ctx, topicID)
			if err != nil {
				respondError(w, statusFromErr(err), err)
				return
			}
			respondJSON(w, http.StatusOK, topic)
			return
		}
	}

	topic, err := s.stores.CreateTopic(ctx, store.Topic{Title: req.Title, Description: req.Description})
	if err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	if _, err := s.strategies.CreateDefault(ctx, topic.ID); err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	if key := idempotencyKey(r); key != "" {
		s.stores.RecordIdempotencyKey(ctx, key, topic.ID)
	}
	respondJSON(w, http.StatusCreated, topic)
}

func idempotencyKey(r *http.Request) string {
	raw := r.Header.Get("Idempotency-Key")
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	topics, err := s.stores.ListTopics(ctx, pageFromParams(page, perPage))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

func pageFromParams(page, perPage int) store.Page {
	if perPage <= 0 {
		perPage = 20
	}
	if page < 0 {
		page = 0
	}
	return store.Page{Offset: page * perPage, Limit: perPage}
}

// topicDetail is the composite read of §6.1: "topic with strategies, latest
// episodes, notes".
type topicDetail struct {
	store.Topic
	Strategies []store.Strategy `json:"strategies"`
	Episodes   []store.Episode  `json:"episodes"`
	Notes      []store.Note     `json:"notes"`
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topicID := r.PathValue("topicID")

	topic, err := s.stores.GetTopic(ctx, topicID)
	if err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	versions, err := s.strategies.ListVersions(ctx, topicID)
	if err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	episodes, err := s.stores.ListEpisodes(ctx, topicID, store.Page{Limit: 10})
	if err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	notes, err := s.stores.ListNotes(ctx, topicID)
	if err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	respondJSON(w, http.StatusOK, topicDetail{Topic: topic, Strategies: versions, Episodes: episodes, Notes: notes})
}

func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topicID := r.PathValue("topicID")
	if err := s.stores.DeleteTopic(ctx, topicID); err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topicID := r.PathValue("topicID")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	episodes, err := s.stores.ListEpisodes(ctx, topicID, pageFromParams(page, perPage))
	if err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"episodes": episodes})
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topicID := r.PathValue("topicID")
	noteID := r.PathValue("noteID")
	note, err := s.stores.GetNote(ctx, topicID, noteID)
	if err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	respondJSON(w, http.StatusOK, note)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topicID := r.PathValue("topicID")
	versions, err := s.strategies.ListVersions(ctx, topicID)
	if err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"strategies": versions})
}

func (s *Server) handlePromoteStrategy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topicID := r.PathValue("topicID")
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("version must be an integer"))
		return
	}
	if err := s.strategies.Promote(ctx, topicID, version); err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	if err := s.stores.SetActiveStrategyVersion(ctx, topicID, version); err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEvolutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topicID := r.PathValue("topicID")
	entries, err := s.strategies.ListEvolutions(ctx, topicID)
	if err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"evolutions": entries})
}

type askRequest struct {
	Query  string `json:"query"`
	UserID string `json:"userId,omitempty"`
}

// handleAskStream is §6.1's `POST /api/topics/:id/ask/stream`: request
// validation fails with a real 4xx, but once the stream starts every
// runtime failure becomes a final `error` SSE event on an HTTP 200, per
// §6.1's own exit-code rule.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topicID")
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}

	bus, err := s.runtime.Run(r.Context(), topicID, req.Query, req.UserID)
	if err != nil {
		respondError(w, statusFromErr(err), err)
		return
	}

	writer, ok := sse.NewWriter(w)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported by response writer"))
		return
	}
	sse.Pump(writer, bus, r.Context().Done())
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// statusFromErr maps the orchestrator's error taxonomy to an HTTP status
// without string-matching (§7: "HTTP layer maps Kind to status code").
func statusFromErr(err error) int {
	switch apperr.KindOf(err) {
	case apperr.RequestInvalid:
		return http.StatusBadRequest
	case apperr.UnknownTopic:
		return http.StatusNotFound
	case apperr.VersionConflict:
		return http.StatusConflict
	case apperr.NoStrategyConfigured:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
