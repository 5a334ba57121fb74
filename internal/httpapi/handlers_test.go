package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"probe/internal/orchestrator"
	"probe/internal/research"
	"probe/internal/store"
	memstore "probe/internal/store/memory"
	"probe/internal/strategy"
	"probe/internal/toolcontract"
)

type stubSearch struct{}

func (stubSearch) Search(context.Context, toolcontract.SearchArgs) ([]store.Source, error) {
	return nil, nil
}

func newTestServer() *Server {
	backing := memstore.New()
	strategies := strategy.New(backing, "gpt-test", 7)
	contracts := toolcontract.New(stubSearch{}, stubEval{}, stubExtract{}, stubSynth{}, stubPlan{}, nil)
	runner := research.NewRunner(contracts, nil)
	rt := orchestrator.New(backing, strategies, runner, nil)
	return NewServer(backing, strategies, rt)
}

type stubEval struct{}

func (stubEval) Evaluate(context.Context, toolcontract.EvaluateArgs) ([]toolcontract.EvalVerdict, error) {
	return nil, nil
}

type stubExtract struct{}

func (stubExtract) Extract(context.Context, toolcontract.ExtractArgs) (toolcontract.ExtractResult, error) {
	return toolcontract.ExtractResult{}, nil
}

type stubSynth struct{}

func (stubSynth) Synthesize(context.Context, toolcontract.SynthesizeArgs) (string, error) {
	return "# Summary\n\nnothing found", nil
}

type stubPlan struct{}

func (stubPlan) Reformulate(_ context.Context, query string, count int) ([]string, error) {
	out := make([]string, count)
	for i := range out {
		out[i] = query
	}
	return out, nil
}

func TestCreateTopicSeedsDefaultStrategy(t *testing.T) {
	srv := newTestServer()

	body, err := json.Marshal(createTopicRequest{Title: "Agent planners"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/topics", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var topic struct {
		ID string `json:"ID"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &topic))
	require.NotEmpty(t, topic.ID)

	getReq := httptest.NewRequest(http.MethodGet, "/api/topics/"+topic.ID, nil)
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var detail topicDetail
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &detail))
	require.Len(t, detail.Strategies, 1)
}

func TestCreateTopicIsIdempotent(t *testing.T) {
	srv := newTestServer()
	body, err := json.Marshal(createTopicRequest{Title: "Dup"})
	require.NoError(t, err)

	req1 := httptest.NewRequest(http.MethodPost, "/api/topics", bytes.NewReader(body))
	req1.Header.Set("Idempotency-Key", "key-1")
	rec1 := httptest.NewRecorder()
	srv.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusCreated, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/topics", bytes.NewReader(body))
	req2.Header.Set("Idempotency-Key", "key-1")
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.JSONEq(t, rec1.Body.String(), rec2.Body.String())
}

func TestGetUnknownTopicReturns404(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/topics/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAskStreamEndsWithTerminalEvent(t *testing.T) {
	srv := newTestServer()

	body, err := json.Marshal(createTopicRequest{Title: "Ask me"})
	require.NoError(t, err)
	createReq := httptest.NewRequest(http.MethodPost, "/api/topics", bytes.NewReader(body))
	createRec := httptest.NewRecorder()
	srv.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)
	var topic struct {
		ID string `json:"ID"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &topic))

	askBody, err := json.Marshal(askRequest{Query: "what is a planner?"})
	require.NoError(t, err)
	askReq := httptest.NewRequest(http.MethodPost, "/api/topics/"+topic.ID+"/ask/stream", bytes.NewReader(askBody))
	askRec := httptest.NewRecorder()
	srv.ServeHTTP(askRec, askReq)

	require.Equal(t, "text/event-stream", askRec.Header().Get("Content-Type"))
	require.Contains(t, askRec.Body.String(), `"type":"complete"`)
}

func TestAskStreamRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/topics/whatever/ask/stream", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
