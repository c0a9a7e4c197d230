package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/engine"
	"github.com/BaSui01/memflow/engine/economics"
	"github.com/BaSui01/memflow/engine/feedback"
	"github.com/BaSui01/memflow/engine/router"
	"github.com/BaSui01/memflow/engine/signal"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

type apiFixture struct {
	server  *Server
	handler http.Handler
	store   store.Store
	router  *router.Router
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st := store.NewMemoryStore(nil)
	extractor := signal.NewExtractor(signal.DefaultConfig(), nil, nil)
	rt := router.New(types.DefaultRouterWeights(), router.DefaultThresholds(), nil)
	eng := engine.New(engine.DefaultConfig(), extractor, rt, st, nil, nil, nil, nil)

	adapter := feedback.NewAdapter(feedback.DefaultConfig(), rt, st, nil, nil, nil)
	require.NoError(t, adapter.LoadWeights(context.Background()))
	adapter.Start(context.Background())
	t.Cleanup(adapter.Stop)

	tracker := economics.NewTracker(st.Ledger(), nil, nil)

	srv := NewServer(eng, adapter, tracker, nil)
	return &apiFixture{server: srv, handler: srv.Routes(), store: st, router: rt}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestIngestAndFetch(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	body := `{
		"owner_id": "agent-1",
		"event_type": "config_change",
		"category": "network",
		"outcome": "success",
		"description": "switched the edge pool to the new load balancer",
		"user_context": "requested during the capacity review",
		"system_context": "edge-pool-7",
		"user_satisfaction": 0.9
	}`
	rr := f.do(http.MethodPost, "/v1/events", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	var result engine.ProcessResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.NotNil(t, result.Decision)
	require.NotNil(t, result.Record)

	rr = f.do(http.MethodGet, "/v1/records/"+result.Record.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodGet, "/v1/decisions/"+result.Decision.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodPost, "/v1/records/"+result.Record.ID+"/touch", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestIngestRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rr := f.do(http.MethodPost, "/v1/events", "{not json")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPost, "/v1/events", `{"event_type":"deploy","outcome":"maybe"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRecordNotFound(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rr := f.do(http.MethodGet, "/v1/records/missing", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(http.MethodPost, "/v1/records/missing/touch", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(http.MethodPost, "/v1/records/missing/resolve-shock", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFeedbackEndpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	decision := &types.RoutingDecision{
		ID:             "d1",
		EventID:        "e1",
		Signals:        types.SignalVector{SuccessScore: 0.9},
		ChosenTier:     types.TierLongTerm,
		Confidence:     0.8,
		WeightsVersion: 1,
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.store.Decisions().Create(context.Background(), decision))

	rr := f.do(http.MethodPost, "/v1/decisions/d1/feedback", `{"outcome":"never_retrieved"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	// The async worker applies the adjustment.
	require.Eventually(t, func() bool {
		return f.router.Weights().Version == 2
	}, 2*time.Second, 10*time.Millisecond)

	rr = f.do(http.MethodPost, "/v1/decisions/d1/feedback", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEconomicsReportEndpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rr := f.do(http.MethodGet, "/v1/economics/report", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var report economics.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
}
