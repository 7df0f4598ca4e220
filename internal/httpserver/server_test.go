package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"audience-sync/internal/audience"
	"audience-sync/internal/cache"
	"audience-sync/internal/insights"
	"audience-sync/internal/logging"
	"audience-sync/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPipeline struct {
	syncReq   pipeline.SyncRequest
	lalReq    pipeline.LookalikeRequest
	query     insights.Query
	runPhones []string
	result    pipeline.Result
	snapshot  *insights.Snapshot
	calls     int
}

func (p *stubPipeline) Sync(_ context.Context, req pipeline.SyncRequest) pipeline.Result {
	p.calls++
	p.syncReq = req
	return p.result
}

func (p *stubPipeline) Lookalike(_ context.Context, req pipeline.LookalikeRequest) pipeline.Result {
	p.calls++
	p.lalReq = req
	return p.result
}

func (p *stubPipeline) RunScheduled(_ context.Context, phones []string) pipeline.Result {
	p.calls++
	p.runPhones = phones
	return p.result
}

func (p *stubPipeline) CollectMetrics(context.Context) pipeline.Result {
	p.calls++
	return p.result
}

func (p *stubPipeline) LatestSnapshot(context.Context) (insights.Snapshot, bool) {
	if p.snapshot == nil {
		return insights.Snapshot{}, false
	}
	return *p.snapshot, true
}

func (p *stubPipeline) Campaigns(context.Context) pipeline.Result {
	p.calls++
	return p.result
}

func (p *stubPipeline) Audiences(context.Context) pipeline.Result {
	p.calls++
	return p.result
}

func (p *stubPipeline) Insights(_ context.Context, q insights.Query) pipeline.Result {
	p.calls++
	p.query = q
	return p.result
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func serve(t *testing.T, srv *Server, method, target, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func newTestServer(p *stubPipeline, configured bool, basePath string) *Server {
	return New(":0", logging.Discard(), nil, Dependencies{
		Pipeline:       p,
		Phones:         func() ([]string, error) { return []string{"79991234567"}, nil },
		MetaConfigured: configured,
	}, basePath)
}

func TestMissingCredentialsShortCircuits(t *testing.T) {
	p := &stubPipeline{}
	srv := newTestServer(p, false, "")

	code, env := serve(t, srv, http.MethodPost, "/api/audiences/sync", `{"phones":["1"]}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, env.Success)
	assert.Equal(t, "Meta API credentials are not configured", env.Message)
	assert.Zero(t, p.calls)
}

func TestHealthzDoesNotNeedCredentials(t *testing.T) {
	srv := newTestServer(&stubPipeline{}, false, "")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSyncPassesBody(t *testing.T) {
	p := &stubPipeline{result: pipeline.Result{Success: true, Message: "synced"}}
	srv := newTestServer(p, true, "")

	code, env := serve(t, srv, http.MethodPost, "/api/audiences/sync",
		`{"name":"VIP","phones":["+7 (999) 123-45-67","89991112233"]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "VIP", p.syncReq.Name)
	assert.Equal(t, []string{"+7 (999) 123-45-67", "89991112233"}, p.syncReq.Phones)
}

func TestSyncRejectsInvalidBodies(t *testing.T) {
	p := &stubPipeline{}
	srv := newTestServer(p, true, "")

	code, env := serve(t, srv, http.MethodPost, "/api/audiences/sync", `{"phones":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "phones")

	code, _ = serve(t, srv, http.MethodPost, "/api/audiences/sync", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(t, srv, http.MethodGet, "/api/audiences/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Zero(t, p.calls)
}

func TestLookalikeValidatesRatio(t *testing.T) {
	p := &stubPipeline{result: pipeline.Result{Success: true}}
	srv := newTestServer(p, true, "")

	code, _ := serve(t, srv, http.MethodPost, "/api/audiences/lookalike", `{"ratio":0.25}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Zero(t, p.calls)

	code, _ = serve(t, srv, http.MethodPost, "/api/audiences/lookalike", `{"country":"de","ratio":0.2}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "de", p.lalReq.Country)
	assert.InDelta(t, 0.2, p.lalReq.Ratio, 1e-9)
}

func TestResultStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &audience.ValidationError{Field: "ratio", Reason: "bad"}, http.StatusBadRequest},
		{"query", insights.ErrInvalidQuery, http.StatusBadRequest},
		{"locked", cache.ErrLockHeld, http.StatusConflict},
		{"remote", errors.New("meta down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &stubPipeline{result: pipeline.Result{Message: tc.name, Err: tc.err}}
			code, env := serve(t, newTestServer(p, true, ""), http.MethodPost, "/api/metrics/collect", "")
			assert.Equal(t, tc.want, code)
			assert.False(t, env.Success)
			assert.Equal(t, tc.name, env.Message)
		})
	}
}

func TestInsightsQueryParsing(t *testing.T) {
	p := &stubPipeline{result: pipeline.Result{Success: true}}
	srv := newTestServer(p, true, "")

	code, _ := serve(t, srv, http.MethodGet, "/api/insights?level=ad&ids=1,2&status=ACTIVE&since=2024-01-01&until=2024-01-02&fields=spend,clicks", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, insights.Query{
		Level:     "ad",
		ObjectIDs: []string{"1", "2"},
		Fields:    []string{"spend", "clicks"},
		Since:     "2024-01-01",
		Until:     "2024-01-02",
		Statuses:  []string{"ACTIVE"},
	}, p.query)
}

func TestLatestMetrics(t *testing.T) {
	p := &stubPipeline{}
	srv := newTestServer(p, true, "")

	code, env := serve(t, srv, http.MethodGet, "/api/metrics/latest", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)

	p.snapshot = &insights.Snapshot{Summary: insights.Summary{TotalClicks: 10}}
	code, env = serve(t, srv, http.MethodGet, "/api/metrics/latest", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"total_clicks":10`)
}

func TestRunUsesPhoneSourceUnderBasePath(t *testing.T) {
	p := &stubPipeline{result: pipeline.Result{Success: true}}
	srv := newTestServer(p, true, "/audience/")

	code, _ := serve(t, srv, http.MethodPost, "/audience/api/run", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"79991234567"}, p.runPhones)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
