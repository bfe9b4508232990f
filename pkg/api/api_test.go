package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francescomaiomascio/yai/pkg/capabilities"
	"github.com/francescomaiomascio/yai/pkg/ids"
	"github.com/francescomaiomascio/yai/pkg/kernel"
	"github.com/francescomaiomascio/yai/pkg/limiter"
	"github.com/francescomaiomascio/yai/pkg/memory"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type fixture struct {
	server   *Server
	handler  http.Handler
	tokens   *capabilities.TokenManager
	workRun  string
	govRun   string
	runtime  string
	planner  string
	stranger string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	em := kernel.NewEmitter(kernel.NewStore(), nil)
	gov := ids.NewRunID()
	journal := memory.NewJournal(em, gov)
	lc := memory.NewLifecycle(journal)
	reg := memory.NewRegistry()
	svc := memory.NewService(journal, reg, lc).WithLedger(em.Store())
	views := memory.NewViewBuilder(reg, lc, capabilities.NewGrantTable())

	tm, err := capabilities.NewTokenManager([]byte("0123456789abcdef-test-secret"))
	require.NoError(t, err)
	srv, err := NewServer(em, svc, views, tm)
	require.NoError(t, err)
	srv.WithClock(func() time.Time { return t0 })

	f := &fixture{server: srv, handler: srv.Handler(), tokens: tm, workRun: ids.NewRunID(), govRun: gov}
	f.runtime = f.issue(t, kernel.OriginRuntime, capabilities.AnyRun,
		capabilities.EventEmit, capabilities.MemoryWrite, capabilities.MemoryRead)
	f.planner = f.issue(t, kernel.AgentOrigin("planner"), f.workRun, capabilities.EventEmit, capabilities.MemoryRead)
	f.stranger = f.issue(t, kernel.AgentOrigin("stranger"), f.workRun, capabilities.EventEmit)
	return f
}

func (f *fixture) issue(t *testing.T, subject, run string, caps ...capabilities.Type) string {
	t.Helper()
	tok, err := f.tokens.Issue(subject, run, caps, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) emit(t *testing.T, token string, typ kernel.EventType, ts time.Time, payload map[string]any) kernel.EventRecord {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/events", token, map[string]any{
		"run_id":     f.workRun,
		"event_type": typ,
		"timestamp":  kernel.FormatTimestamp(ts),
		"payload":    payload,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[kernel.EventRecord](t, rec)
}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t)
	f.server.WithHealthCheck("archive", func(context.Context) error { return nil })

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	health := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])

	rec = f.do(t, http.MethodGet, "/v1/taxonomy", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tax := decodeBody[struct {
		Categories []taxonomyCategory `json:"categories"`
	}](t, rec)
	require.Len(t, tax.Categories, len(kernel.Categories()))
	assert.Equal(t, "RUNTIME", tax.Categories[0].Category)
}

func TestHealth_Degraded(t *testing.T) {
	f := newFixture(t)
	f.server.WithHealthCheck("archive", func(context.Context) error { return errors.New("db down") })

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEmit_RequiresToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/events", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = f.do(t, http.MethodPost, "/v1/events", "not-a-jwt", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEmit_OriginComesFromToken(t *testing.T) {
	f := newFixture(t)
	got := f.emit(t, f.planner, kernel.InferenceStep, t0, map[string]any{"step": 1})
	assert.Equal(t, kernel.AgentOrigin("planner"), got.Origin)
	assert.NotEmpty(t, got.Integrity)
	assert.True(t, ids.IsUUID(got.EventID))
}

func TestEmit_Rejections(t *testing.T) {
	f := newFixture(t)
	first := f.emit(t, f.runtime, kernel.RunProvisioned, t0.Add(time.Minute), map[string]any{})

	cases := []struct {
		name   string
		token  string
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "agent emits runtime event",
			token:  f.planner,
			body:   map[string]any{"run_id": f.workRun, "event_type": "RunCommitted", "payload": map[string]any{}, "timestamp": kernel.FormatTimestamp(t0.Add(2 * time.Minute))},
			status: http.StatusForbidden,
			code:   kernel.CodeOriginNotAllowed,
		},
		{
			name:   "timestamp regresses",
			token:  f.runtime,
			body:   map[string]any{"run_id": f.workRun, "event_type": "RunCommitted", "payload": map[string]any{}, "timestamp": kernel.FormatTimestamp(t0)},
			status: http.StatusConflict,
			code:   kernel.CodeTimestampRegress,
		},
		{
			name:  "unknown parent",
			token: f.runtime,
			body: map[string]any{"run_id": f.workRun, "event_type": "RunCommitted", "payload": map[string]any{},
				"timestamp": kernel.FormatTimestamp(t0.Add(3 * time.Minute)),
				"causality": []map[string]any{{"kind": "parent", "event_id": ids.NewEventID()}}},
			status: http.StatusConflict,
			code:   kernel.CodeUnknownParent,
		},
		{
			name:   "duplicate id",
			token:  f.runtime,
			body:   map[string]any{"event_id": first.EventID, "run_id": f.workRun, "event_type": "RunCommitted", "payload": map[string]any{}, "timestamp": kernel.FormatTimestamp(t0.Add(4 * time.Minute))},
			status: http.StatusUnprocessableEntity,
			code:   kernel.CodeDuplicateEvent,
		},
		{
			name:   "schema violation",
			token:  f.runtime,
			body:   map[string]any{"run_id": f.workRun, "event_type": "RunCommitted"},
			status: http.StatusUnprocessableEntity,
			code:   "YAI/API/SCHEMA",
		},
		{
			name:   "memory events are reserved",
			token:  f.runtime,
			body:   map[string]any{"run_id": f.workRun, "event_type": "MemoryExpired", "payload": map[string]any{}},
			status: http.StatusUnprocessableEntity,
			code:   codeReservedType,
		},
		{
			name:   "token bound to another run",
			token:  f.planner,
			body:   map[string]any{"run_id": ids.NewRunID(), "event_type": "InferenceStep", "payload": map[string]any{}},
			status: http.StatusForbidden,
			code:   capabilities.CodeAccessDenied,
		},
		{
			name:   "event type outside taxonomy",
			token:  f.runtime,
			body:   map[string]any{"run_id": f.workRun, "event_type": "Teleported", "payload": map[string]any{}},
			status: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/events", tc.token, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			p := decodeBody[ProblemDetail](t, rec)
			assert.Equal(t, tc.status, p.Status)
			if tc.code != "" {
				assert.Equal(t, tc.code, p.Code)
			}
			assert.Equal(t, "/v1/events", p.Instance)
		})
	}

	// Nothing rejected reached the log.
	assert.Equal(t, 1, f.server.emitter.Store().Len())
}

func TestEventReads(t *testing.T) {
	f := newFixture(t)
	a := f.emit(t, f.runtime, kernel.RunProvisioned, t0, map[string]any{})
	b := f.emit(t, f.planner, kernel.InferenceStep, t0.Add(time.Second), map[string]any{})

	rec := f.do(t, http.MethodGet, "/v1/events?offset=1", f.runtime, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[eventPage](t, rec)
	assert.Equal(t, 2, page.NextOffset)
	require.Len(t, page.Events, 1)
	assert.Equal(t, b.EventID, page.Events[0].EventID)
	assert.Equal(t, f.server.emitter.Store().Head(), page.Head)

	rec = f.do(t, http.MethodGet, "/v1/events", f.planner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/events?offset=-2", f.runtime, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/runs/"+f.workRun+"/events", f.planner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeBody[struct {
		Events []kernel.EventRecord `json:"events"`
	}](t, rec)
	require.Len(t, run.Events, 2)
	assert.Equal(t, a.EventID, run.Events[0].EventID)

	rec = f.do(t, http.MethodGet, "/v1/runs/"+ids.NewRunID()+"/events", f.planner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func (f *fixture) commit(t *testing.T, access map[string]any) memoryResponse {
	t.Helper()
	src := f.emit(t, f.runtime, kernel.FileWritten, t0, map[string]any{
		memory.PersistentKey: true, "summary": "wrote plan", "path": "/tmp/plan.md",
	})
	body := map[string]any{
		"run_id":           f.workRun,
		"source_event_ids": []string{src.EventID},
		"memory_type":      "episodic",
		"confidence":       0.8,
		"payload":          map[string]any{"summary": "wrote plan", "path": "/tmp/plan.md"},
	}
	if access != nil {
		body["access"] = access
	}
	rec := f.do(t, http.MethodPost, "/v1/memories", f.runtime, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[memoryResponse](t, rec)
}

func TestMemoryLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	m := f.commit(t, map[string]any{"agents": []string{"planner"}, "fields": []string{"summary"}})
	assert.Equal(t, memory.StatusActive, m.State.Status)
	assert.NotEmpty(t, m.Provenance.PromotionEventID)
	assert.Equal(t, memory.DefaultSchemaVersion, m.SchemaVersion)

	promoted, ok := f.server.emitter.Store().Find(f.govRun, m.Provenance.PromotionEventID)
	require.True(t, ok)
	assert.Equal(t, kernel.MemoryPromoted, promoted.Type())

	rec := f.do(t, http.MethodGet, "/v1/runs/"+f.workRun+"/memory-view?ids="+m.MemoryID, f.planner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[struct {
		Views []memory.View `json:"views"`
	}](t, rec)
	require.Len(t, view.Views, 1)
	assert.Equal(t, map[string]any{"summary": "wrote plan"}, view.Views[0].Payload)

	// MEMORY_READ is missing from the stranger's token.
	rec = f.do(t, http.MethodGet, "/v1/runs/"+f.workRun+"/memory-view?ids="+m.MemoryID, f.stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/memories/"+m.MemoryID+"/deprecate", f.runtime, map[string]any{"reason": "stale"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	state := decodeBody[memory.State](t, rec)
	assert.Equal(t, memory.StatusDeprecated, state.Status)
	assert.Equal(t, "stale", state.Reason)

	rec = f.do(t, http.MethodPost, "/v1/memories/"+m.MemoryID+"/expire", f.runtime, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, memory.CodeIllegalTransition, decodeBody[ProblemDetail](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/v1/memories/"+m.MemoryID+"/state", f.runtime, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, memory.StatusDeprecated, decodeBody[memory.State](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/v1/runs/"+f.workRun+"/memory-view?ids="+m.MemoryID, f.planner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"views":[]`)
}

func TestMemoryEndpoints_RuntimeOnly(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/memories", f.planner, map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/memories/"+ids.NewMemoryID()+"/expire", f.planner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMemoryEndpoints_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/memories/"+ids.NewMemoryID()+"/expire", f.runtime, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/memories/"+ids.NewMemoryID()+"/promote", f.runtime, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/memories/"+ids.NewMemoryID()+"/state", f.runtime, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Source event missing from the ledger.
	rec = f.do(t, http.MethodPost, "/v1/memories", f.runtime, map[string]any{
		"run_id": f.workRun, "source_event_ids": []string{ids.NewEventID()},
		"memory_type": "semantic", "confidence": 0.5, "payload": map[string]any{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Not persistent.
	src := f.emit(t, f.runtime, kernel.TaskStarted, t0, map[string]any{})
	rec = f.do(t, http.MethodPost, "/v1/memories", f.runtime, map[string]any{
		"run_id": f.workRun, "source_event_ids": []string{src.EventID},
		"memory_type": "semantic", "confidence": 0.5, "payload": map[string]any{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, memory.CodeNonPromotable, decodeBody[ProblemDetail](t, rec).Code)

	// Confidence outside the schema range.
	rec = f.do(t, http.MethodPost, "/v1/memories", f.runtime, map[string]any{
		"run_id": f.workRun, "source_event_ids": []string{src.EventID},
		"memory_type": "semantic", "confidence": 3, "payload": map[string]any{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMemoryView_CELPolicy(t *testing.T) {
	f := newFixture(t)
	m := f.commit(t, map[string]any{"expression": `agent.startsWith("plan")`})

	rec := f.do(t, http.MethodGet, "/v1/runs/"+f.workRun+"/memory-view?ids="+m.MemoryID+"&max=5", f.planner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), m.MemoryID)

	rec = f.do(t, http.MethodGet, "/v1/runs/"+f.workRun+"/memory-view?ids="+m.MemoryID+"&max=x", f.planner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t)
	f.server.WithLimiter(limiter.NewInMemoryStore().WithClock(func() time.Time { return t0 }), limiter.Policy{PerMinute: 1, Burst: 2})

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodGet, "/v1/runs/"+f.workRun+"/events", f.planner, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/v1/runs/"+f.workRun+"/events", f.planner, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Each origin has its own budget.
	rec = f.do(t, http.MethodGet, "/v1/runs/"+f.workRun+"/events", f.stranger, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_NoTokenManager(t *testing.T) {
	em := kernel.NewEmitter(kernel.NewStore(), nil)
	j := memory.NewJournal(em, ids.NewRunID())
	lc := memory.NewLifecycle(j)
	reg := memory.NewRegistry()
	srv, err := NewServer(em, memory.NewService(j, reg, lc), memory.NewViewBuilder(reg, lc, capabilities.NewGrantTable()), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEmit_GovernanceRunIsReserved(t *testing.T) {
	f := newFixture(t)
	agent := f.issue(t, kernel.AgentOrigin("planner"), f.govRun, capabilities.EventEmit)
	for _, token := range []string{agent, f.runtime} {
		rec := f.do(t, http.MethodPost, "/v1/events", token, map[string]any{
			"run_id": f.govRun, "event_type": "InferenceStep", "payload": map[string]any{},
			"timestamp": "2100-01-01T00:00:00Z",
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		assert.Equal(t, codeReservedRun, decodeBody[ProblemDetail](t, rec).Code)
	}
	assert.Empty(t, f.server.emitter.Store().ByRun(f.govRun))

	// Commits and transitions keep working.
	m := f.commit(t, nil)
	rec := f.do(t, http.MethodPost, "/v1/memories/"+m.MemoryID+"/deprecate", f.runtime, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDecode_BodyErrors(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewBufferString(`{"run_id":`))
	req.Header.Set("Authorization", "Bearer "+f.runtime)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	src := f.emit(t, f.runtime, kernel.FileWritten, t0, map[string]any{memory.PersistentKey: true})
	rec = f.do(t, http.MethodPost, "/v1/memories", f.runtime, map[string]any{
		"run_id": f.workRun, "source_event_ids": []string{src.EventID},
		"memory_type": "semantic", "confidence": "high", "payload": map[string]any{},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	p := decodeBody[ProblemDetail](t, rec)
	assert.Equal(t, "YAI/API/SCHEMA", p.Code)
	assert.Contains(t, p.Detail, "/confidence")
}
