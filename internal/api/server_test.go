package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderguardian/internal/api/auth"
	"github.com/orderguardian/internal/conversation"
	"github.com/orderguardian/internal/escalation"
	"github.com/orderguardian/internal/health"
	"github.com/orderguardian/internal/metrics"
	"github.com/orderguardian/internal/orchestrator"
	"github.com/orderguardian/internal/router"
	"github.com/orderguardian/internal/store"
)

var t0 = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeProcessor struct {
	err  error
	last orchestrator.Turn
}

func (f *fakeProcessor) ProcessMessage(_ context.Context, in orchestrator.Turn) (*orchestrator.Result, error) {
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.Result{ConversationID: in.ConversationID, Response: "ok", Agent: conversation.AgentController, TurnCount: 1}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seeded(t *testing.T) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	st := conversation.New("conv-1", "CUST001", "ORD123", t0)
	st.AppendUser("one", t0)
	st.AppendAssistant("two", conversation.AgentController, t0)
	st.AppendUser("three", t0)
	require.NoError(t, ms.Save(context.Background(), "conv-1", st))
	return ms
}

func TestPostMessageEndToEnd(t *testing.T) {
	ms := store.NewMemoryStore()
	ev, err := escalation.NewEvaluator(escalation.DefaultTriggers())
	require.NoError(t, err)
	orch := orchestrator.New(ms, ev, router.NewRuleRouter(), nil, orchestrator.Options{Now: func() time.Time { return t0 }})

	srv := NewServer(orch, store.NewManager(ms), nil, nil, Options{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/conv-9/messages", `{"message":"Hello there","customer_id":"CUST009"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res orchestrator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "conv-9", res.ConversationID)
	assert.NotEmpty(t, res.Response)
	assert.Equal(t, 1, res.TurnCount)
	assert.True(t, res.Created)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/conv-9", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st conversation.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Len(t, st.Messages, 2)
	assert.Equal(t, "CUST009", st.CustomerID)
}

func TestPostMessageErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("%w: message is empty", orchestrator.ErrInvalidInput), http.StatusBadRequest},
		{"inconsistent state", fmt.Errorf("%w: bad turn count", orchestrator.ErrStateInconsistent), http.StatusInternalServerError},
		{"store failure", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&fakeProcessor{err: tt.err}, store.NewManager(store.NewMemoryStore()), nil, nil, Options{})
			rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/c/messages", `{"message":"hi"}`, nil)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusInternalServerError {
				assert.Contains(t, rec.Body.String(), "internal error")
				assert.NotContains(t, rec.Body.String(), "connection refused")
			}
		})
	}

	srv := NewServer(&fakeProcessor{}, store.NewManager(store.NewMemoryStore()), nil, nil, Options{})
	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/c/messages", `{"message":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageDecodesImage(t *testing.T) {
	fp := &fakeProcessor{}
	srv := NewServer(fp, store.NewManager(store.NewMemoryStore()), nil, nil, Options{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/c/messages",
		`{"message":"see photo","order_id":"ORD456","image":"iVBORw0KGgo=","context":{"customer_tier":"vip"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), fp.last.Image)
	assert.Equal(t, "ORD456", fp.last.OrderID)
	assert.Equal(t, "vip", fp.last.Context["customer_tier"])
}

func TestGetMessages(t *testing.T) {
	srv := NewServer(&fakeProcessor{}, store.NewManager(seeded(t)), nil, nil, Options{})

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/conv-1/messages?last=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []conversation.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "two", body.Messages[0].Content)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/conv-1/messages?last=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/missing/messages", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	fp := &fakeProcessor{}
	srv := NewServer(fp, store.NewManager(store.NewMemoryStore()), nil, nil, Options{JWTSecret: "test-secret", JWTIssuer: "orderguardian"})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/c/messages", `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/c/messages", `{"message":"hi"}`,
		map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := auth.NewTokenService("other-secret", "orderguardian")
	bad, err := other.Issue("user-1", "CUST001", "customer", time.Hour, time.Now())
	require.NoError(t, err)
	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/c/messages", `{"message":"hi"}`,
		map[string]string{"Authorization": "Bearer " + bad})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ts := auth.NewTokenService("test-secret", "orderguardian")
	expired, err := ts.Issue("user-1", "CUST001", "customer", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/c/messages", `{"message":"hi"}`,
		map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	good, err := ts.Issue("user-1", "CUST001", "customer", time.Hour, time.Now())
	require.NoError(t, err)
	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/c/messages", `{"message":"hi","customer_id":"CUST777"}`,
		map[string]string{"Authorization": "Bearer " + good})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CUST001", fp.last.CustomerID, "token customer wins over the body")

	rec = do(t, srv.Handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminEndpoints(t *testing.T) {
	hash, err := auth.HashAdminKey("s3cret")
	require.NoError(t, err)
	ms := seeded(t)
	srv := NewServer(&fakeProcessor{}, store.NewManager(ms), nil, nil, Options{AdminKeyHash: hash})
	admin := map[string]string{auth.AdminKeyHeader: "s3cret"}

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/conv-1/export", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/conv-1/export", "", map[string]string{auth.AdminKeyHeader: "nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/conv-1/export", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.String()
	assert.Contains(t, exported, `"conversation_id": "conv-1"`)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/import", exported, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv.Handler(), http.MethodDelete, "/api/v1/conversations/conv-1", "", admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, ms.Len())
	rec = do(t, srv.Handler(), http.MethodDelete, "/api/v1/conversations/conv-1", "", admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/import", exported, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1, ms.Len())

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/import?overwrite=true", exported, admin)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/import", `{"conversation_id":"x","current_agent":"nobody"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	srv := NewServer(&fakeProcessor{}, store.NewManager(seeded(t)), nil, nil, Options{})
	rec := do(t, srv.Handler(), http.MethodDelete, "/api/v1/conversations/conv-1", "", map[string]string{auth.AdminKeyHeader: "anything"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveTurn("completed", time.Second)

	checker := health.NewChecker(health.Options{Metrics: m})
	checker.Register("completer", func(context.Context) error { return nil })
	checker.Register("vision", func(context.Context) error { return errors.New("unreachable") })
	checker.CheckNow(context.Background())

	srv := NewServer(&fakeProcessor{}, store.NewManager(store.NewMemoryStore()), checker, reg, Options{})

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")

	rec = do(t, srv.Handler(), http.MethodGet, "/health/capabilities", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "completer", statuses[0].Name)
	assert.True(t, statuses[0].Up)
	assert.False(t, statuses[1].Up)

	rec = do(t, srv.Handler(), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `orderguardian_turns_total{outcome="completed"} 1`)
	assert.Contains(t, rec.Body.String(), `orderguardian_capability_up{probe="vision"} 0`)
}

func TestCorruptStoredStateIsInternal(t *testing.T) {
	bs, err := store.OpenBoltStore(filepath.Join(t.TempDir(), "states.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	bad := conversation.New("conv-bad", "CUST001", "", t0)
	bad.NextAction = "billing"
	require.NoError(t, bs.Save(context.Background(), "conv-bad", bad))

	ev, err := escalation.NewEvaluator(escalation.DefaultTriggers())
	require.NoError(t, err)
	orch := orchestrator.New(bs, ev, router.NewRuleRouter(), nil, orchestrator.Options{})
	srv := NewServer(orch, store.NewManager(bs), nil, nil, Options{})

	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/conversations/conv-bad/messages", `{"message":"hello"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/api/v1/conversations/conv-bad", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "billing")
}
