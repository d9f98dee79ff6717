package pushservice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/fanout"
	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

const apiKey = "test-api-key"

// --- Fakes ---

type fakeSender struct {
	mu      sync.Mutex
	batches [][]string
}

func (s *fakeSender) SendToToken(context.Context, string, dispatch.Message) (string, error) {
	return "projects/p/messages/token", nil
}

func (s *fakeSender) SendToTopic(context.Context, string, dispatch.Message) (string, error) {
	return "projects/p/messages/topic", nil
}

func (s *fakeSender) SendMulticast(_ context.Context, tokens []string, _ dispatch.Message) (*dispatch.BatchOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, tokens)
	return &dispatch.BatchOutcome{SuccessCount: len(tokens)}, nil
}

type fakeRegistry struct {
	mu         sync.Mutex
	recipients map[string]string
}

func (r *fakeRegistry) ListRecipients(context.Context) ([]dispatch.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dispatch.Recipient
	for id, token := range r.recipients {
		out = append(out, dispatch.Recipient{ID: id, Token: token})
	}
	return out, nil
}

func (r *fakeRegistry) Register(_ context.Context, u urn.URN, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipients[u.String()] = token
	return nil
}

func (r *fakeRegistry) Unregister(_ context.Context, u urn.URN) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recipients, u.String())
	return nil
}

type readyBackend struct{}

func (readyBackend) Init(context.Context) error { return nil }

func newTestService(t *testing.T) (*pushservice.Wrapper, *fakeSender, *fakeRegistry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		ListenAddr:         ":0",
		APIKey:             apiKey,
		CorsAllowedOrigins: []string{"*"},
		MetricsPath:        config.DefaultMetricsPath,
	}

	sender := &fakeSender{}
	registry := &fakeRegistry{recipients: map[string]string{}}
	reg := prometheus.NewRegistry()
	observer := metrics.New(reg)
	dispatcher := fanout.New(sender, registry, fanout.Config{BatchSize: 2, Observer: observer}, logger)

	svc, err := pushservice.New(cfg, pushservice.Dependencies{
		Dispatcher: dispatcher,
		Backend:    readyBackend{},
		Registry:   registry,
		Observer:   observer,
		Gatherer:   reg,
	}, logger)
	require.NoError(t, err)
	return svc, sender, registry
}

func serve(svc *pushservice.Wrapper, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	svc.Mux().ServeHTTP(w, req)
	return w
}

func TestService_CorsPreflight(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodOptions, pushservice.SendPath, nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-API-Key, Content-Type")

	w := serve(svc, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(w.Header().Get("Access-Control-Allow-Headers")), "x-api-key")
}

func TestService_RegisterThenBroadcast(t *testing.T) {
	svc, sender, _ := newTestService(t)

	for i := range 3 {
		body := fmt.Sprintf(`{"recipient":"urn:test:user:%d","token":"device-token-%020d"}`, i, i)
		req := httptest.NewRequest(http.MethodPost, pushservice.RegisterPath, strings.NewReader(body))
		req.Header.Set("X-API-Key", apiKey)
		require.Equal(t, http.StatusNoContent, serve(svc, req).Code)
	}

	req := httptest.NewRequest(http.MethodPost, pushservice.SendPath, strings.NewReader(`{"title":"Hi","body":"All","all":true}`))
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Origin", "https://app.example")
	w := serve(svc, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["totalTokens"])
	assert.EqualValues(t, 3, body["successCount"])
	assert.Len(t, body["batches"], 2)
	assert.Len(t, sender.batches, 2)

	metricsReq := httptest.NewRequest(http.MethodGet, config.DefaultMetricsPath, nil)
	mw := serve(svc, metricsReq)
	require.Equal(t, http.StatusOK, mw.Code)
	assert.Contains(t, mw.Body.String(), `push_requests_total{audience="all",outcome="ok"} 1`)
	assert.Contains(t, mw.Body.String(), "push_batches_total 2")
}

func TestService_RecipientRoutesRequireKey(t *testing.T) {
	svc, _, registry := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, pushservice.RegisterPath,
		strings.NewReader(`{"recipient":"urn:test:user:1","token":"device-token-00000000000000000001"}`))
	w := serve(svc, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, registry.recipients)
}

func TestService_EmptyDirectory(t *testing.T) {
	svc, sender, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, pushservice.SendPath, strings.NewReader(`{"title":"Hi","body":"All","all":true}`))
	req.Header.Set("X-API-Key", apiKey)
	w := serve(svc, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
	assert.Contains(t, w.Body.String(), `"error":"No tokens"`)
	assert.Empty(t, sender.batches)
}
