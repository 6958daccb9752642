package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/domain/servicerequest"
	"github.com/mdao/lm-indexer/internal/domain/submission"
	"github.com/mdao/lm-indexer/internal/infrastructure/memory"
	"github.com/mdao/lm-indexer/internal/usecase"
)

const market = "0x00000000000000000000000000000000000000aa"

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	_, exists := f.values[key]
	f.mu.Unlock()
	if exists {
		return redis.NewBoolResult(false, nil)
	}
	f.Set(ctx, key, value, expiration)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

type testServer struct {
	store *memory.Store
	redis *fakeRedis
	srv   *httptest.Server
}

func newTestServer(t *testing.T, autoIndex bool) *testServer {
	t.Helper()
	store := memory.NewStore()
	fake := &fakeRedis{values: map[string]string{}}
	uc := UseCases{
		GetLaborMarket:        usecase.NewGetLaborMarket(nil, store),
		SearchLaborMarkets:    usecase.NewSearchLaborMarkets(store),
		IndexLaborMarket:      usecase.NewIndexLaborMarket(store, store, nil),
		GetServiceRequest:     usecase.NewGetServiceRequest(store),
		SearchServiceRequests: usecase.NewSearchServiceRequests(store),
		GetSubmission:         usecase.NewGetSubmission(store),
		SearchSubmissions:     usecase.NewSearchSubmissions(store),
	}
	reg := prometheus.NewRegistry()
	h := NewHandlers(uc, autoIndex, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(NewRouter(h, RouterConfig{Idempotency: fake, Registerer: reg, Gatherer: reg}))
	t.Cleanup(srv.Close)
	return &testServer{store: store, redis: fake, srv: srv}
}

func (ts *testServer) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (ts *testServer) post(t *testing.T, path, key string, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ts.store.UpsertLaborMarket(ctx, &labormarket.LaborMarket{Address: market, Title: "Wallets", Type: labormarket.TypeAnalyze}))
	require.NoError(t, ts.store.UpsertServiceRequestCreation(ctx, servicerequest.CreationWrite{
		Key:      servicerequest.Key{LaborMarketAddress: market, InternalID: "1"},
		Creation: servicerequest.Creation{Title: "Find whales"},
	}))
	require.NoError(t, ts.store.UpsertSubmission(ctx, &submission.Submission{
		InternalID: "5", LaborMarketAddress: market, ServiceRequestID: "1", Title: "Whale list",
	}))
}

func indexPayload() labormarket.LaborMarket {
	return labormarket.LaborMarket{
		Address:             market,
		Title:               "Wallets",
		Description:         "Wallet analytics",
		Type:                labormarket.TypeAnalyze,
		RewardCurveAddress:  "0x00000000000000000000000000000000000000c0",
		ReviewBadgerAddress: "0x00000000000000000000000000000000000000b0",
		ReviewBadgerTokenID: "1",
		Launch:              labormarket.Launch{Access: labormarket.LaunchAnyone},
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	status, body := ts.get(t, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", string(body))
}

func TestReadRoutes(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seed(t)

	tests := []struct {
		name     string
		path     string
		status   int
		contains string
	}{
		{name: "search markets", path: "/labor-markets?type=analyze", status: http.StatusOK, contains: `"total":1`},
		{name: "find market", path: "/labor-markets/0x00000000000000000000000000000000000000AA", status: http.StatusOK, contains: `"title":"Wallets"`},
		{name: "market missing", path: "/labor-markets/0x01", status: http.StatusNotFound, contains: "not found"},
		{name: "bad sort", path: "/labor-markets?sortBy=rank", status: http.StatusBadRequest, contains: `"field":"sortBy"`},
		{name: "bad page", path: "/labor-markets?page=two", status: http.StatusBadRequest, contains: `"field":"page"`},
		{name: "service requests", path: "/labor-markets/" + market + "/service-requests", status: http.StatusOK, contains: "Find whales"},
		{name: "service request", path: "/labor-markets/" + market + "/service-requests/1", status: http.StatusOK, contains: `"internalId":"1"`},
		{name: "service request missing", path: "/labor-markets/" + market + "/service-requests/2", status: http.StatusNotFound, contains: "not found"},
		{name: "submission", path: "/labor-markets/" + market + "/submissions/5", status: http.StatusOK, contains: "Whale list"},
		{name: "submissions", path: "/submissions?laborMarket=" + market + "&serviceRequest=1", status: http.StatusOK, contains: `"internalId":"5"`},
		{name: "no submissions", path: "/submissions?q=nothing", status: http.StatusOK, contains: "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.get(t, tt.path)
			assert.Equal(t, tt.status, status)
			assert.Contains(t, string(body), tt.contains)
		})
	}
}

func TestIndexLaborMarketDisabled(t *testing.T) {
	ts := newTestServer(t, false)
	resp := ts.post(t, "/api/indexer/labor-markets", "", indexPayload())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, ts.store.Writes())
}

func TestIndexLaborMarket(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.post(t, "/api/indexer/labor-markets", "", indexPayload())
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	_, err := ts.store.FindLaborMarket(context.Background(), market)
	require.NoError(t, err)

	bad := indexPayload()
	bad.Description = ""
	resp = ts.post(t, "/api/indexer/labor-markets", "", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIndexLaborMarketIdempotencyKey(t *testing.T) {
	ts := newTestServer(t, true)

	first := ts.post(t, "/api/indexer/labor-markets", "k1", indexPayload())
	require.Equal(t, http.StatusCreated, first.StatusCode)
	firstBody, err := io.ReadAll(first.Body)
	require.NoError(t, err)
	writes := ts.store.Writes()

	replay := ts.post(t, "/api/indexer/labor-markets", "k1", indexPayload())
	assert.Equal(t, http.StatusCreated, replay.StatusCode)
	assert.Equal(t, "true", replay.Header.Get("X-Idempotency-Hit"))
	replayBody, err := io.ReadAll(replay.Body)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstBody), string(replayBody))
	assert.Equal(t, writes, ts.store.Writes())

	ts.redis.values["idempotency:k2"] = "PROCESSING"
	busy := ts.post(t, "/api/indexer/labor-markets", "k2", indexPayload())
	assert.Equal(t, http.StatusConflict, busy.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, false)
	ts.get(t, "/health")
	status, body := ts.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(string(body), `api_requests_total{method="GET",route="/health",status="200"} 1`))
}
