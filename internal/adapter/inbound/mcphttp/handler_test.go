package mcphttp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/merchanttools/internal/adapter/inbound/mcphttp"
	"github.com/i2y/merchanttools/internal/adapter/outbound/httpinvoker"
	"github.com/i2y/merchanttools/internal/adapter/outbound/memrepo"
	"github.com/i2y/merchanttools/internal/adapter/outbound/normalizer"
	"github.com/i2y/merchanttools/internal/adapter/outbound/schema"
	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
	"github.com/i2y/merchanttools/pkg/shared/mcpjsonrpc"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var info = mcphttp.ServerInfo{Name: "merchanttools", Version: "test"}

type fakeInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeInvalidator) Invalidate(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

type env struct {
	server      *httptest.Server
	upstream    *httptest.Server
	invalidator *fakeInvalidator
	lastBody    chan map[string]any
}

func newEnv(t *testing.T, streamOpts ...mcphttp.StreamOption) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{invalidator: &fakeInvalidator{}, lastBody: make(chan map[string]any, 8)}

	e.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		e.lastBody <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[{"title":"Red Lipstick","price":{"effective":{"min":499},"marked":{"min":699}}}],"page":{"total":1}}`)
	}))
	t.Cleanup(e.upstream.Close)

	store := memrepo.NewStore(testLogger)
	require.NoError(t, store.SaveMerchant(ctx, domain.Merchant{ID: "m1", Name: "Glow Store"}))
	require.NoError(t, store.SaveMerchant(ctx, domain.Merchant{ID: "empty", Name: "Empty Shop"}))
	_, err := store.SaveTemplate(ctx, domain.Template{
		MerchantID: "m1",
		ToolType:   "search",
		Method:     "POST",
		URL:        e.upstream.URL + "/search",
		Body:       map[string]any{"q": "{{query}}"},
	})
	require.NoError(t, err)

	list := usecase.NewListToolsUseCase(store, store, schema.NewDeriver(testLogger), testLogger)
	call := usecase.NewCallToolUseCase(list, store,
		httpinvoker.NewBuilder(testLogger),
		httpinvoker.New(e.upstream.Client(), testLogger),
		normalizer.New(nil, testLogger),
		testLogger)
	publish := usecase.NewPublishToolsUseCase(list, call, testLogger)

	dispatcher := mcphttp.NewDispatcher(list, call, info, testLogger)
	handlers := mcphttp.NewHandlers(mcphttp.Deps{
		Dispatcher:  dispatcher,
		Streamer:    mcphttp.NewStreamer(dispatcher, testLogger, streamOpts...),
		Caller:      call,
		MCP:         mcphttp.NewMCPHandler(publish, info, testLogger),
		Invalidator: e.invalidator,
	}, testLogger)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)
	handlers.RegisterAdminRoutes(mux)
	e.server = httptest.NewServer(mux)
	t.Cleanup(e.server.Close)
	return e
}

type rpcResponse struct {
	Version string           `json:"jsonrpc"`
	Result  json.RawMessage  `json:"result"`
	Error   *mcpjsonrpc.Error `json:"error"`
	ID      json.RawMessage  `json:"id"`
}

func (e *env) rpc(t *testing.T, merchantID, body string) rpcResponse {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/merchants/"+merchantID+"/rpc", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRPC_Initialize(t *testing.T) {
	e := newEnv(t)
	resp := e.rpc(t, "m1", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `1`, string(resp.ID))

	var result mcphttp.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, info, result.ServerInfo)
	assert.Equal(t, "Glow Store", result.Merchant.Name)
	assert.Contains(t, result.Capabilities, "tools")
}

func TestRPC_ToolsListAndCall(t *testing.T) {
	e := newEnv(t)

	resp := e.rpc(t, "m1", `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`)
	require.Nil(t, resp.Error)
	var list mcphttp.ToolsListResult
	require.NoError(t, json.Unmarshal(resp.Result, &list))
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "search", list.Tools[0].Name)
	assert.Equal(t, []string{"query"}, list.Tools[0].InputSchema.Required)

	resp = e.rpc(t, "m1", `{"jsonrpc":"2.0","id":"b","method":"tools/call","params":{"name":"search","arguments":{"query":"lipstick"}}}`)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `"b"`, string(resp.ID))
	assert.Equal(t, map[string]any{"q": "lipstick"}, <-e.lastBody)

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	var normalized domain.NormalizedResult
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &normalized))
	require.Len(t, normalized.Products, 1)
	assert.Equal(t, "Red Lipstick", normalized.Products[0].Name)
	assert.Equal(t, 499.0, *normalized.Products[0].Price)
	assert.Equal(t, "29% off", normalized.Products[0].Discount)
}

func TestRPC_EmptyMerchant(t *testing.T) {
	e := newEnv(t)

	resp := e.rpc(t, "empty", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.Nil(t, resp.Error)

	resp = e.rpc(t, "empty", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"tools":[]}`, string(resp.Result))

	resp = e.rpc(t, "empty", `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"search","arguments":{}}}`)
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), `"isError":true`)
	assert.Contains(t, string(resp.Result), "Tool 'search' not found for merchant")
}

func TestRPC_Errors(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name     string
		merchant string
		body     string
		wantCode int
		wantMsg  string
	}{
		{"unknown method", "m1", `{"jsonrpc":"2.0","id":7,"method":"resources/list"}`, mcpjsonrpc.CodeMethodNotFound, "Method not found"},
		{"parse error", "m1", `{"jsonrpc":`, mcpjsonrpc.CodeParseError, "Parse error"},
		{"missing tool name", "m1", `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{}}`, mcpjsonrpc.CodeInvalidParams, "tool name"},
		{"unknown merchant", "ghost", `{"jsonrpc":"2.0","id":9,"method":"tools/list"}`, mcpjsonrpc.CodeInternalError, "merchant not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.rpc(t, tt.merchant, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.wantMsg)
			assert.Equal(t, "2.0", resp.Version)
		})
	}
}

func TestRPC_Ping(t *testing.T) {
	e := newEnv(t)
	resp := e.rpc(t, "m1", `{"jsonrpc":"2.0","id":42,"method":"ping"}`)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{}`, string(resp.Result))
	assert.JSONEq(t, `42`, string(resp.ID))
}

type panickingCaller struct{}

func (panickingCaller) Execute(context.Context, string, string, map[string]any) usecase.CallOutcome {
	panic("boom")
}

type staticLister struct{}

func (staticLister) Merchant(_ context.Context, id string) (*domain.Merchant, error) {
	return &domain.Merchant{ID: id}, nil
}

func (staticLister) Execute(context.Context, string) ([]domain.Tool, error) { return nil, nil }

func TestDispatcher_RecoversPanics(t *testing.T) {
	d := mcphttp.NewDispatcher(staticLister{}, panickingCaller{}, info, testLogger)
	resp := d.Handle(context.Background(), "m1", mcpjsonrpc.Request{
		Version: "2.0",
		Method:  mcpjsonrpc.MethodToolsCall,
		Params:  json.RawMessage(`{"name":"x"}`),
		ID:      json.RawMessage(`5`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcpjsonrpc.CodeInternalError, resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)
	assert.JSONEq(t, `5`, string(resp.ID))
}

func TestDirectCall(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Post(e.server.URL+"/merchants/m1/tools/search", "application/json", strings.NewReader(`{"query":"red"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome usecase.CallOutcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.True(t, outcome.Success)
	assert.Equal(t, 200, outcome.Status)
	require.NotNil(t, outcome.Normalized)
	assert.Len(t, outcome.Normalized.Products, 1)
	assert.Equal(t, map[string]any{"q": "red"}, <-e.lastBody)

	resp2, err := http.Post(e.server.URL+"/merchants/m1/tools/nope", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	var missing usecase.CallOutcome
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&missing))
	assert.False(t, missing.Success)
	assert.Equal(t, "Tool 'nope' not found for merchant", missing.Error)

	resp3, err := http.Post(e.server.URL+"/merchants/m1/tools/search", "application/json", strings.NewReader(`[1,2]`))
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}

func TestAdminInvalidateAndHealth(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Post(e.server.URL+"/admin/merchants/m1/invalidate", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"m1"}, e.invalidator.ids)

	resp, err = http.Get(e.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok","streams":0}`, string(body))
}

func TestMCPEndpoint(t *testing.T) {
	e := newEnv(t)

	post := func(body string) map[string]any {
		req, err := http.NewRequest(http.MethodPost, e.server.URL+"/merchants/m1/mcp", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	out := post(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`)
	result, ok := out["result"].(map[string]any)
	require.True(t, ok, "initialize result: %v", out)
	assert.Equal(t, "merchanttools", result["serverInfo"].(map[string]any)["name"])

	out = post(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	result, ok = out["result"].(map[string]any)
	require.True(t, ok, "tools/list result: %v", out)
	tools := result["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].(map[string]any)["name"])

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/merchants/ghost/mcp", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type event struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) event {
	t.Helper()
	var ev event
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventStream(t *testing.T) {
	ticks := make(chan time.Time)
	stopped := make(chan struct{})
	var states []mcphttp.StreamState
	var mu sync.Mutex
	closed := make(chan struct{})

	e := newEnv(t,
		mcphttp.WithTickerFactory(func(d time.Duration) (<-chan time.Time, func()) {
			assert.Equal(t, mcphttp.DefaultHeartbeatInterval, d)
			return ticks, func() { close(stopped) }
		}),
		mcphttp.WithStreamObserver(func(_ string, s mcphttp.StreamState) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
			if s == mcphttp.StateClosed {
				close(closed)
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.server.URL+"/merchants/m1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ev := readEvent(t, r)
	assert.Equal(t, mcphttp.EventServerInfo, ev.name)
	assert.Contains(t, ev.data, `"Glow Store"`)

	ev = readEvent(t, r)
	assert.Equal(t, mcphttp.EventToolsList, ev.name)
	assert.Contains(t, ev.data, `"name":"search"`)

	ticks <- time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev = readEvent(t, r)
	assert.Equal(t, mcphttp.EventHeartbeat, ev.name)
	assert.Contains(t, ev.data, "2026-01-01T00:00:00Z")

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat ticker was not stopped after disconnect")
	}
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not reach the closed state")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []mcphttp.StreamState{mcphttp.StateConnecting, mcphttp.StateStreaming, mcphttp.StateClosed}, states)
}

// brokenLister knows the merchant but cannot load its templates.
type brokenLister struct{}

func (brokenLister) Merchant(_ context.Context, id string) (*domain.Merchant, error) {
	return &domain.Merchant{ID: id, Name: "Glow Store"}, nil
}

func (brokenLister) Execute(context.Context, string) ([]domain.Tool, error) {
	return nil, errors.New("template store unavailable")
}

func TestEventStream_ListFailureSendsEmptyTools(t *testing.T) {
	dispatcher := mcphttp.NewDispatcher(brokenLister{}, nil, info, testLogger)
	streamer := mcphttp.NewStreamer(dispatcher, testLogger,
		mcphttp.WithTickerFactory(func(time.Duration) (<-chan time.Time, func()) {
			return make(chan time.Time), func() {}
		}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamer.Serve(w, r, "m1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, mcphttp.EventServerInfo, readEvent(t, r).name)
	ev := readEvent(t, r)
	assert.Equal(t, mcphttp.EventToolsList, ev.name)
	assert.JSONEq(t, `{"tools":[]}`, ev.data)
}

func TestEventStream_UnknownMerchant(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.server.URL + "/merchants/ghost/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
