package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/metrics"
	"github.com/batua/wallet/src/service/approval"
	"github.com/batua/wallet/src/service/credential"
	"github.com/batua/wallet/src/service/provider"
	"github.com/batua/wallet/src/service/resolver"
	"github.com/batua/wallet/src/service/smartaccount"
	"github.com/batua/wallet/src/store"
	"github.com/batua/wallet/src/testutil"
	"github.com/batua/wallet/src/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://batua.test"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	url           string
	provider      *provider.Provider
	internal      *wallet.Internal
	events        *EventHub
	authenticator *credential.RemoteAuthenticator
}

func newTestServer(t *testing.T, configure func(*Routes)) *testServer {
	t.Helper()
	ctx := context.Background()

	fake := testutil.NewFakeChain(domain.BaseSepolia.ID)
	fake.SetNonce(erc4337.EntryPointV07, big.NewInt(0))
	client := fake.Client(t)

	cfg := wallet.Config{
		Chains:  []domain.Chain{domain.BaseSepolia, domain.Sepolia},
		RPC:     map[uint64]wallet.Transport{domain.BaseSepolia.ID: {Client: client}},
		Bundler: map[uint64]wallet.Transport{domain.BaseSepolia.ID: {Client: client}},
	}.WithDefaults()
	st := store.New(ctx, store.Options{Initial: store.State{Chain: domain.BaseSepolia}})
	internal := wallet.NewInternal(cfg, st)

	manager, err := credential.NewManager(credential.Config{
		RPID:          "batua.test",
		RPDisplayName: "Batua",
		RPOrigins:     []string{testOrigin},
	}, testutil.NewSoftAuthenticator(testOrigin))
	require.NoError(t, err)
	t.Cleanup(internal.SetImplementation(manager))

	registry := prometheus.NewRegistry()
	recorder := metrics.NewWalletMetrics(registry)
	hub := NewEventHub(ctx, nil)
	hubCtx, stopHub := context.WithCancel(ctx)
	go hub.Run(hubCtx)
	t.Cleanup(stopHub)

	r := resolver.New(internal)
	t.Cleanup(r.Close)
	factory := smartaccount.NewFactory(internal, r, recorder)
	p := provider.New(ctx, internal, provider.Deps{Clients: factory, Bundlers: r, Publisher: hub, Metrics: recorder})
	t.Cleanup(p.Destroy)
	approvals := approval.New(internal, approval.Deps{Provider: p, Clients: factory, RefreshInterval: time.Hour})
	t.Cleanup(approvals.Close)
	authenticator := credential.NewRemoteAuthenticator(hub, time.Minute)

	routes := Routes{
		Provider:      p,
		Approvals:     approvals,
		Authenticator: authenticator,
		Events:        hub,
		Gatherer:      registry,
	}
	if configure != nil {
		configure(&routes)
	}
	router := gin.New()
	RegisterRoutes(ctx, router, routes)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, provider: p, internal: internal, events: hub, authenticator: authenticator}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, header http.Header) (int, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.url+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

type rpcReply struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      interface{}      `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *domain.RpcError `json:"error"`
}

func (s *testServer) rpc(t *testing.T, body interface{}) rpcReply {
	t.Helper()
	status, raw := s.do(t, http.MethodPost, "/rpc", body, nil)
	require.Equal(t, http.StatusOK, status)
	var reply rpcReply
	require.NoError(t, json.Unmarshal(raw, &reply))
	return reply
}

func (s *testServer) waitHead(t *testing.T) domain.QueuedRequest {
	t.Helper()
	var head domain.QueuedRequest
	require.Eventually(t, func() bool {
		var ok bool
		head, ok = s.provider.Head()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return head
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	status, body := srv.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, status)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Message)
	assert.Equal(t, srv.internal.ID, health.Instance)
	assert.Zero(t, health.QueueLength)
}

func TestRPC_AutoResolved(t *testing.T) {
	srv := newTestServer(t, nil)

	reply := srv.rpc(t, map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "eth_chainId"})
	assert.Equal(t, "2.0", reply.JSONRPC)
	assert.EqualValues(t, 1, reply.ID)
	assert.Nil(t, reply.Error)
	assert.JSONEq(t, `"0x14a34"`, string(reply.Result))
}

func TestRPC_NullResultIsPresent(t *testing.T) {
	srv := newTestServer(t, nil)
	_, raw := srv.do(t, http.MethodPost, "/rpc", map[string]interface{}{"jsonrpc": "2.0", "id": "d", "method": "wallet_disconnect"}, nil)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"d","result":null}`, string(raw))
}

func TestRPC_Errors(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name string
		body interface{}
		id   interface{}
		code int
	}{
		{"malformed body", `{"jsonrpc":`, nil, -32600},
		{"unknown method", map[string]interface{}{"jsonrpc": "2.0", "id": 9, "method": "eth_mine"}, float64(9), 4200},
		{"no accounts", map[string]interface{}{"jsonrpc": "2.0", "id": "a", "method": "eth_accounts"}, "a", 4100},
		{"bad params", map[string]interface{}{"jsonrpc": "2.0", "id": 3, "method": "wallet_getCallsStatus", "params": []string{"0x12"}}, float64(3), -32602},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := srv.rpc(t, tt.body)
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.code, reply.Error.Code)
			assert.Equal(t, tt.id, reply.ID)
			assert.NotEmpty(t, reply.Error.Message)
		})
	}
	assert.Empty(t, srv.provider.Queue())
}

func TestRPC_QueuedRequestConfirmed(t *testing.T) {
	srv := newTestServer(t, nil)

	replies := make(chan rpcReply, 1)
	go func() {
		replies <- srv.rpc(t, map[string]interface{}{"jsonrpc": "2.0", "id": 5, "method": "eth_requestAccounts"})
	}()

	head := srv.waitHead(t)
	assert.Equal(t, "eth_requestAccounts", head.Request.Method)

	status, body := srv.do(t, http.MethodGet, "/api/v1/queue", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var listed StandardResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Len(t, listed.Data, 1)

	status, _ = srv.do(t, http.MethodPost, "/api/v1/approvals/"+head.ID+"/confirm", nil, nil)
	require.Equal(t, http.StatusOK, status)

	select {
	case reply := <-replies:
		require.Nil(t, reply.Error)
		var addresses []common.Address
		require.NoError(t, json.Unmarshal(reply.Result, &addresses))
		require.Len(t, addresses, 1)
		assert.Equal(t, srv.internal.Store.GetState().Accounts[0].Address, addresses[0])
	case <-time.After(5 * time.Second):
		t.Fatal("queued request was not answered")
	}
}

func TestRPC_QueuedRequestRejected(t *testing.T) {
	srv := newTestServer(t, nil)

	replies := make(chan rpcReply, 1)
	go func() {
		replies <- srv.rpc(t, map[string]interface{}{"jsonrpc": "2.0", "id": 6, "method": "wallet_connect"})
	}()
	head := srv.waitHead(t)

	status, _ := srv.do(t, http.MethodPost, "/api/v1/queue/"+head.ID+"/resolve", map[string]string{"status": "error"}, nil)
	require.Equal(t, http.StatusOK, status)

	reply := <-replies
	require.NotNil(t, reply.Error)
	assert.Equal(t, 4001, reply.Error.Code)
}

func TestRPC_ResolveWithCustomError(t *testing.T) {
	srv := newTestServer(t, nil)

	replies := make(chan rpcReply, 1)
	go func() {
		replies <- srv.rpc(t, map[string]interface{}{"jsonrpc": "2.0", "id": 6, "method": "wallet_connect"})
	}()
	head := srv.waitHead(t)

	status, _ := srv.do(t, http.MethodPost, "/api/v1/queue/"+head.ID+"/resolve", map[string]interface{}{
		"status": "error",
		"error":  map[string]interface{}{"code": -32000, "message": "bundler down"},
	}, nil)
	require.Equal(t, http.StatusOK, status)

	reply := <-replies
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32000, reply.Error.Code)
	assert.Equal(t, "bundler down", reply.Error.Message)
}

func TestQueue_Errors(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := srv.do(t, http.MethodGet, "/api/v1/queue/head", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	var resp StandardResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, -32001, resp.Code)

	status, _ = srv.do(t, http.MethodPost, "/api/v1/queue/missing/resolve", map[string]string{"status": "pending"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = srv.do(t, http.MethodPost, "/api/v1/queue/missing/resolve", map[string]string{"status": "success"}, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = srv.do(t, http.MethodPost, "/api/v1/approvals/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = srv.do(t, http.MethodDelete, "/api/v1/approvals/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSharedSecret(t *testing.T) {
	srv := newTestServer(t, func(r *Routes) { r.APISecret = "s3cret" })

	status, _ := srv.do(t, http.MethodGet, "/api/v1/queue", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = srv.do(t, http.MethodGet, "/api/v1/queue", nil, http.Header{"X-Api-Secret": {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = srv.do(t, http.MethodGet, "/api/v1/queue", nil, http.Header{"X-Api-Secret": {"s3cret"}})
	assert.Equal(t, http.StatusOK, status)

	// the dapp-facing routes stay open
	reply := srv.rpc(t, map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "batua_ping"})
	assert.JSONEq(t, `"pong"`, string(reply.Result))
	status, _ = srv.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthenticatorBridge(t *testing.T) {
	srv := newTestServer(t, nil)

	errs := make(chan error, 1)
	go func() {
		_, err := srv.authenticator.Create(context.Background(), &protocol.CredentialCreation{})
		errs <- err
	}()

	var prompts []credential.Prompt
	require.Eventually(t, func() bool {
		prompts = srv.authenticator.Pending()
		return len(prompts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	status, body := srv.do(t, http.MethodGet, "/api/v1/authenticator", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), prompts[0].ID)

	status, _ = srv.do(t, http.MethodPost, "/api/v1/authenticator/"+prompts[0].ID, map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = srv.do(t, http.MethodPost, "/api/v1/authenticator/"+prompts[0].ID, map[string]interface{}{"dismissed": true}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.ErrorIs(t, <-errs, credential.ErrDismissed)

	status, _ = srv.do(t, http.MethodPost, "/api/v1/authenticator/"+prompts[0].ID, map[string]interface{}{"dismissed": true}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func dialEvents(t *testing.T, srv *testServer) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.url, "http")+"/api/v1/events", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var event domain.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestEventHub_StreamsQueueChanges(t *testing.T) {
	srv := newTestServer(t, nil)
	conn := dialEvents(t, srv)
	require.Eventually(t, func() bool { return srv.events.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	replies := make(chan rpcReply, 1)
	go func() {
		replies <- srv.rpc(t, map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "wallet_connect"})
	}()

	event := readEvent(t, conn)
	assert.Equal(t, domain.EventQueueChanged, event.Type)
	head := srv.waitHead(t)
	require.NoError(t, srv.provider.Resolve(head.ID, provider.Resolution{Status: domain.RequestStatusError}))
	<-replies

	event = readEvent(t, conn)
	assert.Equal(t, domain.EventQueueChanged, event.Type)
}

func TestEventHub_ReplaysSnapshot(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.events.SetSnapshot(func() []domain.Event {
		return []domain.Event{{Type: domain.EventAnnounceProvider, Payload: srv.provider.AnnounceDetail()}}
	})

	conn := dialEvents(t, srv)
	event := readEvent(t, conn)
	assert.Equal(t, domain.EventAnnounceProvider, event.Type)
	payload, ok := event.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, wallet.DefaultRDNS, payload["rdns"])
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.rpc(t, map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "eth_chainId"})

	status, body := srv.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `batua_rpc_requests_total{method="eth_chainId",outcome="auto"} 1`)
}

func TestRequestID(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.url + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, srv.url+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}
