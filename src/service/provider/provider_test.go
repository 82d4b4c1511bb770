package provider

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/service/credential"
	"github.com/batua/wallet/src/service/resolver"
	"github.com/batua/wallet/src/service/smartaccount"
	"github.com/batua/wallet/src/store"
	"github.com/batua/wallet/src/testutil"
	"github.com/batua/wallet/src/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://batua.test"

var target = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	provider *Provider
	internal *wallet.Internal
	fake     *testutil.FakeChain
	events   *recorder
	manager  *credential.Manager
}

func newTestEnv(t *testing.T, configure func(*wallet.Config)) *testEnv {
	t.Helper()
	fake := testutil.NewFakeChain(domain.BaseSepolia.ID)
	fake.SetNonce(erc4337.EntryPointV07, big.NewInt(0))
	client := fake.Client(t)

	cfg := wallet.Config{
		Chains:  []domain.Chain{domain.BaseSepolia, domain.Sepolia},
		RPC:     map[uint64]wallet.Transport{domain.BaseSepolia.ID: {Client: client}},
		Bundler: map[uint64]wallet.Transport{domain.BaseSepolia.ID: {Client: client}},
	}
	if configure != nil {
		configure(&cfg)
	}
	cfg = cfg.WithDefaults()
	st := store.New(context.Background(), store.Options{Initial: store.State{Chain: domain.BaseSepolia}})
	internal := wallet.NewInternal(cfg, st)

	manager, err := credential.NewManager(credential.Config{
		RPID:          "batua.test",
		RPDisplayName: "Batua",
		RPOrigins:     []string{testOrigin},
	}, testutil.NewSoftAuthenticator(testOrigin))
	require.NoError(t, err)
	t.Cleanup(internal.SetImplementation(manager))

	r := resolver.New(internal)
	t.Cleanup(r.Close)
	events := &recorder{}
	p := New(context.Background(), internal, Deps{
		Clients:   smartaccount.NewFactory(internal, r, nil),
		Bundlers:  r,
		Publisher: events,
	})
	t.Cleanup(p.Destroy)

	return &testEnv{provider: p, internal: internal, fake: fake, events: events, manager: manager}
}

// connect stores a passkey account and returns it.
func (e *testEnv) connect(t *testing.T) domain.Account {
	t.Helper()
	cred, err := e.manager.CreateCredential(context.Background(), "alice")
	require.NoError(t, err)
	account, err := e.manager.DeriveAccount(cred, 0)
	require.NoError(t, err)
	e.internal.Store.SetState(func(s store.State) store.State {
		s.Accounts = append(s.Accounts, account)
		return s
	})
	return account
}

func rpcRequest(t *testing.T, method string, params ...interface{}) []byte {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if len(params) > 0 {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func sendCalls(t *testing.T, from common.Address) []byte {
	return rpcRequest(t, "wallet_sendCalls", map[string]interface{}{
		"version": "1.0",
		"chainId": "0x14a34",
		"from":    from.Hex(),
		"calls":   []map[string]string{{"to": target.Hex(), "data": "0x"}},
	})
}

func TestProvider_AutoResolved(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	chainID, err := env.provider.Request(ctx, rpcRequest(t, "eth_chainId"))
	require.NoError(t, err)
	assert.Equal(t, "0x14a34", chainID)

	pong, err := env.provider.Request(ctx, rpcRequest(t, "batua_ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", pong)

	_, err = env.provider.Request(ctx, rpcRequest(t, "eth_accounts"))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 4100, domain.ToRpcError(err).Code)

	account := env.connect(t)

	accounts, err := env.provider.Request(ctx, rpcRequest(t, "eth_accounts"))
	require.NoError(t, err)
	assert.Equal(t, []common.Address{account.Address}, accounts)

	pending, err := env.provider.Enqueue(ctx, rpcRequest(t, "eth_requestAccounts"))
	require.NoError(t, err)
	assert.False(t, pending.Queued())
	requested, err := pending.Result()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{account.Address}, requested)

	connected, err := env.provider.Request(ctx, rpcRequest(t, "wallet_connect"))
	require.NoError(t, err)
	assert.Equal(t, account.Address, connected.(ConnectResult).Accounts[0].Address)

	assert.Empty(t, env.provider.Queue())
}

func TestProvider_ConnectQueuedWithoutAccounts(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, method := range []string{"eth_requestAccounts", "wallet_connect", "experimental_createAccount"} {
		pending, err := env.provider.Enqueue(context.Background(), rpcRequest(t, method))
		require.NoError(t, err, method)
		assert.True(t, pending.Queued(), method)
	}
	assert.Len(t, env.provider.Queue(), 3)
}

func TestProvider_QueueOrdering(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.connect(t)
	ctx := context.Background()

	var pendings []*Pending
	for i := 0; i < 3; i++ {
		p, err := env.provider.Enqueue(ctx, sendCalls(t, account.Address))
		require.NoError(t, err)
		require.True(t, p.Queued())
		pendings = append(pendings, p)
	}

	for i, p := range pendings {
		head, ok := env.provider.Head()
		require.True(t, ok)
		assert.Equal(t, p.ID, head.ID)
		assert.Equal(t, domain.RequestStatusPending, head.Status)
		assert.Equal(t, "wallet_sendCalls", head.Request.Method)

		if i == 1 {
			require.NoError(t, env.provider.Resolve(head.ID, Resolution{Status: domain.RequestStatusError}))
		} else {
			require.NoError(t, env.provider.Resolve(head.ID, Resolution{Status: domain.RequestStatusSuccess, Result: "0xhash"}))
		}
		for _, q := range env.provider.Queue() {
			assert.NotEqual(t, p.ID, q.ID)
		}
	}
	assert.Empty(t, env.provider.Queue())

	result, err := pendings[0].Result()
	require.NoError(t, err)
	assert.Equal(t, "0xhash", result)

	_, err = pendings[1].Result()
	assert.ErrorIs(t, err, domain.ErrUserRejected)
	assert.Equal(t, 4001, domain.ToRpcError(err).Code)
}

func TestProvider_RequestBlocksUntilResolved(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.connect(t)

	resolved := make(chan struct{})
	unsubscribe := env.provider.OnQueueChange(func(queue []domain.QueuedRequest) {
		if len(queue) == 1 {
			id := queue[0].ID
			go func() {
				defer close(resolved)
				assert.NoError(t, env.provider.Resolve(id, Resolution{Status: domain.RequestStatusSuccess, Result: "0xabc"}))
			}()
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := env.provider.Request(ctx, sendCalls(t, account.Address))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", result)
	<-resolved
	assert.Empty(t, env.provider.Queue())
}

func TestProvider_CallerGivingUpKeepsEntry(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := env.provider.Request(ctx, sendCalls(t, account.Address))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, env.provider.Queue(), 1)
}

func TestProvider_ErrorsNeverQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.connect(t)
	stranger := common.HexToAddress("0x5555555555555555555555555555555555555555")

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"unknown method", rpcRequest(t, "eth_sign", account.Address.Hex(), "0x00"), domain.ErrUnsupportedMethod},
		{"permission method", rpcRequest(t, "wallet_revokePermissions", map[string]string{"id": "0x01"}), domain.ErrUnsupportedMethod},
		{"upgrade method", rpcRequest(t, "experimental_upgradeAccount"), domain.ErrUnsupportedMethod},
		{"invalid params", rpcRequest(t, "wallet_sendCalls", map[string]interface{}{"calls": []map[string]string{{"to": "0x12"}}}), domain.ErrInvalidParams},
		{"unknown sender", sendCalls(t, stranger), domain.ErrUnauthorized},
		{"unknown signer", rpcRequest(t, "personal_sign", "0x68656c6c6f", stranger.Hex()), domain.ErrUnauthorized},
		{"unknown chain", rpcRequest(t, "eth_sendTransaction", map[string]string{"to": target.Hex(), "chainId": "0x1"}), domain.ErrChainNotFound},
		{"not json", []byte(`{"method":`), domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.provider.Enqueue(context.Background(), tt.raw)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, env.provider.Queue())
		})
	}
}

func TestProvider_SignRequestsQueued(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.connect(t)

	typedData := `{"types":{"EIP712Domain":[{"name":"name","type":"string"}],"Mail":[{"name":"body","type":"string"}]},` +
		`"primaryType":"Mail","domain":{"name":"batua"},"message":{"body":"hi"}}`
	raws := [][]byte{
		rpcRequest(t, "personal_sign", "0x68656c6c6f", account.Address.Hex()),
		rpcRequest(t, "eth_signTypedData_v4", account.Address.Hex(), typedData),
		rpcRequest(t, "eth_sendTransaction", map[string]string{"to": target.Hex(), "value": "0x1"}),
	}
	for _, raw := range raws {
		p, err := env.provider.Enqueue(context.Background(), raw)
		require.NoError(t, err)
		assert.True(t, p.Queued())
		got, ok := env.provider.Get(p.ID)
		require.True(t, ok)
		assert.Same(t, p, got)
	}
	assert.Len(t, env.provider.Queue(), 3)
}

func TestProvider_Resolve(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.connect(t)

	err := env.provider.Resolve("missing", Resolution{Status: domain.RequestStatusSuccess})
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)

	p, err := env.provider.Enqueue(context.Background(), sendCalls(t, account.Address))
	require.NoError(t, err)
	err = env.provider.Resolve(p.ID, Resolution{Status: domain.RequestStatusPending})
	assert.ErrorIs(t, err, domain.ErrInvalidParams)
	assert.Len(t, env.provider.Queue(), 1)

	failure := domain.NewError(domain.ErrorCodeRemoteProcess, errors.New("bundler down"))
	require.NoError(t, env.provider.Resolve(p.ID, Resolution{Status: domain.RequestStatusError, Error: failure}))
	_, err = p.Result()
	assert.ErrorIs(t, err, domain.ErrRemoteProcess)

	// resolving twice is rejected
	err = env.provider.Resolve(p.ID, Resolution{Status: domain.RequestStatusSuccess})
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestProvider_Capabilities(t *testing.T) {
	env := newTestEnv(t, func(cfg *wallet.Config) {
		cfg.Paymaster = &wallet.PaymasterConfig{Transports: map[uint64]wallet.Transport{
			domain.BaseSepolia.ID: {URL: "http://paymaster.invalid"},
		}}
	})

	result, err := env.provider.Request(context.Background(), rpcRequest(t, "wallet_getCapabilities"))
	require.NoError(t, err)
	caps := result.(map[string]ChainCapabilities)
	require.Len(t, caps, 2)
	assert.True(t, caps["0x14a34"].PaymasterService.Supported)
	assert.False(t, caps["0xaa36a7"].PaymasterService.Supported)
	assert.True(t, caps["0xaa36a7"].AtomicBatch.Supported)

	result, err = env.provider.Request(context.Background(), rpcRequest(t, "wallet_getCapabilities", nil, []string{"0xaa36a7"}))
	require.NoError(t, err)
	assert.Len(t, result.(map[string]ChainCapabilities), 1)
}

func TestProvider_PrepareSendAndStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.connect(t)
	ctx := context.Background()

	result, err := env.provider.Request(ctx, rpcRequest(t, "wallet_prepareCalls", map[string]interface{}{
		"chainId": "0x14a34",
		"calls":   []map[string]string{{"to": target.Hex(), "data": "0x", "value": "0x1"}},
	}))
	require.NoError(t, err)
	prepared := result.(*PreparedCalls)
	assert.Equal(t, account.Address, prepared.Context.Sender)
	assert.Equal(t, "0x14a34", prepared.ChainID)
	expected, err := prepared.Context.Hash(erc4337.EntryPointV07, big.NewInt(int64(domain.BaseSepolia.ID)))
	require.NoError(t, err)
	assert.Equal(t, expected, prepared.Digest)
	// estimated with a funded sender
	require.NotEmpty(t, env.fake.EstimateOverrides)
	assert.Contains(t, env.fake.EstimateOverrides[len(env.fake.EstimateOverrides)-1], account.Address)

	unknown, err := env.provider.Request(ctx, rpcRequest(t, "wallet_getCallsStatus", common.HexToHash("0x01").Hex()))
	require.NoError(t, err)
	assert.Equal(t, CallsStatusPending, unknown.(*CallsStatus).Status)

	signature := "0x" + common.Bytes2Hex(make([]byte, 65))
	hash, err := env.provider.Request(ctx, rpcRequest(t, "wallet_sendPreparedCalls", map[string]interface{}{
		"context":   prepared.Context,
		"signature": signature,
	}))
	require.NoError(t, err)
	require.Len(t, env.fake.Sent, 1)
	assert.Equal(t, make([]byte, 65), env.fake.Sent[0].Signature)

	status, err := env.provider.Request(ctx, rpcRequest(t, "wallet_getCallsStatus", hash.(common.Hash).Hex()))
	require.NoError(t, err)
	confirmed := status.(*CallsStatus)
	assert.Equal(t, CallsStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.Success)
	assert.True(t, *confirmed.Success)
	assert.Len(t, confirmed.Receipts, 1)
}

func TestProvider_SendPreparedCallsRequiresConnectedSender(t *testing.T) {
	env := newTestEnv(t, nil)
	env.connect(t)

	op := erc4337.UserOperation{
		Sender:               common.HexToAddress("0x5555555555555555555555555555555555555555"),
		Nonce:                big.NewInt(0),
		CallData:             []byte{},
		CallGasLimit:         big.NewInt(1),
		VerificationGasLimit: big.NewInt(1),
		PreVerificationGas:   big.NewInt(1),
		MaxFeePerGas:         big.NewInt(1),
		MaxPriorityFeePerGas: big.NewInt(1),
	}
	_, err := env.provider.Request(context.Background(), rpcRequest(t, "wallet_sendPreparedCalls", map[string]interface{}{
		"context":   op,
		"signature": "0x01",
	}))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, env.fake.Sent)
}

func TestProvider_Disconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	env.connect(t)

	_, err := env.provider.Request(context.Background(), rpcRequest(t, "wallet_disconnect"))
	require.NoError(t, err)
	assert.Empty(t, env.internal.Store.GetState().Accounts)
	assert.Contains(t, env.events.types(), domain.EventAccountsChanged)
}

func TestProvider_AnnounceAndDestroy(t *testing.T) {
	env := newTestEnv(t, nil)
	account := env.connect(t)

	require.NotEmpty(t, env.events.types())
	assert.Equal(t, domain.EventAnnounceProvider, env.events.types()[0])
	detail := env.events.events[0].Payload.(AnnounceDetail)
	assert.Equal(t, env.internal.ID, detail.UUID)
	assert.Equal(t, "Batua", detail.Name)
	assert.Equal(t, wallet.DefaultRDNS, detail.RDNS)

	p, err := env.provider.Enqueue(context.Background(), sendCalls(t, account.Address))
	require.NoError(t, err)
	assert.Contains(t, env.events.types(), domain.EventQueueChanged)

	queueCalls := 0
	env.provider.OnQueueChange(func([]domain.QueuedRequest) { queueCalls++ })

	env.provider.Destroy()
	_, err = p.Result()
	assert.ErrorIs(t, err, domain.ErrDisconnected)
	assert.Empty(t, env.internal.Store.GetState().RequestQueue)
	assert.Equal(t, 1, queueCalls)

	types := env.events.types()
	assert.Equal(t, domain.EventRevokeProvider, types[len(types)-1])

	// listeners are detached
	env.internal.Store.SetState(func(s store.State) store.State {
		s.Accounts = nil
		return s
	})
	assert.Equal(t, types, env.events.types())
	assert.Equal(t, 1, queueCalls)

	_, err = env.provider.Request(context.Background(), rpcRequest(t, "eth_chainId"))
	assert.ErrorIs(t, err, domain.ErrDisconnected)
}

func TestProvider_NoAnnounce(t *testing.T) {
	env := newTestEnv(t, func(cfg *wallet.Config) {
		announce := false
		cfg.AnnounceProvider = &announce
	})
	env.provider.Destroy()
	assert.NotContains(t, env.events.types(), domain.EventAnnounceProvider)
	assert.NotContains(t, env.events.types(), domain.EventRevokeProvider)
}
