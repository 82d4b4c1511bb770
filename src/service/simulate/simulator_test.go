package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/service/resolver"
	"github.com/batua/wallet/src/store"
	"github.com/batua/wallet/src/testutil"
	"github.com/batua/wallet/src/wallet"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender      = common.HexToAddress("0x00000000000000000000000000000000005e17de")
	ensResolver = common.HexToAddress("0x000000000000000000000000000000000000e45e")
)

type fakeAccount struct {
	node      *resolver.RpcClient
	calls     []domain.Call
	decodeErr error
}

func (a *fakeAccount) Address() common.Address { return sender }

func (a *fakeAccount) DecodeCalls([]byte) ([]domain.Call, error) {
	return a.calls, a.decodeErr
}

func (a *fakeAccount) Node() *resolver.RpcClient { return a.node }

type metadataServer struct {
	*httptest.Server
	logoHits     atomic.Int32
	metadataHits atomic.Int32
}

// newMetadataServer serves a logo for tokenA only and metadata for every
// token under /ipfs/.
func newMetadataServer(t *testing.T) *metadataServer {
	t.Helper()
	m := &metadataServer{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/logos/"):
			m.logoHits.Add(1)
			if r.Method == http.MethodHead && r.URL.Path == "/logos/"+tokenA.Hex()+"/logo.png" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case strings.HasPrefix(r.URL.Path, "/ipfs/meta/"):
			m.metadataHits.Add(1)
			w.Header().Set("Content-Type", "text/plain")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"name":        "Cookie #" + strings.TrimPrefix(r.URL.Path, "/ipfs/meta/"),
				"description": "a cookie",
				"image":       "ipfs://img/cookie.png",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

type simEnv struct {
	fake      *testutil.FakeChain
	account   *fakeAccount
	simulator *Simulator
	server    *metadataServer
}

func newSimEnv(t *testing.T) *simEnv {
	t.Helper()
	fake := testutil.NewFakeChain(domain.Sepolia.ID)
	cfg := wallet.Config{
		Chains: []domain.Chain{domain.Sepolia},
		RPC:    map[uint64]wallet.Transport{domain.Sepolia.ID: {Client: fake.Client(t)}},
	}.WithDefaults()
	st := store.New(context.Background(), store.Options{Initial: store.State{Chain: domain.Sepolia}})
	r := resolver.New(wallet.NewInternal(cfg, st))
	t.Cleanup(r.Close)
	node, err := r.Client(context.Background(), domain.Sepolia.ID)
	require.NoError(t, err)

	server := newMetadataServer(t)
	simulator, err := New(context.Background(), Options{
		LogoBaseURL: server.URL + "/logos/",
		IPFSGateway: server.URL + "/ipfs/",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = simulator.Close() })

	return &simEnv{
		fake:      fake,
		account:   &fakeAccount{node: node, calls: []domain.Call{{To: tokenA, Data: hexutil.Bytes{0x01}}}},
		simulator: simulator,
		server:    server,
	}
}

func (e *simEnv) emit(logs ...Log) {
	e.fake.Simulate = func(calls []testutil.SimCall, _ erc4337.StateOverride) ([]testutil.SimCallResult, error) {
		out := make([]testutil.SimCallResult, len(calls))
		for i := range calls {
			out[i] = testutil.SimCallResult{Status: 1, Logs: []testutil.SimLog{}}
		}
		for _, l := range logs {
			out[0].Logs = append(out[0].Logs, testutil.SimLog{Address: l.Address, Topics: l.Topics, Data: l.Data})
		}
		return out, nil
	}
}

func (e *simEnv) answer(t *testing.T, to common.Address, signature string, contract abi.ABI, method string, values ...interface{}) {
	t.Helper()
	out, err := contract.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	e.fake.OnCall(to, testutil.Selector(signature), func(common.Address, []byte) ([]byte, error) {
		return out, nil
	})
}

func TestSimulate_EnrichesEvents(t *testing.T) {
	env := newSimEnv(t)
	env.emit(
		erc20Transfer(tokenA, sender, bob, 5),
		erc721Transfer(nftC, sender, carol, 42),
	)
	env.answer(t, tokenA, "name()", erc20ABI, "name", "USD Coin")
	env.answer(t, tokenA, "symbol()", erc20ABI, "symbol", "USDC")
	env.answer(t, tokenA, "decimals()", erc20ABI, "decimals", uint8(6))
	env.answer(t, nftC, "name()", erc721ABI, "name", "Cookies")
	env.answer(t, nftC, "symbol()", erc721ABI, "symbol", "CKE")
	env.answer(t, nftC, "tokenURI(uint256)", erc721ABI, "tokenURI", "ipfs://meta/42")
	env.answer(t, *domain.Sepolia.EnsRegistry, "resolver(bytes32)", ensABI, "resolver", ensResolver)
	env.fake.OnCall(ensResolver, testutil.Selector("name(bytes32)"), func(_ common.Address, input []byte) ([]byte, error) {
		name := ""
		if common.BytesToHash(input[4:36]) == reverseNode(bob) {
			name = "bob.eth"
		}
		return ensABI.Methods["name"].Outputs.Pack(name)
	})

	events := env.simulator.Simulate(context.Background(), env.account, &erc4337.UserOperation{Sender: sender, CallData: []byte{0xaa}})
	require.Len(t, events, 2)

	token := events[0]
	require.NotNil(t, token.TokenInfo)
	assert.Equal(t, "USD Coin", token.TokenInfo.Name)
	assert.Equal(t, "USDC", token.TokenInfo.Symbol)
	assert.Equal(t, uint8(6), *token.TokenInfo.Decimals)
	assert.Equal(t, env.server.URL+"/logos/"+tokenA.Hex()+"/logo.png", token.TokenInfo.Logo)
	assert.Equal(t, "bob.eth", token.EnsName)

	nft := events[1]
	require.NotNil(t, nft.TokenInfo)
	assert.Equal(t, "Cookies", nft.TokenInfo.Name)
	require.NotNil(t, nft.NftInfo)
	assert.Equal(t, "Cookie #42", nft.NftInfo.Name)
	assert.Equal(t, "a cookie", nft.NftInfo.Description)
	assert.Equal(t, env.server.URL+"/ipfs/img/cookie.png", nft.NftInfo.Image)
	assert.Empty(t, nft.EnsName)

	// the decoded calls are simulated from the sender with a funded balance
	require.Len(t, env.fake.SimulateCalls, 1)
	call := env.fake.SimulateCalls[0][0]
	assert.Equal(t, sender, *call.From)
	assert.Equal(t, tokenA, *call.To)
	override := env.fake.SimulateOverrides[0]
	require.Contains(t, override, sender)
	assert.Equal(t, erc4337.Ether(10000).String(), override[sender].Balance.ToInt().String())
}

func TestSimulate_CachesLookups(t *testing.T) {
	env := newSimEnv(t)
	env.emit(erc20Transfer(tokenA, sender, bob, 5), erc721Transfer(nftC, sender, carol, 1))
	env.answer(t, tokenA, "name()", erc20ABI, "name", "USD Coin")
	env.answer(t, tokenA, "symbol()", erc20ABI, "symbol", "USDC")
	env.answer(t, tokenA, "decimals()", erc20ABI, "decimals", uint8(6))
	env.answer(t, nftC, "tokenURI(uint256)", erc721ABI, "tokenURI", "ipfs://meta/1")

	op := &erc4337.UserOperation{Sender: sender}
	first := env.simulator.Simulate(context.Background(), env.account, op)
	second := env.simulator.Simulate(context.Background(), env.account, op)
	assert.Equal(t, first[0].TokenInfo, second[0].TokenInfo)
	assert.Equal(t, int32(1), env.server.logoHits.Load())
	assert.Equal(t, int32(1), env.server.metadataHits.Load())
}

func TestSimulate_MetadataFallbacks(t *testing.T) {
	env := newSimEnv(t)
	env.emit(erc20Transfer(tokenB, sender, bob, 1), erc721Transfer(nftC, sender, bob, 3))

	events := env.simulator.Simulate(context.Background(), env.account, &erc4337.UserOperation{Sender: sender})
	require.Len(t, events, 2)
	require.NotNil(t, events[0].TokenInfo)
	assert.Equal(t, "ERC20", events[0].TokenInfo.Name)
	assert.Equal(t, "ERC20", events[0].TokenInfo.Symbol)
	assert.Equal(t, uint8(18), *events[0].TokenInfo.Decimals)
	assert.Empty(t, events[0].TokenInfo.Logo)
	assert.Empty(t, events[0].EnsName)

	assert.Nil(t, events[1].TokenInfo)
	assert.Nil(t, events[1].NftInfo)
	assert.Equal(t, int64(3), events[1].TokenID.Int64())
}

func TestSimulate_FailureYieldsEmptyList(t *testing.T) {
	env := newSimEnv(t)
	env.fake.Simulate = func([]testutil.SimCall, erc4337.StateOverride) ([]testutil.SimCallResult, error) {
		return nil, errors.New("method not available")
	}
	events := env.simulator.Simulate(context.Background(), env.account, &erc4337.UserOperation{Sender: sender})
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestSimulate_RevertedCallsHaveNoEvents(t *testing.T) {
	env := newSimEnv(t)
	env.fake.Simulate = func(calls []testutil.SimCall, _ erc4337.StateOverride) ([]testutil.SimCallResult, error) {
		l := erc20Transfer(tokenA, sender, bob, 5)
		return []testutil.SimCallResult{{
			Status: 0,
			Logs:   []testutil.SimLog{{Address: l.Address, Topics: l.Topics, Data: l.Data}},
			Error:  &testutil.SimError{Code: 3, Message: "execution reverted"},
		}}, nil
	}
	events := env.simulator.Simulate(context.Background(), env.account, &erc4337.UserOperation{Sender: sender})
	assert.Empty(t, events)
}

func TestSimulate_UndecodableCallData(t *testing.T) {
	env := newSimEnv(t)
	env.account.decodeErr = errors.New("not an execute call")
	env.emit()

	op := &erc4337.UserOperation{Sender: sender, CallData: []byte{0xde, 0xad}, Nonce: big.NewInt(0)}
	events := env.simulator.Simulate(context.Background(), env.account, op)
	assert.Empty(t, events)

	require.Len(t, env.fake.SimulateCalls, 1)
	call := env.fake.SimulateCalls[0][0]
	assert.Equal(t, sender, *call.To)
	assert.Equal(t, []byte{0xde, 0xad}, []byte(call.Data))
}
