package testutil

import (
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/batua/wallet/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// FakeChain is an in-process node, bundler and ERC-7677 paymaster for one
// chain. Zero values answer with sensible defaults.
type FakeChain struct {
	ChainID uint64

	mu sync.Mutex

	code     map[common.Address][]byte
	balances map[common.Address]*big.Int
	calls    map[callKey]CallHandler

	// Simulate answers eth_simulateV1. Nil returns a successful empty call per input call.
	Simulate func(calls []SimCall, override erc4337.StateOverride) ([]SimCallResult, error)

	Estimates    erc4337.GasEstimates
	EstimateErr  error
	// EstimateGate, when set, holds every estimation until it is closed.
	EstimateGate chan struct{}
	GasPrices    erc4337.GasPriceTiers
	SendErr      error
	ReceiptAfter int

	Paymaster common.Address

	Sent              []erc4337.UserOperation
	Estimated         []erc4337.UserOperation
	EstimateOverrides []erc4337.StateOverride
	SimulateCalls     [][]SimCall
	SimulateOverrides []erc4337.StateOverride
	PaymasterCalls    []string
	PaymasterContexts []map[string]any
	Headers           []http.Header
	receiptPolls      map[common.Hash]int
	sentByHash        map[common.Hash]erc4337.UserOperation
}

type callKey struct {
	to       common.Address
	selector [4]byte
}

// CallHandler answers eth_call for one contract method.
type CallHandler func(from common.Address, input []byte) ([]byte, error)

func NewFakeChain(chainID uint64) *FakeChain {
	gwei := func(n int64) *hexutil.Big { return (*hexutil.Big)(new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9))) }
	return &FakeChain{
		ChainID:  chainID,
		code:     make(map[common.Address][]byte),
		balances: make(map[common.Address]*big.Int),
		calls:    make(map[callKey]CallHandler),
		Estimates: erc4337.GasEstimates{
			PreVerificationGas:   (*hexutil.Big)(big.NewInt(50_000)),
			VerificationGasLimit: (*hexutil.Big)(big.NewInt(400_000)),
			CallGasLimit:         (*hexutil.Big)(big.NewInt(100_000)),
		},
		GasPrices: erc4337.GasPriceTiers{
			Slow:     erc4337.GasPrice{MaxFeePerGas: gwei(1), MaxPriorityFeePerGas: gwei(1)},
			Standard: erc4337.GasPrice{MaxFeePerGas: gwei(2), MaxPriorityFeePerGas: gwei(1)},
			Fast:     erc4337.GasPrice{MaxFeePerGas: gwei(3), MaxPriorityFeePerGas: gwei(2)},
		},
		Paymaster:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		receiptPolls: make(map[common.Hash]int),
		sentByHash:   make(map[common.Hash]erc4337.UserOperation),
	}
}

func (c *FakeChain) SetCode(addr common.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[addr] = code
}

func (c *FakeChain) SetBalance(addr common.Address, balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(balance)
}

// OnCall registers fn for eth_call to `to` whose input starts with selector.
// The zero address matches any contract.
func (c *FakeChain) OnCall(to common.Address, selector []byte, fn CallHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var key callKey
	key.to = to
	copy(key.selector[:], selector)
	c.calls[key] = fn
}

// Selector is the 4-byte method id of signature.
func Selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// SetNonce answers EntryPoint getNonce for every sender with nonce.
func (c *FakeChain) SetNonce(entryPoint common.Address, nonce *big.Int) {
	c.OnCall(entryPoint, Selector("getNonce(address,uint192)"), func(common.Address, []byte) ([]byte, error) {
		return common.LeftPadBytes(nonce.Bytes(), 32), nil
	})
}

func (c *FakeChain) Server(t *testing.T) *rpc.Server {
	t.Helper()
	server := rpc.NewServer()
	for name, svc := range map[string]any{
		"eth":     &fakeEth{c},
		"pimlico": &fakePimlico{c},
		"pm":      &fakePaymaster{c},
	} {
		if err := server.RegisterName(name, svc); err != nil {
			t.Fatalf("failed to register %s service: %v", name, err)
		}
	}
	t.Cleanup(server.Stop)
	return server
}

// Client dials the fake in process.
func (c *FakeChain) Client(t *testing.T) *rpc.Client {
	t.Helper()
	client := rpc.DialInProc(c.Server(t))
	t.Cleanup(client.Close)
	return client
}

// URL serves the fake over HTTP and records request headers.
func (c *FakeChain) URL(t *testing.T) string {
	t.Helper()
	server := c.Server(t)
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.Headers = append(c.Headers, r.Header.Clone())
		c.mu.Unlock()
		server.ServeHTTP(w, r)
	}))
	t.Cleanup(httpServer.Close)
	return httpServer.URL
}

// Snapshot helpers for assertions from other goroutines.

func (c *FakeChain) SentOps() []erc4337.UserOperation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]erc4337.UserOperation(nil), c.Sent...)
}

func (c *FakeChain) EstimateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Estimated)
}

func (c *FakeChain) LastEstimateOverride() erc4337.StateOverride {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.EstimateOverrides) == 0 {
		return nil
	}
	return c.EstimateOverrides[len(c.EstimateOverrides)-1]
}

func (c *FakeChain) RequestHeaders() []http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]http.Header(nil), c.Headers...)
}

func (c *FakeChain) PaymasterMethods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.PaymasterCalls...)
}

// eth_simulateV1 wire shapes.

type SimOpts struct {
	BlockStateCalls []SimBlock `json:"blockStateCalls"`
	TraceTransfers  bool       `json:"traceTransfers,omitempty"`
	Validation      bool       `json:"validation,omitempty"`
}

type SimBlock struct {
	StateOverrides erc4337.StateOverride `json:"stateOverrides,omitempty"`
	Calls          []SimCall             `json:"calls"`
}

type SimCall struct {
	From  *common.Address `json:"from,omitempty"`
	To    *common.Address `json:"to,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Input hexutil.Bytes   `json:"input,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
}

type SimLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

type SimError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type SimCallResult struct {
	ReturnData hexutil.Bytes  `json:"returnData"`
	Logs       []SimLog       `json:"logs"`
	GasUsed    hexutil.Uint64 `json:"gasUsed"`
	Status     hexutil.Uint64 `json:"status"`
	Error      *SimError      `json:"error,omitempty"`
}

type SimBlockResult struct {
	Number hexutil.Uint64  `json:"number"`
	Calls  []SimCallResult `json:"calls"`
}

type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
	Value *hexutil.Big    `json:"value"`
}

func (a callArgs) input() []byte {
	if len(a.Input) > 0 {
		return a.Input
	}
	return a.Data
}

type fakeEth struct{ c *FakeChain }

func (e *fakeEth) ChainId() hexutil.Big {
	return hexutil.Big(*new(big.Int).SetUint64(e.c.ChainID))
}

func (e *fakeEth) BlockNumber() hexutil.Uint64 {
	return 1
}

func (e *fakeEth) GetCode(addr common.Address, block *string) hexutil.Bytes {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.c.code[addr]
}

func (e *fakeEth) GetBalance(addr common.Address, block *string) *hexutil.Big {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	if bal, ok := e.c.balances[addr]; ok {
		return (*hexutil.Big)(new(big.Int).Set(bal))
	}
	return (*hexutil.Big)(new(big.Int))
}

func (e *fakeEth) Call(args callArgs, block *string, override *erc4337.StateOverride) (hexutil.Bytes, error) {
	input := args.input()
	if args.To == nil || len(input) < 4 {
		return nil, errors.New("execution reverted")
	}
	var key callKey
	copy(key.selector[:], input[:4])

	e.c.mu.Lock()
	key.to = *args.To
	fn, ok := e.c.calls[key]
	if !ok {
		key.to = common.Address{}
		fn, ok = e.c.calls[key]
	}
	e.c.mu.Unlock()

	if !ok {
		return nil, errors.New("execution reverted")
	}
	var from common.Address
	if args.From != nil {
		from = *args.From
	}
	return fn(from, input)
}

func (e *fakeEth) SimulateV1(opts SimOpts, block *string) ([]SimBlockResult, error) {
	var results []SimBlockResult
	for i, b := range opts.BlockStateCalls {
		e.c.mu.Lock()
		e.c.SimulateCalls = append(e.c.SimulateCalls, b.Calls)
		e.c.SimulateOverrides = append(e.c.SimulateOverrides, b.StateOverrides)
		simulate := e.c.Simulate
		e.c.mu.Unlock()

		var calls []SimCallResult
		if simulate != nil {
			var err error
			calls, err = simulate(b.Calls, b.StateOverrides)
			if err != nil {
				return nil, err
			}
		} else {
			for range b.Calls {
				calls = append(calls, SimCallResult{Status: 1, Logs: []SimLog{}})
			}
		}
		results = append(results, SimBlockResult{Number: hexutil.Uint64(i + 2), Calls: calls})
	}
	return results, nil
}

func (e *fakeEth) SupportedEntryPoints() []common.Address {
	return []common.Address{erc4337.EntryPointV07}
}

func (e *fakeEth) EstimateUserOperationGas(op erc4337.UserOperation, entryPoint common.Address, override *erc4337.StateOverride) (*erc4337.GasEstimates, error) {
	e.c.mu.Lock()
	gate := e.c.EstimateGate
	e.c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	e.c.Estimated = append(e.c.Estimated, op)
	var recorded erc4337.StateOverride
	if override != nil {
		recorded = *override
	}
	e.c.EstimateOverrides = append(e.c.EstimateOverrides, recorded)
	if e.c.EstimateErr != nil {
		return nil, e.c.EstimateErr
	}
	estimates := e.c.Estimates
	return &estimates, nil
}

func (e *fakeEth) SendUserOperation(op erc4337.UserOperation, entryPoint common.Address) (common.Hash, error) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	if e.c.SendErr != nil {
		return common.Hash{}, e.c.SendErr
	}
	hash, err := op.Hash(entryPoint, new(big.Int).SetUint64(e.c.ChainID))
	if err != nil {
		return common.Hash{}, err
	}
	e.c.Sent = append(e.c.Sent, op)
	e.c.sentByHash[hash] = op
	return hash, nil
}

func (e *fakeEth) GetUserOperationReceipt(hash common.Hash) *erc4337.UserOperationReceipt {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	op, ok := e.c.sentByHash[hash]
	if !ok {
		return nil
	}
	e.c.receiptPolls[hash]++
	if e.c.receiptPolls[hash] <= e.c.ReceiptAfter {
		return nil
	}
	return &erc4337.UserOperationReceipt{
		UserOpHash: hash,
		EntryPoint: erc4337.EntryPointV07,
		Sender:     op.Sender,
		Nonce:      hexutil.EncodeBig(op.Nonce),
		Success:    true,
		Receipt: &erc4337.TransactionReceipt{
			TransactionHash: common.BytesToHash(hash.Bytes()[:16]),
			BlockNumber:     "0x2",
			Status:          "0x1",
		},
	}
}

type fakePimlico struct{ c *FakeChain }

func (p *fakePimlico) GetUserOperationGasPrice() erc4337.GasPriceTiers {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return p.c.GasPrices
}

type fakePaymaster struct{ c *FakeChain }

func (p *fakePaymaster) record(method string, pmContext map[string]any) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.c.PaymasterCalls = append(p.c.PaymasterCalls, method)
	p.c.PaymasterContexts = append(p.c.PaymasterContexts, pmContext)
}

func (p *fakePaymaster) GetPaymasterStubData(op erc4337.UserOperation, entryPoint common.Address, chainID hexutil.Big, pmContext map[string]any) erc4337.PaymasterData {
	p.record("pm_getPaymasterStubData", pmContext)
	pm := p.c.Paymaster
	return erc4337.PaymasterData{
		Paymaster:                     &pm,
		PaymasterData:                 hexutil.Bytes{0x00},
		PaymasterVerificationGasLimit: (*hexutil.Big)(big.NewInt(60_000)),
		PaymasterPostOpGasLimit:       (*hexutil.Big)(big.NewInt(20_000)),
		Sponsor:                       &erc4337.Sponsor{Name: "Test Sponsor"},
	}
}

func (p *fakePaymaster) GetPaymasterData(op erc4337.UserOperation, entryPoint common.Address, chainID hexutil.Big, pmContext map[string]any) erc4337.PaymasterData {
	p.record("pm_getPaymasterData", pmContext)
	pm := p.c.Paymaster
	// signed data commits to the op's call data
	data := append([]byte{0x01}, op.CallData...)
	return erc4337.PaymasterData{Paymaster: &pm, PaymasterData: data}
}
