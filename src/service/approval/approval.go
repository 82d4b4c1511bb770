package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/service/provider"
	"github.com/batua/wallet/src/service/simulate"
	"github.com/batua/wallet/src/service/smartaccount"
	"github.com/batua/wallet/src/service/userop"
	"github.com/batua/wallet/src/store"
	"github.com/batua/wallet/src/wallet"
	"github.com/batua/wallet/src/walletrpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Simulator previews the asset changes of an operation. *simulate.Simulator
// satisfies it.
type Simulator interface {
	Simulate(ctx context.Context, account simulate.Account, op *erc4337.UserOperation) []simulate.AssetChangeEvent
}

type Deps struct {
	Provider        *provider.Provider
	Clients         provider.ClientSource
	Simulator       Simulator
	RefreshInterval time.Duration
}

// Preview is what the approval dialog shows for a queued request. The send
// fields are only set for send requests.
type Preview struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Request domain.RpcRequest `json:"request"`

	ChainID          string                       `json:"chainId,omitempty"`
	Sender           *common.Address              `json:"sender,omitempty"`
	Calls            []domain.Call                `json:"calls,omitempty"`
	UserOperation    *erc4337.UserOperation       `json:"userOperation,omitempty"`
	GasCost          *hexutil.Big                 `json:"gasCost,omitempty"`
	FiatCost         *decimal.Decimal             `json:"fiatCost,omitempty"`
	Balance          *hexutil.Big                 `json:"balance,omitempty"`
	HasPaymaster     bool                         `json:"hasPaymaster"`
	HasEnoughBalance bool                         `json:"hasEnoughBalance"`
	AssetChanges     []simulate.AssetChangeEvent `json:"assetChanges,omitempty"`
	Transfers        []simulate.AssetChangeEvent `json:"transfers,omitempty"`
	Approvals        []simulate.AssetChangeEvent `json:"approvals,omitempty"`
	Updating         bool                         `json:"updating"`
	Error            string                       `json:"error,omitempty"`
}

// sendSession is the open approval of one send request.
type sendSession struct {
	client  *smartaccount.Client
	calls   []domain.Call
	session *userop.Session
}

// Service runs the approval side of queued requests: previews, user
// operation refresh while a send is on screen, and the confirm/reject
// transitions.
type Service struct {
	internal  *wallet.Internal
	provider  *provider.Provider
	clients   provider.ClientSource
	simulator Simulator
	interval  time.Duration

	mu         sync.Mutex
	sessions   map[string]*sendSession
	confirming map[string]bool
	closed     bool

	unsubscribe func()
}

func New(internal *wallet.Internal, deps Deps) *Service {
	s := &Service{
		internal:   internal,
		provider:   deps.Provider,
		clients:    deps.Clients,
		simulator:  deps.Simulator,
		interval:   deps.RefreshInterval,
		sessions:   make(map[string]*sendSession),
		confirming: make(map[string]bool),
	}
	// sessions of requests resolved elsewhere are closed with them
	s.unsubscribe = s.provider.OnQueueChange(s.prune)
	return s
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "approval").Logger()
	return &l
}

func (s *Service) prune(_ []domain.QueuedRequest) {
	s.mu.Lock()
	var stale []*sendSession
	for id, sess := range s.sessions {
		if _, queued := s.provider.Get(id); !queued {
			stale = append(stale, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.session.Close()
	}
}

func (s *Service) pending(id string) (*provider.Pending, error) {
	pending, ok := s.provider.Get(id)
	if !ok {
		return nil, domain.NewError(domain.ErrorCodeResourceNotFound, fmt.Errorf("queued request %s not found", id),
			domain.WithMsg("Request is not pending"))
	}
	return pending, nil
}

// presented is pending restricted to the head of the queue; requests are
// approved strictly in arrival order.
func (s *Service) presented(id string) (*provider.Pending, error) {
	pending, err := s.pending(id)
	if err != nil {
		return nil, err
	}
	if head, ok := s.provider.Head(); !ok || head.ID != id {
		return nil, domain.NewError(domain.ErrorCodeRequestInvalid, fmt.Errorf("request %s is not at the head of the queue", id),
			domain.WithMsg("Request is not the one awaiting approval"))
	}
	return pending, nil
}

// sendCalls maps the send methods onto a chain, sender and call list.
func sendCalls(req *walletrpc.Request) (uint64, *common.Address, []domain.Call, *domain.Capabilities, bool) {
	switch params := req.Decoded.(type) {
	case *walletrpc.SendCallsParams:
		return params.ChainID, params.From, params.Calls, params.Capabilities, true
	case *walletrpc.SendTransactionParams:
		return params.ChainID, params.From, []domain.Call{params.Call}, nil, true
	}
	return 0, nil, nil, nil, false
}

// Open returns the preview of a queued request. For sends it starts the
// refresh loop on first use and waits for the first build.
func (s *Service) Open(ctx context.Context, id string) (*Preview, error) {
	pending, err := s.presented(id)
	if err != nil {
		return nil, err
	}
	preview := &Preview{ID: id, Method: pending.Request.Method, Request: pending.Request.Envelope()}

	sess, ok, err := s.session(ctx, id, pending.Request)
	if err != nil || !ok {
		return preview, err
	}
	if err := sess.session.WaitReady(ctx); err != nil {
		if errors.Is(err, userop.ErrSessionClosed) {
			return nil, domain.NewError(domain.ErrorCodeResourceNotFound, fmt.Errorf("queued request %s resolved while opening", id),
				domain.WithMsg("Request is not pending"))
		}
		return nil, err
	}
	s.fill(ctx, preview, sess)
	return preview, nil
}

func (s *Service) session(ctx context.Context, id string, req *walletrpc.Request) (*sendSession, bool, error) {
	chainID, from, calls, caps, ok := sendCalls(req)
	if !ok {
		return nil, false, nil
	}

	s.mu.Lock()
	if sess, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		return sess, true, nil
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, false, domain.NewError(domain.ErrorCodeDisconnected, errors.New("approval service closed"))
	}

	account, err := provider.ResolveAccount(s.internal.Store.GetState().Accounts, from)
	if err != nil {
		return nil, false, err
	}
	client, err := s.clients.GetSmartAccountClient(ctx, smartaccount.Params{Account: account, ChainID: chainID, Capabilities: caps})
	if err != nil {
		return nil, false, err
	}

	sess := &sendSession{
		client:  client,
		calls:   calls,
		session: userop.NewSession(client, calls, s.internal.Config.Boosted, userop.WithRefreshInterval(s.interval)),
	}

	s.mu.Lock()
	if existing, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		return existing, true, nil
	}
	if _, queued := s.provider.Get(id); !queued || s.closed {
		s.mu.Unlock()
		return nil, false, domain.NewError(domain.ErrorCodeResourceNotFound, fmt.Errorf("queued request %s not found", id))
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	// the loop outlives the call that opened it
	sess.session.Start(context.WithoutCancel(ctx))
	s.logger(ctx).Info().Str("request_id", id).Str("sender", client.Address().Hex()).Msg("approval session opened")
	return sess, true, nil
}

func (s *Service) fill(ctx context.Context, preview *Preview, sess *sendSession) {
	client := sess.client
	sender := client.Address()
	preview.ChainID = client.Chain.HexID()
	preview.Sender = &sender
	preview.Calls = sess.calls
	preview.HasPaymaster = client.HasPaymaster()
	preview.Updating = sess.session.Updating()

	op, err := sess.session.Current()
	if err != nil {
		preview.Error = domain.AsDomainError(err).ClientMsg()
		return
	}
	if buildErr := sess.session.Err(); buildErr != nil {
		preview.Error = domain.AsDomainError(buildErr).ClientMsg()
	}
	preview.UserOperation = op

	cost := userop.GasCost(op)
	fiat := userop.FiatCost(cost, domain.PriceOrDefault(s.internal.Store.GetState().Price))
	preview.GasCost = (*hexutil.Big)(cost)
	preview.FiatCost = &fiat

	balance, err := client.Balance(ctx)
	if err != nil {
		s.logger(ctx).Warn().Err(err).Msg("failed to read balance for preview")
		preview.HasEnoughBalance = preview.HasPaymaster
	} else {
		preview.Balance = (*hexutil.Big)(balance)
		preview.HasEnoughBalance = userop.HasEnoughBalance(balance, cost, preview.HasPaymaster)
	}

	if s.simulator != nil {
		events := s.simulator.Simulate(ctx, client, op)
		preview.AssetChanges = events
		preview.Transfers = simulate.AggregateTransfers(events)
		preview.Approvals = simulate.AggregateApprovals(events)
	}
}

// Reject resolves the request as rejected by the user.
func (s *Service) Reject(ctx context.Context, id string) error {
	s.closeSession(id)
	if err := s.provider.Resolve(id, provider.Resolution{Status: domain.RequestStatusError, Error: domain.NewUserRejectedError(nil)}); err != nil {
		return err
	}
	s.logger(ctx).Info().Str("request_id", id).Msg("request rejected")
	return nil
}

// Confirm carries out the approved request and resolves it. Signing and
// submission failures resolve the request with the error; nothing is retried.
func (s *Service) Confirm(ctx context.Context, id string) (interface{}, error) {
	pending, err := s.presented(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.confirming[id] {
		s.mu.Unlock()
		return nil, domain.NewError(domain.ErrorCodeRequestInvalid, fmt.Errorf("request %s is already being confirmed", id),
			domain.WithMsg("Request is already being confirmed"))
	}
	s.confirming[id] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.confirming, id)
		s.mu.Unlock()
	}()

	result, err := s.execute(ctx, id, pending.Request)
	if errors.Is(err, userop.ErrNotReady) {
		return nil, err
	}

	s.closeSession(id)
	res := provider.Resolution{Status: domain.RequestStatusSuccess, Result: result}
	if err != nil {
		res = provider.Resolution{Status: domain.RequestStatusError, Error: err}
		s.logger(ctx).Warn().Err(err).Str("request_id", id).Str("method", pending.Request.Method).Msg("approved request failed")
	}
	if resolveErr := s.provider.Resolve(id, res); resolveErr != nil {
		return nil, resolveErr
	}
	return result, err
}

// errNotReady leaves the request queued so the user can retry or reject.
var errNotReady = domain.NewError(domain.ErrorCodeRequestInvalid, userop.ErrNotReady, domain.WithMsg("User operation is not ready"))

func (s *Service) execute(ctx context.Context, id string, req *walletrpc.Request) (interface{}, error) {
	switch params := req.Decoded.(type) {
	case *walletrpc.SendCallsParams, *walletrpc.SendTransactionParams:
		return s.send(ctx, id, req)
	case *walletrpc.PersonalSignParams:
		return s.signMessage(ctx, &params.Address, personalMessageHash(params.Message))
	case *walletrpc.SignTypedDataParams:
		hash, err := typedDataHash(params.TypedData)
		if err != nil {
			return nil, err
		}
		return s.signMessage(ctx, &params.Address, hash)
	case *walletrpc.ConnectParams:
		accounts, err := s.createAccount(ctx, 0, "")
		if err != nil {
			return nil, err
		}
		return provider.Connected(accounts), nil
	case *walletrpc.CreateAccountParams:
		accounts, err := s.createAccount(ctx, params.ChainID, params.Label)
		if err != nil {
			return nil, err
		}
		return provider.Connected(accounts[len(accounts)-1:]).Accounts[0], nil
	case nil:
		if req.Method == walletrpc.MethodEthRequestAccounts {
			accounts, err := s.createAccount(ctx, 0, "")
			if err != nil {
				return nil, err
			}
			return lo.Map(accounts, func(a domain.Account, _ int) common.Address { return a.Address }), nil
		}
	}
	return nil, domain.NewUnsupportedMethodError(req.Method)
}

func (s *Service) send(ctx context.Context, id string, req *walletrpc.Request) (common.Hash, error) {
	sess, _, err := s.session(ctx, id, req)
	if err != nil {
		return common.Hash{}, err
	}
	if err := sess.session.WaitReady(ctx); err != nil {
		return common.Hash{}, errNotReady
	}
	op, err := sess.session.Current()
	if err != nil {
		return common.Hash{}, errNotReady
	}

	signed, err := sess.client.SignUserOperation(ctx, op)
	if err != nil {
		return common.Hash{}, err
	}
	return sess.client.SendUserOperation(ctx, signed)
}

func (s *Service) signMessage(ctx context.Context, address *common.Address, hash common.Hash) (hexutil.Bytes, error) {
	account, err := provider.ResolveAccount(s.internal.Store.GetState().Accounts, address)
	if err != nil {
		return nil, err
	}
	client, err := s.clients.GetSmartAccountClient(ctx, smartaccount.Params{Account: account})
	if err != nil {
		return nil, err
	}
	signature, err := client.SignMessageHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return signature, nil
}

// createAccount registers a passkey, stores its account and returns every
// stored account.
func (s *Service) createAccount(ctx context.Context, chainID uint64, label string) ([]domain.Account, error) {
	impl := s.internal.Implementation()
	if impl == nil {
		return nil, domain.NewError(domain.ErrorCodeCredentialCreation, errors.New("no account implementation configured"))
	}
	if label == "" {
		label = s.internal.Config.DappName
	}
	credential, err := impl.CreateCredential(ctx, label)
	if err != nil {
		return nil, err
	}
	account, err := impl.DeriveAccount(credential, chainID)
	if err != nil {
		return nil, err
	}

	var accounts []domain.Account
	s.internal.Store.SetState(func(st store.State) store.State {
		if _, exists := domain.FindAccount(st.Accounts, account.Address); !exists {
			st.Accounts = append(st.Accounts, account)
		}
		accounts = append([]domain.Account(nil), st.Accounts...)
		return st
	})
	s.logger(ctx).Info().Str("account", account.Address.Hex()).Msg("account created")
	return accounts, nil
}

func (s *Service) closeSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.session.Close()
	}
}

// Close stops every open session.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*sendSession)
	s.mu.Unlock()

	s.unsubscribe()
	for _, sess := range sessions {
		sess.session.Close()
	}
}
