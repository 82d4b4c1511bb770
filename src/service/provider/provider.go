package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/metrics"
	"github.com/batua/wallet/src/service/smartaccount"
	"github.com/batua/wallet/src/store"
	"github.com/batua/wallet/src/wallet"
	"github.com/batua/wallet/src/walletrpc"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Request outcomes reported to metrics.
const (
	outcomeAuto   = "auto"
	outcomeQueued = "queued"
	outcomeError  = "error"
)

// ClientSource hands out smart account clients. *smartaccount.Factory
// satisfies it.
type ClientSource interface {
	GetSmartAccountClient(ctx context.Context, params smartaccount.Params) (*smartaccount.Client, error)
}

// BundlerSource hands out bundler clients. *resolver.Resolver satisfies it.
type BundlerSource interface {
	BundlerClient(ctx context.Context, chainID uint64) (erc4337.Bundler, error)
}

type Deps struct {
	Clients   ClientSource
	Bundlers  BundlerSource
	Publisher domain.EventPublisher
	Metrics   metrics.Recorder
}

// Resolution is the outcome the approval side hands to Resolve. An error
// resolution without Error is a user rejection.
type Resolution struct {
	Status domain.RequestStatus
	Result interface{}
	Error  error
}

// Pending is a request waiting for its result. Auto-resolved requests come
// back already done, with an empty ID.
type Pending struct {
	ID        string
	Request   *walletrpc.Request
	CreatedAt time.Time

	done   chan struct{}
	once   sync.Once
	result interface{}
	err    error
}

func newPending(id string, req *walletrpc.Request) *Pending {
	return &Pending{ID: id, Request: req, CreatedAt: time.Now().UTC(), done: make(chan struct{})}
}

func (p *Pending) complete(result interface{}, err error) {
	p.once.Do(func() {
		p.result, p.err = result, err
		close(p.done)
	})
}

func (p *Pending) Queued() bool {
	return p.ID != ""
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. It is only meaningful once Done is closed.
func (p *Pending) Result() (interface{}, error) {
	select {
	case <-p.done:
		return p.result, p.err
	default:
		return nil, errors.New("request is still pending")
	}
}

// Wait blocks until the request resolves or ctx ends. Giving up leaves a
// queued request in the queue.
func (p *Pending) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AnnounceDetail is the EIP-6963 provider info.
type AnnounceDetail struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
	RDNS string `json:"rdns"`
}

// Provider is the wallet's JSON-RPC entry point. Read-only methods are
// answered right away; everything needing the user goes through the queue in
// the store and waits for Resolve.
type Provider struct {
	internal  *wallet.Internal
	clients   ClientSource
	bundlers  BundlerSource
	publisher domain.EventPublisher
	metrics   metrics.Recorder
	log       zerolog.Logger
	announced bool

	destroyed   atomic.Bool
	destroyOnce sync.Once

	mu          sync.Mutex
	waiters     map[string]*Pending
	unsubscribe []func()
}

func New(ctx context.Context, internal *wallet.Internal, deps Deps) *Provider {
	p := &Provider{
		internal:  internal,
		clients:   deps.Clients,
		bundlers:  deps.Bundlers,
		publisher: deps.Publisher,
		metrics:   metrics.OrNoop(deps.Metrics),
		log:       zerolog.Ctx(ctx).With().Str("service", "provider").Str("instance", internal.ID).Logger(),
		waiters:   make(map[string]*Pending),
	}
	if p.publisher == nil {
		p.publisher = domain.EventPublisherFunc(func(domain.Event) {})
	}

	p.watch()
	if internal.Config.ShouldAnnounce() {
		p.announced = true
		p.publisher.Publish(domain.Event{Type: domain.EventAnnounceProvider, Payload: p.AnnounceDetail()})
	}
	return p
}

func (p *Provider) AnnounceDetail() AnnounceDetail {
	cfg := p.internal.Config
	return AnnounceDetail{UUID: p.internal.ID, Name: cfg.WalletName, Icon: cfg.WalletIcon, RDNS: cfg.WalletRDNS}
}

// watch forwards store changes to the page.
func (p *Provider) watch() {
	st := p.internal.Store
	p.track(store.Subscribe(st,
		func(s store.State) []domain.QueuedRequest { return s.RequestQueue },
		func(next, _ []domain.QueuedRequest) {
			p.metrics.SetQueueLength(len(next))
			p.publisher.Publish(domain.Event{Type: domain.EventQueueChanged, Payload: next})
		},
		store.WithEqual(queueEqual),
	))
	p.track(store.Subscribe(st,
		func(s store.State) []domain.Account { return s.Accounts },
		func(next, _ []domain.Account) {
			p.publisher.Publish(domain.Event{Type: domain.EventAccountsChanged, Payload: addresses(next)})
		},
		store.WithEqual(domain.AccountsEqual),
	))
	p.track(store.Subscribe(st,
		func(s store.State) uint64 { return s.Chain.ID },
		func(next, _ uint64) {
			p.publisher.Publish(domain.Event{Type: domain.EventChainChanged, Payload: hexutil.EncodeUint64(next)})
		},
	))
}

func (p *Provider) track(unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsubscribe = append(p.unsubscribe, unsubscribe)
}

func queueEqual(a, b []domain.QueuedRequest) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Status != b[i].Status {
			return false
		}
	}
	return true
}

// OnQueueChange calls fn with the queue after every change to it. The
// listener is detached by the returned func or by Destroy.
func (p *Provider) OnQueueChange(fn func(queue []domain.QueuedRequest)) func() {
	unsubscribe := store.Subscribe(p.internal.Store,
		func(s store.State) []domain.QueuedRequest { return s.RequestQueue },
		func(next, _ []domain.QueuedRequest) { fn(next) },
		store.WithEqual(queueEqual),
	)
	p.track(unsubscribe)
	return unsubscribe
}

// Request handles one raw JSON-RPC request and blocks until it resolves or
// ctx ends.
func (p *Provider) Request(ctx context.Context, raw []byte) (interface{}, error) {
	pending, err := p.Enqueue(ctx, raw)
	if err != nil {
		return nil, err
	}
	return pending.Wait(ctx)
}

// Enqueue validates raw and either answers it right away or queues it.
// Validation and configuration errors are returned directly and never reach
// the queue.
func (p *Provider) Enqueue(ctx context.Context, raw []byte) (*Pending, error) {
	req, err := walletrpc.ParseRequest(raw)
	if err != nil {
		label := "invalid"
		if errors.Is(err, domain.ErrUnsupportedMethod) {
			label = "unsupported"
		}
		p.metrics.IncRequest(label, outcomeError)
		return nil, err
	}
	return p.Dispatch(ctx, req)
}

// Dispatch routes an already validated request.
func (p *Provider) Dispatch(ctx context.Context, req *walletrpc.Request) (*Pending, error) {
	if p.destroyed.Load() {
		return nil, errDisconnected()
	}

	result, queue, err := p.route(ctx, req)
	if err != nil {
		p.metrics.IncRequest(req.Method, outcomeError)
		p.log.Debug().Err(err).Str("method", req.Method).Msg("request failed")
		return nil, err
	}
	if !queue {
		p.metrics.IncRequest(req.Method, outcomeAuto)
		pending := newPending("", req)
		pending.complete(result, nil)
		return pending, nil
	}

	pending, err := p.push(req)
	if err != nil {
		p.metrics.IncRequest(req.Method, outcomeError)
		return nil, err
	}
	p.metrics.IncRequest(req.Method, outcomeQueued)
	p.log.Info().Str("method", req.Method).Str("request_id", pending.ID).Msg("request queued")
	return pending, nil
}

func (p *Provider) push(req *walletrpc.Request) (*Pending, error) {
	pending := newPending(uuid.NewString(), req)

	// the waiter exists before the entry becomes visible
	p.mu.Lock()
	if p.destroyed.Load() {
		p.mu.Unlock()
		return nil, errDisconnected()
	}
	p.waiters[pending.ID] = pending
	p.mu.Unlock()

	entry := domain.QueuedRequest{
		ID:        pending.ID,
		Request:   req.Envelope(),
		Status:    domain.RequestStatusPending,
		CreatedAt: pending.CreatedAt,
	}
	p.internal.Store.SetState(func(s store.State) store.State {
		if p.destroyed.Load() {
			return s
		}
		s.RequestQueue = append(s.RequestQueue, entry)
		return s
	})
	return pending, nil
}

// Head is the request currently presented for approval.
func (p *Provider) Head() (domain.QueuedRequest, bool) {
	queue := p.internal.Store.GetState().RequestQueue
	if len(queue) == 0 {
		return domain.QueuedRequest{}, false
	}
	return queue[0], true
}

func (p *Provider) Queue() []domain.QueuedRequest {
	queue := p.internal.Store.GetState().RequestQueue
	if queue == nil {
		return []domain.QueuedRequest{}
	}
	return queue
}

// Get returns the pending handle of a queued request.
func (p *Provider) Get(id string) (*Pending, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending, ok := p.waiters[id]
	return pending, ok
}

// Resolve moves a queued request to its terminal status, removes it from the
// queue and hands the outcome to the caller.
func (p *Provider) Resolve(id string, res Resolution) error {
	if !res.Status.Terminal() {
		return domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("invalid resolution status %q", res.Status))
	}

	p.mu.Lock()
	pending, ok := p.waiters[id]
	delete(p.waiters, id)
	p.mu.Unlock()
	if !ok {
		return domain.NewError(domain.ErrorCodeResourceNotFound, fmt.Errorf("queued request %s not found", id),
			domain.WithMsg("Request is not pending"))
	}

	var result interface{}
	var err error
	if res.Status == domain.RequestStatusSuccess {
		result = res.Result
	} else {
		err = res.Error
		if err == nil {
			err = domain.NewUserRejectedError(nil)
		}
	}

	p.internal.Store.SetState(func(s store.State) store.State {
		s.RequestQueue = lo.Reject(s.RequestQueue, func(q domain.QueuedRequest, _ int) bool { return q.ID == id })
		return s
	})
	pending.complete(result, err)

	p.log.Info().
		Str("method", pending.Request.Method).
		Str("request_id", id).
		Str("status", string(res.Status)).
		Msg("request resolved")
	return nil
}

// Destroy rejects everything still queued, revokes the announcement and
// detaches every listener. Later requests fail as disconnected.
func (p *Provider) Destroy() {
	p.destroyOnce.Do(func() {
		p.destroyed.Store(true)

		p.mu.Lock()
		waiters := p.waiters
		p.waiters = make(map[string]*Pending)
		p.mu.Unlock()

		if len(waiters) > 0 {
			p.internal.Store.SetState(func(s store.State) store.State {
				s.RequestQueue = lo.Reject(s.RequestQueue, func(q domain.QueuedRequest, _ int) bool {
					_, ok := waiters[q.ID]
					return ok
				})
				return s
			})
		}
		for _, pending := range waiters {
			pending.complete(nil, errDisconnected())
		}

		if p.announced {
			p.publisher.Publish(domain.Event{Type: domain.EventRevokeProvider, Payload: p.AnnounceDetail()})
		}

		p.mu.Lock()
		unsubscribe := p.unsubscribe
		p.unsubscribe = nil
		p.mu.Unlock()
		for _, fn := range unsubscribe {
			fn()
		}
		p.log.Info().Int("rejected", len(waiters)).Msg("provider destroyed")
	})
}

func errDisconnected() error {
	return domain.NewError(domain.ErrorCodeDisconnected, errors.New("provider destroyed"))
}
