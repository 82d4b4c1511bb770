package userop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/service/smartaccount"
	"github.com/batua/wallet/src/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	DefaultRefreshInterval = 20 * time.Second

	// estimationBalance is credited to the sender while estimating so an
	// unfunded account still gets gas limits.
	estimationBalance = 100
)

var (
	ErrNotReady      = errors.New("user operation not prepared yet")
	ErrSessionClosed = errors.New("user operation session closed")
)

// Preparer builds user operations for one account.
type Preparer interface {
	Address() common.Address
	PrepareUserOperation(ctx context.Context, params smartaccount.PrepareParams) (*erc4337.UserOperation, error)
}

// Snapshot is the session state after a change.
type Snapshot struct {
	UserOperation *erc4337.UserOperation
	Err           error
	Updating      bool
	UpdatedAt     time.Time
}

type Option func(*Session)

func WithRefreshInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Session keeps a prepared user operation for a pending send-calls request
// fresh until it is closed.
type Session struct {
	client   Preparer
	calls    []domain.Call
	boosted  *wallet.Boosted
	interval time.Duration

	mu        sync.RWMutex
	op        *erc4337.UserOperation
	err       error
	updating  bool
	updatedAt time.Time
	closed    bool

	updates   chan Snapshot
	ready     chan struct{}
	readyOnce sync.Once

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewSession(client Preparer, calls []domain.Call, boosted *wallet.Boosted, opts ...Option) *Session {
	s := &Session{
		client:   client,
		calls:    append([]domain.Call(nil), calls...),
		boosted:  boosted,
		interval: DefaultRefreshInterval,
		updates:  make(chan Snapshot, 1),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().
		Str("service", "userop").
		Str("sender", s.client.Address().Hex()).
		Logger()
	return &l
}

// Start prepares once right away, then again on every tick until Close or
// ctx ends. Later calls are no-ops.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()

		s.wg.Add(1)
		go s.run(ctx)
	})
}

func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	s.logger(ctx).Debug().Dur("interval", s.interval).Msg("starting user operation refresh")
	s.refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger(ctx).Debug().Msg("user operation refresh stopped")
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// PrepareParams builds the estimation inputs for calls sent by sender. The
// fixed boosted limits replace live estimation when configured.
func PrepareParams(sender common.Address, calls []domain.Call, boosted *wallet.Boosted) smartaccount.PrepareParams {
	params := smartaccount.PrepareParams{
		Calls:         calls,
		StateOverride: erc4337.BalanceOverride(sender, erc4337.Ether(estimationBalance)),
	}
	if boosted.HasGasLimits() {
		params.CallGasLimit = boosted.CallGasLimit
		params.VerificationGasLimit = boosted.VerificationGasLimit
		params.PreVerificationGas = boosted.PreVerificationGas
	}
	return params
}

// refresh rebuilds the operation. The previous one stays visible while it
// runs and when it fails.
func (s *Session) refresh(ctx context.Context) {
	s.mu.Lock()
	s.updating = true
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	op, err := s.client.PrepareUserOperation(ctx, PrepareParams(s.client.Address(), s.calls, s.boosted))
	if ctx.Err() != nil {
		s.mu.Lock()
		s.updating = false
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.logger(ctx).Warn().Err(err).Msg("failed to prepare user operation")
	}

	s.mu.Lock()
	s.updating = false
	s.err = err
	if err == nil {
		s.op = op
		s.updatedAt = time.Now()
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{Err: s.err, Updating: s.updating, UpdatedAt: s.updatedAt}
	if s.op != nil {
		snap.UserOperation = s.op.Clone()
	}
	return snap
}

// publish keeps only the latest snapshot for slow readers.
func (s *Session) publish(snap Snapshot) {
	select {
	case s.updates <- snap:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

// Current returns a copy of the latest prepared operation. Before the first
// successful build it returns the build error, or ErrNotReady. A closed
// session returns ErrSessionClosed.
func (s *Session) Current() (*erc4337.UserOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.op == nil {
		if s.err != nil {
			return nil, s.err
		}
		return nil, ErrNotReady
	}
	return s.op.Clone(), nil
}

// Err is the error of the last build, nil when it succeeded.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Session) Updating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updating
}

// Updates delivers snapshots. It is closed by Close.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// WaitReady blocks until the first build finished, successfully or not, or
// the session is closed.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// Close stops the refresh loop and waits for it to exit.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		// a later Start must not launch the loop
		s.startOnce.Do(func() {})

		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		// releases waiters of a first build that never finished
		s.readyOnce.Do(func() { close(s.ready) })
		close(s.updates)
	})
}
