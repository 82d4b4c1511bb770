package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/batua/wallet/src/domain"
	"github.com/rs/zerolog"
)

const DefaultName = "batua.store"

const persistTimeout = 5 * time.Second

type State struct {
	Accounts     []domain.Account
	Chain        domain.Chain
	RequestQueue []domain.QueuedRequest
	Price        *domain.Price
}

// Clone copies the slices so callers can modify the result freely.
func (s State) Clone() State {
	out := s
	if s.Accounts != nil {
		out.Accounts = make([]domain.Account, len(s.Accounts))
		copy(out.Accounts, s.Accounts)
	}
	if s.RequestQueue != nil {
		out.RequestQueue = make([]domain.QueuedRequest, len(s.RequestQueue))
		copy(out.RequestQueue, s.RequestQueue)
	}
	if s.Price != nil {
		p := *s.Price
		out.Price = &p
	}
	return out
}

// persistedState is what survives a restart. The request queue never does.
type persistedState struct {
	Accounts []domain.Account `json:"accounts"`
	Chain    *domain.Chain    `json:"chain,omitempty"`
	Price    *domain.Price    `json:"price,omitempty"`
}

func project(s State) persistedState {
	p := persistedState{Accounts: make([]domain.Account, 0, len(s.Accounts)), Price: s.Price}
	for _, a := range s.Accounts {
		p.Accounts = append(p.Accounts, a.Stripped())
	}
	if s.Chain.ID != 0 {
		c := s.Chain
		p.Chain = &c
	}
	return p
}

type Options struct {
	Storage Storage
	Name    string
	Initial State
}

type change struct {
	prev, next State
}

type listener struct {
	id     uint64
	notify func(prev, next State)
}

type Store struct {
	log     zerolog.Logger
	storage Storage
	name    string

	mu         sync.Mutex
	state      State
	pending    []change
	delivering bool
	listeners  []*listener
	nextID     uint64
	persisted  []byte
	destroyed  bool
}

// New opens a store and rehydrates it from storage. Storage failures are
// logged and the initial state is kept.
func New(ctx context.Context, opts Options) *Store {
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}

	s := &Store{
		log:     zerolog.Ctx(ctx).With().Str("service", "store").Str("name", opts.Name).Logger(),
		storage: opts.Storage,
		name:    opts.Name,
		state:   opts.Initial.Clone(),
	}
	s.rehydrate(ctx)
	return s
}

func (s *Store) rehydrate(ctx context.Context) {
	raw, err := s.storage.GetItem(ctx, s.name)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read persisted state, using defaults")
		return
	}

	var p persistedState
	if err := json.Unmarshal(raw, &p); err != nil {
		s.log.Warn().Err(err).Msg("persisted state is corrupt, using defaults")
		return
	}

	if p.Accounts != nil {
		s.state.Accounts = p.Accounts
	}
	if p.Chain != nil {
		s.state.Chain = *p.Chain
	}
	if p.Price != nil {
		s.state.Price = p.Price
	}
	s.persisted = raw
	s.log.Debug().Int("accounts", len(s.state.Accounts)).Msg("rehydrated state")
}

func (s *Store) Name() string {
	return s.name
}

// GetState returns a snapshot of the current state.
func (s *Store) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// SetState is the single mutation path. fn receives a copy of the current
// state and returns the next one.
func (s *Store) SetState(fn func(State) State) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		s.log.Warn().Msg("set state on destroyed store ignored")
		return
	}
	prev := s.state
	next := fn(prev.Clone())
	s.state = next
	s.pending = append(s.pending, change{prev: prev, next: next})
	if s.delivering {
		// the goroutine already delivering drains this change in order
		s.mu.Unlock()
		return
	}
	s.delivering = true

	for len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		listeners := append([]*listener(nil), s.listeners...)
		s.mu.Unlock()

		for _, l := range listeners {
			l.notify(c.prev, c.next)
		}
		s.persist(c.next)

		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

func (s *Store) persist(state State) {
	raw, err := json.Marshal(project(state))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode persisted state")
		return
	}

	s.mu.Lock()
	unchanged := bytes.Equal(raw, s.persisted)
	s.mu.Unlock()
	if unchanged {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.storage.SetItem(ctx, s.name, raw); err != nil {
		s.log.Error().Err(err).Msg("failed to persist state")
		return
	}

	s.mu.Lock()
	s.persisted = raw
	s.mu.Unlock()
}

func (s *Store) subscribe(notify func(prev, next State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, &listener{id: id, notify: notify})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Destroy detaches every listener. Later mutations are ignored.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.listeners = nil
}

type subscribeConfig[T any] struct {
	equal           func(a, b T) bool
	fireImmediately bool
}

type SubscribeOption[T any] func(*subscribeConfig[T])

func WithEqual[T any](equal func(a, b T) bool) SubscribeOption[T] {
	return func(c *subscribeConfig[T]) {
		c.equal = equal
	}
}

func WithFireImmediately[T any]() SubscribeOption[T] {
	return func(c *subscribeConfig[T]) {
		c.fireImmediately = true
	}
}

// Subscribe calls listener whenever the slice picked by selector changes.
// The returned function unsubscribes.
func Subscribe[T any](s *Store, selector func(State) T, fn func(next, prev T), opts ...SubscribeOption[T]) func() {
	cfg := subscribeConfig[T]{
		equal: func(a, b T) bool { return reflect.DeepEqual(a, b) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	current := selector(s.GetState())
	unsubscribe := s.subscribe(func(_, next State) {
		selected := selector(next)
		if cfg.equal(current, selected) {
			return
		}
		prev := current
		current = selected
		fn(selected, prev)
	})

	if cfg.fireImmediately {
		fn(current, current)
	}
	return unsubscribe
}
