package resolver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/wallet"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const defaultPollingInterval = 500 * time.Millisecond

var pollingIntervals = map[uint64]time.Duration{
	42161:    62 * time.Millisecond,
	11155111: 3000 * time.Millisecond,
	421614:   75 * time.Millisecond,
	8453:     500 * time.Millisecond,
	84532:    50 * time.Millisecond,
	10:       500 * time.Millisecond,
}

// PollingInterval is how often receipts and blocks are polled on chainID.
func PollingInterval(chainID uint64) time.Duration {
	if d, ok := pollingIntervals[chainID]; ok {
		return d
	}
	return defaultPollingInterval
}

// RpcClient is a node connection bound to one chain.
type RpcClient struct {
	*ethclient.Client
	Chain           domain.Chain
	PollingInterval time.Duration

	raw   *rpc.Client
	owned bool
}

// Raw exposes the underlying JSON-RPC client for methods ethclient lacks.
func (c *RpcClient) Raw() *rpc.Client {
	return c.raw
}

type clientKey struct {
	instance string
	chainID  uint64
}

type paymasterKey struct {
	clientKey
	url string
}

type bundlerEntry struct {
	client *erc4337.BundlerClient
	owned  bool
}

type paymasterEntry struct {
	client *erc4337.PaymasterClient
	owned  bool
}

// Resolver hands out memoized node, bundler and paymaster clients for the
// chains of one wallet instance.
type Resolver struct {
	internal *wallet.Internal

	mu         sync.RWMutex
	clients    map[clientKey]*RpcClient
	bundlers   map[clientKey]bundlerEntry
	paymasters map[paymasterKey]paymasterEntry

	listenersMu sync.Mutex
	listeners   map[int]func(chainID uint64)
	nextID      int
}

func New(internal *wallet.Internal) *Resolver {
	return &Resolver{
		internal:   internal,
		clients:    make(map[clientKey]*RpcClient),
		bundlers:   make(map[clientKey]bundlerEntry),
		paymasters: make(map[paymasterKey]paymasterEntry),
		listeners:  make(map[int]func(chainID uint64)),
	}
}

// OnInvalidate calls fn with the chain id after every Invalidate. Holders of
// clients built on the resolver use it to drop them too.
func (r *Resolver) OnInvalidate(fn func(chainID uint64)) func() {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	return func() {
		r.listenersMu.Lock()
		defer r.listenersMu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *Resolver) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "resolver").Logger()
	return &l
}

func (r *Resolver) key(chainID uint64) clientKey {
	return clientKey{instance: r.internal.ID, chainID: chainID}
}

// Client returns the node client for chainID. Zero means the current chain.
func (r *Resolver) Client(ctx context.Context, chainID uint64) (*RpcClient, error) {
	chain, err := r.internal.Chain(chainID)
	if err != nil {
		return nil, err
	}
	key := r.key(chain.ID)

	r.mu.RLock()
	if client, exists := r.clients[key]; exists {
		r.mu.RUnlock()
		return client, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check pattern
	if client, exists := r.clients[key]; exists {
		return client, nil
	}

	transport, ok := r.internal.Config.RPC[chain.ID]
	if !ok || !transport.Configured() {
		// fall back to the chain's public endpoint
		url, found := lo.Find(chain.RpcUrls, func(u string) bool { return u != "" })
		if !found {
			return nil, domain.NewTransportNotConfiguredError("rpc", chain.ID)
		}
		transport = wallet.Transport{URL: url}
	}

	raw, owned, err := dial(ctx, transport)
	if err != nil {
		r.logger(ctx).Error().Err(err).
			Uint64("chain_id", chain.ID).
			Msg("failed to dial rpc")
		return nil, domain.NewError(domain.ErrorCodeRemoteProcess, fmt.Errorf("failed to dial rpc for chain %d: %w", chain.ID, err))
	}

	client := &RpcClient{
		Client:          ethclient.NewClient(raw),
		Chain:           chain,
		PollingInterval: PollingInterval(chain.ID),
		raw:             raw,
		owned:           owned,
	}
	r.clients[key] = client

	r.logger(ctx).Debug().
		Uint64("chain_id", chain.ID).
		Dur("polling_interval", client.PollingInterval).
		Msg("created rpc client")
	return client, nil
}

// BundlerClient returns the bundler for chainID. Zero means the current chain.
func (r *Resolver) BundlerClient(ctx context.Context, chainID uint64) (erc4337.Bundler, error) {
	chain, err := r.internal.Chain(chainID)
	if err != nil {
		return nil, err
	}
	key := r.key(chain.ID)

	r.mu.RLock()
	if entry, exists := r.bundlers[key]; exists {
		r.mu.RUnlock()
		return entry.client, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.bundlers[key]; exists {
		return entry.client, nil
	}

	transport, ok := r.internal.Config.Bundler[chain.ID]
	if !ok || !transport.Configured() {
		return nil, domain.NewTransportNotConfiguredError("bundler", chain.ID)
	}

	raw, owned, err := dial(ctx, transport)
	if err != nil {
		r.logger(ctx).Error().Err(err).
			Uint64("chain_id", chain.ID).
			Msg("failed to dial bundler")
		return nil, domain.NewError(domain.ErrorCodeRemoteProcess, fmt.Errorf("failed to dial bundler for chain %d: %w", chain.ID, err))
	}

	client := erc4337.NewBundlerClient(raw)
	r.bundlers[key] = bundlerEntry{client: client, owned: owned}

	r.logger(ctx).Debug().
		Uint64("chain_id", chain.ID).
		Msg("created bundler client")
	return client, nil
}

// PaymasterClient returns the configured paymaster for chainID, or nil when
// the chain has none.
func (r *Resolver) PaymasterClient(ctx context.Context, chainID uint64) (*erc4337.PaymasterClient, error) {
	chain, err := r.internal.Chain(chainID)
	if err != nil {
		return nil, err
	}
	transport, ok := r.internal.Config.PaymasterTransport(chain.ID)
	if !ok {
		return nil, nil
	}
	return r.paymaster(ctx, paymasterKey{clientKey: r.key(chain.ID)}, transport, r.internal.Config.PaymasterContext())
}

// PaymasterClientForURL returns an ERC-7677 client for a paymaster service
// URL supplied by the caller, with the given paymaster context.
func (r *Resolver) PaymasterClientForURL(ctx context.Context, chainID uint64, url string, pmContext map[string]any) (*erc4337.PaymasterClient, error) {
	chain, err := r.internal.Chain(chainID)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, domain.NewTransportNotConfiguredError("paymaster", chain.ID)
	}
	client, err := r.paymaster(ctx, paymasterKey{clientKey: r.key(chain.ID), url: url}, wallet.Transport{URL: url}, nil)
	if err != nil {
		return nil, err
	}
	if pmContext == nil {
		return client, nil
	}
	// same connection, per-request context
	return client.WithContext(pmContext), nil
}

func (r *Resolver) paymaster(ctx context.Context, key paymasterKey, transport wallet.Transport, pmContext map[string]any) (*erc4337.PaymasterClient, error) {
	r.mu.RLock()
	if entry, exists := r.paymasters[key]; exists {
		r.mu.RUnlock()
		return entry.client, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.paymasters[key]; exists {
		return entry.client, nil
	}

	raw, owned, err := dial(ctx, transport)
	if err != nil {
		r.logger(ctx).Error().Err(err).
			Uint64("chain_id", key.chainID).
			Str("paymaster_url", key.url).
			Msg("failed to dial paymaster")
		return nil, domain.NewError(domain.ErrorCodeRemoteProcess, fmt.Errorf("failed to dial paymaster for chain %d: %w", key.chainID, err))
	}

	client := erc4337.NewPaymasterClient(raw, pmContext)
	r.paymasters[key] = paymasterEntry{client: client, owned: owned}
	return client, nil
}

// Invalidate drops every client memoized for chainID so the next lookup
// dials again.
func (r *Resolver) Invalidate(chainID uint64) {
	r.drop(chainID)

	r.listenersMu.Lock()
	listeners := lo.Values(r.listeners)
	r.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(chainID)
	}
}

func (r *Resolver) drop(chainID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.key(chainID)
	if client, exists := r.clients[key]; exists {
		if client.owned {
			client.raw.Close()
		}
		delete(r.clients, key)
	}
	if entry, exists := r.bundlers[key]; exists {
		if entry.owned {
			entry.client.Client().Close()
		}
		delete(r.bundlers, key)
	}
	for pk, entry := range r.paymasters {
		if pk.clientKey != key {
			continue
		}
		if entry.owned {
			entry.client.Close()
		}
		delete(r.paymasters, pk)
	}
}

// Close closes all client connections and cleans up the pool. Preset clients
// passed in through the config are left open for their owner.
func (r *Resolver) Close() {
	r.mu.Lock()
	chainIDs := lo.Uniq(append(
		lo.Map(lo.Keys(r.clients), func(k clientKey, _ int) uint64 { return k.chainID }),
		append(
			lo.Map(lo.Keys(r.bundlers), func(k clientKey, _ int) uint64 { return k.chainID }),
			lo.Map(lo.Keys(r.paymasters), func(k paymasterKey, _ int) uint64 { return k.chainID })...,
		)...,
	))
	r.mu.Unlock()

	for _, id := range chainIDs {
		r.Invalidate(id)
	}
}

func dial(ctx context.Context, transport wallet.Transport) (*rpc.Client, bool, error) {
	if transport.Client != nil {
		return transport.Client, false, nil
	}
	var opts []rpc.ClientOption
	if len(transport.Headers) > 0 {
		headers := make(http.Header, len(transport.Headers))
		for k, v := range transport.Headers {
			headers.Set(k, v)
		}
		opts = append(opts, rpc.WithHeaders(headers))
	}
	client, err := rpc.DialOptions(ctx, transport.URL, opts...)
	if err != nil {
		return nil, false, err
	}
	return client, true, nil
}
