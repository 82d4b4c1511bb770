package smartaccount

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/metrics"
	"github.com/batua/wallet/src/service/kernel"
	"github.com/batua/wallet/src/service/resolver"
	"github.com/batua/wallet/src/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

type Params struct {
	Account      domain.Account
	ChainID      uint64 // zero means the current chain
	Capabilities *domain.Capabilities
}

type cacheKey struct {
	instance     string
	chainID      uint64
	account      common.Address
	paymasterURL string
}

// Factory builds and memoizes smart account clients for one wallet instance.
type Factory struct {
	internal *wallet.Internal
	resolver *resolver.Resolver
	metrics  metrics.Recorder

	mu      sync.RWMutex
	clients map[cacheKey]*Client

	unsubscribe func()
}

// NewFactory follows the resolver: invalidating a chain there drops the
// clients built on its transports here.
func NewFactory(internal *wallet.Internal, resolver *resolver.Resolver, recorder metrics.Recorder) *Factory {
	f := &Factory{
		internal: internal,
		resolver: resolver,
		metrics:  metrics.OrNoop(recorder),
		clients:  make(map[cacheKey]*Client),
	}
	f.unsubscribe = resolver.OnInvalidate(f.Invalidate)
	return f
}

func (f *Factory) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "smartaccount").Logger()
	return &l
}

// GetSmartAccountClient returns the client for params.Account on
// params.ChainID. Clients are shared per account, chain and paymaster URL.
func (f *Factory) GetSmartAccountClient(ctx context.Context, params Params) (*Client, error) {
	chain, err := f.internal.Chain(params.ChainID)
	if err != nil {
		return nil, err
	}
	key := cacheKey{
		instance:     f.internal.ID,
		chainID:      chain.ID,
		account:      params.Account.Address,
		paymasterURL: params.Capabilities.PaymasterURL(),
	}

	f.mu.RLock()
	if client, exists := f.clients[key]; exists {
		f.mu.RUnlock()
		return client, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check pattern
	if client, exists := f.clients[key]; exists {
		return client, nil
	}

	client, err := f.build(ctx, chain, params)
	if err != nil {
		return nil, err
	}
	f.clients[key] = client

	f.logger(ctx).Debug().
		Uint64("chain_id", chain.ID).
		Str("account", params.Account.Address.Hex()).
		Bool("has_paymaster", client.HasPaymaster()).
		Msg("created smart account client")
	return client, nil
}

func (f *Factory) build(ctx context.Context, chain domain.Chain, params Params) (*Client, error) {
	version, err := kernel.ParseVersion(params.Account.Version)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	if params.Account.Version == "" && f.internal.Config.KernelVersion != "" {
		if version, err = kernel.ParseVersion(f.internal.Config.KernelVersion); err != nil {
			return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
		}
	}

	credentialID, err := accountCredentialID(params.Account)
	if err != nil {
		return nil, err
	}
	account, err := kernel.NewAccount(version, f.internal.Config.EntryPoint, params.Account.Key.PublicKey, credentialID)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, fmt.Errorf("failed to build kernel account: %w", err))
	}
	if account.Address() != params.Account.Address {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess,
			fmt.Errorf("account %s does not match its key (derived %s)", params.Account.Address.Hex(), account.Address().Hex()))
	}

	node, err := f.resolver.Client(ctx, chain.ID)
	if err != nil {
		return nil, err
	}
	bundler, err := f.resolver.BundlerClient(ctx, chain.ID)
	if err != nil {
		return nil, err
	}

	client := &Client{
		Account:    params.Account,
		Chain:      chain,
		kernel:     account,
		node:       node,
		bundler:    bundler,
		entryPoint: f.internal.Config.EntryPoint,
		boosted:    f.internal.Config.Boosted,
		metrics:    f.metrics,
	}
	if client.boosted != nil && !chain.Testnet {
		f.logger(ctx).Warn().Uint64("chain_id", chain.ID).Msg("boosted mode sends zero-fee user operations on a mainnet chain")
	}

	// capability URL first, then the configured transport, else self-funded
	if url := params.Capabilities.PaymasterURL(); url != "" {
		client.paymaster, err = f.resolver.PaymasterClientForURL(ctx, chain.ID, url, params.Capabilities.PaymasterService.Context)
	} else {
		client.paymaster, err = f.resolver.PaymasterClient(ctx, chain.ID)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Invalidate drops the clients of chainID.
func (f *Factory) Invalidate(chainID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.clients {
		if key.chainID == chainID {
			delete(f.clients, key)
		}
	}
}

func (f *Factory) Close() {
	f.unsubscribe()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients = make(map[cacheKey]*Client)
}

func accountCredentialID(account domain.Account) ([]byte, error) {
	if account.Key.Credential != nil && len(account.Key.Credential.ID) > 0 {
		return account.Key.Credential.ID, nil
	}
	id, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(account.Key.ID, "="))
	if err != nil || len(id) == 0 {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, fmt.Errorf("account %s has no usable key id", account.Address.Hex()))
	}
	return id, nil
}
