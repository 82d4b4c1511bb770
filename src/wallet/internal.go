package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/store"
	"github.com/google/uuid"
)

// Implementation creates passkey credentials, binds them to account addresses
// and signs challenges with them.
type Implementation interface {
	Setup(internal *Internal) (destroy func())
	CreateCredential(ctx context.Context, name string) (domain.Credential, error)
	DeriveAccount(credential domain.Credential, chainID uint64) (domain.Account, error)
	Sign(ctx context.Context, credential domain.Credential, challenge []byte) (*domain.WebAuthnSignature, error)
}

// PriceManager keeps State.Price fresh for as long as it is set up.
type PriceManager interface {
	Setup(internal *Internal) (destroy func())
}

// Internal is the per-instance context every component reads config, store
// and pluggable collaborators through.
type Internal struct {
	ID     string
	Config Config
	Store  *store.Store

	mu             sync.RWMutex
	implementation Implementation
	implDestroy    func()
	priceManager   PriceManager
	priceDestroy   func()
}

func NewInternal(cfg Config, st *store.Store) *Internal {
	return &Internal{
		ID:     uuid.NewString(),
		Config: cfg,
		Store:  st,
	}
}

func (i *Internal) Implementation() Implementation {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.implementation
}

// SetImplementation tears down the current implementation and sets up impl.
// The returned func tears impl down; it is safe to call more than once.
func (i *Internal) SetImplementation(impl Implementation) func() {
	i.mu.Lock()
	previous := i.implDestroy
	i.implementation = impl
	i.implDestroy = nil
	i.mu.Unlock()

	if previous != nil {
		previous()
	}
	if impl == nil {
		return func() {}
	}

	destroy := once(impl.Setup(i))
	i.mu.Lock()
	if i.implementation == impl {
		i.implDestroy = destroy
	}
	i.mu.Unlock()
	return destroy
}

func (i *Internal) PriceManager() PriceManager {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.priceManager
}

// SetPriceManager swaps the price manager the same way SetImplementation does.
func (i *Internal) SetPriceManager(pm PriceManager) func() {
	i.mu.Lock()
	previous := i.priceDestroy
	i.priceManager = pm
	i.priceDestroy = nil
	i.mu.Unlock()

	if previous != nil {
		previous()
	}
	if pm == nil {
		return func() {}
	}

	destroy := once(pm.Setup(i))
	i.mu.Lock()
	if i.priceManager == pm {
		i.priceDestroy = destroy
	}
	i.mu.Unlock()
	return destroy
}

// Chain resolves chainID against the allow-list. Zero means the current chain.
func (i *Internal) Chain(chainID uint64) (domain.Chain, error) {
	if chainID == 0 {
		current := i.Store.GetState().Chain
		if current.ID == 0 {
			return domain.Chain{}, domain.NewError(domain.ErrorCodeChainNotFound, errors.New("no current chain"))
		}
		chainID = current.ID
	}
	chain, ok := domain.FindChain(i.Config.Chains, chainID)
	if !ok {
		return domain.Chain{}, domain.NewChainNotFoundError(chainID)
	}
	return chain, nil
}

// Destroy tears down the implementation and the price manager.
func (i *Internal) Destroy() {
	i.SetImplementation(nil)
	i.SetPriceManager(nil)
}

func once(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	var o sync.Once
	return func() { o.Do(fn) }
}
