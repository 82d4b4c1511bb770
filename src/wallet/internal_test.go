package wallet

import (
	"context"
	"testing"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPriceManager struct {
	name   string
	events *[]string
}

func (r *recordingPriceManager) Setup(internal *Internal) func() {
	*r.events = append(*r.events, "setup "+r.name)
	internal.Store.SetState(func(st store.State) store.State {
		st.Price = &domain.Price{Value: decimal.NewFromInt(int64(len(r.name)))}
		return st
	})
	return func() { *r.events = append(*r.events, "destroy "+r.name) }
}

func newTestInternal(t *testing.T) *Internal {
	t.Helper()
	cfg := Config{Chains: []domain.Chain{domain.BaseSepolia, domain.Sepolia}}.WithDefaults()
	st := store.New(context.Background(), store.Options{Initial: store.State{Chain: cfg.Chains[0]}})
	return NewInternal(cfg, st)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	assert.Equal(t, "Dapp", cfg.DappName)
	assert.Equal(t, "Batua", cfg.WalletName)
	assert.True(t, cfg.ShouldAnnounce())
	assert.Equal(t, "batua.store", cfg.StorageName)
	assert.Equal(t, erc4337.EntryPointV07, cfg.EntryPoint)
	assert.NotNil(t, cfg.Storage)

	off := false
	assert.False(t, Config{AnnounceProvider: &off}.WithDefaults().ShouldAnnounce())
}

func TestInternal_SetPriceManager(t *testing.T) {
	internal := newTestInternal(t)
	var events []string

	destroyFirst := internal.SetPriceManager(&recordingPriceManager{name: "first", events: &events})
	internal.Store.SetState(func(st store.State) store.State {
		st.Accounts = []domain.Account{{Key: domain.Key{ID: "kept"}}}
		return st
	})
	second := &recordingPriceManager{name: "second!", events: &events}
	destroySecond := internal.SetPriceManager(second)

	assert.Equal(t, []string{"setup first", "destroy first", "setup second!"}, events)
	assert.Same(t, second, internal.PriceManager())
	// store state survives the swap
	assert.Len(t, internal.Store.GetState().Accounts, 1)
	assert.True(t, decimal.NewFromInt(7).Equal(internal.Store.GetState().Price.Value))

	// destroying a replaced manager again is a no-op
	destroyFirst()
	destroySecond()
	destroySecond()
	assert.Equal(t, []string{"setup first", "destroy first", "setup second!", "destroy second!"}, events)

	internal.Destroy()
	assert.Len(t, events, 4)
}

func TestInternal_Chain(t *testing.T) {
	internal := newTestInternal(t)

	current, err := internal.Chain(0)
	require.NoError(t, err)
	assert.Equal(t, domain.BaseSepolia.ID, current.ID)

	sepolia, err := internal.Chain(domain.Sepolia.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sepolia", sepolia.Name)

	_, err = internal.Chain(domain.Base.ID)
	assert.ErrorIs(t, err, domain.ErrChainNotFound)
}
