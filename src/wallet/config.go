package wallet

import (
	"math/big"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	DefaultDappName   = "Dapp"
	DefaultWalletName = "Batua"
	DefaultRDNS       = "xyz.batua"
)

// Transport describes how to reach one JSON-RPC endpoint. A preset Client is
// used as-is and URL/Headers are ignored.
type Transport struct {
	URL     string
	Headers map[string]string
	Client  *rpc.Client
}

func (t Transport) Configured() bool {
	return t.URL != "" || t.Client != nil
}

type PaymasterConfig struct {
	Transports map[uint64]Transport
	Context    map[string]interface{}
}

// Boosted forces zero fees for sponsor chains. With gas limits set, live gas
// estimation is skipped too.
type Boosted struct {
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
}

func (b *Boosted) HasGasLimits() bool {
	return b != nil && b.CallGasLimit != nil && b.VerificationGasLimit != nil && b.PreVerificationGas != nil
}

type Config struct {
	DappName         string
	DappIcon         string
	WalletName       string
	WalletIcon       string
	WalletRDNS       string
	AnnounceProvider *bool

	// Chains is the allow-list. The first entry is the initial current chain.
	Chains []domain.Chain

	Storage     store.Storage
	StorageName string

	RPC       map[uint64]Transport
	Bundler   map[uint64]Transport
	Paymaster *PaymasterConfig

	Boosted *Boosted

	EntryPoint    common.Address
	KernelVersion string
}

// WithDefaults fills every unset field with its default.
func (c Config) WithDefaults() Config {
	if c.DappName == "" {
		c.DappName = DefaultDappName
	}
	if c.WalletName == "" {
		c.WalletName = DefaultWalletName
	}
	if c.WalletRDNS == "" {
		c.WalletRDNS = DefaultRDNS
	}
	if c.AnnounceProvider == nil {
		announce := true
		c.AnnounceProvider = &announce
	}
	if c.Storage == nil {
		c.Storage = store.NewMemoryStorage()
	}
	if c.StorageName == "" {
		c.StorageName = store.DefaultName
	}
	if c.EntryPoint == (common.Address{}) {
		c.EntryPoint = erc4337.EntryPointV07
	}
	if c.RPC == nil {
		c.RPC = map[uint64]Transport{}
	}
	if c.Bundler == nil {
		c.Bundler = map[uint64]Transport{}
	}
	return c
}

func (c Config) ShouldAnnounce() bool {
	return c.AnnounceProvider == nil || *c.AnnounceProvider
}

func (c Config) PaymasterTransport(chainID uint64) (Transport, bool) {
	if c.Paymaster == nil {
		return Transport{}, false
	}
	t, ok := c.Paymaster.Transports[chainID]
	return t, ok && t.Configured()
}

func (c Config) PaymasterContext() map[string]interface{} {
	if c.Paymaster == nil {
		return nil
	}
	return c.Paymaster.Context
}
