package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type Chain struct {
	ID             uint64          `json:"id"`
	Name           string          `json:"name"`
	NativeCurrency NativeCurrency  `json:"nativeCurrency"`
	RpcUrls        []string        `json:"rpcUrls,omitempty"`
	BlockExplorer  string          `json:"blockExplorer,omitempty"`
	EnsRegistry    *common.Address `json:"ensRegistry,omitempty"`
	Testnet        bool            `json:"testnet,omitempty"`
}

func (c Chain) HexID() string {
	return hexutil.EncodeUint64(c.ID)
}

func (c Chain) String() string {
	return fmt.Sprintf("%s(%d)", c.Name, c.ID)
}

var (
	ether = NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}

	ensRegistry = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

	Sepolia = Chain{
		ID:             11155111,
		Name:           "Sepolia",
		NativeCurrency: NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
		RpcUrls:        []string{"https://sepolia.drpc.org"},
		BlockExplorer:  "https://sepolia.etherscan.io",
		EnsRegistry:    &ensRegistry,
		Testnet:        true,
	}
	BaseSepolia = Chain{
		ID:             84532,
		Name:           "Base Sepolia",
		NativeCurrency: NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
		RpcUrls:        []string{"https://sepolia.base.org"},
		BlockExplorer:  "https://sepolia.basescan.org",
		Testnet:        true,
	}
	Base = Chain{
		ID:             8453,
		Name:           "Base",
		NativeCurrency: ether,
		RpcUrls:        []string{"https://mainnet.base.org"},
		BlockExplorer:  "https://basescan.org",
	}
	Arbitrum = Chain{
		ID:             42161,
		Name:           "Arbitrum One",
		NativeCurrency: ether,
		RpcUrls:        []string{"https://arb1.arbitrum.io/rpc"},
		BlockExplorer:  "https://arbiscan.io",
	}
	ArbitrumSepolia = Chain{
		ID:             421614,
		Name:           "Arbitrum Sepolia",
		NativeCurrency: NativeCurrency{Name: "Arbitrum Sepolia Ether", Symbol: "ETH", Decimals: 18},
		RpcUrls:        []string{"https://sepolia-rollup.arbitrum.io/rpc"},
		BlockExplorer:  "https://sepolia.arbiscan.io",
		Testnet:        true,
	}
	Optimism = Chain{
		ID:             10,
		Name:           "OP Mainnet",
		NativeCurrency: ether,
		RpcUrls:        []string{"https://mainnet.optimism.io"},
		BlockExplorer:  "https://optimistic.etherscan.io",
	}
)

var builtinChains = []Chain{Sepolia, BaseSepolia, Base, Arbitrum, ArbitrumSepolia, Optimism}

// BuiltinChain returns the built-in definition for id.
func BuiltinChain(id uint64) (Chain, bool) {
	return FindChain(builtinChains, id)
}

func FindChain(chains []Chain, id uint64) (Chain, bool) {
	for _, c := range chains {
		if c.ID == id {
			return c, true
		}
	}
	return Chain{}, false
}
