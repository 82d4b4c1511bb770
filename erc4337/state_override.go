package erc4337

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OverrideAccount is a per-account state override as accepted by
// eth_estimateUserOperationGas, eth_call and eth_simulateV1.
type OverrideAccount struct {
	Nonce     *hexutil.Uint64             `json:"nonce,omitempty"`
	Code      *hexutil.Bytes              `json:"code,omitempty"`
	Balance   *hexutil.Big                `json:"balance,omitempty"`
	State     map[common.Hash]common.Hash `json:"state,omitempty"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff,omitempty"`
}

type StateOverride map[common.Address]OverrideAccount

// BalanceOverride credits addr with balance and nothing else.
func BalanceOverride(addr common.Address, balance *big.Int) StateOverride {
	return StateOverride{addr: {Balance: (*hexutil.Big)(new(big.Int).Set(balance))}}
}

// Ether converts a whole-ether amount to wei.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}
