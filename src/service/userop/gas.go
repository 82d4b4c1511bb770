package userop

import (
	"math/big"

	"github.com/batua/wallet/erc4337"
	"github.com/shopspring/decimal"
)

var weiPerEther = decimal.New(1, 18)

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}

// GasCost is the most the operation can charge in wei. preVerificationGas is
// counted twice, matching what the wallet UI has always shown.
func GasCost(op *erc4337.UserOperation) *big.Int {
	if op == nil {
		return new(big.Int)
	}
	limit := new(big.Int).Add(orZero(op.CallGasLimit), orZero(op.VerificationGasLimit))
	limit.Add(limit, orZero(op.PreVerificationGas))
	limit.Add(limit, orZero(op.PaymasterPostOpGasLimit))
	limit.Add(limit, orZero(op.PreVerificationGas))
	return limit.Mul(limit, orZero(op.MaxFeePerGas))
}

// HasEnoughBalance tells whether the sender can pay cost. Sponsored
// operations always can.
func HasEnoughBalance(balance, cost *big.Int, hasPaymaster bool) bool {
	if hasPaymaster {
		return true
	}
	balance, cost = orZero(balance), orZero(cost)
	if balance.Sign() == 0 && cost.Sign() == 0 {
		return true
	}
	return balance.Cmp(cost) > 0
}

// FiatCost converts a wei amount at price (fiat per native unit), rounded to
// cents.
func FiatCost(cost *big.Int, price decimal.Decimal) decimal.Decimal {
	ether := decimal.NewFromBigInt(orZero(cost), 0).Div(weiPerEther)
	return ether.Mul(price).Round(2)
}
