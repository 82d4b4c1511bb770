package erc4337

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

type Sponsor struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// PaymasterData is the ERC-7677 result of both pm_getPaymasterStubData and
// pm_getPaymasterData. IsFinal is only meaningful for stub data.
type PaymasterData struct {
	Sponsor                       *Sponsor        `json:"sponsor,omitempty"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	IsFinal                       bool            `json:"isFinal,omitempty"`
}

// Apply copies the paymaster fields onto op. Gas limits the paymaster left out
// keep their previous value.
func (d *PaymasterData) Apply(op *UserOperation) {
	if d == nil || d.Paymaster == nil {
		return
	}
	pm := *d.Paymaster
	op.Paymaster = &pm
	op.PaymasterData = cloneBytes(d.PaymasterData)
	if d.PaymasterVerificationGasLimit != nil {
		op.PaymasterVerificationGasLimit = new(big.Int).Set(d.PaymasterVerificationGasLimit.ToInt())
	}
	if d.PaymasterPostOpGasLimit != nil {
		op.PaymasterPostOpGasLimit = new(big.Int).Set(d.PaymasterPostOpGasLimit.ToInt())
	}
}

// PaymasterClient talks ERC-7677 to a paymaster service.
type PaymasterClient struct {
	client  *rpc.Client
	context map[string]any
}

func NewPaymasterClient(c *rpc.Client, pmContext map[string]any) *PaymasterClient {
	return &PaymasterClient{client: c, context: pmContext}
}

func (p *PaymasterClient) Context() map[string]any {
	return p.context
}

// WithContext returns a client sharing p's connection that sends pmContext.
func (p *PaymasterClient) WithContext(pmContext map[string]any) *PaymasterClient {
	return &PaymasterClient{client: p.client, context: pmContext}
}

func (p *PaymasterClient) Close() {
	p.client.Close()
}

func (p *PaymasterClient) GetPaymasterStubData(ctx context.Context, op *UserOperation, entryPoint common.Address, chainID *big.Int) (*PaymasterData, error) {
	return p.call(ctx, "pm_getPaymasterStubData", op, entryPoint, chainID)
}

func (p *PaymasterClient) GetPaymasterData(ctx context.Context, op *UserOperation, entryPoint common.Address, chainID *big.Int) (*PaymasterData, error) {
	return p.call(ctx, "pm_getPaymasterData", op, entryPoint, chainID)
}

func (p *PaymasterClient) call(ctx context.Context, method string, op *UserOperation, entryPoint common.Address, chainID *big.Int) (*PaymasterData, error) {
	pmContext := p.context
	if pmContext == nil {
		pmContext = map[string]any{}
	}
	var result PaymasterData
	err := p.client.CallContext(ctx, &result, method, op, entryPoint, (*hexutil.Big)(chainID), pmContext)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
