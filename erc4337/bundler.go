package erc4337

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

type GasEstimates struct {
	PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big `json:"paymasterPostOpGasLimit,omitempty"`
}

// GasPrice is one tier of pimlico_getUserOperationGasPrice
type GasPrice struct {
	MaxFeePerGas         *hexutil.Big `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big `json:"maxPriorityFeePerGas"`
}

type GasPriceTiers struct {
	Slow     GasPrice `json:"slow"`
	Standard GasPrice `json:"standard"`
	Fast     GasPrice `json:"fast"`
}

// Log mirrors an event log inside a user operation receipt. Bundlers differ in
// which bookkeeping fields they fill, so nothing beyond address/topics/data is required.
type Log struct {
	Address         common.Address `json:"address"`
	Topics          []common.Hash  `json:"topics"`
	Data            hexutil.Bytes  `json:"data"`
	BlockNumber     string         `json:"blockNumber,omitempty"`
	TransactionHash common.Hash    `json:"transactionHash"`
	LogIndex        string         `json:"logIndex,omitempty"`
}

type TransactionReceipt struct {
	BlockHash         common.Hash    `json:"blockHash"`
	BlockNumber       string         `json:"blockNumber"`
	From              common.Address `json:"from"`
	CumulativeGasUsed string         `json:"cumulativeGasUsed"`
	GasUsed           string         `json:"gasUsed"`
	Logs              []Log          `json:"logs"`
	TransactionHash   common.Hash    `json:"transactionHash"`
	TransactionIndex  string         `json:"transactionIndex"`
	EffectiveGasPrice string         `json:"effectiveGasPrice"`
	Status            string         `json:"status"`
}

type UserOperationReceipt struct {
	UserOpHash    common.Hash         `json:"userOpHash"`
	EntryPoint    common.Address      `json:"entryPoint"`
	Sender        common.Address      `json:"sender"`
	Paymaster     common.Address      `json:"paymaster"`
	Nonce         string              `json:"nonce"`
	Success       bool                `json:"success"`
	Reason        string              `json:"reason,omitempty"`
	ActualGasCost string              `json:"actualGasCost"`
	ActualGasUsed string              `json:"actualGasUsed"`
	Receipt       *TransactionReceipt `json:"receipt"`
	Logs          []Log               `json:"logs"`
}

type Bundler interface {
	ChainId(ctx context.Context) (*big.Int, error)
	SupportedEntryPoints(ctx context.Context) ([]common.Address, error)
	EstimateUserOperationGas(ctx context.Context, op *UserOperation, entryPoint common.Address, override StateOverride) (*GasEstimates, error)
	SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error)
	// GetUserOperationReceipt returns nil without error while the operation is pending.
	GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash) (*UserOperationReceipt, error)
	GetUserOperationGasPrice(ctx context.Context) (*GasPriceTiers, error)
}

type BundlerClient struct {
	client *rpc.Client
}

func DialContext(ctx context.Context, rawurl string) (*BundlerClient, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return NewBundlerClient(c), nil
}

func NewBundlerClient(c *rpc.Client) *BundlerClient {
	return &BundlerClient{c}
}

func (b *BundlerClient) Client() *rpc.Client {
	return b.client
}

func (b *BundlerClient) ChainId(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	err := b.client.CallContext(ctx, &result, "eth_chainId")
	if err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

func (b *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var result []common.Address
	err := b.client.CallContext(ctx, &result, "eth_supportedEntryPoints")
	return result, err
}

func (b *BundlerClient) EstimateUserOperationGas(ctx context.Context, op *UserOperation, entryPoint common.Address, override StateOverride) (*GasEstimates, error) {
	args := []interface{}{op, entryPoint}
	if len(override) > 0 {
		args = append(args, override)
	}
	var estimate GasEstimates
	err := b.client.CallContext(ctx, &estimate, "eth_estimateUserOperationGas", args...)
	if err != nil {
		return nil, err
	}
	return &estimate, nil
}

func (b *BundlerClient) SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error) {
	var result common.Hash
	err := b.client.CallContext(ctx, &result, "eth_sendUserOperation", op, entryPoint)
	return result, err
}

func (b *BundlerClient) GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash) (*UserOperationReceipt, error) {
	var receipt *UserOperationReceipt
	err := b.client.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", userOpHash)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (b *BundlerClient) GetUserOperationGasPrice(ctx context.Context) (*GasPriceTiers, error) {
	var tiers GasPriceTiers
	err := b.client.CallContext(ctx, &tiers, "pimlico_getUserOperationGasPrice")
	if err != nil {
		return nil, err
	}
	return &tiers, nil
}
