package smartaccount

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/metrics"
	"github.com/batua/wallet/src/service/kernel"
	"github.com/batua/wallet/src/service/resolver"
	"github.com/batua/wallet/src/wallet"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Client prepares, signs and submits user operations for one account on one
// chain. It is read-only after construction.
type Client struct {
	Account domain.Account
	Chain   domain.Chain

	kernel     *kernel.Account
	node       *resolver.RpcClient
	bundler    erc4337.Bundler
	paymaster  *erc4337.PaymasterClient
	entryPoint common.Address
	boosted    *wallet.Boosted
	metrics    metrics.Recorder
}

// PrepareParams are the inputs of PrepareUserOperation. Estimation is skipped
// when all three gas limits are given.
type PrepareParams struct {
	Calls         []domain.Call
	StateOverride erc4337.StateOverride

	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
}

func (p PrepareParams) hasGasLimits() bool {
	return p.CallGasLimit != nil && p.VerificationGasLimit != nil && p.PreVerificationGas != nil
}

func (c *Client) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().
		Str("service", "smartaccount").
		Uint64("chain_id", c.Chain.ID).
		Str("account", c.Account.Address.Hex()).
		Logger()
	return &l
}

func (c *Client) Address() common.Address {
	return c.kernel.Address()
}

func (c *Client) EntryPoint() common.Address {
	return c.entryPoint
}

// Node is the chain's RPC client.
func (c *Client) Node() *resolver.RpcClient {
	return c.node
}

// HasPaymaster reports whether operations from this client are sponsored.
func (c *Client) HasPaymaster() bool {
	return c.paymaster != nil
}

func (c *Client) chainID() *big.Int {
	return new(big.Int).SetUint64(c.Chain.ID)
}

func remoteError(err error, format string, args ...any) error {
	var domainErr domain.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return domain.NewError(domain.ErrorCodeRemoteProcess, fmt.Errorf(format+": %w", append(args, err)...))
}

// PrepareUserOperation fills every field of a user operation except the
// final signature, which holds the stub.
func (c *Client) PrepareUserOperation(ctx context.Context, params PrepareParams) (*erc4337.UserOperation, error) {
	if len(params.Calls) == 0 {
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, errors.New("no calls to prepare"))
	}
	callData, err := kernel.EncodeCalls(params.Calls)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, err)
	}

	op := &erc4337.UserOperation{
		Sender:    c.kernel.Address(),
		CallData:  callData,
		Signature: kernel.StubSignature(),
	}

	if op.Nonce, err = c.nonce(ctx); err != nil {
		return nil, err
	}
	if err := c.setFactory(ctx, op); err != nil {
		return nil, err
	}
	if err := c.setFees(ctx, op); err != nil {
		return nil, err
	}

	var stub *erc4337.PaymasterData
	if c.paymaster != nil {
		stub, err = c.paymaster.GetPaymasterStubData(ctx, op, c.entryPoint, c.chainID())
		if err != nil {
			c.logger(ctx).Error().Err(err).Msg("failed to get paymaster stub data")
			return nil, remoteError(err, "failed to get paymaster stub data")
		}
		stub.Apply(op)
	}

	if params.hasGasLimits() {
		op.CallGasLimit = new(big.Int).Set(params.CallGasLimit)
		op.VerificationGasLimit = new(big.Int).Set(params.VerificationGasLimit)
		op.PreVerificationGas = new(big.Int).Set(params.PreVerificationGas)
	} else if err := c.estimate(ctx, op, params.StateOverride); err != nil {
		return nil, err
	}

	if c.paymaster != nil && !stub.IsFinal {
		final, err := c.paymaster.GetPaymasterData(ctx, op, c.entryPoint, c.chainID())
		if err != nil {
			c.logger(ctx).Error().Err(err).Msg("failed to get paymaster data")
			return nil, remoteError(err, "failed to get paymaster data")
		}
		final.Apply(op)
	}

	c.metrics.IncUserOperation(c.Chain.ID, metrics.StagePrepared)
	c.logger(ctx).Debug().
		Str("nonce", op.Nonce.String()).
		Bool("deploy", op.Factory != nil).
		Bool("sponsored", op.Paymaster != nil).
		Msg("prepared user operation")
	return op, nil
}

func (c *Client) nonce(ctx context.Context) (*big.Int, error) {
	data, err := c.kernel.GetNonceCallData()
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	entryPoint := c.entryPoint
	result, err := c.node.CallContract(ctx, ethereum.CallMsg{To: &entryPoint, Data: data}, nil)
	if err != nil {
		c.logger(ctx).Error().Err(err).Msg("failed to read nonce")
		return nil, remoteError(err, "failed to read nonce")
	}
	nonce, err := kernel.UnpackNonce(result)
	if err != nil {
		return nil, remoteError(err, "failed to decode nonce")
	}
	return nonce, nil
}

// setFactory adds the deployment fields while the account has no code.
func (c *Client) setFactory(ctx context.Context, op *erc4337.UserOperation) error {
	code, err := c.node.CodeAt(ctx, op.Sender, nil)
	if err != nil {
		return remoteError(err, "failed to read account code")
	}
	if len(code) > 0 {
		return nil
	}
	factory, factoryData, err := c.kernel.FactoryArgs()
	if err != nil {
		return domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	op.Factory = &factory
	op.FactoryData = factoryData
	return nil
}

func (c *Client) setFees(ctx context.Context, op *erc4337.UserOperation) error {
	if c.boosted != nil {
		op.MaxFeePerGas = new(big.Int)
		op.MaxPriorityFeePerGas = new(big.Int)
		return nil
	}
	tiers, err := c.bundler.GetUserOperationGasPrice(ctx)
	if err != nil {
		c.logger(ctx).Error().Err(err).Msg("failed to get gas price")
		return remoteError(err, "failed to get user operation gas price")
	}
	if tiers.Fast.MaxFeePerGas == nil || tiers.Fast.MaxPriorityFeePerGas == nil {
		return domain.NewError(domain.ErrorCodeRemoteProcess, errors.New("bundler returned no fast gas price"))
	}
	op.MaxFeePerGas = new(big.Int).Set(tiers.Fast.MaxFeePerGas.ToInt())
	op.MaxPriorityFeePerGas = new(big.Int).Set(tiers.Fast.MaxPriorityFeePerGas.ToInt())
	return nil
}

func (c *Client) estimate(ctx context.Context, op *erc4337.UserOperation, override erc4337.StateOverride) error {
	estimates, err := c.bundler.EstimateUserOperationGas(ctx, op, c.entryPoint, override)
	if err != nil {
		c.logger(ctx).Error().Err(err).Msg("failed to estimate user operation gas")
		return remoteError(err, "failed to estimate user operation gas")
	}
	if estimates.CallGasLimit == nil || estimates.VerificationGasLimit == nil || estimates.PreVerificationGas == nil {
		return domain.NewError(domain.ErrorCodeRemoteProcess, errors.New("bundler returned incomplete gas estimates"))
	}
	op.CallGasLimit = new(big.Int).Set(estimates.CallGasLimit.ToInt())
	op.VerificationGasLimit = new(big.Int).Set(estimates.VerificationGasLimit.ToInt())
	op.PreVerificationGas = new(big.Int).Set(estimates.PreVerificationGas.ToInt())
	if op.Paymaster != nil {
		if estimates.PaymasterVerificationGasLimit != nil {
			op.PaymasterVerificationGasLimit = new(big.Int).Set(estimates.PaymasterVerificationGasLimit.ToInt())
		}
		if estimates.PaymasterPostOpGasLimit != nil {
			op.PaymasterPostOpGasLimit = new(big.Int).Set(estimates.PaymasterPostOpGasLimit.ToInt())
		}
	}
	return nil
}

// UserOperationHash is the v0.7 hash the passkey signs.
func (c *Client) UserOperationHash(op *erc4337.UserOperation) (common.Hash, error) {
	hash, err := op.Hash(c.entryPoint, c.chainID())
	if err != nil {
		return common.Hash{}, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	return hash, nil
}

// SignUserOperation returns a copy of op carrying the passkey signature.
func (c *Client) SignUserOperation(ctx context.Context, op *erc4337.UserOperation) (*erc4337.UserOperation, error) {
	hash, err := c.UserOperationHash(op)
	if err != nil {
		return nil, err
	}
	signature, err := c.sign(ctx, hash.Bytes())
	if err != nil {
		return nil, err
	}
	signed := op.Clone()
	signed.Signature = signature
	return signed, nil
}

// SignMessageHash signs hash for ERC-1271 verification by the account.
func (c *Client) SignMessageHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	digest, err := c.kernel.MessageHash(hash, c.Chain.ID)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	signature, err := c.sign(ctx, digest.Bytes())
	if err != nil {
		return nil, err
	}
	return c.kernel.WrapMessageSignature(signature), nil
}

func (c *Client) sign(ctx context.Context, challenge []byte) ([]byte, error) {
	if c.Account.Sign == nil {
		return nil, domain.NewError(domain.ErrorCodeUnauthorized, fmt.Errorf("account %s has no signer", c.Account.Address.Hex()))
	}
	sig, err := c.Account.Sign(ctx, challenge)
	if err != nil {
		return nil, err
	}
	encoded, err := kernel.EncodeSignature(sig, kernel.UsePrecompile(c.Chain.ID))
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	return encoded, nil
}

func (c *Client) SendUserOperation(ctx context.Context, op *erc4337.UserOperation) (common.Hash, error) {
	hash, err := c.bundler.SendUserOperation(ctx, op, c.entryPoint)
	if err != nil {
		c.metrics.IncUserOperation(c.Chain.ID, metrics.StageFailed)
		c.logger(ctx).Error().Err(err).Msg("failed to send user operation")
		return common.Hash{}, remoteError(err, "failed to send user operation")
	}
	c.metrics.IncUserOperation(c.Chain.ID, metrics.StageSent)
	c.logger(ctx).Info().Str("user_op_hash", hash.Hex()).Msg("user operation sent")
	return hash, nil
}

// GetUserOperationReceipt returns nil while the operation is pending.
func (c *Client) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*erc4337.UserOperationReceipt, error) {
	receipt, err := c.bundler.GetUserOperationReceipt(ctx, hash)
	if err != nil {
		return nil, remoteError(err, "failed to get user operation receipt")
	}
	return receipt, nil
}

// WaitForUserOperationReceipt polls from the chain's polling interval with
// backoff until the receipt shows up or ctx ends.
func (c *Client) WaitForUserOperationReceipt(ctx context.Context, hash common.Hash) (*erc4337.UserOperationReceipt, error) {
	opts := erc4337.DefaultWaitOptions()
	if c.node.PollingInterval > 0 {
		opts.InitialInterval = c.node.PollingInterval
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = opts.InitialInterval * 2
	}
	receipt, err := erc4337.WaitForUserOperationReceipt(ctx, c.bundler, hash, opts)
	if err != nil {
		return nil, err
	}
	stage := metrics.StageConfirmed
	if !receipt.Success {
		stage = metrics.StageFailed
	}
	c.metrics.IncUserOperation(c.Chain.ID, stage)
	return receipt, nil
}

// DecodeCalls recovers the calls of an execute calldata.
func (c *Client) DecodeCalls(callData []byte) ([]domain.Call, error) {
	return kernel.DecodeCalls(callData)
}

// Balance is the account's native balance.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := c.node.BalanceAt(ctx, c.kernel.Address(), nil)
	if err != nil {
		return nil, remoteError(err, "failed to read balance")
	}
	return balance, nil
}
