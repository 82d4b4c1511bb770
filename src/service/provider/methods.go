package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/metrics"
	"github.com/batua/wallet/src/service/smartaccount"
	"github.com/batua/wallet/src/service/userop"
	"github.com/batua/wallet/src/store"
	"github.com/batua/wallet/src/walletrpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
)

// Results of the auto-resolved methods.

type Capability struct {
	Supported bool `json:"supported"`
}

type ChainCapabilities struct {
	PaymasterService Capability `json:"paymasterService"`
	AtomicBatch      Capability `json:"atomicBatch"`
}

// Call status values of wallet_getCallsStatus.
const (
	CallsStatusPending   = "PENDING"
	CallsStatusConfirmed = "CONFIRMED"
)

type CallsStatus struct {
	Status   string                        `json:"status"`
	Success  *bool                         `json:"success,omitempty"`
	Receipts []*erc4337.TransactionReceipt `json:"receipts,omitempty"`
}

type PreparedCalls struct {
	Context *erc4337.UserOperation `json:"context"`
	Digest  common.Hash            `json:"digest"`
	ChainID string                 `json:"chainId"`
}

type ConnectedAccount struct {
	Address      common.Address         `json:"address"`
	Capabilities map[string]interface{} `json:"capabilities"`
}

type ConnectResult struct {
	Accounts []ConnectedAccount `json:"accounts"`
}

// Connected builds the wallet_connect result for accounts.
func Connected(accounts []domain.Account) ConnectResult {
	return ConnectResult{Accounts: lo.Map(accounts, func(a domain.Account, _ int) ConnectedAccount {
		return ConnectedAccount{Address: a.Address, Capabilities: map[string]interface{}{}}
	})}
}

func addresses(accounts []domain.Account) []common.Address {
	return lo.Map(accounts, func(a domain.Account, _ int) common.Address { return a.Address })
}

// ResolveAccount picks the stored account a request acts for. A nil from
// means the first account.
func ResolveAccount(accounts []domain.Account, from *common.Address) (domain.Account, error) {
	if len(accounts) == 0 {
		return domain.Account{}, domain.NewError(domain.ErrorCodeUnauthorized, errors.New("no connected account"))
	}
	if from == nil {
		return accounts[0], nil
	}
	account, ok := domain.FindAccount(accounts, *from)
	if !ok {
		return domain.Account{}, domain.NewError(domain.ErrorCodeUnauthorized, fmt.Errorf("account %s is not connected", from.Hex()),
			domain.WithMsg(fmt.Sprintf("Account %s has not been authorized", from.Hex())))
	}
	return account, nil
}

// route answers the request, or reports that it has to wait in the queue.
func (p *Provider) route(ctx context.Context, req *walletrpc.Request) (interface{}, bool, error) {
	state := p.internal.Store.GetState()

	switch params := req.Decoded.(type) {
	case nil:
		switch req.Method {
		case walletrpc.MethodEthAccounts:
			if len(state.Accounts) == 0 {
				return nil, false, domain.NewError(domain.ErrorCodeUnauthorized, errors.New("no connected account"))
			}
			return addresses(state.Accounts), false, nil
		case walletrpc.MethodEthChainID:
			return state.Chain.HexID(), false, nil
		case walletrpc.MethodBatuaPing:
			return "pong", false, nil
		case walletrpc.MethodEthRequestAccounts:
			if len(state.Accounts) > 0 {
				return addresses(state.Accounts), false, nil
			}
			return nil, true, nil
		case walletrpc.MethodWalletDisconnect:
			p.disconnect()
			return nil, false, nil
		}

	case *walletrpc.ConnectParams:
		if len(state.Accounts) > 0 {
			return Connected(state.Accounts), false, nil
		}
		return nil, true, nil

	case *walletrpc.CreateAccountParams:
		if _, err := p.internal.Chain(params.ChainID); err != nil {
			return nil, false, err
		}
		return nil, true, nil

	case *walletrpc.SendTransactionParams:
		return nil, true, p.checkSender(state, params.ChainID, params.From)

	case *walletrpc.SendCallsParams:
		return nil, true, p.checkSender(state, params.ChainID, params.From)

	case *walletrpc.PersonalSignParams:
		return nil, true, p.checkSender(state, 0, &params.Address)

	case *walletrpc.SignTypedDataParams:
		return nil, true, p.checkSender(state, 0, &params.Address)

	case *walletrpc.GetCapabilitiesParams:
		result, err := p.capabilities(state, params)
		return result, false, err

	case *walletrpc.GetCallsStatusParams:
		result, err := p.callsStatus(ctx, params)
		return result, false, err

	case *walletrpc.PrepareCallsParams:
		result, err := p.prepareCalls(ctx, state, params)
		return result, false, err

	case *walletrpc.SendPreparedCallsParams:
		result, err := p.sendPreparedCalls(ctx, state, params)
		return result, false, err
	}

	// permission and upgrade methods are recognized but not implemented
	return nil, false, domain.NewUnsupportedMethodError(req.Method)
}

func (p *Provider) checkSender(state store.State, chainID uint64, from *common.Address) error {
	if _, err := p.internal.Chain(chainID); err != nil {
		return err
	}
	_, err := ResolveAccount(state.Accounts, from)
	return err
}

func (p *Provider) disconnect() {
	p.internal.Store.SetState(func(s store.State) store.State {
		s.Accounts = nil
		return s
	})
	p.log.Info().Msg("accounts disconnected")
}

func (p *Provider) capabilities(state store.State, params *walletrpc.GetCapabilitiesParams) (map[string]ChainCapabilities, error) {
	if params.Address != nil {
		if _, err := ResolveAccount(state.Accounts, params.Address); err != nil {
			return nil, err
		}
	}
	chains := p.internal.Config.Chains
	if len(params.ChainIDs) > 0 {
		chains = lo.Filter(chains, func(c domain.Chain, _ int) bool { return lo.Contains(params.ChainIDs, c.ID) })
	}

	out := make(map[string]ChainCapabilities, len(chains))
	for _, chain := range chains {
		_, sponsored := p.internal.Config.PaymasterTransport(chain.ID)
		out[chain.HexID()] = ChainCapabilities{
			PaymasterService: Capability{Supported: sponsored},
			AtomicBatch:      Capability{Supported: true},
		}
	}
	return out, nil
}

func (p *Provider) bundler(ctx context.Context, chainID uint64) (erc4337.Bundler, uint64, error) {
	chain, err := p.internal.Chain(chainID)
	if err != nil {
		return nil, 0, err
	}
	if p.bundlers == nil {
		return nil, 0, domain.NewTransportNotConfiguredError("bundler", chain.ID)
	}
	b, err := p.bundlers.BundlerClient(ctx, chain.ID)
	if err != nil {
		return nil, 0, err
	}
	return b, chain.ID, nil
}

func (p *Provider) callsStatus(ctx context.Context, params *walletrpc.GetCallsStatusParams) (*CallsStatus, error) {
	b, _, err := p.bundler(ctx, 0)
	if err != nil {
		return nil, err
	}
	receipt, err := b.GetUserOperationReceipt(ctx, params.ID)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeRemoteProcess, fmt.Errorf("failed to get user operation receipt: %w", err))
	}
	if receipt == nil {
		return &CallsStatus{Status: CallsStatusPending}, nil
	}
	status := &CallsStatus{Status: CallsStatusConfirmed, Success: lo.ToPtr(receipt.Success)}
	if receipt.Receipt != nil {
		status.Receipts = []*erc4337.TransactionReceipt{receipt.Receipt}
	}
	return status, nil
}

func (p *Provider) prepareCalls(ctx context.Context, state store.State, params *walletrpc.PrepareCallsParams) (*PreparedCalls, error) {
	account, err := ResolveAccount(state.Accounts, params.From)
	if err != nil {
		return nil, err
	}
	if p.clients == nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, errors.New("no smart account client source"))
	}
	client, err := p.clients.GetSmartAccountClient(ctx, smartaccount.Params{
		Account:      account,
		ChainID:      params.ChainID,
		Capabilities: params.Capabilities,
	})
	if err != nil {
		return nil, err
	}

	op, err := client.PrepareUserOperation(ctx, userop.PrepareParams(client.Address(), params.Calls, p.internal.Config.Boosted))
	if err != nil {
		return nil, err
	}
	digest, err := client.UserOperationHash(op)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	return &PreparedCalls{
		Context: op,
		Digest:  digest,
		ChainID: client.Chain.HexID(),
	}, nil
}

// sendPreparedCalls submits an operation the caller signed itself. The
// sender must still be a connected account.
func (p *Provider) sendPreparedCalls(ctx context.Context, state store.State, params *walletrpc.SendPreparedCallsParams) (common.Hash, error) {
	op := params.UserOperation.Clone()
	if _, err := ResolveAccount(state.Accounts, &op.Sender); err != nil {
		return common.Hash{}, err
	}
	b, chainID, err := p.bundler(ctx, params.ChainID)
	if err != nil {
		return common.Hash{}, err
	}

	op.Signature = append([]byte(nil), params.Signature...)
	hash, err := b.SendUserOperation(ctx, op, p.internal.Config.EntryPoint)
	if err != nil {
		p.metrics.IncUserOperation(chainID, metrics.StageFailed)
		return common.Hash{}, domain.NewError(domain.ErrorCodeRemoteProcess, fmt.Errorf("failed to send user operation: %w", err))
	}
	p.metrics.IncUserOperation(chainID, metrics.StageSent)
	p.log.Info().Str("user_op_hash", hash.Hex()).Uint64("chain_id", chainID).Msg("prepared user operation sent")
	return hash, nil
}
