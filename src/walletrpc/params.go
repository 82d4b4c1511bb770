package walletrpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Decoded params, one type per method that takes any.

type RawParams []json.RawMessage

type SendTransactionParams struct {
	// ChainID is 0 when the caller did not pin a chain.
	ChainID uint64
	From    *common.Address
	Call    domain.Call
}

type SignTypedDataParams struct {
	Address   common.Address
	TypedData apitypes.TypedData
}

type PersonalSignParams struct {
	Message []byte
	Address common.Address
}

type CreateAccountParams struct {
	ChainID uint64
	Label   string
}

type ConnectParams struct {
	Capabilities map[string]interface{}
}

type GetCallsStatusParams struct {
	ID common.Hash
}

type GetCapabilitiesParams struct {
	Address  *common.Address
	ChainIDs []uint64
}

type PrepareCallsParams struct {
	ChainID      uint64
	From         *common.Address
	Calls        []domain.Call
	Capabilities *domain.Capabilities
}

type SendCallsParams struct {
	Version      string
	ChainID      uint64
	From         *common.Address
	Calls        []domain.Call
	Capabilities *domain.Capabilities
}

type SendPreparedCallsParams struct {
	ChainID       uint64
	UserOperation *erc4337.UserOperation
	Signature     []byte
}

// fieldError is a decode failure at a known params path.
type fieldError struct {
	path   string
	reason string
	value  interface{}
}

func (e *fieldError) Error() string {
	return invalidParamsMessage(e.reason, e.path, e.value)
}

func parseQuantity(path, s string) (*big.Int, error) {
	n, err := erc4337.ParseHexBig(s)
	if err != nil {
		return nil, &fieldError{path: path, reason: "Expected hex quantity", value: s}
	}
	return n, nil
}

func parseOptionalQuantity(path, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseQuantity(path, s)
}

func parseChainID(path, s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := parseQuantity(path, s)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, &fieldError{path: path, reason: "Expected chain id to fit in 64 bits", value: s}
	}
	return n.Uint64(), nil
}

func optionalAddress(s string) *common.Address {
	if s == "" {
		return nil
	}
	addr := common.HexToAddress(s)
	return &addr
}

// Schemas. Params arrive positionally; element i is bound to the field
// tagged json:"i".

type callSchema struct {
	To    string `json:"to" validate:"required,address"`
	Data  string `json:"data,omitempty" validate:"omitempty,hex"`
	Value string `json:"value,omitempty" validate:"omitempty,quantity"`
}

func decodeCalls(path string, in []callSchema) ([]domain.Call, error) {
	calls := make([]domain.Call, 0, len(in))
	for i, c := range in {
		call, err := decodeCall(fmt.Sprintf("%s.%d", path, i), c)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// decodeCall decodes the call found at path.
func decodeCall(path string, c callSchema) (domain.Call, error) {
	call := domain.Call{
		To:   common.HexToAddress(c.To),
		Data: hexutil.Bytes(common.FromHex(c.Data)),
	}
	value, err := parseOptionalQuantity(path+".value", c.Value)
	if err != nil {
		return domain.Call{}, err
	}
	if value != nil {
		call.Value = (*hexutil.Big)(value)
	}
	return call, nil
}

type paymasterServiceSchema struct {
	URL     string                 `json:"url" validate:"required,url"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type capabilitiesSchema struct {
	PaymasterService *paymasterServiceSchema `json:"paymasterService,omitempty"`
	PermissionsID    string                  `json:"permissionsId,omitempty" validate:"omitempty,hex"`
}

func (c *capabilitiesSchema) decode() *domain.Capabilities {
	if c == nil {
		return nil
	}
	out := &domain.Capabilities{PermissionsID: c.PermissionsID}
	if c.PaymasterService != nil {
		out.PaymasterService = &domain.PaymasterServiceCapability{
			URL:     c.PaymasterService.URL,
			Context: c.PaymasterService.Context,
		}
	}
	return out
}

type transactionSchema struct {
	ChainID string `json:"chainId,omitempty" validate:"omitempty,quantity"`
	Data    string `json:"data,omitempty" validate:"omitempty,hex"`
	From    string `json:"from,omitempty" validate:"omitempty,address"`
	To      string `json:"to" validate:"required,address"`
	Value   string `json:"value,omitempty" validate:"omitempty,quantity"`
}

type sendTransactionSchema struct {
	Transaction *transactionSchema `json:"0" validate:"required"`
}

func (s *sendTransactionSchema) decode() (interface{}, error) {
	tx := s.Transaction
	chainID, err := parseChainID("params.0.chainId", tx.ChainID)
	if err != nil {
		return nil, err
	}
	call, err := decodeCall("params.0", callSchema{To: tx.To, Data: tx.Data, Value: tx.Value})
	if err != nil {
		return nil, err
	}
	return &SendTransactionParams{ChainID: chainID, From: optionalAddress(tx.From), Call: call}, nil
}

type signTypedDataSchema struct {
	Address   string `json:"0" validate:"required,address"`
	TypedData string `json:"1" validate:"required"`
}

func (s *signTypedDataSchema) decode() (interface{}, error) {
	var typedData apitypes.TypedData
	if err := json.Unmarshal([]byte(s.TypedData), &typedData); err != nil {
		return nil, &fieldError{path: "params.1", reason: "Expected EIP-712 typed data JSON"}
	}
	return &SignTypedDataParams{Address: common.HexToAddress(s.Address), TypedData: typedData}, nil
}

type personalSignSchema struct {
	Message string `json:"0" validate:"required,hex"`
	Address string `json:"1" validate:"required,address"`
}

func (s *personalSignSchema) decode() (interface{}, error) {
	return &PersonalSignParams{Message: common.FromHex(s.Message), Address: common.HexToAddress(s.Address)}, nil
}

type createAccountOptions struct {
	ChainID string `json:"chainId,omitempty" validate:"omitempty,quantity"`
	Label   string `json:"label,omitempty" validate:"omitempty,max=64"`
}

type createAccountSchema struct {
	Options *createAccountOptions `json:"0,omitempty"`
}

func (s *createAccountSchema) decode() (interface{}, error) {
	out := &CreateAccountParams{}
	if s.Options == nil {
		return out, nil
	}
	chainID, err := parseChainID("params.0.chainId", s.Options.ChainID)
	if err != nil {
		return nil, err
	}
	out.ChainID = chainID
	out.Label = s.Options.Label
	return out, nil
}

type connectOptions struct {
	Capabilities map[string]interface{} `json:"capabilities,omitempty"`
}

type connectSchema struct {
	Options *connectOptions `json:"0,omitempty"`
}

func (s *connectSchema) decode() (interface{}, error) {
	out := &ConnectParams{}
	if s.Options != nil {
		out.Capabilities = s.Options.Capabilities
	}
	return out, nil
}

type getCallsStatusSchema struct {
	ID string `json:"0" validate:"required,hex,len=66"`
}

func (s *getCallsStatusSchema) decode() (interface{}, error) {
	return &GetCallsStatusParams{ID: common.HexToHash(s.ID)}, nil
}

type getCapabilitiesSchema struct {
	Address  string   `json:"0,omitempty" validate:"omitempty,address"`
	ChainIDs []string `json:"1,omitempty" validate:"omitempty,dive,quantity"`
}

func (s *getCapabilitiesSchema) decode() (interface{}, error) {
	out := &GetCapabilitiesParams{Address: optionalAddress(s.Address)}
	for i, raw := range s.ChainIDs {
		id, err := parseChainID(fmt.Sprintf("params.1.%d", i), raw)
		if err != nil {
			return nil, err
		}
		out.ChainIDs = append(out.ChainIDs, id)
	}
	return out, nil
}

type prepareCallsRequest struct {
	ChainID      string              `json:"chainId" validate:"required,quantity"`
	From         string              `json:"from,omitempty" validate:"omitempty,address"`
	Calls        []callSchema        `json:"calls" validate:"required,min=1,dive"`
	Capabilities *capabilitiesSchema `json:"capabilities,omitempty"`
}

type prepareCallsSchema struct {
	Request *prepareCallsRequest `json:"0" validate:"required"`
}

func (s *prepareCallsSchema) decode() (interface{}, error) {
	req := s.Request
	chainID, err := parseChainID("params.0.chainId", req.ChainID)
	if err != nil {
		return nil, err
	}
	calls, err := decodeCalls("params.0.calls", req.Calls)
	if err != nil {
		return nil, err
	}
	return &PrepareCallsParams{
		ChainID:      chainID,
		From:         optionalAddress(req.From),
		Calls:        calls,
		Capabilities: req.Capabilities.decode(),
	}, nil
}

type sendCallsRequest struct {
	Version      string              `json:"version,omitempty"`
	ChainID      string              `json:"chainId,omitempty" validate:"omitempty,quantity"`
	From         string              `json:"from,omitempty" validate:"omitempty,address"`
	Calls        []callSchema        `json:"calls" validate:"required,min=1,dive"`
	Capabilities *capabilitiesSchema `json:"capabilities,omitempty"`
}

type sendCallsSchema struct {
	Request *sendCallsRequest `json:"0" validate:"required"`
}

func (s *sendCallsSchema) decode() (interface{}, error) {
	req := s.Request
	chainID, err := parseChainID("params.0.chainId", req.ChainID)
	if err != nil {
		return nil, err
	}
	calls, err := decodeCalls("params.0.calls", req.Calls)
	if err != nil {
		return nil, err
	}
	return &SendCallsParams{
		Version:      req.Version,
		ChainID:      chainID,
		From:         optionalAddress(req.From),
		Calls:        calls,
		Capabilities: req.Capabilities.decode(),
	}, nil
}

type userOperationSchema struct {
	Sender                        string `json:"sender" validate:"required,address"`
	Nonce                         string `json:"nonce" validate:"required,quantity"`
	Factory                       string `json:"factory,omitempty" validate:"omitempty,address"`
	FactoryData                   string `json:"factoryData,omitempty" validate:"omitempty,hex"`
	CallData                      string `json:"callData" validate:"required,hex"`
	CallGasLimit                  string `json:"callGasLimit" validate:"required,quantity"`
	VerificationGasLimit          string `json:"verificationGasLimit" validate:"required,quantity"`
	PreVerificationGas            string `json:"preVerificationGas" validate:"required,quantity"`
	MaxFeePerGas                  string `json:"maxFeePerGas" validate:"required,quantity"`
	MaxPriorityFeePerGas          string `json:"maxPriorityFeePerGas" validate:"required,quantity"`
	Paymaster                     string `json:"paymaster,omitempty" validate:"omitempty,address"`
	PaymasterVerificationGasLimit string `json:"paymasterVerificationGasLimit,omitempty" validate:"omitempty,quantity"`
	PaymasterPostOpGasLimit       string `json:"paymasterPostOpGasLimit,omitempty" validate:"omitempty,quantity"`
	PaymasterData                 string `json:"paymasterData,omitempty" validate:"omitempty,hex"`
	Signature                     string `json:"signature,omitempty" validate:"omitempty,hex"`
}

func (s *userOperationSchema) decode(path string) (*erc4337.UserOperation, error) {
	op := &erc4337.UserOperation{
		Sender:        common.HexToAddress(s.Sender),
		Factory:       optionalAddress(s.Factory),
		FactoryData:   common.FromHex(s.FactoryData),
		CallData:      common.FromHex(s.CallData),
		Paymaster:     optionalAddress(s.Paymaster),
		PaymasterData: common.FromHex(s.PaymasterData),
		Signature:     common.FromHex(s.Signature),
	}
	quantities := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"nonce", s.Nonce, &op.Nonce},
		{"callGasLimit", s.CallGasLimit, &op.CallGasLimit},
		{"verificationGasLimit", s.VerificationGasLimit, &op.VerificationGasLimit},
		{"preVerificationGas", s.PreVerificationGas, &op.PreVerificationGas},
		{"maxFeePerGas", s.MaxFeePerGas, &op.MaxFeePerGas},
		{"maxPriorityFeePerGas", s.MaxPriorityFeePerGas, &op.MaxPriorityFeePerGas},
		{"paymasterVerificationGasLimit", s.PaymasterVerificationGasLimit, &op.PaymasterVerificationGasLimit},
		{"paymasterPostOpGasLimit", s.PaymasterPostOpGasLimit, &op.PaymasterPostOpGasLimit},
	}
	for _, q := range quantities {
		n, err := parseOptionalQuantity(path+"."+q.name, q.raw)
		if err != nil {
			return nil, err
		}
		*q.dst = n
	}
	return op, nil
}

type sendPreparedCallsRequest struct {
	ChainID   string               `json:"chainId,omitempty" validate:"omitempty,quantity"`
	Context   *userOperationSchema `json:"context" validate:"required"`
	Signature string               `json:"signature" validate:"required,hex"`
}

type sendPreparedCallsSchema struct {
	Request *sendPreparedCallsRequest `json:"0" validate:"required"`
}

func (s *sendPreparedCallsSchema) decode() (interface{}, error) {
	req := s.Request
	chainID, err := parseChainID("params.0.chainId", req.ChainID)
	if err != nil {
		return nil, err
	}
	op, err := req.Context.decode("params.0.context")
	if err != nil {
		return nil, err
	}
	return &SendPreparedCallsParams{ChainID: chainID, UserOperation: op, Signature: common.FromHex(req.Signature)}, nil
}

// rawSchema accepts any params and keeps them as received.
type rawSchema struct {
	params map[string]json.RawMessage
}

func (s *rawSchema) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.params)
}

func (s *rawSchema) decode() (interface{}, error) {
	keys := make([]int, 0, len(s.params))
	for k := range s.params {
		i, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		keys = append(keys, i)
	}
	sort.Ints(keys)
	out := make(RawParams, 0, len(keys))
	for _, i := range keys {
		out = append(out, s.params[strconv.Itoa(i)])
	}
	return out, nil
}
