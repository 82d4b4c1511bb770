package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// RpcRequest is the JSON-RPC envelope as received from the host page.
type RpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type RpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RpcError   `json:"error,omitempty"`
}

type RequestStatus string

const (
	RequestStatusPending RequestStatus = "pending"
	RequestStatusSuccess RequestStatus = "success"
	RequestStatusError   RequestStatus = "error"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestStatusSuccess || s == RequestStatusError
}

type QueuedRequest struct {
	ID        string        `json:"id"`
	Request   RpcRequest    `json:"request"`
	Status    RequestStatus `json:"status"`
	Result    interface{}   `json:"result,omitempty"`
	Error     *RpcError     `json:"error,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

type Call struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value,omitempty"`
}

func (c Call) ValueOrZero() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value.ToInt()
}

type PaymasterServiceCapability struct {
	URL     string                 `json:"url"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type Capabilities struct {
	PaymasterService *PaymasterServiceCapability `json:"paymasterService,omitempty"`
	PermissionsID    string                      `json:"permissionsId,omitempty"`
}

func (c *Capabilities) PaymasterURL() string {
	if c == nil || c.PaymasterService == nil {
		return ""
	}
	return c.PaymasterService.URL
}

// DefaultEthPrice is used for fiat estimates until a price has been fetched.
var DefaultEthPrice = decimal.NewFromInt(1500)

type Price struct {
	Value     decimal.Decimal `json:"value"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

func PriceOrDefault(p *Price) decimal.Decimal {
	if p == nil || p.Value.IsZero() {
		return DefaultEthPrice
	}
	return p.Value
}
