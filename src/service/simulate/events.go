package simulate

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type Standard string

const (
	StandardERC20  Standard = "ERC20"
	StandardERC721 Standard = "ERC721"
)

type EventName string

const (
	EventTransfer       EventName = "Transfer"
	EventApproval       EventName = "Approval"
	EventApprovalForAll EventName = "ApprovalForAll"
)

type TokenInfo struct {
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals *uint8 `json:"decimals,omitempty"`
	Logo     string `json:"logo,omitempty"`
}

type NftInfo struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// AssetChangeEvent is one token movement or allowance change seen in a
// simulation. To is the recipient, spender, approved address or operator.
type AssetChangeEvent struct {
	Standard Standard
	Name     EventName
	Contract common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
	TokenID  *big.Int
	Approved bool

	TokenInfo *TokenInfo
	NftInfo   *NftInfo
	EnsName   string
}

// Clone returns a deep copy.
func (e AssetChangeEvent) Clone() AssetChangeEvent {
	out := e
	if e.Value != nil {
		out.Value = new(big.Int).Set(e.Value)
	}
	if e.TokenID != nil {
		out.TokenID = new(big.Int).Set(e.TokenID)
	}
	if e.TokenInfo != nil {
		info := *e.TokenInfo
		if info.Decimals != nil {
			d := *info.Decimals
			info.Decimals = &d
		}
		out.TokenInfo = &info
	}
	if e.NftInfo != nil {
		info := *e.NftInfo
		out.NftInfo = &info
	}
	return out
}

type assetChangeEventJSON struct {
	Standard  Standard       `json:"standard"`
	EventName EventName      `json:"eventName"`
	Contract  common.Address `json:"contract"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Value     string         `json:"value,omitempty"`
	TokenID   string         `json:"tokenId,omitempty"`
	Approved  *bool          `json:"approved,omitempty"`
	TokenInfo *TokenInfo     `json:"tokenInfo,omitempty"`
	NftInfo   *NftInfo       `json:"nftInfo,omitempty"`
	EnsName   string         `json:"ensName,omitempty"`
}

// MarshalJSON writes amounts as decimal strings.
func (e AssetChangeEvent) MarshalJSON() ([]byte, error) {
	aux := assetChangeEventJSON{
		Standard:  e.Standard,
		EventName: e.Name,
		Contract:  e.Contract,
		From:      e.From,
		To:        e.To,
		TokenInfo: e.TokenInfo,
		NftInfo:   e.NftInfo,
		EnsName:   e.EnsName,
	}
	if e.Value != nil {
		aux.Value = e.Value.String()
	}
	if e.TokenID != nil {
		aux.TokenID = e.TokenID.String()
	}
	if e.Name == EventApprovalForAll {
		approved := e.Approved
		aux.Approved = &approved
	}
	return json.Marshal(aux)
}

const erc20ABIJSON = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"Approval","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"spender","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const erc721ABIJSON = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true}]},
	{"type":"event","name":"Approval","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"approved","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true}]},
	{"type":"event","name":"ApprovalForAll","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"operator","type":"address","indexed":true},
		{"name":"approved","type":"bool","indexed":false}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]}
]`

var (
	erc20ABI  = mustParseABI(erc20ABIJSON)
	erc721ABI = mustParseABI(erc721ABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse abi: %v", err))
	}
	return parsed
}

// Log is an emitted log as returned by eth_simulateV1.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// ParseLogs keeps the ERC-20 and ERC-721 transfer and approval logs. The two
// standards share event signatures and are told apart by topic count. ERC-20
// events come first, each group in log order.
func ParseLogs(logs []Log) []AssetChangeEvent {
	var erc20Events, erc721Events []AssetChangeEvent
	for _, l := range logs {
		switch len(l.Topics) {
		case 3:
			if ev, ok := parseERC20(l); ok {
				erc20Events = append(erc20Events, ev)
				continue
			}
			if ev, ok := parseApprovalForAll(l); ok {
				erc721Events = append(erc721Events, ev)
			}
		case 4:
			if ev, ok := parseERC721(l); ok {
				erc721Events = append(erc721Events, ev)
			}
		}
	}
	return append(erc20Events, erc721Events...)
}

func unpack(contract abi.ABI, name string, l Log) (map[string]interface{}, bool) {
	event, ok := contract.Events[name]
	if !ok || l.Topics[0] != event.ID {
		return nil, false
	}
	out := make(map[string]interface{})
	if len(l.Data) > 0 {
		if err := event.Inputs.NonIndexed().UnpackIntoMap(out, l.Data); err != nil {
			return nil, false
		}
	}
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(out, indexed, l.Topics[1:]); err != nil {
		return nil, false
	}
	return out, true
}

func parseERC20(l Log) (AssetChangeEvent, bool) {
	if args, ok := unpack(erc20ABI, string(EventTransfer), l); ok {
		value, _ := args["value"].(*big.Int)
		return AssetChangeEvent{
			Standard: StandardERC20,
			Name:     EventTransfer,
			Contract: l.Address,
			From:     args["from"].(common.Address),
			To:       args["to"].(common.Address),
			Value:    value,
		}, value != nil
	}
	if args, ok := unpack(erc20ABI, string(EventApproval), l); ok {
		value, _ := args["value"].(*big.Int)
		return AssetChangeEvent{
			Standard: StandardERC20,
			Name:     EventApproval,
			Contract: l.Address,
			From:     args["owner"].(common.Address),
			To:       args["spender"].(common.Address),
			Value:    value,
		}, value != nil
	}
	return AssetChangeEvent{}, false
}

func parseApprovalForAll(l Log) (AssetChangeEvent, bool) {
	args, ok := unpack(erc721ABI, string(EventApprovalForAll), l)
	if !ok {
		return AssetChangeEvent{}, false
	}
	approved, _ := args["approved"].(bool)
	return AssetChangeEvent{
		Standard: StandardERC721,
		Name:     EventApprovalForAll,
		Contract: l.Address,
		From:     args["owner"].(common.Address),
		To:       args["operator"].(common.Address),
		Approved: approved,
	}, true
}

func parseERC721(l Log) (AssetChangeEvent, bool) {
	if args, ok := unpack(erc721ABI, string(EventTransfer), l); ok {
		return AssetChangeEvent{
			Standard: StandardERC721,
			Name:     EventTransfer,
			Contract: l.Address,
			From:     args["from"].(common.Address),
			To:       args["to"].(common.Address),
			TokenID:  args["tokenId"].(*big.Int),
		}, true
	}
	if args, ok := unpack(erc721ABI, string(EventApproval), l); ok {
		return AssetChangeEvent{
			Standard: StandardERC721,
			Name:     EventApproval,
			Contract: l.Address,
			From:     args["owner"].(common.Address),
			To:       args["approved"].(common.Address),
			TokenID:  args["tokenId"].(*big.Int),
		}, true
	}
	return AssetChangeEvent{}, false
}

type aggregateKey struct {
	contract common.Address
	to       common.Address
	tokenID  string
}

func keyOf(e AssetChangeEvent) aggregateKey {
	k := aggregateKey{contract: e.Contract, to: e.To}
	if e.TokenID != nil {
		k.tokenID = e.TokenID.String()
	}
	return k
}

// aggregate folds events with the same key into the first one, summing
// amounts. Events without an amount take the later state. Inputs are copied.
func aggregate(events []AssetChangeEvent, keep func(AssetChangeEvent) bool) []AssetChangeEvent {
	out := make([]AssetChangeEvent, 0, len(events))
	index := make(map[aggregateKey]int)
	for _, e := range events {
		if !keep(e) {
			continue
		}
		k := keyOf(e)
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, e.Clone())
			continue
		}
		merged := out[i]
		if merged.Value != nil && e.Value != nil {
			merged.Value = new(big.Int).Add(merged.Value, e.Value)
		} else {
			merged.Approved = e.Approved
		}
		out[i] = merged
	}
	return out
}

// AggregateTransfers merges transfers by contract and recipient. NFT
// transfers also key on the token id.
func AggregateTransfers(events []AssetChangeEvent) []AssetChangeEvent {
	return aggregate(events, func(e AssetChangeEvent) bool {
		return e.Name == EventTransfer
	})
}

// AggregateApprovals merges approvals by contract and spender or operator.
func AggregateApprovals(events []AssetChangeEvent) []AssetChangeEvent {
	return aggregate(events, func(e AssetChangeEvent) bool {
		return e.Name == EventApproval || e.Name == EventApprovalForAll
	})
}
