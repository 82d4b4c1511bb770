package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	defaultTokenName     = "ERC20"
	defaultTokenSymbol   = "ERC20"
	defaultTokenDecimals = uint8(18)
)

// Lookup is the outcome of one enrichment lookup. A failed lookup never
// fails the simulation.
type Lookup[T any] struct {
	Value T
	Err   error
}

func lookupOf[T any](v T, err error) Lookup[T] {
	return Lookup[T]{Value: v, Err: err}
}

// Or returns the value, or fallback when the lookup failed.
func (l Lookup[T]) Or(fallback T) T {
	if l.Err != nil {
		return fallback
	}
	return l.Value
}

func (l Lookup[T]) OK() bool {
	return l.Err == nil
}

const ensABIJSON = `[
	{"type":"function","name":"resolver","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[{"name":"node","type":"bytes32"}],"outputs":[{"name":"","type":"string"}]}
]`

var ensABI = mustParseABI(ensABIJSON)

var errNoResult = errors.New("empty call result")

func callView(ctx context.Context, caller ethereum.ContractCaller, contract abi.ABI, to common.Address, method string, args ...interface{}) (interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, to.Hex(), err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, errNoResult
	}
	return values[0], nil
}

func callString(ctx context.Context, caller ethereum.ContractCaller, contract abi.ABI, to common.Address, method string, args ...interface{}) Lookup[string] {
	v, err := callView(ctx, caller, contract, to, method, args...)
	if err != nil {
		return Lookup[string]{Err: err}
	}
	s, ok := v.(string)
	if !ok {
		return Lookup[string]{Err: fmt.Errorf("unexpected %s result %T", method, v)}
	}
	return Lookup[string]{Value: s}
}

func callUint8(ctx context.Context, caller ethereum.ContractCaller, contract abi.ABI, to common.Address, method string) Lookup[uint8] {
	v, err := callView(ctx, caller, contract, to, method)
	if err != nil {
		return Lookup[uint8]{Err: err}
	}
	n, ok := v.(uint8)
	if !ok {
		return Lookup[uint8]{Err: fmt.Errorf("unexpected %s result %T", method, v)}
	}
	return Lookup[uint8]{Value: n}
}

// tokenMetadata reads name, symbol and decimals of an ERC-20 contract.
// Complete is false when any read fell back to its default.
func tokenMetadata(ctx context.Context, caller ethereum.ContractCaller, contract common.Address) (TokenInfo, bool) {
	name := callString(ctx, caller, erc20ABI, contract, "name")
	symbol := callString(ctx, caller, erc20ABI, contract, "symbol")
	decimals := callUint8(ctx, caller, erc20ABI, contract, "decimals")

	d := decimals.Or(defaultTokenDecimals)
	info := TokenInfo{
		Name:     name.Or(defaultTokenName),
		Symbol:   symbol.Or(defaultTokenSymbol),
		Decimals: &d,
	}
	return info, name.OK() && symbol.OK() && decimals.OK()
}

// collectionMetadata reads an ERC-721 contract's name and symbol. Missing
// values stay empty.
func collectionMetadata(ctx context.Context, caller ethereum.ContractCaller, contract common.Address) (TokenInfo, bool) {
	name := callString(ctx, caller, erc721ABI, contract, "name")
	symbol := callString(ctx, caller, erc721ABI, contract, "symbol")
	return TokenInfo{Name: name.Or(""), Symbol: symbol.Or("")}, name.OK() && symbol.OK()
}

func tokenURI(ctx context.Context, caller ethereum.ContractCaller, contract common.Address, tokenID *big.Int) Lookup[string] {
	return callString(ctx, caller, erc721ABI, contract, "tokenURI", tokenID)
}

// namehash implements the ENS name hashing scheme.
func namehash(name string) common.Hash {
	var node common.Hash
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		node = crypto.Keccak256Hash(node[:], crypto.Keccak256([]byte(labels[i])))
	}
	return node
}

func reverseNode(addr common.Address) common.Hash {
	return namehash(strings.ToLower(addr.Hex()[2:]) + ".addr.reverse")
}

// reverseName resolves the primary ENS name of addr through registry. An
// address without a reverse record resolves to "".
func reverseName(ctx context.Context, caller ethereum.ContractCaller, registry, addr common.Address) Lookup[string] {
	node := reverseNode(addr)
	v, err := callView(ctx, caller, ensABI, registry, "resolver", node)
	if err != nil {
		return Lookup[string]{Err: err}
	}
	resolver, ok := v.(common.Address)
	if !ok {
		return Lookup[string]{Err: fmt.Errorf("unexpected resolver result %T", v)}
	}
	if resolver == (common.Address{}) {
		return Lookup[string]{}
	}
	return callString(ctx, caller, ensABI, resolver, "name", node)
}

// nftMetadata is the subset of the ERC-721 metadata JSON schema we show.
type nftMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

func (m nftMetadata) info(gateway string) NftInfo {
	return NftInfo{Name: m.Name, Description: m.Description, Image: rewriteIPFS(m.Image, gateway)}
}

// rewriteIPFS points ipfs:// URIs at an HTTP gateway.
func rewriteIPFS(uri, gateway string) string {
	if rest, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		return gateway + rest
	}
	return uri
}

func decodeMetadata(body []byte) (nftMetadata, error) {
	var m nftMetadata
	if err := json.Unmarshal(body, &m); err != nil {
		return m, fmt.Errorf("failed to decode token metadata: %w", err)
	}
	return m, nil
}
