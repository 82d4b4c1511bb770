package kernel

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/batua/wallet/erc4337"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type Version string

const (
	Version030 Version = "0.3.0"
	Version031 Version = "0.3.1"

	DefaultVersion = Version031
)

// Deployment is the pair of contracts a Kernel version is deployed from.
type Deployment struct {
	Implementation common.Address
	Factory        common.Address
}

var deployments = map[Version]Deployment{
	Version030: {
		Implementation: common.HexToAddress("0x94F097E1ebEB4ecA3AAE54cabb08905B239A7D27"),
		Factory:        common.HexToAddress("0x6723b44Abeec4E71eBE3232BD5B455805baDD22f"),
	},
	Version031: {
		Implementation: common.HexToAddress("0xBAC849bB641841b44E965fB01A4Bf5F074f84b4D"),
		Factory:        common.HexToAddress("0xaac5D4240AF87249B3f71BC8E4A2cae074A3E419"),
	},
}

var (
	MetaFactory       = common.HexToAddress("0xd703aaE79538628d27099B8c4f621bE4CCd142d5")
	WebAuthnValidator = common.HexToAddress("0x7ab16Ff354AcB328452F1D445b3Ddee9a91e9e69")
)

const validatorTypeRoot = 0x01

// ERC-1967 proxy init code deployed by the factory, split around the implementation address.
const (
	proxyInitCodePrefix = "603d3d8160223d3973"
	proxyInitCodeSuffix = "60095155f3363d3d373d3d363d7f360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc545af43d6000803e6038573d6000fd5b3d6000f3"
)

const kernelABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"payable","inputs":[{"name":"execMode","type":"bytes32"},{"name":"executionCalldata","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[{"name":"_rootValidator","type":"bytes21"},{"name":"hook","type":"address"},{"name":"validatorData","type":"bytes"},{"name":"hookData","type":"bytes"},{"name":"initConfig","type":"bytes[]"}],"outputs":[]}
]`

const kernelV030ABIJSON = `[
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[{"name":"_rootValidator","type":"bytes21"},{"name":"hook","type":"address"},{"name":"validatorData","type":"bytes"},{"name":"hookData","type":"bytes"}],"outputs":[]}
]`

const factoryABIJSON = `[
	{"type":"function","name":"createAccount","stateMutability":"payable","inputs":[{"name":"data","type":"bytes"},{"name":"salt","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"deployWithFactory","stateMutability":"payable","inputs":[{"name":"factory","type":"address"},{"name":"createData","type":"bytes"},{"name":"salt","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
]`

const entryPointABIJSON = `[
	{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
]`

var (
	kernelABI     = mustParseABI(kernelABIJSON)
	kernelV030ABI = mustParseABI(kernelV030ABIJSON)
	factoryABI    = mustParseABI(factoryABIJSON)
	EntryPointABI = mustParseABI(entryPointABIJSON)

	webAuthnValidatorDataArgs = abi.Arguments{
		{Type: mustNewType("tuple", []abi.ArgumentMarshaling{
			{Name: "x", Type: "uint256"},
			{Name: "y", Type: "uint256"},
		})},
		{Type: mustNewType("bytes32", nil)},
	}
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustNewType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

// ParseVersion accepts "0.3.0" and "0.3.1". Empty means DefaultVersion.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return DefaultVersion, nil
	}
	v := Version(s)
	if _, ok := deployments[v]; !ok {
		return "", fmt.Errorf("unsupported kernel version: %s", s)
	}
	return v, nil
}

func (v Version) Deployment() (Deployment, error) {
	d, ok := deployments[v]
	if !ok {
		return Deployment{}, fmt.Errorf("unsupported kernel version: %s", v)
	}
	return d, nil
}

// Account is a Kernel v3 account owned by one passkey through the WebAuthn
// validator. Every field is fixed at construction, so the address is too.
type Account struct {
	Version    Version
	EntryPoint common.Address
	X, Y       *big.Int
	// AuthenticatorIDHash is keccak256 of the raw credential id.
	AuthenticatorIDHash common.Hash
	Index               *big.Int

	initData []byte
	address  common.Address
}

// NewAccount derives the account for a P-256 public key (uncompressed, with
// or without the 0x04 prefix) and credential id.
func NewAccount(version Version, entryPoint common.Address, publicKey, credentialID []byte) (*Account, error) {
	deployment, err := version.Deployment()
	if err != nil {
		return nil, err
	}
	if entryPoint != erc4337.EntryPointV07 {
		return nil, fmt.Errorf("kernel %s requires entry point %s, got %s", version, erc4337.EntryPointV07.Hex(), entryPoint.Hex())
	}
	x, y, err := splitPublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	if len(credentialID) == 0 {
		return nil, fmt.Errorf("credential id is empty")
	}

	a := &Account{
		Version:             version,
		EntryPoint:          entryPoint,
		X:                   x,
		Y:                   y,
		AuthenticatorIDHash: crypto.Keccak256Hash(credentialID),
		Index:               new(big.Int),
	}
	if a.initData, err = a.encodeInitData(); err != nil {
		return nil, err
	}
	a.address = crypto.CreateAddress2(deployment.Factory, a.Salt(), proxyInitCodeHash(deployment.Implementation))
	return a, nil
}

func splitPublicKey(publicKey []byte) (*big.Int, *big.Int, error) {
	switch {
	case len(publicKey) == 65 && publicKey[0] == 0x04:
		publicKey = publicKey[1:]
	case len(publicKey) == 64:
	default:
		return nil, nil, fmt.Errorf("invalid P-256 public key length %d", len(publicKey))
	}
	return new(big.Int).SetBytes(publicKey[:32]), new(big.Int).SetBytes(publicKey[32:]), nil
}

func (a *Account) Address() common.Address {
	return a.address
}

// ValidatorData is what the WebAuthn validator is installed with.
func (a *Account) ValidatorData() ([]byte, error) {
	key := struct {
		X *big.Int
		Y *big.Int
	}{a.X, a.Y}
	return webAuthnValidatorDataArgs.Pack(key, a.AuthenticatorIDHash)
}

func (a *Account) encodeInitData() ([]byte, error) {
	validatorData, err := a.ValidatorData()
	if err != nil {
		return nil, fmt.Errorf("failed to encode validator data: %w", err)
	}

	var rootValidator [21]byte
	rootValidator[0] = validatorTypeRoot
	copy(rootValidator[1:], WebAuthnValidator.Bytes())

	var data []byte
	switch a.Version {
	case Version030:
		data, err = kernelV030ABI.Pack("initialize", rootValidator, common.Address{}, validatorData, []byte{})
	default:
		data, err = kernelABI.Pack("initialize", rootValidator, common.Address{}, validatorData, []byte{}, [][]byte{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode initialize: %w", err)
	}
	return data, nil
}

// InitData is the Kernel initialize calldata the factory deploys with.
func (a *Account) InitData() []byte {
	return append([]byte(nil), a.initData...)
}

func (a *Account) indexBytes() [32]byte {
	var index [32]byte
	a.Index.FillBytes(index[:])
	return index
}

// Salt is the CREATE2 salt the factory derives: keccak256(initData ‖ index).
func (a *Account) Salt() [32]byte {
	index := a.indexBytes()
	return crypto.Keccak256Hash(a.initData, index[:])
}

// FactoryArgs returns the factory and factoryData of a user operation that
// deploys the account through the meta factory.
func (a *Account) FactoryArgs() (common.Address, []byte, error) {
	deployment, err := a.Version.Deployment()
	if err != nil {
		return common.Address{}, nil, err
	}
	index := a.indexBytes()
	createData, err := factoryABI.Pack("createAccount", a.initData, index)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to encode createAccount: %w", err)
	}
	data, err := factoryABI.Pack("deployWithFactory", deployment.Factory, createData, index)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to encode deployWithFactory: %w", err)
	}
	return MetaFactory, data, nil
}

// NonceKey selects the root validator.
func (a *Account) NonceKey() *big.Int {
	return new(big.Int)
}

// GetNonceCallData encodes EntryPoint.getNonce for this account.
func (a *Account) GetNonceCallData() ([]byte, error) {
	return EntryPointABI.Pack("getNonce", a.address, a.NonceKey())
}

func UnpackNonce(result []byte) (*big.Int, error) {
	out, err := EntryPointABI.Unpack("getNonce", result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func proxyInitCodeHash(implementation common.Address) []byte {
	code := common.FromHex(proxyInitCodePrefix + strings.ToLower(implementation.Hex()[2:]) + proxyInitCodeSuffix)
	return crypto.Keccak256(code)
}
