package erc4337

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)

	userOpArgs = abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // hashedInitCode
		{Type: bytes32Type}, // hashedCallData
		{Type: bytes32Type}, // accountGasLimits
		{Type: uint256Type}, // preVerificationGas
		{Type: bytes32Type}, // gasFees
		{Type: bytes32Type}, // hashedPaymasterAndData
	}
	finalArgs = abi.Arguments{
		{Type: bytes32Type}, // userOpHash
		{Type: addressType}, // entryPoint
		{Type: uint256Type}, // chainId
	}
)

// Hash returns the user operation hash for the given entry point.
func (uo *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	switch entryPoint {
	case EntryPointV07:
		return uo.HashV07(entryPoint, chainID)
	case EntryPointV08:
		return uo.HashV08(chainID)
	default:
		return common.Hash{}, fmt.Errorf("unsupported entry point: %s", entryPoint.Hex())
	}
}

// HashV07 implements the v0.7 user operation hashing
func (uo *UserOperation) HashV07(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed := uo.Pack()

	encoded, err := userOpArgs.Pack(
		packed.Sender,
		packed.Nonce,
		crypto.Keccak256Hash(packed.InitCode),
		crypto.Keccak256Hash(packed.CallData),
		packed.AccountGasLimits,
		packed.PreVerificationGas,
		packed.GasFees,
		crypto.Keccak256Hash(packed.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode user operation: %w", err)
	}

	finalEncoded, err := finalArgs.Pack(crypto.Keccak256Hash(encoded), entryPoint, orZero(chainID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode final hash: %w", err)
	}
	return crypto.Keccak256Hash(finalEncoded), nil
}

// HashV08 implements the v0.8 user operation hashing using EIP-712
func (uo *UserOperation) HashV08(chainID *big.Int) (common.Hash, error) {
	packed := uo.Pack()

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"PackedUserOperation": {
				{Name: "sender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "initCode", Type: "bytes"},
				{Name: "callData", Type: "bytes"},
				{Name: "accountGasLimits", Type: "bytes32"},
				{Name: "preVerificationGas", Type: "uint256"},
				{Name: "gasFees", Type: "bytes32"},
				{Name: "paymasterAndData", Type: "bytes"},
			},
		},
		PrimaryType: "PackedUserOperation",
		Domain: apitypes.TypedDataDomain{
			Name:              "ERC4337",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(orZero(chainID)),
			VerifyingContract: EntryPointV08.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sender":             packed.Sender.Hex(),
			"nonce":              packed.Nonce.String(),
			"initCode":           hexutil.Encode(packed.InitCode),
			"callData":           hexutil.Encode(packed.CallData),
			"accountGasLimits":   hexutil.Encode(packed.AccountGasLimits[:]),
			"preVerificationGas": packed.PreVerificationGas.String(),
			"gasFees":            hexutil.Encode(packed.GasFees[:]),
			"paymasterAndData":   hexutil.Encode(packed.PaymasterAndData),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}
