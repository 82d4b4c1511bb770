package kernel

import (
	"crypto/elliptic"
	"fmt"
	"math/big"

	"github.com/batua/wallet/src/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	p256N     = elliptic.P256().Params().N
	p256HalfN = new(big.Int).Rsh(p256N, 1)

	webAuthnSignatureArgs = abi.Arguments{
		{Type: mustNewType("bytes", nil)},   // authenticatorData
		{Type: mustNewType("string", nil)},  // clientDataJSON
		{Type: mustNewType("uint256", nil)}, // responseTypeLocation
		{Type: mustNewType("uint256", nil)}, // r
		{Type: mustNewType("uint256", nil)}, // s
		{Type: mustNewType("bool", nil)},    // usePrecompiled
	}
)

// Chains with the RIP-7212 P-256 precompile.
var precompileChains = map[uint64]bool{
	10:       true,
	8453:     true,
	84532:    true,
	42161:    true,
	421614:   true,
	11155420: true,
}

func UsePrecompile(chainID uint64) bool {
	return precompileChains[chainID]
}

// NormalizeS maps s into the lower half of the curve order.
func NormalizeS(s *big.Int) *big.Int {
	if s.Cmp(p256HalfN) > 0 {
		return new(big.Int).Sub(p256N, s)
	}
	return new(big.Int).Set(s)
}

// EncodeSignature encodes a passkey assertion for the WebAuthn validator.
func EncodeSignature(sig *domain.WebAuthnSignature, usePrecompile bool) ([]byte, error) {
	if sig == nil || sig.R == nil || sig.S == nil {
		return nil, fmt.Errorf("incomplete webauthn signature")
	}
	r, s := sig.RS()
	encoded, err := webAuthnSignatureArgs.Pack(
		[]byte(sig.AuthenticatorData),
		sig.ClientDataJSON,
		big.NewInt(int64(sig.TypeIndex)),
		r,
		NormalizeS(s),
		usePrecompile,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webauthn signature: %w", err)
	}
	return encoded, nil
}

// DecodeSignature reverses EncodeSignature. The challenge index is not encoded
// and is left zero.
func DecodeSignature(encoded []byte) (*domain.WebAuthnSignature, bool, error) {
	out, err := webAuthnSignatureArgs.Unpack(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode webauthn signature: %w", err)
	}
	return &domain.WebAuthnSignature{
		AuthenticatorData: out[0].([]byte),
		ClientDataJSON:    out[1].(string),
		TypeIndex:         int(out[2].(*big.Int).Int64()),
		R:                 (*hexutil.Big)(out[3].(*big.Int)),
		S:                 (*hexutil.Big)(out[4].(*big.Int)),
	}, out[5].(bool), nil
}

var stubSignature = mustStubSignature()

func mustStubSignature() []byte {
	r, _ := new(big.Int).SetString("ccbbaa99887766554433221100ffeeddccbbaa99887766554433221100ffeedd", 16)
	s, _ := new(big.Int).SetString("11223344556677889900aabbccddeeff11223344556677889900aabbccddeeff", 16)
	encoded, err := EncodeSignature(&domain.WebAuthnSignature{
		// rpIdHash ‖ flags(UP|UV) ‖ signCount
		AuthenticatorData: common.FromHex("0x49960de5880e8c687434170f6476605b8fe4aeb9a28632c7995cf3ba831d97630500000000"),
		ClientDataJSON:    `{"type":"webauthn.get","challenge":"tbxXNFS9X_4Byr1cMwqKrIGB-_30a0QhZ6y7ucM0BOE","origin":"https://batua.xyz","crossOrigin":false}`,
		TypeIndex:         1,
		R:                 (*hexutil.Big)(r),
		S:                 (*hexutil.Big)(s),
	}, false)
	if err != nil {
		panic(err)
	}
	return encoded
}

// StubSignature has the size of a real assertion and is used for gas estimation.
func StubSignature() []byte {
	return append([]byte(nil), stubSignature...)
}

// MessageHash wraps hash in the Kernel replay-safe EIP-712 envelope that
// isValidSignature checks.
func (a *Account) MessageHash(hash common.Hash, chainID uint64) (common.Hash, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Kernel": {
				{Name: "hash", Type: "bytes32"},
			},
		},
		PrimaryType: "Kernel",
		Domain: apitypes.TypedDataDomain{
			Name:              "Kernel",
			Version:           string(a.Version),
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(chainID)),
			VerifyingContract: a.address.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"hash": hash.Hex(),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash kernel message: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// WrapMessageSignature prefixes a validator signature for isValidSignature.
// 0.3.1 expects the root validation mode byte, 0.3.0 takes it bare.
func (a *Account) WrapMessageSignature(signature []byte) []byte {
	if a.Version == Version030 {
		return append([]byte(nil), signature...)
	}
	return append([]byte{0x00}, signature...)
}
