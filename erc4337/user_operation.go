package erc4337

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	EntryPointV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	EntryPointV08 = common.HexToAddress("0x4337084D9E255Ff0702461CF8895CE9E3b5Ff108")
)

// UserOperation represents the ERC-4337 v0.7 user operation structure
type UserOperation struct {
	Sender                        common.Address
	Nonce                         *big.Int
	Factory                       *common.Address
	FactoryData                   []byte
	CallData                      []byte
	CallGasLimit                  *big.Int
	VerificationGasLimit          *big.Int
	PreVerificationGas            *big.Int
	MaxPriorityFeePerGas          *big.Int
	MaxFeePerGas                  *big.Int
	Paymaster                     *common.Address
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte
	Signature                     []byte
}

// userOperationJSON is the RPC form. Factory fields are only sent with a factory and
// paymaster fields only with a paymaster, which is what bundlers expect for v0.7.
type userOperationJSON struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         string          `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   *hexutil.Bytes  `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  string          `json:"callGasLimit"`
	VerificationGasLimit          string          `json:"verificationGasLimit"`
	PreVerificationGas            string          `json:"preVerificationGas"`
	MaxFeePerGas                  string          `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          string          `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit string          `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       string          `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 *hexutil.Bytes  `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

func (uo UserOperation) MarshalJSON() ([]byte, error) {
	aux := userOperationJSON{
		Sender:               uo.Sender,
		Nonce:                encodeNonce(uo.Nonce),
		CallData:             hexutil.Bytes(uo.CallData),
		CallGasLimit:         encodeQuantity(uo.CallGasLimit),
		VerificationGasLimit: encodeQuantity(uo.VerificationGasLimit),
		PreVerificationGas:   encodeQuantity(uo.PreVerificationGas),
		MaxFeePerGas:         encodeQuantity(uo.MaxFeePerGas),
		MaxPriorityFeePerGas: encodeQuantity(uo.MaxPriorityFeePerGas),
		Signature:            hexutil.Bytes(uo.Signature),
	}
	if aux.CallData == nil {
		aux.CallData = hexutil.Bytes{}
	}
	if aux.Signature == nil {
		aux.Signature = hexutil.Bytes{}
	}

	if uo.Factory != nil {
		factoryData := hexutil.Bytes(uo.FactoryData)
		if factoryData == nil {
			factoryData = hexutil.Bytes{}
		}
		aux.Factory = uo.Factory
		aux.FactoryData = &factoryData
	}

	if uo.Paymaster != nil {
		paymasterData := hexutil.Bytes(uo.PaymasterData)
		if paymasterData == nil {
			paymasterData = hexutil.Bytes{}
		}
		aux.Paymaster = uo.Paymaster
		aux.PaymasterVerificationGasLimit = encodeQuantity(uo.PaymasterVerificationGasLimit)
		aux.PaymasterPostOpGasLimit = encodeQuantity(uo.PaymasterPostOpGasLimit)
		aux.PaymasterData = &paymasterData
	}

	return json.Marshal(aux)
}

func (uo *UserOperation) UnmarshalJSON(data []byte) error {
	var aux userOperationJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"nonce", aux.Nonce, &uo.Nonce},
		{"callGasLimit", aux.CallGasLimit, &uo.CallGasLimit},
		{"verificationGasLimit", aux.VerificationGasLimit, &uo.VerificationGasLimit},
		{"preVerificationGas", aux.PreVerificationGas, &uo.PreVerificationGas},
		{"maxFeePerGas", aux.MaxFeePerGas, &uo.MaxFeePerGas},
		{"maxPriorityFeePerGas", aux.MaxPriorityFeePerGas, &uo.MaxPriorityFeePerGas},
		{"paymasterVerificationGasLimit", aux.PaymasterVerificationGasLimit, &uo.PaymasterVerificationGasLimit},
		{"paymasterPostOpGasLimit", aux.PaymasterPostOpGasLimit, &uo.PaymasterPostOpGasLimit},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := ParseHexBig(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = v
	}

	uo.Sender = aux.Sender
	uo.Factory = aux.Factory
	uo.CallData = aux.CallData
	uo.Paymaster = aux.Paymaster
	uo.Signature = aux.Signature
	if aux.FactoryData != nil {
		uo.FactoryData = *aux.FactoryData
	}
	if aux.PaymasterData != nil {
		uo.PaymasterData = *aux.PaymasterData
	}
	return nil
}

// Clone returns a deep copy so a cached operation can be refreshed without
// touching the one a caller already holds.
func (uo *UserOperation) Clone() *UserOperation {
	if uo == nil {
		return nil
	}
	c := &UserOperation{
		Sender:                        uo.Sender,
		Nonce:                         cloneBig(uo.Nonce),
		FactoryData:                   cloneBytes(uo.FactoryData),
		CallData:                      cloneBytes(uo.CallData),
		CallGasLimit:                  cloneBig(uo.CallGasLimit),
		VerificationGasLimit:          cloneBig(uo.VerificationGasLimit),
		PreVerificationGas:            cloneBig(uo.PreVerificationGas),
		MaxPriorityFeePerGas:          cloneBig(uo.MaxPriorityFeePerGas),
		MaxFeePerGas:                  cloneBig(uo.MaxFeePerGas),
		PaymasterVerificationGasLimit: cloneBig(uo.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       cloneBig(uo.PaymasterPostOpGasLimit),
		PaymasterData:                 cloneBytes(uo.PaymasterData),
		Signature:                     cloneBytes(uo.Signature),
	}
	if uo.Factory != nil {
		f := *uo.Factory
		c.Factory = &f
	}
	if uo.Paymaster != nil {
		p := *uo.Paymaster
		c.Paymaster = &p
	}
	return c
}

// PackedUserOp is the on-chain PackedUserOperation layout of entry point v0.7/v0.8
type PackedUserOp struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   [32]byte
	PreVerificationGas *big.Int
	GasFees            [32]byte
	PaymasterAndData   []byte
	Signature          []byte
}

// Pack packs a UserOperation into a PackedUserOp according to ERC-4337
func (uo *UserOperation) Pack() *PackedUserOp {
	packed := &PackedUserOp{
		Sender:             uo.Sender,
		Nonce:              orZero(uo.Nonce),
		InitCode:           []byte{},
		CallData:           uo.CallData,
		PreVerificationGas: orZero(uo.PreVerificationGas),
		PaymasterAndData:   []byte{},
		Signature:          uo.Signature,
	}
	if packed.CallData == nil {
		packed.CallData = []byte{}
	}

	if uo.Factory != nil {
		initCode := make([]byte, 0, common.AddressLength+len(uo.FactoryData))
		initCode = append(initCode, uo.Factory.Bytes()...)
		initCode = append(initCode, uo.FactoryData...)
		packed.InitCode = initCode
	}

	// verificationGasLimit (16 bytes) + callGasLimit (16 bytes)
	orZero(uo.VerificationGasLimit).FillBytes(packed.AccountGasLimits[:16])
	orZero(uo.CallGasLimit).FillBytes(packed.AccountGasLimits[16:])

	// maxPriorityFeePerGas (16 bytes) + maxFeePerGas (16 bytes)
	orZero(uo.MaxPriorityFeePerGas).FillBytes(packed.GasFees[:16])
	orZero(uo.MaxFeePerGas).FillBytes(packed.GasFees[16:])

	// paymaster + paymasterVerificationGasLimit + paymasterPostOpGasLimit + paymasterData
	if uo.Paymaster != nil {
		paymasterAndData := make([]byte, common.AddressLength+32, common.AddressLength+32+len(uo.PaymasterData))
		copy(paymasterAndData, uo.Paymaster.Bytes())
		orZero(uo.PaymasterVerificationGasLimit).FillBytes(paymasterAndData[20:36])
		orZero(uo.PaymasterPostOpGasLimit).FillBytes(paymasterAndData[36:52])
		packed.PaymasterAndData = append(paymasterAndData, uo.PaymasterData...)
	}

	return packed
}

// ParseHexBig parses a 0x-prefixed quantity. Unlike hexutil.DecodeBig it accepts
// leading zeros, which bundlers emit for padded nonces.
func ParseHexBig(s string) (*big.Int, error) {
	hexStr := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hexStr == "" {
		return big.NewInt(0), nil
	}
	result, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex string: %s", s)
	}
	return result, nil
}

func encodeNonce(n *big.Int) string {
	return fmt.Sprintf("0x%064x", orZero(n))
}

func encodeQuantity(n *big.Int) string {
	return hexutil.EncodeBig(orZero(n))
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}

func cloneBig(n *big.Int) *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
