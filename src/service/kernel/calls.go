package kernel

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/batua/wallet/src/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ERC-7579 execution modes: first byte is the call type.
const (
	callTypeSingle byte = 0x00
	callTypeBatch  byte = 0x01
)

var executionsArgs = abi.Arguments{
	{Type: mustNewType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "callData", Type: "bytes"},
	})},
}

type execution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

var ErrNotExecute = errors.New("calldata is not a kernel execute call")

// EncodeCalls encodes calls as Kernel execute calldata. One call uses single
// mode, more use batch mode.
func EncodeCalls(calls []domain.Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, errors.New("no calls to encode")
	}

	var mode [32]byte
	var executionData []byte
	if len(calls) == 1 {
		mode[0] = callTypeSingle
		c := calls[0]
		executionData = make([]byte, 0, 52+len(c.Data))
		executionData = append(executionData, c.To.Bytes()...)
		executionData = append(executionData, common.LeftPadBytes(c.ValueOrZero().Bytes(), 32)...)
		executionData = append(executionData, c.Data...)
	} else {
		mode[0] = callTypeBatch
		executions := make([]execution, len(calls))
		for i, c := range calls {
			executions[i] = execution{Target: c.To, Value: c.ValueOrZero(), CallData: c.Data}
		}
		var err error
		executionData, err = executionsArgs.Pack(executions)
		if err != nil {
			return nil, fmt.Errorf("failed to encode executions: %w", err)
		}
	}

	data, err := kernelABI.Pack("execute", mode, executionData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execute: %w", err)
	}
	return data, nil
}

// DecodeCalls reverses EncodeCalls.
func DecodeCalls(callData []byte) ([]domain.Call, error) {
	method := kernelABI.Methods["execute"]
	if len(callData) < 4 || !bytes.Equal(callData[:4], method.ID) {
		return nil, ErrNotExecute
	}
	args, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode execute: %w", err)
	}
	mode := args[0].([32]byte)
	executionData := args[1].([]byte)

	switch mode[0] {
	case callTypeSingle:
		if len(executionData) < 52 {
			return nil, fmt.Errorf("single execution too short: %d bytes", len(executionData))
		}
		return []domain.Call{newCall(
			common.BytesToAddress(executionData[:20]),
			new(big.Int).SetBytes(executionData[20:52]),
			executionData[52:],
		)}, nil
	case callTypeBatch:
		out, err := executionsArgs.Unpack(executionData)
		if err != nil {
			return nil, fmt.Errorf("failed to decode executions: %w", err)
		}
		executions := *abi.ConvertType(out[0], new([]execution)).(*[]execution)
		calls := make([]domain.Call, len(executions))
		for i, e := range executions {
			calls[i] = newCall(e.Target, e.Value, e.CallData)
		}
		return calls, nil
	default:
		return nil, fmt.Errorf("unsupported call type 0x%02x", mode[0])
	}
}

func newCall(to common.Address, value *big.Int, data []byte) domain.Call {
	return domain.Call{
		To:    to,
		Value: (*hexutil.Big)(value),
		Data:  append(hexutil.Bytes{}, data...),
	}
}
