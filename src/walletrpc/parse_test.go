package walletrpc

import (
	"strings"
	"testing"

	"github.com/batua/wallet/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrA = "0x1111111111111111111111111111111111111111"
	addrB = "0x2222222222222222222222222222222222222222"
)

func TestParseRequest_Envelope(t *testing.T) {
	req, err := ParseRequest([]byte(`{"method":"eth_chainId"}`))
	require.NoError(t, err)
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Nil(t, req.ID)
	assert.Nil(t, req.Decoded)

	req, err = ParseRequest([]byte(`{"jsonrpc":"2.0","id":"abc","method":"batua_ping","params":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", req.ID)
	assert.Equal(t, "2.0", req.Envelope().JSONRPC)

	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{`, domain.ErrInvalidRequest},
		{"numeric method", `{"method":1}`, domain.ErrInvalidRequest},
		{"missing method", `{"params":[]}`, domain.ErrInvalidRequest},
		{"object id", `{"id":{},"method":"eth_chainId"}`, domain.ErrInvalidRequest},
		{"object params", `{"method":"eth_chainId","params":{}}`, domain.ErrInvalidParams},
		{"unknown method", `{"method":"eth_sign","params":[]}`, domain.ErrUnsupportedMethod},
		{"unknown method object params", `{"method":"eth_sign","params":{"a":1}}`, domain.ErrUnsupportedMethod},
		{"unknown method empty object params", `{"method":"eth_sign","params":{}}`, domain.ErrUnsupportedMethod},
		{"unknown method string params", `{"method":"eth_sign","params":"0xdead"}`, domain.ErrUnsupportedMethod},
		{"unknown method no params", `{"method":"eth_sign"}`, domain.ErrUnsupportedMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseRequest_UnsupportedMethodCode(t *testing.T) {
	_, err := ParseRequest([]byte(`{"method":"eth_signTransaction"}`))
	require.Error(t, err)
	rpcErr := domain.ToRpcError(err)
	assert.Equal(t, 4200, rpcErr.Code)
}

func TestParseRequest_SendCalls(t *testing.T) {
	body := `{"id":1,"method":"wallet_sendCalls","params":[{
		"version":"1.0","chainId":"0x14a34","from":"` + addrA + `",
		"calls":[{"to":"` + addrB + `","data":"0xdeadbeef","value":"0x10"},{"to":"` + addrA + `"}],
		"capabilities":{"paymasterService":{"url":"https://pm.example/rpc","context":{"policy":"p1"}}}
	}]}`
	req, err := ParseRequest([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, float64(1), req.ID)

	params, ok := req.Decoded.(*SendCallsParams)
	require.True(t, ok)
	assert.Equal(t, uint64(84532), params.ChainID)
	assert.Equal(t, common.HexToAddress(addrA), *params.From)
	require.Len(t, params.Calls, 2)
	assert.Equal(t, common.HexToAddress(addrB), params.Calls[0].To)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, []byte(params.Calls[0].Data))
	assert.Equal(t, int64(16), params.Calls[0].ValueOrZero().Int64())
	assert.Nil(t, params.Calls[1].Value)
	assert.Equal(t, "https://pm.example/rpc", params.Capabilities.PaymasterURL())
	assert.Equal(t, "p1", params.Capabilities.PaymasterService.Context["policy"])
}

func TestParseRequest_InvalidParamsMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "bad nested address",
			body: `{"method":"wallet_sendCalls","params":[{"calls":[{"to":"` + addrA + `"},{"to":"0x12"}]}]}`,
			want: "Expected address\n\nPath: params.0.calls.1.to\nValue: \"0x12\"",
		},
		{
			name: "missing first param",
			body: `{"method":"wallet_sendCalls","params":[]}`,
			want: "Expected required property\n\nPath: params.0",
		},
		{
			name: "empty calls",
			body: `{"method":"wallet_sendCalls","params":[{"calls":[]}]}`,
			want: "Expected at least 1 items\n\nPath: params.0.calls",
		},
		{
			name: "bad quantity",
			body: `{"method":"eth_sendTransaction","params":[{"to":"` + addrA + `","value":"12"}]}`,
			want: "Expected hex quantity\n\nPath: params.0.value\nValue: \"12\"",
		},
		{
			name: "personal sign swapped",
			body: `{"method":"personal_sign","params":["` + addrA + `","hello"]}`,
			want: "Expected address\n\nPath: params.1\nValue: \"hello\"",
		},
		{
			name: "wrong json type",
			body: `{"method":"wallet_getCallsStatus","params":[7]}`,
			want: "Expected string\n\nPath: params.0",
		},
		{
			name: "prepare calls without chain",
			body: `{"method":"wallet_prepareCalls","params":[{"calls":[{"to":"` + addrA + `"}]}]}`,
			want: "Expected required property\n\nPath: params.0.chainId",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.body))
			require.ErrorIs(t, err, domain.ErrInvalidParams)
			rpcErr := domain.ToRpcError(err)
			assert.Equal(t, -32602, rpcErr.Code)
			assert.Equal(t, tt.want, rpcErr.Message)
		})
	}
}

func TestParseRequest_SendTransaction(t *testing.T) {
	req, err := ParseRequest([]byte(`{"method":"eth_sendTransaction","params":[{"from":"` + addrA + `","to":"` + addrB + `","value":"0x1","data":"0x"}]}`))
	require.NoError(t, err)
	params := req.Decoded.(*SendTransactionParams)
	assert.Zero(t, params.ChainID)
	assert.Equal(t, common.HexToAddress(addrA), *params.From)
	assert.Equal(t, common.HexToAddress(addrB), params.Call.To)
	assert.Equal(t, int64(1), params.Call.ValueOrZero().Int64())
}

func TestParseRequest_PersonalSign(t *testing.T) {
	req, err := ParseRequest([]byte(`{"method":"personal_sign","params":["0x68656c6c6f","` + addrA + `"]}`))
	require.NoError(t, err)
	params := req.Decoded.(*PersonalSignParams)
	assert.Equal(t, "hello", string(params.Message))
	assert.Equal(t, common.HexToAddress(addrA), params.Address)
}

func TestParseRequest_SignTypedData(t *testing.T) {
	typedData := `{\"types\":{\"EIP712Domain\":[{\"name\":\"name\",\"type\":\"string\"}],\"Mail\":[{\"name\":\"contents\",\"type\":\"string\"}]},\"primaryType\":\"Mail\",\"domain\":{\"name\":\"Batua\"},\"message\":{\"contents\":\"hi\"}}`
	req, err := ParseRequest([]byte(`{"method":"eth_signTypedData_v4","params":["` + addrA + `","` + typedData + `"]}`))
	require.NoError(t, err)
	params := req.Decoded.(*SignTypedDataParams)
	assert.Equal(t, "Mail", params.TypedData.PrimaryType)
	assert.Equal(t, "Batua", params.TypedData.Domain.Name)

	_, err = ParseRequest([]byte(`{"method":"eth_signTypedData_v4","params":["` + addrA + `","not json"]}`))
	require.ErrorIs(t, err, domain.ErrInvalidParams)
	assert.Equal(t, "Expected EIP-712 typed data JSON\n\nPath: params.1", domain.ToRpcError(err).Message)
}

func TestParseRequest_SendPreparedCalls(t *testing.T) {
	body := `{"method":"wallet_sendPreparedCalls","params":[{"chainId":"0xaa36a7","signature":"0xabcd","context":{
		"sender":"` + addrA + `","nonce":"0x05","callData":"0x01",
		"callGasLimit":"0x1","verificationGasLimit":"0x2","preVerificationGas":"0x3",
		"maxFeePerGas":"0x4","maxPriorityFeePerGas":"0x5",
		"paymaster":"` + addrB + `","paymasterData":"0x02","paymasterPostOpGasLimit":"0x6"
	}}]}`
	req, err := ParseRequest([]byte(body))
	require.NoError(t, err)
	params := req.Decoded.(*SendPreparedCallsParams)
	assert.Equal(t, uint64(11155111), params.ChainID)
	assert.Equal(t, []byte{0xab, 0xcd}, params.Signature)
	op := params.UserOperation
	assert.Equal(t, common.HexToAddress(addrA), op.Sender)
	assert.Equal(t, int64(5), op.Nonce.Int64())
	assert.Equal(t, int64(4), op.MaxFeePerGas.Int64())
	assert.Equal(t, common.HexToAddress(addrB), *op.Paymaster)
	assert.Equal(t, int64(6), op.PaymasterPostOpGasLimit.Int64())
	assert.Nil(t, op.PaymasterVerificationGasLimit)
	assert.Nil(t, op.Factory)

	_, err = ParseRequest([]byte(`{"method":"wallet_sendPreparedCalls","params":[{"signature":"0x","context":{"sender":"` + addrA + `"}}]}`))
	require.ErrorIs(t, err, domain.ErrInvalidParams)
	assert.Contains(t, domain.ToRpcError(err).Message, "Path: params.0.context.nonce")
}

func TestParseRequest_OptionalParams(t *testing.T) {
	req, err := ParseRequest([]byte(`{"method":"wallet_connect"}`))
	require.NoError(t, err)
	assert.Nil(t, req.Decoded.(*ConnectParams).Capabilities)

	req, err = ParseRequest([]byte(`{"method":"experimental_createAccount","params":[{"chainId":"0x1","label":"work"}]}`))
	require.NoError(t, err)
	created := req.Decoded.(*CreateAccountParams)
	assert.Equal(t, uint64(1), created.ChainID)
	assert.Equal(t, "work", created.Label)

	req, err = ParseRequest([]byte(`{"method":"wallet_getCapabilities","params":[null,["0x1","0x2105"]]}`))
	require.NoError(t, err)
	caps := req.Decoded.(*GetCapabilitiesParams)
	assert.Nil(t, caps.Address)
	assert.Equal(t, []uint64{1, 8453}, caps.ChainIDs)

	req, err = ParseRequest([]byte(`{"method":"experimental_grantPermissions","params":[{"anything":true},2]}`))
	require.NoError(t, err)
	raw := req.Decoded.(RawParams)
	require.Len(t, raw, 2)
	assert.JSONEq(t, `{"anything":true}`, string(raw[0]))
}

func TestParseRequest_GetCallsStatus(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)
	req, err := ParseRequest([]byte(`{"method":"wallet_getCallsStatus","params":["` + hash + `"]}`))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(hash), req.Decoded.(*GetCallsStatusParams).ID)

	_, err = ParseRequest([]byte(`{"method":"wallet_getCallsStatus","params":["0x1234"]}`))
	assert.ErrorIs(t, err, domain.ErrInvalidParams)
}

func TestMethods(t *testing.T) {
	assert.Len(t, Methods(), 21)
	assert.True(t, IsSupported(MethodBatuaPing))
	assert.False(t, IsSupported("eth_sign"))
}

func TestValidatorTags(t *testing.T) {
	type sample struct {
		Addr string `json:"addr" validate:"address"`
		Data string `json:"data" validate:"hex"`
		Qty  string `json:"qty" validate:"quantity"`
	}
	assert.NoError(t, Validator().Struct(sample{Addr: addrA, Data: "0x", Qty: "0x0"}))
	assert.Error(t, Validator().Struct(sample{Addr: addrA[:40], Data: "0x", Qty: "0x0"}))
	assert.Error(t, Validator().Struct(sample{Addr: addrA, Data: "0xzz", Qty: "0x0"}))
	assert.Error(t, Validator().Struct(sample{Addr: addrA, Data: "0x", Qty: "0x"}))
}

func TestSendTransactionSchema_ValuePath(t *testing.T) {
	s := &sendTransactionSchema{Transaction: &transactionSchema{To: addrA, Value: "0xzz"}}
	_, err := s.decode()
	var fe *fieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "params.0.value", fe.path)

	calls, err := decodeCalls("params.0.calls", []callSchema{{To: addrA}, {To: addrB, Value: "0xzz"}})
	assert.Nil(t, calls)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "params.0.calls.1.value", fe.path)
}

func TestParseRequest_InvalidParamsErrorString(t *testing.T) {
	_, err := ParseRequest([]byte(`{"method":"eth_chainId","params":"0xdead"}`))
	require.ErrorIs(t, err, domain.ErrInvalidParams)

	want := "Expected array\n\nPath: params\nValue: \"0xdead\""
	assert.Equal(t, want, domain.ToRpcError(err).Message)
	assert.Equal(t, "PARAMETER_INVALID: "+want, err.Error())
	assert.Equal(t, 1, strings.Count(err.Error(), "Path: params"))
}
