package walletrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/batua/wallet/src/domain"
	"github.com/go-playground/validator/v10"
)

const JSONRPCVersion = "2.0"

// Request is a validated wallet RPC request. Params is kept as received;
// Decoded holds the typed params (nil for methods without any).
type Request struct {
	JSONRPC string
	ID      interface{}
	Method  string
	Params  json.RawMessage
	Decoded interface{}
}

// Envelope returns the request as it is stored in the queue.
func (r *Request) Envelope() domain.RpcRequest {
	return domain.RpcRequest{JSONRPC: r.JSONRPC, ID: r.ID, Method: r.Method, Params: r.Params}
}

type envelope struct {
	JSONRPC *string         `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// ParseRequest validates a raw JSON-RPC request body.
func ParseRequest(raw []byte) (*Request, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.NewError(domain.ErrorCodeRequestInvalid, fmt.Errorf("failed to decode request: %w", err),
			domain.WithMsg("Expected a JSON-RPC request object"))
	}
	var method string
	if err := json.Unmarshal(env.Method, &method); err != nil || method == "" {
		return nil, domain.NewError(domain.ErrorCodeRequestInvalid, errors.New("method must be a non-empty string"),
			domain.WithMsg("Expected method to be a string"))
	}
	jsonrpc := JSONRPCVersion
	if env.JSONRPC != nil && *env.JSONRPC != "" {
		jsonrpc = *env.JSONRPC
	}
	return Parse(domain.RpcRequest{JSONRPC: jsonrpc, ID: env.ID, Method: method, Params: env.Params})
}

// Parse validates an already decoded envelope in two passes: the envelope
// shape and method first, then the params of the method.
func Parse(req domain.RpcRequest) (*Request, error) {
	if req.JSONRPC == "" {
		req.JSONRPC = JSONRPCVersion
	}
	if !validID(req.ID) {
		return nil, domain.NewError(domain.ErrorCodeRequestInvalid, fmt.Errorf("invalid id %v", req.ID),
			domain.WithMsg("Expected id to be a string or number"))
	}
	newSchema, ok := methods[req.Method]
	if !ok {
		return nil, domain.NewUnsupportedMethodError(req.Method)
	}
	params, err := positional(req.Params)
	if err != nil {
		return nil, err
	}

	out := &Request{JSONRPC: req.JSONRPC, ID: req.ID, Method: req.Method, Params: req.Params}
	if newSchema == nil {
		return out, nil
	}

	s := newSchema()
	if err := bind(params, s); err != nil {
		return nil, err
	}
	if err := Validator().Struct(s); err != nil {
		return nil, validationError(err)
	}
	decoded, err := s.decode()
	if err != nil {
		var fe *fieldError
		if errors.As(err, &fe) {
			return nil, invalidParams(fe.reason, fe.path, fe.value)
		}
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, err)
	}
	out.Decoded = decoded
	return out, nil
}

func validID(id interface{}) bool {
	switch id.(type) {
	case nil, string, float64, json.Number, int, int64, uint64:
		return true
	default:
		return false
	}
}

// positional splits params into its elements. Absent and null params are an
// empty list.
func positional(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var params []json.RawMessage
	if trimmed[0] != '[' || json.Unmarshal(trimmed, &params) != nil {
		return nil, invalidParams("Expected array", "params", json.RawMessage(trimmed))
	}
	return params, nil
}

// bind assigns params[i] to the schema field tagged json:"i". Elements that
// are JSON null count as absent.
func bind(params []json.RawMessage, s schema) error {
	obj := make(map[string]json.RawMessage, len(params))
	for i, p := range params {
		if bytes.Equal(bytes.TrimSpace(p), []byte("null")) {
			continue
		}
		obj[strconv.Itoa(i)] = p
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return domain.NewError(domain.ErrorCodeParameterInvalid, err)
	}
	if err := json.Unmarshal(data, s); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			path := "params"
			if typeErr.Field != "" {
				path += "." + typeErr.Field
			}
			return invalidParams("Expected "+typeName(typeErr), path, nil)
		}
		return invalidParams("Expected valid JSON", "params", nil)
	}
	return nil
}

func typeName(err *json.UnmarshalTypeError) string {
	if err.Type == nil {
		return "value"
	}
	switch err.Type.Kind().String() {
	case "string":
		return "string"
	case "slice", "array":
		return "array"
	case "struct", "map", "ptr":
		return "object"
	default:
		return err.Type.String()
	}
}

// validationError reports the first failing field.
func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return domain.NewError(domain.ErrorCodeParameterInvalid, err)
	}
	fe := errs[0]
	return invalidParams(reason(fe), fieldPath(fe.Namespace()), fe.Value())
}

func invalidParams(reason, path string, value interface{}) error {
	return domain.NewError(domain.ErrorCodeParameterInvalid, errors.New(invalidParamsMessage(reason, path, value)))
}
