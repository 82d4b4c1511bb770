package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/batua/wallet/src/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// StandardResponse represents the standard API response format
type StandardResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// respondWithSuccess sends a successful response with the standard format
func respondWithSuccess(c *gin.Context, data interface{}) {
	respondWithSuccessAndStatus(c, http.StatusOK, data)
}

// respondWithSuccessAndStatus sends a successful response with custom HTTP status
func respondWithSuccessAndStatus(c *gin.Context, httpStatus int, data interface{}, message ...string) {
	msg := "OK"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}

	c.JSON(httpStatus, StandardResponse{
		Code:    0,
		Message: msg,
		Data:    data,
	})
}

// respondWithError sends an error response with the standard format. Code is
// the EIP-1193 / JSON-RPC code of the error.
func respondWithError(c *gin.Context, err error) {
	domainErr := parseDomainError(err)

	message := domainErr.ClientMsg()
	if message == "" {
		message = err.Error()
	}

	response := StandardResponse{
		Code:    domainErr.RpcCode(),
		Message: message,
	}
	if detail := domainErr.Detail(); detail != nil {
		response.Error = detail
	}

	ctx := c.Request.Context()
	zerolog.Ctx(ctx).Error().
		Err(err).
		Str("function", "respondWithError").
		Int("error_code", response.Code).
		Msg(response.Message)

	_ = c.Error(err)
	c.AbortWithStatusJSON(domainErr.HTTPStatus(), response)
}

// parseDomainError extracts domain error information
func parseDomainError(err error) domain.DomainError {
	var domainError domain.DomainError
	// an empty domain.DomainError carries the internal error data
	_ = errors.As(err, &domainError)
	return domainError
}

// rpcResult is the JSON-RPC success envelope. Result is always present, null
// included.
type rpcResult struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result"`
}

// respondRPC writes a JSON-RPC response. Failures travel in the envelope, so
// the HTTP status is always 200.
func respondRPC(c *gin.Context, id interface{}, result interface{}, err error) {
	if err != nil {
		c.JSON(http.StatusOK, domain.RpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   domain.ToRpcError(err),
		})
		return
	}
	c.JSON(http.StatusOK, rpcResult{JSONRPC: "2.0", ID: id, Result: result})
}

// requestID recovers the id of a body that failed to parse.
func requestID(raw []byte) interface{} {
	var env struct {
		ID interface{} `json:"id"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	return env.ID
}
