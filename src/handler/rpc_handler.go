package handler

import (
	"context"
	"io"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/service/provider"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxRPCBody bounds the JSON-RPC request body.
const maxRPCBody = 1 << 20

type RPCHandler struct {
	provider *provider.Provider
}

func NewRPCHandler(p *provider.Provider) *RPCHandler {
	return &RPCHandler{provider: p}
}

func (h *RPCHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "rpc").Logger()
	return &l
}

// Request godoc
// @Summary EIP-1193 request
// @Description Submit a JSON-RPC request to the wallet provider. Requests that need user approval block until they are resolved or the HTTP request ends.
// @Tags rpc
// @Accept json
// @Produce json
// @Param request body domain.RpcRequest true "JSON-RPC request"
// @Success 200 {object} domain.RpcResponse
// @Router /rpc [post]
func (h *RPCHandler) Request(c *gin.Context) {
	ctx := c.Request.Context()

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRPCBody))
	if err != nil {
		respondRPC(c, nil, nil, domain.NewError(domain.ErrorCodeRequestInvalid, err))
		return
	}

	pending, err := h.provider.Enqueue(ctx, raw)
	if err != nil {
		respondRPC(c, requestID(raw), nil, err)
		return
	}

	id := pending.Request.ID
	result, err := pending.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		// the caller left; the request stays queued for the wallet UI
		h.logger(ctx).Info().Str("request_id", pending.ID).Str("method", pending.Request.Method).Msg("caller stopped waiting")
		return
	}
	respondRPC(c, id, result, err)
}
