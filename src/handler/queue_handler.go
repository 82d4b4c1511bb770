package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/service/provider"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type QueueHandler struct {
	provider *provider.Provider
}

func NewQueueHandler(p *provider.Provider) *QueueHandler {
	return &QueueHandler{provider: p}
}

func (h *QueueHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "queue").Logger()
	return &l
}

// GetQueue godoc
// @Summary List queued requests
// @Tags queue
// @Produce json
// @Success 200 {object} StandardResponse
// @Router /queue [get]
func (h *QueueHandler) GetQueue(c *gin.Context) {
	respondWithSuccess(c, h.provider.Queue())
}

// GetHead godoc
// @Summary Request awaiting approval
// @Tags queue
// @Produce json
// @Success 200 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /queue/head [get]
func (h *QueueHandler) GetHead(c *gin.Context) {
	head, ok := h.provider.Head()
	if !ok {
		respondWithError(c, domain.NewError(domain.ErrorCodeResourceNotFound, errors.New("queue is empty"), domain.WithMsg("No pending request")))
		return
	}
	respondWithSuccess(c, head)
}

// ResolveRequest is the body of a queue resolution. Error is used when
// status is "error"; without it the request is rejected by the user.
type ResolveRequest struct {
	Status domain.RequestStatus `json:"status" binding:"required,oneof=success error" example:"success"`
	Result interface{}          `json:"result"`
	Error  *domain.RpcError     `json:"error"`
}

// Resolve godoc
// @Summary Resolve a queued request
// @Description Complete a queued request with a result or an error. The original caller receives it.
// @Tags queue
// @Accept json
// @Produce json
// @Param id path string true "Queued request id"
// @Param request body ResolveRequest true "Resolution"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /queue/{id}/resolve [post]
func (h *QueueHandler) Resolve(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "Resolve").Logger()
	id := c.Param("id")

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	res := provider.Resolution{Status: req.Status, Result: req.Result}
	if req.Error != nil {
		res.Error = req.Error
	}
	if err := h.provider.Resolve(id, res); err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccessAndStatus(c, http.StatusOK, nil, "Request resolved")
}
