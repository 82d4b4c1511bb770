package handler

import (
	"context"
	"net/http"

	"github.com/batua/wallet/src/service/approval"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type ApprovalHandler struct {
	service *approval.Service
}

func NewApprovalHandler(service *approval.Service) *ApprovalHandler {
	return &ApprovalHandler{service: service}
}

func (h *ApprovalHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "approval").Logger()
	return &l
}

// Open godoc
// @Summary Open an approval
// @Description Preview a queued request. Sends return the prepared user operation, gas cost, fiat estimate, balance check and simulated asset changes; the operation keeps refreshing while the approval is open.
// @Tags approvals
// @Produce json
// @Param id path string true "Queued request id"
// @Success 200 {object} StandardResponse{data=approval.Preview}
// @Failure 404 {object} StandardResponse
// @Router /approvals/{id} [post]
func (h *ApprovalHandler) Open(c *gin.Context) {
	preview, err := h.service.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccess(c, preview)
}

// Confirm godoc
// @Summary Confirm an approval
// @Description Sign and submit the request. The queued caller receives the outcome.
// @Tags approvals
// @Produce json
// @Param id path string true "Queued request id"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /approvals/{id}/confirm [post]
func (h *ApprovalHandler) Confirm(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	result, err := h.service.Confirm(ctx, id)
	if err != nil {
		h.logger(ctx).Warn().Err(err).Str("request_id", id).Msg("confirm failed")
		respondWithError(c, err)
		return
	}
	respondWithSuccess(c, result)
}

// Reject godoc
// @Summary Reject an approval
// @Tags approvals
// @Produce json
// @Param id path string true "Queued request id"
// @Success 200 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /approvals/{id} [delete]
func (h *ApprovalHandler) Reject(c *gin.Context) {
	if err := h.service.Reject(c.Request.Context(), c.Param("id")); err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccessAndStatus(c, http.StatusOK, nil, "Request rejected")
}
