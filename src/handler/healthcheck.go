package handler

import (
	"net/http"

	"github.com/batua/wallet/src/service/provider"
	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Message      string `json:"message" example:"ok"`
	Instance     string `json:"instance"`
	QueueLength  int    `json:"queueLength"`
	EventClients int    `json:"eventClients"`
}

type HealthHandler struct {
	provider *provider.Provider
	events   *EventHub
}

func NewHealthHandler(p *provider.Provider, events *EventHub) *HealthHandler {
	return &HealthHandler{provider: p, events: events}
}

// HandleHealthCheck godoc
// @Summary Health check endpoint
// @Description Check if the service is running and how many requests wait for approval
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HandleHealthCheck(c *gin.Context) {
	res := HealthResponse{
		Message:     "ok",
		Instance:    h.provider.AnnounceDetail().UUID,
		QueueLength: len(h.provider.Queue()),
	}
	if h.events != nil {
		res.EventClients = h.events.ClientCount()
	}
	c.JSON(http.StatusOK, res)
}
