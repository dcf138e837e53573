package handlers

import (
	"net/http"

	"github.com/borderway/rideshare-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SweepHandler exposes the payout sweep for operational use: running a
// pass on demand and inspecting the last one
type SweepHandler struct {
	sweeper *services.PayoutSweeperService
	logger  *logrus.Logger
}

// NewSweepHandler creates a new SweepHandler
func NewSweepHandler(sweeper *services.PayoutSweeperService, logger *logrus.Logger) *SweepHandler {
	return &SweepHandler{sweeper: sweeper, logger: logger}
}

// Run handles POST /api/v1/admin/sweep/run
func (h *SweepHandler) Run(c *gin.Context) {
	report, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Status handles GET /api/v1/admin/sweep/status
func (h *SweepHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sweeper.Status())
}
