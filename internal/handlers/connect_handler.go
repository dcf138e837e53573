package handlers

import (
	"net/http"

	"github.com/borderway/rideshare-backend/internal/middleware"
	"github.com/borderway/rideshare-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ConnectHandler handles driver payout account onboarding requests
type ConnectHandler struct {
	connect *services.ConnectService
	logger  *logrus.Logger
}

// NewConnectHandler creates a new ConnectHandler
func NewConnectHandler(connect *services.ConnectService, logger *logrus.Logger) *ConnectHandler {
	return &ConnectHandler{connect: connect, logger: logger}
}

type onboardingRequest struct {
	RefreshURL string `json:"refresh_url" binding:"required"`
	ReturnURL  string `json:"return_url" binding:"required"`
}

// StartOnboarding handles POST /api/v1/connect/onboarding
func (h *ConnectHandler) StartOnboarding(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	var req onboardingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_argument",
			"message": "refresh_url and return_url are required",
		})
		return
	}

	link, err := h.connect.StartOnboarding(c.Request.Context(), user.UserID, req.RefreshURL, req.ReturnURL)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, link)
}

// GetStatus handles GET /api/v1/connect/status
func (h *ConnectHandler) GetStatus(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	status, err := h.connect.GetStatus(c.Request.Context(), user.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
