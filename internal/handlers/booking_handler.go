package handlers

import (
	"net/http"

	"github.com/borderway/rideshare-backend/internal/middleware"
	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/borderway/rideshare-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BookingHandler handles booking lifecycle HTTP requests
type BookingHandler struct {
	ledger *services.BookingLedgerService
	logger *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(ledger *services.BookingLedgerService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{ledger: ledger, logger: logger}
}

// Create handles POST /api/v1/bookings
func (h *BookingHandler) Create(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_argument",
			"message": "Invalid request body",
		})
		return
	}

	resp, err := h.ledger.CreateBooking(c.Request.Context(), user.UserID, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Confirm handles POST /api/v1/bookings/:id/confirm
func (h *BookingHandler) Confirm(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	resp, err := h.ledger.ConfirmBooking(c.Request.Context(), user.UserID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Cancel handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	resp, err := h.ledger.CancelBooking(c.Request.Context(), user.UserID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Complete handles POST /api/v1/bookings/:id/complete
func (h *BookingHandler) Complete(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	resp, err := h.ledger.CompleteBooking(c.Request.Context(), user.UserID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/v1/bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	booking, err := h.ledger.GetBooking(user.UserID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// Details handles GET /api/v1/bookings/:id/details
func (h *BookingHandler) Details(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	details, err := h.ledger.GetBookingDetails(user.UserID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

// List handles GET /api/v1/bookings
func (h *BookingHandler) List(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	bookings, err := h.ledger.ListBookings(user.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}
