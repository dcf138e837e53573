package handlers

import (
	"net/http"
	"strconv"

	"github.com/borderway/rideshare-backend/internal/middleware"
	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/borderway/rideshare-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TripHandler handles trip HTTP requests
type TripHandler struct {
	trips  *services.TripService
	ledger *services.BookingLedgerService
	logger *logrus.Logger
}

// NewTripHandler creates a new TripHandler
func NewTripHandler(trips *services.TripService, ledger *services.BookingLedgerService, logger *logrus.Logger) *TripHandler {
	return &TripHandler{trips: trips, ledger: ledger, logger: logger}
}

// Create handles POST /api/v1/trips
func (h *TripHandler) Create(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	var req models.CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_argument",
			"message": "Invalid request body",
		})
		return
	}

	trip, err := h.trips.CreateTrip(user.UserID, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, trip)
}

// Publish handles POST /api/v1/trips/:id/publish
func (h *TripHandler) Publish(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	trip, err := h.trips.PublishTrip(c.Request.Context(), user.UserID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, trip)
}

// Cancel handles POST /api/v1/trips/:id/cancel
func (h *TripHandler) Cancel(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	report, err := h.ledger.CancelTrip(c.Request.Context(), user.UserID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Get handles GET /api/v1/trips/:id
func (h *TripHandler) Get(c *gin.Context) {
	trip, err := h.trips.GetTrip(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, trip)
}

// List handles GET /api/v1/trips
func (h *TripHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	trips, err := h.trips.ListPublished(limit, offset)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"trips": trips})
}

// ListMine handles GET /api/v1/trips/mine
func (h *TripHandler) ListMine(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	trips, err := h.trips.ListByDriver(user.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"trips": trips})
}

// ListBookings handles GET /api/v1/trips/:id/bookings
func (h *TripHandler) ListBookings(c *gin.Context) {
	user := middleware.MustGetUserContext(c)

	bookings, err := h.trips.ListTripBookings(user.UserID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}
