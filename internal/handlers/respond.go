package handlers

import (
	"net/http"

	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// writeError maps a service error to an HTTP response. AppErrors carry
// their own status and user-safe message; anything else is a 500 with
// the detail kept in the logs only.
func writeError(c *gin.Context, logger *logrus.Logger, err error) {
	if appErr, ok := models.AsAppError(err); ok {
		if appErr.Err != nil {
			logger.WithError(appErr.Err).WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"code": appErr.Code,
			}).Warn("Request failed")
		}
		c.JSON(appErr.HTTPStatus(), gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		})
		return
	}

	logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Internal error")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Something went wrong",
	})
}
