package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pverhoef/dbvault/internal/api/dto"
	"github.com/pverhoef/dbvault/internal/core/domain"
	"github.com/pverhoef/dbvault/internal/core/service"
	"github.com/pverhoef/dbvault/pkg/logger"
)

// ErrorHandler maps errors attached by handlers to HTTP status codes.
// Handlers call c.Error(err) and return; the mapping lives here once.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var conflict *domain.ConflictError
		var transition *domain.InvalidTransitionError
		var noArtifact *domain.NoEligibleArtifactError
		var staging *domain.StagingError

		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not found"})
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: err.Error()})
		case errors.As(err, &conflict):
			c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		case errors.As(err, &transition):
			c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		case errors.As(err, &noArtifact):
			c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{Error: err.Error()})
		case errors.As(err, &staging):
			c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{Error: err.Error()})
		default:
			log.Errorw("request failed", "path", c.Request.URL.Path, "error", err)
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
		}
	}
}
