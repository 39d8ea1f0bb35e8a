package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/dto"
)

// handleError converts domain errors to HTTP responses. Validation maps to
// 400, ownership to 403, missing resources to 404, contention and state
// conflicts to 409, everything unclassified to 500.
func handleError(c *gin.Context, err error) {
	var seatErr *domain.SeatUnavailableError

	switch {
	case domain.IsValidationError(err):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_REQUEST",
		})
	case errors.Is(err, domain.ErrNotOwner):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "FORBIDDEN",
		})
	case domain.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "NOT_FOUND",
		})
	case errors.As(err, &seatErr):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "SEAT_UNAVAILABLE",
		})
	case errors.Is(err, domain.ErrEventNotOnSale):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "NOT_ON_SALE",
		})
	case errors.Is(err, domain.ErrLockTimeout):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:   err.Error(),
			Code:    "LOCK_TIMEOUT",
			Message: "High contention on the requested seats. Please retry.",
		})
	case domain.IsUnavailableError(err):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "UNAVAILABLE",
		})
	case domain.IsConflictError(err):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error: err.Error(),
			Code:  "CONFLICT",
		})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "internal server error",
			Code:  "INTERNAL_ERROR",
		})
	}
}

// requireUser fetches the authenticated user id set by middleware, writing
// 401 when absent
func requireUser(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return "", false
	}
	return userID, true
}
