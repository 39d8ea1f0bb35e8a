package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YeonwooSung/ticketing-system/internal/dto"
	"github.com/YeonwooSung/ticketing-system/internal/service"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

// ReservationHandler handles the synchronous reservation path
type ReservationHandler struct {
	reservationService service.ReservationService
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(reservationService service.ReservationService) *ReservationHandler {
	return &ReservationHandler{reservationService: reservationService}
}

// Reserve handles POST /reservations
// SYNC PATH: acquires the seat locks, runs the reservation transaction and
// answers with the definitive outcome in one round trip.
func (h *ReservationHandler) Reserve(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.reserve")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int64("event_id", req.EventID),
		attribute.Int("seat_count", len(req.SeatIDs)),
	)

	result, err := h.reservationService.Reserve(ctx, userID, req.EventID, req.SeatIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	resp := &dto.ReserveResponse{
		ExpiresAt:  result.ExpiresAt,
		TotalPrice: result.TotalPrice,
	}
	for _, res := range result.Reservations {
		resp.Reservations = append(resp.Reservations, dto.ReservationFromDomain(res))
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, resp)
}

// GetReservation handles GET /reservations/:id
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	reservationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := h.reservationService.Get(ctx, reservationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	if res.UserID != userID {
		span.SetStatus(codes.Error, "forbidden")
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error: "reservation belongs to a different user",
			Code:  "FORBIDDEN",
		})
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.ReservationFromDomain(res))
}

// ListReservations handles GET /reservations
func (h *ReservationHandler) ListReservations(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	limit, offset := pagination(c)

	reservations, err := h.reservationService.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	out := make([]*dto.ReservationResponse, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, dto.ReservationFromDomain(res))
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Data: out})
}

// ExtendReservation handles POST /reservations/:id/extend
func (h *ReservationHandler) ExtendReservation(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.extend")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	reservationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	span.SetAttributes(attribute.Int64("reservation_id", reservationID))

	res, err := h.reservationService.Extend(ctx, reservationID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.ReservationFromDomain(res))
}

// CancelReservation handles DELETE /reservations/:id
func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	reservationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	span.SetAttributes(attribute.Int64("reservation_id", reservationID))

	if err := h.reservationService.Cancel(ctx, reservationID, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.SuccessResponse{
		Success: true,
		Message: "reservation cancelled",
	})
}

// CancelBatch handles DELETE /reservations (body carries the ids)
func (h *ReservationHandler) CancelBatch(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.cancel_batch")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.CancelBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	cancelled, err := h.reservationService.CancelBatch(ctx, req.ReservationIDs, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Int("cancelled", cancelled))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.CancelBatchResponse{Cancelled: cancelled})
}
