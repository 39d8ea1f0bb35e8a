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

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	bookingService service.BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookingService service.BookingService) *BookingHandler {
	return &BookingHandler{bookingService: bookingService}
}

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.CreateBookingRequest
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
		attribute.Int("reservation_count", len(req.ReservationIDs)),
	)

	booking, err := h.bookingService.CreateBooking(ctx, userID, req.ReservationIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking_reference", booking.Reference))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, dto.BookingFromDomain(booking))
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookingService.Get(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	if booking.UserID != userID {
		span.SetStatus(codes.Error, "forbidden")
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error: "booking belongs to a different user",
			Code:  "FORBIDDEN",
		})
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.BookingFromDomain(booking))
}

// GetBookingByReference handles GET /bookings/reference/:ref
func (h *BookingHandler) GetBookingByReference(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get_by_reference")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	reference := c.Param("ref")
	if reference == "" {
		span.SetStatus(codes.Error, "reference required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "booking reference required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	booking, err := h.bookingService.GetByReference(ctx, reference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	if booking.UserID != userID {
		span.SetStatus(codes.Error, "forbidden")
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error: "booking belongs to a different user",
			Code:  "FORBIDDEN",
		})
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.BookingFromDomain(booking))
}

// ListBookings handles GET /bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	limit, offset := pagination(c)

	bookings, err := h.bookingService.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	out := make([]*dto.BookingResponse, 0, len(bookings))
	for _, booking := range bookings {
		out = append(out, dto.BookingFromDomain(booking))
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Data: out})
}

// ConfirmPayment handles POST /bookings/:id/confirm-payment
func (h *BookingHandler) ConfirmPayment(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.confirm")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.PaymentRequest
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
		attribute.Int64("booking_id", bookingID),
		attribute.String("payment_id", req.PaymentID),
	)

	booking, err := h.bookingService.ConfirmPayment(ctx, bookingID, userID, req.PaymentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.BookingFromDomain(booking))
}

// FailPayment handles POST /bookings/:id/fail-payment
func (h *BookingHandler) FailPayment(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.fail")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	span.SetAttributes(attribute.Int64("booking_id", bookingID))

	booking, err := h.bookingService.FailPayment(ctx, bookingID, userID, req.PaymentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.BookingFromDomain(booking))
}

// CancelBooking handles POST /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	span.SetAttributes(attribute.Int64("booking_id", bookingID))

	if err := h.bookingService.CancelBooking(ctx, bookingID, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.SuccessResponse{
		Success: true,
		Message: "booking cancelled",
	})
}
