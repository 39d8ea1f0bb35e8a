package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/dto"
	"github.com/YeonwooSung/ticketing-system/internal/service"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

// EventHandler handles event HTTP requests
type EventHandler struct {
	eventService service.EventService
}

// NewEventHandler creates a new event handler
func NewEventHandler(eventService service.EventService) *EventHandler {
	return &EventHandler{eventService: eventService}
}

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.event.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	event := &domain.Event{
		Name:          req.Name,
		Venue:         req.Venue,
		SaleStartTime: req.SaleStartTime,
		EventDate:     req.EventDate,
	}
	if err := h.eventService.Create(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Int64("event_id", event.ID))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, dto.EventFromDomain(event))
}

// GetEvent handles GET /events/:id
func (h *EventHandler) GetEvent(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.event.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	event, err := h.eventService.Get(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.EventFromDomain(event))
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.event.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	status := domain.EventStatus(c.Query("status"))
	limit, offset := pagination(c)

	events, err := h.eventService.List(ctx, status, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	out := make([]*dto.EventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, dto.EventFromDomain(event))
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Data: out})
}

// UpdateEvent handles PATCH /events/:id
func (h *EventHandler) UpdateEvent(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.event.update")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	event, err := h.eventService.Get(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	event.Name = req.Name
	event.Venue = req.Venue
	event.SaleStartTime = req.SaleStartTime
	event.EventDate = req.EventDate

	if err := h.eventService.Update(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.EventFromDomain(event))
}

// StartSale handles POST /events/:id/start-sale
func (h *EventHandler) StartSale(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.event.start_sale")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	span.SetAttributes(attribute.Int64("event_id", eventID))

	event, err := h.eventService.StartSale(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.EventFromDomain(event))
}

// CreateSeats handles POST /events/:id/seats
func (h *EventHandler) CreateSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.event.create_seats")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.CreateSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	seats := make([]*domain.Seat, 0, len(req.Seats))
	for _, spec := range req.Seats {
		seats = append(seats, &domain.Seat{
			Section:    spec.Section,
			Row:        spec.Row,
			SeatNumber: spec.SeatNumber,
			Type:       domain.SeatType(spec.Type),
			Price:      spec.Price,
		})
	}

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.Int("seat_count", len(seats)),
	)

	if err := h.eventService.CreateSeats(ctx, eventID, seats); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, dto.SuccessResponse{
		Success: true,
		Message: "seats created",
	})
}

// ListSeats handles GET /events/:id/seats
func (h *EventHandler) ListSeats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.event.list_seats")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	status := domain.SeatStatus(c.Query("status"))
	limit, offset := pagination(c)

	seats, err := h.eventService.ListSeats(ctx, eventID, status, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	out := make([]*dto.SeatResponse, 0, len(seats))
	for _, seat := range seats {
		out = append(out, dto.SeatFromDomain(seat))
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Data: out})
}

// GetAvailability handles GET /events/:id/seats/available
func (h *EventHandler) GetAvailability(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.event.availability")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	avail, err := h.eventService.Availability(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	counts := make(map[string]int, len(avail.Counts))
	for status, count := range avail.Counts {
		counts[string(status)] = count
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.AvailabilityResponse{
		EventID:        avail.Event.ID,
		Status:         string(avail.Event.Status),
		TotalSeats:     avail.Event.TotalSeats,
		AvailableSeats: avail.Event.AvailableSeats,
		Counts:         counts,
	})
}

// pathID parses a numeric path parameter, writing 400 on failure
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "invalid " + name,
			Code:  "INVALID_REQUEST",
		})
		return 0, false
	}
	return id, true
}

// pagination parses limit/offset query parameters with defaults
func pagination(c *gin.Context) (int, int) {
	limit := 50
	offset := 0
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if o := c.Query("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
