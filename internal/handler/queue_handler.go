package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/dto"
	"github.com/YeonwooSung/ticketing-system/internal/service"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

// QueueHandler handles the asynchronous reservation path
type QueueHandler struct {
	queueService service.QueueService
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queueService service.QueueService) *QueueHandler {
	return &QueueHandler{queueService: queueService}
}

// Submit handles POST /v2/reservations
// ASYNC PATH: admits the request and answers 202 immediately. The outcome
// arrives via polling GET /v2/reservations/:id or a WebSocket notification.
func (h *QueueHandler) Submit(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.submit")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return
	}

	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		span.SetStatus(codes.Error, "invalid priority")
		handleError(c, err)
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int64("event_id", req.EventID),
		attribute.String("priority", string(priority)),
	)

	queued, err := h.queueService.Submit(ctx, userID, req.EventID, req.SeatIDs, priority)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("request_id", queued.RequestID))
	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusAccepted, dto.QueuedRequestFromDomain(queued))
}

// GetStatus handles GET /v2/reservations/:id
func (h *QueueHandler) GetStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.status")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	requestID := c.Param("id")
	if requestID == "" {
		span.SetStatus(codes.Error, "request id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "request id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(attribute.String("request_id", requestID))

	req, err := h.queueService.Status(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	if req.UserID != userID {
		span.SetStatus(codes.Error, "forbidden")
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error: "request belongs to a different user",
			Code:  "FORBIDDEN",
		})
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.QueuedRequestFromDomain(req))
}

// CancelRequest handles DELETE /v2/reservations/:id
func (h *QueueHandler) CancelRequest(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requireUser(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		return
	}

	requestID := c.Param("id")
	if requestID == "" {
		span.SetStatus(codes.Error, "request id required")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: "request id required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	span.SetAttributes(attribute.String("request_id", requestID))

	req, err := h.queueService.Cancel(ctx, requestID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, dto.QueuedRequestFromDomain(req))
}

// GetStats handles GET /v2/queue/stats/:id
func (h *QueueHandler) GetStats(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.stats")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	span.SetAttributes(attribute.Int64("event_id", eventID))

	stats, err := h.queueService.Stats(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusOK, stats)
}
