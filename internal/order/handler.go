package order

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"orderflow/internal/constants"
	"orderflow/internal/idempotency"
	"orderflow/internal/logger"
	"orderflow/pkg/errors"
)

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
	service *Service
	guard   *idempotency.Guard
}

func NewHandler(service *Service, guard *idempotency.Guard, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		service:     service,
		guard:       guard,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", h.CreateOrder)
			orders.GET("/:id", h.GetOrder)
		}
	}
}

// CreateOrder accepts the raw body rather than binding straight into the
// struct: the idempotency fingerprint must cover the bytes the client sent,
// not a re-serialization of them.
func (h *Handler) CreateOrder(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	var req CreateOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	key := c.GetHeader(constants.IdempotencyKeyHeader)
	if err := ValidateIdempotencyKey(key); err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.guard.Execute(c.Request.Context(), key, body, func(ctx context.Context) ([]byte, error) {
		o, err := h.service.CreateOrder(ctx, &req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(o.ToResponse())
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	// A replayed response means the order already exists; the retry gets the
	// original body back with 200 instead of 201.
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.Data(status, "application/json", result.Response)
}

func (h *Handler) GetOrder(c *gin.Context) {
	id := c.Param("id")
	o, err := h.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, o.ToResponse())
}
