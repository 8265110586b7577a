package demo

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jsamuelsen/scopelog"
)

// OrderHandler demonstrates context propagation through nested calls: the
// handler tags the scope, the order service tags it again, and every log
// record on the way out carries the union.
type OrderHandler struct {
	logger  *scopelog.Logger
	service *OrderService
}

// NewOrderHandler creates the demo order handler.
func NewOrderHandler(service *OrderService) *OrderHandler {
	return &OrderHandler{
		logger:  scopelog.New("OrderHandler"),
		service: service,
	}
}

// Get handles GET /api/v1/orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("id")

	h.logger.UpdateContext(ctx, scopelog.Fields{"order_id": orderID})
	h.logger.Info(ctx, "fetching order")

	order, err := h.service.Lookup(ctx, orderID)
	if err != nil {
		h.logger.Error(ctx, "order lookup failed", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})

		return
	}

	c.JSON(http.StatusOK, order)
}

// ErrOrderNotFound is returned when no order matches the requested ID.
var ErrOrderNotFound = errors.New("order not found")

// Order is the demo payload.
type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// OrderService is the nested component the handler calls into. Its logs
// carry the order_id set by the handler without it being passed down.
type OrderService struct {
	logger *scopelog.Logger
}

// NewOrderService creates the demo order service.
func NewOrderService() *OrderService {
	return &OrderService{logger: scopelog.New("OrderService")}
}

// Lookup resolves an order and tags the scope with the warehouse that
// served it, so the terminal request record shows where it came from.
func (s *OrderService) Lookup(ctx context.Context, id string) (*Order, error) {
	s.logger.Debug(ctx, "checking inventory")

	// Simulated downstream latency.
	time.Sleep(2 * time.Millisecond)

	if id == "missing" {
		return nil, ErrOrderNotFound
	}

	scopelog.UpdateContext(ctx, scopelog.Fields{"warehouse": "eu-west-1"})
	s.logger.Info(ctx, "order resolved")

	return &Order{ID: id, Status: "shipped"}, nil
}
