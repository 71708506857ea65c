package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/example/motiondata/internal/query"
	"github.com/example/motiondata/internal/services"
	"github.com/example/motiondata/internal/store"
	"github.com/example/motiondata/internal/utils"
)

// OrderHandler manages order endpoints.
type OrderHandler struct {
	orders *services.OrderService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// ListOrders returns one filtered page plus totals.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	f := query.Filter{
		Status:  c.Query("status"),
		Network: c.Query("network"),
		Search:  c.Query("search"),
		Page:    p.Page,
		Limit:   p.Limit,
	}
	return c.JSON(h.orders.ListOrders(c.UserContext(), f))
}

// CreateOrder records a new order from a lenient JSON body.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	order, err := h.orders.CreateOrder(c.UserContext(), services.ParsePayload(c.Body()))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// GetOrder returns a single order.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.orders.GetOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, msgOrderNotFound)
	}
	return c.JSON(order)
}

// UpdateOrder merges the body into an existing order.
func (h *OrderHandler) UpdateOrder(c *fiber.Ctx) error {
	order, err := h.orders.UpdateOrder(c.UserContext(), c.Params("id"), services.ParsePayload(c.Body()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, msgOrderNotFound)
		}
		return err
	}
	return c.JSON(order)
}

// DeleteOrder removes an order.
func (h *OrderHandler) DeleteOrder(c *fiber.Ctx) error {
	deleted, err := h.orders.DeleteOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if !deleted {
		return fiber.NewError(fiber.StatusNotFound, msgOrderNotFound)
	}
	return c.JSON(fiber.Map{"message": "Order deleted"})
}
