package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/motiondata/internal/services"
)

// DashboardHandler serves the read-only rollups behind the admin dashboard.
type DashboardHandler struct {
	orders *services.OrderService
}

// NewDashboardHandler constructs DashboardHandler.
func NewDashboardHandler(orders *services.OrderService) *DashboardHandler {
	return &DashboardHandler{orders: orders}
}

// Stats returns revenue, volume and growth figures.
func (h *DashboardHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.orders.Stats(c.UserContext()))
}

// Customers lists customer aggregates, biggest spender first.
func (h *DashboardHandler) Customers(c *fiber.Ctx) error {
	return c.JSON(h.orders.Customers(c.UserContext()))
}

// TopPackages ranks the best-selling bundles.
func (h *DashboardHandler) TopPackages(c *fiber.Ctx) error {
	return c.JSON(h.orders.TopPackages(c.UserContext()))
}

// Packages is kept for older clients; the catalogue is managed elsewhere.
func (h *DashboardHandler) Packages(c *fiber.Ctx) error {
	return c.JSON([]any{})
}
