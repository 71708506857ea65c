package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/example/motiondata/internal/config"
	"github.com/example/motiondata/internal/handlers"
	"github.com/example/motiondata/internal/middleware"
	"github.com/example/motiondata/internal/services"
)

// NewApp builds the fiber app with the shared middleware stack and all
// routes registered.
func NewApp(cfg *config.Config, orders *services.OrderService, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Motion Data",
		ErrorHandler: handlers.ErrorHandler(log),
	})

	app.Use(middleware.RequestLogger(log))
	app.Use(recover.New())
	app.Use(middleware.CORS())

	Register(app, orders, cfg)
	return app
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, orders *services.OrderService, cfg *config.Config) {
	orderHandler := handlers.NewOrderHandler(orders)
	dashboardHandler := handlers.NewDashboardHandler(orders)

	// Admin-only routes stay open unless admin credentials are configured.
	adminOnly := func(c *fiber.Ctx) error { return c.Next() }
	if cfg.AdminAuthEnabled() {
		adminOnly = middleware.AdminAuth(cfg.JWTSecret)
	}

	api := app.Group("/api")

	if cfg.AdminAuthEnabled() {
		authHandler := handlers.NewAuthHandler(cfg)
		api.Post("/auth/login", authHandler.Login)
	}

	api.Get("/stats", dashboardHandler.Stats)

	ordersGroup := api.Group("/orders")
	ordersGroup.Get("/", orderHandler.ListOrders)
	ordersGroup.Post("/", orderHandler.CreateOrder)
	ordersGroup.Get("/:id", orderHandler.GetOrder)
	ordersGroup.Put("/:id", adminOnly, orderHandler.UpdateOrder)
	ordersGroup.Delete("/:id", adminOnly, orderHandler.DeleteOrder)

	api.Get("/customers", adminOnly, dashboardHandler.Customers)
	api.Get("/packages", dashboardHandler.Packages)
	api.Get("/packages/top", dashboardHandler.TopPackages)

	api.Use(handlers.APINotFound)
	app.Use(handlers.NotFound)
}
