package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/motiondata/internal/config"
	"github.com/example/motiondata/internal/services"
	"github.com/example/motiondata/internal/utils"
)

// AuthHandler issues admin tokens.
type AuthHandler struct {
	cfg *config.Config
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(cfg *config.Config) *AuthHandler {
	return &AuthHandler{cfg: cfg}
}

// Login checks the admin credentials and returns a signed token.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	p := services.ParsePayload(c.Body())
	email, _ := p["email"].(string)
	password, _ := p["password"].(string)

	if email == "" || password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and password are required")
	}

	if !strings.EqualFold(strings.TrimSpace(email), h.cfg.AdminEmail) ||
		!utils.CheckPassword(h.cfg.AdminPasswordHash, password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, h.cfg.AdminEmail, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"token":      token,
		"expires_in": int64(h.cfg.TokenExpires.Seconds()),
	})
}
