package utils

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// DefaultPageLimit is used when limit is missing, zero or unparsable.
const DefaultPageLimit = 10

// Pagination holds pagination parameters.
type Pagination struct {
	Page  int
	Limit int
}

// ParsePagination reads page and limit query params with sane defaults.
func ParsePagination(c *fiber.Ctx) Pagination {
	page := parseInt(c.Query("page", "1"), 1)
	limit := parseInt(c.Query("limit"), DefaultPageLimit)
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if page <= 0 {
		page = 1
	}

	return Pagination{
		Page:  page,
		Limit: limit,
	}
}

func parseInt(value string, fallback int) int {
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return fallback
}
