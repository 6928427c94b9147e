package server

import (
	"strconv"
	"time"

	"shieldchat/internal/models"

	"github.com/gofiber/fiber/v2"
)

// paramUint parses a positive integer route parameter.
func paramUint(c *fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		return 0, models.NewValidationError("Invalid " + name)
	}
	return uint(v), nil
}

// paramInt64 parses a positive 64-bit integer route parameter
// (message IDs are snowflakes and exceed 32 bits).
func paramInt64(c *fiber.Ctx, name string) (int64, error) {
	raw := c.Params(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, models.NewValidationError("Invalid " + name)
	}
	return v, nil
}

// queryInt parses an optional integer query parameter, falling back to
// def when absent or malformed.
func queryInt(c *fiber.Ctx, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// queryTime parses an optional millisecond-epoch query parameter. The
// zero time means "no bound".
func queryTime(c *fiber.Ctx, name string) time.Time {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
