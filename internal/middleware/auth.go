// Package middleware provides authentication, logging, rate limiting,
// and tracing middleware for the HTTP layer.
package middleware

import (
	"strconv"
	"strings"

	"shieldchat/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// UserClaims are the identity facts the chat layer needs from a token:
// who the caller is and which server-level moderation powers they hold.
type UserClaims struct {
	UserID               uint
	IsAdmin              bool
	ModerateChatChannels bool
}

// IsServerModerator reports whether the caller outranks every
// channel-level role.
func (c UserClaims) IsServerModerator() bool {
	return c.IsAdmin || c.ModerateChatChannels
}

// ClaimsFromCtx returns the authenticated caller's claims, or the zero
// value when the route is unauthenticated.
func ClaimsFromCtx(c *fiber.Ctx) UserClaims {
	claims, _ := c.Locals("userClaims").(UserClaims)
	return claims
}

func parseUserClaims(tokenString string) (UserClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return UserClaims{}, fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return UserClaims{}, fiber.NewError(fiber.StatusUnauthorized, "Invalid token claims")
	}

	// Subject claim per RFC 7519 carries the user ID.
	subStr, ok := mapClaims["sub"].(string)
	if !ok {
		return UserClaims{}, fiber.NewError(fiber.StatusUnauthorized, "Invalid token structure - missing subject")
	}
	userID, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil {
		return UserClaims{}, fiber.NewError(fiber.StatusUnauthorized, "Invalid user ID in token")
	}

	claims := UserClaims{UserID: uint(userID)}
	if v, ok := mapClaims["is_admin"].(bool); ok {
		claims.IsAdmin = v
	}
	if v, ok := mapClaims["moderate_chat_channels"].(bool); ok {
		claims.ModerateChatChannels = v
	}
	return claims, nil
}

func storeClaims(c *fiber.Ctx, claims UserClaims) {
	c.Locals("userID", claims.UserID)
	c.Locals("userClaims", claims)
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": message,
	})
}

// AuthRequired enforces a Bearer token on protected routes.
func AuthRequired(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return unauthorized(c, "Authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return unauthorized(c, "Invalid authorization header format")
	}

	claims, err := parseUserClaims(parts[1])
	if err != nil {
		return unauthorized(c, "Invalid or expired token")
	}

	storeClaims(c, claims)
	return c.Next()
}

// WebSocketAuthRequired validates tokens for WebSocket upgrades, where
// browsers cannot set an Authorization header. The token arrives as a
// query parameter, with the header as a fallback for non-browser
// clients.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Token required")
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return unauthorized(c, "Invalid authorization header format")
		}
		token = parts[1]
	}

	claims, err := parseUserClaims(token)
	if err != nil {
		return unauthorized(c, "Invalid or expired token")
	}

	storeClaims(c, claims)
	return c.Next()
}
