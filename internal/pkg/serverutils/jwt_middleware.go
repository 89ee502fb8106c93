package serverutils

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// JwtMiddleware authenticates the request from the Authorization header.
// Missing or invalid tokens fail closed with 401.
func JwtMiddleware(ctx *fiber.Ctx) error {
	authHeader := ctx.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	tokenStr := authHeader[7:]

	identity, err := ParseToken(tokenStr)
	if err != nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}

	ctx.Locals("user_id", identity.Id.String())
	ctx.Locals("username", identity.Username)
	return ctx.Next()
}
