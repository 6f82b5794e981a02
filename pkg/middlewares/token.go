package middlewares

import (
	"strings"

	t_token "chatroom_realtime_service/pkg/token"

	"github.com/gofiber/fiber/v2"
)

const (
	//QueryToken token in query name, websocket clients cannot set headers
	QueryToken = "auth"

	//CookieToken token in cookie name
	CookieToken = "auth_token"

	//TokenUserID user from token, set c.locals name
	TokenUserID = "UserID"
	//TokenDeviceID device from token, empty when token is not device bound
	TokenDeviceID = "DeviceID"
	//TokenRole role from token, set c.locals name
	TokenRole = "role"
)

// JWTMiddleware validates JWT from query, cookie or Authorization header
func JWTMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Query(QueryToken)

		if tokenStr == "" {
			tokenStr = c.Cookies(CookieToken)
		}
		if tokenStr == "" {
			tokenStr = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		}

		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
			})
		}

		claims, err := t_token.ParseJWT(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(TokenUserID, claims.UserID)
		c.Locals(TokenDeviceID, claims.DeviceID)
		c.Locals(TokenRole, claims.Role)
		return c.Next()
	}
}

// UserID read user id set by JWTMiddleware
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(TokenUserID).(string)
	return id
}
