package middlewares

import (
	t_token "video_pipeline_service/pkg/token"

	"github.com/gofiber/fiber/v2"
)

const (
	//QueryToken token in query name
	QueryToken = "auth"

	//TokenService caller service from token, set c.locals name
	TokenService = "service"
	//TokenRole get role form token, set c.locals name
	TokenRole = "role"
)

// ServiceAuth validates the service JWT in the Authorization header
func ServiceAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)

		// header 沒有時允許從 query 帶入，方便維運手動呼叫
		if header == "" && c.Query(QueryToken) != "" {
			header = "Bearer " + c.Query(QueryToken)
		}

		if header == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
			})
		}

		claims, err := t_token.ParseBearer(header)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(TokenService, claims.Service)
		c.Locals(TokenRole, claims.Role)

		return c.Next()
	}
}
