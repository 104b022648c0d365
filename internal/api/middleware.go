package api

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// authMiddleware admits only session tokens minted by handleLogin: HS256,
// our issuer, not expired. The verified subject is exposed to handlers.
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		const prefix = "Bearer "

		header := c.Get("Authorization")
		if !strings.HasPrefix(header, prefix) {
			return c.Status(401).JSON(fiber.Map{"error": "bearer token required"})
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(header[len(prefix):], claims,
			func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(s.config.Security.JWTSecret), nil
			},
			jwt.WithIssuer(tokenIssuer),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		c.Locals("subject", claims.Subject)
		return c.Next()
	}
}
