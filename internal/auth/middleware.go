package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// RequireAuth 인증 미들웨어. 쿠키를 우선 보고, 없으면
// Authorization 헤더의 Bearer 토큰을 사용한다.
func RequireAuth(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Cookies("access_token")
		if tokenString == "" {
			var ok bool
			tokenString, ok = bearerToken(c.Get("Authorization"))
			if !ok {
				return unauthorized(c, "missing authorization token", "")
			}
		}

		claims, err := jwtManager.ValidateAccessToken(tokenString)
		if err != nil {
			if err == ErrExpiredToken {
				return unauthorized(c, "token expired", "TOKEN_EXPIRED")
			}
			return unauthorized(c, "invalid token", "")
		}

		c.Locals("claims", claims)
		return c.Next()
	}
}

// bearerToken "Bearer <token>" 헤더에서 토큰 추출
func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), parts[1] != ""
}

func unauthorized(c *fiber.Ctx, message, code string) error {
	body := fiber.Map{"error": message}
	if code != "" {
		body["code"] = code
	}
	return c.Status(fiber.StatusUnauthorized).JSON(body)
}
