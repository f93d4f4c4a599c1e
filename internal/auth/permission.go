package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

var ErrNoClaims = errors.New("no authenticated claims in context")

// GetClaimsFromContext 컨텍스트에서 인증 클레임 조회
func GetClaimsFromContext(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok || claims == nil {
		return nil, ErrNoClaims
	}
	return claims, nil
}

// GetUserIDFromContext 컨텍스트에서 사용자 ID 조회
func GetUserIDFromContext(c *fiber.Ctx) (int64, error) {
	claims, err := GetClaimsFromContext(c)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}
