package handler

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/model"
)

// UserHandler 유저 핸들러
type UserHandler struct {
	db *gorm.DB
}

// NewUserHandler UserHandler 생성
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// SearchUsersResponse 유저 검색 응답
type SearchUsersResponse struct {
	Users []UserResponse `json:"users"`
	Total int            `json:"total"`
}

// sanitizeQuery 검색어 정제 (제어문자와 LIKE 와일드카드 제거)
func sanitizeQuery(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r < 32 || r == 127:
			return -1
		case r == '%' || r == '_':
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// SearchUsers 닉네임 또는 이메일로 유저 검색.
// 게스트 계정은 초대 대상이 아니므로 결과에서 제외한다.
func (h *UserHandler) SearchUsers(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	query := sanitizeQuery(c.Query("q"))
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "search query is required",
		})
	}

	// 한글 등 멀티바이트 문자도 글자 수 기준으로 센다
	if utf8.RuneCountInString(query) < 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "search query must be at least 2 characters",
		})
	}

	searchPattern := "%" + query + "%"

	var users []model.User
	result := h.db.
		Where("id <> ?", claims.UserID).
		Where("provider IS NULL OR provider <> ?", "guest").
		Where("nickname ILIKE ? OR email ILIKE ?", searchPattern, searchPattern).
		Order("nickname ASC").
		Limit(10).
		Find(&users)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to search users",
		})
	}

	userResponses := make([]UserResponse, len(users))
	for i, user := range users {
		userResponses[i] = UserResponse{
			ID:         user.ID,
			Email:      user.Email,
			Nickname:   user.Nickname,
			ProfileImg: user.ProfileImg,
		}
	}

	return c.JSON(SearchUsersResponse{
		Users: userResponses,
		Total: len(userResponses),
	})
}
