package handler

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	lkauth "github.com/livekit/protocol/auth"
	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/model"
)

// VoiceHandler 보드 음성 채널 토큰 발급 핸들러
type VoiceHandler struct {
	cfg *config.Config
	db  *gorm.DB
}

// NewVoiceHandler VoiceHandler 생성
func NewVoiceHandler(cfg *config.Config, db *gorm.DB) *VoiceHandler {
	return &VoiceHandler{cfg: cfg, db: db}
}

// VoiceTokenRequest 음성 토큰 요청
type VoiceTokenRequest struct {
	RoomID string `json:"roomId"`
}

// VoiceTokenResponse 음성 토큰 응답
type VoiceTokenResponse struct {
	Token string `json:"token"`
	Host  string `json:"host"`
	Room  string `json:"room"`
}

// GenerateToken 보드 음성방 LiveKit 토큰 발급 (보드 멤버만)
func (h *VoiceHandler) GenerateToken(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var req VoiceTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.RoomID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "roomId is required",
		})
	}

	var board model.Board
	if err := h.db.Where("room_id = ?", req.RoomID).First(&board).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "board not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	// 멤버 확인 (생성자는 멤버 행 없이도 통과)
	if board.CreatedBy != claims.UserID {
		var count int64
		h.db.Model(&model.BoardMember{}).
			Where("board_id = ? AND user_id = ?", board.ID, claims.UserID).
			Count(&count)
		if count == 0 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "not a board member",
			})
		}
	}

	voiceRoom := "board-" + board.RoomID

	at := lkauth.NewAccessToken(h.cfg.LiveKit.APIKey, h.cfg.LiveKit.APISecret)
	grant := &lkauth.VideoGrant{
		RoomJoin: true,
		Room:     voiceRoom,
	}
	at.AddGrant(grant).
		SetIdentity(fmt.Sprintf("%d", claims.UserID)).
		SetName(claims.Nickname).
		SetValidFor(time.Hour * 24)

	token, err := at.ToJWT()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	return c.JSON(VoiceTokenResponse{
		Token: token,
		Host:  h.cfg.LiveKit.Host,
		Room:  voiceRoom,
	})
}
