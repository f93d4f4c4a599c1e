package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/cache"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/store"
)

// BoardHandler 보드 핸들러
type BoardHandler struct {
	db         *gorm.DB
	store      store.BoardStore
	hub        *room.Hub
	chatCache  *cache.ChatCache
	globalPres *presence.Manager
}

// NewBoardHandler BoardHandler 생성
func NewBoardHandler(db *gorm.DB, st store.BoardStore, hub *room.Hub, chatCache *cache.ChatCache, globalPres *presence.Manager) *BoardHandler {
	return &BoardHandler{db: db, store: st, hub: hub, chatCache: chatCache, globalPres: globalPres}
}

// CreateBoardRequest 보드 생성 요청
type CreateBoardRequest struct {
	Title string `json:"title"`
}

// RenameBoardRequest 보드 이름 변경 요청
type RenameBoardRequest struct {
	Title string `json:"title"`
}

// BoardResponse 보드 응답
type BoardResponse struct {
	ID        int64                 `json:"id"`
	RoomID    string                `json:"room_id"`
	Title     string                `json:"title"`
	CreatedBy int64                 `json:"created_by"`
	Locked    bool                  `json:"locked"`
	MyRole    string                `json:"my_role,omitempty"`
	CreatedAt string                `json:"created_at"`
	UpdatedAt string                `json:"updated_at"`
	Members   []BoardMemberResponse `json:"members,omitempty"`
}

// BoardMemberResponse 보드 멤버 응답
type BoardMemberResponse struct {
	UserID   int64         `json:"user_id"`
	Role     string        `json:"role"`
	Online   bool          `json:"online"`
	JoinedAt string        `json:"joined_at"`
	User     *UserResponse `json:"user,omitempty"`
}

// sanitizeTitle 제목에서 제어문자 제거
func sanitizeTitle(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s))
}

// CreateBoard 보드 생성 (생성자가 OWNER 멤버로 등록됨)
func (h *BoardHandler) CreateBoard(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var req CreateBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled board"
	}
	if len(title) > 200 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title must be at most 200 characters",
		})
	}
	title = sanitizeTitle(title)

	// 트랜잭션으로 보드 + OWNER 멤버 생성
	var board model.Board
	err = h.db.Transaction(func(tx *gorm.DB) error {
		board = model.Board{
			RoomID:    uuid.New().String(),
			Title:     title,
			CreatedBy: claims.UserID,
		}
		if err := tx.Create(&board).Error; err != nil {
			return err
		}

		ownerMember := model.BoardMember{
			BoardID: board.ID,
			UserID:  claims.UserID,
			Role:    string(model.RoleOwner),
		}
		return tx.Create(&ownerMember).Error
	})

	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create board",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(BoardResponse{
		ID:        board.ID,
		RoomID:    board.RoomID,
		Title:     board.Title,
		CreatedBy: board.CreatedBy,
		Locked:    board.Locked,
		MyRole:    string(model.RoleOwner),
		CreatedAt: board.CreatedAt.Format(time.RFC3339),
		UpdatedAt: board.UpdatedAt.Format(time.RFC3339),
	})
}

// GetMyBoards 내가 멤버인 보드 목록
func (h *BoardHandler) GetMyBoards(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var boards []model.Board
	if err := h.db.
		Joins("JOIN board_members ON board_members.board_id = boards.id").
		Where("board_members.user_id = ?", claims.UserID).
		Order("boards.updated_at DESC").
		Find(&boards).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get boards",
		})
	}

	// 내 역할 일괄 조회
	var memberships []model.BoardMember
	h.db.Where("user_id = ?", claims.UserID).Find(&memberships)
	roleByBoard := make(map[int64]string, len(memberships))
	for _, m := range memberships {
		roleByBoard[m.BoardID] = m.Role
	}

	responses := make([]BoardResponse, len(boards))
	for i, b := range boards {
		myRole := roleByBoard[b.ID]
		if b.CreatedBy == claims.UserID {
			myRole = string(model.RoleOwner)
		}
		responses[i] = BoardResponse{
			ID:        b.ID,
			RoomID:    b.RoomID,
			Title:     b.Title,
			CreatedBy: b.CreatedBy,
			Locked:    b.Locked,
			MyRole:    myRole,
			CreatedAt: b.CreatedAt.Format(time.RFC3339),
			UpdatedAt: b.UpdatedAt.Format(time.RFC3339),
		}
	}

	return c.JSON(fiber.Map{
		"boards": responses,
		"total":  len(responses),
	})
}

// GetBoard 보드 메타 조회 (멤버 목록 + 전역 온라인 상태 포함)
func (h *BoardHandler) GetBoard(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	board, fail := h.findBoard(c)
	if board == nil {
		return fail
	}

	myRole := ""
	memberIDs := make([]int64, 0, len(board.Members))
	for _, m := range board.Members {
		memberIDs = append(memberIDs, m.UserID)
		if m.UserID == claims.UserID {
			myRole = m.Role
		}
	}
	if board.CreatedBy == claims.UserID {
		myRole = string(model.RoleOwner)
	}

	// 전역 온라인 상태 조회 (실패해도 응답은 내려감)
	online := map[int64]*presence.PresenceData{}
	if h.globalPres != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if data, err := h.globalPres.GetMultiPresence(ctx, memberIDs); err == nil {
			online = data
		}
	}

	members := make([]BoardMemberResponse, len(board.Members))
	for i, m := range board.Members {
		role := m.Role
		if m.UserID == board.CreatedBy {
			role = string(model.RoleOwner)
		}
		members[i] = BoardMemberResponse{
			UserID:   m.UserID,
			Role:     role,
			Online:   online[m.UserID] != nil,
			JoinedAt: m.JoinedAt.Format(time.RFC3339),
			User: &UserResponse{
				ID:         m.User.ID,
				Email:      m.User.Email,
				Nickname:   m.User.Nickname,
				ProfileImg: m.User.ProfileImg,
			},
		}
	}

	return c.JSON(BoardResponse{
		ID:        board.ID,
		RoomID:    board.RoomID,
		Title:     board.Title,
		CreatedBy: board.CreatedBy,
		Locked:    board.Locked,
		MyRole:    myRole,
		CreatedAt: board.CreatedAt.Format(time.RFC3339),
		UpdatedAt: board.UpdatedAt.Format(time.RFC3339),
		Members:   members,
	})
}

// RenameBoard 보드 이름 변경 (인증만 요구, 라이브 세션에 board-title 브로드캐스트)
func (h *BoardHandler) RenameBoard(c *fiber.Ctx) error {
	if _, err := auth.GetClaimsFromContext(c); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	var req RenameBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	title := sanitizeTitle(req.Title)
	if title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}
	if len(title) > 200 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title must be at most 200 characters",
		})
	}

	board, fail := h.findBoard(c)
	if board == nil {
		return fail
	}

	if err := h.store.SetTitle(c.Context(), board.ID, title); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to rename board",
		})
	}

	// 라이브 세션이 있으면 즉시 반영
	h.hub.BroadcastTitle(board.RoomID, title)

	return c.JSON(fiber.Map{
		"room_id": board.RoomID,
		"title":   title,
	})
}

// DeleteBoard 보드 삭제 (OWNER 전용, 라이브 세션 강제 종료 후 행 삭제)
func (h *BoardHandler) DeleteBoard(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication required",
		})
	}

	board, fail := h.findBoard(c)
	if board == nil {
		return fail
	}

	if board.CreatedBy != claims.UserID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "only the board owner can delete it",
		})
	}

	// 세션 먼저 종료해야 삭제 후 쓰기가 남지 않는다
	h.hub.EvictBoard(board.RoomID, "deleted")

	if err := h.store.DeleteBoard(c.Context(), board.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete board",
		})
	}

	if h.chatCache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.chatCache.DeleteRoom(ctx, board.RoomID)
	}

	return c.JSON(fiber.Map{
		"message": "board deleted",
	})
}

// findBoard roomId 파라미터로 보드 조회 (멤버 preload 포함)
func (h *BoardHandler) findBoard(c *fiber.Ctx) (*model.Board, error) {
	roomID := c.Params("roomId")
	if roomID == "" {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "room id is required",
		})
	}

	board, err := h.store.FindByRoomID(c.Context(), roomID)
	if err == store.ErrBoardNotFound {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "board not found",
		})
	}
	if err != nil {
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}
	return board, nil
}
