package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"whiteboard-backend/internal/model"
)

var ErrBoardNotFound = errors.New("board not found")

// BoardStore 보드 영속성 계약 (Session Store)
//
// The room coordinator only depends on this interface; the gorm
// implementation below is the production binding.
type BoardStore interface {
	FindByRoomID(ctx context.Context, roomID string) (*model.Board, error)
	ActiveElements(ctx context.Context, boardID int64) ([]*model.Element, error)
	UpsertElement(ctx context.Context, boardID, userID int64, el *model.Element) error
	RemoveElement(ctx context.Context, boardID, userID int64, elementID string) error
	ClearElements(ctx context.Context, boardID int64) error
	SetTitle(ctx context.Context, boardID int64, title string) error
	AddMember(ctx context.Context, boardID, userID int64, role model.BoardRole) error
	SetRole(ctx context.Context, boardID, userID int64, role model.BoardRole) error
	SetLocked(ctx context.Context, boardID int64, locked bool) error
	DeleteBoard(ctx context.Context, boardID int64) error
}

// GormStore BoardStore의 gorm/postgres 구현
type GormStore struct {
	db *gorm.DB
}

// NewGormStore GormStore 생성
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// FindByRoomID loads board metadata with members (and their users) preloaded.
func (s *GormStore) FindByRoomID(ctx context.Context, roomID string) (*model.Board, error) {
	var board model.Board
	err := s.db.WithContext(ctx).
		Preload("Members").
		Preload("Members.User").
		Where("room_id = ?", roomID).
		First(&board).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBoardNotFound
		}
		return nil, err
	}
	return &board, nil
}

// ActiveElements returns the non-deleted elements in z-order (insertion order).
func (s *GormStore) ActiveElements(ctx context.Context, boardID int64) ([]*model.Element, error) {
	var rows []model.BoardElement
	err := s.db.WithContext(ctx).
		Where("board_id = ? AND is_deleted = ?", boardID, false).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	elements := make([]*model.Element, 0, len(rows))
	for i := range rows {
		el, err := model.FromRow(&rows[i])
		if err != nil {
			// Skip unparseable rows instead of failing the whole snapshot
			continue
		}
		elements = append(elements, el)
	}
	return elements, nil
}

// UpsertElement updates an element in place by (board, element id), or
// appends it when absent.
func (s *GormStore) UpsertElement(ctx context.Context, boardID, userID int64, el *model.Element) error {
	row, err := el.ToRow(boardID, userID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "board_id"}, {Name: "element_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "data", "is_deleted", "deleted_at", "deleted_by", "updated_at",
		}),
	}).Create(row).Error
}

// RemoveElement soft-deletes an element, keeping the tombstone row.
func (s *GormStore) RemoveElement(ctx context.Context, boardID, userID int64, elementID string) error {
	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&model.BoardElement{}).
		Where("board_id = ? AND element_id = ?", boardID, elementID).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"deleted_at": now,
			"deleted_by": userID,
		}).Error
}

// ClearElements hard-removes every element row for the board.
func (s *GormStore) ClearElements(ctx context.Context, boardID int64) error {
	return s.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Delete(&model.BoardElement{}).Error
}

// SetTitle persists a board title change.
func (s *GormStore) SetTitle(ctx context.Context, boardID int64, title string) error {
	return s.db.WithContext(ctx).
		Model(&model.Board{}).
		Where("id = ?", boardID).
		Update("title", title).Error
}

// AddMember records a membership with its initial role. Re-adding an
// existing member is a no-op (rejoin keeps the prior role).
func (s *GormStore) AddMember(ctx context.Context, boardID, userID int64, role model.BoardRole) error {
	member := &model.BoardMember{
		BoardID: boardID,
		UserID:  userID,
		Role:    role.String(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "board_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(member).Error
}

// SetRole persists a role change for an existing member.
func (s *GormStore) SetRole(ctx context.Context, boardID, userID int64, role model.BoardRole) error {
	return s.db.WithContext(ctx).
		Model(&model.BoardMember{}).
		Where("board_id = ? AND user_id = ?", boardID, userID).
		Update("role", role.String()).Error
}

// SetLocked persists the board-wide edit freeze flag.
func (s *GormStore) SetLocked(ctx context.Context, boardID int64, locked bool) error {
	return s.db.WithContext(ctx).
		Model(&model.Board{}).
		Where("id = ?", boardID).
		Update("locked", locked).Error
}

// DeleteBoard removes the board and its dependent rows.
func (s *GormStore) DeleteBoard(ctx context.Context, boardID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("board_id = ?", boardID).Delete(&model.BoardElement{}).Error; err != nil {
			return err
		}
		if err := tx.Where("board_id = ?", boardID).Delete(&model.BoardMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("board_id = ?", boardID).Delete(&model.ChatLog{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Board{}, boardID).Error
	})
}
