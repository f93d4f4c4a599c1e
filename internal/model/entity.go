package model

import (
	"time"
)

// User 사용자
type User struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Nickname   string    `gorm:"type:varchar(100);not null" json:"nickname"`
	ProfileImg *string   `gorm:"type:text" json:"profile_img,omitempty"`
	Provider   *string   `gorm:"type:varchar(50)" json:"provider,omitempty"`
	ProviderID *string   `gorm:"type:varchar(255)" json:"provider_id,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Boards []BoardMember `gorm:"foreignKey:UserID" json:"boards,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Board 화이트보드
type Board struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID        string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"room_id"`
	Title         string    `gorm:"type:varchar(200);not null;default:'Untitled board'" json:"title"`
	CreatedBy     int64     `gorm:"not null" json:"created_by"`
	Locked        bool      `gorm:"default:false" json:"locked"`
	SchemaVersion int       `gorm:"default:1" json:"schema_version"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Creator  User           `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	Members  []BoardMember  `gorm:"foreignKey:BoardID" json:"members,omitempty"`
	Elements []BoardElement `gorm:"foreignKey:BoardID" json:"elements,omitempty"`
}

func (Board) TableName() string {
	return "boards"
}

// BoardMember 보드 멤버십 및 역할
type BoardMember struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BoardID  int64     `gorm:"not null;uniqueIndex:idx_board_user" json:"board_id"`
	UserID   int64     `gorm:"not null;uniqueIndex:idx_board_user" json:"user_id"`
	Role     string    `gorm:"type:varchar(20);not null;default:'VIEWER'" json:"role"` // OWNER, EDITOR, VIEWER
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`

	// Relations
	Board Board `gorm:"foreignKey:BoardID" json:"board,omitempty"`
	User  User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (BoardMember) TableName() string {
	return "board_members"
}

// BoardElement 보드 요소 (영속 레코드)
//
// ElementID is the caller-generated token; insertion order (row id ASC) is the
// z-order. Deleted elements stay as tombstone rows so lock bookkeeping can
// still address them; only an explicit clear removes rows.
type BoardElement struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	BoardID   int64      `gorm:"not null;uniqueIndex:idx_board_element" json:"board_id"`
	ElementID string     `gorm:"type:varchar(100);not null;uniqueIndex:idx_board_element" json:"element_id"`
	Kind      string     `gorm:"type:varchar(20);not null" json:"kind"`
	Data      string     `gorm:"type:jsonb;not null" json:"data"`
	CreatedBy int64      `gorm:"not null" json:"created_by"`
	IsDeleted bool       `gorm:"default:false" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *int64     `json:"deleted_by,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Board Board `gorm:"foreignKey:BoardID" json:"board,omitempty"`
}

func (BoardElement) TableName() string {
	return "board_elements"
}

// ChatLog 보드 채팅 로그
type ChatLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BoardID   int64     `gorm:"not null;index" json:"board_id"`
	SenderID  *int64    `json:"sender_id,omitempty"`
	Message   *string   `gorm:"type:text" json:"message,omitempty"`
	Type      string    `gorm:"type:varchar(20);default:'TEXT'" json:"type"` // TEXT, SYSTEM
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Board  Board `gorm:"foreignKey:BoardID" json:"board,omitempty"`
	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (ChatLog) TableName() string {
	return "chat_logs"
}
