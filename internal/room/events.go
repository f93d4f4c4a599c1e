package room

import (
	"encoding/json"

	"whiteboard-backend/internal/model"
)

// =============================================================================
// Event surface - Room 단위 WebSocket 프로토콜
// =============================================================================

// Event names, client->server unless noted. element-update,
// whiteboard-clear, element-lock and cursor-position also flow back out
// as broadcasts; element-lock requests are acked individually.
const (
	EventJoinRoom        = "join-room"
	EventElementUpdate   = "element-update"
	EventWhiteboardClear = "whiteboard-clear"
	EventElementLock     = "element-lock"
	EventCursorPosition  = "cursor-position"
	EventBoardLock       = "board-lock"
	EventKickMember      = "moderation:kick"
	EventSetRole         = "moderation:set-role"
	EventTimerStart      = "timer:start"
	EventTimerStop       = "timer:stop"
	EventTimerReset      = "timer:reset"

	// server->client
	EventWhiteboardState  = "whiteboard-state"
	EventRoomPermissions  = "room-permissions"
	EventRoomMembers      = "room-members"
	EventElementLockAck   = "element-lock-ack"
	EventTimerState       = "timer:state"
	EventTimerAction      = "timer:action"
	EventPermissionDenied = "permission-denied"
	EventBoardNotFound    = "board-not-found"
	EventBoardTitle       = "board-title"
	EventKicked           = "kicked"
	EventSessionEnded     = "session:ended"
	EventUserDisconnected = "user-disconnected"
	EventServerError      = "server-error"
)

// Event is the wire envelope for every room-scoped message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// InboundEvent is the envelope as read off the socket, payload undecoded.
type InboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Conn is one client connection attached to a room. The websocket handler
// provides the production implementation; tests use a recording fake.
type Conn interface {
	UserID() int64
	Username() string
	Send(evt Event)
	Close()
}

// =============================================================================
// Payloads
// =============================================================================

// StatePayload full board snapshot, sent on join.
type StatePayload struct {
	Elements []*model.Element `json:"elements"`
	Title    string           `json:"title"`
	Locks    map[string]int64 `json:"locks"` // elementId -> holder userId
}

// MemberInfo one roster entry in a room-members snapshot.
type MemberInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
	Role     string `json:"role"`
}

// MembersPayload presence snapshot.
type MembersPayload struct {
	Members []MemberInfo `json:"members"`
}

// ElementUpdatePayload element mutation relay. Draft updates
// (isFinal=false) are relayed only; final updates are also persisted.
type ElementUpdatePayload struct {
	Element *model.Element `json:"element"`
	IsFinal bool           `json:"isFinal"`
	UserID  int64          `json:"userId,omitempty"` // set on outbound relays
}

// ClearPayload whiteboard reset relay.
type ClearPayload struct {
	IsFinal bool  `json:"isFinal"`
	UserID  int64 `json:"userId,omitempty"`
}

// LockRequest element-lock request: locked=true acquires, false releases.
type LockRequest struct {
	ElementID string `json:"elementId"`
	Locked    bool   `json:"locked"`
}

// LockAck element-lock acknowledgement to the requester only.
type LockAck struct {
	ElementID string `json:"elementId"`
	Ok        bool   `json:"ok"`
	Owner     int64  `json:"owner,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// LockBroadcast lock transition relayed to the room.
type LockBroadcast struct {
	ElementID string `json:"elementId"`
	Locked    bool   `json:"locked"`
	UserID    int64  `json:"userId,omitempty"`
}

// CursorPayload ephemeral cursor relay, never persisted.
type CursorPayload struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	UserID   int64   `json:"userId,omitempty"`
	Username string  `json:"username,omitempty"`
}

// BoardLockPayload board-wide edit freeze toggle.
type BoardLockPayload struct {
	Locked bool `json:"locked"`
}

// KickPayload moderation eviction request.
type KickPayload struct {
	TargetUserID int64 `json:"targetUserId"`
}

// SetRolePayload moderation role change request.
type SetRolePayload struct {
	TargetUserID int64  `json:"targetUserId"`
	Role         string `json:"role"`
}

// TimerStartPayload timer:start request.
type TimerStartPayload struct {
	DurationMs int64 `json:"durationMs"`
}

// TimerActionPayload action audit pushed on timer control.
type TimerActionPayload struct {
	Action string `json:"action"` // start, stop, reset
	UserID int64  `json:"userId"`
}

// DeniedPayload permission-denied notice, throttled per (user, action).
type DeniedPayload struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// TitlePayload board title broadcast.
type TitlePayload struct {
	Title string `json:"title"`
}

// SessionEndedPayload terminal room signal.
type SessionEndedPayload struct {
	Reason string `json:"reason"` // timer, deleted
}

// DisconnectPayload user-disconnected broadcast; peers use it to clear
// stale cursors even when the identity still has other connections open.
type DisconnectPayload struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Offline  bool   `json:"offline"` // true once the last connection closed
}
