package handler

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gofiber/contrib/websocket"
	"gorm.io/gorm"

	"whiteboard-backend/internal/cache"
	"whiteboard-backend/internal/model"
)

const maxChatMessageBytes = 2000

// truncateUTF8 바이트 한도로 자르되 멀티바이트 문자 중간에서 끊지 않는다.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// ChatWSHandler 보드 채팅 WebSocket 핸들러. 화이트보드 세션과 독립된
// 사이드 채널로, 메시지는 DB에 영속되고 최근 내역은 Redis에 캐시된다.
type ChatWSHandler struct {
	db        *gorm.DB
	chatCache *cache.ChatCache
	rooms     map[string]*ChatRoom // roomID -> ChatRoom
	mu        sync.RWMutex
}

// ChatRoom 채팅방
type ChatRoom struct {
	clients map[*websocket.Conn]*ChatClient
	mu      sync.RWMutex
}

// ChatClient 채팅 클라이언트
type ChatClient struct {
	UserID   int64
	Nickname string
	Conn     *websocket.Conn
	writeMu  sync.Mutex
}

// WSMessage WebSocket 메시지
type WSMessage struct {
	Type    string      `json:"type"` // message, history, typing, stop_typing
	Payload interface{} `json:"payload,omitempty"`
}

// ChatPayload 채팅 메시지 페이로드
type ChatPayload struct {
	ID        int64  `json:"id,omitempty"`
	Message   string `json:"message"`
	SenderID  int64  `json:"sender_id"`
	Nickname  string `json:"nickname"`
	CreatedAt string `json:"created_at,omitempty"`
}

// TypingPayload 타이핑 페이로드
type TypingPayload struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// NewChatWSHandler ChatWSHandler 생성
func NewChatWSHandler(db *gorm.DB, chatCache *cache.ChatCache) *ChatWSHandler {
	return &ChatWSHandler{
		db:        db,
		chatCache: chatCache,
		rooms:     make(map[string]*ChatRoom),
	}
}

// getOrCreateRoom 채팅방 조회 또는 생성
func (h *ChatWSHandler) getOrCreateRoom(roomID string) *ChatRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[roomID]; ok {
		return room
	}

	room := &ChatRoom{
		clients: make(map[*websocket.Conn]*ChatClient),
	}
	h.rooms[roomID] = room
	return room
}

// removeIfEmpty 빈 채팅방 정리
func (h *ChatWSHandler) removeIfEmpty(roomID string, room *ChatRoom) {
	room.mu.RLock()
	empty := len(room.clients) == 0
	room.mu.RUnlock()
	if !empty {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.rooms[roomID]; ok && current == room {
		room.mu.RLock()
		stillEmpty := len(current.clients) == 0
		room.mu.RUnlock()
		if stillEmpty {
			delete(h.rooms, roomID)
		}
	}
}

// HandleWebSocket WebSocket 연결 처리
func (h *ChatWSHandler) HandleWebSocket(c *websocket.Conn) {
	// 업그레이드 게이트에서 검증한 값 (안전한 타입 변환)
	roomID, ok1 := c.Locals("roomId").(string)
	boardID, ok2 := c.Locals("boardId").(int64)
	userID, ok3 := c.Locals("userId").(int64)
	nickname, ok4 := c.Locals("nickname").(string)

	if !ok1 || !ok2 || !ok3 || !ok4 {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"invalid session"}`))
		c.Close()
		return
	}

	room := h.getOrCreateRoom(roomID)

	client := &ChatClient{
		UserID:   userID,
		Nickname: nickname,
		Conn:     c,
	}

	// 클라이언트 등록
	room.mu.Lock()
	room.clients[c] = client
	room.mu.Unlock()

	log.Printf("[Chat %s] client connected: user=%d", roomID, userID)

	// 연결 해제 시 정리
	defer func() {
		room.mu.Lock()
		delete(room.clients, c)
		room.mu.Unlock()
		c.Close()
		h.removeIfEmpty(roomID, room)
		log.Printf("[Chat %s] client disconnected: user=%d", roomID, userID)
	}()

	// 최근 내역 전송 (Redis 캐시, best-effort)
	h.sendHistory(client, roomID)

	// 메시지 수신 루프
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "message":
			h.handleMessage(room, client, roomID, boardID, msg.Payload)
		case "typing":
			h.broadcastTyping(room, client, true)
		case "stop_typing":
			h.broadcastTyping(room, client, false)
		}
	}
}

// sendHistory 접속 직후 최근 메시지 내역 전송
func (h *ChatWSHandler) sendHistory(client *ChatClient, roomID string) {
	if h.chatCache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	recent, err := h.chatCache.GetRecentMessages(ctx, roomID, 50)
	if err != nil {
		log.Printf("[Chat %s] failed to load history: %v", roomID, err)
		return
	}

	payloads := make([]ChatPayload, len(recent))
	for i, m := range recent {
		payloads[i] = ChatPayload{
			ID:        m.ID,
			Message:   m.Message,
			SenderID:  m.SenderID,
			Nickname:  m.Nickname,
			CreatedAt: m.Timestamp.Format(time.RFC3339),
		}
	}

	h.sendTo(client, WSMessage{Type: "history", Payload: payloads})
}

// handleMessage 메시지 처리 (DB 영속 + 캐시 + 브로드캐스트)
func (h *ChatWSHandler) handleMessage(room *ChatRoom, client *ChatClient, roomID string, boardID int64, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	var chatPayload ChatPayload
	if err := json.Unmarshal(payloadBytes, &chatPayload); err != nil {
		return
	}

	if chatPayload.Message == "" {
		return
	}

	// 메시지 길이 제한
	chatPayload.Message = truncateUTF8(chatPayload.Message, maxChatMessageBytes)

	// DB에 저장
	message := chatPayload.Message
	chatLog := model.ChatLog{
		BoardID:  boardID,
		SenderID: &client.UserID,
		Message:  &message,
		Type:     "TEXT",
	}

	if err := h.db.Create(&chatLog).Error; err != nil {
		log.Printf("[Chat %s] failed to persist message: %v", roomID, err)
		return
	}

	// Redis 캐시 갱신 (best-effort)
	if h.chatCache != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			h.chatCache.AddMessage(ctx, roomID, &cache.ChatMessage{
				ID:       chatLog.ID,
				RoomID:   roomID,
				SenderID: client.UserID,
				Nickname: client.Nickname,
				Message:  message,
				Type:     "TEXT",
			})
		}()
	}

	// 브로드캐스트 메시지 생성
	broadcastMsg := WSMessage{
		Type: "message",
		Payload: ChatPayload{
			ID:        chatLog.ID,
			Message:   message,
			SenderID:  client.UserID,
			Nickname:  client.Nickname,
			CreatedAt: chatLog.CreatedAt.Format(time.RFC3339),
		},
	}

	h.broadcast(room, broadcastMsg)
}

// broadcastTyping 타이핑 상태 브로드캐스트
func (h *ChatWSHandler) broadcastTyping(room *ChatRoom, client *ChatClient, isTyping bool) {
	msgType := "typing"
	if !isTyping {
		msgType = "stop_typing"
	}

	msg := WSMessage{
		Type: msgType,
		Payload: TypingPayload{
			UserID:   client.UserID,
			Nickname: client.Nickname,
		},
	}

	// 자신을 제외한 모든 클라이언트에게 브로드캐스트
	room.mu.RLock()
	clients := make([]*ChatClient, 0, len(room.clients))
	for _, c := range room.clients {
		if c.UserID != client.UserID {
			clients = append(clients, c)
		}
	}
	room.mu.RUnlock()

	for _, c := range clients {
		h.sendTo(c, msg)
	}
}

// broadcast 모든 클라이언트에게 메시지 전송
func (h *ChatWSHandler) broadcast(room *ChatRoom, msg WSMessage) {
	room.mu.RLock()
	clients := make([]*ChatClient, 0, len(room.clients))
	for _, c := range room.clients {
		clients = append(clients, c)
	}
	room.mu.RUnlock()

	for _, c := range clients {
		h.sendTo(c, msg)
	}
}

// sendTo 단일 클라이언트 전송 (writeMu로 직렬화)
func (h *ChatWSHandler) sendTo(client *ChatClient, msg WSMessage) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	if err := client.Conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
		log.Printf("[Chat] failed to send to user %d: %v", client.UserID, err)
	}
}
