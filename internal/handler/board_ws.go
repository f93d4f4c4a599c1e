package handler

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/store"
)

// BoardWSHandler 보드 WebSocket 게이트웨이. 소켓 수명과 JSON 디코딩만
// 담당하고 모든 세션 의미론은 room 패키지에 위임한다.
type BoardWSHandler struct {
	hub          *room.Hub
	globalPres   *presence.Manager
	writeTimeout time.Duration
}

// NewBoardWSHandler BoardWSHandler 생성
func NewBoardWSHandler(hub *room.Hub, globalPres *presence.Manager, writeTimeout time.Duration) *BoardWSHandler {
	return &BoardWSHandler{
		hub:          hub,
		globalPres:   globalPres,
		writeTimeout: writeTimeout,
	}
}

// joinPayload 최초 join-room 메시지
type joinPayload struct {
	RoomID string `json:"roomId"`
}

// wsConn room.Conn 구현. writeMu로 동시 쓰기 직렬화.
type wsConn struct {
	conn         *websocket.Conn
	userID       int64
	username     string
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (w *wsConn) UserID() int64    { return w.userID }
func (w *wsConn) Username() string { return w.username }

func (w *wsConn) Send(evt room.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[BoardWS] failed to marshal %s event: %v", evt.Type, err)
		return
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[BoardWS] failed to send %s to user %d: %v", evt.Type, w.userID, err)
	}
}

func (w *wsConn) Close() {
	w.conn.Close()
}

// HandleWebSocket 연결 처리. 업그레이드 게이트에서 검증한 신원은
// Locals로 전달된다. 첫 메시지는 join-room이어야 한다.
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	userID, ok1 := c.Locals("userId").(int64)
	nickname, ok2 := c.Locals("nickname").(string)
	if !ok1 || !ok2 {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"server-error","payload":{"message":"invalid session"}}`))
		c.Close()
		return
	}

	wc := &wsConn{
		conn:         c,
		userID:       userID,
		username:     nickname,
		writeTimeout: h.writeTimeout,
	}

	// 첫 메시지로 방 식별
	c.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msgBytes, err := c.ReadMessage()
	if err != nil {
		c.Close()
		return
	}
	c.SetReadDeadline(time.Time{})

	var first room.InboundEvent
	if err := json.Unmarshal(msgBytes, &first); err != nil || first.Type != room.EventJoinRoom {
		wc.Send(room.Event{Type: room.EventServerError, Payload: room.DeniedPayload{
			Message: "expected join-room",
		}})
		c.Close()
		return
	}

	var join joinPayload
	if err := json.Unmarshal(first.Payload, &join); err != nil || join.RoomID == "" {
		wc.Send(room.Event{Type: room.EventServerError, Payload: room.DeniedPayload{
			Message: "roomId is required",
		}})
		c.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	r, err := h.hub.Join(ctx, join.RoomID, wc)
	cancel()
	if err != nil {
		if err == store.ErrBoardNotFound {
			wc.Send(room.Event{Type: room.EventBoardNotFound, Payload: room.DeniedPayload{
				Message: "board not found",
			}})
		} else {
			log.Printf("[BoardWS] join failed for user %d room %s: %v", userID, join.RoomID, err)
			wc.Send(room.Event{Type: room.EventServerError, Payload: room.DeniedPayload{
				Message: "failed to join room",
			}})
		}
		c.Close()
		return
	}

	// 전역 온라인 상태 (best-effort)
	if h.globalPres != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := h.globalPres.SetOnline(ctx, userID); err != nil {
				log.Printf("[BoardWS] failed to set global presence for user %d: %v", userID, err)
			}
		}()
	}

	defer func() {
		r.Leave(wc)
		c.Close()
		if h.globalPres != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			h.globalPres.SetOffline(ctx, userID)
		}
	}()

	// 메시지 수신 루프
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}

		var evt room.InboundEvent
		if err := json.Unmarshal(msgBytes, &evt); err != nil {
			continue
		}

		if evt.Type == "heartbeat" {
			if h.globalPres != nil {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					h.globalPres.UpdateHeartbeat(ctx, userID)
				}()
			}
			continue
		}

		r.HandleEvent(wc, evt)
	}
}
