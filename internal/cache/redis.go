package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChatMessage 보드 채팅 캐시 엔트리
type ChatMessage struct {
	ID        int64     `json:"id,omitempty"`
	RoomID    string    `json:"roomId"`
	SenderID  int64     `json:"senderId"`
	Nickname  string    `json:"nickname"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// 최근 메시지 보관 한도. DB가 원본이고 캐시는 재접속 시 빠른 미리보기용.
const historyLimit = 200

// ChatCache 보드별 최근 채팅을 Redis 리스트로 보관
type ChatCache struct {
	client *redis.Client
}

// NewChatCache 생성자 (공유 Redis 클라이언트 주입)
func NewChatCache(client *redis.Client) *ChatCache {
	return &ChatCache{client: client}
}

func chatKey(roomID string) string {
	return "board:" + roomID + ":chat"
}

// AddMessage 메시지 추가 (리스트 꼬리에 append, 한도 초과분 트림)
func (c *ChatCache) AddMessage(ctx context.Context, roomID string, msg *ChatMessage) error {
	key := chatKey(roomID)
	msg.Timestamp = time.Now()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pipe := c.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -historyLimit, -1)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Cache] failed to append chat message: %v", err)
		return err
	}
	return nil
}

// GetRecentMessages 최근 N개 메시지 조회
func (c *ChatCache) GetRecentMessages(ctx context.Context, roomID string, count int64) ([]ChatMessage, error) {
	results, err := c.client.LRange(ctx, chatKey(roomID), -count, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]ChatMessage, 0, len(results))
	for _, data := range results {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// DeleteRoom 보드 삭제 시 캐시 정리
func (c *ChatCache) DeleteRoom(ctx context.Context, roomID string) error {
	return c.client.Del(ctx, chatKey(roomID)).Err()
}

// Health Redis 연결 확인
func (c *ChatCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
