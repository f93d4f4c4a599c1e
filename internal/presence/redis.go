package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceStatus 상태 상수
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "ONLINE"
	StatusIdle    PresenceStatus = "IDLE"
	StatusOffline PresenceStatus = "OFFLINE"
)

// 60초 TTL (Heartbeat는 30초마다)
const presenceTTL = 60 * time.Second

// PresenceData Redis에 저장될 상태 데이터
type PresenceData struct {
	UserID        int64          `json:"user_id"`
	Status        PresenceStatus `json:"status"`
	LastHeartbeat int64          `json:"last_heartbeat"`
	ServerID      string         `json:"server_id"` // 멀티 서버 확장 대비
}

// Manager 전역 온라인 상태 관리자. 방 단위 presence와 별개로
// 프로필/보드 목록 화면에서 쓰는 서버 간 공유 상태를 담당한다.
type Manager struct {
	client   *redis.Client
	serverID string
}

// NewManager 생성자 (공유 Redis 클라이언트 주입)
func NewManager(client *redis.Client, serverID string) *Manager {
	return &Manager{client: client, serverID: serverID}
}

// Key 생성 유틸
func (m *Manager) getUserKey(userID int64) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

// SetOnline 접속 상태 기록 (Connect)
func (m *Manager) SetOnline(ctx context.Context, userID int64) error {
	return m.setStatus(ctx, userID, StatusOnline)
}

// setStatus 상태 업데이트
func (m *Manager) setStatus(ctx context.Context, userID int64, status PresenceStatus) error {
	data := PresenceData{
		UserID:        userID,
		Status:        status,
		LastHeartbeat: time.Now().Unix(),
		ServerID:      m.serverID,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if err := m.client.Set(ctx, m.getUserKey(userID), jsonData, presenceTTL).Err(); err != nil {
		return err
	}
	return m.publish(ctx, data)
}

// UpdateHeartbeat 생존 신고 (TTL 연장)
func (m *Manager) UpdateHeartbeat(ctx context.Context, userID int64) error {
	// 값 덮어쓰기가 아니라 TTL만 늘려야 하므로 Expire 사용
	result, err := m.client.Expire(ctx, m.getUserKey(userID), presenceTTL).Result()
	if err != nil {
		return err
	}
	if !result {
		return fmt.Errorf("user %d not found (offline)", userID)
	}
	return nil
}

// SetOffline 상태 삭제 (Disconnect)
func (m *Manager) SetOffline(ctx context.Context, userID int64) error {
	if err := m.client.Del(ctx, m.getUserKey(userID)).Err(); err != nil {
		return err
	}
	return m.publish(ctx, PresenceData{
		UserID:        userID,
		Status:        StatusOffline,
		LastHeartbeat: time.Now().Unix(),
		ServerID:      m.serverID,
	})
}

// GetPresence 상태 조회
func (m *Manager) GetPresence(ctx context.Context, userID int64) (*PresenceData, error) {
	val, err := m.client.Get(ctx, m.getUserKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil // Offline
	}
	if err != nil {
		return nil, err
	}

	var data PresenceData
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetMultiPresence 여러 유저 상태 조회 (보드 멤버 목록 조회용)
func (m *Manager) GetMultiPresence(ctx context.Context, userIDs []int64) (map[int64]*PresenceData, error) {
	if len(userIDs) == 0 {
		return map[int64]*PresenceData{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = m.getUserKey(id)
	}

	// MGET으로 한 번에 조회
	results, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	presenceMap := make(map[int64]*PresenceData)
	for i, result := range results {
		if result == nil {
			continue // Offline
		}

		strVal, ok := result.(string)
		if !ok {
			continue
		}

		var data PresenceData
		if err := json.Unmarshal([]byte(strVal), &data); err == nil {
			presenceMap[userIDs[i]] = &data
		}
	}

	return presenceMap, nil
}

// publish 상태 변경 이벤트 발행
func (m *Manager) publish(ctx context.Context, data PresenceData) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, "presence_updates", jsonData).Err()
}

// SubscribePresence 상태 변경 이벤트 구독 (채널 반환)
func (m *Manager) SubscribePresence(ctx context.Context) *redis.PubSub {
	return m.client.Subscribe(ctx, "presence_updates")
}
