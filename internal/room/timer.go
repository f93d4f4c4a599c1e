package room

import (
	"time"
)

// SessionTimer is the per-room host-controlled countdown. It exists only
// while a countdown is active and is destroyed with the room. Not
// self-locking: the owning Room serializes access.
type SessionTimer struct {
	running   bool
	endAt     time.Time
	duration  time.Duration
	startedBy int64
	fire      *time.Timer
}

// TimerStatePayload timer snapshot pushed as timer:state.
type TimerStatePayload struct {
	Running    bool  `json:"running"`
	EndAt      int64 `json:"endAt,omitempty"` // unix ms, zero when idle
	DurationMs int64 `json:"durationMs,omitempty"`
	StartedBy  int64 `json:"startedBy,omitempty"`
}

// NewSessionTimer creates an idle timer.
func NewSessionTimer() *SessionTimer {
	return &SessionTimer{}
}

// Running reports whether a countdown is active.
func (t *SessionTimer) Running() bool {
	return t.running
}

// Start schedules the deferred session-end action. The caller has already
// validated ownership and duration bounds.
func (t *SessionTimer) Start(d time.Duration, startedBy int64, onExpire func()) {
	t.running = true
	t.duration = d
	t.endAt = time.Now().Add(d)
	t.startedBy = startedBy
	t.fire = time.AfterFunc(d, onExpire)
}

// Stop cancels the deferred action and returns the timer to idle. Safe to
// call when already idle.
func (t *SessionTimer) Stop() {
	if t.fire != nil {
		t.fire.Stop()
		t.fire = nil
	}
	t.running = false
	t.endAt = time.Time{}
	t.duration = 0
	t.startedBy = 0
}

// Expire marks the countdown as fired without cancelling, used from the
// AfterFunc callback itself.
func (t *SessionTimer) Expire() {
	t.fire = nil
	t.running = false
	t.endAt = time.Time{}
	t.duration = 0
	t.startedBy = 0
}

// State snapshots the timer for broadcast.
func (t *SessionTimer) State() TimerStatePayload {
	if !t.running {
		return TimerStatePayload{Running: false}
	}
	return TimerStatePayload{
		Running:    true,
		EndAt:      t.endAt.UnixMilli(),
		DurationMs: t.duration.Milliseconds(),
		StartedBy:  t.startedBy,
	}
}
