package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/store"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeConn records every event sent to it.
type fakeConn struct {
	userID   int64
	username string

	mu     sync.Mutex
	events []Event
	closed bool
}

func newFakeConn(userID int64, username string) *fakeConn {
	return &fakeConn{userID: userID, username: username}
}

func (c *fakeConn) UserID() int64    { return c.userID }
func (c *fakeConn) Username() string { return c.username }

func (c *fakeConn) Send(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) recorded() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) countType(eventType string) int {
	n := 0
	for _, evt := range c.recorded() {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

func (c *fakeConn) lastOfType(eventType string) (Event, bool) {
	events := c.recorded()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == eventType {
			return events[i], true
		}
	}
	return Event{}, false
}

// fakeStore is an in-memory BoardStore recording writes.
type fakeStore struct {
	mu           sync.Mutex
	board        *model.Board
	elements     map[string]*model.Element
	members      map[int64]model.BoardRole
	cleared      int
	locked       *bool
	roles        map[int64]model.BoardRole
	removed      []string
	failElements bool

	// writes records the X2 of each upserted element in arrival order;
	// beforeUpsert lets a test delay individual writes.
	writes       []float64
	beforeUpsert func(el *model.Element)
}

func newFakeStore(board *model.Board) *fakeStore {
	members := make(map[int64]model.BoardRole)
	for _, m := range board.Members {
		members[m.UserID] = model.BoardRole(m.Role)
	}
	return &fakeStore{
		board:    board,
		elements: make(map[string]*model.Element),
		members:  members,
		roles:    make(map[int64]model.BoardRole),
	}
}

func (s *fakeStore) FindByRoomID(_ context.Context, roomID string) (*model.Board, error) {
	if roomID != s.board.RoomID {
		return nil, store.ErrBoardNotFound
	}
	return s.board, nil
}

func (s *fakeStore) ActiveElements(_ context.Context, _ int64) ([]*model.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failElements {
		return nil, fmt.Errorf("elements table unavailable")
	}
	out := make([]*model.Element, 0, len(s.elements))
	for _, el := range s.elements {
		if !el.IsDeleted {
			out = append(out, el)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertElement(_ context.Context, _, _ int64, el *model.Element) error {
	if s.beforeUpsert != nil {
		s.beforeUpsert(el)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[el.ID] = el
	s.writes = append(s.writes, el.X2)
	return nil
}

func (s *fakeStore) RemoveElement(_ context.Context, _, _ int64, elementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, elementID)
	delete(s.elements, elementID)
	return nil
}

func (s *fakeStore) ClearElements(_ context.Context, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	s.elements = make(map[string]*model.Element)
	return nil
}

func (s *fakeStore) SetTitle(_ context.Context, _ int64, _ string) error { return nil }

func (s *fakeStore) AddMember(_ context.Context, _, userID int64, role model.BoardRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[userID] = role
	return nil
}

func (s *fakeStore) SetRole(_ context.Context, _, userID int64, role model.BoardRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = role
	return nil
}

func (s *fakeStore) SetLocked(_ context.Context, _ int64, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = &locked
	return nil
}

func (s *fakeStore) DeleteBoard(_ context.Context, _ int64) error { return nil }

// =============================================================================
// Helpers
// =============================================================================

const testRoomID = "room-1"

func testBoard() *model.Board {
	return &model.Board{
		ID:        1,
		RoomID:    testRoomID,
		Title:     "retro board",
		CreatedBy: 1,
		Members: []model.BoardMember{
			{BoardID: 1, UserID: 1, Role: "OWNER", User: model.User{ID: 1, Nickname: "owner"}},
			{BoardID: 1, UserID: 2, Role: "EDITOR", User: model.User{ID: 2, Nickname: "editor"}},
			{BoardID: 1, UserID: 3, Role: "VIEWER", User: model.User{ID: 3, Nickname: "viewer"}},
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	// Keep the background sweep out of the way unless a test wants it, and
	// turn off denial throttling so every rejection is observable.
	cfg.DenyInterval = 0
	cfg.LockSweepInterval = time.Hour
	cfg.LockIdleTimeout = time.Hour
	cfg.TimerMinDuration = 20 * time.Millisecond
	cfg.TimerMaxDuration = time.Hour
	return cfg
}

func newTestHub(t *testing.T) (*Hub, *fakeStore) {
	t.Helper()
	st := newFakeStore(testBoard())
	return NewHub(st, testConfig()), st
}

func join(t *testing.T, h *Hub, conn Conn) *Room {
	t.Helper()
	r, err := h.Join(context.Background(), testRoomID, conn)
	if err != nil {
		t.Fatalf("join failed for user %d: %v", conn.UserID(), err)
	}
	return r
}

func send(r *Room, conn Conn, eventType string, payload any) {
	raw, _ := json.Marshal(payload)
	r.HandleEvent(conn, InboundEvent{Type: eventType, Payload: raw})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func element(id string) *model.Element {
	return &model.Element{ID: id, Type: model.ElementRectangle, X1: 0, Y1: 0, X2: 10, Y2: 10}
}

// =============================================================================
// Join / Leave
// =============================================================================

func TestJoinDeliversOrderedSnapshot(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	join(t, h, owner)

	events := owner.recorded()
	want := []string{EventRoomPermissions, EventWhiteboardState, EventRoomMembers, EventTimerState}
	if len(events) < len(want) {
		t.Fatalf("expected at least %d events, got %d", len(want), len(events))
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d = %s, want %s", i, events[i].Type, typ)
		}
	}

	perms := events[0].Payload.(Permissions)
	if perms.Role != model.RoleOwner || !perms.CanEdit {
		t.Fatalf("owner permissions wrong: %+v", perms)
	}

	state := events[1].Payload.(StatePayload)
	if state.Title != "retro board" {
		t.Fatalf("snapshot title = %q", state.Title)
	}
}

func TestJoinUnknownUserPersistsMembership(t *testing.T) {
	h, st := newTestHub(t)
	stranger := newFakeConn(42, "stranger")
	join(t, h, stranger)

	st.mu.Lock()
	role, ok := st.members[42]
	st.mu.Unlock()
	if !ok || role != model.RoleViewer {
		t.Fatalf("expected persisted VIEWER membership, got %v ok=%v", role, ok)
	}

	if evt, ok := stranger.lastOfType(EventRoomPermissions); ok {
		if evt.Payload.(Permissions).Role != model.RoleViewer {
			t.Fatal("stranger must join as viewer")
		}
	} else {
		t.Fatal("no permissions event")
	}
}

func TestJoinNotifiesPeers(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	join(t, h, owner)

	before := owner.countType(EventRoomMembers)
	editor := newFakeConn(2, "editor")
	join(t, h, editor)

	if owner.countType(EventRoomMembers) != before+1 {
		t.Fatal("peers must receive a fresh roster on join")
	}

	evt, _ := owner.lastOfType(EventRoomMembers)
	roster := evt.Payload.(MembersPayload)
	online := map[int64]bool{}
	for _, m := range roster.Members {
		online[m.ID] = m.Online
	}
	if !online[1] || !online[2] || online[3] {
		t.Fatalf("online flags wrong: %v", online)
	}
}

func TestJoinUnknownBoard(t *testing.T) {
	h, _ := newTestHub(t)
	_, err := h.Join(context.Background(), "no-such-room", newFakeConn(1, "owner"))
	if err != store.ErrBoardNotFound {
		t.Fatalf("expected ErrBoardNotFound, got %v", err)
	}
}

// A client admitted with a fabricated empty snapshot could clear or
// redraw over real persisted state, so a failed load fails the join.
func TestJoinFailsWhenSnapshotUnavailable(t *testing.T) {
	st := newFakeStore(testBoard())
	st.failElements = true
	h := NewHub(st, testConfig())

	stranger := newFakeConn(42, "stranger")
	if _, err := h.Join(context.Background(), testRoomID, stranger); err == nil {
		t.Fatal("join must fail when the snapshot cannot be loaded")
	}
	if got := stranger.recorded(); len(got) != 0 {
		t.Fatalf("no session events must be delivered, got %v", got)
	}
	if h.RoomCount() != 0 {
		t.Fatal("failed first join must not leak the room")
	}

	st.mu.Lock()
	_, persisted := st.members[42]
	st.mu.Unlock()
	if persisted {
		t.Fatal("failed join must not persist a membership")
	}
}

func TestLeaveReleasesLocksOnlyOnLastConnection(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	tab1 := newFakeConn(2, "editor")
	tab2 := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, tab1)
	join(t, h, tab2)

	send(r, tab1, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})
	if owner.countType(EventElementLock) != 1 {
		t.Fatal("expected lock broadcast")
	}

	r.Leave(tab1)
	if owner.countType(EventUserDisconnected) != 1 {
		t.Fatal("expected user-disconnected for the closed tab")
	}
	if evt, _ := owner.lastOfType(EventUserDisconnected); evt.Payload.(DisconnectPayload).Offline {
		t.Fatal("identity must not be offline while a tab remains")
	}
	if owner.countType(EventElementLock) != 1 {
		t.Fatal("lock must survive while a connection remains")
	}

	r.Leave(tab2)
	if owner.countType(EventElementLock) != 2 {
		t.Fatal("last disconnect must release the lock")
	}
	evt, _ := owner.lastOfType(EventElementLock)
	lock := evt.Payload.(LockBroadcast)
	if lock.Locked || lock.ElementID != "el-1" || lock.UserID != 2 {
		t.Fatalf("unexpected release broadcast: %+v", lock)
	}
}

func TestRoomTornDownWhenEmpty(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	r := join(t, h, owner)

	r.Leave(owner)
	if h.RoomCount() != 0 {
		t.Fatal("empty room must be removed from the hub")
	}

	// A fresh join creates a new room.
	again := newFakeConn(1, "owner")
	join(t, h, again)
	if h.RoomCount() != 1 {
		t.Fatal("rejoin must recreate the room")
	}
}

// =============================================================================
// Element updates
// =============================================================================

func TestViewerElementUpdateDeniedAndThrottled(t *testing.T) {
	st := newFakeStore(testBoard())
	cfg := testConfig()
	cfg.DenyInterval = time.Minute
	h := NewHub(st, cfg)
	owner := newFakeConn(1, "owner")
	viewer := newFakeConn(3, "viewer")
	r := join(t, h, owner)
	join(t, h, viewer)

	send(r, viewer, EventElementUpdate, ElementUpdatePayload{Element: element("el-1"), IsFinal: true})

	if viewer.countType(EventPermissionDenied) != 1 {
		t.Fatal("viewer must receive permission-denied")
	}
	if owner.countType(EventElementUpdate) != 0 {
		t.Fatal("rejected update must not reach peers")
	}

	// A burst of repeats inside the throttle window yields no more denials.
	for i := 0; i < 5; i++ {
		send(r, viewer, EventElementUpdate, ElementUpdatePayload{Element: element("el-1"), IsFinal: true})
	}
	if viewer.countType(EventPermissionDenied) != 1 {
		t.Fatal("permission-denied must be throttled")
	}

	time.Sleep(10 * time.Millisecond)
	st.mu.Lock()
	n := len(st.elements)
	st.mu.Unlock()
	if n != 0 {
		t.Fatal("rejected update must not be persisted")
	}
}

func TestEditorFinalUpdatePersists(t *testing.T) {
	h, st := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, editor)

	// Draft first: relayed, never persisted.
	send(r, editor, EventElementUpdate, ElementUpdatePayload{Element: element("el-1"), IsFinal: false})
	if owner.countType(EventElementUpdate) != 1 {
		t.Fatal("draft must be relayed to peers")
	}
	if editor.countType(EventElementUpdate) != 0 {
		t.Fatal("sender must not receive its own relay")
	}

	send(r, editor, EventElementUpdate, ElementUpdatePayload{Element: element("el-1"), IsFinal: true})
	waitFor(t, "element persisted", func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		_, ok := st.elements["el-1"]
		return ok
	})
}

// Two final updates for the same element must persist in the order the
// coordinator relayed them, even when the earlier write is slow.
func TestFinalWritesApplyInCoordinatorOrder(t *testing.T) {
	h, st := newTestHub(t)
	st.beforeUpsert = func(el *model.Element) {
		if el.X2 == 1 {
			time.Sleep(80 * time.Millisecond)
		}
	}
	editor := newFakeConn(2, "editor")
	r := join(t, h, editor)

	v1 := element("el-1")
	v1.X2 = 1
	v2 := element("el-1")
	v2.X2 = 2
	send(r, editor, EventElementUpdate, ElementUpdatePayload{Element: v1, IsFinal: true})
	send(r, editor, EventElementUpdate, ElementUpdatePayload{Element: v2, IsFinal: true})

	waitFor(t, "both writes applied", func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.writes) == 2
	})

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.writes[0] != 1 || st.writes[1] != 2 {
		t.Fatalf("write order inverted: %v", st.writes)
	}
	if el := st.elements["el-1"]; el == nil || el.X2 != 2 {
		t.Fatalf("persisted element is stale: %+v", el)
	}
}

func TestElementUpdateBlockedByForeignLock(t *testing.T) {
	h, st := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, editor)

	send(r, owner, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})

	before := owner.countType(EventElementUpdate)
	send(r, editor, EventElementUpdate, ElementUpdatePayload{Element: element("el-1"), IsFinal: true})

	// Silent drop: no relay, no denial.
	if owner.countType(EventElementUpdate) != before {
		t.Fatal("update on a foreign-locked element must not be relayed")
	}
	if editor.countType(EventPermissionDenied) != 0 {
		t.Fatal("foreign-lock conflicts are dropped silently, not denied")
	}

	time.Sleep(10 * time.Millisecond)
	st.mu.Lock()
	_, persisted := st.elements["el-1"]
	st.mu.Unlock()
	if persisted {
		t.Fatal("blocked update must not be persisted")
	}
}

func TestFinalDeleteReleasesLockAndRemovesRow(t *testing.T) {
	h, st := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, editor)

	send(r, owner, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})

	deleted := element("el-1")
	deleted.IsDeleted = true
	send(r, owner, EventElementUpdate, ElementUpdatePayload{Element: deleted, IsFinal: true})

	evt, ok := editor.lastOfType(EventElementLock)
	if !ok {
		t.Fatal("expected lock broadcasts")
	}
	if lock := evt.Payload.(LockBroadcast); lock.Locked || lock.ElementID != "el-1" {
		t.Fatalf("expected release broadcast, got %+v", lock)
	}

	waitFor(t, "element removed", func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.removed) == 1 && st.removed[0] == "el-1"
	})
}

func TestClearResetsLocksAndTruncates(t *testing.T) {
	h, st := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, editor)

	send(r, editor, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})
	send(r, owner, EventWhiteboardClear, ClearPayload{IsFinal: true})

	if editor.countType(EventWhiteboardClear) != 1 {
		t.Fatal("clear must be relayed")
	}

	// The lock table is empty: the old holder can no longer release, and a
	// fresh acquire by anyone succeeds.
	send(r, owner, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})
	evt, _ := owner.lastOfType(EventElementLockAck)
	if ack := evt.Payload.(LockAck); !ack.Ok {
		t.Fatalf("lock table must be empty after clear, ack=%+v", ack)
	}

	waitFor(t, "elements truncated", func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.cleared == 1
	})
}

// =============================================================================
// Element locks
// =============================================================================

func TestLockConflictAcks(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, editor)

	send(r, owner, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})
	evt, _ := owner.lastOfType(EventElementLockAck)
	if ack := evt.Payload.(LockAck); !ack.Ok {
		t.Fatalf("first acquire must succeed, got %+v", ack)
	}

	send(r, editor, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})
	evt, _ = editor.lastOfType(EventElementLockAck)
	ack := evt.Payload.(LockAck)
	if ack.Ok || ack.Reason != "locked" || ack.Owner != 1 {
		t.Fatalf("conflicting acquire must fail naming the holder, got %+v", ack)
	}

	// Release by the holder, then the loser can acquire.
	send(r, owner, EventElementLock, LockRequest{ElementID: "el-1", Locked: false})
	send(r, editor, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})
	evt, _ = editor.lastOfType(EventElementLockAck)
	if ack := evt.Payload.(LockAck); !ack.Ok {
		t.Fatalf("acquire after release must succeed, got %+v", ack)
	}
}

func TestViewerCannotAcquireLock(t *testing.T) {
	h, _ := newTestHub(t)
	viewer := newFakeConn(3, "viewer")
	r := join(t, h, viewer)

	send(r, viewer, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})
	evt, ok := viewer.lastOfType(EventElementLockAck)
	if !ok {
		t.Fatal("expected an ack")
	}
	if ack := evt.Payload.(LockAck); ack.Ok || ack.Reason != "permission" {
		t.Fatalf("viewer acquire must fail with permission, got %+v", ack)
	}
}

func TestIdleLockSweep(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, editor)

	send(r, owner, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})

	// Drive the sweep directly instead of waiting on the ticker.
	r.sweepIdleLocks(time.Now().Add(2 * time.Hour))

	evt, _ := editor.lastOfType(EventElementLock)
	lock := evt.Payload.(LockBroadcast)
	if lock.Locked || lock.ElementID != "el-1" || lock.UserID != 1 {
		t.Fatalf("expected idle release broadcast, got %+v", lock)
	}

	// The element is free again.
	send(r, editor, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})
	ackEvt, _ := editor.lastOfType(EventElementLockAck)
	if ack := ackEvt.Payload.(LockAck); !ack.Ok {
		t.Fatalf("acquire after sweep must succeed, got %+v", ack)
	}
}

// =============================================================================
// Board lock and moderation
// =============================================================================

func TestBoardLockPushesFreshPermissions(t *testing.T) {
	h, st := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, editor)

	send(r, editor, EventBoardLock, BoardLockPayload{Locked: true})
	if editor.countType(EventPermissionDenied) != 1 {
		t.Fatal("non-owner board-lock must be denied")
	}

	send(r, owner, EventBoardLock, BoardLockPayload{Locked: true})

	evt, _ := editor.lastOfType(EventRoomPermissions)
	perms := evt.Payload.(Permissions)
	if perms.Role != model.RoleEditor || perms.CanEdit || !perms.Locked {
		t.Fatalf("locked board must suspend editor capability, got %+v", perms)
	}

	evt, _ = owner.lastOfType(EventRoomPermissions)
	if perms := evt.Payload.(Permissions); !perms.CanEdit {
		t.Fatal("owner must keep editing on a locked board")
	}

	waitFor(t, "locked flag persisted", func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.locked != nil && *st.locked
	})

	// Editing while locked is denied.
	send(r, editor, EventElementUpdate, ElementUpdatePayload{Element: element("el-1"), IsFinal: true})
	if editor.countType(EventPermissionDenied) != 2 {
		t.Fatal("editor update on a locked board must be denied")
	}
}

func TestSetRoleRules(t *testing.T) {
	h, st := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	viewer := newFakeConn(3, "viewer")
	r := join(t, h, owner)
	join(t, h, editor)
	join(t, h, viewer)

	// Non-owner cannot change roles.
	send(r, editor, EventSetRole, SetRolePayload{TargetUserID: 3, Role: "EDITOR"})
	if editor.countType(EventPermissionDenied) != 1 {
		t.Fatal("non-owner set-role must be denied")
	}

	// OWNER is never assignable.
	send(r, owner, EventSetRole, SetRolePayload{TargetUserID: 3, Role: "OWNER"})
	// The owner itself can never be targeted.
	send(r, owner, EventSetRole, SetRolePayload{TargetUserID: 1, Role: "VIEWER"})
	// Non-members cannot be targeted.
	send(r, owner, EventSetRole, SetRolePayload{TargetUserID: 99, Role: "EDITOR"})
	if owner.countType(EventPermissionDenied) != 3 {
		t.Fatalf("expected 3 denials, got %d", owner.countType(EventPermissionDenied))
	}

	// Valid promotion: roster broadcast, fresh permissions to the target only.
	before := editor.countType(EventRoomPermissions)
	send(r, owner, EventSetRole, SetRolePayload{TargetUserID: 3, Role: "EDITOR"})

	evt, _ := viewer.lastOfType(EventRoomPermissions)
	perms := evt.Payload.(Permissions)
	if perms.Role != model.RoleEditor || !perms.CanEdit {
		t.Fatalf("promoted member must get editor permissions, got %+v", perms)
	}
	if editor.countType(EventRoomPermissions) != before {
		t.Fatal("non-target connections must not get a permissions push")
	}

	waitFor(t, "role persisted", func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.roles[3] == model.RoleEditor
	})
}

func TestKick(t *testing.T) {
	h, st := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, editor)

	// Non-owner cannot kick; owner cannot kick themself.
	send(r, editor, EventKickMember, KickPayload{TargetUserID: 1})
	if editor.countType(EventPermissionDenied) != 1 {
		t.Fatal("non-owner kick must be denied")
	}
	send(r, owner, EventKickMember, KickPayload{TargetUserID: 1})
	if owner.countType(EventPermissionDenied) != 1 {
		t.Fatal("self-kick must be denied")
	}

	send(r, editor, EventElementLock, LockRequest{ElementID: "el-1", Locked: true})

	send(r, owner, EventKickMember, KickPayload{TargetUserID: 2})

	if editor.countType(EventKicked) != 1 || !editor.isClosed() {
		t.Fatal("kicked member must be notified and closed")
	}

	evt, _ := owner.lastOfType(EventElementLock)
	if lock := evt.Payload.(LockBroadcast); lock.Locked || lock.UserID != 2 {
		t.Fatalf("kick must release the target's locks, got %+v", lock)
	}

	evt, _ = owner.lastOfType(EventRoomMembers)
	for _, m := range evt.Payload.(MembersPayload).Members {
		if m.ID == 2 {
			if m.Online {
				t.Fatal("kicked member must show offline")
			}
			if m.Role != "EDITOR" {
				t.Fatal("kick must not change the persisted role")
			}
		}
	}

	// Membership row untouched: rejoin restores the prior role.
	st.mu.Lock()
	role := st.members[2]
	st.mu.Unlock()
	if role != model.RoleEditor {
		t.Fatalf("persisted membership must survive a kick, got %v", role)
	}
}

// =============================================================================
// Timer
// =============================================================================

func TestTimerOwnershipAndBounds(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, editor)

	send(r, editor, EventTimerStart, TimerStartPayload{DurationMs: 60000})
	if editor.countType(EventPermissionDenied) != 1 {
		t.Fatal("non-owner timer start must be denied")
	}

	// Below the configured minimum.
	send(r, owner, EventTimerStart, TimerStartPayload{DurationMs: 1})
	if owner.countType(EventPermissionDenied) != 1 {
		t.Fatal("out-of-range duration must be denied")
	}

	send(r, owner, EventTimerStart, TimerStartPayload{DurationMs: 60000})
	evt, _ := editor.lastOfType(EventTimerState)
	state := evt.Payload.(TimerStatePayload)
	if !state.Running || state.DurationMs != 60000 || state.StartedBy != 1 {
		t.Fatalf("unexpected timer state: %+v", state)
	}

	// Double start is denied while running.
	send(r, owner, EventTimerStart, TimerStartPayload{DurationMs: 60000})
	if owner.countType(EventPermissionDenied) != 2 {
		t.Fatal("second start while running must be denied")
	}

	// Stop returns the timer to idle and audits the action.
	send(r, owner, EventTimerStop, nil)
	evt, _ = editor.lastOfType(EventTimerState)
	if evt.Payload.(TimerStatePayload).Running {
		t.Fatal("stop must return the timer to idle")
	}
	evt, _ = editor.lastOfType(EventTimerAction)
	if evt.Payload.(TimerActionPayload).Action != "stop" {
		t.Fatal("expected stop audit")
	}
}

func TestTimerExpiryEndsSession(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	r := join(t, h, owner)
	join(t, h, editor)

	send(r, owner, EventTimerStart, TimerStartPayload{DurationMs: 25})

	waitFor(t, "session ended", func() bool {
		return editor.countType(EventSessionEnded) == 1
	})

	evt, _ := editor.lastOfType(EventSessionEnded)
	if evt.Payload.(SessionEndedPayload).Reason != "timer" {
		t.Fatal("expiry reason must be timer")
	}
	evt, _ = editor.lastOfType(EventTimerState)
	if evt.Payload.(TimerStatePayload).Running {
		t.Fatal("timer must be idle after expiry")
	}
}

// =============================================================================
// External triggers
// =============================================================================

func TestBroadcastTitle(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	join(t, h, owner)

	h.BroadcastTitle(testRoomID, "sprint 12")
	evt, ok := owner.lastOfType(EventBoardTitle)
	if !ok {
		t.Fatal("expected board-title broadcast")
	}
	if evt.Payload.(TitlePayload).Title != "sprint 12" {
		t.Fatal("wrong title")
	}
}

func TestEvictBoardEndsSession(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	editor := newFakeConn(2, "editor")
	join(t, h, owner)
	join(t, h, editor)

	h.EvictBoard(testRoomID, "deleted")

	for _, c := range []*fakeConn{owner, editor} {
		evt, ok := c.lastOfType(EventSessionEnded)
		if !ok {
			t.Fatalf("user %d missing session:ended", c.userID)
		}
		if evt.Payload.(SessionEndedPayload).Reason != "deleted" {
			t.Fatal("wrong eviction reason")
		}
		if !c.isClosed() {
			t.Fatalf("user %d connection must be closed", c.userID)
		}
	}
	if h.RoomCount() != 0 {
		t.Fatal("evicted room must be dropped")
	}
}

// Mutations racing from many connections must never corrupt room state;
// this is a smoke test for the per-room mutex discipline under -race.
func TestConcurrentMutationsSmoke(t *testing.T) {
	h, _ := newTestHub(t)
	owner := newFakeConn(1, "owner")
	r := join(t, h, owner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := newFakeConn(int64(100+n), fmt.Sprintf("user-%d", n))
			if _, err := h.Join(context.Background(), testRoomID, c); err != nil {
				return
			}
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("el-%d", j%5)
				send(r, c, EventElementLock, LockRequest{ElementID: id, Locked: true})
				send(r, c, EventCursorPosition, CursorPayload{X: float64(j), Y: float64(n)})
				send(r, c, EventElementLock, LockRequest{ElementID: id, Locked: false})
			}
			r.Leave(c)
		}(i)
	}
	wg.Wait()

	if owner.countType(EventSessionEnded) != 0 {
		t.Fatal("session must survive the churn")
	}
}
