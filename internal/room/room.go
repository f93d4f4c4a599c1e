package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/store"
)

// Room is the session coordinator: the single authority for one board's
// live session. Every mutation handler runs under r.mu, so handlers for a
// given room never interleave; distinct rooms are independent.
type Room struct {
	ID  string
	hub *Hub

	store store.BoardStore
	cfg   Config

	mu        sync.Mutex
	closed    bool
	boardID   int64
	createdBy int64
	title     string
	locked    bool
	roles     map[int64]model.BoardRole // runtime role cache
	names     map[int64]string          // persisted members' display names
	presence  *Presence
	locks     *LockTable
	timer     *SessionTimer

	lastDenied map[string]time.Time // (userId:action) -> last permission-denied send
	stopSweep  chan struct{}
	persist    chan persistJob
}

// persistJob is one queued write-through. Jobs apply strictly in the
// order the coordinator observed the mutations.
type persistJob struct {
	conn   Conn
	action string
	fn     func(ctx context.Context) error
}

func newRoom(hub *Hub, board *model.Board) *Room {
	r := &Room{
		ID:         board.RoomID,
		hub:        hub,
		store:      hub.store,
		cfg:        hub.cfg,
		boardID:    board.ID,
		createdBy:  board.CreatedBy,
		title:      board.Title,
		locked:     board.Locked,
		roles:      make(map[int64]model.BoardRole),
		names:      make(map[int64]string),
		presence:   NewPresence(),
		locks:      NewLockTable(),
		timer:      NewSessionTimer(),
		lastDenied: make(map[string]time.Time),
		stopSweep:  make(chan struct{}),
		persist:    make(chan persistJob, 128),
	}

	for i := range board.Members {
		m := &board.Members[i]
		r.roles[m.UserID] = model.BoardRole(m.Role)
		r.names[m.UserID] = m.User.Nickname
	}
	// The creator is OWNER regardless of what the member rows say.
	r.roles[board.CreatedBy] = model.RoleOwner

	go r.runLockSweep()
	go r.runPersist()
	return r
}

// =============================================================================
// Join / Leave
// =============================================================================

// Join admits a connection: registers presence, resolves the role
// (persisting the membership when new) and delivers, in order, the
// permissions message, the full state snapshot, the presence snapshot and
// the timer state. Permissions go first so the client never flashes an
// editable canvas it is not allowed to touch.
func (r *Room) Join(ctx context.Context, conn Conn) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}

	// Load the snapshot before admitting the connection. A client shown a
	// fabricated empty board could clear or redraw over real persisted
	// state, so a failed load fails the whole join.
	elements, err := r.store.ActiveElements(ctx, r.boardID)
	if err != nil {
		log.Printf("[Room %s] failed to load elements: %v", r.ID, err)
		empty := r.presence.Empty()
		if empty {
			r.teardownLocked()
		}
		r.mu.Unlock()
		if empty {
			r.hub.dropRoom(r.ID, r)
		}
		return fmt.Errorf("load board state: %w", err)
	}

	userID := conn.UserID()
	if _, known := r.roles[userID]; !known {
		role := model.RoleViewer
		if userID == r.createdBy {
			role = model.RoleOwner
		}
		r.roles[userID] = role
		if err := r.store.AddMember(ctx, r.boardID, userID, role); err != nil {
			log.Printf("[Room %s] failed to persist membership for user %d: %v", r.ID, userID, err)
		}
	}
	r.names[userID] = conn.Username()
	r.presence.AddConn(conn)

	perms := r.resolveLocked(userID)
	conn.Send(Event{Type: EventRoomPermissions, Payload: perms})

	conn.Send(Event{Type: EventWhiteboardState, Payload: StatePayload{
		Elements: elements,
		Title:    r.title,
		Locks:    r.locks.Snapshot(),
	}})

	members := r.membersLocked()
	conn.Send(Event{Type: EventRoomMembers, Payload: members})
	conn.Send(Event{Type: EventTimerState, Payload: r.timer.State()})

	r.broadcastExceptLocked(conn, Event{Type: EventRoomMembers, Payload: members})

	log.Printf("[Room %s] user %d joined as %s", r.ID, userID, perms.Role)

	r.mu.Unlock()
	return nil
}

// Leave handles one connection closing. Locks are released only once the
// identity's last connection is gone; a user-disconnected event always
// goes out so peers can clear stale cursors.
func (r *Room) Leave(conn Conn) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	userID := conn.UserID()
	removed, gone := r.presence.RemoveConn(conn)
	if !removed {
		r.mu.Unlock()
		return
	}

	if gone {
		for _, elementID := range r.locks.ReleaseAllBy(userID) {
			r.broadcastLocked(Event{Type: EventElementLock, Payload: LockBroadcast{
				ElementID: elementID, Locked: false, UserID: userID,
			}})
		}
	}

	r.broadcastLocked(Event{Type: EventUserDisconnected, Payload: DisconnectPayload{
		UserID:   userID,
		Username: conn.Username(),
		Offline:  gone,
	}})
	if gone {
		r.broadcastLocked(Event{Type: EventRoomMembers, Payload: r.membersLocked()})
	}

	empty := r.presence.Empty()
	if empty {
		r.teardownLocked()
	}
	r.mu.Unlock()

	if empty {
		r.hub.dropRoom(r.ID, r)
		log.Printf("[Room %s] last user left, room torn down", r.ID)
	}
}

// =============================================================================
// Event dispatch
// =============================================================================

// HandleEvent routes one inbound event from a connection. Malformed
// payloads are ignored; they must never take the room down.
func (r *Room) HandleEvent(conn Conn, evt InboundEvent) {
	switch evt.Type {
	case EventElementUpdate:
		var p ElementUpdatePayload
		if json.Unmarshal(evt.Payload, &p) != nil || p.Element == nil {
			return
		}
		r.elementUpdate(conn, p.Element, p.IsFinal)

	case EventWhiteboardClear:
		var p ClearPayload
		if json.Unmarshal(evt.Payload, &p) != nil {
			return
		}
		r.clearBoard(conn, p.IsFinal)

	case EventElementLock:
		var p LockRequest
		if json.Unmarshal(evt.Payload, &p) != nil || p.ElementID == "" {
			return
		}
		r.lockRequest(conn, p)

	case EventCursorPosition:
		var p CursorPayload
		if json.Unmarshal(evt.Payload, &p) != nil {
			return
		}
		r.cursorMove(conn, p)

	case EventBoardLock:
		var p BoardLockPayload
		if json.Unmarshal(evt.Payload, &p) != nil {
			return
		}
		r.setBoardLock(conn, p.Locked)

	case EventKickMember:
		var p KickPayload
		if json.Unmarshal(evt.Payload, &p) != nil || p.TargetUserID == 0 {
			return
		}
		r.kick(conn, p.TargetUserID)

	case EventSetRole:
		var p SetRolePayload
		if json.Unmarshal(evt.Payload, &p) != nil || p.TargetUserID == 0 {
			return
		}
		r.setRole(conn, p.TargetUserID, model.BoardRole(p.Role))

	case EventTimerStart:
		var p TimerStartPayload
		if json.Unmarshal(evt.Payload, &p) != nil {
			return
		}
		r.timerStart(conn, time.Duration(p.DurationMs)*time.Millisecond)

	case EventTimerStop:
		r.timerControl(conn, "stop")

	case EventTimerReset:
		r.timerControl(conn, "reset")
	}
}

// =============================================================================
// Element mutation
// =============================================================================

func (r *Room) elementUpdate(conn Conn, el *model.Element, isFinal bool) {
	if el.Validate() != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	userID := conn.UserID()
	if !r.resolveLocked(userID).CanEdit {
		r.denyLocked(conn, EventElementUpdate, "you do not have edit permission on this board")
		return
	}
	if owner, held := r.locks.Owner(el.ID); held && owner != userID {
		// Another identity holds the element; drop without broadcast.
		return
	}

	r.locks.Touch(el.ID, userID)

	if el.IsDeleted {
		now := time.Now()
		el.DeletedAt = &now
		el.DeletedBy = &userID
	}

	r.broadcastExceptLocked(conn, Event{Type: EventElementUpdate, Payload: ElementUpdatePayload{
		Element: el, IsFinal: isFinal, UserID: userID,
	}})

	if !isFinal {
		// Draft updates are relay-only, never persisted.
		return
	}

	if el.IsDeleted {
		// A final delete also releases any lock on the tombstone.
		if holder, held := r.locks.ForceRelease(el.ID); held {
			r.broadcastLocked(Event{Type: EventElementLock, Payload: LockBroadcast{
				ElementID: el.ID, Locked: false, UserID: holder,
			}})
		}
		elementID := el.ID
		r.persistAsync(conn, EventElementUpdate, func(ctx context.Context) error {
			return r.store.RemoveElement(ctx, r.boardID, userID, elementID)
		})
		return
	}

	element := *el
	r.persistAsync(conn, EventElementUpdate, func(ctx context.Context) error {
		return r.store.UpsertElement(ctx, r.boardID, userID, &element)
	})
}

func (r *Room) clearBoard(conn Conn, isFinal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if !r.resolveLocked(conn.UserID()).CanEdit {
		r.denyLocked(conn, EventWhiteboardClear, "you do not have edit permission on this board")
		return
	}

	r.locks.Clear()
	r.broadcastExceptLocked(conn, Event{Type: EventWhiteboardClear, Payload: ClearPayload{
		IsFinal: isFinal, UserID: conn.UserID(),
	}})

	if isFinal {
		r.persistAsync(conn, EventWhiteboardClear, func(ctx context.Context) error {
			return r.store.ClearElements(ctx, r.boardID)
		})
	}
}

func (r *Room) cursorMove(conn Conn, p CursorPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	// No permission gate beyond room membership; best-effort relay.
	p.UserID = conn.UserID()
	p.Username = conn.Username()
	r.broadcastExceptLocked(conn, Event{Type: EventCursorPosition, Payload: p})
}

// =============================================================================
// Element locks
// =============================================================================

func (r *Room) lockRequest(conn Conn, req LockRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	userID := conn.UserID()

	if req.Locked {
		if !r.resolveLocked(userID).CanEdit {
			conn.Send(Event{Type: EventElementLockAck, Payload: LockAck{
				ElementID: req.ElementID, Ok: false, Reason: "permission",
			}})
			return
		}
		if err := r.locks.Acquire(req.ElementID, userID); err != nil {
			var locked *AlreadyLockedError
			if errors.As(err, &locked) {
				conn.Send(Event{Type: EventElementLockAck, Payload: LockAck{
					ElementID: req.ElementID, Ok: false, Reason: "locked", Owner: locked.Owner,
				}})
			}
			return
		}
		conn.Send(Event{Type: EventElementLockAck, Payload: LockAck{ElementID: req.ElementID, Ok: true}})
		r.broadcastExceptLocked(conn, Event{Type: EventElementLock, Payload: LockBroadcast{
			ElementID: req.ElementID, Locked: true, UserID: userID,
		}})
		return
	}

	if err := r.locks.Release(req.ElementID, userID); err != nil {
		var notOwner *NotOwnerError
		if errors.As(err, &notOwner) {
			conn.Send(Event{Type: EventElementLockAck, Payload: LockAck{
				ElementID: req.ElementID, Ok: false, Reason: "not-owner", Owner: notOwner.Owner,
			}})
		}
		return
	}
	conn.Send(Event{Type: EventElementLockAck, Payload: LockAck{ElementID: req.ElementID, Ok: true}})
	r.broadcastExceptLocked(conn, Event{Type: EventElementLock, Payload: LockBroadcast{
		ElementID: req.ElementID, Locked: false, UserID: userID,
	}})
}

func (r *Room) runLockSweep() {
	ticker := time.NewTicker(r.cfg.LockSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopSweep:
			return
		case now := <-ticker.C:
			r.sweepIdleLocks(now)
		}
	}
}

func (r *Room) sweepIdleLocks(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	for elementID, holder := range r.locks.ReleaseIdle(r.cfg.LockIdleTimeout, now) {
		log.Printf("[Room %s] released idle lock on %s (held by user %d)", r.ID, elementID, holder)
		r.broadcastLocked(Event{Type: EventElementLock, Payload: LockBroadcast{
			ElementID: elementID, Locked: false, UserID: holder,
		}})
	}
}

// =============================================================================
// Board lock and moderation
// =============================================================================

func (r *Room) setBoardLock(conn Conn, locked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if r.resolveLocked(conn.UserID()).Role != model.RoleOwner {
		r.denyLocked(conn, EventBoardLock, "only the board owner can lock the board")
		return
	}
	if r.locked == locked {
		return
	}

	r.locked = locked
	// Permission changes are push, not pull: every connection gets its own
	// freshly resolved capabilities.
	r.presence.ForEachConn(func(c Conn) {
		c.Send(Event{Type: EventRoomPermissions, Payload: r.resolveLocked(c.UserID())})
	})

	r.persistAsync(conn, EventBoardLock, func(ctx context.Context) error {
		return r.store.SetLocked(ctx, r.boardID, locked)
	})
}

func (r *Room) kick(conn Conn, targetID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	userID := conn.UserID()
	if r.resolveLocked(userID).Role != model.RoleOwner {
		r.denyLocked(conn, EventKickMember, "only the board owner can kick members")
		return
	}
	if targetID == userID {
		r.denyLocked(conn, EventKickMember, "you cannot kick yourself")
		return
	}

	for _, elementID := range r.locks.ReleaseAllBy(targetID) {
		r.broadcastLocked(Event{Type: EventElementLock, Payload: LockBroadcast{
			ElementID: elementID, Locked: false, UserID: targetID,
		}})
	}

	// Presence only; the persisted membership and role survive a kick, so a
	// rejoin restores the prior role.
	for _, c := range r.presence.RemoveUser(targetID) {
		c.Send(Event{Type: EventKicked})
		c.Close()
	}

	r.broadcastLocked(Event{Type: EventRoomMembers, Payload: r.membersLocked()})
	log.Printf("[Room %s] user %d kicked by owner %d", r.ID, targetID, userID)
}

func (r *Room) setRole(conn Conn, targetID int64, role model.BoardRole) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	userID := conn.UserID()
	if r.resolveLocked(userID).Role != model.RoleOwner {
		r.denyLocked(conn, EventSetRole, "only the board owner can change roles")
		return
	}
	if !role.Assignable() {
		r.denyLocked(conn, EventSetRole, "role must be EDITOR or VIEWER")
		return
	}
	if targetID == userID || targetID == r.createdBy {
		// The owner role is derived from the board creator and can never be
		// reassigned, not even by a crafted payload naming the owner.
		r.denyLocked(conn, EventSetRole, "the owner role cannot be changed")
		return
	}
	if _, member := r.roles[targetID]; !member {
		r.denyLocked(conn, EventSetRole, "target is not a member of this board")
		return
	}

	r.roles[targetID] = role
	r.broadcastLocked(Event{Type: EventRoomMembers, Payload: r.membersLocked()})

	// Fresh permissions go to the target's connections only.
	perms := r.resolveLocked(targetID)
	for _, c := range r.presence.Conns(targetID) {
		c.Send(Event{Type: EventRoomPermissions, Payload: perms})
	}

	r.persistAsync(conn, EventSetRole, func(ctx context.Context) error {
		return r.store.SetRole(ctx, r.boardID, targetID, role)
	})
}

// =============================================================================
// Timer
// =============================================================================

func (r *Room) timerStart(conn Conn, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	userID := conn.UserID()
	if r.resolveLocked(userID).Role != model.RoleOwner {
		r.denyLocked(conn, EventTimerStart, "only the board owner can start the timer")
		return
	}
	if r.timer.Running() {
		r.denyLocked(conn, EventTimerStart, "a timer is already running")
		return
	}
	if d < r.cfg.TimerMinDuration || d > r.cfg.TimerMaxDuration {
		r.denyLocked(conn, EventTimerStart, fmt.Sprintf("duration must be between %v and %v",
			r.cfg.TimerMinDuration, r.cfg.TimerMaxDuration))
		return
	}

	r.timer.Start(d, userID, r.timerExpired)
	r.broadcastLocked(Event{Type: EventTimerState, Payload: r.timer.State()})
	r.broadcastLocked(Event{Type: EventTimerAction, Payload: TimerActionPayload{Action: "start", UserID: userID}})
	log.Printf("[Room %s] timer started by user %d for %v", r.ID, userID, d)
}

func (r *Room) timerControl(conn Conn, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	userID := conn.UserID()
	if r.resolveLocked(userID).Role != model.RoleOwner {
		r.denyLocked(conn, "timer:"+action, "only the board owner can control the timer")
		return
	}

	r.timer.Stop()
	r.broadcastLocked(Event{Type: EventTimerState, Payload: r.timer.State()})
	r.broadcastLocked(Event{Type: EventTimerAction, Payload: TimerActionPayload{Action: action, UserID: userID}})
}

func (r *Room) timerExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.timer.Running() {
		return
	}

	r.timer.Expire()
	// Room closure signal only; the persisted elements are untouched.
	r.broadcastLocked(Event{Type: EventSessionEnded, Payload: SessionEndedPayload{Reason: "timer"}})
	r.broadcastLocked(Event{Type: EventTimerState, Payload: r.timer.State()})
	log.Printf("[Room %s] session timer fired", r.ID)
}

// =============================================================================
// External triggers (HTTP path)
// =============================================================================

// SetTitle updates the cached title and broadcasts it. Persistence happens
// on the HTTP path before this is called.
func (r *Room) SetTitle(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.title = title
	r.broadcastLocked(Event{Type: EventBoardTitle, Payload: TitlePayload{Title: title}})
}

// EndSession evicts every connection and tears the room down. Used when
// the owner deletes the board.
func (r *Room) EndSession(reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	r.broadcastLocked(Event{Type: EventSessionEnded, Payload: SessionEndedPayload{Reason: reason}})
	r.presence.ForEachConn(func(c Conn) { c.Close() })
	r.teardownLocked()
	r.mu.Unlock()

	r.hub.dropRoom(r.ID, r)
}

// =============================================================================
// Internals (callers hold r.mu)
// =============================================================================

func (r *Room) resolveLocked(userID int64) Permissions {
	return Resolve(r.createdBy, r.roles, r.locked, userID)
}

func (r *Room) membersLocked() MembersPayload {
	members := make([]MemberInfo, 0, len(r.names))
	for userID, name := range r.names {
		members = append(members, MemberInfo{
			ID:       userID,
			Username: name,
			Online:   r.presence.Online(userID),
			Role:     r.resolveLocked(userID).Role.String(),
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return MembersPayload{Members: members}
}

func (r *Room) broadcastLocked(evt Event) {
	r.presence.ForEachConn(func(c Conn) { c.Send(evt) })
}

func (r *Room) broadcastExceptLocked(skip Conn, evt Event) {
	r.presence.ForEachConn(func(c Conn) {
		if c != skip {
			c.Send(evt)
		}
	})
}

// denyLocked sends permission-denied, throttled so identical denials are
// at least cfg.DenyInterval apart.
func (r *Room) denyLocked(conn Conn, action, message string) {
	key := fmt.Sprintf("%d:%s", conn.UserID(), action)
	now := time.Now()
	if last, ok := r.lastDenied[key]; ok && now.Sub(last) < r.cfg.DenyInterval {
		return
	}
	r.lastDenied[key] = now
	conn.Send(Event{Type: EventPermissionDenied, Payload: DeniedPayload{Action: action, Message: message}})
}

// persistAsync queues a write-through behind the broadcast that already
// went out. A failure is logged and surfaced to the requester only; the
// broadcast is not compensated (the next mutation of the same element
// repairs the row). Callers hold r.mu; the send blocks only when the
// queue has backed up behind a degraded database.
func (r *Room) persistAsync(conn Conn, action string, fn func(ctx context.Context) error) {
	r.persist <- persistJob{conn: conn, action: action, fn: fn}
}

// runPersist applies write-throughs one at a time, in enqueue order.
// Broadcasts run ahead of the writes, but two writes for the same element
// can never land inverted.
func (r *Room) runPersist() {
	for job := range r.persist {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := job.fn(ctx)
		cancel()

		if err != nil {
			log.Printf("[Room %s] persistence failed for %s: %v", r.ID, job.action, err)
			if job.conn != nil {
				job.conn.Send(Event{Type: EventServerError, Payload: DeniedPayload{
					Action: job.action, Message: "failed to save changes",
				}})
			}
		}
	}
}

// teardownLocked destroys all per-room ephemeral state. The caller removes
// the room from the hub after releasing r.mu.
func (r *Room) teardownLocked() {
	r.closed = true
	r.timer.Stop()
	r.locks.Clear()
	close(r.stopSweep)
	// The persist worker drains queued writes, then exits.
	close(r.persist)
}
