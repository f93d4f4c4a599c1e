package room

// Presence tracks who is connected to a room right now. A user may hold
// several connections (tabs); they are present while the set is non-empty.
// Not self-locking: the owning Room serializes access.
type Presence struct {
	members map[int64]*presenceEntry
}

type presenceEntry struct {
	username string
	conns    map[Conn]struct{}
}

// NewPresence creates an empty registry.
func NewPresence() *Presence {
	return &Presence{members: make(map[int64]*presenceEntry)}
}

// AddConn registers a connection. Idempotent per connection; a second tab
// joins the same identity's set.
func (p *Presence) AddConn(conn Conn) {
	entry, ok := p.members[conn.UserID()]
	if !ok {
		entry = &presenceEntry{
			username: conn.Username(),
			conns:    make(map[Conn]struct{}),
		}
		p.members[conn.UserID()] = entry
	}
	entry.conns[conn] = struct{}{}
}

// RemoveConn drops one connection. Reports whether the connection was
// registered and whether the identity became fully absent.
func (p *Presence) RemoveConn(conn Conn) (removed, gone bool) {
	entry, ok := p.members[conn.UserID()]
	if !ok {
		return false, false
	}
	if _, ok := entry.conns[conn]; !ok {
		return false, false
	}
	delete(entry.conns, conn)
	if len(entry.conns) == 0 {
		delete(p.members, conn.UserID())
		return true, true
	}
	return true, false
}

// RemoveUser drops every connection of an identity (kick) and returns them.
func (p *Presence) RemoveUser(userID int64) []Conn {
	entry, ok := p.members[userID]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(entry.conns))
	for c := range entry.conns {
		conns = append(conns, c)
	}
	delete(p.members, userID)
	return conns
}

// Conns returns the identity's open connections.
func (p *Presence) Conns(userID int64) []Conn {
	entry, ok := p.members[userID]
	if !ok {
		return nil
	}
	conns := make([]Conn, 0, len(entry.conns))
	for c := range entry.conns {
		conns = append(conns, c)
	}
	return conns
}

// Online reports whether the identity has at least one open connection.
func (p *Presence) Online(userID int64) bool {
	_, ok := p.members[userID]
	return ok
}

// Empty reports whether nobody is connected.
func (p *Presence) Empty() bool {
	return len(p.members) == 0
}

// ForEachConn visits every open connection.
func (p *Presence) ForEachConn(fn func(Conn)) {
	for _, entry := range p.members {
		for c := range entry.conns {
			fn(c)
		}
	}
}
