package session

import (
	"github.com/backkem/msglayer/pkg/transport"
)

// Session ID constants.
const (
	// MinSessionID is the minimum valid secure session ID.
	// Session ID 0 is reserved for unauthenticated sessions.
	MinSessionID uint16 = 1

	// MaxSessionID is the maximum valid session ID.
	MaxSessionID uint16 = 0xFFFF

	// DefaultMaxSessions is the default maximum number of concurrent sessions.
	DefaultMaxSessions = 32
)

type addrKey struct {
	addr string
	id   uint16
}

// Table indexes secure and group sessions.
//
// Unicast sessions are found by (peer address, local session ID) on the
// receive path, by local ID alone when a peer changes address, and by peer
// identity for expiry. Group sessions are found by their shared ID from any
// sender. Local IDs are unique across all unicast sessions.
type Table struct {
	byAddr    map[addrKey]*Session
	byLocalID map[uint16]*Session
	byPeer    map[PeerIdentity][]*Session
	groups    map[uint16]*Session

	maxSessions int
	nextID      uint16
}

// NewTable creates a new session table.
// maxSessions limits the number of concurrent sessions (0 uses DefaultMaxSessions).
func NewTable(maxSessions int) *Table {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Table{
		byAddr:      make(map[addrKey]*Session),
		byLocalID:   make(map[uint16]*Session),
		byPeer:      make(map[PeerIdentity][]*Session),
		groups:      make(map[uint16]*Session),
		maxSessions: maxSessions,
		nextID:      MinSessionID,
	}
}

// AllocateID returns an unused local session ID in [1, 65535].
func (t *Table) AllocateID() (uint16, error) {
	if t.IsFull() {
		return 0, ErrSessionTableFull
	}

	start := t.nextID
	for {
		id := t.nextID
		t.nextID++
		if t.nextID == 0 {
			t.nextID = MinSessionID
		}
		if _, used := t.byLocalID[id]; !used {
			return id, nil
		}
		if t.nextID == start {
			return 0, ErrSessionIDExhausted
		}
	}
}

// Insert adds s to every index.
func (t *Table) Insert(s *Session) error {
	if s == nil {
		return ErrInvalidSessionID
	}
	if t.IsFull() {
		return ErrSessionTableFull
	}

	if s.typ == TypeGroup {
		if _, exists := t.groups[s.localID]; exists {
			return ErrDuplicateSession
		}
		t.groups[s.localID] = s
		return nil
	}

	if s.localID == 0 {
		return ErrInvalidSessionID
	}
	if _, exists := t.byLocalID[s.localID]; exists {
		return ErrDuplicateSession
	}
	key := addrKey{s.peerAddr.Key(), s.localID}
	if _, exists := t.byAddr[key]; exists {
		return ErrDuplicateSession
	}

	t.byLocalID[s.localID] = s
	t.byAddr[key] = s
	if !s.identity.IsZero() {
		t.byPeer[s.identity] = append(t.byPeer[s.identity], s)
	}
	return nil
}

// Remove drops s from every index. Removing an absent session is a no-op.
func (t *Table) Remove(s *Session) {
	if s.typ == TypeGroup {
		if t.groups[s.localID] == s {
			delete(t.groups, s.localID)
		}
		return
	}
	if t.byLocalID[s.localID] != s {
		return
	}
	delete(t.byLocalID, s.localID)
	delete(t.byAddr, addrKey{s.peerAddr.Key(), s.localID})

	peers := t.byPeer[s.identity]
	for i, p := range peers {
		if p == s {
			peers = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(peers) == 0 {
		delete(t.byPeer, s.identity)
	} else {
		t.byPeer[s.identity] = peers
	}
}

// Find returns the unicast session the peer at addr addresses as id.
func (t *Table) Find(addr transport.PeerAddress, id uint16) *Session {
	return t.byAddr[addrKey{addr.Key(), id}]
}

// FindByLocalID returns the unicast session with local ID id.
func (t *Table) FindByLocalID(id uint16) *Session {
	return t.byLocalID[id]
}

// FindGroup returns the group session with the given ID.
func (t *Table) FindGroup(id uint16) *Session {
	return t.groups[id]
}

// FindByPeer returns every session with the given peer identity.
func (t *Table) FindByPeer(identity PeerIdentity) []*Session {
	peers := t.byPeer[identity]
	result := make([]*Session, len(peers))
	copy(result, peers)
	return result
}

// UpdateAddress moves s to a new peer address.
func (t *Table) UpdateAddress(s *Session, addr transport.PeerAddress) {
	if t.byLocalID[s.localID] != s {
		return
	}
	delete(t.byAddr, addrKey{s.peerAddr.Key(), s.localID})
	s.peerAddr = addr
	t.byAddr[addrKey{addr.Key(), s.localID}] = s
}

// ForEach calls fn for every session until fn returns false. fn may not
// modify the table; collect sessions first to remove them.
func (t *Table) ForEach(fn func(*Session) bool) {
	for _, s := range t.byLocalID {
		if !fn(s) {
			return
		}
	}
	for _, s := range t.groups {
		if !fn(s) {
			return
		}
	}
}

// Count returns the number of sessions in the table.
func (t *Table) Count() int {
	return len(t.byLocalID) + len(t.groups)
}

// IsFull returns true if no more sessions can be added.
func (t *Table) IsFull() bool {
	return t.Count() >= t.maxSessions
}
