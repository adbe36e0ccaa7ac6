package session

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/backkem/msglayer/pkg/fabric"
	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/transport"
)

// DefaultMaxUnauthenticated bounds the number of concurrent handshakes.
const DefaultMaxUnauthenticated = 8

// unauthKey identifies an unauthenticated session by peer address and the
// initiator's ephemeral node ID, which both sides put on the wire.
type unauthKey struct {
	addr      string
	ephemeral fabric.NodeID
}

func (s *Session) unauthKey() unauthKey {
	ephemeral := s.localNodeID
	if s.role == RoleResponder {
		ephemeral = s.peerNodeID
	}
	return unauthKey{addr: s.peerAddr.Key(), ephemeral: ephemeral}
}

// randomEphemeralID returns a random operational node ID.
func randomEphemeralID() fabric.NodeID {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return fabric.NodeIDMinOperational
		}
		id := fabric.NodeID(binary.LittleEndian.Uint64(buf[:]))
		if id.IsOperational() {
			return id
		}
	}
}

func (m *Manager) newUnauthenticated(addr transport.PeerAddress, role Role, local, peer fabric.NodeID) *Session {
	now := m.clock.Now()
	s := &Session{
		typ:          TypeUnauthenticated,
		role:         role,
		counter:      m.globalCounter,
		peerCounter:  message.NewPeerCounter(message.PolicyRelaxed),
		peerAddr:     addr,
		localNodeID:  local,
		peerNodeID:   peer,
		lastActivity: now,
	}
	m.unauth.Add(s.unauthKey(), s)
	return s
}

// NewUnauthenticated starts an unauthenticated session towards addr for a
// handshake this node initiates. The least recently used unauthenticated
// session is evicted when the table is full.
func (m *Manager) NewUnauthenticated(addr transport.PeerAddress) (*Session, error) {
	if !addr.IsValid() {
		return nil, ErrInvalidAddress
	}
	return m.newUnauthenticated(addr, RoleInitiator, randomEphemeralID(), fabric.NodeIDUnspecified), nil
}

// unauthenticatedFor finds or creates the unauthenticated session for an
// inbound message. A message with a source node comes from an initiator and
// may create a responder session; otherwise it answers one of ours.
func (m *Manager) unauthenticatedFor(from transport.PeerAddress, h *message.Header) (*Session, error) {
	switch {
	case h.SourcePresent:
		peer := fabric.NodeID(h.SourceNodeID)
		if s, ok := m.unauth.Get(unauthKey{from.Key(), peer}); ok {
			return s, nil
		}
		return m.newUnauthenticated(from, RoleResponder, fabric.NodeIDUnspecified, peer), nil
	case h.DestinationPresent:
		if s, ok := m.unauth.Get(unauthKey{from.Key(), fabric.NodeID(h.DestinationNodeID)}); ok {
			return s, nil
		}
		return nil, ErrSessionNotFound
	default:
		return nil, ErrMissingEphemeralID
	}
}

// UnauthenticatedCount returns the number of live unauthenticated sessions.
func (m *Manager) UnauthenticatedCount() int {
	return m.unauth.Len()
}
