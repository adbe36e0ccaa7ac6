package session

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/backkem/msglayer/pkg/crypto"
	"github.com/backkem/msglayer/pkg/fabric"
	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/transport"
)

// PeerIdentity names the peer of an established session. It is opaque to
// this layer and only used for lookup and expiry.
type PeerIdentity struct {
	FabricIndex fabric.FabricIndex
	NodeID      fabric.NodeID
}

// IsZero reports whether no identity is known.
func (p PeerIdentity) IsZero() bool {
	return p == PeerIdentity{}
}

// String returns a human-readable representation of the identity.
func (p PeerIdentity) String() string {
	return fmt.Sprintf("%d/%016X", p.FabricIndex, uint64(p.NodeID))
}

// Session is one negotiated security context. The Manager owns every
// Session; other packages hold non-owning references that become inert once
// IsEvicted reports true.
type Session struct {
	localID uint16
	peerID  uint16
	typ     Type
	role    Role

	// sendCodec and recvCodec are the same codec for group sessions.
	sendCodec *message.Codec
	recvCodec *message.Codec
	keys      [][]byte

	counter     *message.MessageCounter
	peerCounter *message.PeerCounter
	groupPeers  *lru.Cache[fabric.NodeID, *message.PeerCounter]

	peerAddr    transport.PeerAddress
	identity    PeerIdentity
	localNodeID fabric.NodeID
	peerNodeID  fabric.NodeID
	groupID     fabric.GroupID
	params      Params

	lastActivity time.Time
	lastHeard    time.Time
	authFailures *rate.Limiter

	evicted bool
	reason  EvictReason
}

// LocalID returns the session ID this node chose; peers put it in the
// headers they send.
func (s *Session) LocalID() uint16 { return s.localID }

// PeerID returns the session ID the peer chose; it goes into headers this
// node sends.
func (s *Session) PeerID() uint16 { return s.peerID }

// Type returns the session type.
func (s *Session) Type() Type { return s.typ }

// Role returns the local role during establishment.
func (s *Session) Role() Role { return s.role }

// PeerAddress returns the current peer address.
func (s *Session) PeerAddress() transport.PeerAddress { return s.peerAddr }

// Identity returns the peer identity.
func (s *Session) Identity() PeerIdentity { return s.identity }

// GroupID returns the destination group of a group session.
func (s *Session) GroupID() fabric.GroupID { return s.groupID }

// LocalNodeID returns the node ID this side sends as its source, if any.
func (s *Session) LocalNodeID() fabric.NodeID { return s.localNodeID }

// Params returns the peer's advertised reliability timing.
func (s *Session) Params() Params { return s.params }

// SetParams records timing advertised by the peer.
func (s *Session) SetParams(p Params) { s.params = p }

// LastActivity returns the time of the last send or accepted receive.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// LastHeard returns the time of the last accepted receive.
func (s *Session) LastHeard() time.Time { return s.lastHeard }

// IsGroup reports whether this is a group session.
func (s *Session) IsGroup() bool { return s.typ == TypeGroup }

// IsEvicted reports whether the session has been evicted.
func (s *Session) IsEvicted() bool { return s.evicted }

// EvictReason returns why the session was evicted. Only meaningful once
// IsEvicted is true.
func (s *Session) EvictReason() EvictReason { return s.reason }

// NextCounter returns the value the next sealed message will carry.
func (s *Session) NextCounter() uint32 { return s.counter.Current() }

// String returns a short description for logs.
func (s *Session) String() string {
	return fmt.Sprintf("%s session %d->%d %s", s.typ, s.localID, s.peerID, s.peerAddr)
}

// Touch records local activity at now.
func (s *Session) Touch(now time.Time) {
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// Seal allocates the next message counter, fills in the session fields of h
// and encodes the message. The returned buffer is ready for the transport.
// A retransmission reuses the buffer rather than calling Seal again.
func (s *Session) Seal(h *message.Header, payload []byte) ([]byte, error) {
	if s.evicted {
		return nil, ErrSessionEvicted
	}

	counter, err := s.counter.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCounterExhausted, err)
	}
	h.MessageCounter = counter

	switch s.typ {
	case TypeUnauthenticated:
		// The initiator names itself; the responder names the initiator.
		h.SessionID = 0
		h.SourcePresent = s.role == RoleInitiator
		h.DestinationPresent = s.role == RoleResponder
		h.SourceNodeID = 0
		h.DestinationNodeID = 0
		if h.SourcePresent {
			h.SourceNodeID = uint64(s.localNodeID)
		} else {
			h.DestinationNodeID = uint64(s.peerNodeID)
		}
		return message.EncodeUnencrypted(h, payload)

	case TypeGroup:
		h.SessionID = s.peerID
		h.SessionType = message.SessionTypeGroup
		h.SourcePresent = true
		h.SourceNodeID = uint64(s.localNodeID)
		h.DestinationPresent = true
		h.DestinationNodeID = uint64(s.groupID)
		return s.sendCodec.Encode(h, message.GroupNonceSource(h.SourceNodeID), payload)

	default:
		h.SessionID = s.peerID
		h.SessionType = message.SessionTypeUnicast
		source := message.UnicastNonceSource(s.peerID, s.role == RoleResponder)
		return s.sendCodec.Encode(h, source, payload)
	}
}

// receiveCodec returns the codec and nonce source for an inbound header.
func (s *Session) receiveCodec(h *message.Header) (*message.Codec, uint64) {
	if s.typ == TypeGroup {
		return s.recvCodec, message.GroupNonceSource(h.SourceNodeID)
	}
	// The peer sent in the opposite direction to this node's role.
	return s.recvCodec, message.UnicastNonceSource(s.localID, s.role == RoleInitiator)
}

// window returns the replay window that covers h, creating a per-sender
// window for group messages on first use.
func (s *Session) window(h *message.Header) *message.PeerCounter {
	if s.typ != TypeGroup {
		return s.peerCounter
	}
	sender := fabric.NodeID(h.SourceNodeID)
	if w, ok := s.groupPeers.Get(sender); ok {
		return w
	}
	w := message.NewPeerCounter(message.PolicyRollover)
	s.groupPeers.Add(sender, w)
	return w
}

// CounterStatus reports whether the counter in h is new, a duplicate or
// stale, without changing the window.
func (s *Session) CounterStatus(h *message.Header) message.CounterStatus {
	if s.typ == TypeGroup {
		w, ok := s.groupPeers.Peek(fabric.NodeID(h.SourceNodeID))
		if !ok {
			return message.CounterNew
		}
		return w.Status(h.MessageCounter)
	}
	return s.peerCounter.Status(h.MessageCounter)
}

// AcceptCounter marks the counter in h as received and records peer
// activity. It must only be called for authenticated messages.
func (s *Session) AcceptCounter(h *message.Header, now time.Time) {
	s.window(h).Accept(h.MessageCounter)
	s.Touch(now)
	if now.After(s.lastHeard) {
		s.lastHeard = now
	}
}

// noteAuthFailure consumes one unit of the failure budget and reports
// whether the budget is exhausted.
func (s *Session) noteAuthFailure(now time.Time) bool {
	if s.authFailures == nil {
		return false
	}
	return !s.authFailures.AllowN(now, 1)
}

// zeroize wipes key material and drops the codecs.
func (s *Session) zeroize() {
	for _, k := range s.keys {
		crypto.Zeroize(k)
	}
	s.keys = nil
	s.sendCodec = nil
	s.recvCodec = nil
}
