package session

import (
	"errors"
	"time"

	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/transport"
)

// Inbound is an authenticated message whose counter has been checked but
// not yet accepted.
type Inbound struct {
	Session *Session
	Frame   *message.Frame
	Status  message.CounterStatus

	manager   *Manager
	migrateTo *transport.PeerAddress
}

// Accept records the message counter in the session's replay window. It
// must be called once for every New message the caller processes. If the
// message arrived from a new address, the session follows the peer there.
func (in *Inbound) Accept(now time.Time) {
	if in.Status != message.CounterNew || in.Session.evicted {
		return
	}
	in.Session.AcceptCounter(&in.Frame.Header, now)
	if in.migrateTo != nil {
		if in.manager.log != nil {
			in.manager.log.Infof("%s moved to %s", in.Session, *in.migrateTo)
		}
		in.manager.table.UpdateAddress(in.Session, *in.migrateTo)
		in.migrateTo = nil
	}
}

// receiveLookup resolves inbound keys for message.Decode and remembers the
// session it picked.
type receiveLookup struct {
	m        *Manager
	from     transport.PeerAddress
	session  *Session
	migrated bool
}

func (l *receiveLookup) LookupCodec(h *message.Header) (*message.Codec, uint64, error) {
	var s *Session
	if h.SessionType == message.SessionTypeGroup {
		s = l.m.table.FindGroup(h.SessionID)
	} else {
		s = l.m.table.Find(l.from, h.SessionID)
		if s == nil {
			// Known session, new address: only honored if the message
			// authenticates and is fresh.
			if s = l.m.table.FindByLocalID(h.SessionID); s != nil {
				l.migrated = true
			}
		}
	}
	if s == nil {
		return nil, 0, message.ErrUnknownSession
	}
	l.session = s
	codec, source := s.receiveCodec(h)
	return codec, source, nil
}

// Open parses and authenticates data received from addr. The replay
// window is consulted but not advanced; call Inbound.Accept for that.
//
// Errors wrap message.ErrMalformed, message.ErrAuthentication or
// message.ErrUnknownSession and are meant to be counted and dropped.
// When a failure budget is configured, authentication failures from the
// session's current peer address draw from it and exhausting it evicts
// the session. Packets matched by session ID alone never do.
func (m *Manager) Open(data []byte, from transport.PeerAddress) (*Inbound, error) {
	lookup := &receiveLookup{m: m, from: from}
	frame, err := message.Decode(data, lookup)
	if err != nil {
		if s := lookup.session; s != nil && !lookup.migrated && errors.Is(err, message.ErrAuthentication) {
			if s.noteAuthFailure(m.clock.Now()) {
				m.Evict(s, ReasonAuthFailures)
			}
		}
		return nil, err
	}

	in := &Inbound{Frame: frame, manager: m}
	if frame.Header.IsUnauthenticated() {
		s, err := m.unauthenticatedFor(from, &frame.Header)
		if err != nil {
			return nil, err
		}
		in.Session = s
	} else {
		in.Session = lookup.session
		if lookup.migrated {
			addr := from
			in.migrateTo = &addr
		}
	}
	in.Status = in.Session.CounterStatus(&frame.Header)
	return in, nil
}
