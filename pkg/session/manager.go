package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pion/logging"
	"golang.org/x/time/rate"

	"github.com/backkem/msglayer/pkg/crypto"
	"github.com/backkem/msglayer/pkg/fabric"
	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/transport"
)

// Manager defaults.
const (
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultMaxGroupPeers     = 64
	DefaultAuthFailureRefill = time.Second
)

// EvictionObserver is told about every evicted session, after the session
// has left the table and before its keys are wiped.
type EvictionObserver interface {
	SessionEvicted(s *Session, reason EvictReason)
}

// EvictionFunc adapts a function to EvictionObserver.
type EvictionFunc func(s *Session, reason EvictReason)

// SessionEvicted calls f.
func (f EvictionFunc) SessionEvicted(s *Session, reason EvictReason) { f(s, reason) }

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// MaxSessions limits secure and group sessions together.
	// Default: DefaultMaxSessions
	MaxSessions int

	// MaxUnauthenticated limits concurrent unauthenticated sessions.
	// Default: DefaultMaxUnauthenticated
	MaxUnauthenticated int

	// MaxGroupPeers limits the senders tracked per group session.
	// Default: DefaultMaxGroupPeers
	MaxGroupPeers int

	// IdleTimeout evicts sessions without traffic for this long.
	// Default: DefaultIdleTimeout. Negative disables idle eviction.
	IdleTimeout time.Duration

	// AuthFailureBurst is how many authentication failures a session
	// tolerates from its current peer address before eviction. The budget
	// refills one unit per AuthFailureRefill. Zero or negative disables
	// eviction; failures are then only counted and dropped.
	AuthFailureBurst  int
	AuthFailureRefill time.Duration

	// Clock supplies timestamps for installs. Default: wall clock.
	Clock clock.Clock

	// LoggerFactory creates the "session" logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for values that cannot be defaulted.
func (c ManagerConfig) Validate() error {
	if c.MaxSessions < 0 || c.MaxUnauthenticated < 0 || c.MaxGroupPeers < 0 {
		return errors.New("session: negative table size")
	}
	if c.AuthFailureRefill < 0 {
		return errors.New("session: negative auth failure refill")
	}
	return nil
}

func (c *ManagerConfig) applyDefaults() {
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.MaxUnauthenticated == 0 {
		c.MaxUnauthenticated = DefaultMaxUnauthenticated
	}
	if c.MaxGroupPeers == 0 {
		c.MaxGroupPeers = DefaultMaxGroupPeers
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.AuthFailureRefill == 0 {
		c.AuthFailureRefill = DefaultAuthFailureRefill
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Manager owns every session of a node.
type Manager struct {
	config        ManagerConfig
	clock         clock.Clock
	table         *Table
	unauth        *lru.Cache[unauthKey, *Session]
	globalCounter *message.MessageCounter
	observers     []EvictionObserver
	log           logging.LeveledLogger
}

// NewManager creates a new session manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	m := &Manager{
		config:        config,
		clock:         config.Clock,
		table:         NewTable(config.MaxSessions),
		globalCounter: message.NewWrappingCounter(),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("session")
	}

	unauth, err := lru.NewWithEvict[unauthKey, *Session](config.MaxUnauthenticated, func(_ unauthKey, s *Session) {
		// Capacity evictions arrive here without going through Evict.
		if !s.evicted {
			m.finishEvict(s, ReasonCapacity)
		}
	})
	if err != nil {
		return nil, err
	}
	m.unauth = unauth
	return m, nil
}

// AddEvictionObserver registers o for eviction notifications.
func (m *Manager) AddEvictionObserver(o EvictionObserver) {
	m.observers = append(m.observers, o)
}

// InstallParams describes a session negotiated by the handshake layer.
type InstallParams struct {
	// LocalSessionID is allocated when zero. For group sessions it is the
	// shared group session ID; when zero it is derived from the group key.
	LocalSessionID uint16
	PeerSessionID  uint16

	Type        Type
	Role        Role
	Suite       crypto.Suite
	PeerAddress transport.PeerAddress

	// Keys holds the I2R and R2I keys of a unicast session. GroupKey holds
	// the shared key of a group session. The manager keeps copies.
	Keys     crypto.SessionKeys
	GroupKey []byte

	// EpochKey and CompressedFabricID derive GroupKey when it is empty.
	EpochKey           []byte
	CompressedFabricID []byte

	Identity    PeerIdentity
	LocalNodeID fabric.NodeID
	GroupID     fabric.GroupID
	Params      Params

	// CounterLimit caps the local send counter. Zero means no cap below 2^32-1.
	CounterLimit uint32
}

// InstallSession creates a session from negotiated key material and adds
// it to the table.
func (m *Manager) InstallSession(p InstallParams) (*Session, error) {
	if p.Type == TypeGroup {
		return m.installGroup(p)
	}
	if !p.Type.IsSecureUnicast() {
		return nil, ErrInvalidSessionType
	}
	if !p.Role.IsValid() {
		return nil, ErrInvalidRole
	}
	if !p.PeerAddress.IsValid() {
		return nil, ErrInvalidAddress
	}
	if p.PeerSessionID == 0 {
		return nil, ErrInvalidSessionID
	}
	if err := p.Params.Validate(); err != nil {
		return nil, err
	}

	sendKey, recvKey := p.Keys.I2R, p.Keys.R2I
	if p.Role == RoleResponder {
		sendKey, recvKey = recvKey, sendKey
	}
	sendCodec, err := m.newCodec(p.Suite, sendKey, p.PeerAddress)
	if err != nil {
		return nil, err
	}
	recvCodec, err := m.newCodec(p.Suite, recvKey, p.PeerAddress)
	if err != nil {
		return nil, err
	}

	if p.LocalSessionID == 0 {
		if p.LocalSessionID, err = m.table.AllocateID(); err != nil {
			return nil, err
		}
	}

	s := m.newSecure(p)
	s.sendCodec = sendCodec
	s.recvCodec = recvCodec
	s.keys = [][]byte{cloneKey(sendKey), cloneKey(recvKey)}
	s.peerCounter = message.NewPeerCounter(message.PolicyStrict)

	if err := m.table.Insert(s); err != nil {
		s.zeroize()
		return nil, err
	}
	if m.log != nil {
		m.log.Infof("installed %s (%s, peer %s)", s, s.role, s.identity)
	}
	return s, nil
}

func (m *Manager) installGroup(p InstallParams) (*Session, error) {
	if len(p.GroupKey) == 0 && len(p.EpochKey) > 0 {
		key, err := crypto.DeriveGroupKey(p.Suite, p.EpochKey, p.CompressedFabricID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		defer crypto.Zeroize(key)
		p.GroupKey = key
	}
	if p.LocalSessionID == 0 && len(p.GroupKey) > 0 {
		id, err := crypto.DeriveGroupSessionID(p.GroupKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		p.LocalSessionID = id
	}
	if p.LocalSessionID == 0 {
		return nil, ErrInvalidSessionID
	}
	codec, err := m.newCodec(p.Suite, p.GroupKey, p.PeerAddress)
	if err != nil {
		return nil, err
	}
	groupPeers, err := lru.New[fabric.NodeID, *message.PeerCounter](m.config.MaxGroupPeers)
	if err != nil {
		return nil, err
	}

	p.PeerSessionID = p.LocalSessionID
	s := m.newSecure(p)
	s.counter = message.NewWrappingCounter()
	s.sendCodec = codec
	s.recvCodec = codec
	s.keys = [][]byte{cloneKey(p.GroupKey)}
	s.groupPeers = groupPeers

	if err := m.table.Insert(s); err != nil {
		s.zeroize()
		return nil, err
	}
	if m.log != nil {
		m.log.Infof("installed %s for %s", s, s.groupID)
	}
	return s, nil
}

func (m *Manager) newSecure(p InstallParams) *Session {
	now := m.clock.Now()
	s := &Session{
		localID:      p.LocalSessionID,
		peerID:       p.PeerSessionID,
		typ:          p.Type,
		role:         p.Role,
		counter:      message.NewMessageCounter(),
		peerAddr:     p.PeerAddress,
		identity:     p.Identity,
		localNodeID:  p.LocalNodeID,
		groupID:      p.GroupID,
		params:       p.Params,
		lastActivity: now,
	}
	if p.CounterLimit > 0 {
		s.counter.SetRolloverLimit(p.CounterLimit)
	}
	if m.config.AuthFailureBurst > 0 {
		s.authFailures = rate.NewLimiter(rate.Every(m.config.AuthFailureRefill), m.config.AuthFailureBurst)
	}
	return s
}

func (m *Manager) newCodec(suite crypto.Suite, key []byte, addr transport.PeerAddress) (*message.Codec, error) {
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}
	codec, err := message.NewCodec(suite, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if addr.TransportType.IsReliable() {
		codec.SetMaxMessageSize(message.MaxStreamMessageSize)
	}
	return codec, nil
}

func cloneKey(k []byte) []byte {
	return append([]byte(nil), k...)
}

// Find returns the unicast session the peer at addr addresses as sessionID.
func (m *Manager) Find(addr transport.PeerAddress, sessionID uint16) *Session {
	return m.table.Find(addr, sessionID)
}

// FindByLocalID returns the unicast session with the given local ID.
func (m *Manager) FindByLocalID(sessionID uint16) *Session {
	return m.table.FindByLocalID(sessionID)
}

// FindGroup returns the group session with the given ID.
func (m *Manager) FindGroup(sessionID uint16) *Session {
	return m.table.FindGroup(sessionID)
}

// FindByPeer returns every session established with identity.
func (m *Manager) FindByPeer(identity PeerIdentity) []*Session {
	return m.table.FindByPeer(identity)
}

// Count returns the number of secure and group sessions.
func (m *Manager) Count() int {
	return m.table.Count()
}

// ExpireSessionsForPeer evicts every session with identity and returns how
// many were evicted.
func (m *Manager) ExpireSessionsForPeer(identity PeerIdentity) int {
	sessions := m.table.FindByPeer(identity)
	for _, s := range sessions {
		m.Evict(s, ReasonPeerExpired)
	}
	return len(sessions)
}

// Evict removes s, notifies observers and wipes its keys. Evicting an
// already evicted session is a no-op.
func (m *Manager) Evict(s *Session, reason EvictReason) {
	if s == nil || s.evicted {
		return
	}
	// Mark first so the LRU callback does not report the removal again.
	s.evicted = true
	if s.typ == TypeUnauthenticated {
		m.unauth.Remove(s.unauthKey())
	} else {
		m.table.Remove(s)
	}
	m.finishEvict(s, reason)
}

func (m *Manager) finishEvict(s *Session, reason EvictReason) {
	s.evicted = true
	s.reason = reason
	if m.log != nil {
		m.log.Infof("evicted %s: %s", s, reason)
	}
	for _, o := range m.observers {
		o.SessionEvicted(s, reason)
	}
	s.zeroize()
}

// Tick evicts sessions idle for longer than the idle timeout. Group
// sessions are provisioned rather than negotiated and never idle out.
func (m *Manager) Tick(now time.Time) {
	if m.config.IdleTimeout < 0 {
		return
	}
	deadline := now.Add(-m.config.IdleTimeout)

	var idle []*Session
	m.table.ForEach(func(s *Session) bool {
		if !s.IsGroup() && s.lastActivity.Before(deadline) {
			idle = append(idle, s)
		}
		return true
	})
	for _, key := range m.unauth.Keys() {
		if s, ok := m.unauth.Peek(key); ok && s.lastActivity.Before(deadline) {
			idle = append(idle, s)
		}
	}

	for _, s := range idle {
		m.Evict(s, ReasonIdleTimeout)
	}
}

// Shutdown evicts every session.
func (m *Manager) Shutdown() {
	var all []*Session
	m.table.ForEach(func(s *Session) bool {
		all = append(all, s)
		return true
	})
	all = append(all, m.unauth.Values()...)
	for _, s := range all {
		m.Evict(s, ReasonShutdown)
	}
}
