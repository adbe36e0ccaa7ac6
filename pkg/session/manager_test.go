package session

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/backkem/msglayer/pkg/crypto"
	"github.com/backkem/msglayer/pkg/fabric"
	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/transport"
)

var (
	addrA = transport.NewUDPPeerAddress(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5540})
	addrB = transport.NewUDPPeerAddress(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5540})
	addrC = transport.NewUDPPeerAddress(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 6000})
)

type testPair struct {
	clk      *clock.Mock
	mA, mB   *Manager
	sA, sB   *Session
	evictedA []EvictReason
}

func newTestManager(t *testing.T, clk *clock.Mock, cfg ManagerConfig) *Manager {
	t.Helper()
	cfg.Clock = clk
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// newTestPair installs mirrored CASE sessions: A (initiator, local 10) at
// addrA and B (responder, local 20) at addrB.
func newTestPair(t *testing.T, cfg ManagerConfig) *testPair {
	t.Helper()
	p := &testPair{clk: clock.NewMock()}
	p.clk.Set(time.Unix(1000, 0))
	p.mA = newTestManager(t, p.clk, cfg)
	p.mB = newTestManager(t, p.clk, cfg)
	p.mA.AddEvictionObserver(EvictionFunc(func(_ *Session, r EvictReason) {
		p.evictedA = append(p.evictedA, r)
	}))

	keys, err := crypto.DeriveSessionKeys(crypto.SuiteChaCha20Poly1305, []byte("shared secret"), nil)
	if err != nil {
		t.Fatalf("DeriveSessionKeys: %v", err)
	}

	p.sA, err = p.mA.InstallSession(InstallParams{
		LocalSessionID: 10,
		PeerSessionID:  20,
		Type:           TypeCASE,
		Role:           RoleInitiator,
		PeerAddress:    addrB,
		Keys:           keys,
		Identity:       PeerIdentity{FabricIndex: 1, NodeID: 0xB},
	})
	if err != nil {
		t.Fatalf("InstallSession A: %v", err)
	}
	p.sB, err = p.mB.InstallSession(InstallParams{
		LocalSessionID: 20,
		PeerSessionID:  10,
		Type:           TypeCASE,
		Role:           RoleResponder,
		PeerAddress:    addrA,
		Keys:           keys,
		Identity:       PeerIdentity{FabricIndex: 1, NodeID: 0xA},
	})
	if err != nil {
		t.Fatalf("InstallSession B: %v", err)
	}
	return p
}

func seal(t *testing.T, s *Session, payload string) []byte {
	t.Helper()
	buf, err := s.Seal(&message.Header{ExchangeID: 1, ProtocolID: 1, MessageType: 1}, []byte(payload))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return buf
}

func TestManagerSealOpen(t *testing.T) {
	p := newTestPair(t, ManagerConfig{})

	for i, dir := range []struct {
		from *Session
		to   *Manager
		addr transport.PeerAddress
		want *Session
	}{
		{p.sA, p.mB, addrA, p.sB},
		{p.sB, p.mA, addrB, p.sA},
	} {
		buf := seal(t, dir.from, "ping")
		in, err := dir.to.Open(buf, dir.addr)
		if err != nil {
			t.Fatalf("direction %d: Open: %v", i, err)
		}
		if in.Session != dir.want {
			t.Errorf("direction %d: opened on wrong session", i)
		}
		if string(in.Frame.Payload) != "ping" || in.Status != message.CounterNew {
			t.Errorf("direction %d: payload %q status %v", i, in.Frame.Payload, in.Status)
		}
		in.Accept(p.clk.Now())

		again, err := dir.to.Open(buf, dir.addr)
		if err != nil {
			t.Fatalf("direction %d: reopen: %v", i, err)
		}
		if again.Status != message.CounterDuplicate {
			t.Errorf("direction %d: replay status = %v", i, again.Status)
		}
	}
}

func TestManagerOpenDoesNotAcceptOnFailure(t *testing.T) {
	p := newTestPair(t, ManagerConfig{})
	buf := seal(t, p.sA, "data")
	buf[len(buf)-1] ^= 0xFF

	if _, err := p.mB.Open(buf, addrA); !errors.Is(err, message.ErrAuthentication) {
		t.Fatalf("Open tampered err = %v", err)
	}
	if p.sB.peerCounter.Synced() {
		t.Error("failed open touched the replay window")
	}

	if _, err := p.mB.Open([]byte{1, 2, 3}, addrA); !errors.Is(err, message.ErrMalformed) {
		t.Errorf("short message err = %v", err)
	}
}

func TestManagerUnknownSession(t *testing.T) {
	p := newTestPair(t, ManagerConfig{})
	buf, _ := p.sA.Seal(&message.Header{}, nil)
	p.mB.Evict(p.sB, ReasonClosed)

	if _, err := p.mB.Open(buf, addrA); !errors.Is(err, message.ErrUnknownSession) {
		t.Errorf("err = %v, want ErrUnknownSession", err)
	}
}

func TestManagerAddressMigration(t *testing.T) {
	p := newTestPair(t, ManagerConfig{})

	first := seal(t, p.sA, "one")
	in, err := p.mB.Open(first, addrA)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	in.Accept(p.clk.Now())

	// A replay from a new address must not move the session.
	in, err = p.mB.Open(first, addrC)
	if err != nil {
		t.Fatalf("Open replay: %v", err)
	}
	in.Accept(p.clk.Now())
	if !p.sB.PeerAddress().Equal(addrA) {
		t.Fatalf("replay moved session to %s", p.sB.PeerAddress())
	}

	second := seal(t, p.sA, "two")
	in, err = p.mB.Open(second, addrC)
	if err != nil {
		t.Fatalf("Open from new address: %v", err)
	}
	in.Accept(p.clk.Now())
	if !p.sB.PeerAddress().Equal(addrC) {
		t.Errorf("peer address = %s, want %s", p.sB.PeerAddress(), addrC)
	}
	if p.mB.Find(addrC, 20) != p.sB || p.mB.Find(addrA, 20) != nil {
		t.Error("table not re-indexed after migration")
	}
}

func TestManagerAuthFailureBudget(t *testing.T) {
	p := newTestPair(t, ManagerConfig{AuthFailureBurst: 3, AuthFailureRefill: time.Hour})

	var evicted []EvictReason
	p.mB.AddEvictionObserver(EvictionFunc(func(_ *Session, r EvictReason) { evicted = append(evicted, r) }))

	forged := seal(t, p.sA, "x")
	forged[len(forged)-2] ^= 0x01
	for i := 0; i < 3; i++ {
		if _, err := p.mB.Open(forged, addrA); !errors.Is(err, message.ErrAuthentication) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
		if p.sB.IsEvicted() {
			t.Fatalf("evicted after %d failures", i+1)
		}
	}
	p.mB.Open(forged, addrA)

	if !p.sB.IsEvicted() || p.sB.EvictReason() != ReasonAuthFailures {
		t.Fatalf("session not evicted for auth failures (evicted=%v)", p.sB.IsEvicted())
	}
	if len(evicted) != 1 || evicted[0] != ReasonAuthFailures {
		t.Errorf("observer saw %v", evicted)
	}
}

func TestAuthFailuresWithoutBudgetOrFromNewAddress(t *testing.T) {
	forge := func(p *testPair) []byte {
		forged := seal(t, p.sA, "x")
		forged[len(forged)-2] ^= 0x01
		return forged
	}

	// No budget configured: failures are dropped, never evicted.
	p := newTestPair(t, ManagerConfig{})
	forged := forge(p)
	for i := 0; i < 100; i++ {
		if _, err := p.mB.Open(forged, addrA); !errors.Is(err, message.ErrAuthentication) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if p.sB.IsEvicted() {
		t.Fatal("session evicted without a configured budget")
	}

	// A budget is configured but the packets match by session ID only.
	p = newTestPair(t, ManagerConfig{AuthFailureBurst: 3, AuthFailureRefill: time.Hour})
	forged = forge(p)
	for i := 0; i < 20; i++ {
		p.mB.Open(forged, addrC)
	}
	if p.sB.IsEvicted() {
		t.Fatal("session evicted by failures from an unverified address")
	}
	if !p.sB.PeerAddress().Equal(addrA) {
		t.Error("peer address moved by forged packets")
	}
	if _, err := p.mB.Open(seal(t, p.sA, "real"), addrA); err != nil {
		t.Errorf("genuine message after flood: %v", err)
	}
}

func TestManagerCounterExhaustion(t *testing.T) {
	p := newTestPair(t, ManagerConfig{})
	p.sA.counter = message.NewMessageCounterWithValue(5)
	p.sA.counter.SetRolloverLimit(6)

	seal(t, p.sA, "5")
	seal(t, p.sA, "6")
	_, err := p.sA.Seal(&message.Header{}, nil)
	if !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("Seal past limit err = %v, want ErrCounterExhausted", err)
	}
}

func TestManagerIdleEviction(t *testing.T) {
	p := newTestPair(t, ManagerConfig{IdleTimeout: time.Minute})

	p.clk.Add(30 * time.Second)
	p.sA.Touch(p.clk.Now())
	p.clk.Add(45 * time.Second)
	p.mA.Tick(p.clk.Now())
	if p.sA.IsEvicted() {
		t.Fatal("recently active session evicted")
	}

	p.clk.Add(20 * time.Second)
	p.mA.Tick(p.clk.Now())
	if !p.sA.IsEvicted() {
		t.Fatal("idle session not evicted")
	}
	if len(p.evictedA) != 1 || p.evictedA[0] != ReasonIdleTimeout {
		t.Errorf("evictions = %v", p.evictedA)
	}
	if p.mA.Count() != 0 {
		t.Errorf("Count() = %d after eviction", p.mA.Count())
	}
	if p.sA.sendCodec != nil || p.sA.keys != nil {
		t.Error("keys not released on eviction")
	}
	if _, err := p.sA.Seal(&message.Header{}, nil); !errors.Is(err, ErrSessionEvicted) {
		t.Errorf("Seal on evicted session err = %v", err)
	}

	// Evict is idempotent.
	p.mA.Evict(p.sA, ReasonClosed)
	if len(p.evictedA) != 1 {
		t.Errorf("second Evict notified observers: %v", p.evictedA)
	}
}

func TestManagerExpireSessionsForPeer(t *testing.T) {
	p := newTestPair(t, ManagerConfig{})
	keys, _ := crypto.DeriveSessionKeys(crypto.SuiteChaCha20Poly1305, []byte("other"), nil)
	second, err := p.mA.InstallSession(InstallParams{
		PeerSessionID: 99,
		Type:          TypePASE,
		Role:          RoleInitiator,
		PeerAddress:   addrB,
		Keys:          keys,
		Identity:      PeerIdentity{FabricIndex: 1, NodeID: 0xB},
	})
	if err != nil {
		t.Fatalf("InstallSession: %v", err)
	}
	if second.LocalID() == 0 || second.LocalID() == p.sA.LocalID() {
		t.Fatalf("allocated local ID %d", second.LocalID())
	}

	if n := p.mA.ExpireSessionsForPeer(PeerIdentity{FabricIndex: 1, NodeID: 0xB}); n != 2 {
		t.Fatalf("ExpireSessionsForPeer = %d, want 2", n)
	}
	if !p.sA.IsEvicted() || !second.IsEvicted() {
		t.Error("sessions still live")
	}
	if got := p.mA.FindByPeer(PeerIdentity{FabricIndex: 1, NodeID: 0xB}); len(got) != 0 {
		t.Errorf("FindByPeer returned %d sessions", len(got))
	}
}

func TestInstallSessionErrors(t *testing.T) {
	clk := clock.NewMock()
	m := newTestManager(t, clk, ManagerConfig{MaxSessions: 1})
	keys, _ := crypto.DeriveSessionKeys(crypto.SuiteChaCha20Poly1305, []byte("k"), nil)
	valid := InstallParams{
		LocalSessionID: 1,
		PeerSessionID:  2,
		Type:           TypeCASE,
		Role:           RoleInitiator,
		PeerAddress:    addrB,
		Keys:           keys,
	}

	tests := []struct {
		name   string
		modify func(*InstallParams)
		want   error
	}{
		{"Unauthenticated", func(p *InstallParams) { p.Type = TypeUnauthenticated }, ErrInvalidSessionType},
		{"No role", func(p *InstallParams) { p.Role = RoleUnknown }, ErrInvalidRole},
		{"No address", func(p *InstallParams) { p.PeerAddress = transport.PeerAddress{} }, ErrInvalidAddress},
		{"No peer ID", func(p *InstallParams) { p.PeerSessionID = 0 }, ErrInvalidSessionID},
		{"Short key", func(p *InstallParams) { p.Keys.I2R = []byte{1} }, ErrInvalidKey},
		{"Bad params", func(p *InstallParams) { p.Params.IdleInterval = 2 * time.Hour }, ErrInvalidParams},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.modify(&p)
			if _, err := m.InstallSession(p); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := m.InstallSession(valid); err != nil {
		t.Fatalf("InstallSession: %v", err)
	}
	dup := valid
	dup.PeerAddress = addrC
	if _, err := m.InstallSession(dup); !errors.Is(err, ErrSessionTableFull) {
		t.Errorf("full table err = %v", err)
	}
}

func TestUnauthenticatedHandshake(t *testing.T) {
	clk := clock.NewMock()
	initiator := newTestManager(t, clk, ManagerConfig{})
	responder := newTestManager(t, clk, ManagerConfig{MaxUnauthenticated: 1})

	sI, err := initiator.NewUnauthenticated(addrB)
	if err != nil {
		t.Fatalf("NewUnauthenticated: %v", err)
	}
	req, err := sI.Seal(&message.Header{Initiator: true}, []byte("hello"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	in, err := responder.Open(req, addrA)
	if err != nil {
		t.Fatalf("responder Open: %v", err)
	}
	if in.Session.Type() != TypeUnauthenticated || in.Session.Role() != RoleResponder {
		t.Fatalf("responder session = %s %s", in.Session.Type(), in.Session.Role())
	}
	in.Accept(clk.Now())
	sR := in.Session

	resp, err := sR.Seal(&message.Header{}, []byte("world"))
	if err != nil {
		t.Fatalf("responder Seal: %v", err)
	}
	back, err := initiator.Open(resp, addrB)
	if err != nil {
		t.Fatalf("initiator Open: %v", err)
	}
	if back.Session != sI || string(back.Frame.Payload) != "world" {
		t.Errorf("reply routed to %v with %q", back.Session, back.Frame.Payload)
	}

	// A second initiator pushes the first out of the one-slot table.
	var reasons []EvictReason
	responder.AddEvictionObserver(EvictionFunc(func(_ *Session, r EvictReason) { reasons = append(reasons, r) }))
	other, _ := initiator.NewUnauthenticated(addrB)
	req2, _ := other.Seal(&message.Header{Initiator: true}, nil)
	if _, err := responder.Open(req2, addrC); err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if !sR.IsEvicted() || len(reasons) != 1 || reasons[0] != ReasonCapacity {
		t.Errorf("capacity eviction: evicted=%v reasons=%v", sR.IsEvicted(), reasons)
	}
	if responder.UnauthenticatedCount() != 1 {
		t.Errorf("UnauthenticatedCount() = %d", responder.UnauthenticatedCount())
	}
}

func TestGroupSession(t *testing.T) {
	clk := clock.NewMock()
	key := bytes.Repeat([]byte{7}, crypto.SuiteChaCha20Poly1305.KeySize())
	install := func(m *Manager, node fabric.NodeID) *Session {
		s, err := m.InstallSession(InstallParams{
			LocalSessionID: 0x4242,
			Type:           TypeGroup,
			GroupKey:       key,
			LocalNodeID:    node,
			GroupID:        0x0101,
		})
		if err != nil {
			t.Fatalf("InstallSession group: %v", err)
		}
		return s
	}

	sender1 := install(newTestManager(t, clk, ManagerConfig{}), 0x1)
	sender2 := install(newTestManager(t, clk, ManagerConfig{}), 0x2)
	rm := newTestManager(t, clk, ManagerConfig{})
	receiver := install(rm, 0x3)

	// Both senders may use the same counter value; windows are per sender.
	sender2.counter = message.NewMessageCounterWithValue(sender1.NextCounter())

	for _, s := range []*Session{sender1, sender2} {
		buf, err := s.Seal(&message.Header{}, []byte("group"))
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		in, err := rm.Open(buf, addrC)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if in.Session != receiver || in.Status != message.CounterNew {
			t.Fatalf("group message from %d: session %v status %v", s.LocalNodeID(), in.Session, in.Status)
		}
		if in.Frame.Header.DestinationNodeID != 0x0101 {
			t.Errorf("destination = %#x", in.Frame.Header.DestinationNodeID)
		}
		in.Accept(clk.Now())

		again, _ := rm.Open(buf, addrC)
		if again.Status != message.CounterDuplicate {
			t.Errorf("replay status = %v", again.Status)
		}
	}
}

func TestGroupSessionFromEpochKey(t *testing.T) {
	clk := clock.NewMock()
	epoch := []byte{
		0xa0, 0xa1, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
		0xa8, 0xa9, 0xaa, 0xab, 0xac, 0xad, 0xae, 0xaf,
	}
	fabricID := []byte{0x29, 0x06, 0xC9, 0x08, 0xD1, 0x15, 0xD3, 0x62}
	install := func(node fabric.NodeID) (*Manager, *Session) {
		m := newTestManager(t, clk, ManagerConfig{})
		s, err := m.InstallSession(InstallParams{
			Type:               TypeGroup,
			Suite:              crypto.SuiteAES128CCM,
			EpochKey:           epoch,
			CompressedFabricID: fabricID,
			LocalNodeID:        node,
			GroupID:            0x0101,
		})
		if err != nil {
			t.Fatalf("InstallSession: %v", err)
		}
		return m, s
	}

	_, sender := install(0x1)
	rm, receiver := install(0x2)
	if sender.LocalID() != 0x6c80 || receiver.LocalID() != sender.LocalID() {
		t.Fatalf("group session ids %#04x and %#04x, want 0x6c80", sender.LocalID(), receiver.LocalID())
	}

	buf, err := sender.Seal(&message.Header{}, []byte("lights off"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	in, err := rm.Open(buf, addrC)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if in.Session != receiver || string(in.Frame.Payload) != "lights off" {
		t.Errorf("opened %q on %v", in.Frame.Payload, in.Session)
	}

	m := newTestManager(t, clk, ManagerConfig{})
	_, err = m.InstallSession(InstallParams{Type: TypeGroup, Suite: crypto.SuiteAES128CCM, EpochKey: epoch[:8], CompressedFabricID: fabricID})
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("short epoch key err = %v", err)
	}
}
