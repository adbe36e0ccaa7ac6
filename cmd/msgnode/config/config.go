// Package config loads the msgnode TOML configuration file.
//
// A file looks like:
//
//	[node]
//	udp = ":5540"
//	metrics = ":9100"
//	log_level = "debug"
//
//	[advertise]
//	instance = "00000000000000A1-0000000000000001"
//	idle_interval = "500ms"
//
//	[reliability.udp]
//	base_interval = "300ms"
//	max_retries = 4
//
//	[[session]]
//	name = "lamp"
//	local_id = 1
//	peer_id = 2
//	role = "initiator"
//	secret = "000102030405060708090a0b0c0d0e0f"
//	peer = "udp://192.168.1.20:5540"
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/backkem/msglayer/pkg/crypto"
	"github.com/backkem/msglayer/pkg/exchange"
	"github.com/backkem/msglayer/pkg/fabric"
	"github.com/backkem/msglayer/pkg/node"
	"github.com/backkem/msglayer/pkg/session"
	"github.com/backkem/msglayer/pkg/transport"
)

// Defaults applied when the file leaves a value out.
const (
	DefaultUDPAddr  = ":5540"
	DefaultLogLevel = "info"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// File is the decoded configuration file.
type File struct {
	Node        Node                   `toml:"node"`
	Advertise   Advertise              `toml:"advertise"`
	Reliability map[string]Reliability `toml:"reliability"`
	Sessions    []Session              `toml:"session"`
}

// Node holds listener and loop settings.
type Node struct {
	UDP          string `toml:"udp"`
	TCP          string `toml:"tcp"`
	Metrics      string `toml:"metrics"`
	LogLevel     string `toml:"log_level"`
	TickInterval string `toml:"tick_interval"`
	IngressQueue int    `toml:"ingress_queue"`
	MaxSessions  int    `toml:"max_sessions"`
	IdleTimeout  string `toml:"idle_timeout"`
	MaxExchanges int    `toml:"max_exchanges"`
}

// Advertise describes the DNS-SD record. An empty instance disables it.
type Advertise struct {
	Instance        string `toml:"instance"`
	IdleInterval    string `toml:"idle_interval"`
	ActiveInterval  string `toml:"active_interval"`
	ActiveThreshold string `toml:"active_threshold"`
}

// Reliability overrides the retransmission defaults of one transport.
// Unset fields keep the transport default.
type Reliability struct {
	Disabled     bool    `toml:"disabled"`
	BaseInterval string  `toml:"base_interval"`
	MaxInterval  string  `toml:"max_interval"`
	MaxRetries   *int    `toml:"max_retries"`
	Multiplier   float64 `toml:"multiplier"`
	Jitter       float64 `toml:"jitter"`
	AckTimeout   string  `toml:"ack_timeout"`
}

// Session is a statically keyed session. Both ends derive the same I2R and
// R2I keys from Secret.
type Session struct {
	Name    string `toml:"name"`
	LocalID uint16 `toml:"local_id"`
	PeerID  uint16 `toml:"peer_id"`
	Type    string `toml:"type"`
	Role    string `toml:"role"`
	Suite   string `toml:"suite"`
	Secret  string `toml:"secret"`

	// Peer is "udp://host:port" or "tcp://host:port". PeerInstance names a
	// DNS-SD instance to resolve instead.
	Peer         string `toml:"peer"`
	PeerInstance string `toml:"peer_instance"`

	FabricIndex uint8  `toml:"fabric_index"`
	NodeID      uint64 `toml:"node_id"`
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	var f File
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return finish(&f, meta)
}

// Decode parses and validates a configuration held in memory.
func Decode(data string) (*File, error) {
	var f File
	meta, err := toml.Decode(data, &f)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return finish(&f, meta)
}

func finish(f *File, meta toml.MetaData) (*File, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if !meta.IsDefined("node", "udp") && !meta.IsDefined("node", "tcp") {
		f.Node.UDP = DefaultUDPAddr
	}
	if f.Node.LogLevel == "" {
		f.Node.LogLevel = DefaultLogLevel
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks every section by building the values it describes.
func (f *File) Validate() error {
	if _, err := f.NodeConfig(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(f.Sessions))
	for i, s := range f.Sessions {
		if s.Name == "" {
			return fmt.Errorf("%w: session %d has no name", ErrInvalid, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate session %q", ErrInvalid, s.Name)
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Session returns the session section called name.
func (f *File) Session(name string) (Session, bool) {
	for _, s := range f.Sessions {
		if s.Name == name {
			return s, true
		}
	}
	return Session{}, false
}

// NodeConfig maps the file onto a node.Config. Clock, Metrics and
// LoggerFactory are left for the caller.
func (f *File) NodeConfig() (node.Config, error) {
	cfg := node.Config{
		UDPAddr:          f.Node.UDP,
		TCPAddr:          f.Node.TCP,
		IngressQueueSize: f.Node.IngressQueue,
	}
	var err error
	if cfg.TickInterval, err = duration("node.tick_interval", f.Node.TickInterval); err != nil {
		return node.Config{}, err
	}
	if cfg.Session.IdleTimeout, err = duration("node.idle_timeout", f.Node.IdleTimeout); err != nil {
		return node.Config{}, err
	}
	cfg.Session.MaxSessions = f.Node.MaxSessions
	cfg.Exchange.MaxExchanges = f.Node.MaxExchanges

	if len(f.Reliability) > 0 {
		cfg.Exchange.Reliability = make(map[transport.TransportType]exchange.ReliabilityConfig, len(f.Reliability))
		for name, r := range f.Reliability {
			t, err := ParseTransportType(name)
			if err != nil {
				return node.Config{}, err
			}
			rc, err := r.config(t)
			if err != nil {
				return node.Config{}, fmt.Errorf("reliability.%s: %w", name, err)
			}
			cfg.Exchange.Reliability[t] = rc
		}
	}

	if f.Advertise.Instance != "" {
		params, err := f.Advertise.params()
		if err != nil {
			return node.Config{}, err
		}
		cfg.Advertise = node.AdvertiseConfig{Instance: f.Advertise.Instance, Params: params}
	}

	if err := cfg.Validate(); err != nil {
		return node.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return cfg, nil
}

func (a Advertise) params() (session.Params, error) {
	var p session.Params
	var err error
	if p.IdleInterval, err = duration("advertise.idle_interval", a.IdleInterval); err != nil {
		return p, err
	}
	if p.ActiveInterval, err = duration("advertise.active_interval", a.ActiveInterval); err != nil {
		return p, err
	}
	if p.ActiveThreshold, err = duration("advertise.active_threshold", a.ActiveThreshold); err != nil {
		return p, err
	}
	return p.WithDefaults(), nil
}

func (r Reliability) config(t transport.TransportType) (exchange.ReliabilityConfig, error) {
	if r.Disabled {
		return exchange.ReliabilityConfig{Disabled: true}, nil
	}
	rc := exchange.DefaultReliability(t)
	if rc.Disabled {
		// Re-enabling retransmission on a reliable transport starts from
		// the UDP timing.
		rc = exchange.DefaultReliability(transport.TransportTypeUDP)
	}
	var err error
	if r.BaseInterval != "" {
		if rc.BaseInterval, err = duration("base_interval", r.BaseInterval); err != nil {
			return rc, err
		}
	}
	if r.MaxInterval != "" {
		if rc.MaxInterval, err = duration("max_interval", r.MaxInterval); err != nil {
			return rc, err
		}
	}
	if r.AckTimeout != "" {
		if rc.AckTimeout, err = duration("ack_timeout", r.AckTimeout); err != nil {
			return rc, err
		}
	}
	if r.MaxRetries != nil {
		rc.MaxRetries = *r.MaxRetries
	}
	if r.Multiplier != 0 {
		rc.Multiplier = r.Multiplier
	}
	rc.Jitter = r.Jitter
	if err := rc.Validate(); err != nil {
		return rc, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return rc, nil
}

// Validate checks the session section without resolving its peer.
func (s Session) Validate() error {
	if _, err := s.keys(); err != nil {
		return err
	}
	if _, err := parseSessionType(s.Type); err != nil {
		return err
	}
	if _, err := parseRole(s.Role); err != nil {
		return err
	}
	if s.Peer != "" && s.PeerInstance != "" {
		return fmt.Errorf("%w: session %q sets both peer and peer_instance", ErrInvalid, s.Name)
	}
	if s.Peer == "" && s.PeerInstance == "" {
		return fmt.Errorf("%w: session %q has no peer", ErrInvalid, s.Name)
	}
	return nil
}

// PeerAddress parses Peer. It fails when the session names a DNS-SD
// instance instead.
func (s Session) PeerAddress() (transport.PeerAddress, error) {
	if s.Peer == "" {
		return transport.PeerAddress{}, fmt.Errorf("%w: session %q has no static peer", ErrInvalid, s.Name)
	}
	return transport.ParsePeerAddress(s.Peer)
}

// InstallParams builds the parameters that install this session towards
// addr. The caller owns the returned keys.
func (s Session) InstallParams(addr transport.PeerAddress) (session.InstallParams, error) {
	typ, err := parseSessionType(s.Type)
	if err != nil {
		return session.InstallParams{}, err
	}
	role, err := parseRole(s.Role)
	if err != nil {
		return session.InstallParams{}, err
	}
	suite, err := crypto.ParseSuite(s.Suite)
	if err != nil {
		return session.InstallParams{}, fmt.Errorf("%w: session %q: %v", ErrInvalid, s.Name, err)
	}
	keys, err := s.keys()
	if err != nil {
		return session.InstallParams{}, err
	}
	return session.InstallParams{
		LocalSessionID: s.LocalID,
		PeerSessionID:  s.PeerID,
		Type:           typ,
		Role:           role,
		Suite:          suite,
		PeerAddress:    addr,
		Keys:           keys,
		Identity: session.PeerIdentity{
			FabricIndex: fabric.FabricIndex(s.FabricIndex),
			NodeID:      fabric.NodeID(s.NodeID),
		},
	}, nil
}

func (s Session) keys() (crypto.SessionKeys, error) {
	suite, err := crypto.ParseSuite(s.Suite)
	if err != nil {
		return crypto.SessionKeys{}, fmt.Errorf("%w: session %q: %v", ErrInvalid, s.Name, err)
	}
	secret, err := hex.DecodeString(s.Secret)
	if err != nil {
		return crypto.SessionKeys{}, fmt.Errorf("%w: session %q secret: %v", ErrInvalid, s.Name, err)
	}
	if len(secret) < 16 {
		return crypto.SessionKeys{}, fmt.Errorf("%w: session %q secret shorter than 16 bytes", ErrInvalid, s.Name)
	}
	defer crypto.Zeroize(secret)
	return crypto.DeriveSessionKeys(suite, secret, nil)
}

// ParseTransportType maps a reliability table name to its transport type.
func ParseTransportType(name string) (transport.TransportType, error) {
	switch strings.ToLower(name) {
	case "udp":
		return transport.TransportTypeUDP, nil
	case "tcp":
		return transport.TransportTypeTCP, nil
	case "ble":
		return transport.TransportTypeBLE, nil
	default:
		return transport.TransportTypeUnknown, fmt.Errorf("%w: unknown transport %q", ErrInvalid, name)
	}
}

func parseSessionType(s string) (session.Type, error) {
	switch strings.ToLower(s) {
	case "", "case":
		return session.TypeCASE, nil
	case "pase":
		return session.TypePASE, nil
	default:
		return session.TypeUnknown, fmt.Errorf("%w: unsupported session type %q", ErrInvalid, s)
	}
}

func parseRole(s string) (session.Role, error) {
	switch strings.ToLower(s) {
	case "initiator":
		return session.RoleInitiator, nil
	case "responder":
		return session.RoleResponder, nil
	default:
		return session.RoleUnknown, fmt.Errorf("%w: role must be initiator or responder, got %q", ErrInvalid, s)
	}
}

func duration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrInvalid, key, err)
	}
	return d, nil
}
