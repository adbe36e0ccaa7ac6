package node

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/backkem/msglayer/pkg/discovery"
	"github.com/backkem/msglayer/pkg/exchange"
	"github.com/backkem/msglayer/pkg/metrics"
	"github.com/backkem/msglayer/pkg/session"
	"github.com/backkem/msglayer/pkg/transport"
)

// Defaults applied by NewNode.
const (
	DefaultIngressQueueSize = 256
	DefaultTickInterval     = 10 * time.Millisecond
)

// Config composes the configuration of every layer a Node owns.
type Config struct {
	// UDPAddr and TCPAddr are the listen addresses. At least one is
	// required unless Sender is set.
	UDPAddr string
	TCPAddr string

	// Sender replaces the built-in transports. Inbound messages must then
	// be fed through DeliverBuffer. Used by tests and custom links.
	Sender transport.Sender

	// Session configures the session table. Clock and LoggerFactory are
	// taken from this Config.
	Session session.ManagerConfig

	// Exchange configures the exchange layer. Sessions, Transport, Clock,
	// Metrics and LoggerFactory are filled in by the node.
	Exchange exchange.ManagerConfig

	// IngressQueueSize bounds messages waiting for the event loop.
	// Default: DefaultIngressQueueSize
	IngressQueueSize int

	// TickInterval is how often the event loop runs timers.
	// Default: DefaultTickInterval
	TickInterval time.Duration

	// Advertise publishes this node over DNS-SD once started. The zero
	// value disables advertisement.
	Advertise AdvertiseConfig

	// Clock drives timers and timestamps. Default: wall clock.
	Clock clock.Clock

	// Metrics records diagnostics. Nil disables them.
	Metrics *metrics.Metrics

	// LoggerFactory is handed to every layer. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// AdvertiseConfig describes the DNS-SD record of the node.
type AdvertiseConfig struct {
	// Instance is the DNS-SD instance name. Empty disables advertisement.
	Instance string

	// Params is the retry timing peers should use towards this node.
	Params session.Params

	// ServerFactory defaults to grandcat/zeroconf.
	ServerFactory discovery.MDNSServerFactory
}

// Validate checks the configuration for values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Sender == nil && c.UDPAddr == "" && c.TCPAddr == "" {
		return fmt.Errorf("%w: no transport", ErrInvalidConfig)
	}
	if c.IngressQueueSize < 0 {
		return fmt.Errorf("%w: negative ingress queue size", ErrInvalidConfig)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("%w: negative tick interval", ErrInvalidConfig)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for t, rc := range c.Exchange.Reliability {
		if err := rc.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, t, err)
		}
	}
	if c.Advertise.Instance != "" {
		if err := c.Advertise.Params.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if c.UDPAddr == "" {
			return fmt.Errorf("%w: advertisement needs a UDP listener", ErrInvalidConfig)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.IngressQueueSize == 0 {
		c.IngressQueueSize = DefaultIngressQueueSize
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	c.Session.Clock = c.Clock
	c.Session.LoggerFactory = c.LoggerFactory
	c.Exchange.Clock = c.Clock
	c.Exchange.Metrics = c.Metrics
	c.Exchange.LoggerFactory = c.LoggerFactory
}
