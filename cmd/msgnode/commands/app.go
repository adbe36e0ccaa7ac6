package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/backkem/msglayer/cmd/msgnode/config"
	"github.com/backkem/msglayer/cmd/msgnode/zaplog"
	"github.com/backkem/msglayer/pkg/discovery"
	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/metrics"
	"github.com/backkem/msglayer/pkg/node"
	"github.com/backkem/msglayer/pkg/session"
	"github.com/backkem/msglayer/pkg/transport"
)

// Echo protocol spoken by serve and send.
const (
	EchoProtocol message.ProtocolID = 0xFFF1
	EchoRequest  uint8              = 0x01
	EchoResponse uint8              = 0x02
)

// nodeModule wires a node, its metrics endpoint and peer resolution from
// the configuration file.
func nodeModule(f *config.File, logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(f, logger),
		fx.Provide(
			prometheus.NewRegistry,
			newMetrics,
			newLoggerFactory,
			newNode,
			newPeerLookup,
		),
		fx.Invoke(registerMetricsServer),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func newLoggerFactory(l *zap.Logger) logging.LoggerFactory {
	return zaplog.NewFactory(l)
}

func newNode(lc fx.Lifecycle, f *config.File, lf logging.LoggerFactory, m *metrics.Metrics) (*node.Node, error) {
	cfg, err := f.NodeConfig()
	if err != nil {
		return nil, err
	}
	cfg.Metrics = m
	cfg.LoggerFactory = lf

	n, err := node.New(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := n.Start(); err != nil {
				return err
			}
			go func() {
				_ = n.Run(context.Background())
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			return n.Stop()
		},
	})
	return n, nil
}

func registerMetricsServer(lc fx.Lifecycle, f *config.File, reg *prometheus.Registry, l *zap.Logger) {
	if f.Node.Metrics == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", f.Node.Metrics)
			if err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			l.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					l.Warn("metrics server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// peerLookup resolves DNS-SD instance names.
type peerLookup interface {
	Lookup(ctx context.Context, instance string) (*discovery.Peer, error)
}

// lazyResolver opens the mDNS client on first use so that configurations
// with only static peers never touch multicast.
type lazyResolver struct {
	lf logging.LoggerFactory
	r  *discovery.Resolver
}

func newPeerLookup(lf logging.LoggerFactory) peerLookup {
	return &lazyResolver{lf: lf}
}

func (l *lazyResolver) Lookup(ctx context.Context, instance string) (*discovery.Peer, error) {
	if l.r == nil {
		r, err := discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: l.lf})
		if err != nil {
			return nil, err
		}
		l.r = r
	}
	return l.r.Lookup(ctx, instance)
}

// resolvePeer returns the static peer address of s or resolves its
// instance. A resolved peer also yields the reliability timing it
// advertises.
func resolvePeer(ctx context.Context, lookup peerLookup, s config.Session) (transport.PeerAddress, session.Params, error) {
	if s.PeerInstance == "" {
		addr, err := s.PeerAddress()
		return addr, session.Params{}, err
	}
	peer, err := lookup.Lookup(ctx, s.PeerInstance)
	if err != nil {
		return transport.PeerAddress{}, session.Params{}, fmt.Errorf("resolve %s: %w", s.PeerInstance, err)
	}
	addrs := peer.Addresses()
	if len(addrs) == 0 {
		return transport.PeerAddress{}, session.Params{}, fmt.Errorf("resolve %s: %w", s.PeerInstance, discovery.ErrServiceNotFound)
	}
	return addrs[0], peer.Params(), nil
}

// installSession resolves the peer of s and installs it on the node's
// event loop.
func installSession(ctx context.Context, n *node.Node, lookup peerLookup, s config.Session) (*session.Session, error) {
	addr, params, err := resolvePeer(ctx, lookup, s)
	if err != nil {
		return nil, err
	}
	p, err := s.InstallParams(addr)
	if err != nil {
		return nil, err
	}
	p.Params = params
	defer p.Keys.Zeroize()

	var installed *session.Session
	if err := n.Do(ctx, func() {
		installed, err = n.InstallSession(p)
	}); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("install session %q: %w", s.Name, err)
	}
	return installed, nil
}
