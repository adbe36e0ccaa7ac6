package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/backkem/msglayer/cmd/msgnode/config"
	"github.com/backkem/msglayer/pkg/exchange"
	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/node"
)

// serve: run a node that answers echo requests until interrupted.
func serveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a node that echoes every request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app := fx.New(serveOptions(e.file, e.logger))
			if err := startApp(ctx, app); err != nil {
				return err
			}
			<-ctx.Done()
			e.logger.Info("shutting down")
			return stopApp(app)
		},
	}
}

func serveOptions(f *config.File, l *zap.Logger) fx.Option {
	return fx.Options(
		nodeModule(f, l),
		fx.Invoke(registerEcho, registerSessions),
	)
}

func registerEcho(n *node.Node, l *zap.Logger) error {
	return n.RegisterUnsolicitedHandler(EchoProtocol, EchoRequest, echoHandler(l.Named("echo")))
}

func echoHandler(l *zap.Logger) exchange.Handler {
	return exchange.HandlerFuncs{
		Message: func(ec *exchange.ExchangeContext, _ message.ProtocolID, _ uint8, payload []byte) {
			l.Debug("request", zap.Stringer("exchange", ec), zap.Int("bytes", len(payload)))
			if err := ec.Send(EchoProtocol, EchoResponse, payload, true); err != nil {
				l.Warn("reply failed", zap.Stringer("exchange", ec), zap.Error(err))
			}
			ec.Close()
		},
	}
}

// registerSessions installs every configured session once the node runs.
func registerSessions(lc fx.Lifecycle, n *node.Node, lookup peerLookup, f *config.File, l *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, sc := range f.Sessions {
				s, err := installSession(ctx, n, lookup, sc)
				if err != nil {
					return err
				}
				l.Info("session installed", zap.String("name", sc.Name), zap.Stringer("session", s))
			}
			return nil
		},
	})
}

func startApp(ctx context.Context, app *fx.App) error {
	if err := app.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	return app.Start(startCtx)
}

func stopApp(app *fx.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	return app.Stop(ctx)
}
