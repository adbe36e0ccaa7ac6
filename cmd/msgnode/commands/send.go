package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/backkem/msglayer/pkg/exchange"
	"github.com/backkem/msglayer/pkg/message"
	"github.com/backkem/msglayer/pkg/node"
	"github.com/backkem/msglayer/pkg/session"
)

// send <session> <message>: echo a message over a configured session.
func sendCmd(e *env) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <session> <message>",
		Short: "Send a reliable echo request and print the reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			sc, ok := e.file.Session(args[0])
			if !ok {
				return fmt.Errorf("no session %q in config", args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var (
				n      *node.Node
				lookup peerLookup
			)
			app := fx.New(nodeModule(e.file, e.logger), fx.Populate(&n, &lookup))
			if err := startApp(ctx, app); err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, stopApp(app))
			}()

			s, err := installSession(ctx, n, lookup, sc)
			if err != nil {
				return err
			}
			reply, err := echo(ctx, n, s, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(reply))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long")
	return cmd
}

// echo sends payload as a reliable echo request on a new exchange and waits
// for the response.
func echo(ctx context.Context, n *node.Node, s *session.Session, payload []byte) ([]byte, error) {
	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	h := exchange.HandlerFuncs{
		Message: func(ec *exchange.ExchangeContext, protocolID message.ProtocolID, msgType uint8, p []byte) {
			if protocolID != EchoProtocol || msgType != EchoResponse {
				return
			}
			select {
			case done <- result{payload: append([]byte(nil), p...)}:
			default:
			}
			ec.Close()
		},
		Closed: func(_ *exchange.ExchangeContext, reason error) {
			if reason == nil {
				reason = exchange.ErrExchangeClosed
			}
			select {
			case done <- result{err: reason}:
			default:
			}
		},
	}

	var sendErr error
	if err := n.Do(ctx, func() {
		ec, err := n.OpenExchange(s, h)
		if err != nil {
			sendErr = err
			return
		}
		if sendErr = n.SendMessage(ec, EchoProtocol, EchoRequest, payload, true); sendErr != nil {
			ec.Abort()
		}
	}); err != nil {
		return nil, err
	}
	if sendErr != nil {
		return nil, sendErr
	}

	select {
	case r := <-done:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
