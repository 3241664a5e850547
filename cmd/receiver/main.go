// Command receiver accepts files sent by a sender over UDP, searching a
// local directory for byte-identical matches and recording the result in an
// append-only match log.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/duskrelay/filerelay/internal/logging"
	"github.com/duskrelay/filerelay/internal/matchdir"
	"github.com/duskrelay/filerelay/internal/metrics"
	"github.com/duskrelay/filerelay/internal/netio"
	"github.com/duskrelay/filerelay/internal/receiver"
	"github.com/duskrelay/filerelay/internal/sender"
	"github.com/duskrelay/filerelay/internal/wire"
)

const version = "1.0.0"

func main() {
	cmd := newReceiverCmd()
	if err := cmd.Execute(); err != nil {
		logging.Fatal("%v", err)
	}
}

func newReceiverCmd() *cobra.Command {
	var (
		verbose     bool
		metricsAddr string
		window      uint8
	)

	cmd := &cobra.Command{
		Use:   "receiver <port> <directory> <match-log>",
		Short: "Receive files and record byte-identical matches to a local directory",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logging.SetLevel(logging.LevelDebug)
			}
			logging.Banner("filerelay receiver", version)

			port, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Wrapf(err, "parse port %q", args[0])
			}

			return run(cmd.Context(), receiverArgs{
				port:        port,
				dir:         args[1],
				matchLog:    args[2],
				metricsAddr: metricsAddr,
				windowSize:  wire.SeqN(window),
			})
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "raise log level to debug")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	cmd.Flags().Uint8Var(&window, "window", sender.DefaultWindowSize, "sliding window size W, must match the sender's")
	return cmd
}

type receiverArgs struct {
	port        int
	dir         string
	matchLog    string
	metricsAddr string
	windowSize  wire.SeqN
}

func run(ctx context.Context, a receiverArgs) error {
	conn, err := netio.Bind(a.port)
	if err != nil {
		return errors.Wrap(err, "bind local socket")
	}
	defer conn.Close()
	logging.Info("listening on %s", conn.LocalAddr())

	transport := netio.NewLossyConn(conn, 0)

	fs := afero.NewOsFs()
	searcher, err := matchdir.Open(fs, a.dir, a.matchLog)
	if err != nil {
		return errors.Wrap(err, "open match directory/log")
	}
	defer searcher.Close()

	m := metrics.NewReceiver()
	if a.metricsAddr != "" {
		srv := m.Serve(a.metricsAddr)
		logging.Info("serving metrics on %s", a.metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			metrics.Shutdown(shutdownCtx, srv)
		}()
	}

	s := receiver.New(transport, searcher, a.windowSize, m)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	errChan := make(chan error, 1)
	go func() { errChan <- s.Run() }()

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logging.Warn("received signal %v, aborting session", sig)
		return errors.Errorf("interrupted by signal %v", sig)
	}
}
