// Command sender transmits every file named in a file-list, in order, to a
// receiver over UDP using the sliding-window protocol of internal/sender.
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

	"github.com/duskrelay/filerelay/internal/filelist"
	"github.com/duskrelay/filerelay/internal/logging"
	"github.com/duskrelay/filerelay/internal/metrics"
	"github.com/duskrelay/filerelay/internal/netio"
	"github.com/duskrelay/filerelay/internal/sender"
	"github.com/duskrelay/filerelay/internal/wire"
)

const version = "1.0.0"

func main() {
	cmd := newSenderCmd()
	if err := cmd.Execute(); err != nil {
		logging.Fatal("%v", err)
	}
}

func newSenderCmd() *cobra.Command {
	var (
		verbose     bool
		metricsAddr string
		window      uint8
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sender <host> <port> <file-list> <loss-percent>",
		Short: "Send every file listed in a file-list to a receiver",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logging.SetLevel(logging.LevelDebug)
			}
			logging.Banner("filerelay sender", version)

			port, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Wrapf(err, "parse port %q", args[1])
			}
			lossPercent, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return errors.Wrapf(err, "parse loss probability %q", args[3])
			}

			return run(cmd.Context(), senderArgs{
				host:         args[0],
				port:         port,
				fileListPath: args[2],
				lossPercent:  lossPercent,
				metricsAddr:  metricsAddr,
				cfg:          sender.Config{WindowSize: wire.SeqN(window), Timeout: timeout},
			})
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "raise log level to debug")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	cmd.Flags().Uint8Var(&window, "window", sender.DefaultWindowSize, "sliding window size W")
	cmd.Flags().DurationVar(&timeout, "timeout", sender.DefaultTimeout, "retransmit timeout T")
	return cmd
}

type senderArgs struct {
	host         string
	port         int
	fileListPath string
	lossPercent  float64
	metricsAddr  string
	cfg          sender.Config
}

func run(ctx context.Context, a senderArgs) error {
	remote, err := netio.ResolveHost(ctx, a.host, a.port)
	if err != nil {
		return errors.Wrap(err, "resolve remote host")
	}
	logging.Info("resolved %s:%d -> %s", a.host, a.port, remote)

	conn, err := netio.Bind(0)
	if err != nil {
		return errors.Wrap(err, "bind local socket")
	}
	defer conn.Close()

	transport := netio.NewLossyConn(conn, a.lossPercent)

	fs := afero.NewOsFs()
	files, err := filelist.Open(fs, a.fileListPath)
	if err != nil {
		return errors.Wrapf(err, "open file list %q", a.fileListPath)
	}
	defer files.Close()

	m := metrics.NewSender()
	if a.metricsAddr != "" {
		srv := m.Serve(a.metricsAddr)
		logging.Info("serving metrics on %s", a.metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			metrics.Shutdown(shutdownCtx, srv)
		}()
	}

	s := sender.New(transport, remote, files, fs, sender.SystemClock{}, m, a.cfg)

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

