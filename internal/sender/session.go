// Package sender implements the sliding-window producer side of the
// file-relay protocol: it walks a file-list iterator, packetizes each file
// as DATA, keeps an outstanding window of at most W unacknowledged packets,
// retransmits the whole window on a head-of-line timeout, and advances the
// window on cumulative ACKs.
package sender

import (
	"container/list"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/duskrelay/filerelay/internal/filelist"
	"github.com/duskrelay/filerelay/internal/logging"
	"github.com/duskrelay/filerelay/internal/metrics"
	"github.com/duskrelay/filerelay/internal/wire"
)

// DefaultWindowSize is the default sliding window size W.
const DefaultWindowSize = 7

// DefaultTimeout is the default retransmit timeout T.
const DefaultTimeout = 5 * time.Second

// recvBufferSize is the full maximum datagram size, so any datagram the
// sender reads arrives whole, although the ACK/EOT packets it acts on are
// far smaller than that.
const recvBufferSize = wire.MaxDatagramSize

// Transport is what the session needs from the network: a possibly-lossy
// send, a blocking receive, and a way to bound how long the receive blocks.
type Transport interface {
	WriteTo(b []byte, addr *net.UDPAddr) (dropped bool, err error)
	ReadFrom(b []byte) (int, *net.UDPAddr, error)
	SetReadDeadline(t time.Time) error
}

// FileSource is the file-list iterator collaborator.
type FileSource interface {
	Next() (path string, ok bool, err error)
}

type windowEntry struct {
	packet   []byte
	seqN     wire.SeqN
	sendTime time.Time
}

// Session is one sender run: one file list, one remote peer, one window.
type Session struct {
	transport Transport
	remote    *net.UDPAddr
	files     FileSource
	fs        afero.Fs
	clock     Clock
	metrics   *metrics.Sender

	space          wire.Space
	windowSize     wire.SeqN
	timeout        time.Duration
	window         *list.List
	windowBaseSeqN wire.SeqN
	reqN           int32
	drained        bool
	currentTime    time.Time
}

// Config bundles the sender's tunables, overridable from the CLI.
type Config struct {
	WindowSize wire.SeqN
	Timeout    time.Duration
}

// DefaultConfig returns the defaults, W=7 and T=5s.
func DefaultConfig() Config {
	return Config{WindowSize: DefaultWindowSize, Timeout: DefaultTimeout}
}

// New builds a sender session addressed at remote, reading files from
// files and sending over transport.
func New(transport Transport, remote *net.UDPAddr, files FileSource, fs afero.Fs, clock Clock, m *metrics.Sender, cfg Config) *Session {
	return &Session{
		transport:  transport,
		remote:     remote,
		files:      files,
		fs:         fs,
		clock:      clock,
		metrics:    m,
		space:      wire.NewSpace(cfg.WindowSize),
		windowSize: cfg.WindowSize,
		timeout:    cfg.Timeout,
		window:     list.New(),
	}
}

// Run drives the session to completion: fill/drain/wait/retransmit/advance
// until the file list is drained and the window empties, then sends one
// EOT. Returns a non-nil error only for a session-fatal condition.
func (s *Session) Run() error {
	s.currentTime = s.clock.Now()

	for {
		if err := s.fill(); err != nil {
			return errors.Wrap(err, "fill window")
		}
		if s.drained && s.window.Len() == 0 {
			break
		}

		timeout := s.computeTimeout()
		if err := s.transport.SetReadDeadline(s.currentTime.Add(timeout)); err != nil {
			return errors.Wrap(err, "set read deadline")
		}

		buf := make([]byte, recvBufferSize)
		n, _, err := s.transport.ReadFrom(buf)
		s.currentTime = s.clock.Now()

		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if err := s.retransmitAll(); err != nil {
					return errors.Wrap(err, "retransmit window")
				}
				continue
			}
			return errors.Wrap(err, "receive datagram")
		}

		s.handle(wire.Classify(buf[:n]))
	}

	if _, err := s.transport.WriteTo(wire.EncodeEOT(), s.remote); err != nil {
		return errors.Wrap(err, "send EOT")
	}
	logging.Info("sent EOT, session complete")
	return nil
}

// fill tops the window back up to windowSize, packetizing and sending one
// file per slot. All packets built in one call share s.currentTime as their
// send_time — the clock is only re-read after the wait, not per entry.
func (s *Session) fill() error {
	for s.window.Len() < int(s.windowSize) {
		path, ok, err := s.files.Next()
		if err != nil {
			return err
		}
		if !ok {
			s.drained = true
			return nil
		}

		baseName, data, err := filelist.ReadFile(s.fs, path)
		if err != nil {
			logging.Warn("skipping unreadable file %q: %v", path, err)
			s.metrics.FilesSkipped.Inc()
			continue
		}

		seqN := s.space.Add(s.windowBaseSeqN, wire.SeqN(s.window.Len()))
		packet, err := wire.EncodeData(s.reqN, seqN, baseName, data)
		if err != nil {
			logging.Warn("skipping %q: %v", path, err)
			s.metrics.FilesSkipped.Inc()
			continue
		}

		dropped, err := s.transport.WriteTo(packet, s.remote)
		if err != nil {
			return err
		}
		if dropped {
			logging.Debug("loss shim dropped DATA seq_n=%d req_n=%d", seqN, s.reqN)
		}

		s.window.PushBack(windowEntry{packet: packet, seqN: seqN, sendTime: s.currentTime})
		s.metrics.PacketsSent.Inc()
		s.metrics.WindowOccupancy.Set(float64(s.window.Len()))
		s.reqN++
	}
	return nil
}

// computeTimeout returns how long to wait before the oldest outstanding
// packet's retransmit deadline. Assumes the window is non-empty — the only
// way fill() leaves it empty is when the file list is drained, which Run
// checks for before calling this.
func (s *Session) computeTimeout() time.Duration {
	head := s.window.Front().Value.(windowEntry)
	deadline := head.sendTime.Add(s.timeout)
	d := deadline.Sub(s.currentTime)
	if d < 0 {
		d = 0
	}
	return d
}

// retransmitAll does a go-back-N resend of the entire outstanding window
// on a timeout, resetting every entry's send_time to the current time.
func (s *Session) retransmitAll() error {
	for e := s.window.Front(); e != nil; e = e.Next() {
		entry := e.Value.(windowEntry)
		if _, err := s.transport.WriteTo(entry.packet, s.remote); err != nil {
			return err
		}
		entry.sendTime = s.currentTime
		e.Value = entry
		s.metrics.Retransmits.Inc()
		logging.Debug("retransmitting DATA seq_n=%d (window timeout)", entry.seqN)
	}
	return nil
}

// handle processes one datagram read off the wire: a cumulative ACK pops
// every window entry up to and including the acknowledged sequence number;
// anything else (non-ACK, or an ACK outside the current window) is ignored.
func (s *Session) handle(p wire.Packet) {
	if p.Kind() != wire.Ack {
		logging.Debug("ignoring non-ACK packet kind=%v at sender", p.Kind())
		return
	}
	s.metrics.AcksReceived.Inc()

	i := s.space.Sub(p.AckSeqN(), s.windowBaseSeqN)
	if int(i) >= s.window.Len() {
		logging.Debug("stale/spurious ACK ack_seq_n=%d, ignoring", p.AckSeqN())
		s.metrics.StaleAcks.Inc()
		return
	}

	popCount := int(i) + 1
	for k := 0; k < popCount; k++ {
		s.window.Remove(s.window.Front())
	}
	s.windowBaseSeqN = s.space.Add(s.windowBaseSeqN, wire.SeqN(popCount))
	s.metrics.WindowOccupancy.Set(float64(s.window.Len()))
}
