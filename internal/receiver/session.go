// Package receiver implements the stateful in-order delivery filter of the
// file-relay protocol: classify, dedup against the last delivered sequence
// number, advance and deliver the next-expected DATA, cumulative-ACK, and
// terminate cleanly on EOT.
package receiver

import (
	"net"

	"github.com/pkg/errors"

	"github.com/duskrelay/filerelay/internal/logging"
	"github.com/duskrelay/filerelay/internal/metrics"
	"github.com/duskrelay/filerelay/internal/wire"
)

// Transport is what the session needs from the network.
type Transport interface {
	WriteTo(b []byte, addr *net.UDPAddr) (dropped bool, err error)
	ReadFrom(b []byte) (int, *net.UDPAddr, error)
}

// Searcher is the directory-search collaborator. found reports whether a
// byte-identical local file was located.
type Searcher interface {
	Search(remoteName string, data []byte) (found bool, err error)
}

// Session is one receiver run against one sender.
type Session struct {
	transport Transport
	searcher  Searcher
	space     wire.Space
	metrics   *metrics.Receiver

	lastDeliveredSeqN wire.SeqN
	remote            *net.UDPAddr
}

// New builds a receiver session. windowSize must match the sender's, since
// it determines the sequence-number modulus.
func New(transport Transport, searcher Searcher, windowSize wire.SeqN, m *metrics.Receiver) *Session {
	space := wire.NewSpace(windowSize)
	return &Session{
		transport:         transport,
		searcher:          searcher,
		space:             space,
		metrics:           m,
		lastDeliveredSeqN: space.Neg(1),
	}
}

// Run reads and handles datagrams until EOT or a session-fatal error.
func (s *Session) Run() error {
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, addr, err := s.transport.ReadFrom(buf)
		if err != nil {
			return errors.Wrap(err, "receive datagram")
		}
		s.remote = addr

		p := wire.Classify(buf[:n])
		done, err := s.handle(p)
		if err != nil {
			return errors.Wrap(err, "handle packet")
		}
		if done {
			logging.Info("received EOT, session complete")
			return nil
		}
	}
}

// handle dispatches one classified packet by kind. done reports whether
// EOT ended the session.
func (s *Session) handle(p wire.Packet) (done bool, err error) {
	switch p.Kind() {
	case wire.Invalid:
		logging.Debug("dropping invalid datagram")
		s.metrics.InvalidDropped.Inc()
		return false, nil

	case wire.Eot:
		s.metrics.PacketsClassified.Inc()
		return true, nil

	case wire.Ack:
		logging.Debug("unexpected ACK at receiver, ignoring")
		s.metrics.PacketsClassified.Inc()
		return false, nil

	case wire.Data:
		s.metrics.PacketsClassified.Inc()
		return false, s.handleData(p)

	default:
		logging.Debug("dropping packet of unrecognized kind")
		return false, nil
	}
}

func (s *Session) handleData(p wire.Packet) error {
	seqN := p.SeqN()

	switch {
	case seqN == s.lastDeliveredSeqN:
		logging.Debug("duplicate of last delivered seq_n=%d, re-ACKing", seqN)
		s.metrics.Duplicates.Inc()
		return s.ack(s.lastDeliveredSeqN)

	case seqN == s.space.Add(s.lastDeliveredSeqN, 1):
		s.lastDeliveredSeqN = seqN
		s.metrics.Delivered.Inc()

		if !p.PayloadValid() {
			// The fixed header validated this as DATA but its payload
			// (name/size sub-header) didn't decode. It is still
			// delivered: advance and ACK, just skip the search.
			logging.Warn("seq_n=%d delivered with malformed payload, skipping search", seqN)
			return s.ack(s.lastDeliveredSeqN)
		}

		found, err := s.searcher.Search(p.FileName(), p.FileData())
		if err != nil {
			return err
		}
		if found {
			s.metrics.MatchesFound.Inc()
		} else {
			s.metrics.MatchesUnknown.Inc()
		}
		return s.ack(s.lastDeliveredSeqN)

	default:
		logging.Debug("dropping out-of-window DATA seq_n=%d (expected %d or %d)",
			seqN, s.lastDeliveredSeqN, s.space.Add(s.lastDeliveredSeqN, 1))
		s.metrics.OutOfWindow.Inc()
		return nil
	}
}

func (s *Session) ack(ackSeqN wire.SeqN) error {
	logging.Debug("ACKing ack_seq_n=%d to %s", ackSeqN, s.remote)
	if _, err := s.transport.WriteTo(wire.EncodeAck(ackSeqN), s.remote); err != nil {
		return err
	}
	s.metrics.AcksSent.Inc()
	return nil
}
