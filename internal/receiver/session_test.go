package receiver

import (
	"fmt"
	"net"
	"testing"

	"github.com/duskrelay/filerelay/internal/metrics"
	"github.com/duskrelay/filerelay/internal/wire"
)

type searchCall struct {
	name string
	data []byte
}

type fakeSearcher struct {
	calls []searchCall
	found bool
	err   error
}

func (f *fakeSearcher) Search(name string, data []byte) (bool, error) {
	f.calls = append(f.calls, searchCall{name: name, data: append([]byte{}, data...)})
	return f.found, f.err
}

type queueTransport struct {
	remote *net.UDPAddr
	in     [][]byte
	idx    int
	sent   [][]byte
}

func (q *queueTransport) WriteTo(b []byte, addr *net.UDPAddr) (bool, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	q.sent = append(q.sent, cp)
	return false, nil
}

func (q *queueTransport) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	if q.idx >= len(q.in) {
		return 0, nil, fmt.Errorf("queueTransport exhausted")
	}
	d := q.in[q.idx]
	q.idx++
	n := copy(buf, d)
	return n, q.remote, nil
}

func newQueue(pkts ...[]byte) *queueTransport {
	return &queueTransport{remote: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000}, in: pkts}
}

func TestReceiverInOrderDeliveryAndAck(t *testing.T) {
	p0, _ := wire.EncodeData(0, 0, "a", []byte("aaa"))
	p1, _ := wire.EncodeData(1, 1, "b", []byte("bbb"))
	transport := newQueue(p0, p1, wire.EncodeEOT())
	searcher := &fakeSearcher{}
	s := New(transport, searcher, 7, metrics.NewReceiver())

	if err := s.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(searcher.calls) != 2 {
		t.Fatalf("Search called %d times, want 2", len(searcher.calls))
	}
	if searcher.calls[0].name != "a" || searcher.calls[1].name != "b" {
		t.Errorf("delivered names = %v", searcher.calls)
	}
	if len(transport.sent) != 2 {
		t.Fatalf("sent %d ACKs, want 2", len(transport.sent))
	}
	ack0 := wire.Classify(transport.sent[0])
	ack1 := wire.Classify(transport.sent[1])
	if ack0.Kind() != wire.Ack || ack0.AckSeqN() != 0 {
		t.Errorf("first ACK = %v/%d, want Ack/0", ack0.Kind(), ack0.AckSeqN())
	}
	if ack1.Kind() != wire.Ack || ack1.AckSeqN() != 1 {
		t.Errorf("second ACK = %v/%d, want Ack/1", ack1.Kind(), ack1.AckSeqN())
	}
}

func TestReceiverDuplicateOfLastDeliveredIsReAcked(t *testing.T) {
	p0, _ := wire.EncodeData(0, 0, "a", []byte("aaa"))
	transport := newQueue(p0, p0, wire.EncodeEOT())
	searcher := &fakeSearcher{}
	s := New(transport, searcher, 7, metrics.NewReceiver())

	if err := s.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(searcher.calls) != 1 {
		t.Fatalf("Search called %d times, want 1 (duplicate must not re-search)", len(searcher.calls))
	}
	if len(transport.sent) != 2 {
		t.Fatalf("sent %d ACKs, want 2 (original + re-ACK of duplicate)", len(transport.sent))
	}
	for i, sent := range transport.sent {
		if ack := wire.Classify(sent); ack.AckSeqN() != 0 {
			t.Errorf("ACK %d ack_seq_n = %d, want 0", i, ack.AckSeqN())
		}
	}
}

func TestReceiverOutOfWindowDataIsDroppedSilently(t *testing.T) {
	p0, _ := wire.EncodeData(0, 0, "a", []byte("a"))
	future, _ := wire.EncodeData(0, 5, "z", []byte("z")) // far ahead, not next-expected
	transport := newQueue(future, p0, wire.EncodeEOT())
	searcher := &fakeSearcher{}
	s := New(transport, searcher, 7, metrics.NewReceiver())

	if err := s.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(searcher.calls) != 1 || searcher.calls[0].name != "a" {
		t.Fatalf("expected only seq 0 delivered, got %v", searcher.calls)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("sent %d ACKs, want 1 (out-of-window DATA gets no ACK)", len(transport.sent))
	}
}

func TestReceiverMalformedPayloadStillAdvancesAndAcksButSkipsSearch(t *testing.T) {
	good, err := wire.EncodeData(0, 0, "f", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	// corrupt file_name_size to make the payload sub-header fail to decode
	// while the fixed header still marks it DATA.
	bad := make([]byte, len(good))
	copy(bad, good)
	bad[12], bad[13], bad[14], bad[15] = 0, 0, 0, 0

	if p := wire.Classify(bad); p.Kind() != wire.Data || p.PayloadValid() {
		t.Fatalf("test fixture invalid: want Data/PayloadValid=false, got %v/%v", p.Kind(), p.PayloadValid())
	}

	transport := newQueue(bad, wire.EncodeEOT())
	searcher := &fakeSearcher{}
	s := New(transport, searcher, 7, metrics.NewReceiver())

	if err := s.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(searcher.calls) != 0 {
		t.Fatalf("Search called %d times, want 0 (malformed payload skips search)", len(searcher.calls))
	}
	if len(transport.sent) != 1 {
		t.Fatalf("sent %d ACKs, want 1 (malformed payload still advances/ACKs)", len(transport.sent))
	}
	if ack := wire.Classify(transport.sent[0]); ack.AckSeqN() != 0 {
		t.Errorf("ack_seq_n = %d, want 0", ack.AckSeqN())
	}
}

func TestReceiverInvalidDatagramDropped(t *testing.T) {
	transport := newQueue([]byte{0x00, 0x01}, wire.EncodeEOT())
	searcher := &fakeSearcher{}
	s := New(transport, searcher, 7, metrics.NewReceiver())

	if err := s.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(transport.sent) != 0 {
		t.Fatalf("sent %d packets, want 0 (invalid datagram is silently dropped)", len(transport.sent))
	}
}

func TestReceiverSearchErrorIsSessionFatal(t *testing.T) {
	p0, _ := wire.EncodeData(0, 0, "a", []byte("a"))
	transport := newQueue(p0)
	searcher := &fakeSearcher{err: fmt.Errorf("disk full")}
	s := New(transport, searcher, 7, metrics.NewReceiver())

	if err := s.Run(); err == nil {
		t.Fatal("expected Run() to return an error when Search fails")
	}
}
