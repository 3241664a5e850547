package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSeqNArithmeticRoundTrip(t *testing.T) {
	space := NewSpace(7) // modulus 8

	for a := SeqN(0); a < space.Modulus; a++ {
		for b := SeqN(0); b < space.Modulus; b++ {
			if got := space.Sub(space.Add(a, b), b); got != a {
				t.Errorf("Sub(Add(%d,%d),%d) = %d, want %d", a, b, b, got, a)
			}
		}
		if got := space.Add(a, space.Neg(a)); got != 0 {
			t.Errorf("Add(%d, Neg(%d)) = %d, want 0", a, a, got)
		}
	}
}

func TestSeqNBetween(t *testing.T) {
	space := NewSpace(7)

	if !space.Between(0, 3, 5) {
		t.Errorf("Between(0,3,5) = false, want true")
	}
	if space.Between(0, 5, 5) {
		t.Errorf("Between(0,5,5) = true, want false (exclusive upper bound)")
	}
	// wrap-around arc: from 6 to 2 (through 7, 0, 1)
	if !space.Between(6, 0, 2) {
		t.Errorf("Between(6,0,2) = false, want true (wrap-around arc)")
	}
	if space.Between(6, 3, 2) {
		t.Errorf("Between(6,3,2) = true, want false (3 is outside the wrap arc)")
	}
}

func TestEncodeClassifyEOT(t *testing.T) {
	datagram := EncodeEOT()
	if len(datagram) != SizeOfEOT() {
		t.Fatalf("len(EncodeEOT()) = %d, want %d", len(datagram), SizeOfEOT())
	}
	p := Classify(datagram)
	if p.Kind() != Eot {
		t.Fatalf("Classify(EOT) kind = %v, want Eot", p.Kind())
	}
}

func TestEncodeClassifyAck(t *testing.T) {
	for _, ackSeqN := range []SeqN{0, 3, 7} {
		datagram := EncodeAck(ackSeqN)
		p := Classify(datagram)
		if p.Kind() != Ack {
			t.Fatalf("Classify(ACK) kind = %v, want Ack", p.Kind())
		}
		if p.AckSeqN() != ackSeqN {
			t.Errorf("AckSeqN() = %d, want %d", p.AckSeqN(), ackSeqN)
		}
	}
}

func TestEncodeClassifyData(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"a.txt", []byte("aaa")},
		{"empty", nil},
		{"one-byte", []byte("c")},
		{"long-name-" + string(make([]byte, 200)), make([]byte, 4096)},
	}

	for _, c := range cases {
		datagram, err := EncodeData(42, 3, c.name, c.data)
		if err != nil {
			t.Fatalf("EncodeData(%q): %v", c.name, err)
		}
		p := Classify(datagram)
		if p.Kind() != Data {
			t.Fatalf("Classify(DATA %q) kind = %v, want Data", c.name, p.Kind())
		}
		if p.SeqN() != 3 || p.ReqN() != 42 || p.FileName() != c.name {
			t.Errorf("decoded fields = (seq=%d req=%d name=%q), want (3, 42, %q)",
				p.SeqN(), p.ReqN(), p.FileName(), c.name)
		}
		if diff := cmp.Diff(c.data, p.FileData(), cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("FileData() mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncodeDataTooLarge(t *testing.T) {
	_, err := EncodeData(0, 0, "huge", make([]byte, MaxDatagramSize))
	if err != ErrPayloadTooLarge {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestClassifyInvalid(t *testing.T) {
	good, _ := EncodeData(1, 1, "f", []byte("x"))

	cases := map[string][]byte{
		"too short":          good[:4],
		"bad sentinel":       tamper(good, 7, 0x00),
		"bad size field":     tamper(good, 0, 0xff),
		"no flag bits set":   tamper(good, 6, 0x00),
		"multiple flag bits": tamper(good, 6, 0x3),
	}

	for name, datagram := range cases {
		if p := Classify(datagram); p.Kind() != Invalid {
			t.Errorf("%s: Classify() kind = %v, want Invalid", name, p.Kind())
		}
	}
}

// TestClassifyDataMalformedPayload covers the DATA sub-header failing to
// decode after the fixed header already marked the datagram as DATA: it is
// NOT Invalid, it is Data with PayloadValid()==false — an accepted but
// undecodable packet the receiver still advances and ACKs.
func TestClassifyDataMalformedPayload(t *testing.T) {
	datagram := tamperDataNameLen(t, 1, 1, "f", []byte("x"), 0)
	p := Classify(datagram)
	if p.Kind() != Data {
		t.Fatalf("Classify() kind = %v, want Data", p.Kind())
	}
	if p.PayloadValid() {
		t.Fatalf("PayloadValid() = true, want false for zero file_name_size")
	}
	if p.SeqN() != 1 {
		t.Errorf("SeqN() = %d, want 1 (still readable from the fixed header)", p.SeqN())
	}
}

func tamper(datagram []byte, offset int, value byte) []byte {
	out := make([]byte, len(datagram))
	copy(out, datagram)
	out[offset] = value
	return out
}

func tamperDataNameLen(t *testing.T, reqN int32, seqN SeqN, name string, data []byte, nameLen int32) []byte {
	t.Helper()
	good, err := EncodeData(reqN, seqN, name, data)
	if err != nil {
		t.Fatal(err)
	}
	order.PutUint32(good[12:16], uint32(nameLen))
	return good
}

func TestSentinelViolationClassifiedInvalid(t *testing.T) {
	good, _ := EncodeData(1, 2, "f", []byte("x"))
	bad := tamper(good, 7, 0x00)
	p := Classify(bad)
	if p.Kind() != Invalid {
		t.Fatalf("Classify() kind = %v, want Invalid", p.Kind())
	}
}
