// Package wire implements the on-the-wire framing for the file-relay
// protocol: packet encode/decode/classify and sequence-number arithmetic.
package wire

// SeqN is a sequence number, a value in a finite modular space. It is kept
// as its own type rather than a raw integer so that auxiliary code cannot
// accidentally perform non-modular arithmetic on it; all arithmetic goes
// through a Space.
type SeqN uint8

// Space is the modular arithmetic space sequence numbers live in. The
// modulus is always WindowSize+1 — see protocol notes on why W+1 rather
// than 2*W is what makes cumulative ACKs unambiguous.
type Space struct {
	Modulus SeqN
}

// NewSpace returns the sequence-number space for a sender window of the
// given size.
func NewSpace(window SeqN) Space {
	return Space{Modulus: window + 1}
}

func (s Space) mod(v int) SeqN {
	m := int(s.Modulus)
	v %= m
	if v < 0 {
		v += m
	}
	return SeqN(v)
}

// Add returns x+y modulo the space's modulus.
func (s Space) Add(x, y SeqN) SeqN {
	return s.mod(int(x) + int(y))
}

// Neg returns -x modulo the space's modulus.
func (s Space) Neg(x SeqN) SeqN {
	return s.mod(-int(x))
}

// Sub returns x-y modulo the space's modulus.
func (s Space) Sub(x, y SeqN) SeqN {
	return s.mod(int(x) - int(y))
}

// Between reports whether y lies in the half-open cyclic arc [x, z).
// Not on the critical path of the sender/receiver state machines (they use
// exact-equality and subtraction tests instead) but part of the ordering
// relation the protocol's correctness argument depends on.
func (s Space) Between(x, y, z SeqN) bool {
	return s.Sub(y, x) < s.Sub(z, x)
}
