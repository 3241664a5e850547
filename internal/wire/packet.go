package wire

import (
	"encoding/binary"
	"fmt"
)

// MaxDatagramSize is the largest UDP payload this protocol will ever send
// or accept.
const MaxDatagramSize = 65507

const (
	flagData byte = 0x1
	flagAck  byte = 0x2
	flagEot  byte = 0x4

	sentinel byte = 0x7f
)

// fixed header: size(4) seq_n(1) ack_seq_n(1) flags(1) sentinel(1)
const fixedHeaderSize = 8

// data payload header: req_n(4) file_name_size(4)
const dataHeaderSize = 8

var order = binary.NativeEndian

// Kind distinguishes the three packet variants a classified datagram can
// be, or Invalid if the datagram failed validation.
type Kind int

const (
	Invalid Kind = iota
	Data
	Ack
	Eot
)

func (k Kind) String() string {
	switch k {
	case Data:
		return "DATA"
	case Ack:
		return "ACK"
	case Eot:
		return "EOT"
	default:
		return "INVALID"
	}
}

// Packet is a classified datagram together with whatever fields its kind
// carries. A Packet of kind Invalid carries no usable fields.
//
// For Data, classification only validates the fixed header (size,
// sentinel, size-field cross-check) plus the flag byte — it does NOT by
// itself guarantee the DATA sub-header/name/contents are well formed. That
// is PayloadValid: the fixed header can validly mark a datagram as DATA
// while its payload fails decode, in which case FileName/FileData are
// unusable but SeqN still is. See decodeDataPayload.
type Packet struct {
	kind         Kind
	seqN         SeqN
	ackSeqN      SeqN
	payloadValid bool
	reqN         int32
	name         string
	data         []byte
}

func (p Packet) Kind() Kind         { return p.kind }
func (p Packet) SeqN() SeqN         { return p.seqN }
func (p Packet) AckSeqN() SeqN      { return p.ackSeqN }
func (p Packet) PayloadValid() bool { return p.payloadValid }
func (p Packet) ReqN() int32        { return p.reqN }
func (p Packet) FileName() string   { return p.name }
func (p Packet) FileData() []byte   { return p.data }

// SizeOfEOT returns the datagram size of an EOT packet.
func SizeOfEOT() int { return fixedHeaderSize }

// SizeOfAck returns the datagram size of an ACK packet.
func SizeOfAck() int { return fixedHeaderSize }

// SizeOfData returns the datagram size of a DATA packet carrying a file
// name of nameLen bytes (including the trailing NUL) and dataLen bytes of
// file contents.
func SizeOfData(nameLen, dataLen int) int {
	return fixedHeaderSize + dataHeaderSize + nameLen + dataLen
}

func putFixedHeader(buf []byte, seqN, ackSeqN SeqN, flags byte) {
	order.PutUint32(buf[0:4], uint32(len(buf)))
	buf[4] = byte(seqN)
	buf[5] = byte(ackSeqN)
	buf[6] = flags
	buf[7] = sentinel
}

// EncodeEOT builds an EOT packet. EOT carries no sequence information.
func EncodeEOT() []byte {
	buf := make([]byte, SizeOfEOT())
	putFixedHeader(buf, 0, 0, flagEot)
	return buf
}

// EncodeAck builds a cumulative ACK packet for ackSeqN.
func EncodeAck(ackSeqN SeqN) []byte {
	buf := make([]byte, SizeOfAck())
	putFixedHeader(buf, 0, ackSeqN, flagAck)
	return buf
}

// ErrPayloadTooLarge is returned by EncodeData when the resulting datagram
// would exceed MaxDatagramSize. This is a per-file skip, not a
// session-fatal error — the caller decides what to do with it.
var ErrPayloadTooLarge = fmt.Errorf("data packet would exceed max datagram size of %d bytes", MaxDatagramSize)

// EncodeData builds a DATA packet for one file. name is the file's base
// name (without a directory component); the wire form is NUL-terminated.
func EncodeData(reqN int32, seqN SeqN, name string, data []byte) ([]byte, error) {
	nameLen := len(name) + 1 // including the trailing NUL
	size := SizeOfData(nameLen, len(data))
	if size > MaxDatagramSize {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, size)
	putFixedHeader(buf, seqN, 0, flagData)
	order.PutUint32(buf[8:12], uint32(reqN))
	order.PutUint32(buf[12:16], uint32(nameLen))
	copy(buf[16:16+len(name)], name)
	buf[16+len(name)] = 0
	copy(buf[16+nameLen:], data)
	return buf, nil
}

// Classify validates a raw datagram's fixed header (minimum length,
// sentinel byte, size-field cross-check) and its flag byte. A violation of
// any of these yields a Packet of kind Invalid; the caller logs and drops
// it, it is never a fatal error.
//
// For a datagram whose flags mark it DATA, Classify also attempts the
// payload decode and folds the result into the returned Packet; see
// PayloadValid.
func Classify(datagram []byte) Packet {
	if len(datagram) < fixedHeaderSize {
		return Packet{kind: Invalid}
	}
	if datagram[7] != sentinel {
		return Packet{kind: Invalid}
	}
	size := int(order.Uint32(datagram[0:4]))
	if size != len(datagram) {
		return Packet{kind: Invalid}
	}

	seqN := SeqN(datagram[4])
	ackSeqN := SeqN(datagram[5])
	flags := datagram[6]

	switch flags {
	case flagEot:
		return Packet{kind: Eot}
	case flagAck:
		return Packet{kind: Ack, ackSeqN: ackSeqN}
	case flagData:
		return decodeDataPayload(datagram, seqN)
	default:
		return Packet{kind: Invalid}
	}
}

// decodeDataPayload decodes the DATA sub-header (request number, file-name
// length, NUL-terminated name, raw file bytes) for a datagram the fixed
// header already accepted as DATA: the file-name length must be at least 1
// and the last byte of the name region must be NUL, or decode fails. A
// failure here still yields kind=Data with payloadValid=false, not Invalid
// — the receiver still advances and ACKs such a packet, only the search
// step is skipped.
func decodeDataPayload(datagram []byte, seqN SeqN) Packet {
	base := Packet{kind: Data, seqN: seqN}

	if len(datagram) < fixedHeaderSize+dataHeaderSize {
		return base
	}
	reqN := int32(order.Uint32(datagram[8:12]))
	nameLen := int32(order.Uint32(datagram[12:16]))
	if nameLen < 1 {
		return base
	}

	nameStart := fixedHeaderSize + dataHeaderSize
	nameEnd := nameStart + int(nameLen)
	if nameEnd > len(datagram) {
		return base
	}
	if datagram[nameEnd-1] != 0 {
		return base
	}

	dataRegionSize := len(datagram) - (fixedHeaderSize + dataHeaderSize + int(nameLen))
	if dataRegionSize < 0 {
		return base
	}

	name := string(datagram[nameStart : nameEnd-1])
	fileData := make([]byte, dataRegionSize)
	copy(fileData, datagram[nameEnd:])

	base.payloadValid = true
	base.reqN = reqN
	base.name = name
	base.data = fileData
	return base
}
