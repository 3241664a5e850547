// Package netio owns the one UDP socket each endpoint uses: binding it,
// tuning its kernel buffers, and wrapping its outbound side with the
// probabilistic-drop shim the spec uses to exercise the reliability layer.
package netio

import (
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/higebu/netfd"
	"github.com/pkg/errors"
)

// recvBufferBytes sizes the kernel socket buffer generously enough that a
// burst of whole-file DATA datagrams doesn't overflow it between reads.
const recvBufferBytes = 1 << 20

// Bind opens and binds a UDP socket on the given local port (0 lets the
// kernel choose one, used by the sender).
func Bind(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrap(err, "bind UDP socket")
	}
	tuneBuffers(conn)
	return conn, nil
}

// tuneBuffers raises the socket's receive/send buffers via its raw fd.
// Best-effort: a failure here is not fatal to the session, it only makes
// loss under load more likely than the configured drop probability alone.
func tuneBuffers(conn *net.UDPConn) {
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return
	}
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, recvBufferBytes)
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, recvBufferBytes)
}

// LossyConn wraps a bound UDP socket and drops outbound datagrams with a
// configurable probability. The PRNG is seeded once at process start and
// receive is never lossy.
type LossyConn struct {
	conn        *net.UDPConn
	dropPercent float64
	rng         *rand.Rand
}

// NewLossyConn wraps conn so that WriteTo drops a datagram with probability
// dropPercent/100. dropPercent is clamped to [0, 100].
func NewLossyConn(conn *net.UDPConn, dropPercent float64) *LossyConn {
	if dropPercent < 0 {
		dropPercent = 0
	}
	if dropPercent > 100 {
		dropPercent = 100
	}
	return &LossyConn{
		conn:        conn,
		dropPercent: dropPercent,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WriteTo sends b to addr, unless the loss shim independently elects to
// drop it, in which case WriteTo reports success to the caller without
// putting anything on the wire. Returns an error only for a genuine
// syscall failure, which is session-fatal.
func (c *LossyConn) WriteTo(b []byte, addr *net.UDPAddr) (dropped bool, err error) {
	if c.dropPercent > 0 && c.rng.Float64()*100 < c.dropPercent {
		return true, nil
	}
	_, err = c.conn.WriteToUDP(b, addr)
	return false, err
}

// ReadFrom reads one datagram. Never lossy at this layer.
func (c *LossyConn) ReadFrom(b []byte) (int, *net.UDPAddr, error) {
	return c.conn.ReadFromUDP(b)
}

// SetReadDeadline exposes the underlying conn's deadline so callers can
// implement the sender's readiness-with-timeout wait.
func (c *LossyConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *LossyConn) Close() error {
	return c.conn.Close()
}

func (c *LossyConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}
