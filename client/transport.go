package client

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/psh873977-beep/tftp-client/tftp"
)

// errTimeout marks a receive window that closed with no datagram. The state
// machines recover from it by resending; everything else they report.
var errTimeout = errors.New("receive timed out")

// conn is the UDP leg of one transfer: a single socket on an ephemeral local
// port, talking to one peer. The socket stays unconnected because the server
// answers from a fresh port of its own (its transfer ID), and a connected
// socket would drop that reply.
type conn struct {
	sock    *net.UDPConn
	peer    *net.UDPAddr
	timeout time.Duration
	moved   bool
}

func dial(server *net.UDPAddr, timeout time.Duration) (*conn, error) {
	sock, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, errors.Wrap(err, "binding local UDP socket")
	}
	return &conn{sock: sock, peer: server, timeout: timeout}, nil
}

func (c *conn) send(b []byte) error {
	if _, err := c.sock.WriteToUDP(b, c.peer); err != nil {
		return errors.Wrapf(err, "sending to %s", c.peer)
	}
	return nil
}

// receive waits up to the configured timeout for one datagram. The source of
// the first datagram of the transfer becomes the peer for everything that
// follows; the original well-known port is never written to again. Datagrams
// over 516 bytes are silently truncated to the buffer.
func (c *conn) receive() ([]byte, error) {
	if err := c.sock.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, errors.Wrap(err, "arming read deadline")
	}
	buf := make([]byte, tftp.MaxPacketSize)
	n, from, err := c.sock.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, errTimeout
		}
		return nil, errors.Wrap(err, "reading from UDP socket")
	}
	if !c.moved {
		c.peer = from
		c.moved = true
	}
	return buf[:n], nil
}

func (c *conn) close() error {
	return c.sock.Close()
}
