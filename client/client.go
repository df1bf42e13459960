// Package client drives single TFTP transfers (RFC 1350, octet mode,
// stop-and-wait) against a remote server.
package client

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/psh873977-beep/tftp-client/tftp"
)

const (
	// DefaultTimeout bounds each receive; DefaultRetries caps the sends of
	// any one packet.
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

// Status is the terminal state of a download.
type Status int

const (
	StatusDone Status = iota

	// StatusTimedOut means the server went quiet mid-transfer after at
	// least one block arrived. The bytes written so far are kept; without
	// the short final block there is no way to know whether they are the
	// whole file.
	StatusTimedOut

	StatusFailed
)

var (
	// ErrServerUnresponsive reports a handshake that got no usable reply
	// before the retry budget ran out.
	ErrServerUnresponsive = errors.New("server not responding")

	// ErrTransferAborted reports retry exhaustion after the handshake, with
	// part of the file already moved.
	ErrTransferAborted = errors.New("transfer aborted, retries exhausted")
)

// ProtocolError is a TFTP ERROR packet received from the server.
type ProtocolError struct {
	Code uint16
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tftp error %d: %s (%s)", e.Code, tftp.ErrorText(e.Code), e.Msg)
}

// ProtocolViolationError covers datagrams the protocol does not allow at the
// point they arrived: malformed packets and opcodes that make no sense for
// the current direction.
type ProtocolViolationError struct {
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return "protocol violation: " + e.Reason
}

// Client runs transfers against one server address. It holds no state across
// transfers; each Get or Put opens and closes its own socket.
type Client struct {
	addr    *net.UDPAddr
	timeout time.Duration
	retries int
	log     *logrus.Logger
}

// Option tunes a Client at construction.
type Option func(*Client)

// WithTimeout sets the per-receive timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries sets how many times any one packet is sent before giving up.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithLogger routes transfer logging somewhere other than the standard
// logrus logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for the given server address.
func New(addr *net.UDPAddr, opts ...Option) *Client {
	c := &Client{
		addr:    addr,
		timeout: DefaultTimeout,
		retries: DefaultRetries,
		log:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get downloads filename from the server into dst. A StatusTimedOut result
// with a nil error is the degraded outcome of a server that stopped talking
// mid-transfer: dst holds every block that arrived.
func (c *Client) Get(filename, mode string, dst io.Writer) (Status, error) {
	wire, err := requestBytes(tftp.OpRRQ, filename, mode)
	if err != nil {
		return StatusFailed, err
	}
	cn, err := dial(c.addr, c.timeout)
	if err != nil {
		return StatusFailed, err
	}
	defer cn.close()

	// Handshake: the reply to an RRQ is the first DATA block, or an ERROR.
	reply, err := c.sendRequest(cn, wire, "RRQ")
	if err != nil {
		return StatusFailed, err
	}

	expected := uint16(1)
	var written int64
	for {
		pkt, perr := tftp.ParsePacket(reply)
		if perr != nil {
			return StatusFailed, &ProtocolViolationError{Reason: perr.Error()}
		}
		switch p := pkt.(type) {
		case *tftp.PacketData:
			if p.BlockNum == expected {
				if _, werr := dst.Write(p.Data); werr != nil {
					return StatusFailed, errors.Wrap(werr, "writing block to destination")
				}
				written += int64(len(p.Data))
				if err := cn.send((&tftp.PacketAck{BlockNum: p.BlockNum}).Serialize()); err != nil {
					return StatusFailed, err
				}
				expected++
				if len(p.Data) < tftp.BlockSize {
					c.log.Infof("downloaded %s, %d bytes", filename, written)
					return StatusDone, nil
				}
			} else {
				// Duplicate or stale block. Re-ACK the block that arrived
				// so the server stops resending it; do not advance, do not
				// write it again.
				c.log.Debugf("duplicate DATA %d while expecting %d", p.BlockNum, expected)
				if err := cn.send((&tftp.PacketAck{BlockNum: p.BlockNum}).Serialize()); err != nil {
					return StatusFailed, err
				}
			}
		case *tftp.PacketError:
			return StatusFailed, &ProtocolError{Code: p.Code, Msg: p.Msg}
		default:
			return StatusFailed, &ProtocolViolationError{
				Reason: fmt.Sprintf("unexpected %s packet during download", packetName(pkt)),
			}
		}

		reply, err = cn.receive()
		if err == errTimeout {
			c.log.Warnf("server went quiet waiting for block %d, keeping %d bytes", expected, written)
			return StatusTimedOut, nil
		}
		if err != nil {
			return StatusFailed, err
		}
	}
}

// Put uploads src to the server under filename.
func (c *Client) Put(filename, mode string, src io.Reader) error {
	wire, err := requestBytes(tftp.OpWRQ, filename, mode)
	if err != nil {
		return err
	}
	cn, err := dial(c.addr, c.timeout)
	if err != nil {
		return err
	}
	defer cn.close()

	if err := c.awaitAck0(cn, wire); err != nil {
		return err
	}

	buf := make([]byte, tftp.BlockSize)
	block := uint16(1)
	var sent int64
	for {
		n, rerr := io.ReadFull(src, buf)
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			return errors.Wrap(rerr, "reading source")
		}
		if err := c.sendBlock(cn, block, buf[:n]); err != nil {
			return err
		}
		sent += int64(n)
		block++
		// A short block, including an empty one when the file length is an
		// exact multiple of 512, is the end-of-file marker.
		if n < tftp.BlockSize {
			c.log.Infof("uploaded %s, %d bytes", filename, sent)
			return nil
		}
	}
}

// sendRequest runs the download handshake: send the request, wait for any
// datagram, resend on timeout. The reply is returned undecoded; the caller
// dispatches it like every later packet.
func (c *Client) sendRequest(cn *conn, wire []byte, kind string) ([]byte, error) {
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := cn.send(wire); err != nil {
			return nil, err
		}
		reply, err := cn.receive()
		if err == errTimeout {
			c.log.Warnf("timeout waiting for reply to %s, retrying (%d/%d)", kind, attempt, c.retries)
			continue
		}
		if err != nil {
			return nil, err
		}
		return reply, nil
	}
	return nil, errors.Wrapf(ErrServerUnresponsive, "no reply to %s after %d attempts", kind, c.retries)
}

// awaitAck0 runs the upload handshake. Only ACK 0 accepts the transfer, an
// ERROR ends it at once, and any other reply burns the attempt.
func (c *Client) awaitAck0(cn *conn, wire []byte) error {
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := cn.send(wire); err != nil {
			return err
		}
		reply, err := cn.receive()
		if err == errTimeout {
			c.log.Warnf("timeout waiting for ACK 0, retrying (%d/%d)", attempt, c.retries)
			continue
		}
		if err != nil {
			return err
		}
		pkt, perr := tftp.ParsePacket(reply)
		if perr != nil {
			c.log.Debugf("discarding malformed reply to WRQ: %v", perr)
			continue
		}
		switch p := pkt.(type) {
		case *tftp.PacketAck:
			if p.BlockNum == 0 {
				return nil
			}
			c.log.Debugf("stray ACK %d during handshake", p.BlockNum)
		case *tftp.PacketError:
			return &ProtocolError{Code: p.Code, Msg: p.Msg}
		default:
			c.log.Debugf("unexpected %s packet during handshake", packetName(pkt))
		}
	}
	return errors.Wrapf(ErrServerUnresponsive, "no ACK for WRQ after %d attempts", c.retries)
}

// sendBlock transmits one DATA packet and waits for its matching ACK. A
// timeout or a reply that is not ACK(block) costs an attempt and triggers a
// resend of the identical packet.
func (c *Client) sendBlock(cn *conn, block uint16, payload []byte) error {
	wire := (&tftp.PacketData{BlockNum: block, Data: payload}).Serialize()
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := cn.send(wire); err != nil {
			return err
		}
		reply, err := cn.receive()
		if err == errTimeout {
			c.log.Warnf("timeout waiting for ACK %d, retrying (%d/%d)", block, attempt, c.retries)
			continue
		}
		if err != nil {
			return err
		}
		pkt, perr := tftp.ParsePacket(reply)
		if perr != nil {
			c.log.Debugf("discarding malformed reply to DATA %d: %v", block, perr)
			continue
		}
		switch p := pkt.(type) {
		case *tftp.PacketAck:
			if p.BlockNum == block {
				c.log.Debugf("block %d acknowledged, %d bytes", block, len(payload))
				return nil
			}
			c.log.Debugf("ACK %d does not match block %d", p.BlockNum, block)
		case *tftp.PacketError:
			return &ProtocolError{Code: p.Code, Msg: p.Msg}
		default:
			c.log.Debugf("unexpected %s packet while waiting for ACK %d", packetName(pkt), block)
		}
	}
	return errors.Wrapf(ErrTransferAborted, "no ACK for block %d after %d attempts", block, c.retries)
}

// requestBytes serializes a request, refusing one that would not fit in a
// legal datagram rather than sending it corrupt.
func requestBytes(op uint16, filename, mode string) ([]byte, error) {
	b := (&tftp.PacketRequest{Op: op, Filename: filename, Mode: mode}).Serialize()
	if len(b) > tftp.MaxPacketSize {
		return nil, errors.Errorf("request packet is %d bytes, over the %d byte datagram limit",
			len(b), tftp.MaxPacketSize)
	}
	return b, nil
}

func packetName(p tftp.Packet) string {
	switch p.(type) {
	case *tftp.PacketRequest:
		return "request"
	case *tftp.PacketData:
		return "DATA"
	case *tftp.PacketAck:
		return "ACK"
	case *tftp.PacketError:
		return "ERROR"
	}
	return "unknown"
}
