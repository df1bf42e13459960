// Package tftp implements the RFC 1350 packet formats.
package tftp

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Opcodes defined by RFC 1350.
const (
	OpRRQ uint16 = iota + 1
	OpWRQ
	OpData
	OpAck
	OpError
)

const (
	// BlockSize is the fixed DATA payload size. A shorter payload marks
	// the final block of a transfer.
	BlockSize = 512

	// MaxPacketSize is the largest legal datagram: 4 header bytes plus a
	// full DATA payload.
	MaxPacketSize = BlockSize + 4

	// ModeOctet is the only transfer mode this implementation speaks.
	ModeOctet = "octet"
)

var errorTexts = map[uint16]string{
	0: "Not defined.",
	1: "File not found.",
	2: "Access violation.",
	3: "Disk full.",
	4: "Illegal TFTP operation.",
	5: "Unknown transfer ID.",
	6: "File already exists.",
	7: "No such user.",
}

// ErrorText returns the standard message for a TFTP error code.
func ErrorText(code uint16) string {
	if s, ok := errorTexts[code]; ok {
		return s
	}
	return "Unknown"
}

// Packet is one TFTP datagram payload.
type Packet interface {
	Serialize() []byte
}

// PacketRequest is an RRQ or WRQ, selected by Op.
type PacketRequest struct {
	Op       uint16
	Filename string
	Mode     string
}

func (p *PacketRequest) Serialize() []byte {
	buf := make([]byte, 2, 4+len(p.Filename)+len(p.Mode))
	binary.BigEndian.PutUint16(buf, p.Op)
	buf = append(buf, p.Filename...)
	buf = append(buf, 0)
	buf = append(buf, p.Mode...)
	buf = append(buf, 0)
	return buf
}

// PacketData carries one block of file content.
type PacketData struct {
	BlockNum uint16
	Data     []byte
}

func (p *PacketData) Serialize() []byte {
	buf := make([]byte, 4, 4+len(p.Data))
	binary.BigEndian.PutUint16(buf, OpData)
	binary.BigEndian.PutUint16(buf[2:], p.BlockNum)
	return append(buf, p.Data...)
}

// PacketAck acknowledges one DATA block.
type PacketAck struct {
	BlockNum uint16
}

func (p *PacketAck) Serialize() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf, OpAck)
	binary.BigEndian.PutUint16(buf[2:], p.BlockNum)
	return buf
}

// PacketError is a terminal error report from the peer.
type PacketError struct {
	Code uint16
	Msg  string
}

func (p *PacketError) Serialize() []byte {
	buf := make([]byte, 4, 5+len(p.Msg))
	binary.BigEndian.PutUint16(buf, OpError)
	binary.BigEndian.PutUint16(buf[2:], p.Code)
	buf = append(buf, p.Msg...)
	return append(buf, 0)
}

// ParsePacket decodes one datagram. A too-short buffer or an opcode outside
// the five defined by RFC 1350 is a parse error; a well-formed ERROR packet
// parses successfully into a *PacketError.
func ParsePacket(buf []byte) (Packet, error) {
	if len(buf) < 2 {
		return nil, errors.Errorf("packet of %d bytes is too short for an opcode", len(buf))
	}
	op := binary.BigEndian.Uint16(buf)
	switch op {
	case OpRRQ, OpWRQ:
		filename, rest, err := readField(buf[2:])
		if err != nil {
			return nil, errors.Wrap(err, "request filename")
		}
		mode, _, err := readField(rest)
		if err != nil {
			return nil, errors.Wrap(err, "request mode")
		}
		return &PacketRequest{Op: op, Filename: filename, Mode: mode}, nil
	case OpData:
		if len(buf) < 4 {
			return nil, errors.Errorf("DATA packet truncated at %d bytes", len(buf))
		}
		return &PacketData{BlockNum: binary.BigEndian.Uint16(buf[2:]), Data: buf[4:]}, nil
	case OpAck:
		if len(buf) < 4 {
			return nil, errors.Errorf("ACK packet truncated at %d bytes", len(buf))
		}
		return &PacketAck{BlockNum: binary.BigEndian.Uint16(buf[2:])}, nil
	case OpError:
		if len(buf) < 4 {
			return nil, errors.Errorf("ERROR packet truncated at %d bytes", len(buf))
		}
		msg := buf[4:]
		// Tolerate a missing terminator: take everything that arrived.
		if i := bytes.IndexByte(msg, 0); i >= 0 {
			msg = msg[:i]
		}
		return &PacketError{Code: binary.BigEndian.Uint16(buf[2:]), Msg: string(msg)}, nil
	default:
		return nil, errors.Errorf("unknown opcode %d", op)
	}
}

// readField consumes one zero-terminated string from a request body.
func readField(buf []byte) (string, []byte, error) {
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		return "", nil, errors.New("missing zero terminator")
	}
	return string(buf[:i]), buf[i+1:], nil
}
