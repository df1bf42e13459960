package tftp

import (
	"bytes"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	for _, op := range []uint16{OpRRQ, OpWRQ} {
		in := &PacketRequest{Op: op, Filename: "dir/firmware.bin", Mode: ModeOctet}
		pkt, err := ParsePacket(in.Serialize())
		if err != nil {
			t.Fatalf("ParsePacket: %v", err)
		}
		out, ok := pkt.(*PacketRequest)
		if !ok {
			t.Fatalf("got %T; want *PacketRequest", pkt)
		}
		if out.Op != op || out.Filename != in.Filename || out.Mode != in.Mode {
			t.Errorf("got %+v; want %+v", out, in)
		}
	}
}

func TestRequestWireLayout(t *testing.T) {
	b := (&PacketRequest{Op: OpRRQ, Filename: "a", Mode: "octet"}).Serialize()
	want := []byte{0, 1, 'a', 0, 'o', 'c', 't', 'e', 't', 0}
	if !bytes.Equal(b, want) {
		t.Errorf("got % x; want % x", b, want)
	}
}

func TestAckRoundTrip(t *testing.T) {
	for _, block := range []uint16{0, 1, 255, 256, 65535} {
		pkt, err := ParsePacket((&PacketAck{BlockNum: block}).Serialize())
		if err != nil {
			t.Fatalf("ParsePacket: %v", err)
		}
		ack, ok := pkt.(*PacketAck)
		if !ok {
			t.Fatalf("got %T; want *PacketAck", pkt)
		}
		if ack.BlockNum != block {
			t.Errorf("got block %d; want %d", ack.BlockNum, block)
		}
	}
}

func TestDataRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 511, BlockSize} {
		payload := bytes.Repeat([]byte{0xab}, n)
		pkt, err := ParsePacket((&PacketData{BlockNum: 7, Data: payload}).Serialize())
		if err != nil {
			t.Fatalf("ParsePacket: %v", err)
		}
		data, ok := pkt.(*PacketData)
		if !ok {
			t.Fatalf("got %T; want *PacketData", pkt)
		}
		if data.BlockNum != 7 || !bytes.Equal(data.Data, payload) {
			t.Errorf("payload of %d bytes did not survive the round trip", n)
		}
	}
}

func TestErrorRoundTrip(t *testing.T) {
	pkt, err := ParsePacket((&PacketError{Code: 1, Msg: "File not found."}).Serialize())
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	pe, ok := pkt.(*PacketError)
	if !ok {
		t.Fatalf("got %T; want *PacketError", pkt)
	}
	if pe.Code != 1 || pe.Msg != "File not found." {
		t.Errorf("got %+v", pe)
	}
}

func TestErrorMissingTerminator(t *testing.T) {
	// Some servers forget the trailing zero; the message should still come
	// through whole.
	pkt, err := ParsePacket([]byte{0, 5, 0, 2, 'd', 'e', 'n', 'i', 'e', 'd'})
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	pe := pkt.(*PacketError)
	if pe.Code != 2 || pe.Msg != "denied" {
		t.Errorf("got code %d msg %q", pe.Code, pe.Msg)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := [][]byte{
		nil,
		{0},
		{0, 3},          // DATA with no block number
		{0, 4, 1},       // ACK one byte short
		{0, 5, 0},       // ERROR with half a code
		{0, 9, 0, 0},    // opcode outside RFC 1350
		{0, 1, 'f'},     // request without terminators
		{0, 2, 'f', 0},  // request without a mode field
	}
	for _, buf := range cases {
		if _, err := ParsePacket(buf); err == nil {
			t.Errorf("ParsePacket(% x) accepted a malformed packet", buf)
		}
	}
}

func TestErrorText(t *testing.T) {
	if got := ErrorText(1); got != "File not found." {
		t.Errorf("ErrorText(1) = %q", got)
	}
	if got := ErrorText(7); got != "No such user." {
		t.Errorf("ErrorText(7) = %q", got)
	}
	if got := ErrorText(42); got != "Unknown" {
		t.Errorf("ErrorText(42) = %q", got)
	}
}
