package usbtmc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

type fixedTag byte

func (f fixedTag) nextbTag() byte { return byte(f) }

func TestInvbTag(t *testing.T) {
	if invbTag(0x01) != 0xfe {
		t.Errorf("expected 0xfe got %#x", invbTag(0x01))
	}
}

func TestBTagGenSkipsZero(t *testing.T) {
	g := newBTagGen()
	g.value = 255
	if tag := g.nextbTag(); tag != 1 {
		t.Errorf("expected wrap to 1 got %d", tag)
	}
}

func TestEncBulkOutHeader(t *testing.T) {
	hdr := encBulkOutHeader(7, 5, true)
	expected := [12]byte{0x01, 7, 0xf8, 0, 5, 0, 0, 0, 0x01, 0, 0, 0}
	if hdr != expected {
		t.Errorf("expected %v got %v", expected, hdr)
	}
}

func TestEncBulkInHeaderTerminator(t *testing.T) {
	term := byte('\n')
	hdr := encBulkInHeader(3, 1024, &term)
	if hdr[0] != 0x02 {
		t.Errorf("expected MsgID 2 got %d", hdr[0])
	}
	if binary.LittleEndian.Uint32(hdr[4:8]) != 1024 {
		t.Errorf("expected size 1024 got %d", binary.LittleEndian.Uint32(hdr[4:8]))
	}
	if hdr[8] != 0x02 || hdr[9] != '\n' {
		t.Errorf("terminator not encoded, got %#x %#x", hdr[8], hdr[9])
	}
}

func TestDecBulkInHeaderRejectsTagMismatch(t *testing.T) {
	hdr := encBulkInHeader(4, 10, nil)
	if _, _, err := decBulkInHeader(hdr[:], 5); !errors.Is(err, ErrBadHeader) {
		t.Errorf("expected ErrBadHeader got %v", err)
	}
}

// endpoints is a loopback standing in for a USBTMC device that answers
// each read request with the next queued message, split over packets
type endpoints struct {
	requests [][]byte
	replies  [][]byte
	packet   int
	buf      bytes.Buffer
}

func (e *endpoints) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	e.requests = append(e.requests, cp)
	if cp[0] == msgDevDepIn && len(e.replies) > 0 {
		msg := e.replies[0]
		e.replies = e.replies[1:]
		eom := len(e.replies) == 0
		var hdr [12]byte
		hdr[0] = msgDevDepIn
		hdr[1] = cp[1]
		hdr[2] = cp[2]
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(msg)))
		if eom {
			hdr[8] = attrEOM
		}
		e.buf.Write(hdr[:])
		e.buf.Write(msg)
		if pad := (12 + len(msg)) % 4; pad > 0 {
			e.buf.Write(make([]byte, 4-pad))
		}
	}
	return len(b), nil
}

func (e *endpoints) Read(b []byte) (int, error) {
	if e.buf.Len() == 0 {
		return 0, io.EOF
	}
	if len(b) > e.packet {
		b = b[:e.packet]
	}
	return e.buf.Read(b)
}

func TestDeviceWritePadsAndFrames(t *testing.T) {
	ep := &endpoints{packet: 64}
	d := &Device{tagger: fixedTag(9), in: ep, out: ep}
	n, err := d.Write([]byte("*IDN?\n"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Errorf("expected 6 got %d", n)
	}
	req := ep.requests[0]
	if len(req) != 20 {
		t.Errorf("expected 12+6 padded to 20 got %d", len(req))
	}
	if string(req[12:18]) != "*IDN?\n" {
		t.Errorf("payload not framed, got %q", req[12:18])
	}
}

func TestDeviceReadAssemblesPackets(t *testing.T) {
	ep := &endpoints{packet: 8, replies: [][]byte{[]byte("RIGOL TECH"), []byte("NOLOGIES\n")}}
	d := &Device{tagger: newBTagGen(), in: ep, out: ep}
	got, err := io.ReadAll(io.LimitReader(d, 19))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "RIGOL TECHNOLOGIES\n" {
		t.Errorf("expected RIGOL TECHNOLOGIES got %q", got)
	}
	if len(ep.requests) != 2 {
		t.Errorf("expected 2 read requests got %d", len(ep.requests))
	}
}
