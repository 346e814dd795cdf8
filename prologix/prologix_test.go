package prologix

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// port records what is written and replays a canned reply
type port struct {
	written bytes.Buffer
	reply   bytes.Buffer
}

func (p *port) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *port) Read(b []byte) (int, error) {
	if p.reply.Len() == 0 {
		return 0, nil
	}
	return p.reply.Read(b)
}

func TestNewConfiguresAdapter(t *testing.T) {
	p := &port{}
	if _, err := New(p, 5, WithClear()); err != nil {
		t.Fatal(err)
	}
	out := p.written.String()
	for _, cmd := range []string{"++mode 1\n", "++auto 0\n", "++addr 5\n", "++eoi 1\n", "++eos 3\n", "++read_tmo_ms 500\n", "++eot_enable 1\n", "++eot_char 10\n", "++clr\n"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("expected %q in setup, got %q", cmd, out)
		}
	}
}

func TestNewRejectsBadAddresses(t *testing.T) {
	if _, err := New(&port{}, 31); err == nil {
		t.Error("expected primary address 31 to be rejected")
	}
	if _, err := New(&port{}, 1, WithSecondaryAddress(95)); err == nil {
		t.Error("expected secondary address 95 to be rejected")
	}
	p := &port{}
	if _, err := New(p, 1, WithSecondaryAddress(96)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.written.String(), "++addr 1 96\n") {
		t.Error("secondary address not programmed")
	}
}

func TestEscape(t *testing.T) {
	got := escape([]byte("a+b\n"))
	expected := []byte{'a', esc, '+', 'b', esc, '\n'}
	if !bytes.Equal(got, expected) {
		t.Errorf("expected %v got %v", expected, got)
	}
}

func TestQueryIssuesRead(t *testing.T) {
	p := &port{}
	a, err := New(p, 1, WithAR488())
	if err != nil {
		t.Fatal(err)
	}
	p.written.Reset()
	p.reply.WriteString("RIGOL TECHNOLOGIES\n")
	if _, err := a.Write([]byte("*IDN?\n")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := a.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "RIGOL TECHNOLOGIES\n" {
		t.Errorf("unexpected reply %q", buf[:n])
	}
	expected := "*IDN?\x1b\n\n++read eoi\n"
	if p.written.String() != expected {
		t.Errorf("expected %q got %q", expected, p.written.String())
	}
	// a second read continues the same reply without another ++read
	p.written.Reset()
	if _, err := a.Read(buf); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("expected ErrReadTimeout on an empty port, got %v", err)
	}
	if p.written.Len() != 0 {
		t.Errorf("unexpected write %q", p.written.String())
	}
}
