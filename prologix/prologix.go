// Package prologix drives an instrument on a GPIB bus through a Prologix
// GPIB-USB (or compatible AR488) controller.
//
// The Adapter is an io.ReadWriteCloser that carries instrument data; the
// "++" controller commands are issued by Open and by Read as needed, so
// the adapter can be used wherever a serial port or socket would be.
package prologix

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/benchlab/rigolab/comm"
	"github.com/benchlab/rigolab/log"
)

const (
	esc = 0x1B

	// DefaultBaud is used by Open when no baud rate is given; the USB
	// adapters ignore it
	DefaultBaud = 115200

	// DefaultReadTimeout is the GPIB read timeout programmed into the adapter
	DefaultReadTimeout = 500 * time.Millisecond
)

// ErrReadTimeout is returned when the adapter does not deliver data in time
var ErrReadTimeout = errors.New("prologix: timed out waiting for the instrument")

// Adapter models the controller-in-charge addressing one instrument
type Adapter struct {
	rw               io.ReadWriter
	port             serial.Port
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	clear            bool
	ar488            bool
	readTimeout      time.Duration
	baud             int

	// readPending is set after a write and cleared once ++read is sent
	readPending bool
}

// Option applies an option to the adapter
type Option func(*Adapter)

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) Option {
	return func(a *Adapter) {
		a.hasSecondaryAddr = true
		a.secondaryAddr = addr
	}
}

// WithClear sends Selected Device Clear to the instrument during setup
func WithClear() Option { return func(a *Adapter) { a.clear = true } }

// WithAR488 skips the verbose and savecfg commands the Arduino clone lacks
func WithAR488() Option { return func(a *Adapter) { a.ar488 = true } }

// WithReadTimeout sets the GPIB read timeout and the serial read timeout
func WithReadTimeout(d time.Duration) Option { return func(a *Adapter) { a.readTimeout = d } }

// WithBaud sets the serial baud rate used by Open
func WithBaud(baud int) Option { return func(a *Adapter) { a.baud = baud } }

func isPrimaryAddressValid(addr int) bool   { return addr >= 0 && addr <= 30 }
func isSecondaryAddressValid(addr int) bool { return addr >= 96 && addr <= 126 }

// Open opens the serial port the adapter enumerates as and configures it
// to talk to the instrument at addr
func Open(port string, addr int, opts ...Option) (*Adapter, error) {
	a := newAdapter(addr, opts)
	mode := &serial.Mode{BaudRate: a.baud}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", port)
	}
	if err := p.SetReadTimeout(a.readTimeout + 500*time.Millisecond); err != nil {
		p.Close()
		return nil, err
	}
	a.rw = p
	a.port = p
	if err := a.setup(); err != nil {
		p.Close()
		return nil, err
	}
	return a, nil
}

// New configures an adapter already connected through rw, e.g. the
// GPIB-ETHERNET variant on TCP port 1234
func New(rw io.ReadWriter, addr int, opts ...Option) (*Adapter, error) {
	a := newAdapter(addr, opts)
	a.rw = rw
	if err := a.setup(); err != nil {
		return nil, err
	}
	return a, nil
}

func newAdapter(addr int, opts []Option) *Adapter {
	a := &Adapter{
		primaryAddr: addr,
		readTimeout: DefaultReadTimeout,
		baud:        DefaultBaud,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) setup() error {
	if !isPrimaryAddressValid(a.primaryAddr) {
		return fmt.Errorf("invalid primary address %d (must be 0-30)", a.primaryAddr)
	}
	addrCmd := fmt.Sprintf("addr %d", a.primaryAddr)
	if a.hasSecondaryAddr {
		if !isSecondaryAddressValid(a.secondaryAddr) {
			return fmt.Errorf("invalid secondary address %d (must be 96-126)", a.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", a.primaryAddr, a.secondaryAddr)
	}
	cmds := []string{}
	if !a.ar488 {
		cmds = append(cmds, "verbose 0", "savecfg 0")
	}
	cmds = append(cmds,
		"mode 1",
		"auto 0",
		addrCmd,
		"eoi 1",
		"eos 3",
		fmt.Sprintf("read_tmo_ms %d", a.readTimeout.Milliseconds()),
		"eot_enable 1",
		"eot_char 10",
	)
	if a.clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := a.Command(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Command sends a "++" command to the adapter itself
func (a *Adapter) Command(cmd string) error {
	log.Debug("prologix > ++%s", cmd)
	_, err := io.WriteString(a.rw, "++"+strings.TrimSpace(cmd)+"\n")
	return err
}

// escape prefixes the bytes the adapter would interpret with ESC
func escape(b []byte) []byte {
	out := make([]byte, 0, len(b)+4)
	for _, c := range b {
		switch c {
		case '\r', '\n', '+', esc:
			out = append(out, esc)
		}
		out = append(out, c)
	}
	return out
}

// Write sends p to the instrument.  All of p is delivered, including any
// trailing newline, and the adapter asserts EOI on the last byte.
func (a *Adapter) Write(p []byte) (int, error) {
	buf := escape(p)
	buf = append(buf, '\n')
	if _, err := a.rw.Write(buf); err != nil {
		return 0, err
	}
	a.readPending = bytes.IndexByte(p, '?') >= 0
	return len(p), nil
}

// Read reads the instrument's reply, asking the adapter to address it to
// talk first if that has not been done since the last query
func (a *Adapter) Read(p []byte) (int, error) {
	if a.readPending {
		a.readPending = false
		if err := a.Command("read eoi"); err != nil {
			return 0, err
		}
	}
	n, err := a.rw.Read(p)
	if n == 0 && err == nil {
		// go.bug.st/serial reports a timeout as an empty read
		return 0, comm.MarkConnError(ErrReadTimeout)
	}
	return n, err
}

// Close closes the serial port if Open made it
func (a *Adapter) Close() error {
	if a.port != nil {
		return a.port.Close()
	}
	if c, ok := a.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
