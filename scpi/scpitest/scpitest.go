// Package scpitest provides an in-memory SCPI instrument for tests.
//
// The instrument answers queries from a reply table, records every line it
// receives, and keeps an error queue that is served on SYSTem:ERRor?.  Set
// commands ("HEADER value") store value as the reply to "HEADER?" so that
// a write followed by a read behaves like real hardware.
package scpitest

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benchlab/rigolab/comm"
)

// Handler computes the raw reply bytes for a command, including any
// terminator.  A nil reply means the device stays silent.
type Handler func(cmd string) []byte

// Instrument is a fake SCPI device.  The zero value is not usable, use New.
type Instrument struct {
	mu sync.Mutex

	replies  map[string]string
	blocks   map[string][]byte
	handlers map[string]Handler
	rejects  map[string]*queued
	errs     []*queued
	log      []string
	opened   int
}

type queued struct {
	code int
	msg  string
}

// New returns an empty instrument
func New() *Instrument {
	return &Instrument{
		replies:  map[string]string{},
		blocks:   map[string][]byte{},
		handlers: map[string]Handler{},
		rejects:  map[string]*queued{},
	}
}

// Reply sets the reply line for a query.  cmd may be a bare header
// (":CHAN1:SCAL?") or a full line with arguments (":MEAS:ITEM? VMAX,CHAN1");
// full lines take precedence.
func (i *Instrument) Reply(cmd, resp string) *Instrument {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.replies[cmd] = resp
	return i
}

// Block sets a definite length block as the reply for a query
func (i *Instrument) Block(cmd string, data []byte) *Instrument {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.blocks[cmd] = data
	return i
}

// Handle installs a handler for a command or query header
func (i *Instrument) Handle(cmd string, h Handler) *Instrument {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers[cmd] = h
	return i
}

// Reject makes a set command (by header) push an error instead of storing
// its value
func (i *Instrument) Reject(header string, code int, msg string) *Instrument {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rejects[header] = &queued{code: code, msg: msg}
	return i
}

// PushError adds an entry to the error queue
func (i *Instrument) PushError(code int, msg string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.errs = append(i.errs, &queued{code: code, msg: msg})
}

// Value returns the reply currently stored for header+"?"
func (i *Instrument) Value(header string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.replies[header+"?"]
}

// Sent returns every line received, excluding *WAI and error queue polling
func (i *Instrument) Sent() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.log))
	for _, l := range i.log {
		if l == "*WAI" || isErrorQuery(l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// SentWithPrefix returns the lines from Sent that begin with prefix
func (i *Instrument) SentWithPrefix(prefix string) []string {
	var out []string
	for _, l := range i.Sent() {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

// WasSent reports if the exact line was received
func (i *Instrument) WasSent(line string) bool {
	for _, l := range i.Sent() {
		if l == line {
			return true
		}
	}
	return false
}

// ResetLog forgets the received lines
func (i *Instrument) ResetLog() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.log = nil
}

// Opened returns the number of connections made to the instrument
func (i *Instrument) Opened() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.opened
}

// Maker returns a CreationFunc producing connections to the instrument
func (i *Instrument) Maker() comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		i.mu.Lock()
		i.opened++
		i.mu.Unlock()
		return &conn{inst: i}, nil
	}
}

// Pool returns a single connection pool backed by the instrument
func (i *Instrument) Pool() *comm.Pool {
	return comm.NewPool(1, time.Minute, i.Maker())
}

// BlockReply formats data as a #9 definite length block with a terminator
func BlockReply(data []byte) []byte {
	hdr := fmt.Sprintf("#9%09d", len(data))
	out := make([]byte, 0, len(hdr)+len(data)+1)
	out = append(out, hdr...)
	out = append(out, data...)
	return append(out, '\n')
}

// Line formats s as a reply line
func Line(s string) []byte {
	return []byte(s + "\n")
}

func isErrorQuery(l string) bool {
	switch strings.ToUpper(l) {
	case "SYST:ERR?", ":SYST:ERR?", "SYSTEM:ERROR?", ":SYSTEM:ERROR?":
		return true
	}
	return false
}

func splitHeader(line string) (string, string) {
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx+1:])
}

func (i *Instrument) handle(line string) []byte {
	i.mu.Lock()
	i.log = append(i.log, line)
	if line == "*WAI" {
		i.mu.Unlock()
		return nil
	}
	if isErrorQuery(line) {
		defer i.mu.Unlock()
		if len(i.errs) == 0 {
			return Line(`0,"No error"`)
		}
		e := i.errs[0]
		i.errs = i.errs[1:]
		return Line(fmt.Sprintf("%d,\"%s\"", e.code, e.msg))
	}
	header, arg := splitHeader(line)
	h, ok := i.handlers[line]
	if !ok {
		h, ok = i.handlers[header]
	}
	if ok {
		// handlers may call back into the instrument
		i.mu.Unlock()
		return h(line)
	}
	defer i.mu.Unlock()

	if strings.HasSuffix(header, "?") {
		for _, key := range []string{line, header} {
			if b, ok := i.blocks[key]; ok {
				return BlockReply(b)
			}
			if r, ok := i.replies[key]; ok {
				return Line(r)
			}
		}
		i.errs = append(i.errs, &queued{code: -113, msg: "Undefined header"})
		return nil
	}
	if q, ok := i.rejects[header]; ok {
		i.errs = append(i.errs, q)
		return nil
	}
	if arg != "" {
		i.replies[header+"?"] = arg
	}
	return nil
}

type conn struct {
	inst   *Instrument
	in     []byte
	out    bytes.Buffer
	closed bool
}

func (c *conn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	c.in = append(c.in, p...)
	for {
		idx := bytes.IndexByte(c.in, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(c.in[:idx], "\r"))
		c.in = c.in[idx+1:]
		c.out.Write(c.inst.handle(line))
	}
	return len(p), nil
}

// Read returns io.EOF when the instrument has nothing to say, which is what
// a real device does by timing out
func (c *conn) Read(p []byte) (int, error) {
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	return c.out.Read(p)
}

func (c *conn) Close() error {
	c.closed = true
	return nil
}
