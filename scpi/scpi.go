// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/benchlab/rigolab/comm"
	"github.com/benchlab/rigolab/log"
)

const (
	// DefaultTimeout is used for each transaction when SCPI.Timeout is zero
	DefaultTimeout = 10 * time.Second

	// MaxBlockSize is the largest definite length block that will be accepted
	MaxBlockSize = 64 << 20

	// maxErrorQueue bounds the number of SYSTem:ERRor? queries in one drain
	maxErrorQueue = 32
)

// ErrBadBlock is returned when a binary block response is malformed
var ErrBadBlock = errors.New("malformed IEEE 488.2 block")

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where the error queue is drained after every write
	// to ensure the device accepted the input
	Handshaking bool

	// Timeout is the deadline for one request/response
	Timeout time.Duration

	// Limiter paces transactions.  nil means no pacing
	Limiter *rate.Limiter
}

// Error is an entry from the device's error queue
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("SCPI error %d: %s", e.Code, e.Message)
}

// ParseError decodes a SYSTem:ERRor? reply such as -113,"Undefined header".
// A code of zero means the queue is empty.
func ParseError(s string) (*Error, error) {
	s = strings.TrimSpace(s)
	idx := strings.IndexByte(s, ',')
	if idx < 0 {
		return nil, errors.Errorf("unable to parse error queue entry %q", s)
	}
	code, err := strconv.Atoi(strings.TrimSpace(s[:idx]))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse error queue entry %q", s)
	}
	msg := strings.Trim(strings.TrimSpace(s[idx+1:]), `"`)
	return &Error{Code: code, Message: msg}, nil
}

func (s *SCPI) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// transact leases one connection, applies the deadline and runs fn on it.
// the connection is destroyed if fn fails at the transport level.
func (s *SCPI) transact(fn func(t *comm.Terminator) error) (err error) {
	if s.Limiter != nil {
		if err = s.Limiter.Wait(context.Background()); err != nil {
			return err
		}
	}
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, s.timeout())
	if err != nil {
		return err
	}
	err = fn(comm.NewTerminator(wrap, '\n', '\n'))
	return err
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also waits for the command to complete and drains the error queue.
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	str := strings.Join(cmds, " ")
	err := s.transact(func(t *comm.Terminator) error {
		log.Debug("scpi > %s", str)
		if _, err := io.WriteString(t, str); err != nil {
			return err
		}
		if s.Handshaking {
			_, err := io.WriteString(t, "*WAI")
			return err
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "writing %q", str)
	}
	if s.Handshaking {
		if err := s.AllErrors(); err != nil {
			return errors.Wrapf(err, "device rejected %q", str)
		}
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism.  The terminator is stripped from the
// response.
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	str := strings.Join(cmds, " ")
	var resp []byte
	err := s.transact(func(t *comm.Terminator) error {
		log.Debug("scpi > %s", str)
		if _, err := io.WriteString(t, str); err != nil {
			return err
		}
		var err error
		resp, err = t.ReadLine()
		return err
	})
	if err != nil {
		err = errors.Wrapf(err, "querying %q", str)
		if s.Handshaking {
			err = multierr.Append(err, s.AllErrors())
		}
		return resp, err
	}
	log.Debug("scpi < %s", resp)
	return resp, nil
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	return strings.TrimSpace(string(resp)), err
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(resp, 64)
	return f, errors.Wrapf(err, "reply to %q", strings.Join(cmds, " "))
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	b, err := ParseBool(resp)
	return b, errors.Wrapf(err, "reply to %q", strings.Join(cmds, " "))
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer.  Replies in scientific notation
// that hold an integral value are accepted.
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	i, err := ParseInt(resp)
	return i, errors.Wrapf(err, "reply to %q", strings.Join(cmds, " "))
}

// ReadBlock sends a query and reads an IEEE 488.2 block from the reply
func (s *SCPI) ReadBlock(cmds ...string) ([]byte, error) {
	str := strings.Join(cmds, " ")
	var data []byte
	err := s.transact(func(t *comm.Terminator) error {
		log.Debug("scpi > %s", str)
		if _, err := io.WriteString(t, str); err != nil {
			return err
		}
		var err error
		data, err = readBlock(t)
		if errors.Is(err, ErrBadBlock) {
			// the rest of the reply is still on the wire
			err = comm.MarkConnError(err)
		}
		return err
	})
	if err != nil {
		err = errors.Wrapf(err, "querying %q", str)
		if s.Handshaking {
			err = multierr.Append(err, s.AllErrors())
		}
		return nil, err
	}
	log.Debug("scpi < block of %d bytes", len(data))
	return data, nil
}

// ReadASCIIValues sends a query whose reply is a block of comma separated
// numbers and parses them
func (s *SCPI) ReadASCIIValues(cmds ...string) ([]float64, error) {
	data, err := s.ReadBlock(cmds...)
	if err != nil {
		return nil, err
	}
	return ParseFloats(string(data))
}

// readBlock parses #<n><length><data> and the trailing terminator.
// #0 marks an indefinite length block that runs to the terminator.
func readBlock(t *comm.Terminator) ([]byte, error) {
	var b byte
	var err error
	for {
		b, err = t.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != ' ' && b != '\r' && b != '\n' {
			break
		}
	}
	if b != '#' {
		return nil, errors.Wrapf(ErrBadBlock, "first byte was %q, expected #", b)
	}
	b, err = t.ReadByte()
	if err != nil {
		return nil, err
	}
	if b < '0' || b > '9' {
		return nil, errors.Wrapf(ErrBadBlock, "length digit was %q", b)
	}
	ndigits := int(b - '0')
	if ndigits == 0 {
		return t.ReadLine()
	}
	lenbuf := make([]byte, ndigits)
	if err := t.ReadFull(lenbuf); err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(string(lenbuf))
	if err != nil {
		return nil, errors.Wrapf(ErrBadBlock, "length %q is not a number", lenbuf)
	}
	if length < 0 || length > MaxBlockSize {
		return nil, errors.Wrapf(ErrBadBlock, "length %d out of range", length)
	}
	data := make([]byte, length)
	if err := t.ReadFull(data); err != nil {
		return nil, err
	}
	// pop off the terminator
	b, err = t.ReadByte()
	if err != nil {
		return nil, err
	}
	if b == '\r' {
		b, err = t.ReadByte()
		if err != nil {
			return nil, err
		}
	}
	if b != '\n' {
		return nil, errors.Wrapf(ErrBadBlock, "expected terminator after data, got %q", b)
	}
	return data, nil
}

// Raw sends a command to the scope and returns a response if it was a query,
// else a blank string.  Handshaking is not used.
func (s *SCPI) Raw(str string) (string, error) {
	var resp []byte
	query := strings.Contains(str, "?")
	err := s.transact(func(t *comm.Terminator) error {
		log.Debug("scpi raw > %s", str)
		if _, err := io.WriteString(t, str); err != nil {
			return err
		}
		if !query {
			return nil
		}
		var err error
		resp, err = t.ReadLine()
		return err
	})
	return strings.TrimSpace(string(resp)), err
}

// PopError gets a single error from the queue on the device.
// nil is returned when the queue is empty.  Failures to talk to the
// device are returned as-is and are not *Error.
func (s *SCPI) PopError() error {
	var resp []byte
	err := s.transact(func(t *comm.Terminator) error {
		if _, err := io.WriteString(t, "SYSTem:ERRor?"); err != nil {
			return err
		}
		var err error
		resp, err = t.ReadLine()
		return err
	})
	if err != nil {
		return errors.Wrap(err, "reading error queue")
	}
	e, err := ParseError(string(resp))
	if err != nil {
		return err
	}
	if e.Code == 0 {
		return nil
	}
	log.Debug("scpi ! %d %s", e.Code, e.Message)
	return e
}

// AllErrors drains the error queue on the device.  The entries are combined
// with multierr; use multierr.Errors to take them apart.
// nil is returned when the queue was empty.
func (s *SCPI) AllErrors() error {
	var errs error
	for i := 0; i < maxErrorQueue; i++ {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = multierr.Append(errs, err)
		if _, ok := err.(*Error); !ok {
			// can't talk to it, the queue can't be read either
			break
		}
	}
	return errs
}

// AllErrorsString is equivalent to AllErrors, but joining by newline
// if there were no errors, the error return value is nil, otherwise
// it is the first error in the list and has no particular meaning
func (s *SCPI) AllErrorsString() (string, error) {
	errs := multierr.Errors(s.AllErrors())
	if len(errs) == 0 {
		return "", nil
	}
	strs := make([]string, len(errs))
	for i := 0; i < len(errs); i++ {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "\n"), errs[0]
}
