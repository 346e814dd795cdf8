/*Package comm provides the connection plumbing used to talk to lab hardware.

Most usages of this package will boil down to:
	1.  make a CreationFunc for the transport (TCP, serial, USB, GPIB...)
	2.  hand it to NewPool
	3.  Get a connection, wrap it with NewTerminator and NewTimeout, and
		do one request/response
	4.  hand the connection back with ReturnWithError

A minimal example for an instrument that answers "*IDN?" over a raw socket:

	maker := comm.BackingOffTCPConnMaker("192.168.1.50:5555", time.Second)
	pool := comm.NewPool(1, time.Minute, maker)
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	term := comm.NewTerminator(conn, '\n', '\n')
	_, err = term.Write([]byte("*IDN?"))
	if err != nil {
		return err
	}
	idn, err := term.ReadLine()
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when a connection is nil and Read or Write is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrPoolClosed is returned by Get once the pool has been closed
	ErrPoolClosed = errors.New("connection pool is closed")
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Terminator wraps a connection so that every Write is followed by a
// transmit terminator and reads can be done a line at a time.
// A Terminator buffers reads; make one per request/response and do not
// read from the underlying connection while it is in use.
type Terminator struct {
	rw io.ReadWriter
	br *bufio.Reader
	tx byte
	rx byte
}

// NewTerminator returns a Terminator around rw
func NewTerminator(rw io.ReadWriter, tx, rx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReader(rw), tx: tx, rx: rx}
}

// Write sends b with the Tx terminator appended.  The returned count
// excludes the terminator.
func (t *Terminator) Write(b []byte) (int, error) {
	if t.rw == nil {
		return 0, ErrNotConnected
	}
	buf := make([]byte, len(b), len(b)+1)
	copy(buf, b)
	buf = append(buf, t.tx)
	n, err := t.rw.Write(buf)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read reads from the buffered connection
func (t *Terminator) Read(b []byte) (int, error) {
	return t.br.Read(b)
}

// ReadLine reads up to and including the Rx terminator and returns the data
// without it.  A trailing carriage return is also removed.
func (t *Terminator) ReadLine() ([]byte, error) {
	buf, err := t.br.ReadBytes(t.rx)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return buf, err
	}
	buf = buf[:len(buf)-1]
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return buf, nil
}

// ReadFull fills b completely from the buffered connection
func (t *Terminator) ReadFull(b []byte) error {
	_, err := io.ReadFull(t.br, b)
	return err
}

// ReadByte reads a single byte from the buffered connection
func (t *Terminator) ReadByte() (byte, error) {
	return t.br.ReadByte()
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// NewTimeout applies a deadline d from now to rw if the connection supports
// deadlines (net.Conn does, most serial and USB handles do not and carry
// their own timeouts).  The same ReadWriter is returned.
func NewTimeout(rw io.ReadWriter, d time.Duration) (io.ReadWriter, error) {
	if d <= 0 {
		return rw, nil
	}
	if dl, ok := rw.(deadliner); ok {
		if err := dl.SetDeadline(time.Now().Add(d)); err != nil {
			return rw, err
		}
	}
	return rw, nil
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr with an
// exponential backoff.  A refused connection is not retried, a timeout is
// retried for up to three seconds.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			c, err := TCPSetup(addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					return backoff.Permanent(err)
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", addr, err)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens a serial port
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}
