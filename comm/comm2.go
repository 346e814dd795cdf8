package comm

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= maxSize
	timeout time.Duration           // time after all are returned to free the idle connections
	conns   chan io.ReadWriteCloser // idle connections
	tokens  chan struct{}           // one token per connection that may exist
	timer   *time.Timer             // fires reclaim after the idle timeout
	maker   CreationFunc

	closed bool
	mu     sync.Mutex
}

// NewPool creates a pool that holds at most maxSize connections made by maker.
// Idle connections are closed once all of them have been returned for timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		tokens:  make(chan struct{}, maxSize),
		maker:   maker,
	}
	for i := 0; i < maxSize; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).  ReturnWithError
// picks between the two.
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	<-p.tokens
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.tokens <- struct{}{}
		return nil, ErrPoolClosed
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	// the token is the reservation, so the lease is counted before dialing
	p.onLease++
	select {
	case c := <-p.conns:
		p.mu.Unlock()
		return c, nil
	default:
	}
	p.mu.Unlock()

	c, err := p.maker()
	if err != nil {
		p.mu.Lock()
		p.onLease--
		if p.onLease == 0 && !p.closed {
			p.startReclaim()
		}
		p.mu.Unlock()
		p.tokens <- struct{}{}
		return nil, err
	}
	return c, nil
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	if p.closed {
		rwc.Close()
		p.tokens <- struct{}{}
		return
	}
	p.conns <- rwc
	p.tokens <- struct{}{}
	if p.onLease == 0 {
		p.startReclaim()
	}
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	if rwc, ok := rw.(io.ReadWriteCloser); ok {
		rwc.Close()
	}
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
	p.tokens <- struct{}{}
}

// ReturnWithError returns the communicator with Put if err is nil or is not
// a connection-level failure, otherwise it is destroyed.  This is meant to be
// deferred in a closure over a named error.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err == nil || !isConnError(err) {
		p.Put(rw)
		return
	}
	p.Destroy(rw)
}

// Close frees every idle connection and makes further calls to Get fail.
// Connections on lease are closed as they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	return p.drain()
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// startReclaim arms the idle timer.  Must be called with mu held.
func (p *Pool) startReclaim() {
	if p.timeout <= 0 {
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.timeout, p.reclaim)
		return
	}
	p.timer.Reset(p.timeout)
}

func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLease > 0 {
		return
	}
	p.drain()
}

// drain closes all idle connections.  Must be called with mu held.
func (p *Pool) drain() error {
	var first error
	for {
		select {
		case c := <-p.conns:
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		default:
			return first
		}
	}
}

// isConnError reports whether err came from the transport rather than the
// remote device's own error reporting
func isConnError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrTerminatorNotFound) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	var operr *net.OpError
	return errors.As(err, &operr)
}

// MarkConnError wraps err so that ReturnWithError destroys the connection.
// Transports whose errors are not net.Error (USB, serial) use this to
// signal a broken link.
func MarkConnError(err error) error {
	if err == nil {
		return nil
	}
	return connError{err}
}

type connError struct{ err error }

func (e connError) Error() string   { return e.err.Error() }
func (e connError) Unwrap() error   { return e.err }
func (e connError) Timeout() bool   { return false }
func (e connError) Temporary() bool { return false }
