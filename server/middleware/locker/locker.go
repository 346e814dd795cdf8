// Package locker provides an HTTP middleware that bounces requests with 423
// (locked) while an instrument is reserved by one client.
package locker

import (
	"net/http"
	"path"
	"sync"

	"github.com/benchlab/rigolab/generichttp"
	"github.com/benchlab/rigolab/log"
)

// Inject adds GET and POST /lock to other, reading and setting l as
// {"bool": locked}
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = generichttp.GetBool(func() (bool, error) {
		return l.Locked(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = generichttp.SetBool(l.set)
}

// Locker is a flag guarding a set of routes.  Unlike a sync.Mutex it never
// blocks; callers that find it locked are turned away.
type Locker struct {
	mu     sync.RWMutex
	locked bool

	// DoNotProtect lists final path segments that stay reachable while
	// locked
	DoNotProtect []string
}

// New returns a Locker that leaves the /lock route itself unprotected
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker
func (l *Locker) Lock() { l.set(true) }

// Unlock the locker
func (l *Locker) Unlock() { l.set(false) }

func (l *Locker) set(locked bool) error {
	l.mu.Lock()
	if l.locked != locked {
		log.Info("locker: locked=%v", locked)
	}
	l.locked = locked
	l.mu.Unlock()
	return nil
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.locked
}

func (l *Locker) exempt(urlPath string) bool {
	last := path.Base(urlPath)
	for _, s := range l.DoNotProtect {
		if s == last {
			return true
		}
	}
	return false
}

// Check is a middleware replying http.StatusLocked to every protected
// request while l is locked
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && !l.exempt(r.URL.Path) {
			http.Error(w, "instrument is locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}
