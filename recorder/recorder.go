// Package recorder keeps a copy of every waveform served, numbered per day.
//
// Files land in <Root>/<yyyy-mm-dd>/<Prefix><NNNNNN><ext>.  The counter is
// kept separately for each extension and picks up after the highest file
// already present, so restarting a server never overwrites a record.
package recorder

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/benchlab/rigolab/generichttp"
)

// ErrBadPrefix is returned by SetPrefix for a prefix that would leave the
// day folder
var ErrBadPrefix = errors.New("prefix may not contain path separators")

func init() {
	generichttp.RegisterStatus(ErrBadPrefix, http.StatusBadRequest)
}

// Recorder writes numbered files under Root.  Set the fields before first
// use; afterwards change them through the setters.
type Recorder struct {
	mu sync.Mutex

	Root    string
	Prefix  string
	Enabled bool

	// Now dates the day folder, time.Now when nil
	Now func() time.Time
}

func (r *Recorder) day() (string, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	fldr := filepath.Join(r.Root, now().Format("2006-01-02"))
	return fldr, os.MkdirAll(fldr, 0777)
}

// next is one past the highest counter among fldr/<Prefix>*<ext>
func (r *Recorder) next(fldr, ext string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(fldr, r.Prefix+"*"+ext))
	if err != nil {
		return 0, err
	}
	high := 0
	for _, m := range matches {
		digits := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), r.Prefix), ext)
		if n, err := strconv.Atoi(digits); err == nil && n > high {
			high = n
		}
	}
	return high + 1, nil
}

// Record writes p to the next file for ext (".csv", ".fits", ...) and
// returns its path, or "" when the recorder is disabled
func (r *Recorder) Record(p []byte, ext string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Enabled {
		return "", nil
	}
	fldr, err := r.day()
	if err != nil {
		return "", errors.Wrap(err, "creating record folder")
	}
	n, err := r.next(fldr, ext)
	if err != nil {
		return "", err
	}
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d%s", r.Prefix, n, ext))
	return fn, os.WriteFile(fn, p, 0666)
}

// SetRoot moves the recorder to root, creating today's folder there.  The
// old root is kept if that fails.
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.Root
	r.Root = root
	if _, err := r.day(); err != nil {
		r.Root = old
		return err
	}
	return nil
}

// GetRoot returns the root folder
func (r *Recorder) GetRoot() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Root, nil
}

// SetPrefix changes the start of file names
func (r *Recorder) SetPrefix(prefix string) error {
	if strings.ContainsAny(prefix, `/\`) {
		return errors.Wrapf(ErrBadPrefix, "%q", prefix)
	}
	r.mu.Lock()
	r.Prefix = prefix
	r.mu.Unlock()
	return nil
}

// GetPrefix returns the start of file names
func (r *Recorder) GetPrefix() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Prefix, nil
}

// SetEnabled turns recording on or off
func (r *Recorder) SetEnabled(on bool) error {
	r.mu.Lock()
	r.Enabled = on
	r.mu.Unlock()
	return nil
}

// GetEnabled returns true while recording
func (r *Recorder) GetEnabled() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled, nil
}

// Inject adds GET and POST /autowrite/root, /autowrite/prefix and
// /autowrite/enabled for rec to other
func Inject(other generichttp.HTTPer, rec *Recorder) {
	rt := other.RT()
	route := func(method, path string) generichttp.MethodPath {
		return generichttp.MethodPath{Method: method, Path: "/autowrite/" + path}
	}
	rt[route(http.MethodGet, "root")] = generichttp.GetString(rec.GetRoot)
	rt[route(http.MethodPost, "root")] = generichttp.SetString(rec.SetRoot)
	rt[route(http.MethodGet, "prefix")] = generichttp.GetString(rec.GetPrefix)
	rt[route(http.MethodPost, "prefix")] = generichttp.SetString(rec.SetPrefix)
	rt[route(http.MethodGet, "enabled")] = generichttp.GetBool(rec.GetEnabled)
	rt[route(http.MethodPost, "enabled")] = generichttp.SetBool(rec.SetEnabled)
}
