package rigol

import (
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/benchlab/rigolab/log"
	"github.com/benchlab/rigolab/scpi"
)

// Settings maps long form SCPI mnemonics to values.  Keys that end in ?
// are read only, keys that do not begin with : are derived values.
type Settings map[string]interface{}

// Writable returns the keys Apply would send, in the order it sends them
func (s Settings) Writable() []string {
	keys := make([]string, 0, len(s))
	for k, v := range s {
		if strings.HasPrefix(k, ":") && !strings.HasSuffix(k, "?") && v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Merge copies the entries of other into s and returns s
func (s Settings) Merge(other Settings) Settings {
	for k, v := range other {
		s[k] = v
	}
	return s
}

// Apply writes the writable entries of set to the instrument.  Every entry
// is attempted; the errors are combined with multierr.
func (s *Scope) Apply(set Settings) error {
	var errs error
	for _, k := range set.Writable() {
		cmd := scpi.Abbreviate(k)
		val := scpi.FormatValue(set[k])
		log.Debug("apply %s %s", cmd, val)
		errs = multierr.Append(errs, s.Write(cmd, val))
	}
	return errs
}

// query derives the short form query from a long form key
func query(key string) string {
	return scpi.Abbreviate(strings.TrimSuffix(key, "?")) + "?"
}

// reader collects replies into a Settings.  After the first error all
// further reads are skipped and the error is kept in err.
type reader struct {
	s   *Scope
	out Settings
	err error
}

func newReader(s *Scope) *reader {
	return &reader{s: s, out: Settings{}}
}

func (r *reader) str(key string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.s.ReadString(query(key))
	if err != nil {
		r.err = err
		return ""
	}
	r.out[key] = v
	return v
}

func (r *reader) int(key string) int {
	if r.err != nil {
		return 0
	}
	v, err := r.s.ReadInt(query(key))
	if err != nil {
		r.err = err
		return 0
	}
	r.out[key] = v
	return v
}

func (r *reader) float(key string) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.s.ReadFloat(query(key))
	if err != nil {
		r.err = err
		return 0
	}
	r.out[key] = v
	return v
}

// tryFloat is float for entries some firmware lacks; a failure omits the
// entry without failing the reader
func (r *reader) tryFloat(key string) {
	if r.err != nil {
		return
	}
	v, err := r.s.ReadFloat(query(key))
	if err != nil {
		log.Debug("%s unavailable: %v", key, err)
		return
	}
	r.out[key] = v
}

func (r *reader) tryInt(key string) {
	if r.err != nil {
		return
	}
	v, err := r.s.ReadInt(query(key))
	if err != nil {
		log.Debug("%s unavailable: %v", key, err)
		return
	}
	r.out[key] = v
}

func (r *reader) result() (Settings, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.out, nil
}
