package rigol

import (
	"fmt"

	"github.com/benchlab/rigolab/log"
)

// ReferenceSettings reads the :REFerence subsystem for reference slot n,
// 1..10.  There is no documented way to read the reference waveform itself.
func (s *Scope) ReferenceSettings(n int) (Settings, error) {
	if err := checkIndex("reference", n, referenceChannels); err != nil {
		return nil, err
	}
	key := func(k string) string { return fmt.Sprintf(":REF%d:%s", n, k) }
	r := newReader(s)
	r.str(":REF:DISPlay")
	r.str(":REF:CURRent?")
	r.str(key("ENABle"))
	r.str(key("SOURce"))
	r.str(key("VSCale"))
	r.str(key("VOFFset"))
	r.str(key("COLor"))
	return r.result()
}

// SaveReference stores the current waveform of the reference source into
// slot n.  The instrument keeps it in internal memory.
func (s *Scope) SaveReference(n int) error {
	if err := checkIndex("reference", n, referenceChannels); err != nil {
		return err
	}
	if err := s.Write(fmt.Sprintf(":REF%d:ENAB 1", n)); err != nil {
		return err
	}
	if err := s.Write(fmt.Sprintf(":REF:CURR REF%d", n)); err != nil {
		// older firmware has no :REF:CURR, the enabled slot is current
		log.Debug("selecting REF%d: %v", n, err)
	}
	return s.Write(":REF:SAVE")
}
