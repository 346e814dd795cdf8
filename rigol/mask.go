package rigol

// MaskSettings reads the :MASK subsystem of the pass/fail test.  The
// operating state and statistics display are only reported while the test
// is enabled.
func (s *Scope) MaskSettings() (Settings, error) {
	r := newReader(s)
	enabled := r.int(":MASK:ENABle")
	r.str(":MASK:SOURce")
	if enabled == 1 {
		r.str(":MASK:OPERate")
		r.int(":MASK:MDISplay")
	}
	r.int(":MASK:SOOutput")
	r.int(":MASK:OUTPut")
	r.float(":MASK:X")
	r.float(":MASK:Y")
	r.int(":MASK:PASSed?")
	r.int(":MASK:FAILed?")
	r.int(":MASK:TOTal?")
	return r.result()
}

// CreateMask resets the pass/fail statistics and, unless resetOnly is set,
// enables the test and creates a mask from the current waveform
func (s *Scope) CreateMask(resetOnly bool) error {
	if err := s.Write(":MASK:RES"); err != nil {
		return err
	}
	if resetOnly {
		return nil
	}
	for _, cmd := range []string{":MASK:ENAB 1", ":MASK:OPER STOP", ":MASK:CRE"} {
		if err := s.Write(cmd); err != nil {
			return err
		}
	}
	return nil
}
