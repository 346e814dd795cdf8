package rigol

// mathKeys is the :MATH subsystem, in query order
var mathKeys = []string{
	":MATH:SOURce1",
	":MATH:SOURce2",
	":MATH:LSOURce1",
	":MATH:LSOURce2",
	":MATH:OPTion:FX:SOURce1",
	":MATH:OPTion:FX:SOURce2",
	":MATH:DISPlay",
	":MATH:OPERator",
	":MATH:OPTion:FX:OPERator",
	":MATH:SCALe",
	":MATH:OFFSet",
	":MATH:INVert",
	":MATH:OPTion:STARt",
	":MATH:OPTion:END",
	":MATH:OPTion:SENSitivity",
	":MATH:OPTion:DIStance",
	":MATH:OPTion:ASCale",
	":MATH:OPTion:THReshold1",
	":MATH:OPTion:THReshold2",
	":MATH:FILTer:TYPE",
	":MATH:FILTer:W1",
	":MATH:FILTer:W2",
	":MATH:FFT:SOURce",
	":MATH:FFT:WINDow",
	":MATH:FFT:SPLit",
	":MATH:FFT:UNIT",
	":MATH:FFT:HSCale",
	":MATH:FFT:HCENter",
	":MATH:FFT:MODE",
}

// MathSettings reads the :MATH subsystem.  The values are returned as the
// instrument formats them, the meaning of most depends on :MATH:OPERator.
func (s *Scope) MathSettings() (Settings, error) {
	r := newReader(s)
	for _, k := range mathKeys {
		r.str(k)
	}
	return r.result()
}

// SetMathDisplay shows or hides the math trace
func (s *Scope) SetMathDisplay(on bool) error {
	return s.Write(":MATH:DISP", onOff(on))
}
