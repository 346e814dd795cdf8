package rigol

import "github.com/benchlab/rigolab/scpi"

// TimebaseSettings reads the :TIMebase subsystem.  With the delayed sweep
// enabled only its offset is reported, otherwise the main offset and scale
// and the times at the left and right screen edges.
func (s *Scope) TimebaseSettings() (Settings, error) {
	r := newReader(s)
	r.str(":TIM:MODE")
	if r.int(":TIM:DELay:ENABle") == 1 {
		r.float(":TIM:DELay:OFFSet")
		return r.result()
	}
	offset := r.float(":TIM:OFFSet")
	scale := r.float(":TIM:SCALe")
	if r.err != nil {
		return nil, r.err
	}
	div, err := s.TimeDivisions()
	if err != nil {
		return nil, err
	}
	r.out["TIM:TL?"] = offset
	r.out["TIM:TR?"] = offset + scale*float64(div)
	return r.result()
}

// SetTimebase sets the horizontal scale in seconds per division
func (s *Scope) SetTimebase(perDiv float64) error {
	return s.Write(":TIM:SCAL", scpi.FormatValue(perDiv))
}

// GetTimebase returns the horizontal scale in seconds per division
func (s *Scope) GetTimebase() (float64, error) {
	return s.ReadFloat(":TIM:SCAL?")
}
