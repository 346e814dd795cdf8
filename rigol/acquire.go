package rigol

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/benchlab/rigolab/scpi"
)

// AcquireSettings reads the :ACQuire subsystem.
//
//	:ACQuire:AVERages       int, 2..1024
//	:ACQuire:MDEPth         AUTO or int, memory depth
//	:ACQuire:SRATe?         float, sample rate in Hz
//	:ACQuire:TYPE           NORM, AVER, PEAK or HRES
//	MDEPthPerTimeDivision?  int, samples in one division
//	SamplingTime?           float, seconds of memory
func (s *Scope) AcquireSettings() (Settings, error) {
	r := newReader(s)
	r.int(":ACQuire:AVERages")
	depth := r.str(":ACQuire:MDEPth")
	srate := r.float(":ACQuire:SRATe?")
	r.str(":ACQuire:TYPE")
	if r.err != nil {
		return nil, r.err
	}
	var points int
	if !strings.EqualFold(depth, "AUTO") {
		d, err := scpi.ParseInt(depth)
		if err != nil {
			return nil, errors.Wrap(err, ":ACQuire:MDEPth")
		}
		r.out[":ACQuire:MDEPth"] = d
		points = d
	} else {
		r.out[":ACQuire:MDEPth"] = "AUTO"
	}
	scale, err := s.ReadFloat(":TIM:SCAL?")
	if err != nil {
		return nil, err
	}
	perDiv := int(srate * scale)
	r.out["MDEPthPerTimeDivision?"] = perDiv
	if points == 0 {
		div, err := s.TimeDivisions()
		if err != nil {
			return nil, err
		}
		points = perDiv * div
	}
	if srate > 0 {
		r.out["SamplingTime?"] = float64(points) / srate
	}
	return r.result()
}

// SetMemoryDepth sets the memory depth, 0 means AUTO.  Not possible while
// stopped.
func (s *Scope) SetMemoryDepth(points int) error {
	if points == 0 {
		return s.Write(":ACQ:MDEP", "AUTO")
	}
	return s.Write(":ACQ:MDEP", scpi.FormatValue(points))
}

// GetMemoryDepth returns the memory depth in points, 0 when it is AUTO
func (s *Scope) GetMemoryDepth() (int, error) {
	depth, err := s.ReadString(":ACQ:MDEP?")
	if err != nil {
		return 0, err
	}
	if strings.EqualFold(depth, "AUTO") {
		return 0, nil
	}
	return scpi.ParseInt(depth)
}

// GetSampleRate returns the sampling rate of the scope
func (s *Scope) GetSampleRate() (float64, error) {
	return s.ReadFloat(":ACQ:SRAT?")
}

// SetAcqMode sets the acquisition type, NORM, AVER, PEAK or HRES
func (s *Scope) SetAcqMode(mode string) error {
	return s.Write(":ACQ:TYPE", mode)
}

// GetAcqMode gets the acquisition type
func (s *Scope) GetAcqMode() (string, error) {
	return s.ReadString(":ACQ:TYPE?")
}
