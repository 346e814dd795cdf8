package rigol

import "time"

func (s *Scope) settle() {
	if s.Settle > 0 {
		time.Sleep(s.Settle)
	}
}

// Autoscale is equivalent to pressing the AUTO key
func (s *Scope) Autoscale() error {
	return s.Write(":AUT")
}

// Clear clears all the waveforms on the screen
func (s *Scope) Clear() error {
	return s.Write(":CLE")
}

// Run starts acquisition
func (s *Scope) Run() error {
	err := s.Write(":RUN")
	s.settle()
	return err
}

// Stop stops acquisition.  :ACQuire:MDEPth cannot be changed while stopped.
func (s *Scope) Stop() error {
	err := s.Write(":STOP")
	s.settle()
	return err
}

// Single arms a single trigger
func (s *Scope) Single() error {
	err := s.Write(":SING")
	s.settle()
	return err
}

// ForceTrigger generates a trigger signal
func (s *Scope) ForceTrigger() error {
	err := s.Write(":TFOR")
	s.settle()
	return err
}
