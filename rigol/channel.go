package rigol

import (
	"fmt"

	"github.com/benchlab/rigolab/scpi"
)

// ChannelSettings reads the :CHANnel<n> subsystem of analog channel n.
// All entries are read/write.  :CHAN<n>:RANGe is left out on firmware that
// does not answer it.
func (s *Scope) ChannelSettings(n int) (Settings, error) {
	analog, err := s.AnalogChannels()
	if err != nil {
		return nil, err
	}
	if err := checkIndex("channel", n, analog); err != nil {
		return nil, err
	}
	key := func(k string) string { return fmt.Sprintf(":CHAN%d:%s", n, k) }
	r := newReader(s)
	r.str(key("BWLimit"))
	r.str(key("COUPling"))
	r.int(key("DISPlay"))
	r.int(key("INVert"))
	r.float(key("OFFSet"))
	r.float(key("PROBe"))
	r.tryFloat(key("RANGe"))
	r.float(key("SCALe"))
	r.float(key("TCAL"))
	r.str(key("UNITs"))
	r.int(key("VERNier"))
	return r.result()
}

// header builds a :CHAN<n>:<suffix> header after checking n against the
// analog channel count
func (s *Scope) header(channel int, suffix string) (string, error) {
	analog, err := s.AnalogChannels()
	if err != nil {
		return "", err
	}
	if err := checkIndex("channel", channel, analog); err != nil {
		return "", err
	}
	return fmt.Sprintf(":CHAN%d:%s", channel, suffix), nil
}

func (s *Scope) writeChannel(channel int, suffix, value string) error {
	hdr, err := s.header(channel, suffix)
	if err != nil {
		return err
	}
	return s.Write(hdr, value)
}

// SetScale sets the vertical scale of a channel in units per division
func (s *Scope) SetScale(channel int, perDiv float64) error {
	return s.writeChannel(channel, "SCAL", scpi.FormatValue(perDiv))
}

// GetScale returns the vertical scale of a channel in units per division
func (s *Scope) GetScale(channel int) (float64, error) {
	hdr, err := s.header(channel, "SCAL?")
	if err != nil {
		return 0, err
	}
	return s.ReadFloat(hdr)
}

// SetOffset sets the vertical offset of a channel
func (s *Scope) SetOffset(channel int, offset float64) error {
	return s.writeChannel(channel, "OFFS", scpi.FormatValue(offset))
}

// GetOffset returns the vertical offset of a channel
func (s *Scope) GetOffset(channel int) (float64, error) {
	hdr, err := s.header(channel, "OFFS?")
	if err != nil {
		return 0, err
	}
	return s.ReadFloat(hdr)
}

// SetBandwidthLimit engages the 20 MHz bandwidth limit on a channel.
// If it is on, the noise is greatly reduced.
func (s *Scope) SetBandwidthLimit(channel int, on bool) error {
	mnemonic := "OFF"
	if on {
		mnemonic = "20M"
	}
	return s.writeChannel(channel, "BWL", mnemonic)
}

// SetDisplay shows or hides a channel
func (s *Scope) SetDisplay(channel int, on bool) error {
	return s.writeChannel(channel, "DISP", scpi.FormatValue(on))
}

// GetDisplay returns true if the channel is shown
func (s *Scope) GetDisplay(channel int) (bool, error) {
	hdr, err := s.header(channel, "DISP?")
	if err != nil {
		return false, err
	}
	return s.ReadBool(hdr)
}
