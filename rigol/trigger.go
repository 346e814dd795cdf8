package rigol

import (
	"strings"

	"github.com/pkg/errors"
)

// TriggerModes lists the trigger types of the DS1000Z family.  All but
// EDGE, PULS, SLOP, VID and DURAT are options on some models.
var TriggerModes = []string{
	"EDGE", "PULS", "SLOP", "VID", "DURAT", "TIM", "RUNT",
	"WIND", "DEL", "SHOL", "NEDG", "RS232", "IIC", "SPI",
}

type valueKind byte

const (
	kindString valueKind = iota
	kindFloat
	kindInt
)

// triggerParam is a per-mode read only entry, queried as
// :TRIG:<mode>:<key> for every mode in modes
type triggerParam struct {
	key   string
	kind  valueKind
	modes string
}

// triggerParams is in the order the entries are queried
var triggerParams = []triggerParam{
	{"SOURce", kindString, "EDGE PULS SLOP VID DURAT TIM RUNT WIND NEDG RS232"},
	{"SLOPe?", kindString, "EDGE TIM WIND SHOL NEDG"},
	{"LEVel?", kindFloat, "EDGE PULS VID NEDG RS232"},
	{"WHEN?", kindString, "PULS SLOP DURAT RUNT RS232 IIC SPI"},
	{"WIDTh?", kindFloat, "PULS RS232 SPI"},
	{"UWIDth?", kindFloat, "PULS"},
	{"LWIDth?", kindFloat, "PULS"},
	{"TIME?", kindFloat, "SLOP TIM WIND"},
	{"TUPPer?", kindFloat, "SLOP DURAT DEL"},
	{"TLOWer?", kindFloat, "SLOP DURAT DEL"},
	{"WINDow?", kindString, "SLOP"},
	{"ALEVel?", kindFloat, "SLOP RUNT WIND"},
	{"BLEVel?", kindFloat, "SLOP RUNT WIND"},
	{"POLarity?", kindString, "VID RUNT"},
	{"MODE?", kindString, "VID SPI"},
	{"LINE?", kindInt, "VID"},
	{"STANdard?", kindString, "VID"},
	{"PATTern?", kindString, "SHOL"},
	{"TYPe?", kindString, "DURAT DEL SHOL"},
	{"WUPPer?", kindFloat, "RUNT"},
	{"WLOWer?", kindFloat, "RUNT"},
	{"POSition?", kindString, "WIND"},
	{"SA?", kindString, "DEL"},
	{"SLOPA?", kindString, "DEL"},
	{"SB?", kindString, "DEL"},
	{"SLOPB?", kindString, "DEL"},
	{"CSrc?", kindString, "SHOL"},
	{"DSrc?", kindString, "SHOL"},
	{"STIMe?", kindFloat, "SHOL"},
	{"HTIMe?", kindFloat, "SHOL"},
	{"IDLE?", kindFloat, "NEDG"},
	{"EDGE?", kindInt, "NEDG"},
	{"DATA?", kindString, "RS232 IIC SPI"},
	{"PARity?", kindString, "RS232"},
	{"STOP?", kindString, "RS232"},
	{"BAUD?", kindString, "RS232"},
	{"BUSer?", kindString, "RS232"},
	{"SCL?", kindString, "IIC SPI"},
	{"SDA?", kindString, "IIC SPI"},
	{"CLEVel?", kindFloat, "IIC SPI"},
	{"DLEVel?", kindFloat, "IIC SPI"},
	{"AWIDth?", kindInt, "IIC"},
	{"ADDRess?", kindInt, "IIC"},
	{"DIRection?", kindString, "IIC"},
	{"TIMeout?", kindFloat, "SPI"},
	{"SLEVel?", kindFloat, "SPI"},
}

func (p triggerParam) appliesTo(mode string) bool {
	for _, m := range strings.Fields(p.modes) {
		if m == mode {
			return true
		}
	}
	return false
}

func validTriggerMode(mode string) bool {
	for _, m := range TriggerModes {
		if m == mode {
			return true
		}
	}
	return false
}

// TriggerSettings reads the :TRIGger subsystem for a trigger mode, or for
// the current one when mode is empty.  Only :TRIG:SWEep is writable; the
// per-mode entries are informative.  If the instrument rejects a per-mode
// query the error wraps ErrModeNotInstalled.
func (s *Scope) TriggerSettings(mode string) (Settings, error) {
	mode = strings.ToUpper(mode)
	if mode != "" && !validTriggerMode(mode) {
		return nil, errors.Wrapf(ErrInvalidArgument, "trigger mode %q", mode)
	}
	if mode == "" {
		m, err := s.ReadString(":TRIG:MODE?")
		if err != nil {
			return nil, err
		}
		mode = strings.ToUpper(m)
	}
	r := newReader(s)
	r.str(":TRIG:COUPling?")
	r.float(":TRIG:HOLDoff?")
	r.out[":TRIG:MODE?"] = mode
	r.int(":TRIG:NREJect?")
	r.tryInt(":TRIG:POSition?")
	r.str(":TRIG:STATus?")
	r.str(":TRIG:SWEep")
	if r.err != nil {
		return nil, r.err
	}

	prefix := ":TRIG:" + mode + ":"
	for _, p := range triggerParams {
		if !p.appliesTo(mode) {
			continue
		}
		switch p.kind {
		case kindFloat:
			r.float(prefix + p.key)
		case kindInt:
			r.int(prefix + p.key)
		default:
			r.str(prefix + p.key)
		}
		if r.err != nil {
			return nil, errors.Wrapf(ErrModeNotInstalled, "%s: %v", mode, r.err)
		}
	}
	return r.result()
}

// SetTriggerSweep sets the sweep mode, AUTO, NORM or SING
func (s *Scope) SetTriggerSweep(sweep string) error {
	return s.Write(":TRIG:SWE", sweep)
}

// SetEdgeTrigger configures an edge trigger on source at level, with slope
// POS, NEG or RFAL
func (s *Scope) SetEdgeTrigger(source string, level float64, slope string) error {
	return s.Apply(Settings{
		":TRIGger:MODE":        "EDGE",
		":TRIGger:EDGe:SOURce": source,
		":TRIGger:EDGe:LEVel":  level,
		":TRIGger:EDGe:SLOPe":  slope,
	})
}
