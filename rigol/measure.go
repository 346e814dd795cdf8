package rigol

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/benchlab/rigolab/log"
)

// measurement items of :MEASure:ITEM, long form
var (
	// DigitalItems can be measured on D<n> sources
	DigitalItems = []string{"FREQuency", "NDUTy", "NWIDth", "PDUTy", "PERiod", "PWIDth"}

	// AnalogItems can only be measured on CHAN<n> and MATH
	AnalogItems = []string{
		"VMAX", "VMIN", "VPP", "VTOP", "VBASe", "VAMP", "VAVG", "VRMS",
		"OVERshoot", "PREShoot", "MARea", "MPARea", "RTIMe", "FTIMe",
		"TVMAX", "TVMIN", "PSLEWrate", "NSLEWrate", "VUPper", "VMID", "VLOWer",
		"VARIance", "PVRMS", "PPULses", "NPULses", "PEDGes", "NEDGes",
	}

	// PairItems relate two sources
	PairItems = []string{"RDELay", "FDELay", "RPHase", "FPHase"}
)

// replies above this mean the instrument could not measure
const invalidMeasurement = 1e37

// clearThreshold is the item count above which the on-screen measurement
// list is cleared after reading
const clearThreshold = 5

// Measurements maps item names to values; nil means the instrument could
// not measure the item
type Measurements map[string]*float64

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// canonicalItem finds the long form of an item, which may be given in long
// or short form and in any case
func canonicalItem(item string, allowed []string) (string, bool) {
	up := strings.ToUpper(item)
	for _, a := range allowed {
		if strings.ToUpper(a) == up || shortItem(a) == up {
			return a, true
		}
	}
	return "", false
}

// shortItem drops the trailing lowercase letters of an item
func shortItem(item string) string {
	return strings.TrimRight(item, "abcdefghijklmnopqrstuvwxyz")
}

// parseMeasurement turns a :MEAS:ITEM? reply into a value, nil when the
// instrument could not measure
func parseMeasurement(reply string) *float64 {
	reply = strings.TrimSpace(reply)
	if reply == "" || reply == "measure error!" {
		return nil
	}
	v, err := strconv.ParseFloat(reply, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > invalidMeasurement {
		return nil
	}
	return &v
}

func (s *Scope) measure(items []string, sources string) (Measurements, error) {
	out := make(Measurements, len(items))
	for _, item := range items {
		reply, err := s.ReadString(":MEAS:ITEM? " + shortItem(item) + "," + sources)
		if err != nil {
			return nil, err
		}
		out[item] = parseMeasurement(reply)
	}
	return out, nil
}

func (s *Scope) clearMeasurements() {
	if err := s.Write(":MEAS:CLE ALL"); err != nil {
		log.Warning("clearing measurements: %v", err)
	}
}

// MeasureItem measures items on one source, CHAN<n>, D<n> or MATH.  When
// items is empty every item valid for the source is read.  Digital sources
// only support DigitalItems.  The on-screen measurements are cleared when
// clear is set or more than five items were read.
func (s *Scope) MeasureItem(source string, items []string, clear bool) (Measurements, error) {
	source = strings.ToUpper(strings.TrimSpace(source))
	kind, _, err := s.parseSource(source)
	if err != nil {
		return nil, err
	}
	allowed := append(append([]string{}, DigitalItems...), AnalogItems...)
	if kind == digitalSource {
		allowed = DigitalItems
	}
	if len(items) == 0 {
		items = allowed
	}
	canon := make([]string, len(items))
	for i, item := range items {
		c, ok := canonicalItem(item, allowed)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidArgument, "measurement item %q for source %s", item, source)
		}
		canon[i] = c
	}
	out, err := s.measure(canon, source)
	if err != nil {
		return nil, err
	}
	if clear || len(canon) > clearThreshold {
		s.clearMeasurements()
	}
	return out, nil
}

// MeasureItemPair measures delay or phase items between two sources.  When
// items is empty all PairItems are read.
func (s *Scope) MeasureItemPair(source1, source2 string, items []string, clear bool) (Measurements, error) {
	source1 = strings.ToUpper(strings.TrimSpace(source1))
	source2 = strings.ToUpper(strings.TrimSpace(source2))
	for _, src := range []string{source1, source2} {
		if _, _, err := s.parseSource(src); err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		items = PairItems
	}
	canon := make([]string, len(items))
	for i, item := range items {
		c, ok := canonicalItem(item, PairItems)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidArgument, "measurement item %q", item)
		}
		canon[i] = c
	}
	out, err := s.measure(canon, source1+","+source2)
	if err != nil {
		return nil, err
	}
	if clear || len(canon) > clearThreshold {
		s.clearMeasurements()
	}
	return out, nil
}

// MeasureThresholdSettings reads the relative thresholds of the
// measurement system in percent of the amplitude
func (s *Scope) MeasureThresholdSettings() (Settings, error) {
	r := newReader(s)
	r.str(":MEASure:SETup:MAX")
	r.str(":MEASure:SETup:MID")
	r.str(":MEASure:SETup:MIN")
	return r.result()
}
