package rigol

import (
	"encoding/binary"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/benchlab/rigolab/log"
	"github.com/benchlab/rigolab/oscilloscope"
	"github.com/benchlab/rigolab/scpi"
)

// points per :WAV:DATA? transfer, by format
const (
	batchBYTE = 250000
	batchWORD = 125000
	batchASC  = 15625
)

var (
	waveFormats = []string{"BYTE", "WORD", "ASCii"}
	waveModes   = []string{"NORMal", "MAXimum", "RAW"}

	analogRE  = regexp.MustCompile(`^CHAN([1-9])$`)
	digitalRE = regexp.MustCompile(`^D([0-9]{1,2})$`)
)

// sourceKind is what kind of signal a waveform or measurement source is
type sourceKind int

const (
	analogSource sourceKind = iota
	digitalSource
	mathSource
)

// parseSource validates CHAN<n>, D<n> or MATH against the hardware
func (s *Scope) parseSource(src string) (sourceKind, int, error) {
	if src == "MATH" {
		return mathSource, 0, nil
	}
	if g := analogRE.FindStringSubmatch(src); g != nil {
		n, _ := strconv.Atoi(g[1])
		analog, err := s.AnalogChannels()
		if err != nil {
			return 0, 0, err
		}
		if n > analog {
			return 0, 0, errors.Wrapf(ErrInvalidArgument, "source %s, the scope has %d channels", src, analog)
		}
		return analogSource, n, nil
	}
	if g := digitalRE.FindStringSubmatch(src); g != nil {
		n, _ := strconv.Atoi(g[1])
		digital, err := s.DigitalChannels()
		if err != nil {
			return 0, 0, err
		}
		if n >= digital {
			return 0, 0, errors.Wrapf(ErrInvalidArgument, "source %s, the scope has %d digital channels", src, digital)
		}
		return digitalSource, n, nil
	}
	return 0, 0, errors.Wrapf(ErrInvalidArgument, "source %q", src)
}

// preamble is the decoded reply to :WAV:PRE?
type preamble struct {
	format string
	mode   string
	points int
	count  int
	xinc   float64
	xorig  float64
	xref   float64
	yinc   float64
	yorig  int
	yref   int
}

func lookup(names []string, v float64) (string, error) {
	i := int(v)
	if float64(i) != v || i < 0 || i >= len(names) {
		return "", errors.Errorf("enumeration value %v out of range", v)
	}
	return names[i], nil
}

func parsePreamble(raw string) (preamble, error) {
	var p preamble
	v, err := scpi.ParseFloats(raw)
	if err != nil {
		return p, errors.Wrap(err, "parsing :WAV:PRE?")
	}
	if len(v) < 10 {
		return p, errors.Errorf(":WAV:PRE? returned %d fields, expected 10", len(v))
	}
	if p.format, err = lookup(waveFormats, v[0]); err != nil {
		return p, errors.Wrap(err, ":WAV:PRE? format")
	}
	if p.mode, err = lookup(waveModes, v[1]); err != nil {
		return p, errors.Wrap(err, ":WAV:PRE? mode")
	}
	p.points = int(v[2])
	p.count = int(v[3])
	p.xinc = v[4]
	p.xorig = v[5]
	p.xref = v[6]
	p.yinc = v[7]
	p.yorig = int(v[8])
	p.yref = int(v[9])
	return p, nil
}

func (s *Scope) preamble() (preamble, error) {
	raw, err := s.ReadString(":WAV:PRE?")
	if err != nil {
		return preamble{}, err
	}
	return parsePreamble(raw)
}

// WaveformSettings reads the :WAVeform subsystem.  Everything except the
// source comes from the preamble.
//
// While the scope runs, all modes behave like NORMal.
func (s *Scope) WaveformSettings() (Settings, error) {
	r := newReader(s)
	r.str(":WAV:SOURce")
	r.int(":WAV:STARt?")
	r.int(":WAV:STOP?")
	if r.err != nil {
		return nil, r.err
	}
	pre, err := s.preamble()
	if err != nil {
		return nil, err
	}
	r.out[":WAV:FORMat"] = pre.format
	r.out[":WAV:MODE"] = pre.mode
	r.out[":WAV:POINts?"] = pre.points
	r.out[":WAV:COUNt?"] = pre.count
	r.out[":WAV:XINcrement?"] = pre.xinc
	r.out[":WAV:XORigin?"] = pre.xorig
	r.out[":WAV:XREFerence?"] = pre.xref
	r.out[":WAV:YINcrement?"] = pre.yinc
	r.out[":WAV:YORigin?"] = pre.yorig
	r.out[":WAV:YREFerence?"] = pre.yref
	return r.result()
}

// negotiateMode maps the requested waveform mode onto one the instrument
// can serve in its run state.  Stopped scopes read the full memory for MAX,
// running ones only the screen.
func negotiateMode(mode, status string, kind sourceKind) (string, error) {
	switch strings.ToUpper(mode) {
	case "", "MAX", "MAXIMUM":
		mode = "MAX"
	case "NORM", "NORMAL":
		mode = "NORM"
	case "RAW":
		mode = "RAW"
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "waveform mode %q", mode)
	}
	if kind == mathSource {
		if mode == "RAW" {
			return "", errors.Wrap(ErrInvalidArgument, "MATH waveforms are only available in NORM mode")
		}
		return "NORM", nil
	}
	if strings.ToUpper(status) == "STOP" {
		if mode == "MAX" {
			return "RAW", nil
		}
		return mode, nil
	}
	switch mode {
	case "MAX":
		return "NORM", nil
	case "RAW":
		return "", errors.Wrapf(ErrInvalidArgument, "RAW mode requires a stopped scope, trigger status is %s", status)
	}
	return mode, nil
}

// resolveFormat returns the :WAV:FORM argument, "" to leave it alone
func resolveFormat(format string, kind sourceKind) (string, error) {
	switch strings.ToUpper(format) {
	case "":
		if kind == digitalSource {
			return "BYTE", nil
		}
		return "", nil
	case "BYTE":
		return "BYTE", nil
	case "WORD":
		format = "WORD"
	case "ASC", "ASCII":
		format = "ASC"
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "waveform format %q", format)
	}
	if kind == digitalSource {
		return "", errors.Wrapf(ErrInvalidArgument, "digital sources need BYTE format, not %s", format)
	}
	return format, nil
}

func batchLimit(format string) int {
	switch format {
	case "WORD":
		return batchWORD
	case "ASCii":
		return batchASC
	default:
		return batchBYTE
	}
}

// decode converts one :WAV:DATA? block.  Analog and MATH data is rescaled
// to physical units as (v-offset)*increment; digital data is returned as
// the raw states.
func decode(data []byte, format string, kind sourceKind, offset, increment float64) ([]float64, error) {
	var out []float64
	switch format {
	case "WORD":
		if len(data)%2 != 0 {
			return nil, errors.Errorf("WORD data has odd length %d", len(data))
		}
		out = make([]float64, len(data)/2)
		for i := range out {
			out[i] = float64(binary.LittleEndian.Uint16(data[2*i:]))
		}
	default:
		out = make([]float64, len(data))
		for i, b := range data {
			out[i] = float64(b)
		}
	}
	if kind != digitalSource {
		for i, v := range out {
			out[i] = (v - offset) * increment
		}
	}
	return out, nil
}

// fetch reads points start..stop (1 based, inclusive)
func (s *Scope) fetch(format string, kind sourceKind, start, stop int, offset, increment float64) ([]float64, error) {
	log.Debug("waveform points %d..%d", start, stop)
	if err := s.Write(":WAV:STAR", strconv.Itoa(start)); err != nil {
		return nil, err
	}
	if err := s.Write(":WAV:STOP", strconv.Itoa(stop)); err != nil {
		return nil, err
	}
	if format == "ASCii" {
		return s.ReadASCIIValues(":WAV:DATA?")
	}
	data, err := s.ReadBlock(":WAV:DATA?")
	if err != nil {
		return nil, err
	}
	return decode(data, format, kind, offset, increment)
}

// restoreWindow puts :WAV:STAR and :WAV:STOP back to the screen record
func (s *Scope) restoreWindow() error {
	div, err := s.TimeDivisions()
	if err != nil {
		return err
	}
	perDiv, err := s.PointsPerTimeDivision()
	if err != nil {
		return err
	}
	return multierr.Append(
		s.Write(":WAV:STAR 1"),
		s.Write(":WAV:STOP", strconv.Itoa(div*perDiv)))
}

// Waveform downloads the data of source, one of CHAN<n>, D<n> or MATH.
//
// mode is NORM (the screen), MAX or RAW (the acquisition memory); MAX
// becomes RAW on a stopped scope and NORM on a running one, RAW needs a
// stopped scope.  format is BYTE, WORD or ASC, or empty to keep the current
// one.  Unless showHidden is set, a RAW readout is cut to the part of the
// memory that is on screen.
//
// Analog and MATH data is in physical units, digital data holds the raw
// states.
func (s *Scope) Waveform(source, mode, format string, showHidden bool) ([]float64, error) {
	data, _, _, err := s.waveform(source, mode, format, showHidden)
	return data, err
}

func (s *Scope) waveform(source, mode, format string, showHidden bool) (data []float64, pre preamble, t0 float64, err error) {
	source = strings.ToUpper(strings.TrimSpace(source))
	kind, n, err := s.parseSource(source)
	if err != nil {
		return nil, pre, 0, err
	}
	switch kind {
	case mathSource:
		on, err := s.ReadBool(":MATH:DISP?")
		if err != nil {
			return nil, pre, 0, err
		}
		if !on {
			return nil, pre, 0, errors.Wrap(ErrInvalidArgument, "MATH is not displayed")
		}
	case analogSource:
		on, err := s.GetDisplay(n)
		if err != nil {
			return nil, pre, 0, err
		}
		if !on {
			return nil, pre, 0, errors.Wrapf(ErrInvalidArgument, "%s is not displayed", source)
		}
	}
	format, err = resolveFormat(format, kind)
	if err != nil {
		return nil, pre, 0, err
	}
	if err = s.Write(":WAV:SOUR", source); err != nil {
		return nil, pre, 0, err
	}
	status, err := s.TriggerStatus()
	if err != nil {
		return nil, pre, 0, err
	}
	mode, err = negotiateMode(mode, status, kind)
	if err != nil {
		return nil, pre, 0, err
	}
	if err = s.Write(":WAV:MODE", mode); err != nil {
		return nil, pre, 0, err
	}
	if format != "" {
		if err = s.Write(":WAV:FORM", format); err != nil {
			return nil, pre, 0, err
		}
	}
	defer func() {
		if rerr := s.restoreWindow(); rerr != nil {
			err = multierr.Append(err, errors.Wrap(rerr, "restoring waveform window"))
		}
	}()

	acq, err := s.AcquireSettings()
	if err != nil {
		return nil, pre, 0, err
	}
	pre, err = s.preamble()
	if err != nil {
		return nil, pre, 0, err
	}
	if pre.points <= 0 {
		return nil, pre, 0, errors.Errorf("instrument reports %d waveform points, memory depth %v", pre.points, acq[":ACQuire:MDEPth"])
	}
	offset := float64(pre.yref + pre.yorig)
	increment := pre.yinc
	limit := batchLimit(pre.format)

	div, err := s.TimeDivisions()
	if err != nil {
		return nil, pre, 0, err
	}
	points := pre.points
	if pre.mode == "NORMal" {
		perDiv, err := s.PointsPerTimeDivision()
		if err != nil {
			return nil, pre, 0, err
		}
		points = div * perDiv
	}

	start, end := 0, points
	if screen, ok := acq["MDEPthPerTimeDivision?"].(int); ok && !showHidden && mode == "RAW" && screen*div < points {
		start = (points - screen*div) / 2
		end = points - start
	}
	t0 = (float64(start)-pre.xref)*pre.xinc + pre.xorig

	data = make([]float64, 0, end-start)
	for start+limit < end {
		page, err := s.fetch(pre.format, kind, start+1, start+limit, offset, increment)
		if err != nil {
			return nil, pre, 0, err
		}
		data = append(data, page...)
		start += limit
	}
	if start < end {
		page, err := s.fetch(pre.format, kind, start+1, end, offset, increment)
		if err != nil {
			return nil, pre, 0, err
		}
		data = append(data, page...)
	}
	return data, pre, t0, nil
}

// Acquire downloads several sources into one waveform.  DT and T0 are taken
// from the first source.  Meta holds the waveform mode and format, the
// instrument identity and the acquisition settings.
func (s *Scope) Acquire(sources []string, mode, format string, showHidden bool) (oscilloscope.Waveform, error) {
	wf := oscilloscope.Waveform{
		Channels: make(map[string]oscilloscope.Channel, len(sources)),
		Meta:     map[string]interface{}{},
	}
	if len(sources) == 0 {
		return wf, errors.Wrap(ErrInvalidArgument, "no sources")
	}
	for i, src := range sources {
		data, pre, t0, err := s.waveform(src, mode, format, showHidden)
		if err != nil {
			return wf, errors.Wrapf(err, "acquiring %s", src)
		}
		if i == 0 {
			wf.DT = pre.xinc
			wf.T0 = t0
			wf.Meta[":WAV:MODE"] = pre.mode
			wf.Meta[":WAV:FORMat"] = pre.format
		}
		wf.Channels[strings.ToUpper(strings.TrimSpace(src))] = oscilloscope.Channel{Data: data}
	}
	if id, err := s.Identify(); err == nil {
		wf.Meta["IDN"] = id.IDN
	}
	acq, err := s.AcquireSettings()
	if err != nil {
		return wf, err
	}
	for k, v := range acq {
		wf.Meta[k] = v
	}
	return wf, nil
}
