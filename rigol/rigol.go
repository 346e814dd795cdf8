// Package rigol provides access to Rigol DS1000Z and MSO1000Z series
// oscilloscopes over SCPI.
//
// Settings are exchanged as Settings maps keyed by the long form SCPI
// mnemonic, e.g. ":CHAN1:SCALe".  Keys ending in ? are read only; the rest
// can be sent back to the instrument with Apply.  Waveform and Acquire
// download sample data, paging through deep memory as needed.
package rigol

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/benchlab/rigolab/comm"
	"github.com/benchlab/rigolab/scpi"
	"github.com/benchlab/rigolab/visa"
)

const (
	// VendorID is Rigol's USB vendor ID
	VendorID = 0x1AB1

	// IDNPrefix starts the *IDN? reply of every supported instrument
	IDNPrefix = "RIGOL TECHNOLOGIES,"

	// DefaultTimeout bounds each request; a full memory depth transfer of
	// one page can take several seconds
	DefaultTimeout = 20 * time.Second

	// DefaultSettle is the pause after run control commands
	DefaultSettle = 100 * time.Millisecond

	referenceChannels = 10

	// normPoints is the screen record length in NORMal waveform mode
	normPoints = 1200
)

var (
	// ErrUnsupported is returned when the instrument is not a Rigol scope
	ErrUnsupported = errors.New("instrument is not a supported Rigol oscilloscope")

	// ErrInvalidArgument is returned for sources, modes, items or indices
	// the instrument does not have
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrModeNotInstalled is returned when the instrument rejects the
	// queries of a trigger mode, typically a missing decoder option
	ErrModeNotInstalled = errors.New("trigger mode not installed")

	modelRE  = regexp.MustCompile(`(?i)^(DS[1-9]|MSO[1-9])([0-9][0-9])([1-9])([^1-9]+)$`)
	seriesRE = regexp.MustCompile(`^(DS|MSO)1`)
)

// Model is what can be learned about an instrument from its model number
type Model struct {
	// Series is e.g. DS1000Z or MSO1000Z
	Series string `json:"series"`

	// BandwidthMHz is the analog bandwidth
	BandwidthMHz int `json:"bandwidthMHz"`

	// DigitalChannels is 16 on mixed signal models and 0 otherwise
	DigitalChannels int `json:"digitalChannels"`

	// Decoders is the number of protocol decoders
	Decoders int `json:"decoders"`
}

// ParseModel decodes a model number such as DS1104Z or MSO1074Z-S
func ParseModel(model string) (Model, error) {
	var m Model
	g := modelRE.FindStringSubmatch(model)
	if g == nil {
		return m, errors.Wrapf(ErrUnsupported, "model %q", model)
	}
	m.Series = strings.ToUpper(g[1] + "000" + g[4])
	bw, _ := strconv.Atoi(g[2])
	m.BandwidthMHz = 10 * bw
	if strings.HasSuffix(m.Series, "PLUS") || strings.HasPrefix(m.Series, "MSO") {
		m.DigitalChannels = 16
	}
	if seriesRE.MatchString(m.Series) {
		m.Decoders = 2
	}
	return m, nil
}

// Identity is the parsed reply to *IDN?
type Identity struct {
	IDN             string `json:"idn"`
	Vendor          string `json:"vendor"`
	Model           string `json:"model"`
	Serial          string `json:"serial"`
	SoftwareVersion string `json:"softwareVersion"`
	Info            Model  `json:"info"`
}

// ValidateIDN reports if an *IDN? reply is from a Rigol instrument
func ValidateIDN(idn string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(idn)), IDNPrefix)
}

// Scope is an interface to a Rigol oscilloscope
type Scope struct {
	scpi.SCPI

	// Settle is the pause after Run, Stop, Single and ForceTrigger
	Settle time.Duration

	mu        sync.Mutex
	idn       *Identity
	analog    int
	divisions int
	perDiv    int
}

// NewScope creates a new scope instance talking through pool
func NewScope(pool *comm.Pool, handshaking bool) *Scope {
	return &Scope{
		SCPI:   scpi.SCPI{Pool: pool, Handshaking: handshaking, Timeout: DefaultTimeout},
		Settle: DefaultSettle,
	}
}

// Open connects to the instrument at the VISA resource and identifies it
func Open(resource string, opts visa.Options) (*Scope, error) {
	maker, err := visa.Maker(resource, opts)
	if err != nil {
		return nil, err
	}
	pool := comm.NewPool(1, time.Hour, maker)
	s := NewScope(pool, true)
	if _, err := s.Identify(); err != nil {
		pool.Close()
		return nil, errors.Wrapf(err, "identifying %s", resource)
	}
	return s, nil
}

// Close releases the connection
func (s *Scope) Close() error {
	return s.Pool.Close()
}

// Identify queries *IDN?, checks it is a Rigol oscilloscope and clears
// the status registers.  The result is cached.
func (s *Scope) Identify() (Identity, error) {
	s.mu.Lock()
	if s.idn != nil {
		defer s.mu.Unlock()
		return *s.idn, nil
	}
	s.mu.Unlock()

	raw, err := s.ReadString("*IDN?")
	if err != nil {
		return Identity{}, err
	}
	if !ValidateIDN(raw) {
		return Identity{}, errors.Wrapf(ErrUnsupported, "IDN %q", raw)
	}
	if err := s.Write("*CLS"); err != nil {
		return Identity{}, err
	}
	parts := strings.Split(raw, ",")
	if len(parts) < 4 {
		return Identity{}, errors.Wrapf(ErrUnsupported, "IDN %q has %d fields", raw, len(parts))
	}
	id := Identity{
		IDN:             raw,
		Vendor:          parts[0],
		Model:           parts[1],
		Serial:          parts[2],
		SoftwareVersion: parts[3],
	}
	id.Info, err = ParseModel(id.Model)
	if err != nil {
		return Identity{}, err
	}
	s.mu.Lock()
	s.idn = &id
	s.mu.Unlock()
	return id, nil
}

func (s *Scope) model() (Model, error) {
	id, err := s.Identify()
	return id.Info, err
}

// AnalogChannels returns the number of analog channels, :SYST:RAM?
func (s *Scope) AnalogChannels() (int, error) {
	s.mu.Lock()
	n := s.analog
	s.mu.Unlock()
	if n > 0 {
		return n, nil
	}
	n, err := s.ReadInt(":SYST:RAM?")
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.analog = n
	s.mu.Unlock()
	return n, nil
}

// TimeDivisions returns the number of horizontal divisions on screen, :SYST:GAM?
func (s *Scope) TimeDivisions() (int, error) {
	s.mu.Lock()
	n := s.divisions
	s.mu.Unlock()
	if n > 0 {
		return n, nil
	}
	n, err := s.ReadInt(":SYST:GAM?")
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.Errorf(":SYST:GAM? returned %d divisions", n)
	}
	s.mu.Lock()
	s.divisions = n
	s.mu.Unlock()
	return n, nil
}

// PointsPerTimeDivision is the number of samples per division of a
// NORMal mode waveform, the preamble points over the time divisions.
// A MAXimum or RAW preamble counts the acquisition memory instead, so the
// screen record length stands in and nothing is cached until a NORMal
// preamble is seen.
func (s *Scope) PointsPerTimeDivision() (int, error) {
	s.mu.Lock()
	n := s.perDiv
	s.mu.Unlock()
	if n > 0 {
		return n, nil
	}
	div, err := s.TimeDivisions()
	if err != nil {
		return 0, err
	}
	pre, err := s.preamble()
	if err != nil {
		return 0, err
	}
	if pre.mode != "NORMal" || pre.points <= 0 {
		return normPoints / div, nil
	}
	n = pre.points / div
	s.mu.Lock()
	s.perDiv = n
	s.mu.Unlock()
	return n, nil
}

// DigitalChannels returns the number of logic channels
func (s *Scope) DigitalChannels() (int, error) {
	m, err := s.model()
	return m.DigitalChannels, err
}

// Decoders returns the number of protocol decoders
func (s *Scope) Decoders() (int, error) {
	m, err := s.model()
	return m.Decoders, err
}

// BandwidthMHz returns the analog bandwidth
func (s *Scope) BandwidthMHz() (int, error) {
	m, err := s.model()
	return m.BandwidthMHz, err
}

// MinRiseTimeNs is the fastest rise time the front end resolves, 350/BW
func (s *Scope) MinRiseTimeNs() (float64, error) {
	bw, err := s.BandwidthMHz()
	if err != nil {
		return 0, err
	}
	return 350 / float64(bw), nil
}

// ReferenceChannels returns the number of reference waveform slots
func (s *Scope) ReferenceChannels() int {
	return referenceChannels
}

// TriggerStatus returns TD, WAIT, RUN, AUTO or STOP
func (s *Scope) TriggerStatus() (string, error) {
	return s.ReadString(":TRIG:STAT?")
}

// Reset restores the factory defaults.  Handle with care.
func (s *Scope) Reset() error {
	s.mu.Lock()
	s.perDiv = 0
	s.mu.Unlock()
	return s.Write("*RST")
}

func checkIndex(what string, n, max int) error {
	if n < 1 || n > max {
		return errors.Wrapf(ErrInvalidArgument, "%s %d not in 1..%d", what, n, max)
	}
	return nil
}
