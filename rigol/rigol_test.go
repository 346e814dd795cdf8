package rigol

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/multierr"

	"github.com/benchlab/rigolab/scpi/scpitest"
)

const (
	ds1104z  = "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA000000001,00.04.04.SP4"
	mso1104z = "RIGOL TECHNOLOGIES,MSO1104Z,DS1ZC000000002,00.04.04.SP4"
)

func newTestScope(idn string) (*Scope, *scpitest.Instrument) {
	inst := scpitest.New().
		Reply("*IDN?", idn).
		Reply(":SYST:RAM?", "4").
		Reply(":SYST:GAM?", "12").
		Reply(":TRIG:STAT?", "STOP")
	s := NewScope(inst.Pool(), true)
	s.Settle = 0
	return s, inst
}

func ExampleParseModel() {
	m, _ := ParseModel("MSO1074Z-S")
	fmt.Println(m.Series, m.BandwidthMHz, m.DigitalChannels, m.Decoders)
	// Output: MSO1000Z-S 70 16 2
}

func TestParseModel(t *testing.T) {
	cases := []struct {
		model    string
		series   string
		bw       int
		digital  int
		decoders int
	}{
		{"DS1104Z", "DS1000Z", 100, 0, 2},
		{"ds1054z", "DS1000Z", 50, 0, 2},
		{"DS1104Z PLUS", "DS1000Z PLUS", 100, 16, 2},
		{"DS2072A", "DS2000A", 70, 0, 0},
	}
	for _, c := range cases {
		m, err := ParseModel(c.model)
		if err != nil {
			t.Errorf("%s: %v", c.model, err)
			continue
		}
		if m.Series != c.series {
			t.Errorf("%s: expected series %s got %s", c.model, c.series, m.Series)
		}
		if m.BandwidthMHz != c.bw {
			t.Errorf("%s: expected %d MHz got %d", c.model, c.bw, m.BandwidthMHz)
		}
		if m.DigitalChannels != c.digital {
			t.Errorf("%s: expected %d digital channels got %d", c.model, c.digital, m.DigitalChannels)
		}
		if m.Decoders != c.decoders {
			t.Errorf("%s: expected %d decoders got %d", c.model, c.decoders, m.Decoders)
		}
	}
	if _, err := ParseModel("DG1022"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported got %v", err)
	}
}

func TestIdentifyCachesAndClears(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	for i := 0; i < 2; i++ {
		id, err := s.Identify()
		if err != nil {
			t.Fatal(err)
		}
		if id.Serial != "DS1ZA000000001" || id.SoftwareVersion != "00.04.04.SP4" {
			t.Errorf("unexpected identity %+v", id)
		}
	}
	if n := len(inst.SentWithPrefix("*IDN?")); n != 1 {
		t.Errorf("expected *IDN? to be sent once got %d", n)
	}
	if !inst.WasSent("*CLS") {
		t.Error("expected *CLS after identification")
	}
	rt, err := s.MinRiseTimeNs()
	if err != nil {
		t.Fatal(err)
	}
	if rt != 3.5 {
		t.Errorf("expected 3.5 ns got %v", rt)
	}
}

func TestIdentifyRejectsOtherVendors(t *testing.T) {
	s, inst := newTestScope("KEYSIGHT TECHNOLOGIES,DSOX1204G,CN0000,1.0")
	if _, err := s.Identify(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported got %v", err)
	}
	if inst.WasSent("*CLS") {
		t.Error("*CLS sent to an unsupported instrument")
	}
}

func TestPointsPerTimeDivisionOutsideNormalMode(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":WAV:PRE?", "0,2,24000000,1,1.000000e-08,-1.200000e-01,0,4.000000e-02,0,127")
	n, err := s.PointsPerTimeDivision()
	if err != nil {
		t.Fatal(err)
	}
	if n != 100 {
		t.Errorf("expected 100 points per division from a RAW preamble got %d", n)
	}
	inst.Reply(":WAV:PRE?", "0,0,1200,1,1.000000e-08,-6.000000e-06,0,4.000000e-02,0,127")
	for i := 0; i < 2; i++ {
		if n, err = s.PointsPerTimeDivision(); err != nil || n != 100 {
			t.Errorf("expected 100 points per division got %d %v", n, err)
		}
	}
	if n := len(inst.SentWithPrefix(":WAV:PRE?")); n != 2 {
		t.Errorf("expected the preamble read until a NORMal one was seen, read %d times", n)
	}
}

func TestHardwareConstantsAreCached(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":WAV:PRE?", "0,0,1200,1,1.000000e-08,-6.000000e-06,0,4.000000e-02,0,127")
	for i := 0; i < 2; i++ {
		n, err := s.PointsPerTimeDivision()
		if err != nil {
			t.Fatal(err)
		}
		if n != 100 {
			t.Errorf("expected 100 points per division got %d", n)
		}
		if a, _ := s.AnalogChannels(); a != 4 {
			t.Errorf("expected 4 analog channels got %d", a)
		}
	}
	for _, q := range []string{":WAV:PRE?", ":SYST:GAM?", ":SYST:RAM?"} {
		if n := len(inst.SentWithPrefix(q)); n != 1 {
			t.Errorf("expected %s once got %d", q, n)
		}
	}
}

func TestRunControl(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	steps := []struct {
		fn  func() error
		cmd string
	}{
		{s.Run, ":RUN"},
		{s.Stop, ":STOP"},
		{s.Single, ":SING"},
		{s.ForceTrigger, ":TFOR"},
		{s.Autoscale, ":AUT"},
		{s.Clear, ":CLE"},
	}
	for _, st := range steps {
		if err := st.fn(); err != nil {
			t.Errorf("%s: %v", st.cmd, err)
		}
		if !inst.WasSent(st.cmd) {
			t.Errorf("expected %s to be sent", st.cmd)
		}
	}
}

func TestSettingsWritable(t *testing.T) {
	set := Settings{
		":CHAN1:SCALe":    0.5,
		":ACQuire:SRATe?": 1e9,
		"SamplingTime?":   1.0,
		"TIM:TL?":         0.0,
		":CHAN1:OFFSet":   nil,
		":ACQuire:TYPE":   "NORM",
	}
	got := set.Writable()
	want := []string{":ACQuire:TYPE", ":CHAN1:SCALe"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v got %v", want, got)
	}
}

func TestApplyContinuesPastRejections(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reject(":CHAN1:SCAL", -224, "Illegal parameter value")
	err := s.Apply(Settings{
		":CHAN1:SCALe":    0.5,
		":CHAN1:OFFSet":   1.0,
		":CHAN1:DISPlay":  true,
		":ACQuire:SRATe?": 1e9,
	})
	if err == nil {
		t.Fatal("expected the rejected scale to be reported")
	}
	if n := len(multierr.Errors(err)); n != 1 {
		t.Errorf("expected 1 error got %d: %v", n, err)
	}
	if v := inst.Value(":CHAN1:OFFS"); v != "1.000000e+00" {
		t.Errorf("expected offset 1.000000e+00 got %q", v)
	}
	if v := inst.Value(":CHAN1:DISP"); v != "1" {
		t.Errorf("expected display 1 got %q", v)
	}
	if len(inst.SentWithPrefix(":ACQ:SRAT")) != 0 {
		t.Error("read only entry was written")
	}
}

func TestAcquireSettingsAuto(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":ACQ:AVER?", "2").
		Reply(":ACQ:MDEP?", "AUTO").
		Reply(":ACQ:SRAT?", "2.000000e+03").
		Reply(":ACQ:TYPE?", "NORM").
		Reply(":TIM:SCAL?", "5.000000e-01")
	set, err := s.AcquireSettings()
	if err != nil {
		t.Fatal(err)
	}
	if set[":ACQuire:MDEPth"] != "AUTO" {
		t.Errorf("expected AUTO got %v", set[":ACQuire:MDEPth"])
	}
	if set["MDEPthPerTimeDivision?"] != 1000 {
		t.Errorf("expected 1000 points per division got %v", set["MDEPthPerTimeDivision?"])
	}
	if set["SamplingTime?"] != 6.0 {
		t.Errorf("expected 6 s of memory got %v", set["SamplingTime?"])
	}
	if set[":ACQuire:AVERages"] != 2 {
		t.Errorf("expected 2 averages got %v", set[":ACQuire:AVERages"])
	}
}

func TestAcquireSettingsFixedDepth(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":ACQ:AVER?", "2").
		Reply(":ACQ:MDEP?", "24000").
		Reply(":ACQ:SRAT?", "2.000000e+03").
		Reply(":ACQ:TYPE?", "NORM").
		Reply(":TIM:SCAL?", "5.000000e-01")
	set, err := s.AcquireSettings()
	if err != nil {
		t.Fatal(err)
	}
	if set[":ACQuire:MDEPth"] != 24000 {
		t.Errorf("expected 24000 got %v", set[":ACQuire:MDEPth"])
	}
	if set["SamplingTime?"] != 12.0 {
		t.Errorf("expected 12 s of memory got %v", set["SamplingTime?"])
	}
}

func channelReplies(inst *scpitest.Instrument) {
	inst.Reply(":CHAN1:BWL?", "OFF").
		Reply(":CHAN1:COUP?", "DC").
		Reply(":CHAN1:DISP?", "1").
		Reply(":CHAN1:INV?", "0").
		Reply(":CHAN1:OFFS?", "0.000000e+00").
		Reply(":CHAN1:PROB?", "1.000000e+01").
		Reply(":CHAN1:SCAL?", "5.000000e-01").
		Reply(":CHAN1:TCAL?", "0.000000e+00").
		Reply(":CHAN1:UNIT?", "VOLT").
		Reply(":CHAN1:VERN?", "0")
}

func TestChannelSettingsOmitsMissingRange(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	channelReplies(inst)
	set, err := s.ChannelSettings(1)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set[":CHAN1:RANGe"]; ok {
		t.Error("expected RANGe to be omitted")
	}
	if set[":CHAN1:SCALe"] != 0.5 {
		t.Errorf("expected scale 0.5 got %v", set[":CHAN1:SCALe"])
	}
	if set[":CHAN1:DISPlay"] != 1 {
		t.Errorf("expected display 1 got %v", set[":CHAN1:DISPlay"])
	}
	if len(set) != 10 {
		t.Errorf("expected 10 entries got %d", len(set))
	}

	inst.Reply(":CHAN1:RANG?", "4.000000e+00")
	set, err = s.ChannelSettings(1)
	if err != nil {
		t.Fatal(err)
	}
	if set[":CHAN1:RANGe"] != 4.0 {
		t.Errorf("expected range 4 got %v", set[":CHAN1:RANGe"])
	}
}

func TestChannelSettingsRejectsUnknownChannel(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.ResetLog()
	for _, n := range []int{0, 5} {
		if _, err := s.ChannelSettings(n); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("channel %d: expected ErrInvalidArgument got %v", n, err)
		}
	}
	for _, l := range inst.Sent() {
		if l != ":SYST:RAM?" {
			t.Errorf("unexpected command %q", l)
		}
	}
}

func TestTimebaseSettings(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":TIM:MODE?", "MAIN").
		Reply(":TIM:DEL:ENAB?", "0").
		Reply(":TIM:OFFS?", "2.000000e-03").
		Reply(":TIM:SCAL?", "1.000000e-03")
	set, err := s.TimebaseSettings()
	if err != nil {
		t.Fatal(err)
	}
	offset, scale := 2e-3, 1e-3
	if set["TIM:TL?"] != offset {
		t.Errorf("expected left edge %v got %v", offset, set["TIM:TL?"])
	}
	if want := offset + scale*12; set["TIM:TR?"] != want {
		t.Errorf("expected right edge %v got %v", want, set["TIM:TR?"])
	}

	inst.Reply(":TIM:DEL:ENAB?", "1").Reply(":TIM:DEL:OFFS?", "0.000000e+00")
	set, err = s.TimebaseSettings()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set[":TIM:SCALe"]; ok {
		t.Error("expected no main scale with delayed sweep enabled")
	}
	if _, ok := set[":TIM:DELay:OFFSet"]; !ok {
		t.Error("expected the delayed offset")
	}
}

func TestDisplaySettings(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":DISP:TYPE?", "VECT").
		Reply(":DISP:GRAD:TIME?", "MIN").
		Reply(":DISP:GRID?", "FULL").
		Reply(":DISP:GBR?", "50").
		Reply(":DISP:WBR?", "60")
	set, err := s.DisplaySettings()
	if err != nil {
		t.Fatal(err)
	}
	if set[":DISPlay:WBRightness"] != 60 {
		t.Errorf("expected 60 got %v", set[":DISPlay:WBRightness"])
	}
	if set[":DISPlay:GRADing:TIME"] != "MIN" {
		t.Errorf("expected MIN got %v", set[":DISPlay:GRADing:TIME"])
	}
}

func TestScreenshot(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	img := []byte("BM\x00\x01\x02")
	inst.Block(":DISP:DATA?", img)
	got, err := s.Screenshot(true, false, "bmp")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(img) {
		t.Errorf("expected %q got %q", img, got)
	}
	if !inst.WasSent(":DISP:DATA? ON,OFF,BMP24") {
		t.Errorf("expected a 24 bit request, sent %v", inst.Sent())
	}
	if _, err := s.Screenshot(true, false, "JPEG"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument got %v", err)
	}
}

func TestScreenshotFallsBack(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	png := []byte("\x89PNG")
	inst.Block(":DISP:DATA?", png).
		Handle(":DISP:DATA? OFF,ON,PNG", func(string) []byte { return nil })
	got, err := s.Screenshot(false, true, "PNG")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(png) {
		t.Errorf("expected %q got %q", png, got)
	}
	if !inst.WasSent(":DISP:DATA?") {
		t.Error("expected the plain query after the failure")
	}
}
