package rigol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/benchlab/rigolab/scpi/scpitest"
	"github.com/benchlab/rigolab/visa"
)

func triggerGlobals(inst *scpitest.Instrument) {
	inst.Reply(":TRIG:MODE?", "EDGE").
		Reply(":TRIG:COUP?", "DC").
		Reply(":TRIG:HOLD?", "1.600000e-08").
		Reply(":TRIG:NREJ?", "0").
		Reply(":TRIG:SWE?", "AUTO")
}

func TestTriggerSettingsCurrentMode(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	triggerGlobals(inst)
	inst.Reply(":TRIG:EDGE:SOUR?", "CHAN1").
		Reply(":TRIG:EDGE:SLOP?", "POS").
		Reply(":TRIG:EDGE:LEV?", "1.500000e+00")
	set, err := s.TriggerSettings("")
	if err != nil {
		t.Fatal(err)
	}
	if set[":TRIG:MODE?"] != "EDGE" {
		t.Errorf("expected EDGE got %v", set[":TRIG:MODE?"])
	}
	if set[":TRIG:EDGE:LEVel?"] != 1.5 {
		t.Errorf("expected level 1.5 got %v", set[":TRIG:EDGE:LEVel?"])
	}
	if set[":TRIG:SWEep"] != "AUTO" {
		t.Errorf("expected the sweep under :TRIG:SWEep got %v", set[":TRIG:SWEep"])
	}
	if _, ok := set[":TRIG:POSition?"]; ok {
		t.Error("expected the unanswered position to be omitted")
	}
	if w := set.Writable(); len(w) != 2 || w[0] != ":TRIG:EDGE:SOURce" || w[1] != ":TRIG:SWEep" {
		t.Errorf("unexpected writable entries %v", w)
	}
}

func TestTriggerSettingsSetupHold(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	triggerGlobals(inst)
	inst.Reply(":TRIG:SHOL:SLOP?", "POS").
		Reply(":TRIG:SHOL:PATT?", "H").
		Reply(":TRIG:SHOL:TYP?", "SETup").
		Reply(":TRIG:SHOL:CS?", "CHAN1").
		Reply(":TRIG:SHOL:DS?", "CHAN2").
		Reply(":TRIG:SHOL:STIM?", "1.000000e-06").
		Reply(":TRIG:SHOL:HTIM?", "1.000000e-06")
	set, err := s.TriggerSettings("shol")
	if err != nil {
		t.Fatal(err)
	}
	if set[":TRIG:SHOL:DSrc?"] != "CHAN2" {
		t.Errorf("expected data source CHAN2 got %v", set[":TRIG:SHOL:DSrc?"])
	}
	if set[":TRIG:MODE?"] != "SHOL" {
		t.Errorf("expected SHOL got %v", set[":TRIG:MODE?"])
	}
}

func TestTriggerSettingsModeNotInstalled(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	triggerGlobals(inst)
	if _, err := s.TriggerSettings("RS232"); !errors.Is(err, ErrModeNotInstalled) {
		t.Errorf("expected ErrModeNotInstalled got %v", err)
	}
	inst.ResetLog()
	if _, err := s.TriggerSettings("PATT"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument got %v", err)
	}
	if n := len(inst.Sent()); n != 0 {
		t.Errorf("expected no I/O for an unknown mode got %d lines", n)
	}
}

func TestTriggerParamsAreQueryable(t *testing.T) {
	for _, p := range triggerParams {
		for _, m := range strings.Fields(p.modes) {
			if !validTriggerMode(m) {
				t.Errorf("%s lists unknown mode %s", p.key, m)
			}
		}
	}
}

func TestMeasureItem(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":MEAS:ITEM? VMAX,CHAN1", "2.500000e+00").
		Reply(":MEAS:ITEM? VMIN,CHAN1", "9.9E37").
		Reply(":MEAS:ITEM? VPP,CHAN1", "measure error!").
		Reply(":MEAS:ITEM? FREQ,CHAN1", "1.000000e+03")
	m, err := s.MeasureItem("CHAN1", []string{"VMAX", "vmin", "VPP", "freq"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if m["VMAX"] == nil || *m["VMAX"] != 2.5 {
		t.Errorf("expected VMAX 2.5 got %v", m["VMAX"])
	}
	if m["VMIN"] != nil || m["VPP"] != nil {
		t.Errorf("expected invalid measurements to be nil got %v %v", m["VMIN"], m["VPP"])
	}
	if m["FREQuency"] == nil || *m["FREQuency"] != 1000 {
		t.Errorf("expected FREQuency 1000 got %v", m["FREQuency"])
	}
	if inst.WasSent(":MEAS:CLE ALL") {
		t.Error("cleared without being asked")
	}
	if _, err := s.MeasureItem("CHAN1", []string{"VMAX"}, true); err != nil {
		t.Fatal(err)
	}
	if !inst.WasSent(":MEAS:CLE ALL") {
		t.Error("expected the measurements to be cleared")
	}
}

func TestMeasureItemUnrepresentable(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":MEAS:ITEM? VMAX,CHAN1", "NaN").
		Reply(":MEAS:ITEM? VMIN,CHAN1", "-Inf").
		Reply(":MEAS:ITEM? VPP,CHAN1", "-9.9E37")
	m, err := s.MeasureItem("CHAN1", []string{"VMAX", "VMIN", "VPP"}, false)
	if err != nil {
		t.Fatal(err)
	}
	for item, v := range m {
		if v != nil {
			t.Errorf("expected %s to be nil got %v", item, *v)
		}
	}
}

func TestMeasureItemDigital(t *testing.T) {
	s, inst := newTestScope(mso1104z)
	for _, item := range DigitalItems {
		inst.Reply(":MEAS:ITEM? "+shortItem(item)+",D0", "1.000000e-03")
	}
	m, err := s.MeasureItem("D0", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != len(DigitalItems) {
		t.Errorf("expected %d items got %d", len(DigitalItems), len(m))
	}
	if !inst.WasSent(":MEAS:CLE ALL") {
		t.Error("expected a clear after more than five items")
	}
	if _, err := s.MeasureItem("D0", []string{"VMAX"}, false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument got %v", err)
	}
}

func TestMeasureItemPair(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":MEAS:ITEM? RDEL,CHAN1,CHAN2", "1.000000e-06").
		Reply(":MEAS:ITEM? RPH,CHAN1,CHAN2", "9.000000e+01")
	m, err := s.MeasureItemPair("CHAN1", "CHAN2", []string{"RDELay", "RPHase"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if m["RPHase"] == nil || *m["RPHase"] != 90 {
		t.Errorf("expected RPHase 90 got %v", m["RPHase"])
	}
	if _, err := s.MeasureItemPair("CHAN1", "CHAN9", nil, false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument got %v", err)
	}
}

func TestCursorSettings(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":CURS:MODE?", "OFF")
	set, err := s.CursorSettings()
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 1 {
		t.Errorf("expected only the mode got %v", set)
	}

	inst.Reply(":CURS:MODE?", "AUTO").Reply(":CURS:AUTO:ITEM?", "OFF")
	for _, p := range []string{"AX", "BX", "AY", "BY"} {
		inst.Reply(":CURS:AUTO:"+p+"?", "100")
	}
	for _, p := range []string{"AXV", "BXV", "AYV", "BYV"} {
		inst.Reply(":CURS:AUTO:"+p+"?", "1.000000e+00")
	}
	set, err = s.CursorSettings()
	if err != nil {
		t.Fatal(err)
	}
	if set[":CURS:AUTO:AX?"] != 100 {
		t.Errorf("expected a read only int position got %v", set[":CURS:AUTO:AX?"])
	}
	if set[":CURS:AUTO:AXValue?"] != 1.0 {
		t.Errorf("expected 1 got %v", set[":CURS:AUTO:AXValue?"])
	}
	if set[":CURS:AUTO:ITEM"] != "OFF" {
		t.Errorf("expected the item got %v", set[":CURS:AUTO:ITEM"])
	}
}

func TestMathSettings(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	for _, k := range mathKeys {
		inst.Reply(query(k), "0")
	}
	set, err := s.MathSettings()
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 29 {
		t.Errorf("expected 29 entries got %d", len(set))
	}
	if !inst.WasSent(":MATH:OPT:FX:SOUR1?") {
		t.Error("expected the short form query")
	}
}

func TestReferenceSettingsAndSave(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":REF:DISP?", "1").
		Reply(":REF:CURR?", "REF2").
		Reply(":REF2:ENAB?", "1").
		Reply(":REF2:SOUR?", "CHAN1").
		Reply(":REF2:VSC?", "1.000000e+00").
		Reply(":REF2:VOFF?", "0.000000e+00").
		Reply(":REF2:COL?", "GRAY")
	set, err := s.ReferenceSettings(2)
	if err != nil {
		t.Fatal(err)
	}
	if set[":REF2:COLor"] != "GRAY" {
		t.Errorf("expected GRAY got %v", set[":REF2:COLor"])
	}
	if _, err := s.ReferenceSettings(11); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument got %v", err)
	}

	inst.Reject(":REF:CURR", -113, "Undefined header")
	if err := s.SaveReference(3); err != nil {
		t.Fatal(err)
	}
	want := []string{":REF3:ENAB 1", ":REF:CURR REF3", ":REF:SAVE"}
	var got []string
	for _, l := range inst.Sent() {
		if len(l) > 4 && l[:4] == ":REF" && l[len(l)-1] != '?' {
			got = append(got, l)
		}
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v got %v", want, got)
	}
}

func TestMask(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":MASK:ENAB?", "0").
		Reply(":MASK:SOUR?", "CHAN1").
		Reply(":MASK:SOO?", "0").
		Reply(":MASK:OUTP?", "0").
		Reply(":MASK:X?", "2.400000e-01").
		Reply(":MASK:Y?", "4.800000e-01").
		Reply(":MASK:PASS?", "10").
		Reply(":MASK:FAIL?", "1").
		Reply(":MASK:TOT?", "11")
	set, err := s.MaskSettings()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set[":MASK:OPERate"]; ok {
		t.Error("expected no operating state while disabled")
	}
	if set[":MASK:TOTal?"] != 11 {
		t.Errorf("expected 11 got %v", set[":MASK:TOTal?"])
	}

	inst.ResetLog()
	if err := s.CreateMask(true); err != nil {
		t.Fatal(err)
	}
	if got := inst.Sent(); len(got) != 1 || got[0] != ":MASK:RES" {
		t.Errorf("expected only a reset got %v", got)
	}
	inst.ResetLog()
	if err := s.CreateMask(false); err != nil {
		t.Fatal(err)
	}
	want := []string{":MASK:RES", ":MASK:ENAB 1", ":MASK:OPER STOP", ":MASK:CRE"}
	if got := inst.Sent(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v got %v", want, got)
	}
}

func TestDecoderSettingsUART(t *testing.T) {
	s, inst := newTestScope(ds1104z)
	inst.Reply(":DEC1:MODE?", "UART").
		Reply(":DEC1:DISP?", "1").
		Reply(":DEC1:FORM?", "HEX").
		Reply(":DEC1:POS?", "350").
		Reply(":DEC1:THRE:AUTO?", "1").
		Reply(":DEC1:CONF:LAB?", "1").
		Reply(":DEC1:CONF:LINE?", "1").
		Reply(":DEC1:CONF:FORM?", "1").
		Reply(":DEC1:CONF:END?", "0").
		Reply(":DEC1:CONF:WID?", "0").
		Reply(":DEC1:CONF:SRAT?", "1.000000e+08").
		Reply(":DEC1:UART:POL?", "NEG").
		Reply(":DEC1:UART:WIDT?", "8").
		Reply(":DEC1:UART:END?", "LSB").
		Reply(":DEC1:UART:TX?", "CHAN1").
		Reply(":DEC1:UART:RX?", "OFF").
		Reply(":DEC1:UART:BAUD?", "9600").
		Reply(":DEC1:UART:STOP?", "1").
		Reply(":DEC1:UART:PAR?", "NONE")
	set, err := s.DecoderSettings(1)
	if err != nil {
		t.Fatal(err)
	}
	if set[":DEC1:UART:BAUD"] != 9600 {
		t.Errorf("expected 9600 baud got %v", set[":DEC1:UART:BAUD"])
	}
	if _, ok := set[":DEC1:THREshold:CHANnel1"]; ok {
		t.Error("expected no thresholds with the automatic threshold on")
	}
	if _, err := s.DecoderSettings(3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument got %v", err)
	}
}

func TestDiscoverFallsBackToLAN(t *testing.T) {
	oldUSB, oldLAN, oldProbe := listUSB, scanLAN, probe
	defer func() { listUSB, scanLAN, probe = oldUSB, oldLAN, oldProbe }()

	listUSB = func(uint16) ([]visa.Resource, error) { return nil, nil }
	scanLAN = func(context.Context, visa.ScanOptions) ([]visa.Resource, error) {
		return []visa.Resource{
			{Kind: visa.TCPIPInstr, Host: "192.168.1.20", Port: visa.InstrPort, Interface: -1, Secondary: -1},
			{Kind: visa.TCPIPInstr, Host: "192.168.1.30", Port: visa.InstrPort, Interface: -1, Secondary: -1},
		}, nil
	}
	probe = func(r visa.Resource) (string, error) {
		if r.Host == "192.168.1.20" {
			return ds1104z, nil
		}
		return "SIGLENT,SDS1202X-E,SDS1,1.0", nil
	}
	var probed int
	found, err := Discover(context.Background(), func(string, string, error) { probed++ })
	if err != nil {
		t.Fatal(err)
	}
	if probed != 2 {
		t.Errorf("expected 2 probes got %d", probed)
	}
	if len(found) != 1 || found[0].IDN != ds1104z {
		t.Fatalf("expected the Rigol only got %+v", found)
	}
	if found[0].Resource != "TCPIP::192.168.1.20::INSTR" {
		t.Errorf("unexpected resource %s", found[0].Resource)
	}
}
