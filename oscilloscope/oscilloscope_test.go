package oscilloscope_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/benchlab/rigolab/oscilloscope"
)

func ExampleTimeUnitAndScale() {
	scale, unit := oscilloscope.TimeUnitAndScale(12e-6)
	fmt.Println(scale, unit)
	// Output: 1e+06 us
}

func TestPhysicalUint16(t *testing.T) {
	c := oscilloscope.Channel{Data: []uint16{127, 137}, Scale: 0.5, Reference: 127, Offset: 1}
	p, err := c.Physical()
	if err != nil {
		t.Fatal(err)
	}
	if p[0] != 1 || p[1] != 6 {
		t.Errorf("expected [1 6] got %v", p)
	}
}

func TestPhysicalRejectsStrings(t *testing.T) {
	c := oscilloscope.Channel{Data: []string{"a"}, Scale: 1}
	if _, err := c.Physical(); err == nil {
		t.Error("expected an error for non numeric data")
	}
}

func TestEncodeCSVSortedColumns(t *testing.T) {
	wav := oscilloscope.Waveform{
		DT: 0.5,
		T0: -1,
		Channels: map[string]oscilloscope.Channel{
			"CHAN2": {Data: []float64{3, 4}},
			"CHAN1": {Data: []float64{1, 2}},
		},
	}
	var buf bytes.Buffer
	if err := wav.EncodeCSV(&buf); err != nil {
		t.Fatal(err)
	}
	expected := "time,CHAN1,CHAN2\n-1,1,3\n-0.5,2,4\n"
	if buf.String() != expected {
		t.Errorf("expected %q got %q", expected, buf.String())
	}
}

func TestEncodeCSVLengthMismatch(t *testing.T) {
	wav := oscilloscope.Waveform{
		DT: 1,
		Channels: map[string]oscilloscope.Channel{
			"CHAN1": {Data: []float64{1, 2}},
			"CHAN2": {Data: []float64{1}},
		},
	}
	err := wav.EncodeCSV(&bytes.Buffer{})
	if !errors.Is(err, oscilloscope.ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch got %v", err)
	}
}

func TestEncodeFITS(t *testing.T) {
	wav := oscilloscope.Waveform{
		DT: 1e-6,
		Channels: map[string]oscilloscope.Channel{
			"CHAN1": {Data: []float64{0.1, 0.2, 0.3}},
		},
		Meta: map[string]interface{}{":WAV:MODE": "NORM", "points": 3},
	}
	var buf bytes.Buffer
	if err := wav.EncodeFITS(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len()%2880 != 0 {
		t.Errorf("FITS files are made of 2880 byte blocks, got %d bytes", buf.Len())
	}
	hdr := buf.String()[:2880]
	if !strings.HasPrefix(hdr, "SIMPLE  =") {
		t.Errorf("missing SIMPLE card: %q", hdr[:80])
	}
	for _, card := range []string{"CHAN1   = 'CHAN1", "WAVMODE = 'NORM"} {
		if !strings.Contains(hdr, card) {
			t.Errorf("expected card %q in header", card)
		}
	}
}
