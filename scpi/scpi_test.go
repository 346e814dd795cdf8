package scpi_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/multierr"

	"github.com/benchlab/rigolab/scpi"
	"github.com/benchlab/rigolab/scpi/scpitest"
)

func ExampleAbbreviate() {
	fmt.Println(scpi.Abbreviate(":ACQuire:MDEPth"))
	// Output: :ACQ:MDEP
}

func TestParseError(t *testing.T) {
	e, err := scpi.ParseError(`-113,"Undefined header"` + "\n")
	if err != nil {
		t.Fatal(err)
	}
	if e.Code != -113 {
		t.Errorf("expected -113 got %d", e.Code)
	}
	if e.Message != "Undefined header" {
		t.Errorf("expected Undefined header got %q", e.Message)
	}
	if _, err := scpi.ParseError("garbage"); err == nil {
		t.Error("expected an error parsing a reply with no comma")
	}
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		in  interface{}
		out string
	}{
		{true, "1"},
		{false, "0"},
		{0.5, "5.000000e-01"},
		{12, "12"},
		{"AUTO", "AUTO"},
		{json.Number("12000"), "12000"},
		{json.Number("1.5"), "1.500000e+00"},
		{json.Number("1e9"), "1.000000e+09"},
	}
	for _, c := range cases {
		if got := scpi.FormatValue(c.in); got != c.out {
			t.Errorf("FormatValue(%v): expected %q got %q", c.in, c.out, got)
		}
	}
}

func TestParseInt(t *testing.T) {
	i, err := scpi.ParseInt("1.200000e+03")
	if err != nil {
		t.Fatal(err)
	}
	if i != 1200 {
		t.Errorf("expected 1200 got %d", i)
	}
	if _, err := scpi.ParseInt("1.5"); err == nil {
		t.Error("expected 1.5 to be rejected")
	}
}

func TestParseFloatsSkipsTrailingComma(t *testing.T) {
	f, err := scpi.ParseFloats("1.0,-2.5e-3,3,")
	if err != nil {
		t.Fatal(err)
	}
	if len(f) != 3 {
		t.Fatalf("expected 3 values got %d", len(f))
	}
	if f[1] != -2.5e-3 {
		t.Errorf("expected -2.5e-3 got %g", f[1])
	}
}

func TestReadFloat(t *testing.T) {
	inst := scpitest.New().Reply(":CHAN1:SCAL?", "1.000000e-01")
	s := scpi.SCPI{Pool: inst.Pool()}
	f, err := s.ReadFloat(":CHAN1:SCAL?")
	if err != nil {
		t.Fatal(err)
	}
	if f != 0.1 {
		t.Errorf("expected 0.1 got %g", f)
	}
}

func TestWriteHandshakingReportsRejection(t *testing.T) {
	inst := scpitest.New().Reject(":CHAN1:SCAL", -224, "Illegal parameter value")
	s := scpi.SCPI{Pool: inst.Pool(), Handshaking: true}
	err := s.Write(":CHAN1:SCAL", "1000")
	if err == nil {
		t.Fatal("expected the rejected write to fail")
	}
	var se *scpi.Error
	if !errors.As(err, &se) {
		t.Fatalf("expected a *scpi.Error in %v", err)
	}
	if se.Code != -224 {
		t.Errorf("expected -224 got %d", se.Code)
	}
	if !inst.WasSent(":CHAN1:SCAL 1000") {
		t.Error("command was not sent")
	}
}

func TestWriteStoresValue(t *testing.T) {
	inst := scpitest.New()
	s := scpi.SCPI{Pool: inst.Pool(), Handshaking: true}
	if err := s.Write(":ACQ:AVER", "16"); err != nil {
		t.Fatal(err)
	}
	i, err := s.ReadInt(":ACQ:AVER?")
	if err != nil {
		t.Fatal(err)
	}
	if i != 16 {
		t.Errorf("expected 16 got %d", i)
	}
}

func TestUnknownQueryDrainsErrors(t *testing.T) {
	inst := scpitest.New()
	s := scpi.SCPI{Pool: inst.Pool(), Handshaking: true}
	_, err := s.ReadString(":BOGUS?")
	if err == nil {
		t.Fatal("expected an unanswered query to fail")
	}
	var se *scpi.Error
	if !errors.As(err, &se) || se.Code != -113 {
		t.Errorf("expected the -113 queue entry in %v", err)
	}
}

func TestAllErrorsCollectsQueue(t *testing.T) {
	inst := scpitest.New()
	inst.PushError(-113, "Undefined header")
	inst.PushError(-221, "Settings conflict")
	s := scpi.SCPI{Pool: inst.Pool()}
	errs := multierr.Errors(s.AllErrors())
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors got %d", len(errs))
	}
	if s.AllErrors() != nil {
		t.Error("queue should be empty after draining")
	}
	str, err := s.AllErrorsString()
	if str != "" || err != nil {
		t.Errorf("expected no errors, got %q %v", str, err)
	}
}

func TestReadBlock(t *testing.T) {
	payload := []byte{0, 1, 2, '\n', 255, 128}
	inst := scpitest.New().Block(":WAV:DATA?", payload)
	s := scpi.SCPI{Pool: inst.Pool()}
	data, err := s.ReadBlock(":WAV:DATA?")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("expected %v got %v", payload, data)
	}
}

func TestReadBlockIndefinite(t *testing.T) {
	inst := scpitest.New().Handle(":WAV:DATA?", func(string) []byte {
		return []byte("#0abc\n")
	})
	s := scpi.SCPI{Pool: inst.Pool()}
	data, err := s.ReadBlock(":WAV:DATA?")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abc" {
		t.Errorf("expected abc got %q", data)
	}
}

func TestReadBlockMalformed(t *testing.T) {
	inst := scpitest.New().Reply(":WAV:DATA?", "1,2,3")
	s := scpi.SCPI{Pool: inst.Pool()}
	_, err := s.ReadBlock(":WAV:DATA?")
	if !errors.Is(err, scpi.ErrBadBlock) {
		t.Errorf("expected ErrBadBlock got %v", err)
	}
}

func TestReadBlockMalformedDropsConnection(t *testing.T) {
	inst := scpitest.New().
		Reply(":WAV:DATA?", "1,2,3").
		Reply("*IDN?", "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA0000,00.04.04")
	s := scpi.SCPI{Pool: inst.Pool()}
	if _, err := s.ReadBlock(":WAV:DATA?"); err == nil {
		t.Fatal("expected an error from a malformed block")
	}
	if _, err := s.ReadString("*IDN?"); err != nil {
		t.Fatal(err)
	}
	if inst.Opened() != 2 {
		t.Errorf("expected 2 connections opened got %d", inst.Opened())
	}
}

func TestReadASCIIValues(t *testing.T) {
	inst := scpitest.New().Block(":WAV:DATA?", []byte("1.0e-01,2.0e-01,"))
	s := scpi.SCPI{Pool: inst.Pool()}
	v, err := s.ReadASCIIValues(":WAV:DATA?")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 2 || v[1] != 0.2 {
		t.Errorf("expected [0.1 0.2] got %v", v)
	}
}

func TestRawOnlyReadsQueries(t *testing.T) {
	inst := scpitest.New().Reply("*IDN?", "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA0000,00.04.04")
	s := scpi.SCPI{Pool: inst.Pool()}
	resp, err := s.Raw(":RUN")
	if err != nil || resp != "" {
		t.Errorf("expected no reply to a command, got %q %v", resp, err)
	}
	resp, err = s.Raw("*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "RIGOL TECHNOLOGIES,DS1104Z,DS1ZA0000,00.04.04" {
		t.Errorf("unexpected reply %q", resp)
	}
}
