package rigol

import "fmt"

// DecoderSettings reads the :DECoder subsystem of protocol decoder n.  The
// bus specific entries depend on :DEC<n>:MODE, one of PAR, UART, SPI or
// IIC.  Thresholds are reported per channel only while the automatic
// threshold is off.
func (s *Scope) DecoderSettings(n int) (Settings, error) {
	decoders, err := s.Decoders()
	if err != nil {
		return nil, err
	}
	if err := checkIndex("decoder", n, decoders); err != nil {
		return nil, err
	}
	key := func(k string) string { return fmt.Sprintf(":DEC%d:%s", n, k) }
	r := newReader(s)
	mode := r.str(key("MODE"))
	bus := func(k string) string { return fmt.Sprintf(":DEC%d:%s:%s", n, mode, k) }

	r.int(key("DISPlay"))
	r.str(key("FORMat"))
	r.int(key("POSition"))
	if r.int(key("THREshold:AUTO")) == 0 && r.err == nil {
		analog, err := s.AnalogChannels()
		if err != nil {
			return nil, err
		}
		for ch := 1; ch <= analog; ch++ {
			r.float(key(fmt.Sprintf("THREshold:CHANnel%d", ch)))
		}
	}
	r.int(key("CONFig:LABel"))
	r.int(key("CONFig:LINE"))
	r.int(key("CONFig:FORMat"))
	if mode != "PAR" {
		r.int(key("CONFig:ENDian"))
	}
	r.int(key("CONFig:WIDth"))
	r.float(key("CONFig:SRATe?"))

	switch mode {
	case "PAR":
		clk := r.str(bus("CLK"))
		r.str(bus("POLarity"))
		r.int(bus("WIDTh"))
		r.str(bus("EDGE"))
		r.int(bus("BITX"))
		r.str(bus("SOURce"))
		if r.int(bus("NREJect")) == 1 {
			r.float(bus("NRTime"))
		}
		if clk != "OFF" {
			r.float(bus("CCOMpensation"))
		}
		r.int(bus("PLOT"))
	case "UART":
		r.str(bus("POLarity"))
		r.int(bus("WIDTh"))
		r.str(bus("ENDian"))
		r.str(bus("TX"))
		r.str(bus("RX"))
		r.int(bus("BAUD"))
		r.str(bus("STOP"))
		r.str(bus("PARity"))
	case "SPI":
		r.str(bus("CLK"))
		r.str(bus("POLarity"))
		r.int(bus("WIDTh"))
		r.str(bus("EDGE"))
		r.str(bus("ENDian"))
		r.str(bus("MISO"))
		r.str(bus("MOSI"))
		r.str(bus("CS"))
		r.str(bus("SELect"))
		r.str(bus("MODE"))
		r.float(bus("TIMeout"))
	case "IIC":
		r.str(bus("CLK"))
		r.str(bus("DATA"))
		r.str(bus("ADDRess"))
	}
	return r.result()
}
