package rigol

// CursorSettings reads the :CURSor subsystem for the current cursor mode,
// MAN, TRAC, AUTO or XY.  With the cursors OFF only the mode is returned.
//
// Cursor positions are read only in AUTO mode, and the Y cursors also in
// TRAC mode; those are reported as int under a key ending in ?.
func (s *Scope) CursorSettings() (Settings, error) {
	r := newReader(s)
	mode := r.str(":CURS:MODE")
	if r.err != nil || mode == "OFF" {
		return r.result()
	}
	key := func(k string) string { return ":CURS:" + mode + ":" + k }
	for _, p := range []string{"AX", "BX", "AY", "BY"} {
		if mode == "AUTO" || (mode == "TRAC" && p[1] == 'Y') {
			r.int(key(p + "?"))
		} else {
			r.str(key(p))
		}
	}
	for _, p := range []string{"AXValue?", "BXValue?", "AYValue?", "BYValue?"} {
		r.float(key(p))
	}
	switch mode {
	case "MAN":
		for _, p := range []string{"XDELta?", "YDELta?", "IXDELta?"} {
			r.float(key(p))
		}
		for _, p := range []string{"TYPE", "SOURce", "TUNit", "VUNit"} {
			r.str(key(p))
		}
	case "TRAC":
		for _, p := range []string{"XDELta?", "YDELta?", "IXDELta?"} {
			r.float(key(p))
		}
		r.str(key("SOURce1"))
		r.str(key("SOURce2"))
	case "AUTO":
		r.str(key("ITEM"))
	}
	return r.result()
}
