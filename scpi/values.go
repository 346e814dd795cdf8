package scpi

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Abbreviate converts a long form mnemonic to its short form by dropping
// the lowercase letters, e.g. :ACQuire:MDEPth => :ACQ:MDEP
func Abbreviate(mnemonic string) string {
	var b strings.Builder
	b.Grow(len(mnemonic))
	for i := 0; i < len(mnemonic); i++ {
		c := mnemonic[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// FormatValue renders a setting value the way the instrument expects it.
// bools become 1 or 0 and floats use exponent notation.  A json.Number
// without a fraction or exponent is an integer.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := x.Float64(); err == nil {
			return fmt.Sprintf("%e", f)
		}
		return x.String()
	case bool:
		if x {
			return "1"
		}
		return "0"
	case float64:
		return fmt.Sprintf("%e", x)
	case float32:
		return fmt.Sprintf("%e", x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// ParseBool accepts the boolean spellings SCPI devices use
func ParseBool(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "ON", "TRUE", "+1":
		return true, nil
	case "0", "OFF", "FALSE", "+0":
		return false, nil
	}
	return false, errors.Errorf("%q is not a boolean", s)
}

// ParseInt parses an integer, allowing forms like 1.200000e+03
func ParseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Errorf("%q is not an integer", s)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, errors.Errorf("%q is not an integer", s)
	}
	return int(f), nil
}

// ParseFloats parses a comma separated list of numbers.  Empty fields,
// as left by a trailing comma, are skipped.
func ParseFloats(s string) ([]float64, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return out, errors.Wrapf(err, "parsing value %d", len(out))
		}
		out = append(out, v)
	}
	return out, nil
}
