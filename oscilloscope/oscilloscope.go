// Package oscilloscope provides type definitions for oscilloscope waveforms
// and their encoding to CSV and FITS
package oscilloscope

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
)

// ErrLengthMismatch is returned when channels of a waveform differ in length
var ErrLengthMismatch = errors.New("channels have different lengths")

// Waveform describes a waveform recording from a scope
type Waveform struct {
	// DT is the temporal sample spacing in seconds
	DT float64 `json:"dt"`

	// T0 is the time of the first sample relative to the trigger
	T0 float64 `json:"t0"`

	// Channels holds named data streams
	Channels map[string]Channel `json:"channels"`

	// Meta holds the instrument settings the waveform was taken with
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// Channel represents a stream of data from an ADC.  To convert to physical units,
// compute (data-reference)*scale+offset
type Channel struct {
	// Data is the actual buffer, []byte, []int16, []uint16, or similar
	Data Data `json:"data"`

	// Scale is the vertical scale of the data or size of a single increment
	// in Data's native dtype
	Scale float64 `json:"scale"`

	// Offset is the offset applied to the data
	Offset float64 `json:"offset"`

	// Reference is the reference value for the given channel in DN
	Reference float64 `json:"reference"`
}

// Data is a moniker for an empty interface, expected to be a slice of a concrete
// numerical type
type Data interface{}

// toFloats widens any numeric slice to float64
func toFloats(d Data) ([]float64, error) {
	switch v := d.(type) {
	case []float64:
		return v, nil
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []uint8:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []uint16:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []uint32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []uint64:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int8:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int16:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int64:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []int:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	}
	return nil, errors.Errorf("cannot convert %T to physical units", d)
}

// Physical computes the data scaled to real units.  A channel with zero
// Scale is taken to hold physical values already.
func (c Channel) Physical() ([]float64, error) {
	f, err := toFloats(c.Data)
	if err != nil {
		return nil, err
	}
	if c.Scale == 0 {
		return f, nil
	}
	ret := make([]float64, len(f))
	for i, v := range f {
		ret[i] = ((v - c.Reference) * c.Scale) + c.Offset
	}
	return ret, nil
}

// Labels returns the channel names in sorted order
func (wav *Waveform) Labels() []string {
	labels := make([]string, 0, len(wav.Channels))
	for k := range wav.Channels {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// physical converts every channel, checking they all have the same length
func (wav *Waveform) physical() ([]string, [][]float64, int, error) {
	labels := wav.Labels()
	data := make([][]float64, len(labels))
	points := -1
	for i, l := range labels {
		d, err := wav.Channels[l].Physical()
		if err != nil {
			return nil, nil, 0, errors.Wrapf(err, "channel %s", l)
		}
		if points >= 0 && len(d) != points {
			return nil, nil, 0, errors.Wrapf(ErrLengthMismatch, "%s has %d points, expected %d", l, len(d), points)
		}
		points = len(d)
		data[i] = d
	}
	if points < 0 {
		points = 0
	}
	return labels, data, points, nil
}

// Time returns the timestamp of sample i
func (wav *Waveform) Time(i int) float64 {
	return wav.T0 + float64(i)*wav.DT
}

// EncodeCSV converts the waveform data to physical units
// and writes it to a CSV in streaming fashion.  The first column is time,
// followed by the channels in sorted order.
func (wav *Waveform) EncodeCSV(w io.Writer) error {
	labels, data, points, err := wav.physical()
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	writer := csv.NewWriter(bw)
	row := append([]string{"time"}, labels...)
	if err := writer.Write(row); err != nil {
		return err
	}
	for i := 0; i < points; i++ {
		row[0] = strconv.FormatFloat(wav.Time(i), 'G', -1, 64)
		for j := range data {
			row[j+1] = strconv.FormatFloat(data[j][i], 'G', -1, 64)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// cardName turns a settings key into a FITS keyword: upper case letters,
// digits, dashes and underscores, at most 8 characters
func cardName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 8 {
		s = s[len(s)-8:]
	}
	return s
}

func cardValue(v interface{}) interface{} {
	switch x := v.(type) {
	case string, bool, int, int64, float64:
		return x
	case int32:
		return int(x)
	case float32:
		return float64(x)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// EncodeFITS writes the waveform as a float64 FITS image with one row per
// channel, in sorted label order.  The channel names, DT, T0 and the
// metadata are recorded in the header.
func (wav *Waveform) EncodeFITS(w io.Writer) error {
	labels, data, points, err := wav.physical()
	if err != nil {
		return err
	}
	cards := []fitsio.Card{
		{Name: "DT", Value: wav.DT, Comment: "sample spacing, s"},
		{Name: "T0", Value: wav.T0, Comment: "time of first sample, s"},
	}
	used := map[string]bool{"DT": true, "T0": true}
	for i, l := range labels {
		name := fmt.Sprintf("CHAN%d", i+1)
		used[name] = true
		cards = append(cards, fitsio.Card{Name: name, Value: l})
	}
	keys := make([]string, 0, len(wav.Meta))
	for k := range wav.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := cardName(k)
		if name == "" || used[name] {
			continue
		}
		used[name] = true
		cards = append(cards, fitsio.Card{Name: name, Value: cardValue(wav.Meta[k]), Comment: k})
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{points, len(labels)})
	defer im.Close()
	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	flat := make([]float64, 0, points*len(labels))
	for _, d := range data {
		flat = append(flat, d...)
	}
	if err := im.Write(flat); err != nil {
		return err
	}
	return fits.Write(im)
}

// TimeUnitAndScale picks a display unit for a time span in seconds and the
// factor that converts seconds to it
func TimeUnitAndScale(span float64) (float64, string) {
	switch {
	case span < 1e-6:
		return 1e9, "ns"
	case span < 1e-3:
		return 1e6, "us"
	case span < 1:
		return 1e3, "ms"
	}
	return 1, "s"
}
