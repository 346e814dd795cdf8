// Package scope exposes a Rigol oscilloscope over HTTP.
//
// The instrument answers one request at a time, so every route of an
// HTTPScope holds a mutex for the duration of the handler.  When built with
// a Metrics, each route also counts requests and observes their duration,
// labeled by route and status code.
package scope

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/benchlab/rigolab/generichttp"
	"github.com/benchlab/rigolab/generichttp/ascii"
	"github.com/benchlab/rigolab/log"
	"github.com/benchlab/rigolab/recorder"
	"github.com/benchlab/rigolab/rigol"
	"github.com/benchlab/rigolab/server"
)

// Metrics holds the collectors HTTPScope routes report to
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the request collectors and registers them with reg.
// Collectors already registered by another scope are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rigolab",
			Subsystem: "scope",
			Name:      "requests_total",
			Help:      "Requests handled by oscilloscope routes.",
		}, []string{"route", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rigolab",
			Subsystem: "scope",
			Name:      "request_duration_seconds",
			Help:      "Time spent handling oscilloscope requests, including waiting for the instrument.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route", "status"}),
	}
	if err := reg.Register(m.Requests); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		m.Requests = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(m.Duration); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		m.Duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return m, nil
}

// HTTPScope wraps a rigol.Scope in an HTTP interface
type HTTPScope struct {
	Scope *rigol.Scope

	RouteTable generichttp.RouteTable

	mu      sync.Mutex
	metrics *Metrics
}

// NewHTTPScope builds the route table for s.  m may be nil, in which case
// nothing is measured.  When rec is not nil every waveform served is also
// handed to it, and its /autowrite routes are added.
func NewHTTPScope(s *rigol.Scope, m *Metrics, rec *recorder.Recorder) *HTTPScope {
	h := &HTTPScope{Scope: s, metrics: m}
	get := func(path string) generichttp.MethodPath {
		return generichttp.MethodPath{Method: http.MethodGet, Path: path}
	}
	post := func(path string) generichttp.MethodPath {
		return generichttp.MethodPath{Method: http.MethodPost, Path: path}
	}
	rt := generichttp.RouteTable{
		get("/idn"):            generichttp.GetJSON(s.Identify),
		get("/trigger-status"): generichttp.GetString(s.TriggerStatus),

		post("/run"):       Do(s.Run),
		post("/stop"):      Do(s.Stop),
		post("/single"):    Do(s.Single),
		post("/force"):     Do(s.ForceTrigger),
		post("/autoscale"): Do(s.Autoscale),
		post("/clear"):     Do(s.Clear),
		post("/reset"):     Do(s.Reset),

		get("/settings/acquire"):           generichttp.GetJSON(s.AcquireSettings),
		get("/settings/channel/{n}"):       GetIndexedSettings(s.ChannelSettings),
		get("/settings/display"):           generichttp.GetJSON(s.DisplaySettings),
		get("/settings/trigger"):           GetTriggerSettings(s),
		get("/settings/timebase"):          generichttp.GetJSON(s.TimebaseSettings),
		get("/settings/waveform"):          generichttp.GetJSON(s.WaveformSettings),
		get("/settings/measure-threshold"): generichttp.GetJSON(s.MeasureThresholdSettings),
		get("/settings/cursor"):            generichttp.GetJSON(s.CursorSettings),
		get("/settings/math"):              generichttp.GetJSON(s.MathSettings),
		get("/settings/reference/{n}"):     GetIndexedSettings(s.ReferenceSettings),
		get("/settings/mask"):              generichttp.GetJSON(s.MaskSettings),
		get("/settings/decoder/{n}"):       GetIndexedSettings(s.DecoderSettings),
		post("/settings"):                  ApplySettings(s),

		post("/reference/{n}/save"): SaveReference(s),
		post("/mask/create"):        CreateMask(s),

		get("/acquire/depth"):  generichttp.GetInt(s.GetMemoryDepth),
		post("/acquire/depth"): generichttp.SetInt(s.SetMemoryDepth),
		get("/acquire/mode"):   generichttp.GetString(s.GetAcqMode),
		post("/acquire/mode"):  generichttp.SetString(s.SetAcqMode),
		get("/acquire/srate"):  generichttp.GetFloat(s.GetSampleRate),
		get("/timebase"):       generichttp.GetFloat(s.GetTimebase),
		post("/timebase"):      generichttp.SetFloat(s.SetTimebase),
		post("/trigger/sweep"): generichttp.SetString(s.SetTriggerSweep),
		post("/trigger/edge"):  SetEdgeTrigger(s),
		post("/math/display"):  generichttp.SetBool(s.SetMathDisplay),

		get("/channel/{n}/scale"): indexed(func(n int) http.HandlerFunc {
			return generichttp.GetFloat(func() (float64, error) { return s.GetScale(n) })
		}),
		post("/channel/{n}/scale"): indexed(func(n int) http.HandlerFunc {
			return generichttp.SetFloat(func(f float64) error { return s.SetScale(n, f) })
		}),
		get("/channel/{n}/offset"): indexed(func(n int) http.HandlerFunc {
			return generichttp.GetFloat(func() (float64, error) { return s.GetOffset(n) })
		}),
		post("/channel/{n}/offset"): indexed(func(n int) http.HandlerFunc {
			return generichttp.SetFloat(func(f float64) error { return s.SetOffset(n, f) })
		}),
		get("/channel/{n}/display"): indexed(func(n int) http.HandlerFunc {
			return generichttp.GetBool(func() (bool, error) { return s.GetDisplay(n) })
		}),
		post("/channel/{n}/display"): indexed(func(n int) http.HandlerFunc {
			return generichttp.SetBool(func(on bool) error { return s.SetDisplay(n, on) })
		}),
		post("/channel/{n}/bandwidth-limit"): indexed(func(n int) http.HandlerFunc {
			return generichttp.SetBool(func(on bool) error { return s.SetBandwidthLimit(n, on) })
		}),

		get("/measure"):    Measure(s),
		get("/measure2"):   MeasurePair(s),
		get("/waveform"):   GetWaveform(s, rec),
		get("/screenshot"): GetScreenshot(s),
	}
	ascii.InjectRawComm(rt, s)
	for mp, fn := range rt {
		rt[mp] = h.wrap(mp, fn)
	}
	h.RouteTable = rt
	if rec != nil {
		recorder.Inject(h, rec)
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h *HTTPScope) RT() generichttp.RouteTable {
	return h.RouteTable
}

// wrap serializes fn against the other routes and reports it to the metrics
func (h *HTTPScope) wrap(mp generichttp.MethodPath, fn http.HandlerFunc) http.HandlerFunc {
	route := mp.Method + " " + mp.Path
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			fn(ww, r)
		}()
		if h.metrics == nil {
			return
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		status := strconv.Itoa(code)
		h.metrics.Requests.WithLabelValues(route, status).Inc()
		h.metrics.Duration.WithLabelValues(route, status).Observe(time.Since(start).Seconds())
	}
}

// encodings maps the waveform encodings to their content types
var encodings = map[string]string{
	"json": "application/json",
	"csv":  "text/csv",
	"fits": "image/fits",
}

func init() {
	generichttp.RegisterStatus(rigol.ErrInvalidArgument, http.StatusBadRequest)
	generichttp.RegisterStatus(rigol.ErrModeNotInstalled, http.StatusNotImplemented)
}

// list gathers a repeatable, comma separated query parameter
func list(q []string) []string {
	var out []string
	for _, v := range q {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// boolParam parses a boolean query parameter, returning def when absent
func boolParam(r *http.Request, key string, def bool) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, errors.Wrapf(rigol.ErrInvalidArgument, "%s=%q", key, v)
	}
	return b, nil
}

// indexed parses the {n} URL parameter and serves the handler fn builds for it
func indexed(fn func(n int) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "n")
		n, err := strconv.Atoi(raw)
		if err != nil {
			generichttp.Error(w, errors.Wrapf(rigol.ErrInvalidArgument, "index %q", raw))
			return
		}
		fn(n)(w, r)
	}
}

// Do calls fcn and replies 200 when it succeeds
func Do(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fcn(); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetIndexedSettings reads settings of the group numbered by the {n} URL parameter
func GetIndexedSettings(fcn func(int) (rigol.Settings, error)) http.HandlerFunc {
	return indexed(func(n int) http.HandlerFunc {
		return generichttp.GetJSON(func() (rigol.Settings, error) { return fcn(n) })
	})
}

// GetTriggerSettings reads the settings of the trigger mode in the mode
// query parameter, or of the current mode when it is absent
func GetTriggerSettings(s *rigol.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("mode")
		generichttp.GetJSON(func() (rigol.Settings, error) { return s.TriggerSettings(mode) })(w, r)
	}
}

// ApplySettings writes a JSON object of settings to the instrument
func ApplySettings(s *rigol.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set := rigol.Settings{}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		err := dec.Decode(&set)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.Apply(set); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// EdgeTrigger is the body of POST /trigger/edge
type EdgeTrigger struct {
	Source string  `json:"source"`
	Level  float64 `json:"level"`
	Slope  string  `json:"slope"`
}

// SetEdgeTrigger switches to an edge trigger described by a JSON EdgeTrigger
func SetEdgeTrigger(s *rigol.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		et := EdgeTrigger{}
		err := json.NewDecoder(r.Body).Decode(&et)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if et.Slope == "" {
			et.Slope = "POS"
		}
		Do(func() error { return s.SetEdgeTrigger(et.Source, et.Level, et.Slope) })(w, r)
	}
}

// SaveReference stores the displayed waveform in reference slot {n}
func SaveReference(s *rigol.Scope) http.HandlerFunc {
	return indexed(func(n int) http.HandlerFunc {
		return Do(func() error { return s.SaveReference(n) })
	})
}

// CreateMask creates a pass/fail mask, or only resets the statistics when
// reset-only is true
func CreateMask(s *rigol.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resetOnly, err := boolParam(r, "reset-only", false)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		Do(func() error { return s.CreateMask(resetOnly) })(w, r)
	}
}

// Measure reads measurement items on one source.  Query parameters are
// source, item (repeatable or comma separated, all items when absent) and
// clear.
func Measure(s *rigol.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		clear, err := boolParam(r, "clear", false)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		m, err := s.MeasureItem(q.Get("source"), list(q["item"]), clear)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		server.WriteJSON(w, m)
	}
}

// MeasurePair reads delay and phase items between source1 and source2
func MeasurePair(s *rigol.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		clear, err := boolParam(r, "clear", false)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		m, err := s.MeasureItemPair(q.Get("source1"), q.Get("source2"), list(q["item"]), clear)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		server.WriteJSON(w, m)
	}
}

// GetWaveform downloads one or more sources.  Query parameters are source
// (repeatable or comma separated, CHAN1 when absent), mode, format, hidden
// and encoding, one of json (default), csv or fits.  rec may be nil.
func GetWaveform(s *rigol.Scope, rec *recorder.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sources := list(q["source"])
		if len(sources) == 0 {
			sources = []string{"CHAN1"}
		}
		hidden, err := boolParam(r, "hidden", false)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		encoding := strings.ToLower(q.Get("encoding"))
		if encoding == "" {
			encoding = "json"
		}
		contentType, ok := encodings[encoding]
		if !ok {
			http.Error(w, "encoding must be json, csv or fits", http.StatusBadRequest)
			return
		}
		wf, err := s.Acquire(sources, q.Get("mode"), q.Get("format"), hidden)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		buf := &bytes.Buffer{}
		switch encoding {
		case "json":
			err = json.NewEncoder(buf).Encode(wf)
		case "csv":
			err = wf.EncodeCSV(buf)
		case "fits":
			err = wf.EncodeFITS(buf)
		}
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		if rec != nil {
			fn, err := rec.Record(buf.Bytes(), "."+encoding)
			if err != nil {
				log.Warning("recording waveform: %v", err)
			} else if fn != "" {
				log.Debug("recorded %s", fn)
			}
		}
		hdr := w.Header()
		hdr.Set("Content-Type", contentType)
		if encoding != "json" {
			hdr.Set("Content-Disposition", "attachment; filename=waveform."+encoding)
		}
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// GetScreenshot replies with an image of the screen.  Query parameters are
// color (default true), invert and format (bmp, png or tiff).
func GetScreenshot(s *rigol.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		color, err := boolParam(r, "color", true)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		invert, err := boolParam(r, "invert", false)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		img, err := s.Screenshot(color, invert, r.URL.Query().Get("format"))
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(img))
		w.WriteHeader(http.StatusOK)
		w.Write(img)
	}
}
