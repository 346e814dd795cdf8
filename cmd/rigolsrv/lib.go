package main

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/benchlab/rigolab/comm"
	"github.com/benchlab/rigolab/generichttp"
	"github.com/benchlab/rigolab/generichttp/scope"
	"github.com/benchlab/rigolab/log"
	"github.com/benchlab/rigolab/recorder"
	"github.com/benchlab/rigolab/rigol"
	"github.com/benchlab/rigolab/server/middleware/locker"
	"github.com/benchlab/rigolab/visa"
)

// Node is one instrument served by rigolsrv
type Node struct {
	// Resource is the VISA resource string of the instrument,
	// e.g. TCPIP0::192.168.1.100::INSTR
	Resource string `yaml:"Resource"`

	// Endpoint is the full path the routes from this instrument will be served on
	// ex. Endpoint="bench/scope" will produce routes of /bench/scope/idn, etc.
	Endpoint string `yaml:"Endpoint"`

	// Timeout bounds each request to the instrument.  Zero uses the driver default
	Timeout time.Duration `yaml:"Timeout"`

	// MinCommandInterval spaces commands apart.  Zero means no pacing
	MinCommandInterval time.Duration `yaml:"MinCommandInterval"`

	// Handshaking waits for every command and drains the error queue after it
	Handshaking bool `yaml:"Handshaking"`

	// GPIBAdapter is the serial device of a Prologix adapter, for GPIB resources
	GPIBAdapter string `yaml:"GPIBAdapter"`

	// Baud is the baud rate for ASRL resources
	Baud int `yaml:"Baud"`

	// RecordRoot, when set, is the folder every served waveform is also
	// saved under, in dated subfolders
	RecordRoot string `yaml:"RecordRoot"`

	// RecordPrefix starts the names of recorded files
	RecordPrefix string `yaml:"RecordPrefix"`
}

// Config is a struct that holds the server setup.  It is populated by koanf.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// LogLevel is one of error, warning, info, debug
	LogLevel string `yaml:"LogLevel"`

	// Metrics exposes /metrics when true
	Metrics bool `yaml:"Metrics"`

	// Nodes is the list of nodes to set up
	Nodes []Node `yaml:"Nodes"`
}

// openNode builds the scope for a node without talking to it, so the server
// comes up when an instrument is switched off
func openNode(n Node) (*rigol.Scope, error) {
	maker, err := visa.Maker(n.Resource, visa.Options{
		Timeout:     n.Timeout,
		Baud:        n.Baud,
		GPIBAdapter: n.GPIBAdapter,
	})
	if err != nil {
		return nil, err
	}
	s := rigol.NewScope(comm.NewPool(1, time.Hour, maker), n.Handshaking)
	if n.Timeout > 0 {
		s.Timeout = n.Timeout
	}
	if n.MinCommandInterval > 0 {
		s.Limiter = rate.NewLimiter(rate.Every(n.MinCommandInterval), 1)
	}
	return s, nil
}

// Bench is the router serving every node, and the scopes behind it
type Bench struct {
	chi.Router

	scopes []*rigol.Scope
}

// Close releases the connections of every scope
func (b *Bench) Close() error {
	var errs error
	for _, s := range b.scopes {
		errs = multierr.Append(errs, s.Close())
	}
	return errs
}

// mount adds the routes of one node under stem and returns their list
func (b *Bench) mount(stem string, node Node, metrics *scope.Metrics) ([]string, error) {
	s, err := openNode(node)
	if err != nil {
		return nil, errors.Wrapf(err, "node %s", stem)
	}
	b.scopes = append(b.scopes, s)
	if id, err := s.Identify(); err != nil {
		log.Warning("%s (%s) did not identify, will retry on request: %v", stem, node.Resource, err)
	} else {
		log.Info("%s serves %s", stem, id.IDN)
	}
	var rec *recorder.Recorder
	if node.RecordRoot != "" {
		rec = &recorder.Recorder{Root: node.RecordRoot, Prefix: node.RecordPrefix, Enabled: true}
	}
	h := scope.NewHTTPScope(s, metrics, rec)
	lock := locker.New()
	locker.Inject(h, lock)

	r := chi.NewRouter()
	r.Use(lock.Check)
	h.RT().Bind(r)
	b.Mount(stem, r)
	return h.RT().Endpoints(), nil
}

// BuildBench opens every node of c and mounts its routes at its endpoint.
// GET /endpoints lists the routes of each node by stem, and /metrics is
// served when c.Metrics is set.  Instruments are not required to answer.
func BuildBench(c Config) (*Bench, error) {
	if len(c.Nodes) == 0 {
		return nil, errors.New("no endpoints configured, see rigolsrv help")
	}
	var metrics *scope.Metrics
	if c.Metrics {
		var err error
		metrics, err = scope.NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, err
		}
	}
	b := &Bench{Router: chi.NewRouter()}
	b.Use(middleware.Logger)
	graph := map[string][]string{}
	for _, node := range c.Nodes {
		stem := generichttp.SubMuxSanitize(node.Endpoint)
		if _, dup := graph[stem]; dup {
			b.Close()
			return nil, errors.Errorf("endpoint %s is used by more than one node", stem)
		}
		routes, err := b.mount(stem, node, metrics)
		if err != nil {
			b.Close()
			return nil, err
		}
		graph[stem] = routes
	}
	b.Get("/endpoints", generichttp.GetJSON(func() (map[string][]string, error) {
		return graph, nil
	}))
	if c.Metrics {
		b.Handle("/metrics", promhttp.Handler())
	}
	return b, nil
}
