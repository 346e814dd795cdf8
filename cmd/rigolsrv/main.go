package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"

	yml "gopkg.in/yaml.v2"

	"github.com/benchlab/rigolab/log"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "rigolsrv.yml"

	// EnvPrefix starts the environment variables that override the file
	EnvPrefix = "RIGOLSRV_"
)

// envKey maps RIGOLSRV_LOGLEVEL to LogLevel.  Other variables are ignored.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	for _, key := range []string{"Addr", "LogLevel", "Metrics"} {
		if strings.EqualFold(key, s) {
			return key
		}
	}
	return ""
}

// loadConfig layers the defaults, the config file if there is one, and the
// environment
func loadConfig() (Config, error) {
	c := Config{}
	k := koanf.New(".")
	defaults := Config{Addr: ":8000", LogLevel: "info", Metrics: true, Nodes: []Node{}}
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return c, err
	}
	if _, err := os.Stat(ConfigFileName); err == nil {
		if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
			return c, errors.Wrapf(err, "loading %s", ConfigFileName)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return c, errors.Wrap(err, "loading environment")
	}
	err := k.Unmarshal("", &c)
	return c, err
}

func root() {
	str := `rigolsrv exposes Rigol DS1000Z and MSO1000Z oscilloscopes over HTTP.
Each instrument is mounted at its own endpoint, and a client in any language
can drive it with plain HTTP and JSON.

Usage:
	rigolsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `rigolsrv is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

Addr, LogLevel and Metrics may also be set through the environment, e.g.
RIGOLSRV_ADDR=:9000.

Each entry of Nodes is one instrument:
	Resource            VISA resource string, one of
	                    USB0::0x1AB1::0x04CE::DS1ZA000000001::INSTR
	                    TCPIP0::192.168.1.100::INSTR
	                    TCPIP0::192.168.1.100::5555::SOCKET
	                    GPIB0::7::INSTR
	                    ASRL1::INSTR
	Endpoint            URL stem the routes are served under, e.g. "bench/scope"
	Timeout             per request timeout, e.g. 20s
	MinCommandInterval  minimum spacing of commands, e.g. 10ms
	Handshaking         wait for each command and check the error queue
	GPIBAdapter         serial device of the Prologix adapter for GPIB resources
	Baud                baud rate for ASRL resources
	RecordRoot          folder every served waveform is also saved under
	RecordPrefix        file name prefix of recorded waveforms

No two endpoints can have the same URL.

GET /endpoints lists the routes of every node.  GET /metrics serves request
counters and latencies when Metrics is true.`
	fmt.Println(str)
}

func mkconf(c Config) error {
	if len(c.Nodes) == 0 {
		c.Nodes = []Node{{
			Resource:    "TCPIP0::192.168.1.100::INSTR",
			Endpoint:    "scope",
			Timeout:     20 * time.Second,
			Handshaking: true,
		}}
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return yml.NewEncoder(f).Encode(c)
}

func printconf(c Config) error {
	return yml.NewEncoder(os.Stdout).Encode(c)
}

func pversion(Config) error {
	fmt.Printf("rigolsrv version %v\n", Version)
	return nil
}

// run serves until SIGINT or SIGTERM, then drains open requests and closes
// the instruments
func run(c Config) error {
	if err := log.SetLevel(c.LogLevel); err != nil {
		return err
	}
	bench, err := BuildBench(c)
	if err != nil {
		return err
	}
	defer bench.Close()
	srv := &http.Server{Addr: c.Addr, Handler: bench}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errC := make(chan error, 1)
	go func() {
		log.Info("now listening for requests at %s", c.Addr)
		errC <- srv.ListenAndServe()
	}()
	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}

var commands = map[string]func(Config) error{
	"help":    func(Config) error { help(); return nil },
	"mkconf":  mkconf,
	"conf":    printconf,
	"run":     run,
	"version": pversion,
}

func main() {
	if len(os.Args) == 1 {
		root()
		return
	}
	name := strings.ToLower(os.Args[1])
	cmd, ok := commands[name]
	if !ok {
		log.Fatal("unknown command %q", name)
	}
	c, err := loadConfig()
	if err != nil {
		log.Fatal("%v", err)
	}
	if err := cmd(c); err != nil {
		log.Fatal("%v", err)
	}
}
