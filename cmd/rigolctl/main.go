// Command rigolctl talks to a Rigol DS1000Z or MSO1000Z oscilloscope from
// the command line.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/benchlab/rigolab/comm"
	"github.com/benchlab/rigolab/log"
	"github.com/benchlab/rigolab/rigol"
	"github.com/benchlab/rigolab/visa"
)

const (
	ResourceOptionName    = "resource"
	TimeoutOptionName     = "timeout"
	LogLevelOptionName    = "log-level"
	RateOptionName        = "rate"
	GPIBAdapterOptionName = "gpib-adapter"
	BaudOptionName        = "baud"

	// ResourceEnv is read when --resource is not given
	ResourceEnv = "RIGOL_RESOURCE"
)

// globals holds the persistent flags
type globals struct {
	resource    string
	timeout     time.Duration
	logLevel    string
	rate        time.Duration
	gpibAdapter string
	baud        int
}

// open connects to the instrument named by the flags; replaced in tests
var open = func(g *globals) (*rigol.Scope, error) {
	if g.resource == "" {
		return nil, errors.Errorf("no instrument, use --%s or set %s", ResourceOptionName, ResourceEnv)
	}
	maker, err := visa.Maker(g.resource, visa.Options{
		Timeout:     g.timeout,
		Baud:        g.baud,
		GPIBAdapter: g.gpibAdapter,
	})
	if err != nil {
		return nil, err
	}
	s := rigol.NewScope(comm.NewPool(1, time.Minute, maker), true)
	if g.timeout > 0 {
		s.Timeout = g.timeout
	}
	if g.rate > 0 {
		s.Limiter = rate.NewLimiter(rate.Every(g.rate), 1)
	}
	if _, err := s.Identify(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// withScope opens the instrument, runs fn and closes it again
func (g *globals) withScope(fn func(s *rigol.Scope) error) error {
	s, err := open(g)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// NewRootCommand builds the command tree
func NewRootCommand(out io.Writer) *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "rigolctl",
		Short:         "Tool to work with Rigol DS1000Z and MSO1000Z oscilloscopes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.resource == "" {
				g.resource = os.Getenv(ResourceEnv)
			}
			return log.Init(cmd.ErrOrStderr(), g.logLevel)
		},
	}
	cmd.SetOut(out)
	flags := cmd.PersistentFlags()
	flags.StringVarP(&g.resource, ResourceOptionName, "r", "", "VISA resource, e.g. TCPIP0::192.168.1.100::INSTR")
	flags.DurationVar(&g.timeout, TimeoutOptionName, rigol.DefaultTimeout, "Timeout of each request")
	flags.StringVar(&g.logLevel, LogLevelOptionName, "warning", fmt.Sprintf("Log level. %s", log.HelpLevels))
	flags.DurationVar(&g.rate, RateOptionName, 0, "Minimum interval between commands, 0 for none")
	flags.StringVar(&g.gpibAdapter, GPIBAdapterOptionName, "", "Serial device of the Prologix adapter for GPIB resources")
	flags.IntVar(&g.baud, BaudOptionName, 0, "Baud rate for ASRL resources")

	cmd.AddCommand(NewDiscoverCommand())
	cmd.AddCommand(NewIdnCommand(g))
	cmd.AddCommand(NewSettingsCommand(g))
	cmd.AddCommand(NewApplyCommand(g))
	cmd.AddCommand(NewMeasureCommand(g))
	cmd.AddCommand(NewWaveformCommand(g))
	cmd.AddCommand(NewScreenshotCommand(g))
	cmd.AddCommand(NewRawCommand(g))
	for _, c := range NewControlCommands(g) {
		cmd.AddCommand(c)
	}
	return cmd
}

func main() {
	if err := NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
