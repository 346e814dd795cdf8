package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/benchlab/rigolab/log"
	"github.com/benchlab/rigolab/rigol"
	"github.com/benchlab/rigolab/visa"
)

const (
	AllOptionName         = "all"
	PrefixBytesOptionName = "prefix-bytes"
	NoSpinnerOptionName   = "no-spinner"
)

// status reports progress of a long operation
type status interface {
	Message(string)
	Stop() error
	StopFail() error
}

// quiet is a status that says nothing
type quiet struct{}

func (quiet) Message(string)  {}
func (quiet) Stop() error     { return nil }
func (quiet) StopFail() error { return nil }

// newStatus starts a spinner on w, or returns quiet when disabled or the
// spinner cannot be created
func newStatus(w io.Writer, suffix string, disabled bool) status {
	if disabled {
		return quiet{}
	}
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + suffix,
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		Writer:            w,
	})
	if err != nil {
		log.Debug("no spinner: %v", err)
		return quiet{}
	}
	if err := spinner.Start(); err != nil {
		log.Debug("no spinner: %v", err)
		return quiet{}
	}
	return spinner
}

// Discovered is what discover prints
type Discovered struct {
	Instruments []rigol.Candidate `yaml:"Instruments"`
	SerialPorts []string          `yaml:"SerialPorts,omitempty"`
}

// NewDiscoverCommand finds instruments on USB and the LAN and lists the USB
// serial ports a Prologix GPIB adapter could sit on
func NewDiscoverCommand() *cobra.Command {
	var (
		all         bool
		prefixBytes int
		noSpinner   bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find oscilloscopes on USB and the local networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			spin := newStatus(cmd.ErrOrStderr(), "discovering", noSpinner)
			notify := func(resource, idn string, err error) {
				if err == nil {
					spin.Message("found " + resource)
				} else {
					spin.Message("probed " + resource)
				}
			}
			out := Discovered{}
			spin.Message("USB")
			found, err := rigol.DiscoverUSB(notify)
			if err != nil {
				log.Warning("USB discovery: %v", err)
			}
			out.Instruments = append(out.Instruments, found...)
			if all || len(out.Instruments) == 0 {
				opts := visa.ScanOptions{
					PrefixBytes: prefixBytes,
					Progress: func(done, total int) {
						if done%64 == 0 || done == total {
							spin.Message(fmt.Sprintf("LAN %d/%d", done, total))
						}
					},
				}
				found, err = rigol.DiscoverLAN(context.Background(), opts, notify)
				if err != nil {
					spin.StopFail()
					return err
				}
				out.Instruments = append(out.Instruments, found...)
			}
			ports, err := visa.ListSerial()
			if err != nil {
				log.Warning("serial ports: %v", err)
			}
			for _, p := range ports {
				out.SerialPorts = append(out.SerialPorts, p.SerialPath())
			}
			if len(out.Instruments) == 0 {
				spin.StopFail()
			} else {
				spin.Stop()
			}
			return yml.NewEncoder(cmd.OutOrStdout()).Encode(out)
		},
	}
	cmd.Flags().BoolVar(&all, AllOptionName, false, "Scan the LAN even when instruments were found on USB")
	cmd.Flags().IntVar(&prefixBytes, PrefixBytesOptionName, 3, "Leading octets that define each local network")
	cmd.Flags().BoolVar(&noSpinner, NoSpinnerOptionName, false, "Do not show progress")
	return cmd
}
