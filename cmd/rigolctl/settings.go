package main

import (
	"io/ioutil"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	yml "gopkg.in/yaml.v2"

	"github.com/benchlab/rigolab/rigol"
)

const ModeOptionName = "mode"

// settingsGroups maps group names to readers.  n is the channel, reference
// or decoder number for the groups that take one, mode the trigger mode.
var settingsGroups = map[string]func(s *rigol.Scope, n int, mode string) (rigol.Settings, error){
	"acquire":           func(s *rigol.Scope, _ int, _ string) (rigol.Settings, error) { return s.AcquireSettings() },
	"channel":           func(s *rigol.Scope, n int, _ string) (rigol.Settings, error) { return s.ChannelSettings(n) },
	"cursor":            func(s *rigol.Scope, _ int, _ string) (rigol.Settings, error) { return s.CursorSettings() },
	"decoder":           func(s *rigol.Scope, n int, _ string) (rigol.Settings, error) { return s.DecoderSettings(n) },
	"display":           func(s *rigol.Scope, _ int, _ string) (rigol.Settings, error) { return s.DisplaySettings() },
	"mask":              func(s *rigol.Scope, _ int, _ string) (rigol.Settings, error) { return s.MaskSettings() },
	"math":              func(s *rigol.Scope, _ int, _ string) (rigol.Settings, error) { return s.MathSettings() },
	"measure-threshold": func(s *rigol.Scope, _ int, _ string) (rigol.Settings, error) { return s.MeasureThresholdSettings() },
	"reference":         func(s *rigol.Scope, n int, _ string) (rigol.Settings, error) { return s.ReferenceSettings(n) },
	"timebase":          func(s *rigol.Scope, _ int, _ string) (rigol.Settings, error) { return s.TimebaseSettings() },
	"trigger":           func(s *rigol.Scope, _ int, mode string) (rigol.Settings, error) { return s.TriggerSettings(mode) },
	"waveform":          func(s *rigol.Scope, _ int, _ string) (rigol.Settings, error) { return s.WaveformSettings() },
}

func groupNames() []string {
	names := make([]string, 0, len(settingsGroups))
	for k := range settingsGroups {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// readSettings reads a group, n defaults to 1
func readSettings(s *rigol.Scope, args []string, mode string) (rigol.Settings, error) {
	read, ok := settingsGroups[strings.ToLower(args[0])]
	if !ok {
		return nil, errors.Errorf("unknown group %q, must be one of %s", args[0], strings.Join(groupNames(), ", "))
	}
	n := 1
	if len(args) > 1 {
		var err error
		if n, err = strconv.Atoi(args[1]); err != nil {
			return nil, errors.Wrapf(rigol.ErrInvalidArgument, "index %q", args[1])
		}
	}
	return read(s, n, mode)
}

// NewIdnCommand prints the identity of the instrument
func NewIdnCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "idn",
		Short: "Identify the instrument",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withScope(func(s *rigol.Scope) error {
				id, err := s.Identify()
				if err != nil {
					return err
				}
				return yml.NewEncoder(cmd.OutOrStdout()).Encode(id)
			})
		},
	}
}

// NewSettingsCommand prints a settings group as YAML
func NewSettingsCommand(g *globals) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "settings <group> [n]",
		Short: "Print a settings group as YAML",
		Long:  "Print a settings group as YAML.  Groups are " + strings.Join(groupNames(), ", ") + ".",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withScope(func(s *rigol.Scope) error {
				set, err := readSettings(s, args, mode)
				if err != nil {
					return err
				}
				return yml.NewEncoder(cmd.OutOrStdout()).Encode(set)
			})
		},
	}
	cmd.Flags().StringVar(&mode, ModeOptionName, "", "Trigger mode, the current one when empty")
	return cmd
}

// loadSettings reads a YAML file of settings, as printed by the settings command
func loadSettings(path string) (rigol.Settings, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	set := rigol.Settings{}
	if err := yml.Unmarshal(b, &set); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return set, nil
}

// NewApplyCommand writes the writable entries of YAML files to the instrument
func NewApplyCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file.yml>...",
		Short: "Write settings from YAML files to the instrument",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set := rigol.Settings{}
			for _, path := range args {
				other, err := loadSettings(path)
				if err != nil {
					return err
				}
				set.Merge(other)
			}
			return g.withScope(func(s *rigol.Scope) error {
				err := s.Apply(set)
				for _, e := range multierr.Errors(err) {
					cmd.PrintErrln(e)
				}
				if err != nil {
					return errors.Errorf("%d of %d settings rejected", len(multierr.Errors(err)), len(set.Writable()))
				}
				return nil
			})
		},
	}
}
