package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	yml "gopkg.in/yaml.v2"

	"github.com/benchlab/rigolab/rigol"
)

const (
	ItemOptionName  = "item"
	ClearOptionName = "clear"
)

// NewControlCommands makes one command per front panel key
func NewControlCommands(g *globals) []*cobra.Command {
	keys := []struct {
		use, short string
		fn         func(s *rigol.Scope) error
	}{
		{"run", "Start acquisition", (*rigol.Scope).Run},
		{"stop", "Stop acquisition", (*rigol.Scope).Stop},
		{"single", "Arm a single trigger", (*rigol.Scope).Single},
		{"force", "Force a trigger", (*rigol.Scope).ForceTrigger},
		{"autoscale", "Autoscale the display", (*rigol.Scope).Autoscale},
	}
	out := make([]*cobra.Command, len(keys))
	for i, k := range keys {
		fn := k.fn
		out[i] = &cobra.Command{
			Use:   k.use,
			Short: k.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return g.withScope(fn)
			},
		}
	}
	return out
}

// NewRawCommand sends a command and prints the reply of queries
func NewRawCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <command>",
		Short: "Send a SCPI command, printing the reply of queries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withScope(func(s *rigol.Scope) error {
				resp, err := s.Raw(strings.Join(args, " "))
				if err != nil {
					return err
				}
				if resp != "" {
					fmt.Fprintln(cmd.OutOrStdout(), resp)
				}
				return nil
			})
		},
	}
}

// NewMeasureCommand reads measurement items of one or two sources
func NewMeasureCommand(g *globals) *cobra.Command {
	var (
		items []string
		clear bool
	)
	cmd := &cobra.Command{
		Use:   "measure <source> [source2]",
		Short: "Measure items on a source, or delay and phase between two",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withScope(func(s *rigol.Scope) error {
				var (
					m   rigol.Measurements
					err error
				)
				if len(args) == 2 {
					m, err = s.MeasureItemPair(args[0], args[1], items, clear)
				} else {
					m, err = s.MeasureItem(args[0], items, clear)
				}
				if err != nil {
					return err
				}
				return printMeasurements(cmd, m)
			})
		},
	}
	cmd.Flags().StringSliceVar(&items, ItemOptionName, nil, "Items to measure, all when empty")
	cmd.Flags().BoolVar(&clear, ClearOptionName, false, "Clear the on-screen measurements afterwards")
	return cmd
}

// printMeasurements writes items in order as YAML, null for failed ones
func printMeasurements(cmd *cobra.Command, m rigol.Measurements) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ms := yml.MapSlice{}
	for _, k := range keys {
		var v interface{}
		if m[k] != nil {
			v = *m[k]
		}
		ms = append(ms, yml.MapItem{Key: k, Value: v})
	}
	return yml.NewEncoder(cmd.OutOrStdout()).Encode(ms)
}
