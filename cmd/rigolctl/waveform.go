package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/benchlab/rigolab/oscilloscope"
	"github.com/benchlab/rigolab/rigol"
)

const (
	SourceOptionName = "source"
	FormatOptionName = "format"
	HiddenOptionName = "hidden"
	OutputOptionName = "output"
	ColorOptionName  = "color"
	InvertOptionName = "invert"
)

// encodeWaveform writes wf in the encoding named by the extension of path,
// csv, fits or json
func encodeWaveform(w io.Writer, wf oscilloscope.Waveform, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", "":
		return wf.EncodeCSV(w)
	case ".fits", ".fit", ".fts":
		return wf.EncodeFITS(w)
	case ".json":
		return json.NewEncoder(w).Encode(wf)
	default:
		return errors.Errorf("cannot tell the encoding of %s, use .csv, .fits or .json", path)
	}
}

// writeOutput writes b to path, or to w when path is - or empty
func writeOutput(w io.Writer, path string, b []byte) error {
	if path == "" || path == "-" {
		_, err := w.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// NewWaveformCommand downloads waveforms to a file
func NewWaveformCommand(g *globals) *cobra.Command {
	var (
		sources   []string
		mode      string
		format    string
		hidden    bool
		output    string
		noSpinner bool
	)
	cmd := &cobra.Command{
		Use:   "waveform",
		Short: "Download waveforms as CSV, FITS or JSON",
		Long: `Download waveforms as CSV, FITS or JSON, chosen by the extension of --output.
CSV is written to stdout when no output is given.

--mode is NORM (the screen), RAW (the memory, stopped scopes only) or MAX
(RAW when stopped, NORM otherwise).  --format is BYTE, WORD or ASCii.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "-" {
				output = ""
			}
			return g.withScope(func(s *rigol.Scope) error {
				spin := newStatus(cmd.ErrOrStderr(), "acquiring", noSpinner || output == "")
				spin.Message(strings.Join(sources, ", "))
				wf, err := s.Acquire(sources, mode, format, hidden)
				if err != nil {
					spin.StopFail()
					return err
				}
				buf := &bytes.Buffer{}
				if err := encodeWaveform(buf, wf, output); err != nil {
					spin.StopFail()
					return err
				}
				spin.Stop()
				return writeOutput(cmd.OutOrStdout(), output, buf.Bytes())
			})
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVarP(&sources, SourceOptionName, "s", []string{"CHAN1"}, "Sources, CHAN<n>, D<n> or MATH")
	flags.StringVar(&mode, ModeOptionName, "", "Waveform mode, NORM, RAW or MAX")
	flags.StringVar(&format, FormatOptionName, "", "Transfer format, BYTE, WORD or ASCii")
	flags.BoolVar(&hidden, HiddenOptionName, false, "Include the memory outside the screen in RAW mode")
	flags.StringVarP(&output, OutputOptionName, "o", "", "Output file, .csv .fits or .json")
	flags.BoolVar(&noSpinner, NoSpinnerOptionName, false, "Do not show progress")
	return cmd
}

// NewScreenshotCommand saves an image of the screen
func NewScreenshotCommand(g *globals) *cobra.Command {
	var (
		output string
		format string
		color  bool
		invert bool
	)
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Save an image of the screen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				switch strings.ToLower(filepath.Ext(output)) {
				case ".png":
					format = "PNG"
				case ".tif", ".tiff":
					format = "TIFF"
				default:
					format = "BMP"
				}
			}
			return g.withScope(func(s *rigol.Scope) error {
				img, err := s.Screenshot(color, invert, format)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), output, img)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&output, OutputOptionName, "o", "screen.bmp", "Output file, - for stdout")
	flags.StringVar(&format, FormatOptionName, "", "Image format, BMP, PNG or TIFF; taken from the output file when empty")
	flags.BoolVar(&color, ColorOptionName, true, "Color image")
	flags.BoolVar(&invert, InvertOptionName, false, "Invert the colors")
	return cmd
}
