package rigol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/benchlab/rigolab/log"
)

// DisplaySettings reads the :DISPlay subsystem
func (s *Scope) DisplaySettings() (Settings, error) {
	r := newReader(s)
	r.str(":DISPlay:TYPE")
	r.str(":DISPlay:GRADing:TIME")
	r.str(":DISPlay:GRID")
	r.int(":DISPlay:GBRightness")
	r.int(":DISPlay:WBRightness")
	return r.result()
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// Screenshot returns an image of the screen.  format is BMP, PNG or TIFF;
// BMP is sent as 24 bit color or 8 bit gray.  Firmware that does not take
// arguments to :DISP:DATA? returns its default format instead.
func (s *Scope) Screenshot(color, invert bool, format string) ([]byte, error) {
	format = strings.ToUpper(format)
	switch format {
	case "":
		format = "BMP"
	case "BMP", "PNG", "TIFF":
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "image format %q", format)
	}
	if format == "BMP" {
		if color {
			format = "BMP24"
		} else {
			format = "BMP8"
		}
	}
	img, err := s.ReadBlock(fmt.Sprintf(":DISP:DATA? %s,%s,%s", onOff(color), onOff(invert), format))
	if err == nil {
		return img, nil
	}
	log.Info("screenshot with arguments failed, retrying plain: %v", err)
	return s.ReadBlock(":DISP:DATA?")
}
