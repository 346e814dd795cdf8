// Package visa parses VISA resource strings and turns them into connections.
//
// Only the addressing scheme of VISA is implemented.  Every resource maps
// onto a byte pipe: a raw socket, a USBTMC bulk pipe, a serial port or a
// Prologix GPIB adapter.  There is no VXI-11 or HiSLIP engine; TCPIP INSTR
// resources are served by the raw SCPI socket on port 5555.
package visa

import (
	"fmt"
	"io"
	"net"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/benchlab/rigolab/comm"
	"github.com/benchlab/rigolab/prologix"
	"github.com/benchlab/rigolab/usbtmc"
)

// Kind is the interface type of a resource
type Kind int

const (
	// TCPIPSocket is TCPIP::host::port::SOCKET
	TCPIPSocket Kind = iota
	// TCPIPInstr is TCPIP::host[::device]::INSTR
	TCPIPInstr
	// USB is USB::vid::pid::serial[::iface]::INSTR
	USB
	// ASRL is a serial port
	ASRL
	// GPIB is GPIB::addr[::secondary]::INSTR
	GPIB
)

const (
	// InstrPort is the raw SCPI socket used for TCPIP INSTR resources
	InstrPort = 5555

	// DefaultBaud is used for ASRL resources when Options.Baud is zero
	DefaultBaud = 9600
)

// ErrBadResource is returned by Parse for strings it cannot understand
var ErrBadResource = errors.New("invalid VISA resource string")

func (k Kind) String() string {
	switch k {
	case TCPIPSocket:
		return "TCPIP SOCKET"
	case TCPIPInstr:
		return "TCPIP INSTR"
	case USB:
		return "USB INSTR"
	case ASRL:
		return "ASRL INSTR"
	case GPIB:
		return "GPIB INSTR"
	}
	return "unknown"
}

// Resource is a parsed resource string
type Resource struct {
	Kind  Kind
	Board int

	// TCPIP
	Host      string
	Port      int
	LANDevice string

	// USB
	Vendor    uint16
	Product   uint16
	Serial    string
	Interface int // -1 when not given

	// ASRL, as written after the ASRL prefix
	Device string

	// GPIB
	Address   int
	Secondary int // -1 when not given
}

// Options control how a resource is opened
type Options struct {
	// Timeout is the dial timeout and, for serial ports, the read timeout
	Timeout time.Duration

	// Baud is the baud rate for ASRL resources
	Baud int

	// GPIBAdapter is the serial device of the Prologix adapter used for
	// GPIB resources, or tcp://host:port for the Ethernet model
	GPIBAdapter string
}

func splitBoard(head, prefix string) (int, error) {
	rest := head[len(prefix):]
	if rest == "" {
		return 0, nil
	}
	b, err := strconv.Atoi(rest)
	if err != nil || b < 0 {
		return 0, errors.Wrapf(ErrBadResource, "board number %q", rest)
	}
	return b, nil
}

func parseID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, errors.Wrapf(ErrBadResource, "USB id %q", s)
	}
	return uint16(v), nil
}

// Parse decodes a resource string.  Matching of the prefixes and suffixes
// is case-insensitive.
func Parse(resource string) (Resource, error) {
	r := Resource{Interface: -1, Secondary: -1}
	parts := strings.Split(strings.TrimSpace(resource), "::")
	if len(parts) < 2 {
		return r, errors.Wrapf(ErrBadResource, "%q", resource)
	}
	head := strings.ToUpper(parts[0])
	suffix := strings.ToUpper(parts[len(parts)-1])
	mid := parts[1 : len(parts)-1]
	var err error
	switch {
	case strings.HasPrefix(head, "TCPIP"):
		if r.Board, err = splitBoard(head, "TCPIP"); err != nil {
			return r, err
		}
		switch suffix {
		case "SOCKET":
			if len(mid) != 2 {
				return r, errors.Wrapf(ErrBadResource, "%q needs host and port", resource)
			}
			r.Kind = TCPIPSocket
			r.Host = mid[0]
			r.Port, err = strconv.Atoi(mid[1])
			if err != nil || r.Port <= 0 || r.Port > 65535 {
				return r, errors.Wrapf(ErrBadResource, "port %q", mid[1])
			}
		case "INSTR":
			if len(mid) < 1 || len(mid) > 2 {
				return r, errors.Wrapf(ErrBadResource, "%q", resource)
			}
			r.Kind = TCPIPInstr
			r.Host = mid[0]
			r.Port = InstrPort
			if len(mid) == 2 {
				r.LANDevice = mid[1]
			}
		default:
			return r, errors.Wrapf(ErrBadResource, "suffix %q", suffix)
		}
		if r.Host == "" {
			return r, errors.Wrapf(ErrBadResource, "%q has no host", resource)
		}
	case strings.HasPrefix(head, "USB"):
		if suffix != "INSTR" || len(mid) < 3 || len(mid) > 4 {
			return r, errors.Wrapf(ErrBadResource, "%q", resource)
		}
		if r.Board, err = splitBoard(head, "USB"); err != nil {
			return r, err
		}
		r.Kind = USB
		if r.Vendor, err = parseID(mid[0]); err != nil {
			return r, err
		}
		if r.Product, err = parseID(mid[1]); err != nil {
			return r, err
		}
		r.Serial = mid[2]
		if len(mid) == 4 {
			if r.Interface, err = strconv.Atoi(mid[3]); err != nil {
				return r, errors.Wrapf(ErrBadResource, "interface %q", mid[3])
			}
		}
	case strings.HasPrefix(head, "ASRL"):
		if suffix != "INSTR" || len(mid) != 0 {
			return r, errors.Wrapf(ErrBadResource, "%q", resource)
		}
		r.Kind = ASRL
		// keep the original case, device paths are case sensitive
		r.Device = parts[0][len("ASRL"):]
		if r.Device == "" {
			return r, errors.Wrapf(ErrBadResource, "%q has no port", resource)
		}
	case strings.HasPrefix(head, "GPIB"):
		if suffix != "INSTR" || len(mid) < 1 || len(mid) > 2 {
			return r, errors.Wrapf(ErrBadResource, "%q", resource)
		}
		if r.Board, err = splitBoard(head, "GPIB"); err != nil {
			return r, err
		}
		r.Kind = GPIB
		if r.Address, err = strconv.Atoi(mid[0]); err != nil {
			return r, errors.Wrapf(ErrBadResource, "address %q", mid[0])
		}
		if len(mid) == 2 {
			if r.Secondary, err = strconv.Atoi(mid[1]); err != nil {
				return r, errors.Wrapf(ErrBadResource, "secondary address %q", mid[1])
			}
		}
	default:
		return r, errors.Wrapf(ErrBadResource, "interface type %q", parts[0])
	}
	return r, nil
}

func board(prefix string, b int) string {
	if b == 0 {
		return prefix
	}
	return prefix + strconv.Itoa(b)
}

// String returns the canonical form of the resource
func (r Resource) String() string {
	switch r.Kind {
	case TCPIPSocket:
		return fmt.Sprintf("%s::%s::%d::SOCKET", board("TCPIP", r.Board), r.Host, r.Port)
	case TCPIPInstr:
		if r.LANDevice != "" {
			return fmt.Sprintf("%s::%s::%s::INSTR", board("TCPIP", r.Board), r.Host, r.LANDevice)
		}
		return fmt.Sprintf("%s::%s::INSTR", board("TCPIP", r.Board), r.Host)
	case USB:
		s := fmt.Sprintf("USB%d::0x%04X::0x%04X::%s", r.Board, r.Vendor, r.Product, r.Serial)
		if r.Interface >= 0 {
			s += "::" + strconv.Itoa(r.Interface)
		}
		return s + "::INSTR"
	case ASRL:
		return "ASRL" + r.Device + "::INSTR"
	case GPIB:
		s := fmt.Sprintf("GPIB%d::%d", r.Board, r.Address)
		if r.Secondary >= 0 {
			s += "::" + strconv.Itoa(r.Secondary)
		}
		return s + "::INSTR"
	}
	return ""
}

// Addr is host:port for TCPIP resources
func (r Resource) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// SerialPath maps the ASRL device to a port name.  A bare number n is
// COMn on Windows and /dev/ttyS(n-1) elsewhere; anything else is used as is.
func (r Resource) SerialPath() string {
	n, err := strconv.Atoi(r.Device)
	if err != nil {
		return r.Device
	}
	if runtime.GOOS == "windows" {
		return "COM" + r.Device
	}
	if n < 1 {
		n = 1
	}
	return fmt.Sprintf("/dev/ttyS%d", n-1)
}

// Maker parses resource and returns a CreationFunc for it
func Maker(resource string, opts Options) (comm.CreationFunc, error) {
	r, err := Parse(resource)
	if err != nil {
		return nil, err
	}
	return r.Maker(opts)
}

// Maker returns a CreationFunc that opens the resource
func (r Resource) Maker(opts Options) (comm.CreationFunc, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	switch r.Kind {
	case TCPIPSocket, TCPIPInstr:
		return comm.BackingOffTCPConnMaker(r.Addr(), timeout), nil
	case USB:
		return func() (io.ReadWriteCloser, error) {
			d, err := usbtmc.Open(r.Vendor, r.Product, r.Serial)
			if err != nil {
				return nil, comm.MarkConnError(err)
			}
			return d, nil
		}, nil
	case ASRL:
		baud := opts.Baud
		if baud <= 0 {
			baud = DefaultBaud
		}
		return comm.SerialConnMaker(&serial.Config{
			Name:        r.SerialPath(),
			Baud:        baud,
			ReadTimeout: timeout,
		}), nil
	case GPIB:
		if opts.GPIBAdapter == "" {
			return nil, errors.Errorf("%s needs a GPIB adapter", r)
		}
		popts := []prologix.Option{prologix.WithReadTimeout(timeout)}
		if r.Secondary >= 0 {
			popts = append(popts, prologix.WithSecondaryAddress(r.Secondary))
		}
		if opts.Baud > 0 {
			popts = append(popts, prologix.WithBaud(opts.Baud))
		}
		if strings.HasPrefix(opts.GPIBAdapter, "tcp://") {
			addr := strings.TrimPrefix(opts.GPIBAdapter, "tcp://")
			return func() (io.ReadWriteCloser, error) {
				conn, err := comm.TCPSetup(addr, timeout)
				if err != nil {
					return nil, err
				}
				a, err := prologix.New(conn, r.Address, popts...)
				if err != nil {
					conn.Close()
					return nil, err
				}
				return a, nil
			}, nil
		}
		return func() (io.ReadWriteCloser, error) {
			a, err := prologix.Open(opts.GPIBAdapter, r.Address, popts...)
			if err != nil {
				return nil, err
			}
			return a, nil
		}, nil
	}
	return nil, errors.Wrapf(ErrBadResource, "unsupported kind %s", r.Kind)
}
