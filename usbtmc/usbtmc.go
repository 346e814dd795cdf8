/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices, and a Device type that speaks it over bulk
transfers so that a USBTMC instrument can be used like any other
io.ReadWriteCloser.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Create a read request header and send it on the Out endpoint
2.  Read from the In endpoint until the transfer size in the response
	header has arrived
3.  Repeat until a response has the EOM bit set

Interrupt-in and the USB488 subclass requests (READ_STATUS_BYTE, REN) are
not implemented.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

const (
	// reserved is the byte to insert in reserved header fields
	reserved = 0x00

	headerSize = 12

	msgDevDepOut   = 0x01
	msgDevDepIn    = 0x02
	attrEOM        = 0x01
	attrTermCharEn = 0x02

	// MaxTransfer is the transfer size requested from the device per bulk-in
	MaxTransfer = 1 << 16

	// ClassUSBTMC is the application specific interface class
	ClassUSBTMC = 0xFE
	// SubClassUSBTMC is the interface subclass for test and measurement
	SubClassUSBTMC = 0x03
)

var (
	// ErrBadHeader is returned when a bulk-in response header is malformed
	ErrBadHeader = errors.New("malformed USBTMC bulk-in header")

	// ErrNoDevice is returned by Open when nothing matches
	ErrNoDevice = errors.New("no matching USBTMC device")
)

// BTagger can generate atomic bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	// embedded mutex for concurrent safety
	sync.Mutex

	value byte
	min   byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{value: 1, min: 1}
}

func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value < b.min {
		b.value = b.min
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	// ^ is bitwise exclusive OR.  Comparing with 0xff (all 1s) is the bitwise inversion
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(tag byte, datalen int, eom bool) [headerSize]byte {
	out := [headerSize]byte{}
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag, a single byte 1 < x < 255, unique and incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	if eom {
		out[8] = attrEOM
	}
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, puts 0x00 in the header and sets the bit to use it to false
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	/* this differs from BulkOut by bytes 8~11
	8 bitmap, bit 1 termination character enabled
	9 terminator byte
	10~11 reserved
	*/
	out[0] = msgDevDepIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = attrTermCharEn
		out[9] = *terminator
	}
	return out
}

// decBulkInHeader checks a DEV_DEP_MSG_IN response header, Table 9, and
// returns the transfer size and EOM flag
func decBulkInHeader(hdr []byte, tag byte) (int, bool, error) {
	if len(hdr) < headerSize {
		return 0, false, errors.Wrapf(ErrBadHeader, "only %d bytes", len(hdr))
	}
	if hdr[0] != msgDevDepIn {
		return 0, false, errors.Wrapf(ErrBadHeader, "MsgID %#x", hdr[0])
	}
	if hdr[1] != tag || hdr[2] != invbTag(tag) {
		return 0, false, errors.Wrapf(ErrBadHeader, "bTag %d does not match request %d", hdr[1], tag)
	}
	size := binary.LittleEndian.Uint32(hdr[4:8])
	return int(size), hdr[8]&attrEOM != 0, nil
}

// Device hides the details of USB and exposes an io.ReadWriteCloser.
// each Write is one complete message.  Reads return message bytes as they
// arrive; a message is complete when the device sets EOM.
type Device struct {
	tagger BTagger
	in     io.Reader
	out    io.Writer

	// pending holds message bytes received but not yet read
	pending []byte

	device *gousb.Device
	ctx    *gousb.Context
	closer func()
}

// Info identifies a USB device on the bus
type Info struct {
	Vendor  uint16
	Product uint16
	Serial  string
}

// List returns the devices with the given vendor ID.  vid == 0 lists every
// device that exposes a USBTMC interface.
func List(vid uint16) ([]Info, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if vid != 0 {
			return uint16(desc.Vendor) == vid
		}
		return isTMC(desc)
	})
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	if err != nil && len(devs) == 0 {
		return nil, err
	}
	out := make([]Info, 0, len(devs))
	for _, d := range devs {
		sn, _ := d.SerialNumber()
		out = append(out, Info{
			Vendor:  uint16(d.Desc.Vendor),
			Product: uint16(d.Desc.Product),
			Serial:  sn,
		})
	}
	return out, nil
}

func isTMC(desc *gousb.DeviceDesc) bool {
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == ClassUSBTMC && alt.SubClass == SubClassUSBTMC {
					return true
				}
			}
		}
	}
	return false
}

// Open opens the device with the given vendor and product IDs.  If serial
// is not empty, the device's serial number must match it.
func Open(vid, pid uint16, serial string) (*Device, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vid && uint16(desc.Product) == pid
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, err
	}
	var dev *gousb.Device
	for _, d := range devs {
		if dev != nil {
			d.Close()
			continue
		}
		sn, _ := d.SerialNumber()
		if serial == "" || sn == serial {
			dev = d
			continue
		}
		d.Close()
	}
	if dev == nil {
		ctx.Close()
		return nil, errors.Wrapf(ErrNoDevice, "%04x:%04x serial %q", vid, pid, serial)
	}
	d, err := newDevice(ctx, dev)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return d, nil
}

func newDevice(ctx *gousb.Context, dev *gousb.Device) (*Device, error) {
	if err := dev.SetAutoDetach(true); err != nil {
		return nil, err
	}
	iface, closer, err := dev.DefaultInterface()
	if err != nil {
		return nil, err
	}
	var inNum, outNum = -1, -1
	for _, ep := range iface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && inNum < 0 {
			inNum = ep.Number
		}
		if ep.Direction == gousb.EndpointDirectionOut && outNum < 0 {
			outNum = ep.Number
		}
	}
	if inNum < 0 || outNum < 0 {
		closer()
		return nil, fmt.Errorf("interface %s has no bulk endpoint pair", iface)
	}
	in, err := iface.InEndpoint(inNum)
	if err != nil {
		closer()
		return nil, err
	}
	out, err := iface.OutEndpoint(outNum)
	if err != nil {
		closer()
		return nil, err
	}
	return &Device{
		tagger: newBTagGen(),
		in:     in,
		out:    out,
		device: dev,
		ctx:    ctx,
		closer: closer,
	}, nil
}

// Write sends b as one device dependent message with EOM set
func (d *Device) Write(b []byte) (int, error) {
	const (
		alignment = 4
	)
	hdr := encBulkOutHeader(d.tagger.nextbTag(), len(b), true)
	buf := make([]byte, 0, headerSize+len(b)+alignment)
	buf = append(buf, hdr[:]...) // [:] array => slice of underlying values
	buf = append(buf, b...)
	if residual := len(buf) % alignment; residual > 0 {
		buf = append(buf, make([]byte, alignment-residual)...)
	}
	if _, err := d.out.Write(buf); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Read fills b with message data, requesting a transfer from the device
// when nothing is buffered.  A read that would block past the end of a
// message requests the next one, as a serial port would.
func (d *Device) Read(b []byte) (int, error) {
	if len(d.pending) == 0 {
		if err := d.transfer(); err != nil {
			return 0, err
		}
	}
	n := copy(b, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// transfer performs one REQUEST_DEV_DEP_MSG_IN and reads the response
func (d *Device) transfer() error {
	tag := d.tagger.nextbTag()
	hdr := encBulkInHeader(tag, MaxTransfer, nil)
	if _, err := d.out.Write(hdr[:]); err != nil {
		return err
	}
	buf := make([]byte, headerSize+MaxTransfer+4)
	have := 0
	size := -1
	for {
		n, err := d.in.Read(buf[have:])
		have += n
		if err != nil {
			return err
		}
		if size < 0 && have >= headerSize {
			size, _, err = decBulkInHeader(buf[:headerSize], tag)
			if err != nil {
				return err
			}
			if size > MaxTransfer {
				return errors.Wrapf(ErrBadHeader, "transfer size %d exceeds request", size)
			}
		}
		if size >= 0 && have >= headerSize+size {
			break
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
	}
	d.pending = append(d.pending[:0], buf[headerSize:headerSize+size]...)
	return nil
}

// Close closes the device
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return err
}
