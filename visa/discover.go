package visa

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial/enumerator"
	"golang.org/x/time/rate"

	"github.com/benchlab/rigolab/log"
	"github.com/benchlab/rigolab/usbtmc"
	"github.com/benchlab/rigolab/util"
)

// ListUSB returns a USB INSTR resource for every device with the vendor ID.
// vid == 0 lists every USBTMC device.
func ListUSB(vid uint16) ([]Resource, error) {
	infos, err := usbtmc.List(vid)
	if err != nil {
		return nil, err
	}
	out := make([]Resource, 0, len(infos))
	for _, i := range infos {
		out = append(out, Resource{
			Kind:      USB,
			Vendor:    i.Vendor,
			Product:   i.Product,
			Serial:    i.Serial,
			Interface: -1,
			Secondary: -1,
		})
	}
	return out, nil
}

// ListSerial returns an ASRL resource for every USB serial port
func ListSerial() ([]Resource, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var out []Resource
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		log.Debug("serial port %s vid=%s pid=%s sn=%s", p.Name, p.VID, p.PID, p.SerialNumber)
		out = append(out, Resource{Kind: ASRL, Device: p.Name, Interface: -1, Secondary: -1})
	}
	return out, nil
}

// ScanOptions control a LAN scan
type ScanOptions struct {
	// PrefixBytes is the number of leading octets that define the network,
	// 0 means 3 (a /24)
	PrefixBytes int

	// IgnoreGateway skips networks where this host's address ends in .1
	IgnoreGateway bool

	// DialTimeout bounds each probe, default 10 ms
	DialTimeout time.Duration

	// Port is probed on each host, default 111 (the VXI-11 portmapper
	// every LXI instrument runs)
	Port int

	// Parallel is the number of probes in flight, default 32
	Parallel int

	// Rate is the number of probes started per second, default 2000
	Rate float64

	// Networks overrides the local interface enumeration
	Networks []util.Network

	// Progress, if not nil, is called after each probe
	Progress func(done, total int)
}

func (o *ScanOptions) defaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Millisecond
	}
	if o.Port <= 0 {
		o.Port = 111
	}
	if o.Parallel <= 0 {
		o.Parallel = 32
	}
	if o.Rate <= 0 {
		o.Rate = 2000
	}
}

// ScanLAN probes the hosts of each local IPv4 network and returns a TCPIP
// INSTR resource for each one that answered, sorted by address
func ScanLAN(ctx context.Context, opts ScanOptions) ([]Resource, error) {
	opts.defaults()
	nets := opts.Networks
	if nets == nil {
		var err error
		nets, err = util.LocalIPv4Networks(opts.PrefixBytes)
		if err != nil {
			return nil, err
		}
	}
	var hosts []string
	for _, n := range nets {
		if opts.IgnoreGateway && n.Local.To4() != nil && n.Local.To4()[3] == 1 {
			log.Debug("skipping %s, this host is the gateway", n)
			continue
		}
		hosts = append(hosts, n.Hosts()...)
	}

	var (
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), opts.Parallel)
		sem     = make(chan struct{}, opts.Parallel)
		wg      sync.WaitGroup
		mu      sync.Mutex
		found   []string
		done    int
		dialer  = net.Dialer{Timeout: opts.DialTimeout}
		port    = strconv.Itoa(opts.Port)
	)
	var err error
	for _, h := range hosts {
		if err = limiter.Wait(ctx); err != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(h string) {
			defer func() {
				<-sem
				wg.Done()
			}()
			conn, derr := dialer.DialContext(ctx, "tcp", net.JoinHostPort(h, port))
			mu.Lock()
			defer mu.Unlock()
			done++
			if derr == nil {
				conn.Close()
				found = append(found, h)
			}
			if opts.Progress != nil {
				opts.Progress(done, len(hosts))
			}
		}(h)
	}
	wg.Wait()

	sort.Slice(found, func(i, j int) bool {
		a, b := net.ParseIP(found[i]).To4(), net.ParseIP(found[j]).To4()
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	out := make([]Resource, 0, len(found))
	for _, h := range found {
		out = append(out, Resource{Kind: TCPIPInstr, Host: h, Port: InstrPort, Interface: -1, Secondary: -1})
	}
	return out, err
}
