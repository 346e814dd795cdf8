package rigol

import (
	"context"
	"time"

	"github.com/benchlab/rigolab/comm"
	"github.com/benchlab/rigolab/log"
	"github.com/benchlab/rigolab/scpi"
	"github.com/benchlab/rigolab/visa"
)

// probeTimeout bounds the *IDN? of a discovery candidate
const probeTimeout = 2 * time.Second

// Candidate is an instrument found by discovery
type Candidate struct {
	Resource string `json:"resource"`
	IDN      string `json:"idn"`
}

// Notify is called for every resource discovery probes.  err is nil and
// idn holds the *IDN? reply for supported instruments.
type Notify func(resource, idn string, err error)

// replaced in tests
var (
	listUSB = visa.ListUSB
	scanLAN = visa.ScanLAN
	probe   = probeIDN
)

// probeIDN opens a resource, asks for *IDN? and closes it again
func probeIDN(r visa.Resource) (string, error) {
	maker, err := r.Maker(visa.Options{Timeout: probeTimeout})
	if err != nil {
		return "", err
	}
	pool := comm.NewPool(1, time.Second, maker)
	defer pool.Close()
	s := scpi.SCPI{Pool: pool, Timeout: probeTimeout}
	return s.ReadString("*IDN?")
}

func check(resources []visa.Resource, notify Notify) []Candidate {
	var out []Candidate
	for _, r := range resources {
		str := r.String()
		log.Debug("probing %s", str)
		idn, err := probe(r)
		if err == nil && !ValidateIDN(idn) {
			err = ErrUnsupported
		}
		if notify != nil {
			notify(str, idn, err)
		}
		if err != nil {
			log.Debug("%s: %v", str, err)
			continue
		}
		log.Info("found %s at %s", idn, str)
		out = append(out, Candidate{Resource: str, IDN: idn})
	}
	return out
}

// DiscoverUSB probes every USB device with Rigol's vendor ID
func DiscoverUSB(notify Notify) ([]Candidate, error) {
	resources, err := listUSB(VendorID)
	if err != nil {
		return nil, err
	}
	return check(resources, notify), nil
}

// DiscoverLAN scans the local networks for LXI instruments and probes each
// on the SCPI socket
func DiscoverLAN(ctx context.Context, opts visa.ScanOptions, notify Notify) ([]Candidate, error) {
	resources, err := scanLAN(ctx, opts)
	if err != nil {
		return nil, err
	}
	return check(resources, notify), nil
}

// Discover looks for instruments on USB, and on the LAN if there are none
// on USB.  A USB failure is logged and the LAN is scanned.
func Discover(ctx context.Context, notify Notify) ([]Candidate, error) {
	found, err := DiscoverUSB(notify)
	if err != nil {
		log.Warning("USB discovery: %v", err)
	}
	if len(found) > 0 {
		return found, nil
	}
	return DiscoverLAN(ctx, visa.ScanOptions{}, notify)
}
