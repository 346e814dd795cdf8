// Package util contains misc internal utilities.
package util

import (
	"fmt"
	"net"
	"strings"
)

// Network is the part of a local IPv4 address that stays fixed while
// scanning for instruments, e.g. 192.168.1 for a /24
type Network struct {
	// Prefix holds the leading octets of the address
	Prefix []byte

	// Local is the address of this host on the network
	Local net.IP
}

func (n Network) String() string {
	parts := make([]string, len(n.Prefix))
	for i, b := range n.Prefix {
		parts[i] = fmt.Sprint(b)
	}
	return strings.Join(parts, ".")
}

// Hosts enumerates the candidate host addresses in the network.  Only the
// final free octet is walked, from .0 to .254; larger prefixes reuse the
// local address for the octets in between.
func (n Network) Hosts() []string {
	base := make([]byte, 4)
	copy(base, n.Local.To4())
	copy(base, n.Prefix)
	out := make([]string, 0, 255)
	for i := 0; i < 255; i++ {
		base[3] = byte(i)
		out = append(out, net.IP(base).String())
	}
	return out
}

// LocalIPv4Networks lists the IPv4 networks this host is on, skipping
// loopback.  prefixBytes (1..3) is how many leading octets make up the
// network; other values are treated as 3.
func LocalIPv4Networks(prefixBytes int) ([]Network, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ips = append(ips, ipn.IP)
	}
	return NetworksFromIPs(ips, prefixBytes), nil
}

// NetworksFromIPs does the work of LocalIPv4Networks on a list of addresses.
// Duplicate networks are reported once.
func NetworksFromIPs(ips []net.IP, prefixBytes int) []Network {
	if prefixBytes < 1 || prefixBytes > 3 {
		prefixBytes = 3
	}
	seen := map[string]bool{}
	var out []Network
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil || v4.IsLoopback() {
			continue
		}
		n := Network{Prefix: append([]byte(nil), v4[:prefixBytes]...), Local: v4}
		if seen[n.String()] {
			continue
		}
		seen[n.String()] = true
		out = append(out, n)
	}
	return out
}
