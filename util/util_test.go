package util_test

import (
	"fmt"
	"net"
	"testing"

	"github.com/benchlab/rigolab/util"
)

func ExampleNetwork_Hosts() {
	n := util.Network{Prefix: []byte{192, 168, 1}, Local: net.ParseIP("192.168.1.20")}
	hosts := n.Hosts()
	fmt.Println(len(hosts), hosts[0], hosts[254])
	// Output: 255 192.168.1.0 192.168.1.254
}

func TestNetworksFromIPsSkipsLoopbackAndV6(t *testing.T) {
	ips := []net.IP{
		net.ParseIP("127.0.0.1"),
		net.ParseIP("::1"),
		net.ParseIP("fe80::1"),
		net.ParseIP("10.0.3.7"),
		net.ParseIP("10.0.3.8"),
	}
	nets := util.NetworksFromIPs(ips, 3)
	if len(nets) != 1 {
		t.Fatalf("expected 1 network got %d", len(nets))
	}
	if nets[0].String() != "10.0.3" {
		t.Errorf("expected 10.0.3 got %s", nets[0])
	}
}

func TestNetworksFromIPsPrefixBytes(t *testing.T) {
	nets := util.NetworksFromIPs([]net.IP{net.ParseIP("172.16.5.9")}, 2)
	if nets[0].String() != "172.16" {
		t.Errorf("expected 172.16 got %s", nets[0])
	}
	hosts := nets[0].Hosts()
	if hosts[3] != "172.16.5.3" {
		t.Errorf("expected 172.16.5.3 got %s", hosts[3])
	}
}
