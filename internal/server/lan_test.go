package server

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withInterfaceAddrs(t *testing.T, addrs []net.Addr, err error) {
	t.Helper()
	orig := interfaceAddrs
	interfaceAddrs = func() ([]net.Addr, error) { return addrs, err }
	t.Cleanup(func() { interfaceAddrs = orig })
}

func ipNet(s string) *net.IPNet {
	ip, n, _ := net.ParseCIDR(s)
	n.IP = ip
	return n
}

func TestConnectionURL(t *testing.T) {
	withInterfaceAddrs(t, []net.Addr{
		ipNet("127.0.0.1/8"),
		ipNet("fe80::1/64"),
		ipNet("203.0.113.7/24"),
		ipNet("192.168.1.23/24"),
		ipNet("10.0.0.5/8"),
	}, nil)

	tests := []struct {
		name string
		host string
		want string
	}{
		{"all interfaces", "0.0.0.0", "http://192.168.1.23:8765"},
		{"empty host", "", "http://192.168.1.23:8765"},
		{"ipv6 unspecified", "::", "http://192.168.1.23:8765"},
		{"explicit ip", "10.0.0.5", "http://10.0.0.5:8765"},
		{"hostname", "stage.local", "http://stage.local:8765"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, connectionURL(tt.host, 8765))
		})
	}
}

func TestLanIP_Fallback(t *testing.T) {
	withInterfaceAddrs(t, []net.Addr{ipNet("127.0.0.1/8")}, nil)
	assert.Equal(t, "127.0.0.1", lanIP().String())

	withInterfaceAddrs(t, nil, errors.New("no interfaces"))
	assert.Equal(t, "127.0.0.1", lanIP().String())
}
