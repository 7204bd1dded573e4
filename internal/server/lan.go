package server

import (
	"fmt"
	"net"
	"strconv"
)

var interfaceAddrs = net.InterfaceAddrs

// connectionURL is the address a phone on the same network should open. When
// bound to all interfaces the first private IPv4 address of the host is used.
func connectionURL(host string, port int) string {
	ip := net.ParseIP(host)
	if host == "" || (ip != nil && ip.IsUnspecified()) {
		ip = lanIP()
	}
	if ip == nil {
		return fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(port)))
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
}

func lanIP() net.IP {
	addrs, err := interfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip != nil && !ip.IsLoopback() && ip.IsPrivate() {
				return ip
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}
