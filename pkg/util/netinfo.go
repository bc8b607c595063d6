package util

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
)

const DefaultSTUNServer = "stun.l.google.com:19302"

// routeTarget is any off-link address; dialing UDP to it sends nothing but
// makes the kernel pick the source address of the default route.
const routeTarget = "192.0.2.1:9"

// GetLocalIPs returns all non-loopback IPv4 addresses on active interfaces.
func GetLocalIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if (iface.Flags&net.FlagUp) == 0 || (iface.Flags&net.FlagLoopback) != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			ip = ip.To4()
			if ip == nil { // mDNS announcements carry IPv4 only
				continue
			}
			ips = append(ips, ip)
		}
	}
	if len(ips) == 0 {
		return nil, errors.New("no active IPv4 addresses found")
	}
	return ips, nil
}

// OutboundIP returns the local IPv4 address the default route would use.
func OutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp4", routeTarget)
	if err != nil {
		return nil, fmt.Errorf("no default route: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// PreferredIP returns route if it is one of ips, otherwise the first of ips.
func PreferredIP(ips []net.IP, route net.IP) net.IP {
	if len(ips) == 0 {
		return nil
	}
	for _, ip := range ips {
		if route != nil && ip.Equal(route) {
			return ip
		}
	}
	return ips[0]
}

// GetPublicAddr discovers the public IPv4 address using a STUN Binding Request.
// It returns the observed public IP and port (as seen by the STUN server).
func GetPublicAddr(server string, timeout time.Duration) (net.IP, int, error) {
	d := &net.Dialer{Timeout: timeout}
	conn, err := d.Dial("udp4", server)
	if err != nil {
		return nil, 0, fmt.Errorf("stun dial failed: %w", err)
	}
	defer conn.Close()

	c, err := stun.NewClient(conn)
	if err != nil {
		return nil, 0, fmt.Errorf("stun client create failed: %w", err)
	}
	defer c.Close()

	var xorAddr stun.XORMappedAddress
	var reqErr error

	_ = conn.SetDeadline(time.Now().Add(timeout))

	err = c.Do(stun.MustBuild(stun.TransactionID, stun.BindingRequest), func(res stun.Event) {
		if res.Error != nil {
			reqErr = res.Error
			return
		}
		reqErr = xorAddr.GetFrom(res.Message)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("stun transaction failed: %w", err)
	}
	if reqErr != nil {
		return nil, 0, reqErr
	}
	if xorAddr.IP == nil {
		return nil, 0, errors.New("stun returned empty IP")
	}
	return xorAddr.IP, xorAddr.Port, nil
}
