package netutil

import (
	"net"
	"strings"
)

var privateV4 = mustCIDRs(
	"10.0.0.0/8",     // Class A private
	"172.16.0.0/12",  // Class B private
	"192.168.0.0/16", // Class C private
	"169.254.0.0/16", // Link-local
	"100.64.0.0/10",  // Carrier-grade NAT
)

// IsLocalOrPrivateHost checks if a hostname is localhost or lives on a
// private network. Credentials sent over plain HTTP to such hosts stay on
// the local network.
func IsLocalOrPrivateHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}

	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		// mDNS and common home-router domains
		return strings.HasSuffix(host, ".local") ||
			strings.HasSuffix(host, ".lan") ||
			strings.HasSuffix(host, ".home.arpa") ||
			!strings.Contains(host, ".")
	}
	return IsPrivateIP(ip)
}

// IsPrivateIP checks if an IP address is loopback, link-local or in a
// private range.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		for _, n := range privateV4 {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}
	// fc00::/7 unique local addresses
	return ip.IsPrivate()
}

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
