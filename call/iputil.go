package call

import "net"

// localAddress returns the address a peer on the LAN should dial: the first private IPv4 address,
// else the first non-loopback IPv4 address, else "0.0.0.0".
func localAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "0.0.0.0"
	}
	var fallback string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		if ip4.IsPrivate() {
			return ip4.String()
		}
		if fallback == "" {
			fallback = ip4.String()
		}
	}
	if fallback == "" {
		return "0.0.0.0"
	}
	return fallback
}
