package monitor

import "net"

// localIP returns the address of the interface used for outbound traffic.
// No packet is sent; dialing UDP only selects a route.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return "localhost"
	}
	return addr.IP.String()
}
