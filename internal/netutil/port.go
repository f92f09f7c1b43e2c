// Package netutil picks the address the agent's HTTP surface listens on.
package netutil

import (
	"fmt"
	"net"
	"strconv"
)

// SelectBindAddr returns preferred when it is free. Otherwise, with
// autoFallback, it tries the next ports on the same host, up to tries of
// them.
func SelectBindAddr(preferred string, tries int, autoFallback bool) (string, error) {
	if IsAddrAvailable(preferred) {
		return preferred, nil
	}
	if !autoFallback {
		return "", fmt.Errorf("preferred bind address in use: %s", preferred)
	}

	candidates, err := NextPorts(preferred, tries)
	if err != nil {
		return "", err
	}
	for _, addr := range candidates {
		if IsAddrAvailable(addr) {
			return addr, nil
		}
	}
	return "", fmt.Errorf("no available bind address near %s", preferred)
}

// NextPorts lists the n addresses following addr's port on the same host.
func NextPorts(addr string, n int) ([]string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid bind address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid bind port %q: %w", portStr, err)
	}
	out := make([]string, 0, n)
	for p := port + 1; p <= port+n && p <= 65535; p++ {
		out = append(out, net.JoinHostPort(host, strconv.Itoa(p)))
	}
	return out, nil
}

// IsAddrAvailable reports whether addr can be listened on.
func IsAddrAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
