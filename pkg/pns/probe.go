package pns

import (
	"errors"
	"net"
	"syscall"
)

// isConnectionRefused reports whether err is the OS-level "connection
// refused" that net.DialTimeout surfaces when nothing is listening on the
// probed port, the PNS "port is free" signal.
func isConnectionRefused(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	return errors.Is(opErr.Err, syscall.ECONNREFUSED)
}
