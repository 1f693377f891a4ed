//go:build unix

package endpoint

import (
	"syscall"

	"github.com/postalsys/wscat/internal/config"
)

// udpControl applies the UDP socket options before bind or connect.
func udpControl(opts *config.Options) func(network, address string, c syscall.RawConn) error {
	if !opts.UDPBroadcast && !opts.UDPReuseaddr {
		return nil
	}
	broadcast := opts.UDPBroadcast
	reuseaddr := opts.UDPReuseaddr
	return func(network, address string, rc syscall.RawConn) error {
		var serr error
		err := rc.Control(func(fd uintptr) {
			if reuseaddr {
				serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}
			if broadcast && serr == nil {
				serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			}
		})
		if err != nil {
			return err
		}
		return serr
	}
}
