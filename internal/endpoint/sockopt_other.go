//go:build !unix

package endpoint

import (
	"syscall"

	"github.com/postalsys/wscat/internal/config"
)

// udpControl is a no-op where the portable setsockopt path is unavailable.
func udpControl(opts *config.Options) func(network, address string, c syscall.RawConn) error {
	return nil
}
