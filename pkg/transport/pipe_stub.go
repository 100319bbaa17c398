//go:build !windows

package transport

import (
	"github.com/duct-ipc/duct-go/pkg/address"
	"github.com/duct-ipc/duct-go/pkg/status"
)

// DialNamedPipe is Windows-only; use uds:// on Unix-like hosts.
func DialNamedPipe(addr address.Address, opt DialOptions) (Pipe, error) {
	return nil, status.NotSupportedf("pipe scheme is only supported on windows")
}

// ListenNamedPipe is Windows-only; use uds:// on Unix-like hosts.
func ListenNamedPipe(addr address.Address, opt ListenOptions) (Listener, error) {
	return nil, status.NotSupportedf("pipe scheme is only supported on windows")
}
