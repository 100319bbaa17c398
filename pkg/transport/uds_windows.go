//go:build windows

package transport

import (
	"github.com/duct-ipc/duct-go/pkg/address"
	"github.com/duct-ipc/duct-go/pkg/status"
)

// DialUDS is unavailable on Windows; use pipe:// instead.
func DialUDS(addr address.Address, opt DialOptions) (Pipe, error) {
	return nil, status.NotSupportedf("uds scheme is not supported on windows")
}

// ListenUDS is unavailable on Windows; use pipe:// instead.
func ListenUDS(addr address.Address, opt ListenOptions) (Listener, error) {
	return nil, status.NotSupportedf("uds scheme is not supported on windows")
}
