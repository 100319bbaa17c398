//go:build windows

package shm

import (
	"github.com/duct-ipc/duct-go/pkg/status"
	"github.com/duct-ipc/duct-go/pkg/transport"
)

// The Windows rendition (file mapping plus named-pipe rendezvous) is not
// implemented; local messaging on Windows uses the pipe:// transport.

func Dial(busName string, opt transport.DialOptions) (transport.Pipe, error) {
	return nil, status.NotSupportedf("shm transport is not supported on windows")
}

func Listen(busName string, opt transport.ListenOptions) (transport.Listener, error) {
	return nil, status.NotSupportedf("shm transport is not supported on windows")
}
