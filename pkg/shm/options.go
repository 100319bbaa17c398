package shm

import (
	"github.com/duct-ipc/duct-go/pkg/logging"
	"github.com/duct-ipc/duct-go/pkg/transport"
)

func dialLogger(opt transport.DialOptions) logging.Logger {
	if opt.Logger != nil {
		return opt.Logger
	}
	return logging.NewNop()
}

func listenLogger(opt transport.ListenOptions) logging.Logger {
	if opt.Logger != nil {
		return opt.Logger
	}
	return logging.NewNop()
}
