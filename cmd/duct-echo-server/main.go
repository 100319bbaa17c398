// Command duct-echo-server serves an echo endpoint on any duct URI.
//
// Every received frame is sent straight back on the same pipe. Exit codes:
// 0 on clean shutdown, 1 on operational failure, 2 on usage errors.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	duct "github.com/duct-ipc/duct-go"
	"github.com/duct-ipc/duct-go/pkg/logging"
	"github.com/duct-ipc/duct-go/pkg/status"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "duct-echo-server <uri>",
		Short: "Echo every message received on the given duct URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		var s *status.Status
		if errors.As(err, &s) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", s.Code(), s.Message())
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(uri string) error {
	logger := logging.New(os.Stderr, nil)
	if verbose {
		logger.SetLevel(logging.DebugLevel)
	}

	ln, err := duct.Listen(uri, duct.ListenOptions{Logger: logger})
	if err != nil {
		return err
	}
	defer ln.Close()

	if local, err := ln.LocalAddress(); err == nil {
		logger.Info("listening", logging.Uri(local))
	} else {
		logger.Info("listening", logging.Uri(uri))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		ln.Close()
	}()

	var g errgroup.Group
	for {
		p, err := ln.Accept()
		if err != nil {
			if status.IsClosed(err) {
				break
			}
			logger.Warn("accept failed", logging.ErrorField(err))
			continue
		}
		logger.Info("connection accepted")
		g.Go(func() error {
			serve(p, logger)
			return nil
		})
	}
	return g.Wait()
}

func serve(p duct.Pipe, logger logging.Logger) {
	defer p.Close()
	for {
		msg, err := p.Recv(duct.RecvOptions{})
		if err != nil {
			if !status.IsClosed(err) {
				logger.Warn("recv failed", logging.ErrorField(err))
			}
			return
		}
		logger.Debug("echoing", logging.Int("bytes", msg.Size()))
		if err := p.Send(msg, duct.SendOptions{}); err != nil {
			if !status.IsClosed(err) {
				logger.Warn("send failed", logging.ErrorField(err))
			}
			return
		}
	}
}
