// Command duct-echo-client sends a message to an echo server and prints the
// reply.
//
// Exit codes: 0 when the round trip succeeds, 1 on operational failure,
// 2 on usage errors.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	duct "github.com/duct-ipc/duct-go"
	"github.com/duct-ipc/duct-go/pkg/logging"
	"github.com/duct-ipc/duct-go/pkg/queue"
	"github.com/duct-ipc/duct-go/pkg/status"
)

var (
	verbose   bool
	timeout   time.Duration
	count     int
	reconnect bool
	hwmBytes  int
	policy    string
	ttl       time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "duct-echo-client <uri> [message]",
		Short: "Send a message over a duct pipe and print the echo",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := "hello"
			if len(args) == 2 {
				text = args[1]
			}
			return run(args[0], text)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-call timeout")
	root.Flags().IntVarP(&count, "count", "n", 1, "number of round trips")
	root.Flags().BoolVar(&reconnect, "reconnect", false, "reconnect automatically on disconnect")
	root.Flags().IntVar(&hwmBytes, "qos-hwm", 0, "outbound queue high water mark in bytes (0 disables the QoS overlay)")
	root.Flags().StringVar(&policy, "qos-policy", "block", "backpressure policy: block, drop_new, drop_old, fail_fast")
	root.Flags().DurationVar(&ttl, "qos-ttl", 0, "outbound message time to live (0 disables)")

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

func parsePolicy(s string) (queue.Policy, error) {
	switch s {
	case "block":
		return queue.Block, nil
	case "drop_new":
		return queue.DropNew, nil
	case "drop_old":
		return queue.DropOld, nil
	case "fail_fast":
		return queue.FailFast, nil
	default:
		return 0, fmt.Errorf("unknown qos policy %q", s)
	}
}

func run(uri, text string) error {
	logger := logging.New(os.Stderr, nil)
	if verbose {
		logger.SetLevel(logging.DebugLevel)
	}

	opt := duct.DialOptions{
		Timeout: timeout,
		Logger:  logger,
	}
	if hwmBytes > 0 {
		p, err := parsePolicy(policy)
		if err != nil {
			return err
		}
		opt.Qos = duct.QosOptions{SndHwmBytes: hwmBytes, Backpressure: p, TTL: ttl}
	}
	if reconnect {
		opt.Reconnect = duct.DefaultReconnectPolicy()
		opt.OnStateChange = func(s duct.ConnectionState, reason string) {
			logger.Info("connection state", logging.String("state", s.String()), logging.String("reason", reason))
		}
	}

	pipe, err := duct.Dial(uri, opt)
	if err != nil {
		return err
	}
	defer pipe.Close()

	msg, err := duct.FromString(text)
	if err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		if err := pipe.Send(msg, duct.SendOptions{Timeout: timeout}); err != nil {
			return err
		}
		echo, err := pipe.Recv(duct.RecvOptions{Timeout: timeout})
		if err != nil {
			return err
		}
		fmt.Println(echo.String())
	}
	return nil
}
