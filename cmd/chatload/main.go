// Command chatload drives a ring of simulated users through the gateway:
// each logs in, opens its live channel, sends one message to the next user
// and waits for the push addressed to it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// errUsersFailed reports that the run completed but some users missed their push.
var errUsersFailed = errors.New("some users did not receive their message")

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newRootCmd() *cobra.Command {
	cfg := simConfig{}
	cmd := &cobra.Command{
		Use:   "chatload",
		Short: "Drive a ring of simulated chat users through the gateway",
		Long: `chatload logs in N users, opens a live channel for each through the
gateway relay, sends one message from every user to the next one in the ring
and reports which users received the push addressed to them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			outcomes, err := run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if report(cmd.OutOrStdout(), outcomes) > 0 {
				return errUsersFailed
			}
			return nil
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.Flags().StringVar(&cfg.BaseURL, "gateway", getEnvOrDefault("CHATLOAD_GATEWAY", "http://127.0.0.1:8000"), "gateway base URL (env CHATLOAD_GATEWAY)")
	cmd.Flags().IntVar(&cfg.Users, "users", 10, "number of simulated users")
	cmd.Flags().StringVar(&cfg.Prefix, "prefix", "user", "username prefix; users are <prefix>1..<prefix>N")
	cmd.Flags().StringVar(&cfg.Password, "password", "password123", "password shared by every simulated user")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "how long each user waits for its push")
	cmd.Flags().BoolVar(&cfg.Create, "create", false, "register the users before logging in")
	cmd.Flags().DurationVar(&cfg.Settle, "settle", time.Second, "pause between connecting and sending")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 64, "maximum users driven at once")
	return cmd
}

// report prints one line per user and a summary, returning the failure count.
func report(w io.Writer, outcomes []outcome) int {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(w, "[%s] FAIL %s -> %s: %v\n", o.User, o.User, o.Target, o.Err)
			continue
		}
		fmt.Fprintf(w, "[%s] ok   received %s\n", o.User, o.Received)
	}
	fmt.Fprintf(w, "%d/%d users received their message\n", len(outcomes)-failed, len(outcomes))
	return failed
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, errUsersFailed) {
		os.Exit(1)
	}
	os.Exit(2)
}
