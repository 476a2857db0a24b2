package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every command.
type options struct {
	baseURL string
	agent   string
	target  string
	token   string
	timeout time.Duration
	asJSON  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "transactai-cli",
		Short:         "TransactAI CLI tool",
		Long:          `A command line interface that talks to the TransactAI payment agent as another agent would.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.baseURL, "url", envOr("TRANSACTAI_URL", "http://localhost:8080"), "Base URL of the payment agent")
	flags.StringVar(&opts.agent, "agent", os.Getenv("TRANSACTAI_AGENT"), "Address to send commands as")
	flags.StringVar(&opts.target, "target", envOr("TRANSACTAI_TARGET", "agent1transactai"), "Address of the payment agent")
	flags.StringVar(&opts.token, "token", os.Getenv("TRANSACTAI_TOKEN"), "Bearer token proving the sender address")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "How long to wait for a reply")
	flags.BoolVar(&opts.asJSON, "json", false, "Print replies as JSON")

	rootCmd.AddCommand(
		registerCmd(opts),
		registerWalletCmd(opts),
		balanceCmd(opts),
		payCmd(opts),
		escrowCmd(opts),
		releaseCmd(opts),
		escrowStatusCmd(opts),
		depositCmd(opts),
		withdrawCmd(opts),
		tokenCmd(),
		ledgerCmd(opts),
	)

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
