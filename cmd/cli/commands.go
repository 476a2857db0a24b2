package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/iho/transactai/internal/adapter/http/dto"
	"github.com/iho/transactai/internal/infrastructure/auth"
)

// sendCommand runs a metadata command and prints its reply. A failed status
// is reported as an error so scripts can test the exit code.
func sendCommand(cmd *cobra.Command, opts *options, md map[string]string) error {
	client, err := newAgentClient(opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	reply, err := client.call(cmd.Context(), md, func(note map[string]string) {
		fmt.Fprintf(cmd.ErrOrStderr(), "notification: %s\n", formatMetadata(note))
	})
	if err != nil {
		return err
	}

	if opts.asJSON {
		printJSON(out, reply)
	} else {
		printMetadata(out, reply)
	}
	if reply["status"] == "failed" {
		return fmt.Errorf("%s failed: %s", md["command"], reply["reason"])
	}
	return nil
}

func registerCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register the sender's account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, map[string]string{"command": "register"})
		},
	}
}

func registerWalletCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "register-wallet <wallet_address>",
		Short: "Link an on-chain wallet to the sender's account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, map[string]string{"command": "register_wallet", "wallet_address": args[0]})
		},
	}
}

func balanceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the sender's balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, map[string]string{"command": "balance"})
		},
	}
}

func payCmd(opts *options) *cobra.Command {
	var reference string
	cmd := &cobra.Command{
		Use:   "pay <recipient> <amount>",
		Short: "Pay another agent from the sender's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, map[string]string{
				"command":   "payment",
				"recipient": args[0],
				"amount":    args[1],
				"reference": reference,
			})
		},
	}
	cmd.Flags().StringVar(&reference, "reference", "", "Payment reference")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

func escrowCmd(opts *options) *cobra.Command {
	var (
		reference  string
		expiration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "escrow <recipient> <amount>",
		Short: "Hold funds for another agent until released or expired",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds := int64(expiration / time.Second)
			if seconds <= 0 {
				return fmt.Errorf("--expiration must be at least one second")
			}
			return sendCommand(cmd, opts, map[string]string{
				"command":    "escrow",
				"recipient":  args[0],
				"amount":     args[1],
				"reference":  reference,
				"expiration": strconv.FormatInt(seconds, 10),
			})
		},
	}
	cmd.Flags().StringVar(&reference, "reference", "", "Escrow reference")
	_ = cmd.MarkFlagRequired("reference")
	cmd.Flags().DurationVar(&expiration, "expiration", time.Hour, "Time until the escrow is refunded")
	return cmd
}

func releaseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "release <escrow_id>",
		Short: "Release a held escrow to its recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, map[string]string{"command": "release_escrow", "escrow_id": args[0]})
		},
	}
}

func escrowStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "escrow-status <escrow_id>",
		Short: "Show an escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, map[string]string{"command": "escrow_status", "escrow_id": args[0]})
		},
	}
}

func depositCmd(opts *options) *cobra.Command {
	var denom string
	cmd := &cobra.Command{
		Use:   "deposit <tx_hash> <amount>",
		Short: "Claim an on-chain transfer to the platform wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, map[string]string{
				"command": "deposit",
				"tx_hash": args[0],
				"amount":  args[1],
				"denom":   denom,
			})
		},
	}
	cmd.Flags().StringVar(&denom, "denom", "atestfet", "Coin denomination")
	return cmd
}

func withdrawCmd(opts *options) *cobra.Command {
	var denom string
	cmd := &cobra.Command{
		Use:   "withdraw <amount> <wallet_address>",
		Short: "Pay part of the balance out on chain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, map[string]string{
				"command":        "withdraw",
				"amount":         args[0],
				"wallet_address": args[1],
				"denom":          denom,
			})
		},
	}
	cmd.Flags().StringVar(&denom, "denom", "atestfet", "Coin denomination")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret     string
		expiration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <agent_address>",
		Short: "Mint a bearer token for an agent address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			token, err := auth.NewJWTManager(secret, expiration).Generate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", envOr("JWT_SECRET", ""), "HMAC secret shared with the server")
	cmd.Flags().DurationVar(&expiration, "expiration", 24*time.Hour, "Token lifetime")
	return cmd
}

func ledgerCmd(opts *options) *cobra.Command {
	ledger := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	consistency := &cobra.Command{
		Use:   "consistency",
		Short: "Check ledger consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report dto.ConsistencyResponse
			status, err := getJSON(cmd.Context(), opts, "/ledger/consistency", &report)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				printJSON(out, report)
			} else {
				fmt.Fprintf(out, "Balances:           %s\n", report.Balances)
				fmt.Fprintf(out, "Held escrow:        %s\n", report.HeldEscrow)
				fmt.Fprintf(out, "Confirmed deposits: %s\n", report.ConfirmedDeposits)
				fmt.Fprintf(out, "Withdrawn:          %s\n", report.Withdrawn)
			}
			if status == http.StatusConflict || !report.Consistent {
				return fmt.Errorf("consistency check FAILED: difference %s", report.Difference)
			}
			fmt.Fprintln(out, "Consistency check PASSED")
			return nil
		},
	}

	var limit, offset int
	accounts := &cobra.Command{
		Use:   "accounts",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []dto.AccountResponse
			path := fmt.Sprintf("/ledger/accounts?limit=%d&offset=%d", limit, offset)
			if _, err := getJSON(cmd.Context(), opts, path, &list); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				printJSON(out, list)
				return nil
			}
			fmt.Fprintf(out, "%-40s %-24s %s\n", "ACCOUNT", "BALANCE", "WALLET")
			for _, a := range list {
				fmt.Fprintf(out, "%-40s %-24s %s\n", truncate(a.ID, 40), a.Balance, a.WalletAddress)
			}
			return nil
		},
	}
	accounts.Flags().IntVar(&limit, "limit", 50, "Page size")
	accounts.Flags().IntVar(&offset, "offset", 0, "Page offset")

	ledger.AddCommand(consistency, accounts)
	return ledger
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printMetadata(w io.Writer, md map[string]string) {
	for _, k := range sortedKeys(md) {
		fmt.Fprintf(w, "%s: %s\n", k, md[k])
	}
}

func formatMetadata(md map[string]string) string {
	var b []byte
	for i, k := range sortedKeys(md) {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, k...)
		b = append(b, '=')
		b = append(b, md[k]...)
	}
	return string(b)
}

func sortedKeys(md map[string]string) []string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
