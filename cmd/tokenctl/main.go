package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	flagAddr        = "addr"
	flagInsecure    = "insecure"
	flagTimeout     = "timeout"
	flagToken       = "token"
	flagPlan        = "plan"
	flagDescription = "description"
	flagMetadata    = "metadata"
	flagLimit       = "limit"
	envPrefix       = "TOKENCTL"
	defaultAddr     = "localhost:7000"
)

type ledgerClient interface {
	GetBalance(ctx context.Context, userID string) (ledger.BalanceRecord, error)
	OpenBalance(ctx context.Context, userID string, plan string) (ledger.BalanceRecord, error)
	Credit(ctx context.Context, userID string, amount int64, description string, metadata map[string]any) (ledger.BalanceRecord, error)
	History(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error)
	Renew(ctx context.Context, userID string) (ledger.BalanceRecord, bool, error)
}

type dialFunc func(cmd *cobra.Command) (ledgerClient, func(), error)

func main() {
	rootCmd := newRootCommand(dialLedger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tokenctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tokenctl",
		Short:         "Administer token balances over the ledger gRPC API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagAddr, defaultAddr, "ledger gRPC address")
	cmd.PersistentFlags().Bool(flagInsecure, true, "connect without TLS")
	cmd.PersistentFlags().Duration(flagTimeout, 5*time.Second, "per-call timeout")
	cmd.PersistentFlags().String(flagToken, "", "ledger gRPC auth token")

	cmd.AddCommand(
		newBalanceCommand(dial),
		newOpenCommand(dial),
		newGrantCommand(dial),
		newHistoryCommand(dial),
		newRenewCommand(dial),
	)
	return cmd
}

func newBalanceCommand(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "balance USER_ID",
		Short: "Show a balance, creating it under the default plan on first touch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, dial, func(ctx context.Context, client ledgerClient) error {
				record, err := client.GetBalance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), balanceView(record))
			})
		},
	}
}

func newOpenCommand(dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open USER_ID",
		Short: "Open a balance under a plan unless one exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := cmd.Flags().GetString(flagPlan)
			if err != nil {
				return err
			}
			return withClient(cmd, dial, func(ctx context.Context, client ledgerClient) error {
				record, err := client.OpenBalance(ctx, args[0], plan)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), balanceView(record))
			})
		},
	}
	cmd.Flags().String(flagPlan, string(ledger.DefaultPlan), "hobby, creator, professional or enterprise")
	return cmd
}

func newGrantCommand(dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant USER_ID AMOUNT",
		Short: "Credit tokens to an existing balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amount int64
			if _, err := fmt.Sscan(args[1], &amount); err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			description, err := cmd.Flags().GetString(flagDescription)
			if err != nil {
				return err
			}
			metadata, err := parseMetadata(cmd)
			if err != nil {
				return err
			}
			return withClient(cmd, dial, func(ctx context.Context, client ledgerClient) error {
				record, err := client.Credit(ctx, args[0], amount, description, metadata)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), balanceView(record))
			})
		},
	}
	cmd.Flags().String(flagDescription, "", "transaction description")
	cmd.Flags().String(flagMetadata, "", "JSON object stored with the transaction")
	return cmd
}

func newHistoryCommand(dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history USER_ID",
		Short: "List the newest transactions first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt(flagLimit)
			if err != nil {
				return err
			}
			return withClient(cmd, dial, func(ctx context.Context, client ledgerClient) error {
				transactions, err := client.History(ctx, args[0], limit)
				if err != nil {
					return err
				}
				views := make([]map[string]any, 0, len(transactions))
				for _, transaction := range transactions {
					views = append(views, map[string]any{
						"id":          transaction.ID,
						"amount":      transaction.Amount.Int64(),
						"operation":   transaction.Operation,
						"description": transaction.Description,
						"metadata":    transaction.Metadata,
						"createdAt":   transaction.CreatedAt.Format(time.RFC3339),
					})
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
	cmd.Flags().Int(flagLimit, ledger.DefaultHistoryLimit, "number of transactions")
	return cmd
}

func newRenewCommand(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "renew USER_ID",
		Short: "Apply the monthly renewal when it is due",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, dial, func(ctx context.Context, client ledgerClient) error {
				record, renewed, err := client.Renew(ctx, args[0])
				if err != nil {
					return err
				}
				var balance any
				if renewed {
					balance = balanceView(record)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"renewed": renewed, "balance": balance})
			})
		},
	}
}

func withClient(cmd *cobra.Command, dial dialFunc, run func(ctx context.Context, client ledgerClient) error) error {
	client, closeClient, err := dial(cmd)
	if err != nil {
		return err
	}
	defer closeClient()
	timeout, err := cmd.Flags().GetDuration(flagTimeout)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return run(ctx, client)
}

func dialLedger(cmd *cobra.Command) (ledgerClient, func(), error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range []string{flagAddr, flagInsecure, flagToken} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return nil, nil, err
		}
	}
	transport := grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, ""))
	if v.GetBool(flagInsecure) {
		transport = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	conn, err := grpc.NewClient(v.GetString(flagAddr), transport)
	if err != nil {
		return nil, nil, fmt.Errorf("connect ledger: %w", err)
	}
	client := grpcserver.NewClient(conn, grpcserver.WithAuthToken(strings.TrimSpace(v.GetString(flagToken))))
	return client, func() { _ = conn.Close() }, nil
}

func parseMetadata(cmd *cobra.Command) (map[string]any, error) {
	raw, err := cmd.Flags().GetString(flagMetadata)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	return metadata, nil
}

func balanceView(record ledger.BalanceRecord) map[string]any {
	return map[string]any{
		"userId":      record.UserID.String(),
		"amount":      record.Amount.Int64(),
		"plan":        record.Plan.String(),
		"renewalDate": record.RenewalDate.Format(time.RFC3339),
	}
}

func printJSON(writer io.Writer, value any) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
