package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagEnvFile           = "env-file"
	flagHTTPListenAddr    = "http-listen-addr"
	flagGRPCListenAddr    = "grpc-listen-addr"
	flagGRPCAuthToken     = "grpc-auth-token"
	flagDatabaseURL       = "database-url"
	flagDatabaseEngine    = "database-engine"
	flagAutoMigrate       = "auto-migrate"
	flagAllowedOrigins    = "allowed-origins"
	flagJWTSigningKey     = "jwt-signing-key"
	flagJWTIssuer         = "jwt-issuer"
	flagJWTCookieName     = "jwt-cookie-name"
	flagCreditRole        = "credit-role"
	flagHistoryLimit      = "history-limit"
	flagConflictRetries   = "conflict-retries"
	flagRequestTimeout    = "request-timeout"
	flagShutdownTimeout   = "shutdown-timeout"
	flagRecraftBaseURL    = "recraft-base-url"
	flagRecraftAPIToken   = "recraft-api-token"
	flagRecraftTimeout    = "recraft-timeout"
	flagLogDevelopment    = "log-development"
	envPrefix             = "TOKENLEDGER"
	defaultEnvFile        = ".env"
	defaultGRPCListenAddr = ""
	defaultRetries        = -1
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tokenledger: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := server.Config{}
	cmd := &cobra.Command{
		Use:           "tokenledger",
		Short:         "Token ledger HTTP and gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagEnvFile, defaultEnvFile, "optional dotenv file loaded before reading the environment")
	cmd.Flags().String(flagHTTPListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address, e.g. 127.0.0.1:7000 (empty disables)")
	cmd.Flags().String(flagGRPCAuthToken, "", "bearer token gRPC callers must present (required when gRPC is enabled)")
	cmd.Flags().String(flagDatabaseURL, "", "postgres://, mysql:// or sqlite:// database url")
	cmd.Flags().String(flagDatabaseEngine, "", "store engine: gorm or pgx")
	cmd.Flags().Bool(flagAutoMigrate, false, "create or migrate the schema on start")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name")
	cmd.Flags().String(flagCreditRole, "", "role required to credit tokens over HTTP (empty lets any logged-in user credit themselves; insecure for production)")
	cmd.Flags().Int(flagHistoryLimit, 0, "transactions returned by GET /api/tokens")
	cmd.Flags().Int(flagConflictRetries, defaultRetries, "retries for a ledger write that loses a concurrent update (negative uses the default; 0 disables retries)")
	cmd.Flags().Duration(flagRequestTimeout, 0, "ledger call timeout per HTTP request")
	cmd.Flags().Duration(flagShutdownTimeout, 0, "graceful shutdown timeout")
	cmd.Flags().String(flagRecraftBaseURL, "", "image API base url")
	cmd.Flags().String(flagRecraftAPIToken, "", "image API bearer token (empty disables the proxy)")
	cmd.Flags().Duration(flagRecraftTimeout, 0, "image API request timeout")
	cmd.Flags().Bool(flagLogDevelopment, false, "human-readable development logging")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *server.Config) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flagNames := []string{
		flagHTTPListenAddr, flagGRPCListenAddr, flagGRPCAuthToken, flagDatabaseURL, flagDatabaseEngine, flagAutoMigrate,
		flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName, flagCreditRole,
		flagHistoryLimit, flagConflictRetries, flagRequestTimeout, flagShutdownTimeout,
		flagRecraftBaseURL, flagRecraftAPIToken, flagRecraftTimeout, flagLogDevelopment,
	}
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(flagHTTPListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.GRPCAuthToken = strings.TrimSpace(v.GetString(flagGRPCAuthToken))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.DatabaseEngine = strings.TrimSpace(v.GetString(flagDatabaseEngine))
	cfg.AutoMigrate = v.GetBool(flagAutoMigrate)
	cfg.AllowedOrigins = server.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.CreditRole = strings.TrimSpace(v.GetString(flagCreditRole))
	cfg.HistoryLimit = v.GetInt(flagHistoryLimit)
	cfg.ConflictRetries = v.GetInt(flagConflictRetries)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.ShutdownTimeout = v.GetDuration(flagShutdownTimeout)
	cfg.RecraftBaseURL = strings.TrimSpace(v.GetString(flagRecraftBaseURL))
	cfg.RecraftAPIToken = strings.TrimSpace(v.GetString(flagRecraftAPIToken))
	cfg.RecraftTimeout = v.GetDuration(flagRecraftTimeout)
	cfg.LogDevelopment = v.GetBool(flagLogDevelopment)

	return cfg.Validate()
}

// A missing default env file is fine; an explicitly named one must exist.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == defaultEnvFile {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
