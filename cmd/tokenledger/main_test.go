package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/server"
)

func TestLoadConfigReadsFlagsAndEnvironment(test *testing.T) {
	envFile := filepath.Join(test.TempDir(), "tokenledger.env")
	if err := os.WriteFile(envFile, []byte("TOKENLEDGER_JWT_SIGNING_KEY=from-dotenv\nTOKENLEDGER_CREDIT_ROLE=admin\n"), 0o600); err != nil {
		test.Fatalf("write env file: %v", err)
	}
	test.Setenv("TOKENLEDGER_HISTORY_LIMIT", "25")
	test.Setenv("TOKENLEDGER_JWT_SIGNING_KEY", "")
	test.Setenv("TOKENLEDGER_CREDIT_ROLE", "")
	_ = os.Unsetenv("TOKENLEDGER_JWT_SIGNING_KEY")
	_ = os.Unsetenv("TOKENLEDGER_CREDIT_ROLE")

	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{
		"--env-file", envFile,
		"--allowed-origins", "https://portal.example, https://admin.example",
		"--request-timeout", "3s",
	}); err != nil {
		test.Fatalf("parse flags: %v", err)
	}
	cfg := server.Config{}
	if err := loadConfig(cmd, &cfg); err != nil {
		test.Fatalf("load config: %v", err)
	}
	if cfg.SessionSigningKey != "from-dotenv" || cfg.CreditRole != "admin" {
		test.Fatalf("dotenv values not applied: %+v", cfg)
	}
	if cfg.HistoryLimit != 25 || cfg.RequestTimeout != 3*time.Second {
		test.Fatalf("unexpected limits: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://admin.example" {
		test.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.GRPCListenAddr != "" {
		test.Fatalf("expected gRPC to be disabled by default, got %q", cfg.GRPCListenAddr)
	}
	if cfg.ConflictRetries <= 0 {
		test.Fatalf("expected the default retry count, got %d", cfg.ConflictRetries)
	}
}

func TestLoadConfigRequiresGRPCAuthToken(test *testing.T) {
	test.Setenv("TOKENLEDGER_GRPC_AUTH_TOKEN", "")
	_ = os.Unsetenv("TOKENLEDGER_GRPC_AUTH_TOKEN")
	testCases := []struct {
		name      string
		arguments []string
		expectErr bool
	}{
		{name: "listener without token", arguments: []string{"--grpc-listen-addr", "127.0.0.1:7000"}, expectErr: true},
		{name: "listener with token", arguments: []string{"--grpc-listen-addr", "127.0.0.1:7000", "--grpc-auth-token", "ops-secret"}},
		{name: "listener disabled", arguments: nil},
	}
	for _, testCase := range testCases {
		cmd := newRootCommand()
		arguments := append([]string{"--env-file", "", "--jwt-signing-key", "secret"}, testCase.arguments...)
		if err := cmd.ParseFlags(arguments); err != nil {
			test.Fatalf("%s: parse flags: %v", testCase.name, err)
		}
		cfg := server.Config{}
		err := loadConfig(cmd, &cfg)
		if testCase.expectErr && err == nil {
			test.Fatalf("%s: expected an error", testCase.name)
		}
		if !testCase.expectErr && err != nil {
			test.Fatalf("%s: unexpected error: %v", testCase.name, err)
		}
	}
}

func TestLoadConfigZeroConflictRetriesDisablesRetries(test *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--env-file", "", "--jwt-signing-key", "secret", "--conflict-retries", "0"}); err != nil {
		test.Fatalf("parse flags: %v", err)
	}
	cfg := server.Config{}
	if err := loadConfig(cmd, &cfg); err != nil {
		test.Fatalf("load config: %v", err)
	}
	if cfg.ConflictRetries != 0 {
		test.Fatalf("expected retries disabled, got %d", cfg.ConflictRetries)
	}
}

func TestLoadEnvFileRequiresExplicitFile(test *testing.T) {
	test.Parallel()
	if err := loadEnvFile(filepath.Join(test.TempDir(), "missing.env")); err == nil {
		test.Fatalf("expected missing explicit env file to fail")
	}
	if err := loadEnvFile(""); err != nil {
		test.Fatalf("empty path should be ignored: %v", err)
	}
}
