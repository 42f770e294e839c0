package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/config"
	"github.com/JonMunkholm/ledgerbridge/internal/core"
	"github.com/JonMunkholm/ledgerbridge/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfg       *config.Config
	logCloser io.Closer

	envFile  string
	apiURL   string
	apiToken string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Import files into and run bulk operations against an accounting backend",
	Long: "ledgerctl drives the same import pipeline and bulk controller as the web server,\n" +
		"talking to the accounting API directly. Configuration comes from the environment\n" +
		"(optionally a .env file); --api-url and --token override it.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
	pf.StringVar(&apiURL, "api-url", "", "Accounting API base URL (or set ACCOUNTING_API_URL)")
	pf.StringVar(&apiToken, "token", "", "Accounting API token (or set ACCOUNTING_API_TOKEN)")
	pf.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
}

// loadConfig reads the env file and environment, then applies flag
// overrides. Variables already in the environment win over the file.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if p := cmd.Parent(); p != nil && p.Name() == "completion" {
		return nil
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	overrides := map[string]string{
		"ACCOUNTING_API_URL":   apiURL,
		"ACCOUNTING_API_TOKEN": apiToken,
	}
	// The CLI is quieter than the server unless LOG_LEVEL says otherwise.
	if cmd.Flags().Changed("log-level") || os.Getenv("LOG_LEVEL") == "" {
		overrides["LOG_LEVEL"] = logLevel
	}
	for k, v := range overrides {
		if v == "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}

	c, err := config.Load()
	if err != nil {
		return err
	}
	cfg = c
	logCloser = logging.SetupWriter(cfg.Logging, os.Stderr)
	return nil
}

func newClient() *accounting.Client {
	return accounting.New(cfg.API, slog.Default())
}

// userError turns err into the message the web UI would show. Errors
// without a catalogue entry pass through unchanged; the technical detail
// is logged at debug level either way.
func userError(err error) error {
	if err == nil {
		return nil
	}
	slog.Debug("command failed", "error", err)
	if !core.IsUserFacing(err) {
		return err
	}
	return errors.New(core.FormatUserError(err))
}
