// Command courrier archives incoming and outgoing letters as validated
// PDF/A-3 documents.
//
//	courrier serve              HTTP API
//	courrier mcp                MCP tools over stdio
//	courrier verify <pdf>...    run the conformance checker on files
//	courrier documents          list stored records
//	courrier audit              list recent pipeline audit entries
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/courrier/ingester"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "courrier",
	Short:         "Letter archival service (OCR, PDF/A-3 conversion, registry)",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets, ignored when missing")
	rootCmd.AddCommand(serveCmd, mcpCmd, verifyCmd, documentsCmd, auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file, the YAML config, and installs the
// JSON logger on stderr or stdout.
func loadConfig(logToStderr bool) (*ingester.Config, *slog.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := ingester.DefaultConfig()
	if cfgFile != "" {
		var err error
		if cfg, err = ingester.LoadConfig(cfgFile); err != nil {
			return nil, nil, err
		}
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Log.Level = lvl
	}

	var lvl slog.Level
	switch cfg.Log.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	out := os.Stdout
	if logToStderr {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
