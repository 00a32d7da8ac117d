package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/courrier/archival"
	"github.com/hazyhaar/courrier/dbopen"
	"github.com/hazyhaar/courrier/observability"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the courrier MCP tools over stdio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := mcp.NewServer(&mcp.Implementation{Name: "courrier", Version: "1.0.0"}, nil)
		a.server.RegisterMCP(srv)
		return srv.Run(ctx, &mcp.StdioTransport{})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file.pdf>...",
	Short: "Check files against the configured PDF/A-3 checker",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}
		runner := archival.NewExecRunner(1, cfg.Processes.Timeout, logger)
		v := archival.NewValidator(cfg.Validation.ValidatorConfig, runner, logger)

		failed := 0
		for _, path := range args {
			if err := v.Validate(cmd.Context(), path); err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK    %s\n", path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files not conformant", failed, len(args))
		}
		return nil
	},
}

var documentsLimit int

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Print stored records as JSON, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(true)
		if err != nil {
			return err
		}
		store, err := openStore(cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if documentsLimit > 0 && len(recs) > documentsLimit {
			recs = recs[:documentsLimit]
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	},
}

var auditFilter observability.AuditFilter

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print recent pipeline audit entries as JSON, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}
		if cfg.AuditDB == "" {
			return fmt.Errorf("audit trail disabled (audit_db is empty)")
		}
		db, err := dbopen.Open(cfg.AuditDB, dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("audit db: %w", err)
		}
		defer db.Close()
		if err := observability.Init(db); err != nil {
			return fmt.Errorf("audit db: %w", err)
		}
		audit := observability.NewAuditLogger(db, 1, observability.WithAuditLogger(logger))
		defer audit.Close()

		entries, err := audit.Query(cmd.Context(), auditFilter)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []*observability.AuditEntry{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

func init() {
	documentsCmd.Flags().IntVarP(&documentsLimit, "limit", "n", 0, "maximum number of records (0 = all)")

	auditCmd.Flags().IntVarP(&auditFilter.Limit, "limit", "n", 100, "maximum number of entries")
	auditCmd.Flags().StringVar(&auditFilter.Operation, "operation", "", "only this operation (upload, extract_text)")
	auditCmd.Flags().StringVar(&auditFilter.Status, "status", "", "only this status (success, error)")
}
