package commands

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tinoosan/recon/internal/recon"
)

// newExportCommand writes the full reconciliation ledger as CSV, for audit
// handoff without the HTTP service running.
func newExportCommand() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the reconciliation ledger as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg)
			slog.SetDefault(logger)

			store, closeFn, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}

			entries, err := store.AllLedgerEntries(ctx)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			if err := writeLedgerCSV(out, entries); err != nil {
				return err
			}
			logger.Info("ledger exported", "entries", len(entries))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	return cmd
}

func writeLedgerCSV(w io.Writer, entries []recon.LedgerEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "bank_line_id", "record_id", "record_kind", "match_type", "confidence", "amount_minor", "currency", "created_at", "created_by"}); err != nil {
		return err
	}
	for _, e := range entries {
		rec := []string{
			e.ID.String(),
			e.BankLineID.String(),
			e.RecordID.String(),
			string(e.RecordKind),
			string(e.MatchType),
			string(e.Confidence),
			strconv.FormatInt(recon.MinorUnits(e.Amount), 10),
			e.Amount.Curr().Code(),
			e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			e.CreatedBy,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
