package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tinoosan/recon/internal/service/balance"
)

// newRebalanceCommand re-derives every booking's paid amount and balance.
// Integrity violations are reported, never auto-corrected; the command exits
// nonzero when any are found so cron jobs surface them.
func newRebalanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebalance",
		Short: "Recalculate paid amount and balance for every booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

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

			res, err := balance.New(store, logger).RecalculateAll(ctx)
			if err != nil {
				return err
			}
			logger.Info("rebalance complete", "recalculated", res.Recalculated, "skipped", res.Skipped)
			for _, v := range res.Violations {
				fmt.Fprintf(cmd.ErrOrStderr(), "violation: booking %s (%s) stored paid %d, derived %d\n",
					v.BookingID, v.Reference, v.ActualMinor, v.ExpectedMinor)
			}
			if len(res.Violations) > 0 {
				return fmt.Errorf("%d integrity violation(s) found", len(res.Violations))
			}
			return nil
		},
	}
}
