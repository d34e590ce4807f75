package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/spf13/cobra"

	"github.com/tinoosan/recon/internal/httpapi"
	"github.com/tinoosan/recon/internal/recon"
	"github.com/tinoosan/recon/internal/storage"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation HTTP service",
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
				logger.Error("failed to open store", "err", err)
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}

			if dev := strings.ToLower(strings.TrimSpace(os.Getenv("DEV_SEED"))); dev == "1" || dev == "true" || dev == "yes" || (cfg.Database.URL == "" && dev != "0") {
				if err := seedDev(ctx, store, logger); err != nil {
					logger.Error("dev seed failed", "err", err)
				}
			}

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           httpapi.New(store, logger, httpapi.WithMatcherDefaults(cfg.Matcher.WindowDays, cfg.Matcher.ToleranceMinor)).Handler(),
				ReadTimeout:       5 * time.Second,
				ReadHeaderTimeout: 5 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("recon service listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctxShutdown); err != nil {
					logger.Error("server shutdown error", "err", err)
				}
			case err := <-errCh:
				logger.Error("server error", "err", err)
				return err
			}
			return nil
		},
	}
}

// seedDev loads a small recognizable data set: one booking with a payment,
// two bank lines (one credit for the payment, one debit with a matching
// receipt) for quick local testing.
func seedDev(ctx context.Context, store storage.Store, logger *slog.Logger) error {
	mustAmt := func(minor int64) money.Amount {
		a, _ := money.NewAmountFromMinorUnits("USD", minor)
		return a
	}
	now := time.Now().UTC().Truncate(24 * time.Hour)

	booking := recon.Booking{
		ID:         uuid.New(),
		Reference:  "00012345",
		AmountDue:  mustAmt(16689),
		PaidAmount: mustAmt(0),
		Balance:    mustAmt(16689),
	}
	if _, err := store.CreateBooking(ctx, booking); err != nil {
		return err
	}
	payment := recon.Payment{
		ID:        uuid.New(),
		BookingID: &booking.ID,
		Amount:    mustAmt(16689),
		Date:      now.AddDate(0, 0, -2),
		Method:    "card",
	}
	if _, err := store.CreatePayment(ctx, payment); err != nil {
		return err
	}
	creditLine := recon.BankLineItem{
		ID:          uuid.New(),
		Account:     "operating",
		Date:        now.AddDate(0, 0, -1),
		Amount:      mustAmt(16689),
		Description: "CARD SETTLEMENT 00012345",
		SourceFile:  "dev-seed",
		Unexplained: true,
	}
	if _, err := store.CreateBankLine(ctx, creditLine); err != nil {
		return err
	}
	debitLine := recon.BankLineItem{
		ID:          uuid.New(),
		Account:     "operating",
		Date:        now.AddDate(0, 0, -3),
		Amount:      mustAmt(-4250),
		Description: "ACME SUPPLY CO",
		Vendor:      "Acme Supply",
		SourceFile:  "dev-seed",
		Unexplained: true,
	}
	if _, err := store.CreateBankLine(ctx, debitLine); err != nil {
		return err
	}
	receipt := recon.Receipt{
		ID:     uuid.New(),
		Date:   now.AddDate(0, 0, -3),
		Vendor: "Acme Supply Co",
		Amount: mustAmt(4250),
	}
	if _, err := store.CreateReceipt(ctx, receipt); err != nil {
		return err
	}

	logger.Info("DEV seed",
		"booking_id", booking.ID.String(),
		"payment_id", payment.ID.String(),
		"credit_line_id", creditLine.ID.String(),
		"debit_line_id", debitLine.ID.String(),
		"receipt_id", receipt.ID.String(),
	)
	fmt.Println("==================== DEV SEED ====================")
	fmt.Printf("booking_id: %s\n", booking.ID.String())
	fmt.Printf("payment_id: %s\n", payment.ID.String())
	fmt.Printf("credit_line_id: %s\n", creditLine.ID.String())
	fmt.Printf("debit_line_id: %s\n", debitLine.ID.String())
	fmt.Printf("receipt_id: %s\n", receipt.ID.String())
	fmt.Println("==================================================")
	return nil
}
