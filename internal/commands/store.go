package commands

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tinoosan/recon/internal/config"
	"github.com/tinoosan/recon/internal/storage"
	"github.com/tinoosan/recon/internal/storage/memory"
	pgstore "github.com/tinoosan/recon/internal/storage/postgres"
)

// loadConfig reads the config file named by --config. A .env alongside the
// binary is loaded first so DATABASE_URL and friends work in local dev.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load()
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path = "recon.yaml"
	}
	return config.Load(path)
}

// openStore selects the backend: postgres when a database URL is configured,
// in-memory otherwise. The returned close func is nil for memory.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	if dsn := strings.TrimSpace(cfg.Database.URL); dsn != "" {
		pg, err := pgstore.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("storage backend: postgres")
		return pg, pg.Close, nil
	}
	logger.Info("storage backend: memory")
	return memory.New(), nil, nil
}

// parseLogLevel maps config values to slog.Leveler.
func parseLogLevel(s string) slog.Leveler {
	switch s {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "WARNING", "warn", "warning":
		return slog.LevelWarn
	case "ERROR", "ERR", "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Log.Level)
	if strings.ToLower(strings.TrimSpace(cfg.Log.Format)) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	// default to JSON
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
