package cli

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"changeguard/internal/app"
	"changeguard/internal/config"
	"changeguard/internal/db"
)

const readPoolSize = 8

// runtime holds what every server-side command needs: configuration, a
// logger and the migrated database pools.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	writeDB *sql.DB
	readDB  *sql.DB
}

// loadConfig reads the --env-file and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Root().PersistentFlags().GetString("env-file")
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// openRuntime loads configuration, builds the logger, opens the database
// and applies pending migrations.
func openRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	writeDB, readDB, err := db.OpenSQLitePair(cfg.DatabasePath, readPoolSize)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.RunMigrations(writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", "path", cfg.DatabasePath)

	return &runtime{cfg: cfg, logger: logger, writeDB: writeDB, readDB: readDB}, nil
}

func (rt *runtime) deps() app.Deps {
	return app.Deps{Cfg: rt.cfg, WriteDB: rt.writeDB, ReadDB: rt.readDB, Logger: rt.logger}
}

func (rt *runtime) Close() {
	_ = rt.readDB.Close()
	_ = rt.writeDB.Close()
}

// newLogger logs JSON in production and text elsewhere.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
