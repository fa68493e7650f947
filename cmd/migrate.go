package cmd

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/config"
	"github.com/jmehdipour/imagegen-gateway/internal/db"
	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/migrations"
)

var migrateClickHouse bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		ctx := cmd.Context()

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		// FOREIGN_KEY_CHECKS is per session, so pin one connection
		conn, err := sqlDB.Connx(ctx)
		if err != nil {
			return fmt.Errorf("acquire conn: %w", err)
		}
		defer conn.Close()

		if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
			return fmt.Errorf("disable fk checks: %w", err)
		}
		err = applySchema(ctx, conn, "mysql/001_init.sql")
		_, _ = conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1")
		if err != nil {
			return err
		}

		if migrateClickHouse {
			chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("open clickhouse: %w", err)
			}
			defer chDB.Close()

			if err := applySchema(ctx, chDB, "clickhouse/001_activity.sql"); err != nil {
				return err
			}
		}

		logger.Log.Info("migration complete", zap.Bool("clickhouse", migrateClickHouse))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateClickHouse, "clickhouse", false, "also create the ClickHouse activity table")
}

func applySchema(ctx context.Context, dbx sqlx.ExecerContext, name string) error {
	src, err := migrations.FS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	for i, stmt := range migrations.Statements(string(src)) {
		if _, err := dbx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %s statement %d: %w", name, i+1, err)
		}
	}
	return nil
}
