package db

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/imagegen-gateway/internal/config"
)

// NewMySQLConnection opens the profiles/subscriptions store.
func NewMySQLConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn, err := mysqlDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	cfg.DSN = dsn
	return open("mysql", cfg, 5*time.Second)
}

// mysqlDSN forces the options the repositories depend on: parseTime so
// DATETIME columns scan into time.Time, and clientFoundRows so an UPDATE
// that rewrites identical values still reports the matched row.
func mysqlDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty MySQL DSN")
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse MySQL DSN: %w", err)
	}
	mc.ParseTime = true
	mc.ClientFoundRows = true
	return mc.FormatDSN(), nil
}
