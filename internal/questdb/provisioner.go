package questdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"annotator/internal/config"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Provisioner creates collection tables on first use.
type Provisioner struct {
	DB     execer
	Config config.QuestDBConfig
	Logger *zap.Logger
}

func NewProvisioner(db *sql.DB, cfg config.QuestDBConfig, logger *zap.Logger) *Provisioner {
	return &Provisioner{DB: db, Config: cfg, Logger: logger}
}

// Ensure normalizes collection and creates its table if absent. The returned
// name is the physical table every later read and write must use.
func (p *Provisioner) Ensure(ctx context.Context, collection string) (string, error) {
	table, err := NormalizeTableName(collection)
	if err != nil {
		return "", err
	}
	if p == nil || p.DB == nil {
		return "", fmt.Errorf("questdb not configured")
	}
	ident := quoteIdent(table)

	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (amplitude SHORT, file SYMBOL, ts TIMESTAMP) TIMESTAMP(ts) PARTITION BY HOUR WAL",
		ident,
	)
	if _, err := p.DB.ExecContext(ctx, create); err != nil {
		return "", fmt.Errorf("create table %s: %w", table, err)
	}

	// Tuning may be rejected on a table that already carries these params.
	for _, stmt := range p.tuningStatements(ident) {
		if _, err := p.DB.ExecContext(ctx, stmt); err != nil && p.Logger != nil {
			p.Logger.Debug("questdb tuning skipped", zap.String("table", table), zap.String("stmt", stmt), zap.Error(err))
		}
	}
	if p.Logger != nil {
		p.Logger.Info("collection table ready", zap.String("collection", collection), zap.String("table", table))
	}
	return table, nil
}

func (p *Provisioner) tuningStatements(ident string) []string {
	var out []string
	if p.Config.MaxUncommittedRows > 0 {
		out = append(out, fmt.Sprintf("ALTER TABLE %s SET PARAM maxUncommittedRows = %d", ident, p.Config.MaxUncommittedRows))
	}
	if p.Config.O3MaxLag > 0 {
		out = append(out, fmt.Sprintf("ALTER TABLE %s SET PARAM o3MaxLag = %ds", ident, int64(p.Config.O3MaxLag/time.Second)))
	}
	return out
}
