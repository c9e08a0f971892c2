// Package clickhouse persists collected differential expression tables
// in a ClickHouse warehouse, one row per gene and contrast, so results
// stay queryable across runs.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fbrundu/batchmast/de"
)

// Config defines the config for the sink.
type Config struct {
	Table string
}

// ConfigDefault is the default config
var ConfigDefault = Config{
	Table: "mast_de",
}

func configDefault(config ...Config) Config {
	if len(config) < 1 {
		return ConfigDefault
	}

	cfg := config[0]
	if cfg.Table == "" {
		cfg.Table = ConfigDefault.Table
	}
	return cfg
}

func NewSink(connect *sql.DB, config ...Config) *Sink {
	cfg := configDefault(config...)
	return &Sink{
		connect: connect,
		insert: fmt.Sprintf(
			"INSERT INTO %s (run, grp, gene, contrast, coef, fdr) VALUES (?, ?, ?, ?, ?, ?)",
			cfg.Table,
		),
	}
}

type Sink struct {
	connect *sql.DB
	insert  string
}

// Store inserts every (gene, contrast) row of the table in a single
// transaction with one prepared statement.
func (s *Sink) Store(ctx context.Context, run, group string, tbl *de.Table) (err error) {
	panicked := true
	tx, err := s.connect.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		// Make sure to rollback when panic, Exec error or Commit error
		if panicked || err != nil {
			_ = tx.Rollback()
		}
	}()

	err = func() error {
		stmt, err := tx.PrepareContext(ctx, s.insert)
		if err != nil {
			return err
		}

		for _, contrast := range tbl.Contrasts() {
			coefCol := contrast + "_coef"
			fdrCol := contrast + "_fdr"
			for i, gene := range tbl.Genes {
				coef, okC := tbl.Value(i, coefCol)
				fdr, okF := tbl.Value(i, fdrCol)
				if !okC || !okF {
					continue
				}
				if _, err := stmt.ExecContext(ctx, run, group, gene, contrast, coef, fdr); err != nil {
					return err
				}
			}
		}

		return stmt.Close()
	}()

	if err == nil {
		err = tx.Commit()
	}

	panicked = false

	return err
}
