package batchmast

import (
	"context"

	"github.com/fbrundu/batchmast/de"
)

// ResultSink receives collected differential expression tables, e.g. to
// persist them in a warehouse next to the Excel exports.
type ResultSink interface {
	Store(ctx context.Context, run, group string, tbl *de.Table) error
}
