package batchmast

import (
	"fmt"
	"path"
	"strings"
)

// Manifest is the worker contract: a KEY=VALUE file staged next to the
// matrix and metadata, passed to the Batch job as its only argument.
type Manifest struct {
	Bucket     string
	RemoteDir  string
	Group      string
	Covariates string
	Jobs       int
}

// Render produces the manifest body. n_genes is always a covariate of
// the model; extra covariates arrive pre-joined as "+cov1+cov2".
func (m Manifest) Render() string {
	lines := []string{
		fmt.Sprintf("WORKSPACE=%s", path.Join(m.Bucket, m.RemoteDir)),
		"BATCH_INDEX_OFFSET=0",
		"CDAT=cdat.csv",
		"MAT=mat.fth",
		fmt.Sprintf("GROUP=%s", m.Group),
		"OUT_NAME=out.csv",
		fmt.Sprintf("MODEL='~group+n_genes%s'", m.Covariates),
		fmt.Sprintf("JOBS=%d", m.Jobs),
	}
	return strings.Join(lines, "\n") + "\n"
}
