package batchmast_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fbrundu/batchmast"
)

func TestManifestRender(t *testing.T) {
	tests := []struct {
		name     string
		manifest batchmast.Manifest
		want     string
	}{
		{
			name: "NoCovariates",
			manifest: batchmast.Manifest{
				Bucket:    "exp-bucket",
				RemoteDir: "mast/abc",
				Group:     "condition",
				Jobs:      1,
			},
			want: "WORKSPACE=exp-bucket/mast/abc\n" +
				"BATCH_INDEX_OFFSET=0\n" +
				"CDAT=cdat.csv\n" +
				"MAT=mat.fth\n" +
				"GROUP=condition\n" +
				"OUT_NAME=out.csv\n" +
				"MODEL='~group+n_genes'\n" +
				"JOBS=1\n",
		},
		{
			name: "WithCovariates",
			manifest: batchmast.Manifest{
				Bucket:     "exp-bucket",
				RemoteDir:  "mast/abc",
				Group:      "condition",
				Covariates: "+donor+sex",
				Jobs:       4,
			},
			want: "WORKSPACE=exp-bucket/mast/abc\n" +
				"BATCH_INDEX_OFFSET=0\n" +
				"CDAT=cdat.csv\n" +
				"MAT=mat.fth\n" +
				"GROUP=condition\n" +
				"OUT_NAME=out.csv\n" +
				"MODEL='~group+n_genes+donor+sex'\n" +
				"JOBS=4\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.manifest.Render())
		})
	}
}
