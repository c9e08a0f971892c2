// Command batchmast runs MAST differential expression analyses on AWS
// Batch from the command line: submit and collect a run, resume the
// collection of journaled jobs, or re-export downloaded result tables.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/ClickHouse/clickhouse-go"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fbrundu/batchmast"
	"github.com/fbrundu/batchmast/dataset"
	"github.com/fbrundu/batchmast/de"
	"github.com/fbrundu/batchmast/export"
	journalfile "github.com/fbrundu/batchmast/journal/file"
	"github.com/fbrundu/batchmast/runner/awsbatch"
	chsink "github.com/fbrundu/batchmast/sink/clickhouse"
	s3store "github.com/fbrundu/batchmast/store/s3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "batchmast",
		Short:         "MAST differential expression on AWS Batch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newResumeCmd(&configPath))
	root.AddCommand(newExportCmd())
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		matrixPath string
		obsPath    string
		out        string
		group      string
		keys       []string
		covs       string
		fdr        float64
		lfc        float64
		stratify   []string
		minPerc    float64
		onTotal    bool
		minCells   int
		jobs       int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit an analysis and collect its results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			client, err := newClient(ctx, cfg, logger)
			if err != nil {
				return err
			}

			layer := cfg.Layer
			if layer == "" {
				layer = "counts"
			}
			d, err := loadDataset(matrixPath, obsPath, layer)
			if err != nil {
				return err
			}

			strata, err := parseStrata(stratify)
			if err != nil {
				return err
			}
			params := batchmast.RunParams{
				Keys:          keys,
				Group:         group,
				FDR:           fdr,
				LFC:           lfc,
				Covariates:    covs,
				Strata:        strata,
				OnTotal:       onTotal,
				MinCellsLimit: minCells,
				Jobs:          jobs,
			}
			if minPerc > 0 {
				params.MinPercent = &batchmast.MinPercent{Global: minPerc}
			}

			results, err := client.RunAll(ctx, d, params)
			for _, res := range results {
				if res.Err != nil {
					continue
				}
				base := out
				if res.Stratum != "" {
					base = out + "." + res.Stratum
				}
				if werr := export.Write(base, res.Tables, res.Top); werr != nil {
					return werr
				}
				logger.Infow("results exported", "base", base, "groups", len(res.Tables))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&matrixPath, "matrix", "", "counts matrix CSV, genes in the header, cells in the first column")
	cmd.Flags().StringVar(&obsPath, "obs", "", "cell metadata CSV, matrix cell order")
	cmd.Flags().StringVar(&out, "out", "mast", "output workbook base name")
	cmd.Flags().StringVar(&group, "group", "", "obs column whose levels are contrasted")
	cmd.Flags().StringSliceVar(&keys, "keys", nil, "obs columns staged to the workers")
	cmd.Flags().StringVar(&covs, "covs", "", "extra model covariates, +cov1+cov2")
	cmd.Flags().Float64Var(&fdr, "fdr", 0.05, "FDR threshold for the top gene lists")
	cmd.Flags().Float64Var(&lfc, "lfc", 0, "log fold change threshold for the top gene lists")
	cmd.Flags().StringArrayVar(&stratify, "stratify", nil, "run per stratum, column=v1,v2 (repeatable)")
	cmd.Flags().Float64Var(&minPerc, "min-perc", 0, "minimum detection fraction for the gene filter, 0 disables")
	cmd.Flags().BoolVar(&onTotal, "on-total", false, "base the filter on the full cell count instead of the smallest group")
	cmd.Flags().IntVar(&minCells, "min-cells", 3, "gene filter threshold floor")
	cmd.Flags().IntVar(&jobs, "jobs", 1, "worker-side parallelism")
	_ = cmd.MarkFlagRequired("matrix")
	_ = cmd.MarkFlagRequired("obs")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("keys")
	return cmd
}

func newResumeCmd(configPath *string) *cobra.Command {
	var (
		out string
		fdr float64
		lfc float64
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Collect journaled submissions from an interrupted run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.JournalDir == "" {
				return fmt.Errorf("resume needs journal_dir in the config")
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			client, err := newClient(ctx, cfg, logger)
			if err != nil {
				return err
			}

			tables, top, err := client.Resume(ctx, lfc, fdr)
			if err != nil {
				return err
			}
			if len(tables) == 0 {
				logger.Infow("nothing to resume")
				return nil
			}
			return export.Write(out, tables, top)
		},
	}

	cmd.Flags().StringVar(&out, "out", "mast", "output workbook base name")
	cmd.Flags().Float64Var(&fdr, "fdr", 0.05, "FDR threshold for the top gene lists")
	cmd.Flags().Float64Var(&lfc, "lfc", 0, "log fold change threshold for the top gene lists")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		in  string
		out string
		fdr float64
		lfc float64
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Filter and export already downloaded result tables",
		RunE: func(_ *cobra.Command, _ []string) error {
			paths, err := filepath.Glob(filepath.Join(in, "*.csv"))
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no result tables in %s", in)
			}

			tables := map[string]*de.Table{}
			for _, path := range paths {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				tbl, err := de.Parse(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("parsing %s: %w", path, err)
				}
				group := strings.TrimSuffix(filepath.Base(path), ".csv")
				tables[group] = tbl
			}

			return export.Write(out, tables, de.Filter(tables, lfc, fdr))
		},
	}

	cmd.Flags().StringVar(&in, "in", ".", "directory of <group>.csv result tables")
	cmd.Flags().StringVar(&out, "out", "mast", "output workbook base name")
	cmd.Flags().Float64Var(&fdr, "fdr", 0.05, "FDR threshold for the top gene lists")
	cmd.Flags().Float64Var(&lfc, "lfc", 0, "log fold change threshold for the top gene lists")
	return cmd
}

func newClient(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*batchmast.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	clientCfg := batchmast.Config{
		JobQueue:      cfg.JobQueue,
		JobDefinition: cfg.JobDefinition,
		Bucket:        cfg.Bucket,
		Layer:         cfg.Layer,
		PollInterval:  cfg.PollInterval,
		Logger:        logger,
	}

	if cfg.JournalDir != "" {
		if err := os.MkdirAll(cfg.JournalDir, 0o755); err != nil {
			return nil, err
		}
		jnl, err := journalfile.NewJournalByKey(cfg.JobQueue, journalfile.Config{Workspace: cfg.JournalDir})
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		clientCfg.Journal = jnl
	}

	if cfg.ClickHouse != "" {
		db, err := sql.Open("clickhouse", cfg.ClickHouse)
		if err != nil {
			return nil, fmt.Errorf("opening clickhouse: %w", err)
		}
		clientCfg.Sink = chsink.NewSink(db, chsink.Config{Table: cfg.ClickHouseTable})
	}

	return batchmast.New(
		s3store.NewStore(awss3.NewFromConfig(awsCfg), cfg.Bucket),
		awsbatch.NewRunner(batch.NewFromConfig(awsCfg)),
		clientCfg,
	), nil
}

func loadDataset(matrixPath, obsPath, layer string) (*dataset.Dataset, error) {
	mf, err := os.Open(matrixPath)
	if err != nil {
		return nil, err
	}
	defer mf.Close()
	d, err := dataset.ReadMatrixCSV(mf, layer)
	if err != nil {
		return nil, fmt.Errorf("loading matrix: %w", err)
	}

	of, err := os.Open(obsPath)
	if err != nil {
		return nil, err
	}
	defer of.Close()
	if err := d.ReadObsCSV(of); err != nil {
		return nil, fmt.Errorf("loading metadata: %w", err)
	}
	return d, nil
}

func parseStrata(specs []string) ([]batchmast.Stratum, error) {
	var strata []batchmast.Stratum
	for _, spec := range specs {
		col, values, ok := strings.Cut(spec, "=")
		if !ok || col == "" || values == "" {
			return nil, fmt.Errorf("bad stratify spec %q, want column=v1,v2", spec)
		}
		strata = append(strata, batchmast.Stratum{Column: col, Values: strings.Split(values, ",")})
	}
	return strata, nil
}
