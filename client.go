// Package batchmast runs MAST differential expression analyses on AWS
// Batch: it stages the expression matrix, cell metadata and a job
// manifest to an S3 workspace, submits one Batch job per analysis
// group, polls until the jobs finish and collects the resulting
// differential expression tables.
package batchmast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/fbrundu/batchmast/dataset"
	"github.com/fbrundu/batchmast/de"
	"github.com/fbrundu/batchmast/feather"
)

// Results of an unstratified run land under this group name.
const DefaultGroup = "Sheet0"

func New(store ObjectStore, runner JobRunner, config ...Config) *Client {
	// Set default config
	cfg := configDefault(config...)

	logger, _ := NewStdLogger()
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	return &Client{
		cfg:    cfg,
		store:  store,
		runner: runner,
		logger: logger,
	}
}

type Client struct {
	cfg    Config
	store  ObjectStore
	runner JobRunner
	logger Logger
}

// Run submits and collects a full analysis. Without strata it yields a
// single StratumResult; with strata it yields one per stratum column,
// in order. A collection failure is reported on the result and stops
// the run; the outstanding submissions stay journaled for Resume.
func (c *Client) Run(ctx context.Context, d *dataset.Dataset, p RunParams) (<-chan StratumResult, error) {
	p = p.withDefaults()
	if p.Group == "" {
		return nil, errors.New("group column required")
	}
	if _, err := d.ObsColumn(p.Group); err != nil {
		return nil, err
	}

	runID := uuid.NewString()

	out := make(chan StratumResult)
	go func() {
		defer close(out)

		if len(p.Strata) == 0 {
			res := c.runWhole(ctx, d, p)
			c.storeResults(ctx, runID, res)
			select {
			case out <- res:
			case <-ctx.Done():
			}
			return
		}

		for _, st := range p.Strata {
			res := c.runStratum(ctx, d, p, st)
			c.storeResults(ctx, runID, res)
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
			if res.Err != nil {
				return
			}
		}
	}()
	return out, nil
}

// RunAll drains Run, for callers that want the whole analysis at once.
func (c *Client) RunAll(ctx context.Context, d *dataset.Dataset, p RunParams) ([]StratumResult, error) {
	ch, err := c.Run(ctx, d, p)
	if err != nil {
		return nil, err
	}
	var results []StratumResult
	for res := range ch {
		results = append(results, res)
		if res.Err != nil {
			return results, res.Err
		}
	}
	return results, nil
}

func (c *Client) runWhole(ctx context.Context, d *dataset.Dataset, p RunParams) StratumResult {
	var res StratumResult

	work := d
	if p.MinPercent != nil {
		work = d.Clone()
		if err := c.filterGenes(work, p, ""); err != nil {
			res.Err = err
			return res
		}
	}

	coll := map[string]Submission{}
	if work.NumGenes() > 0 {
		sub, err := c.submitGroup(ctx, work, p, "", DefaultGroup)
		if err != nil {
			res.Err = err
			return res
		}
		coll[sub.JobID] = sub
	} else {
		c.logger.Infow("not enough genes, computation skipped")
	}

	res.Tables, res.Top, res.Err = c.prepOutput(ctx, coll, p.LFC, p.FDR)
	if res.Err == nil {
		c.consumeJournal(coll)
	}
	return res
}

func (c *Client) runStratum(ctx context.Context, d *dataset.Dataset, p RunParams, st Stratum) StratumResult {
	res := StratumResult{Stratum: st.Column}

	coll := map[string]Submission{}
	for _, value := range st.Values {
		work, err := d.Subset(st.Column, value)
		if err != nil {
			res.Err = err
			return res
		}
		if p.MinPercent != nil {
			if err := c.filterGenes(work, p, value); err != nil {
				res.Err = err
				return res
			}
		}

		counts, err := work.ValueCounts(p.Group)
		if err != nil {
			res.Err = err
			return res
		}
		enoughGroups := groupsOfAtLeast(counts, 3) > 1
		enoughGenes := work.NumGenes() > 0
		if !enoughGroups || !enoughGenes {
			c.logger.Infow("computation skipped", "stratum", st.Column, "value", value)
			continue
		}

		sub, err := c.submitGroup(ctx, work, p, st.Column, value)
		if err != nil {
			res.Err = err
			return res
		}
		coll[sub.JobID] = sub
	}

	res.Tables, res.Top, res.Err = c.prepOutput(ctx, coll, p.LFC, p.FDR)
	if res.Err == nil {
		c.consumeJournal(coll)
	}
	return res
}

// filterGenes applies the detection filter ahead of submission. The
// threshold is a fraction of either the full cell count or the
// smallest group, floored at MinCellsLimit.
func (c *Client) filterGenes(d *dataset.Dataset, p RunParams, value string) error {
	total := d.NumCells()
	if !p.OnTotal {
		min, err := d.MinGroupSize(p.Group)
		if err != nil {
			return err
		}
		total = min
	}
	minCells := math.Max(float64(total)*p.MinPercent.forValue(value), float64(p.MinCellsLimit))
	c.logger.Infow("filtering genes detected in fewer cells", "min_cells", minCells)
	d.FilterGenes(minCells)
	return nil
}

// submitGroup stages and submits one non-blocking job and journals the
// submission.
func (c *Client) submitGroup(ctx context.Context, d *dataset.Dataset, p RunParams, stratumCol, group string) (Submission, error) {
	covs := cleanCovariates(d, p.Covariates, p.Group, stratumCol)
	cr, err := c.Compute(ctx, d, ComputeParams{
		Keys:       p.Keys,
		Group:      p.Group,
		Covariates: covs,
		Jobs:       p.Jobs,
	})
	if err != nil {
		return Submission{}, err
	}

	sub := Submission{
		JobID:       cr.JobID,
		Group:       group,
		RemoteDir:   cr.RemoteDir,
		SubmittedAt: time.Now().UTC(),
	}
	if err := c.cfg.Journal.Push(sub); err != nil {
		c.logger.Warnw("journaling submission failed", "job_id", sub.JobID, "error", err)
	}
	return sub, nil
}

// Compute stages one workspace and submits one job. With Block it also
// waits for the terminal status and fetches the results on success.
func (c *Client) Compute(ctx context.Context, d *dataset.Dataset, p ComputeParams) (*ComputeResult, error) {
	if p.Jobs == 0 {
		p.Jobs = 1
	}

	remoteDir := p.RemoteDir
	skipData := remoteDir != ""
	if remoteDir == "" {
		remoteDir = path.Join("mast", uuid.NewString())
	}

	manifestKey, err := c.stage(ctx, d, remoteDir, p, skipData)
	if err != nil {
		return nil, err
	}

	jobName := fmt.Sprintf("mast-%s-%s", alnum(p.Group), alnum(p.Covariates))
	c.logger.Infow("submitting job", "job_name", jobName, "job_queue", c.cfg.JobQueue)
	jobID, err := c.runner.Submit(ctx, Job{
		Name:       jobName,
		Queue:      c.cfg.JobQueue,
		Definition: c.cfg.JobDefinition,
		Command:    []string{"s3://" + path.Join(c.cfg.Bucket, manifestKey)},
	})
	if err != nil {
		return nil, fmt.Errorf("submitting job %s: %w", jobName, err)
	}
	c.logger.Infow("submitted job", "job_name", jobName, "job_id", jobID, "job_queue", c.cfg.JobQueue)

	res := &ComputeResult{RemoteDir: remoteDir, JobID: jobID, JobName: jobName}
	if p.Block {
		status, err := c.waitTerminal(ctx, jobID)
		if err != nil {
			return res, err
		}
		if status == JobSucceeded {
			tbl, err := c.fetchResults(ctx, remoteDir)
			if err != nil {
				return res, err
			}
			res.Table = tbl
		}
	}
	return res, nil
}

// Resume re-attaches to journaled submissions and collects them. A
// failed collection puts the outstanding submissions back into the
// journal.
func (c *Client) Resume(ctx context.Context, lfc, fdr float64) (map[string]*de.Table, map[string]map[string][]string, error) {
	subs, err := c.cfg.Journal.Eject(-1)
	if err != nil {
		return nil, nil, fmt.Errorf("reading journal: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil, nil
	}

	coll := make(map[string]Submission, len(subs))
	for _, sub := range subs {
		coll[sub.JobID] = sub
	}
	c.logger.Infow("resuming collection", "jobs", len(coll))

	tables, top, err := c.prepOutput(ctx, coll, lfc, fdr)
	if err != nil {
		var ce *CollectionError
		if errors.As(err, &ce) {
			for _, sub := range ce.Collection {
				if jerr := c.cfg.Journal.Push(sub); jerr != nil {
					c.logger.Errorw("submission lost, journaling failed",
						"job_id", sub.JobID,
						"error", jerr,
					)
				}
			}
		}
		return nil, nil, err
	}
	return tables, top, nil
}

// prepOutput drains the collection, keeping succeeded tables by group
// and ranking the top genes. A collection error wraps the submissions
// still outstanding.
func (c *Client) prepOutput(parent context.Context, coll map[string]Submission, lfc, fdr float64) (map[string]*de.Table, map[string]map[string][]string, error) {
	tables := map[string]*de.Table{}

	if len(coll) > 0 {
		remaining := make(map[string]Submission, len(coll))
		for id, sub := range coll {
			remaining[id] = sub
		}

		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		for ev := range c.Collect(ctx, coll) {
			if ev.Err != nil {
				return nil, nil, &CollectionError{Collection: remaining, Err: ev.Err}
			}
			delete(remaining, ev.JobID)
			switch ev.Status {
			case JobSucceeded:
				tables[ev.Submission.Group] = ev.Table
			case JobFailed:
				c.logger.Warnw("job failed", "group", ev.Submission.Group, "job_id", ev.JobID)
			}
		}
		if len(remaining) > 0 {
			return nil, nil, &CollectionError{Collection: remaining, Err: parent.Err()}
		}
	}

	return tables, de.Filter(tables, lfc, fdr), nil
}

// consumeJournal drops the collected submissions from the journal by
// job id. Entries an interrupted earlier run left behind stay
// journaled for Resume.
func (c *Client) consumeJournal(coll map[string]Submission) {
	if len(coll) == 0 {
		return
	}
	subs, err := c.cfg.Journal.Eject(-1)
	if err != nil {
		c.logger.Warnw("consuming journal failed", "error", err)
		return
	}
	for _, sub := range subs {
		if _, ok := coll[sub.JobID]; ok {
			continue
		}
		if err := c.cfg.Journal.Push(sub); err != nil {
			c.logger.Errorw("submission lost, journaling failed",
				"job_id", sub.JobID,
				"error", err,
			)
		}
	}
}

func (c *Client) storeResults(ctx context.Context, runID string, res StratumResult) {
	if c.cfg.Sink == nil || res.Err != nil {
		return
	}
	for group, tbl := range res.Tables {
		if err := c.cfg.Sink.Store(ctx, runID, group, tbl); err != nil {
			c.logger.Warnw("storing results failed", "run", runID, "group", group, "error", err)
		}
	}
}

// stage uploads the normalized matrix, the metadata CSV and the job
// manifest to the workspace. Matrix and metadata are skipped when the
// workspace was staged by an earlier submission.
func (c *Client) stage(ctx context.Context, d *dataset.Dataset, remoteDir string, p ComputeParams, skipData bool) (string, error) {
	if !skipData {
		work := d.Clone()
		if err := work.NormalizeLog2CPM(c.cfg.Layer); err != nil {
			return "", err
		}

		var mat bytes.Buffer
		if err := feather.Write(&mat, work); err != nil {
			return "", fmt.Errorf("encoding matrix: %w", err)
		}
		c.logger.Infow("uploading matrix to s3", "cells", work.NumCells(), "genes", work.NumGenes())
		if err := c.store.Upload(ctx, path.Join(remoteDir, "mat.fth"), &mat); err != nil {
			return "", fmt.Errorf("uploading matrix: %w", err)
		}

		cdat, err := work.ObsCSV(p.Keys)
		if err != nil {
			return "", err
		}
		c.logger.Infow("uploading metadata to s3")
		if err := c.store.Upload(ctx, path.Join(remoteDir, "cdat.csv"), bytes.NewReader(cdat)); err != nil {
			return "", fmt.Errorf("uploading metadata: %w", err)
		}
	}

	manifest := Manifest{
		Bucket:     c.cfg.Bucket,
		RemoteDir:  remoteDir,
		Group:      p.Group,
		Covariates: p.Covariates,
		Jobs:       p.Jobs,
	}
	manifestKey := path.Join(remoteDir, "manifest.txt")
	c.logger.Infow("uploading manifest to s3")
	if err := c.store.Upload(ctx, manifestKey, strings.NewReader(manifest.Render())); err != nil {
		return "", fmt.Errorf("uploading manifest: %w", err)
	}
	return manifestKey, nil
}

func (c *Client) fetchResults(ctx context.Context, remoteDir string) (*de.Table, error) {
	rc, err := c.store.Download(ctx, path.Join(remoteDir, "out.csv"))
	if err != nil {
		return nil, fmt.Errorf("downloading results: %w", err)
	}
	defer rc.Close()
	return de.Parse(rc)
}

// cleanCovariates drops covariates matching the group or stratum
// column, or constant in the dataset at hand. The first split element
// is always dropped, covariates arrive with a leading "+".
func cleanCovariates(d *dataset.Dataset, covs, group, stratumCol string) string {
	var b strings.Builder
	for _, cov := range strings.Split(covs, "+")[1:] {
		if cov == group || cov == stratumCol {
			continue
		}
		if d.UniqueInObs(cov) > 1 {
			b.WriteString("+")
			b.WriteString(cov)
		}
	}
	return b.String()
}

func groupsOfAtLeast(counts map[string]int, n int) int {
	hits := 0
	for _, count := range counts {
		if count >= n {
			hits++
		}
	}
	return hits
}

func alnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
