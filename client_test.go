package batchmast_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbrundu/batchmast"
	"github.com/fbrundu/batchmast/dataset"
	"github.com/fbrundu/batchmast/fake"
)

const outCSV = ",condA_coef,condA_fdr\n" +
	"g3,2.0,0.001\n" +
	"g1,1.5,0.01\n" +
	"g2,0.2,0.5\n"

func serveResults(key string) ([]byte, error) {
	if strings.HasSuffix(key, "/out.csv") {
		return []byte(outCSV), nil
	}
	return nil, fmt.Errorf("no such object: %s", key)
}

// 12 cells over two tissues, two condition levels of three cells each
// per tissue.
func testDataset(t *testing.T) *dataset.Dataset {
	t.Helper()

	cells := make([]string, 12)
	x := make([][]float64, 12)
	condition := make([]string, 12)
	tissue := make([]string, 12)
	for i := range cells {
		cells[i] = fmt.Sprintf("c%02d", i+1)
		x[i] = []float64{float64(i + 1), float64(2 * (i + 1)), 1}
		if i%6 < 3 {
			condition[i] = "a"
		} else {
			condition[i] = "b"
		}
		if i < 6 {
			tissue[i] = "t1"
		} else {
			tissue[i] = "t2"
		}
	}

	d, err := dataset.New(x, cells, []string{"g1", "g2", "g3"})
	require.NoError(t, err)

	counts := make([][]float64, len(x))
	for i, row := range x {
		counts[i] = append([]float64(nil), row...)
	}
	require.NoError(t, d.SetLayer("counts", counts))
	require.NoError(t, d.SetObs("condition", condition))
	require.NoError(t, d.SetObs("tissue", tissue))
	return d
}

func testConfig(jnl batchmast.Journal) batchmast.Config {
	return batchmast.Config{
		JobQueue:      "mast-queue",
		JobDefinition: "mast-def",
		Bucket:        "exp-bucket",
		PollInterval:  time.Millisecond,
		Journal:       jnl,
	}
}

func TestClientCompute(t *testing.T) {
	store := fake.NewStore()
	runner := fake.NewRunner()
	client := batchmast.New(store, runner, testConfig(nil))

	res, err := client.Compute(context.Background(), testDataset(t), batchmast.ComputeParams{
		Keys:       []string{"condition"},
		Group:      "condition",
		Covariates: "+tissue",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, "mast-condition-tissue", res.JobName)
	assert.True(t, strings.HasPrefix(res.RemoteDir, "mast/"))
	assert.Nil(t, res.Table)

	assert.Contains(t, store.Objects, res.RemoteDir+"/mat.fth")
	assert.Contains(t, store.Objects, res.RemoteDir+"/cdat.csv")
	require.Contains(t, store.Objects, res.RemoteDir+"/manifest.txt")
	manifest := string(store.Objects[res.RemoteDir+"/manifest.txt"])
	assert.Contains(t, manifest, "WORKSPACE=exp-bucket/"+res.RemoteDir)
	assert.Contains(t, manifest, "MODEL='~group+n_genes+tissue'")
	assert.Contains(t, manifest, "JOBS=1")

	require.Len(t, runner.Jobs, 1)
	job := runner.Jobs[0]
	assert.Equal(t, "mast-queue", job.Queue)
	assert.Equal(t, "mast-def", job.Definition)
	assert.Equal(t, []string{"s3://exp-bucket/" + res.RemoteDir + "/manifest.txt"}, job.Command)
}

func TestClientComputeReusesWorkspace(t *testing.T) {
	store := fake.NewStore()
	runner := fake.NewRunner()
	client := batchmast.New(store, runner, testConfig(nil))

	res, err := client.Compute(context.Background(), testDataset(t), batchmast.ComputeParams{
		Keys:      []string{"condition"},
		Group:     "condition",
		RemoteDir: "mast/preset",
	})
	require.NoError(t, err)

	assert.Equal(t, "mast/preset", res.RemoteDir)
	assert.NotContains(t, store.Objects, "mast/preset/mat.fth")
	assert.NotContains(t, store.Objects, "mast/preset/cdat.csv")
	assert.Contains(t, store.Objects, "mast/preset/manifest.txt")
}

func TestClientComputeBlocking(t *testing.T) {
	store := fake.NewStore()
	store.DownloadFunc = serveResults
	runner := fake.NewRunner()
	runner.Script(batchmast.JobRunning, batchmast.JobSucceeded)
	client := batchmast.New(store, runner, testConfig(nil))

	res, err := client.Compute(context.Background(), testDataset(t), batchmast.ComputeParams{
		Keys:  []string{"condition"},
		Group: "condition",
		Block: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Table)
	assert.Equal(t, []string{"condA"}, res.Table.Contrasts())
}

func TestClientRun(t *testing.T) {
	store := fake.NewStore()
	store.DownloadFunc = serveResults
	runner := fake.NewRunner()
	jnl := batchmast.NewMemoryJournal()
	client := batchmast.New(store, runner, testConfig(jnl))

	results, err := client.RunAll(context.Background(), testDataset(t), batchmast.RunParams{
		Keys:  []string{"condition"},
		Group: "condition",
		FDR:   0.05,
		LFC:   0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Empty(t, res.Stratum)
	require.Contains(t, res.Tables, batchmast.DefaultGroup)
	assert.Equal(t, []string{"g3", "g1"}, res.Top[batchmast.DefaultGroup]["condA"])

	// the collected submission is consumed from the journal
	assert.Zero(t, jnl.Len())
}

func TestClientRunStratified(t *testing.T) {
	store := fake.NewStore()
	store.DownloadFunc = serveResults
	runner := fake.NewRunner()
	client := batchmast.New(store, runner, testConfig(nil))

	results, err := client.RunAll(context.Background(), testDataset(t), batchmast.RunParams{
		Keys:       []string{"condition"},
		Group:      "condition",
		Covariates: "+tissue",
		FDR:        0.05,
		LFC:        0.5,
		Strata: []batchmast.Stratum{
			// t3 has no cells and is skipped
			{Column: "tissue", Values: []string{"t1", "t2", "t3"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "tissue", res.Stratum)
	assert.Contains(t, res.Tables, "t1")
	assert.Contains(t, res.Tables, "t2")
	assert.NotContains(t, res.Tables, "t3")
	assert.Len(t, runner.Jobs, 2)

	// the tissue covariate is constant within a stratum and dropped
	for _, key := range store.Keys("manifest.txt") {
		assert.Contains(t, string(store.Objects[key]), "MODEL='~group+n_genes'")
	}
}

func TestClientRunFailedJob(t *testing.T) {
	store := fake.NewStore()
	store.DownloadFunc = serveResults
	runner := fake.NewRunner()
	runner.Script(batchmast.JobFailed)
	client := batchmast.New(store, runner, testConfig(nil))

	results, err := client.RunAll(context.Background(), testDataset(t), batchmast.RunParams{
		Keys:  []string{"condition"},
		Group: "condition",
		FDR:   0.05,
		LFC:   0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// the failed group is reported, not collected
	assert.Empty(t, results[0].Tables)
	assert.NoError(t, results[0].Err)
}

func TestClientRunNoGenesLeft(t *testing.T) {
	store := fake.NewStore()
	runner := fake.NewRunner()
	client := batchmast.New(store, runner, testConfig(nil))

	// nothing is detected anywhere, the filter drops every gene
	d, err := dataset.New(
		[][]float64{{0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 0}},
		[]string{"c1", "c2", "c3", "c4", "c5", "c6"},
		[]string{"g1", "g2"},
	)
	require.NoError(t, err)
	require.NoError(t, d.SetLayer("counts", [][]float64{{0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 0}}))
	require.NoError(t, d.SetObs("condition", []string{"a", "a", "a", "b", "b", "b"}))

	results, err := client.RunAll(context.Background(), d, batchmast.RunParams{
		Keys:       []string{"condition"},
		Group:      "condition",
		FDR:        0.05,
		LFC:        0.5,
		MinPercent: &batchmast.MinPercent{Global: 0.5},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Tables)
	assert.Empty(t, runner.Jobs)
}

func TestClientRunCollectionErrorAndResume(t *testing.T) {
	store := fake.NewStore()
	store.DownloadFunc = serveResults
	runner := fake.NewRunner()
	jnl := batchmast.NewMemoryJournal()
	client := batchmast.New(store, runner, testConfig(jnl))

	statusErr := errors.New("throttled")
	runner.StatusErr = statusErr

	_, err := client.RunAll(context.Background(), testDataset(t), batchmast.RunParams{
		Keys:  []string{"condition"},
		Group: "condition",
		FDR:   0.05,
		LFC:   0.5,
	})
	require.Error(t, err)

	var ce *batchmast.CollectionError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, statusErr)
	assert.Len(t, ce.Collection, 1)

	// the submission survived in the journal and can be collected once
	// the runner recovers
	require.Equal(t, 1, jnl.Len())
	runner.StatusErr = nil

	tables, top, err := client.Resume(context.Background(), 0.5, 0.05)
	require.NoError(t, err)
	require.Contains(t, tables, batchmast.DefaultGroup)
	assert.Equal(t, []string{"g3", "g1"}, top[batchmast.DefaultGroup]["condA"])
	assert.Zero(t, jnl.Len())
}

func TestClientRunAfterCrashKeepsStaleSubmissions(t *testing.T) {
	store := fake.NewStore()
	store.DownloadFunc = serveResults
	runner := fake.NewRunner()
	jnl := batchmast.NewMemoryJournal()
	client := batchmast.New(store, runner, testConfig(jnl))

	// left behind by an interrupted earlier run on the same journal
	stale := batchmast.Submission{JobID: "job-stale", Group: "Sheet0", RemoteDir: "mast/stale"}
	require.NoError(t, jnl.Push(stale))

	results, err := client.RunAll(context.Background(), testDataset(t), batchmast.RunParams{
		Keys:  []string{"condition"},
		Group: "condition",
		FDR:   0.05,
		LFC:   0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Tables, batchmast.DefaultGroup)

	// the new run consumes only its own submissions; the stale one
	// stays journaled for resume
	subs, err := jnl.Eject(-1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "job-stale", subs[0].JobID)
}

func TestClientCollectEvents(t *testing.T) {
	store := fake.NewStore()
	store.DownloadFunc = serveResults
	runner := fake.NewRunner()
	client := batchmast.New(store, runner, testConfig(nil))

	ctx := context.Background()

	runner.Script(batchmast.JobSucceeded)
	okID, err := runner.Submit(ctx, batchmast.Job{Name: "ok"})
	require.NoError(t, err)
	runner.Script(batchmast.JobRunning, batchmast.JobFailed)
	failID, err := runner.Submit(ctx, batchmast.Job{Name: "fail"})
	require.NoError(t, err)

	coll := map[string]batchmast.Submission{
		okID:   {JobID: okID, Group: "g-ok", RemoteDir: "mast/ok"},
		failID: {JobID: failID, Group: "g-fail", RemoteDir: "mast/fail"},
	}

	events := map[string]batchmast.CollectEvent{}
	for ev := range client.Collect(ctx, coll) {
		require.NoError(t, ev.Err)
		events[ev.JobID] = ev
	}
	require.Len(t, events, 2)

	assert.Equal(t, batchmast.JobSucceeded, events[okID].Status)
	assert.NotNil(t, events[okID].Table)
	assert.Equal(t, batchmast.JobFailed, events[failID].Status)
	assert.Nil(t, events[failID].Table)
}
