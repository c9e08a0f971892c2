package batchmast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbrundu/batchmast/dataset"
)

func covTestDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	d, err := dataset.New(
		[][]float64{{1, 0}, {0, 2}, {3, 1}, {2, 2}},
		[]string{"c1", "c2", "c3", "c4"},
		[]string{"g1", "g2"},
	)
	require.NoError(t, err)
	require.NoError(t, d.SetObs("condition", []string{"a", "a", "b", "b"}))
	require.NoError(t, d.SetObs("donor", []string{"d1", "d2", "d1", "d2"}))
	require.NoError(t, d.SetObs("batch", []string{"x", "x", "x", "x"}))
	require.NoError(t, d.SetObs("tissue", []string{"t1", "t1", "t2", "t2"}))
	return d
}

func TestCleanCovariates(t *testing.T) {
	d := covTestDataset(t)

	tests := []struct {
		name       string
		covs       string
		group      string
		stratumCol string
		want       string
	}{
		{name: "Empty", covs: "", group: "condition", want: ""},
		{name: "Kept", covs: "+donor", group: "condition", want: "+donor"},
		{name: "GroupDropped", covs: "+condition+donor", group: "condition", want: "+donor"},
		{name: "StratumDropped", covs: "+tissue+donor", group: "condition", stratumCol: "tissue", want: "+donor"},
		{name: "ConstantDropped", covs: "+batch+donor", group: "condition", want: "+donor"},
		{name: "MissingDropped", covs: "+nosuch+donor", group: "condition", want: "+donor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanCovariates(d, tt.covs, tt.group, tt.stratumCol))
		})
	}
}

func TestAlnum(t *testing.T) {
	assert.Equal(t, "celltype", alnum("cell_type"))
	assert.Equal(t, "donorsex", alnum("+donor+sex"))
	assert.Equal(t, "", alnum("+_~"))
}

func TestConfigDefaultJournal(t *testing.T) {
	// the zero-arg path needs a journal too
	cfg := configDefault()
	require.NotNil(t, cfg.Journal)

	cfg = configDefault(Config{JobQueue: "q"})
	require.NotNil(t, cfg.Journal)
	assert.Equal(t, "q", cfg.JobQueue)

	jnl := NewMemoryJournal()
	cfg = configDefault(Config{Journal: jnl})
	assert.Same(t, jnl, cfg.Journal)
}

func TestNewWithoutConfig(t *testing.T) {
	client := New(nil, nil)
	require.NotNil(t, client.cfg.Journal)

	require.NoError(t, client.cfg.Journal.Push(Submission{JobID: "job-1"}))
	subs, err := client.cfg.Journal.Eject(-1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "job-1", subs[0].JobID)
}

func TestGroupsOfAtLeast(t *testing.T) {
	counts := map[string]int{"a": 5, "b": 3, "c": 2}
	assert.Equal(t, 2, groupsOfAtLeast(counts, 3))
	assert.Equal(t, 3, groupsOfAtLeast(counts, 1))
	assert.Equal(t, 0, groupsOfAtLeast(map[string]int{}, 3))
}
