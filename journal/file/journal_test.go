package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbrundu/batchmast"
)

func sub(jobID string) batchmast.Submission {
	return batchmast.Submission{
		JobID:       jobID,
		Group:       "t1",
		RemoteDir:   "mast/ws",
		SubmittedAt: time.Date(2021, 4, 29, 20, 1, 34, 0, time.UTC),
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := NewJournalByKey("queue", Config{Workspace: dir})
	require.NoError(t, err)
	require.NoError(t, j.Push(sub("job-1")))
	require.NoError(t, j.Push(sub("job-2")))

	// drop one before the "restart"
	ejected, err := j.Eject(1)
	require.NoError(t, err)
	require.Len(t, ejected, 1)
	assert.Equal(t, "job-1", ejected[0].JobID)

	reopened, err := NewJournalByKey("queue", Config{Workspace: dir})
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	subs, err := reopened.Eject(-1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub("job-2"), subs[0])
}

func TestJournalKeysDoNotCollide(t *testing.T) {
	dir := t.TempDir()

	j1, err := NewJournalByKey("queue-a", Config{Workspace: dir})
	require.NoError(t, err)
	j2, err := NewJournalByKey("queue-b", Config{Workspace: dir})
	require.NoError(t, err)

	require.NoError(t, j1.Push(sub("job-a")))
	assert.Equal(t, 1, j1.Len())
	assert.Equal(t, 0, j2.Len())
}

func TestJournalCorruptFileMovedAside(t *testing.T) {
	dir := t.TempDir()

	j, err := NewJournalByKey("queue", Config{Workspace: dir})
	require.NoError(t, err)
	require.NoError(t, j.Push(sub("job-1")))

	names, err := filepath.Glob(filepath.Join(dir, "*.jnl"))
	require.NoError(t, err)
	require.Len(t, names, 1)

	// flip a byte in the record area so the checksum no longer matches
	data, err := os.ReadFile(names[0])
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(names[0], data, os.ModePerm))

	reopened, err := NewJournalByKey("queue", Config{Workspace: dir})
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.Len())

	corrupt, err := filepath.Glob(filepath.Join(dir, "*.corrupt"))
	require.NoError(t, err)
	assert.Len(t, corrupt, 1)
}
