package plancache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSampleData(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "production_plan.csv"),
		[]byte("date,item,qty\n2025-01-06,BRACKET-A,120\n2025-01-06,SHAFT-B,40\n"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "standard_times.csv"),
		[]byte("item,process,minutes\nBRACKET-A,切断,12\n"), 0o644))
}

func TestMaybeRefreshFromFileSource(t *testing.T) {
	remote := t.TempDir()
	writeSampleData(t, remote)
	dataDir := t.TempDir()

	c := New(Options{
		DataDir:         dataDir,
		RemoteBase:      "file://" + remote,
		RefreshInterval: time.Second,
	})
	c.MaybeRefresh(context.Background())

	assert.FileExists(t, filepath.Join(dataDir, "production_plan.csv"))
	assert.FileExists(t, filepath.Join(dataDir, "standard_times.csv"))
	assert.FileExists(t, filepath.Join(dataDir, "remote_meta.json"))
}

func TestMaybeRefreshHonorsInterval(t *testing.T) {
	remote := t.TempDir()
	writeSampleData(t, remote)
	dataDir := t.TempDir()

	c := New(Options{
		DataDir:         dataDir,
		RemoteBase:      "file://" + remote,
		RefreshInterval: time.Hour,
	})
	c.MaybeRefresh(context.Background())

	// リモート側を書き換えてもインターバル内は再取得しない
	require.NoError(t, os.WriteFile(
		filepath.Join(remote, "production_plan.csv"),
		[]byte("date,item,qty\n2025-02-01,NEW,1\n"), 0o644))
	c.MaybeRefresh(context.Background())

	ds, err := c.LoadDataset("production_plan")
	require.NoError(t, err)
	require.NotEmpty(t, ds.Entries)
	assert.Equal(t, "BRACKET-A", ds.Entries[0]["item"])
}

func TestMaybeRefreshNoRemoteConfigured(t *testing.T) {
	dataDir := t.TempDir()
	c := New(Options{DataDir: dataDir})
	c.MaybeRefresh(context.Background())

	assert.NoFileExists(t, filepath.Join(dataDir, "remote_meta.json"))
}

func TestLoadDataset(t *testing.T) {
	dataDir := t.TempDir()
	writeSampleData(t, dataDir)
	c := New(Options{DataDir: dataDir})

	ds, err := c.LoadDataset("production_plan")
	require.NoError(t, err)
	assert.Equal(t, []string{"date", "item", "qty"}, ds.Columns)
	require.Len(t, ds.Entries, 2)
	assert.Equal(t, "120", ds.Entries[0]["qty"])

	std, err := c.LoadDataset("standard_times")
	require.NoError(t, err)
	require.Len(t, std.Entries, 1)
	assert.Equal(t, "切断", std.Entries[0]["process"])
}

func TestLoadDatasetMissingFileIsEmpty(t *testing.T) {
	c := New(Options{DataDir: t.TempDir()})
	ds, err := c.LoadDataset("production_plan")
	require.NoError(t, err)
	assert.Empty(t, ds.Entries)
}

func TestLoadDatasetUnknownKey(t *testing.T) {
	c := New(Options{DataDir: t.TempDir()})
	_, err := c.LoadDataset("nope")
	assert.Error(t, err)
}
