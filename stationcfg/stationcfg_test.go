package stationcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "station.json"))
	c := s.Load()

	assert.Equal(t, "default", c.Source)
	assert.Equal(t, "", c.Process)
	assert.Empty(t, c.Available)
	assert.True(t, c.Writable)
}

func TestLoadEnvFallback(t *testing.T) {
	t.Setenv("STATION_PROCESS", "切断")
	s := New(filepath.Join(t.TempDir(), "station.json"))
	c := s.Load()

	assert.Equal(t, "env", c.Source)
	assert.Equal(t, "切断", c.Process)
	assert.Equal(t, []string{"切断"}, c.Available)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "station.json"))

	process := "溶接"
	saved, err := s.Save(&process, []string{"切断", "溶接", " 溶接 ", ""})
	require.NoError(t, err)
	assert.Equal(t, "溶接", saved.Process)
	// 空白と重複は除去される
	assert.Equal(t, []string{"切断", "溶接"}, saved.Available)
	require.NotNil(t, saved.UpdatedAt)

	loaded := s.Load()
	assert.Equal(t, "file", loaded.Source)
	assert.Equal(t, "溶接", loaded.Process)
	assert.Equal(t, []string{"切断", "溶接"}, loaded.Available)
}

func TestSaveAddsSelectedProcessToAvailable(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "station.json"))

	process := "検査"
	saved, err := s.Save(&process, []string{"切断"})
	require.NoError(t, err)
	assert.Contains(t, saved.Available, "検査")
}

func TestLoadBrokenFileReportsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c := New(path).Load()
	assert.Equal(t, "error", c.Source)
	assert.NotEmpty(t, c.Error)
}

func TestEnsureProcess(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "station.json"))

	process := "切断"
	_, err := s.Save(&process, nil)
	require.NoError(t, err)

	require.NoError(t, s.EnsureProcess("研磨"))
	c := s.Load()
	// 選択は変わらず候補にだけ追加される
	assert.Equal(t, "切断", c.Process)
	assert.Contains(t, c.Available, "研磨")
}
