package tokenstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api_token.json")
	s, err := Load(path)
	require.NoError(t, err)
	return s
}

func TestIssueDefaultRevokesExisting(t *testing.T) {
	s := tempStore(t)

	first, err := s.Issue("CUTTING-01", "", false)
	require.NoError(t, err)
	second, err := s.Issue("CUTTING-01", "rotate", false)
	require.NoError(t, err)

	active := s.ActiveTokens()
	require.Len(t, active, 1, "keep_existing なしの発行は既存を全て失効させる")
	assert.Equal(t, second.Token, active[0].Token)

	assert.False(t, s.Validate(first.Token))
	assert.True(t, s.Validate(second.Token))
}

func TestIssueKeepExisting(t *testing.T) {
	s := tempStore(t)

	first, err := s.Issue("CUTTING-01", "", false)
	require.NoError(t, err)
	second, err := s.Issue("CUTTING-01", "extra", true)
	require.NoError(t, err)

	assert.Len(t, s.ActiveTokens(), 2)
	assert.True(t, s.Validate(first.Token))
	assert.True(t, s.Validate(second.Token))
}

func TestRevokeSingleAndAll(t *testing.T) {
	s := tempStore(t)

	first, _ := s.Issue("A", "", false)
	second, _ := s.Issue("A", "", true)

	require.NoError(t, s.Revoke(first.Token))
	assert.False(t, s.Validate(first.Token))
	assert.True(t, s.Validate(second.Token))

	assert.ErrorIs(t, s.Revoke("no-such-token"), ErrTokenNotFound)

	require.NoError(t, s.RevokeAll())
	assert.Empty(t, s.ActiveTokens())
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_token.json")
	s, err := Load(path)
	require.NoError(t, err)

	entry, err := s.Issue("PI-02", "工場2F", false)
	require.NoError(t, err)

	// 読み直しても同じ状態になる
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Validate(entry.Token))
	active := reloaded.ActiveTokens()
	require.Len(t, active, 1)
	assert.Equal(t, "PI-02", active[0].StationID)
	assert.Equal(t, "工場2F", active[0].Note)
}

func TestLegacySingleTokenMigration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api_token.json")

	legacy := map[string]string{
		"token":      "legacy-token-value",
		"station_id": "OLD-01",
		"issued_at":  "2024-05-01T09:00:00Z",
		"note":       "移行前",
	}
	b, _ := json.Marshal(legacy)
	require.NoError(t, os.WriteFile(path, b, 0o600))

	s, err := Load(path)
	require.NoError(t, err)

	active := s.ActiveTokens()
	require.Len(t, active, 1)
	assert.Equal(t, "legacy-token-value", active[0].Token)
	assert.Equal(t, "OLD-01", active[0].StationID)
	assert.True(t, s.Validate("legacy-token-value"))

	// 移行後は現行スキーマで書き戻されている
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var f struct {
		Version int `json:"version"`
	}
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, 2, f.Version)
}

func TestEnvFallbackWhenNoFile(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "env-token")
	s, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.True(t, s.Validate("env-token"))
	assert.False(t, s.Validate("wrong"))

	// ファイルにトークンがあれば環境変数は見ない
	_, err = s.Issue("A", "", false)
	require.NoError(t, err)
	assert.False(t, s.Validate("env-token"))
}

func TestValidateRejectsEmpty(t *testing.T) {
	s := tempStore(t)
	assert.False(t, s.Validate(""))
}

func TestInfoMasksToken(t *testing.T) {
	s := tempStore(t)
	entry, _ := s.Issue("PI-01", "", false)

	info := s.Info()
	assert.Equal(t, "file", info["source"])
	assert.NotEqual(t, entry.Token, info["token"])
	assert.Equal(t, entry.Token[:4]+"***", info["token"])
}
