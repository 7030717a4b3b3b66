// Package tokenstore はステーション毎の API トークンを JSON ファイルで管理する。
// 現行スキーマは version 2 の追記型ログで、旧来の単一トークン形式のファイルは
// 読み込み時に一度だけ移行する。呼び出し側がファイル形式を意識することはない
package tokenstore

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const currentVersion = 2

var ErrTokenNotFound = errors.New("token not found")

type Entry struct {
	Token     string     `json:"token"`
	StationID string     `json:"station_id"`
	IssuedAt  time.Time  `json:"issued_at"`
	Note      string     `json:"note,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (e Entry) Active() bool { return e.RevokedAt == nil && e.Token != "" }

type fileSchema struct {
	Version int     `json:"version"`
	Tokens  []Entry `json:"tokens"`
}

// 旧形式: トークン1件だけのフラットな JSON
type legacySchema struct {
	Token     string `json:"token"`
	StationID string `json:"station_id"`
	IssuedAt  string `json:"issued_at"`
	Note      string `json:"note"`
}

type Store struct {
	mu       sync.RWMutex
	path     string
	entries  []Entry
	envToken string // ファイルが無いときのフォールバック (API_AUTH_TOKEN)
}

// Load ファイルを読み込み正規化した Store を返す。ファイルが無いのはエラーではない
func Load(path string) (*Store, error) {
	s := &Store{path: path, envToken: os.Getenv("API_AUTH_TOKEN")}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var f fileSchema
	if err := json.Unmarshal(raw, &f); err == nil && f.Version == currentVersion {
		s.entries = f.Tokens
		return s, nil
	}

	// 旧形式からの移行
	var legacy legacySchema
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", path, err)
	}
	if legacy.Token != "" {
		issued := time.Now().UTC()
		if t, err := time.Parse(time.RFC3339, legacy.IssuedAt); err == nil {
			issued = t
		}
		s.entries = []Entry{{
			Token:     legacy.Token,
			StationID: legacy.StationID,
			IssuedAt:  issued,
			Note:      legacy.Note,
		}}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("migrate token file: %w", err)
		}
	}
	return s, nil
}

// Issue 新しいトークンを発行して保存する。keepExisting が false の場合は
// 既存の有効トークンを全て失効させる（1ファイル1有効トークンが既定）
func (s *Store) Issue(stationID, note string, keepExisting bool) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if !keepExisting {
		for i := range s.entries {
			if s.entries[i].Active() {
				t := now
				s.entries[i].RevokedAt = &t
			}
		}
	}
	e := Entry{
		Token:     generateToken(),
		StationID: stationID,
		IssuedAt:  now,
		Note:      note,
	}
	s.entries = append(s.entries, e)
	if err := s.save(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *Store) Revoke(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].Token == token && s.entries[i].Active() {
			now := time.Now().UTC()
			s.entries[i].RevokedAt = &now
			return s.save()
		}
	}
	return ErrTokenNotFound
}

func (s *Store) RevokeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	now := time.Now().UTC()
	for i := range s.entries {
		if s.entries[i].Active() {
			t := now
			s.entries[i].RevokedAt = &t
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save()
}

func (s *Store) ActiveTokens() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Active() {
			out = append(out, e)
		}
	}
	return out
}

// Validate 有効トークンとの定数時間比較。ブロックしない純粋な判定で、
// ペアリングの並行制御には一切関与しない
func (s *Store) Validate(presented string) bool {
	if presented == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ok := false
	for _, e := range s.entries {
		if e.Active() && subtle.ConstantTimeCompare([]byte(e.Token), []byte(presented)) == 1 {
			ok = true
		}
	}
	if len(s.entries) == 0 && s.envToken != "" {
		if subtle.ConstantTimeCompare([]byte(s.envToken), []byte(presented)) == 1 {
			ok = true
		}
	}
	return ok
}

// Info 管理 API の表示用。トークン本体はマスクする
func (s *Store) Info() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source := "file"
	if len(s.entries) == 0 {
		if s.envToken != "" {
			source = "env"
		} else {
			source = "none"
		}
	}
	active := 0
	var latest *Entry
	for i := range s.entries {
		if s.entries[i].Active() {
			active++
			latest = &s.entries[i]
		}
	}
	info := map[string]any{
		"path":          s.path,
		"source":        source,
		"total_tokens":  len(s.entries),
		"active_tokens": active,
	}
	if latest != nil {
		info["station_id"] = latest.StationID
		info["issued_at"] = latest.IssuedAt
		info["token"] = mask(latest.Token)
		if latest.Note != "" {
			info["note"] = latest.Note
		}
	}
	return info
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(fileSchema{Version: currentVersion, Tokens: s.entries}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o600)
}

func generateToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func mask(token string) string {
	if len(token) > 4 {
		return token[:4] + "***"
	}
	return "***"
}
