// Package stationcfg はステーションの工程選択設定 (station.json) を扱う
package stationcfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config API レスポンスにそのまま使う形
type Config struct {
	Process   string   `json:"process"`
	Available []string `json:"available"`
	UpdatedAt *string  `json:"updated_at"`
	Source    string   `json:"source"` // file / env / default / error
	Error     string   `json:"error,omitempty"`
	Path      string   `json:"path"`
	Writable  bool     `json:"writable"`
}

type filePayload struct {
	Process   string   `json:"process"`
	Available []string `json:"available"`
	UpdatedAt string   `json:"updated_at"`
}

type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) defaults() Config {
	c := Config{
		Available: []string{},
		Source:    "default",
		Path:      s.path,
		Writable:  s.writable(),
	}
	if p := strings.TrimSpace(os.Getenv("STATION_PROCESS")); p != "" {
		c.Process = p
		c.Available = []string{p}
		c.Source = "env"
	}
	return c
}

func (s *Store) Load() Config {
	c := s.defaults()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return c
	}
	if err != nil {
		c.Error = fmt.Sprintf("station.json を読み込めませんでした: %v", err)
		c.Source = "error"
		return c
	}

	var p filePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.Error = fmt.Sprintf("station.json を読み込めませんでした: %v", err)
		c.Source = "error"
		return c
	}

	process := strings.TrimSpace(p.Process)
	available := sanitize(p.Available)
	if process != "" && !contains(available, process) {
		available = append(available, process)
	}

	c.Process = process
	c.Available = available
	c.Source = "file"
	if p.UpdatedAt != "" {
		u := p.UpdatedAt
		c.UpdatedAt = &u
	}
	return c
}

// Save process / available を更新して書き戻す。nil の引数は現状維持
func (s *Store) Save(process *string, available []string) (Config, error) {
	if !s.writable() {
		return Config{}, fmt.Errorf("station.json に書き込みできません: %s", s.path)
	}
	current := s.Load()
	if current.Source == "error" {
		current = s.defaults()
	}

	newProcess := current.Process
	if process != nil {
		newProcess = strings.TrimSpace(*process)
	}
	newAvailable := current.Available
	if available != nil {
		newAvailable = sanitize(available)
	}
	if newProcess != "" && !contains(newAvailable, newProcess) {
		newAvailable = append(newAvailable, newProcess)
	}

	now := time.Now().Format("2006-01-02T15:04:05")
	payload := filePayload{Process: newProcess, Available: newAvailable, UpdatedAt: now}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Config{}, err
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return Config{}, err
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return Config{}, err
	}

	return Config{
		Process:   newProcess,
		Available: newAvailable,
		UpdatedAt: &now,
		Source:    "file",
		Path:      s.path,
		Writable:  true,
	}, nil
}

// EnsureProcess 選択は変えずに候補へ追加だけする
func (s *Store) EnsureProcess(process string) error {
	c := s.Load()
	if contains(c.Available, process) {
		return nil
	}
	p := c.Process
	_, err := s.Save(&p, append(c.Available, process))
	return err
}

func (s *Store) writable() bool {
	if _, err := os.Stat(s.path); err == nil {
		f, err := os.OpenFile(s.path, os.O_WRONLY, 0)
		if err != nil {
			return false
		}
		f.Close()
		return true
	}
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	tmp, err := os.CreateTemp(dir, ".wtest-*")
	if err != nil {
		return false
	}
	tmp.Close()
	os.Remove(tmp.Name())
	return true
}

func sanitize(values []string) []string {
	cleaned := []string{}
	for _, v := range values {
		name := strings.TrimSpace(v)
		if name != "" && !contains(cleaned, name) {
			cleaned = append(cleaned, name)
		}
	}
	return cleaned
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
