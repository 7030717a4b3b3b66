// Package plancache は生産計画/標準工数 CSV のリモート取得とローカルキャッシュ
package plancache

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const metaFileName = "remote_meta.json"

// Datasets キャッシュ対象のデータセット名 → ファイル名
var Datasets = map[string]string{
	"production_plan": "production_plan.csv",
	"standard_times":  "standard_times.csv",
}

type Options struct {
	DataDir         string
	RemoteBase      string // 空ならリモート取得なし。file:// も可
	RemoteToken     string
	RemoteTimeout   time.Duration
	RefreshInterval time.Duration
}

func OptionsFromEnv() Options {
	o := Options{
		DataDir:         getenv("PLAN_DATA_DIR", "/var/lib/toolmgmt/plan"),
		RemoteBase:      strings.TrimRight(os.Getenv("PLAN_REMOTE_BASE_URL"), "/"),
		RemoteToken:     os.Getenv("PLAN_REMOTE_TOKEN"),
		RemoteTimeout:   5 * time.Second,
		RefreshInterval: 600 * time.Second,
	}
	if v := os.Getenv("PLAN_REMOTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			o.RemoteTimeout = d
		}
	}
	if v := os.Getenv("PLAN_REMOTE_REFRESH_SECONDS"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			o.RefreshInterval = d
		}
	}
	return o
}

type refreshMeta struct {
	FetchedAt   float64            `json:"fetched_at"`
	DatasetMeta map[string]float64 `json:"dataset_meta"`
}

type Cache struct {
	opts   Options
	client *http.Client
}

func New(opts Options) *Cache {
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = 5 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 600 * time.Second
	}
	return &Cache{opts: opts, client: &http.Client{Timeout: opts.RemoteTimeout}}
}

func (c *Cache) metaPath() string { return filepath.Join(c.opts.DataDir, metaFileName) }

func (c *Cache) loadMeta() refreshMeta {
	meta := refreshMeta{DatasetMeta: map[string]float64{}}
	raw, err := os.ReadFile(c.metaPath())
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return refreshMeta{DatasetMeta: map[string]float64{}}
	}
	if meta.DatasetMeta == nil {
		meta.DatasetMeta = map[string]float64{}
	}
	return meta
}

func (c *Cache) saveMeta(meta refreshMeta) error {
	if err := os.MkdirAll(c.opts.DataDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.metaPath(), b, 0o644)
}

func (c *Cache) shouldRefresh(meta refreshMeta) bool {
	if c.opts.RemoteBase == "" {
		return false
	}
	if meta.FetchedAt <= 0 {
		return true
	}
	return time.Since(time.Unix(int64(meta.FetchedAt), 0)) >= c.opts.RefreshInterval
}

// MaybeRefresh 取得間隔を過ぎていればリモートからキャッシュを更新する。
// 失敗しても既存キャッシュで動き続けるのでエラーはログのみ
func (c *Cache) MaybeRefresh(ctx context.Context) {
	meta := c.loadMeta()
	if !c.shouldRefresh(meta) {
		return
	}
	log.Println("[plan-cache] remote refresh start")

	for key, filename := range Datasets {
		data, err := c.download(ctx, filename)
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[plan-cache] %s not found in remote source", filename)
			continue
		}
		if err != nil {
			log.Printf("[plan-cache] refresh aborted: %v", err)
			return
		}

		target := filepath.Join(c.opts.DataDir, filename)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			log.Printf("[plan-cache] refresh aborted: %v", err)
			return
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			log.Printf("[plan-cache] refresh aborted: %v", err)
			return
		}
		meta.DatasetMeta[key] = float64(time.Now().Unix())
		log.Printf("[plan-cache] updated %s (%d bytes)", filename, len(data))
	}

	meta.FetchedAt = float64(time.Now().Unix())
	if err := c.saveMeta(meta); err != nil {
		log.Printf("[plan-cache] refresh aborted: %v", err)
		return
	}
	log.Println("[plan-cache] remote refresh finished")
}

func (c *Cache) download(ctx context.Context, filename string) ([]byte, error) {
	if strings.HasPrefix(c.opts.RemoteBase, "file://") {
		return os.ReadFile(filepath.Join(strings.TrimPrefix(c.opts.RemoteBase, "file://"), filename))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.RemoteBase+"/"+filename, nil)
	if err != nil {
		return nil, err
	}
	if c.opts.RemoteToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.RemoteToken)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, os.ErrNotExist
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: HTTP %d", filename, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// RunRefreshLoop バックグラウンドで定期更新。ctx キャンセルで戻る
func (c *Cache) RunRefreshLoop(ctx context.Context) {
	c.MaybeRefresh(ctx)
	t := time.NewTicker(c.opts.RefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.MaybeRefresh(ctx)
		}
	}
}

// Dataset ヘッダー行つき CSV の汎用ビュー
type Dataset struct {
	Columns []string            `json:"columns"`
	Entries []map[string]string `json:"entries"`
}

// LoadDataset キャッシュ済み CSV を読み込む。無ければ空データセット
func (c *Cache) LoadDataset(key string) (Dataset, error) {
	filename, ok := Datasets[key]
	if !ok {
		return Dataset{}, fmt.Errorf("unknown dataset: %s", key)
	}
	f, err := os.Open(filepath.Join(c.opts.DataDir, filename))
	if errors.Is(err, os.ErrNotExist) {
		return Dataset{Columns: []string{}, Entries: []map[string]string{}}, nil
	}
	if err != nil {
		return Dataset{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return Dataset{}, err
	}
	if len(rows) == 0 {
		return Dataset{Columns: []string{}, Entries: []map[string]string{}}, nil
	}

	columns := rows[0]
	entries := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		entry := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(row) {
				entry[col] = row[i]
			}
		}
		entries = append(entries, entry)
	}
	return Dataset{Columns: columns, Entries: entries}, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
