// Package presence はステーションの死活を Redis に記録する
package presence

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "station:lastseen:"

type Store struct {
	rdb      *redis.Client
	ttl      time.Duration
	throttle time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{rdb: rdb, ttl: ttl, throttle: ttl / 5}
}

// Touch SetNX スロットルつきでハートビートを打つ。失敗しても呼び出し側は気にしない
func (s *Store) Touch(ctx context.Context, stationID string) {
	if stationID == "" {
		return
	}
	key := keyPrefix + stationID
	// スロットルキーが生きている間は書き直さない
	if ok, _ := s.rdb.SetNX(ctx, key+":throttle", "1", s.throttle).Result(); !ok {
		return
	}
	_ = s.rdb.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}

// RunHeartbeat スキャン中かどうかに関わらず TTL が切れる前に打ち直し続ける。
// ctx キャンセルまで戻らない
func (s *Store) RunHeartbeat(ctx context.Context, stationID string) {
	s.Touch(ctx, stationID)
	t := time.NewTicker(s.throttle)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Touch(ctx, stationID)
		}
	}
}

// Active TTL 内にハートビートのあるステーション一覧
func (s *Store) Active(ctx context.Context) (map[string]string, error) {
	keys, err := s.rdb.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, key := range keys {
		if strings.HasSuffix(key, ":throttle") {
			continue
		}
		v, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		out[key[len(keyPrefix):]] = v
	}
	return out, nil
}
