package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event ダッシュボードへ push する状態変化
type Event struct {
	Name    string         `json:"event"`
	Payload map[string]any `json:"payload"`
	Time    time.Time      `json:"time"`
}

type wireEvent struct {
	Origin string `json:"origin"`
	Event
}

// Hub はプロセス内の SSE 購読者に配るとともに、Redis pub/sub へも流して
// 別プロセスのダッシュボードにも届ける。送達保証は at-most-once。
// 取りこぼしても台帳が正なので UI の更新が遅れるだけ
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}

	rdb     *redis.Client // nil なら Redis 連携なし
	channel string
	origin  string // 自分が publish したメッセージを relay で二重配信しないため
}

func NewHub(rdb *redis.Client, channel string) *Hub {
	if channel == "" {
		channel = "toolmgmt:events"
	}
	return &Hub{
		subs:    make(map[chan Event]struct{}),
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	if ch == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

// Emit fire-and-forget
func (h *Hub) Emit(event string, payload map[string]any) {
	ev := Event{Name: event, Payload: payload, Time: time.Now().UTC()}
	h.fanout(ev)

	if h.rdb == nil {
		return
	}
	b, err := json.Marshal(wireEvent{Origin: h.origin, Event: ev})
	if err != nil {
		return
	}
	// 状態機械がミューテックスを握ったまま Emit するので、Redis 待ちで
	// 呼び出し元を止めない
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.rdb.Publish(ctx, h.channel, b).Err(); err != nil {
			log.Printf("notify publish failed: %v", err)
		}
	}()
}

func (h *Hub) fanout(ev Event) {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// 遅い購読者は捨てる
		}
	}
	h.mu.Unlock()
}

// RunRelay 他ステーション/プロセスが publish したイベントをローカル購読者へ流す
func (h *Hub) RunRelay(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	sub := h.rdb.Subscribe(ctx, h.channel)
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("notify relay error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(1 * time.Second):
			}
			continue
		}
		var we wireEvent
		if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
			continue
		}
		if we.Origin == h.origin {
			continue // 自分の分は fanout 済み
		}
		h.fanout(we.Event)
	}
}
