package scan

import "time"

// DebounceWindow NFC リーダーは1回のタッチで複数回読み取りを発火することがある
const DebounceWindow = 2 * time.Second

// Debouncer 直前と同じ UID をウィンドウ内で再読み取りした場合に捨てる。
// 排他は呼び出し側（Monitor）が持つ
type Debouncer struct {
	window  time.Duration
	lastUID string
	lastAt  time.Time
}

func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DebounceWindow
	}
	return &Debouncer{window: window}
}

// Accept 採用なら true。採用時のみ last-seen を更新する
func (d *Debouncer) Accept(uid string, now time.Time) bool {
	if uid == d.lastUID && now.Sub(d.lastAt) < d.window {
		return false
	}
	d.lastUID = uid
	d.lastAt = now
	return true
}
