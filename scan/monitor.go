package scan

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

type LoanAction string

const (
	ActionBorrow LoanAction = "borrow"
	ActionReturn LoanAction = "return"
)

// Decision 台帳の貸出/返却判定結果
type Decision struct {
	Action LoanAction
	// 返却時のみ: もともとの借用者 UID
	PrevBorrowerUID string
}

// Ledger は貸出台帳への narrow contract。DecideBorrowOrReturn は
// 台帳側で1トランザクションとして実行されること
type Ledger interface {
	ResolveUserName(ctx context.Context, uid string) string
	ResolveToolName(ctx context.Context, uid string) string
	RecordScan(ctx context.Context, uid string, roleHint string) error
	DecideBorrowOrReturn(ctx context.Context, userUID, toolUID string) (Decision, error)
}

// Notifier UI への push。fire-and-forget、届かなくても台帳が正
type Notifier interface {
	Emit(event string, payload map[string]any)
}

// Notification event names
const (
	EventScanUpdate          = "scan_update"
	EventTransactionComplete = "transaction_complete"
	EventStateReset          = "state_reset"
	EventError               = "error"
)

// Status messages (operator facing)
const (
	MsgWaiting   = "📡 スキャン待機中... ユーザータグをかざしてください"
	MsgStopped   = "⏹️ スキャン停止"
	MsgResetDone = "🔄 リセット完了"
)

// Snapshot ScanState の読み取り専用コピー
type Snapshot struct {
	Active  bool   `json:"active"`
	UserUID string `json:"user_uid"`
	ToolUID string `json:"tool_uid"`
	Message string `json:"message"`
}

// Monitor はペアリング状態機械とスキャンループ。状態はミューテックスで直列化し、
// 変更者はスキャンループ本体と HTTP ハンドラ（Start/Stop/Reset）の2者のみ
type Monitor struct {
	reader   Reader
	ledger   Ledger
	notifier Notifier

	idlePoll    time.Duration // 非アクティブ時のポーリング間隔
	readTimeout time.Duration // リーダー1回あたりの待ち時間
	faultWait   time.Duration // ハードウェア障害後のバックオフ
	resetDelay  time.Duration // 取引完了表示を残す時間
	loopPause   time.Duration

	mu      sync.Mutex
	active  bool
	userUID string
	toolUID string
	message string
	deb     *Debouncer
	gen     uint64 // 明示リセットで進める世代。遅延リセットの空振り判定に使う
}

func NewMonitor(reader Reader, ledger Ledger, notifier Notifier) *Monitor {
	return &Monitor{
		reader:      reader,
		ledger:      ledger,
		notifier:    notifier,
		idlePoll:    500 * time.Millisecond,
		readTimeout: 1 * time.Second,
		faultWait:   1 * time.Second,
		resetDelay:  3 * time.Second,
		loopPause:   100 * time.Millisecond,
		deb:         NewDebouncer(DebounceWindow),
	}
}

// Run プロセス常駐のバックグラウンドループ。ctx キャンセルまで戻らない。
// リーダーのタイムアウトは正常系なのでログにも出さない
func (m *Monitor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !m.Snapshot().Active {
			if !sleepCtx(ctx, m.idlePoll) {
				return
			}
			continue
		}

		uid, err := m.reader.ReadOne(ctx, m.readTimeout)
		if err != nil {
			log.Printf("スキャンループエラー: %v", err)
			if !sleepCtx(ctx, m.faultWait) {
				return
			}
			continue
		}
		if uid != "" {
			m.HandleTag(ctx, uid, time.Now())
		}
		if !sleepCtx(ctx, m.loopPause) {
			return
		}
	}
}

// HandleTag 1枚の読み取りをデバウンス→ペアリング遷移に流す。
// ループ以外からはテストでのみ呼ぶ
func (m *Monitor) HandleTag(ctx context.Context, uid string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return
	}
	if !m.deb.Accept(uid, now) {
		return
	}

	switch {
	case m.userUID == "":
		m.userUID = uid
		name := m.ledger.ResolveUserName(ctx, uid)
		m.message = fmt.Sprintf("👤 ユーザー読取: %s (%s)", name, uid)
		if err := m.ledger.RecordScan(ctx, uid, "user"); err != nil {
			log.Printf("scan event insert failed: %v", err)
		}
		m.notifier.Emit(EventScanUpdate, map[string]any{
			"user_uid":  m.userUID,
			"user_name": name,
			"tool_uid":  "",
			"tool_name": "",
			"message":   m.message,
		})

	case m.toolUID == "":
		m.toolUID = uid
		if err := m.ledger.RecordScan(ctx, uid, "tool"); err != nil {
			log.Printf("scan event insert failed: %v", err)
		}
		m.completeTransaction(ctx)

	default:
		// 取引完了後の遅延リセット待ちに3枚目が来た場合は何もしない
	}
}

// completeTransaction 呼び出し時点で mu を保持していること
func (m *Monitor) completeTransaction(ctx context.Context) {
	userUID, toolUID := m.userUID, m.toolUID

	d, err := m.ledger.DecideBorrowOrReturn(ctx, userUID, toolUID)
	if err != nil {
		// ペアリング状態は保持する。オペレーターが再スキャンかリセットで復帰できる
		m.toolUID = ""
		m.message = fmt.Sprintf("❌ エラー: %v", err)
		m.notifier.Emit(EventError, map[string]any{"message": m.message})
		return
	}

	userName := m.ledger.ResolveUserName(ctx, userUID)
	toolName := m.ledger.ResolveToolName(ctx, toolUID)
	switch d.Action {
	case ActionBorrow:
		m.message = fmt.Sprintf("✅ 貸出：%s → %s", toolName, userName)
	case ActionReturn:
		prevName := m.ledger.ResolveUserName(ctx, d.PrevBorrowerUID)
		m.message = fmt.Sprintf("✅ 返却：%s by %s（借用者: %s）", toolName, userName, prevName)
	}

	m.notifier.Emit(EventTransactionComplete, map[string]any{
		"user_uid":  userUID,
		"user_name": userName,
		"tool_uid":  toolUID,
		"tool_name": toolName,
		"message":   m.message,
		"action":    string(d.Action),
	})
	log.Printf("✅ 処理完了: %s", m.message)

	// 結果を3秒見せてから次のペアへ。先に明示リセットが入っていたら空振りさせる
	gen := m.gen
	time.AfterFunc(m.resetDelay, func() { m.delayedReset(gen) })
}

func (m *Monitor) delayedReset(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	m.userUID = ""
	m.toolUID = ""
	m.message = MsgWaiting
	m.notifier.Emit(EventStateReset, map[string]any{"message": m.message})
}

// Start スキャン有効化。進行中のペアリングは破棄する
func (m *Monitor) Start() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = true
	m.userUID = ""
	m.toolUID = ""
	m.message = MsgWaiting
	m.gen++
	log.Println("🟢 自動スキャン開始")
	return m.snapshotLocked()
}

// Stop スキャン停止。ペアリング途中の状態は Reset されるまで保持する
func (m *Monitor) Stop() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	m.message = MsgStopped
	log.Println("🔴 自動スキャン停止")
	return m.snapshotLocked()
}

// Reset 状態を無条件にクリアする。Idle で呼んでも無害（メッセージ以外変化なし）
func (m *Monitor) Reset() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userUID = ""
	m.toolUID = ""
	m.message = MsgResetDone
	m.gen++
	log.Println("🧹 状態リセット")
	return m.snapshotLocked()
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	return Snapshot{
		Active:  m.active,
		UserUID: m.userUID,
		ToolUID: m.toolUID,
		Message: m.message,
	}
}

// ScanOnce 手動スキャン API 用のワンショット読み取り
func (m *Monitor) ScanOnce(ctx context.Context, timeout time.Duration) (string, error) {
	return m.reader.ReadOne(ctx, timeout)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
