package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger 台帳のインメモリ版。DecideBorrowOrReturn は実装と同じ
// 「未返却があれば返却、なければ貸出」の判定をする
type fakeLedger struct {
	mu        sync.Mutex
	users     map[string]string
	tools     map[string]string
	openLoans map[string]string // toolUID -> borrowerUID
	scans     []string
	decideErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		users:     map[string]string{},
		tools:     map[string]string{},
		openLoans: map[string]string{},
	}
}

func (f *fakeLedger) ResolveUserName(_ context.Context, uid string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.users[uid]; ok {
		return name
	}
	return uid
}

func (f *fakeLedger) ResolveToolName(_ context.Context, uid string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.tools[uid]; ok {
		return name
	}
	return uid
}

func (f *fakeLedger) RecordScan(_ context.Context, uid string, roleHint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, roleHint+":"+uid)
	return nil
}

func (f *fakeLedger) DecideBorrowOrReturn(_ context.Context, userUID, toolUID string) (Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decideErr != nil {
		return Decision{}, f.decideErr
	}
	if prev, ok := f.openLoans[toolUID]; ok {
		delete(f.openLoans, toolUID)
		return Decision{Action: ActionReturn, PrevBorrowerUID: prev}, nil
	}
	f.openLoans[toolUID] = userUID
	return Decision{Action: ActionBorrow}, nil
}

func (f *fakeLedger) openBorrower(toolUID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.openLoans[toolUID]
	return b, ok
}

type emitted struct {
	Name    string
	Payload map[string]any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeNotifier) Emit(event string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{Name: event, Payload: payload})
}

func (f *fakeNotifier) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Name
	}
	return out
}

func (f *fakeNotifier) last() (emitted, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return emitted{}, false
	}
	return f.events[len(f.events)-1], true
}

// scriptReader Run ループのテスト用。結果を順番に返し、尽きたらタグなし
type scriptReader struct {
	mu      sync.Mutex
	results []readResult
}

type readResult struct {
	uid string
	err error
}

func (r *scriptReader) ReadOne(_ context.Context, _ time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return "", nil
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res.uid, res.err
}

func newTestMonitor(ledger Ledger, notifier Notifier) *Monitor {
	m := NewMonitor(DisabledReader{}, ledger, notifier)
	m.idlePoll = time.Millisecond
	m.readTimeout = time.Millisecond
	m.faultWait = time.Millisecond
	m.loopPause = time.Millisecond
	m.resetDelay = 5 * time.Millisecond
	return m
}

func TestPairingBorrowReturnBorrow(t *testing.T) {
	ledger := newFakeLedger()
	ledger.users["U1"] = "山田"
	ledger.users["U2"] = "佐藤"
	ledger.tools["T1"] = "トルクレンチ"
	notifier := &fakeNotifier{}
	m := newTestMonitor(ledger, notifier)
	ctx := context.Background()

	m.Start()
	base := time.Now()

	// --- 1巡目: U1 が T1 を借りる ---
	m.HandleTag(ctx, "U1", base)
	snap := m.Snapshot()
	assert.Equal(t, "U1", snap.UserUID)
	assert.Contains(t, snap.Message, "山田")

	m.HandleTag(ctx, "T1", base.Add(3*time.Second))
	ev, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, EventTransactionComplete, ev.Name)
	assert.Equal(t, "borrow", ev.Payload["action"])
	borrower, open := ledger.openBorrower("T1")
	require.True(t, open)
	assert.Equal(t, "U1", borrower)

	// 遅延リセットで Idle に戻る
	require.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.UserUID == "" && s.ToolUID == ""
	}, time.Second, time.Millisecond)
	assert.Equal(t, MsgWaiting, m.Snapshot().Message)

	// --- 2巡目: 借りた本人でなくても返却できる ---
	m.HandleTag(ctx, "U2", base.Add(6*time.Second))
	m.HandleTag(ctx, "T1", base.Add(9*time.Second))
	ev, _ = notifier.last()
	assert.Equal(t, EventTransactionComplete, ev.Name)
	assert.Equal(t, "return", ev.Payload["action"])
	assert.Contains(t, ev.Payload["message"], "山田") // 元の借用者名が出る
	_, open = ledger.openBorrower("T1")
	assert.False(t, open)

	require.Eventually(t, func() bool {
		return m.Snapshot().UserUID == ""
	}, time.Second, time.Millisecond)

	// --- 3巡目: 再び貸出になる ---
	m.HandleTag(ctx, "U1", base.Add(12*time.Second))
	m.HandleTag(ctx, "T1", base.Add(15*time.Second))
	ev, _ = notifier.last()
	assert.Equal(t, "borrow", ev.Payload["action"])
	borrower, open = ledger.openBorrower("T1")
	require.True(t, open)
	assert.Equal(t, "U1", borrower)
}

func TestThirdTagBeforeResetIsIgnored(t *testing.T) {
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	m := newTestMonitor(ledger, notifier)
	m.resetDelay = time.Hour // 遅延リセットを実質止める
	ctx := context.Background()

	m.Start()
	base := time.Now()
	m.HandleTag(ctx, "U1", base)
	m.HandleTag(ctx, "T1", base.Add(3*time.Second))

	before := len(notifier.names())
	m.HandleTag(ctx, "X9", base.Add(6*time.Second))
	assert.Len(t, notifier.names(), before, "3枚目は無視される")

	snap := m.Snapshot()
	assert.Equal(t, "U1", snap.UserUID)
	assert.Equal(t, "T1", snap.ToolUID)
}

func TestLedgerErrorKeepsPendingUser(t *testing.T) {
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	m := newTestMonitor(ledger, notifier)
	ctx := context.Background()

	m.Start()
	base := time.Now()
	m.HandleTag(ctx, "U1", base)

	ledger.mu.Lock()
	ledger.decideErr = errors.New("connection refused")
	ledger.mu.Unlock()

	m.HandleTag(ctx, "T1", base.Add(3*time.Second))
	ev, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, EventError, ev.Name)

	// ユーザー側のペアリング状態は破棄されない
	snap := m.Snapshot()
	assert.Equal(t, "U1", snap.UserUID)
	assert.Equal(t, "", snap.ToolUID)
	assert.Contains(t, snap.Message, "エラー")

	// 復旧後に工具を再スキャンすれば取引が通る
	ledger.mu.Lock()
	ledger.decideErr = nil
	ledger.mu.Unlock()

	m.HandleTag(ctx, "T1", base.Add(6*time.Second))
	ev, _ = notifier.last()
	assert.Equal(t, EventTransactionComplete, ev.Name)
	borrower, open := ledger.openBorrower("T1")
	require.True(t, open)
	assert.Equal(t, "U1", borrower)
}

func TestStopPreservesPendingUntilReset(t *testing.T) {
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	m := newTestMonitor(ledger, notifier)
	ctx := context.Background()

	m.Start()
	base := time.Now()
	m.HandleTag(ctx, "U1", base)

	snap := m.Stop()
	assert.False(t, snap.Active)
	assert.Equal(t, "U1", snap.UserUID, "stop はペアリング状態を保持する")

	// 停止中の読み取りは処理されない
	m.HandleTag(ctx, "T1", base.Add(3*time.Second))
	assert.Equal(t, "", m.Snapshot().ToolUID)

	snap = m.Reset()
	assert.Equal(t, "", snap.UserUID)
	assert.Equal(t, MsgResetDone, snap.Message)
}

func TestResetIsIdempotentFromIdle(t *testing.T) {
	m := newTestMonitor(newFakeLedger(), &fakeNotifier{})
	m.Start()

	first := m.Reset()
	second := m.Reset()
	assert.Equal(t, first, second, "Idle からの reset はメッセージ以外何も変えない")
}

func TestManualResetBeatsDelayedReset(t *testing.T) {
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	m := newTestMonitor(ledger, notifier)
	m.resetDelay = 20 * time.Millisecond
	ctx := context.Background()

	m.Start()
	base := time.Now()
	m.HandleTag(ctx, "U1", base)
	m.HandleTag(ctx, "T1", base.Add(3*time.Second))

	// 手動リセットが先に入ったら遅延リセットは空振りする
	m.Reset()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, MsgResetDone, m.Snapshot().Message)
}

func TestRunLoopRecoversFromHardwareFault(t *testing.T) {
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	m := newTestMonitor(ledger, notifier)
	m.reader = &scriptReader{results: []readResult{
		{err: errors.New("reader unplugged")},
		{uid: "U1"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start()
	go m.Run(ctx)

	// 障害の後もループは生きていて次のタグを拾う
	require.Eventually(t, func() bool {
		return m.Snapshot().UserUID == "U1"
	}, time.Second, time.Millisecond)
}

func TestRunLoopIdlesWhileInactive(t *testing.T) {
	ledger := newFakeLedger()
	m := newTestMonitor(ledger, &fakeNotifier{})
	m.reader = &scriptReader{results: []readResult{{uid: "U1"}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// active でない間はリーダーに触らない
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "", m.Snapshot().UserUID)
}
