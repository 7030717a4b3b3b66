package scan

import (
	"context"
	"time"
)

// Reader は NFC リーダーの抽象。ReadOne はタグ提示を timeout まで待ち、
// UID（16進文字列）を返す。時間内にタグが無ければ ("", nil) ―
// これは正常系であってエラーではない。nil 以外の error はハードウェア障害
type Reader interface {
	ReadOne(ctx context.Context, timeout time.Duration) (string, error)
}
