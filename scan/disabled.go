package scan

import (
	"context"
	"time"
)

// DisabledReader リーダー未接続の環境（開発機など）向け。常に「タグなし」を返す
type DisabledReader struct{}

func (DisabledReader) ReadOne(ctx context.Context, timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	return "", nil
}
