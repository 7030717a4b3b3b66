package app

import (
	"context"

	"github.com/denkoushi/tool-management-system02/db"
	"github.com/denkoushi/tool-management-system02/scan"
)

// LedgerAdapter db.Repo を scan.Ledger の narrow contract に合わせる
type LedgerAdapter struct {
	Repo *db.Repo
}

func (l LedgerAdapter) ResolveUserName(ctx context.Context, uid string) string {
	return l.Repo.ResolveUserName(ctx, uid)
}

func (l LedgerAdapter) ResolveToolName(ctx context.Context, uid string) string {
	return l.Repo.ResolveToolName(ctx, uid)
}

func (l LedgerAdapter) RecordScan(ctx context.Context, uid string, roleHint string) error {
	return l.Repo.RecordScan(ctx, uid, roleHint)
}

func (l LedgerAdapter) DecideBorrowOrReturn(ctx context.Context, userUID, toolUID string) (scan.Decision, error) {
	d, err := l.Repo.DecideBorrowOrReturn(ctx, userUID, toolUID)
	if err != nil {
		return scan.Decision{}, err
	}
	return scan.Decision{
		Action:          scan.LoanAction(d.Action),
		PrevBorrowerUID: d.PrevBorrowerUID,
	}, nil
}
