package db

import (
	"context"
	"errors"
	"time"

	"github.com/denkoushi/tool-management-system02/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNoOpenLoan   = errors.New("no open loan for this tool")
	ErrLoanConflict = errors.New("conflicting loan state for this tool")
)

type LoanAction string

const (
	ActionBorrow LoanAction = "borrow"
	ActionReturn LoanAction = "return"
)

// Decision 2枚目のタグ確定時に貸出か返却かを判定した結果
type Decision struct {
	Action LoanAction `json:"action"`
	Loan   models.Loan
	// 返却時のみ: もともとの借用者 UID
	PrevBorrowerUID string `json:"prevBorrowerUid,omitempty"`
}

// DecideBorrowOrReturn 貸出中なら返却、未貸出なら貸出を1トランザクションで登録する。
// 未返却行を FOR UPDATE でロックしてから判定するので、同じ工具タグの同時スキャンが
// 両方「未貸出」を見ることはない。すり抜けた二重貸出は部分ユニーク索引が弾く
func (r *Repo) DecideBorrowOrReturn(ctx context.Context, userUID, toolUID string) (Decision, error) {
	var d Decision
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open models.Loan
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tool_uid = ? AND returned_at IS NULL", toolUID).
			Order("loaned_at DESC").
			First(&open).Error

		if err == nil { // 返却
			now := time.Now().UTC()
			open.ReturnedAt = &now
			open.ReturnUserUID = &userUID
			if err := tx.Save(&open).Error; err != nil {
				return err
			}
			d = Decision{Action: ActionReturn, Loan: open, PrevBorrowerUID: open.BorrowerUID}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// 新規貸出
		l := models.Loan{
			ID:          uuid.NewString(),
			ToolUID:     toolUID,
			BorrowerUID: userUID,
			LoanedAt:    time.Now().UTC(),
		}
		if err := tx.Create(&l).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrLoanConflict
			}
			return err
		}
		d = Decision{Action: ActionBorrow, Loan: l}
		return nil
	})
	return d, err
}

// ForceReturn 管理画面からの手動返却。対象工具に未返却が無ければ ErrNoOpenLoan
func (r *Repo) ForceReturn(ctx context.Context, toolUID, byUserUID string) (*models.Loan, error) {
	var l models.Loan
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tool_uid = ? AND returned_at IS NULL", toolUID).
			Order("loaned_at DESC").
			First(&l).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoOpenLoan
		}
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		l.ReturnedAt = &now
		if byUserUID != "" {
			l.ReturnUserUID = &byUserUID
		}
		return tx.Save(&l).Error
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// DeleteLoan 誤登録行の削除
func (r *Repo) DeleteLoan(ctx context.Context, id string) error {
	res := r.DB.WithContext(ctx).Delete(&models.Loan{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// uniqueViolationCode PostgreSQL SQLSTATE: unique_violation
const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// gorm の TranslateError 有効時
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// pgx がそのまま返す場合
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
