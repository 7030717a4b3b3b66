package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/denkoushi/tool-management-system02/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	DB        *gorm.DB
	StationID string
}

func NewRepo(db *gorm.DB, stationID string) *Repo {
	if stationID == "" {
		stationID = "pi1"
	}
	return &Repo{DB: db, StationID: stationID}
}

var ErrToolNameAssigned = errors.New("tool name is still assigned to a tool tag")

// Users / Tools

// ResolveUserName 未登録なら UID をそのまま返す
func (r *Repo) ResolveUserName(ctx context.Context, uid string) string {
	var u models.User
	if err := r.DB.WithContext(ctx).First(&u, "uid = ?", uid).Error; err != nil {
		return uid
	}
	return u.FullName
}

// ResolveToolName 未登録なら UID をそのまま返す
func (r *Repo) ResolveToolName(ctx context.Context, uid string) string {
	var t models.Tool
	if err := r.DB.WithContext(ctx).First(&t, "uid = ?", uid).Error; err != nil {
		return uid
	}
	return t.Name
}

// RegisterUser 登録済みなら氏名を上書き
func (r *Repo) RegisterUser(ctx context.Context, uid, fullName string) error {
	u := models.User{UID: uid, FullName: strings.TrimSpace(fullName)}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "updated_at"}),
	}).Create(&u).Error
}

func (r *Repo) RegisterTool(ctx context.Context, uid, name string) error {
	t := models.Tool{UID: uid, Name: name}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}).Create(&t).Error
}

// TagInfo タグが何者かの分類結果
type TagInfo struct {
	UID  string `json:"uid"`
	Type string `json:"type"` // user / tool / unregistered
	Name string `json:"name"`
}

func (r *Repo) LookupTag(ctx context.Context, uid string) (TagInfo, error) {
	var u models.User
	err := r.DB.WithContext(ctx).First(&u, "uid = ?", uid).Error
	if err == nil {
		return TagInfo{UID: uid, Type: "user", Name: u.FullName}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return TagInfo{}, err
	}

	var t models.Tool
	err = r.DB.WithContext(ctx).First(&t, "uid = ?", uid).Error
	if err == nil {
		return TagInfo{UID: uid, Type: "tool", Name: t.Name}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return TagInfo{}, err
	}
	return TagInfo{UID: uid, Type: "unregistered"}, nil
}

// Tool master

func (r *Repo) ListToolNames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.DB.WithContext(ctx).Model(&models.ToolMaster{}).
		Order("name ASC").Pluck("name", &names).Error
	return names, err
}

func (r *Repo) AddToolName(ctx context.Context, name string) error {
	m := models.ToolMaster{Name: strings.TrimSpace(name)}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&m).Error
}

// DeleteToolName 個体タグに割当済みの名前は削除させない
func (r *Repo) DeleteToolName(ctx context.Context, name string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Tool{}).Where("name = ?", name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrToolNameAssigned
		}
		return tx.Where("name = ?", name).Delete(&models.ToolMaster{}).Error
	})
}

// Scan events

func (r *Repo) RecordScan(ctx context.Context, uid string, roleHint string) error {
	ev := models.ScanEvent{TS: time.Now().UTC(), StationID: r.StationID, TagUID: uid}
	if roleHint != "" {
		ev.RoleHint = &roleHint
	}
	return r.DB.WithContext(ctx).Create(&ev).Error
}

// Loan listings (ダッシュボード表示用、名前は LEFT JOIN で解決)

type OpenLoanRow struct {
	Tool     string    `json:"tool"`
	Borrower string    `json:"borrower"`
	LoanedAt time.Time `json:"loaned_at"`
}

func (r *Repo) ListOpenLoans(ctx context.Context, limit int) ([]OpenLoanRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []OpenLoanRow
	err := r.DB.WithContext(ctx).
		Table(models.LoanTable+" AS l").
		Select(`COALESCE(t.name, l.tool_uid) AS tool,
		        COALESCE(u.full_name, l.borrower_uid) AS borrower,
		        l.loaned_at`).
		Joins("LEFT JOIN "+models.ToolTable+" t ON t.uid = l.tool_uid").
		Joins("LEFT JOIN "+models.UserTable+" u ON u.uid = l.borrower_uid").
		Where("l.returned_at IS NULL").
		Order("l.loaned_at DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

type HistoryRow struct {
	Action     string     `json:"action"` // 貸出 / 返却
	Tool       string     `json:"tool"`
	Borrower   string     `json:"borrower"`
	LoanedAt   time.Time  `json:"loaned_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
}

func (r *Repo) ListRecentHistory(ctx context.Context, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []HistoryRow
	err := r.DB.WithContext(ctx).
		Table(models.LoanTable+" AS l").
		Select(`CASE WHEN l.returned_at IS NULL THEN '貸出' ELSE '返却' END AS action,
		        COALESCE(t.name, l.tool_uid) AS tool,
		        COALESCE(u.full_name, l.borrower_uid) AS borrower,
		        l.loaned_at, l.returned_at`).
		Joins("LEFT JOIN "+models.ToolTable+" t ON t.uid = l.tool_uid").
		Joins("LEFT JOIN "+models.UserTable+" u ON u.uid = l.borrower_uid").
		Order("COALESCE(l.returned_at, l.loaned_at) DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
