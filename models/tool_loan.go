// models/tool_loan.go
package models

import "time"

const (
	UserTable       = "users"
	ToolTable       = "tools"
	ToolMasterTable = "tool_master"
	LoanTable       = "loans"
	ScanEventTable  = "scan_events"
)

// User は NFC タグ UID と氏名の対応
type User struct {
	UID       string    `gorm:"primaryKey;size:64" json:"uid"`
	FullName  string    `gorm:"size:255;not null" json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Tool は個体タグ。Name は tool_master の名前を参照する
type Tool struct {
	UID       string    `gorm:"primaryKey;size:64" json:"uid"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ToolMaster 工具名マスタ（個体タグとは別に管理）
type ToolMaster struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ScanEvent 読み取り監査ログ。RoleHint は user / tool / NULL
type ScanEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TS        time.Time `gorm:"index;not null" json:"ts"`
	StationID string    `gorm:"size:64;not null" json:"stationId"`
	TagUID    string    `gorm:"size:64;index;not null" json:"tagUid"`
	RoleHint  *string   `gorm:"size:8" json:"roleHint,omitempty"`
}

type Loan struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	ToolUID     string    `gorm:"size:64;index;not null" json:"toolUid"`
	BorrowerUID string    `gorm:"size:64;index;not null" json:"borrowerUid"`
	LoanedAt    time.Time `gorm:"index;not null" json:"loanedAt"`

	// 返却されるまで NULL。ReturnUserUID は借りた本人とは限らない
	ReturnUserUID *string    `gorm:"size:64" json:"returnUserUid,omitempty"`
	ReturnedAt    *time.Time `gorm:"index" json:"returnedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (User) TableName() string       { return UserTable }
func (Tool) TableName() string       { return ToolTable }
func (ToolMaster) TableName() string { return ToolMasterTable }
func (ScanEvent) TableName() string  { return ScanEventTable }
func (Loan) TableName() string       { return LoanTable }
