package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/denkoushi/tool-management-system02/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

// ConnectDB Postgres へ接続。起動直後は DB コンテナが間に合わないことがあるので
// 最大30回（1秒間隔）リトライする
func ConnectDB() *gorm.DB {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		getenv("DB_HOST", "127.0.0.1"),
		getenv("DB_USER", "app"),
		getenv("DB_PASSWORD", "app"),
		getenv("DB_NAME", "sensordb"),
		getenv("DB_PORT", "5432"),
	)

	var err error
	for i := 0; i < 30; i++ {
		DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			break
		}
		log.Printf("[DB] connect retry %d/30: %v", i+1, err)
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}

	if err := Migrate(DB); err != nil {
		log.Fatal("Failed to migrate models: ", err)
	}
	log.Println("Database connected")
	return DB
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{}, &models.ToolMaster{}, &models.Tool{},
		&models.ScanEvent{}, &models.Loan{},
	); err != nil {
		return err
	}

	// 同一工具の「未返却」貸出は最大1件
	if err := db.Exec(fmt.Sprintf(`
	  CREATE UNIQUE INDEX IF NOT EXISTS %s_one_open_per_tool
	  ON %s (tool_uid)
	  WHERE returned_at IS NULL;
	`, models.LoanTable, models.LoanTable)).Error; err != nil {
		return err
	}

	// 未返却の検索を速くする
	if err := db.Exec(fmt.Sprintf(`
	  CREATE INDEX IF NOT EXISTS %s_open_tool_loanedat_desc
	  ON %s (tool_uid, loaned_at DESC)
	  WHERE returned_at IS NULL;
	`, models.LoanTable, models.LoanTable)).Error; err != nil {
		return err
	}

	return nil
}
