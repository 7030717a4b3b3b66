package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv .env があれば読み込む（本番は systemd の Environment で渡す）
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		if _, statErr := os.Stat(".env"); statErr == nil {
			log.Printf("failed to load .env: %v", err)
		}
	}
}

func Get(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
