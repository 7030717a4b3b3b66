package app

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/denkoushi/tool-management-system02/db"
	"github.com/denkoushi/tool-management-system02/notify"
	"github.com/denkoushi/tool-management-system02/plancache"
	"github.com/denkoushi/tool-management-system02/presence"
	"github.com/denkoushi/tool-management-system02/stationcfg"
	"github.com/denkoushi/tool-management-system02/tokenstore"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// 簡化エイリアス、handlers から使う
type Ctx = gin.Context
type H = gin.H

// App 各依存の集約
type App struct {
	Router     *gin.Engine
	DB         *gorm.DB
	RDB        *redis.Client
	Repo       *db.Repo
	Hub        *notify.Hub
	Tokens     *tokenstore.Store
	StationCfg *stationcfg.Store
	Plan       *plancache.Cache
	Presence   *presence.Store
	Config     Config
}

// Config 環境変数から読む
type Config struct {
	Port              string
	WebOrigin         string
	StationID         string
	RedisAddr         string
	RedisPwd          string
	APITokenFile      string
	StationConfigPath string
	ShutdownToken     string
}

func MustNew() *App {
	cfg := loadConfig()

	dbConn := db.ConnectDB()

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPwd, DB: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	tokens, err := tokenstore.Load(cfg.APITokenFile)
	if err != nil {
		log.Fatalf("token store: %v", err)
	}

	// --- Gin ---
	r := gin.Default()
	useCORS(r, cfg.WebOrigin)

	a := &App{
		Router:     r,
		DB:         dbConn,
		RDB:        rdb,
		Repo:       db.NewRepo(dbConn, cfg.StationID),
		Hub:        notify.NewHub(rdb, "toolmgmt:events"),
		Tokens:     tokens,
		StationCfg: stationcfg.New(cfg.StationConfigPath),
		Plan:       plancache.New(plancache.OptionsFromEnv()),
		Presence:   presence.NewStore(rdb, 5*time.Minute),
		Config:     cfg,
	}
	return a
}

func (a *App) Close() { _ = a.RDB.Close() }

func loadConfig() Config {
	get := func(k, def string) string {
		v := os.Getenv(k)
		if v == "" {
			return def
		}
		return v
	}
	return Config{
		Port:              get("PORT", "8501"),
		WebOrigin:         get("WEB_ORIGIN", "http://localhost:8501"),
		StationID:         get("STATION_ID", "pi1"),
		RedisAddr:         get("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPwd:          os.Getenv("REDIS_PASSWORD"),
		APITokenFile:      get("API_TOKEN_FILE", "/etc/toolmgmt/api_token.json"),
		StationConfigPath: get("STATION_CONFIG_PATH", "/var/lib/toolmgmt/station.json"),
		ShutdownToken:     os.Getenv("SHUTDOWN_TOKEN"),
	}
}
