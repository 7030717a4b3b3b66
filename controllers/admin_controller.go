package controllers

import (
	"errors"
	"log"
	"net/http"
	"os/exec"
	"time"

	"github.com/denkoushi/tool-management-system02/app"
	"github.com/denkoushi/tool-management-system02/tokenstore"

	"github.com/gin-gonic/gin"
)

type AdminController struct{ *Srv }

func NewAdminController(s *Srv) *AdminController { return &AdminController{Srv: s} }

// TokenInfo 現在のトークン情報（マスク済み）
func (ac *AdminController) TokenInfo(c *gin.Context) {
	c.JSON(http.StatusOK, ac.App.Tokens.Info())
}

// IssueToken 新規発行。keep_existing を付けない限り既存トークンは失効する
func (ac *AdminController) IssueToken(c *gin.Context) {
	var in struct {
		StationID    string `json:"station_id" binding:"required"`
		Note         string `json:"note"`
		KeepExisting bool   `json:"keep_existing"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "station_id を指定してください"})
		return
	}
	entry, err := ac.App.Tokens.Issue(in.StationID, in.Note, in.KeepExisting)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	// 発行直後の1回だけ全文を返す
	c.JSON(http.StatusCreated, entry)
}

func (ac *AdminController) RevokeToken(c *gin.Context) {
	var in struct {
		Token string `json:"token"`
	}
	_ = c.ShouldBindJSON(&in)

	if in.Token == "" {
		if err := ac.App.Tokens.RevokeAll(); err != nil {
			c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, app.H{"status": "revoked_all"})
		return
	}
	if err := ac.App.Tokens.Revoke(in.Token); err != nil {
		if errors.Is(err, tokenstore.ErrTokenNotFound) {
			c.JSON(http.StatusNotFound, app.H{"error": "token not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"status": "revoked"})
}

func (ac *AdminController) GetStationConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ac.App.StationCfg.Load())
}

func (ac *AdminController) SetStationConfig(c *gin.Context) {
	var in struct {
		Process   *string  `json:"process"`
		Available []string `json:"available"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	cfg, err := ac.App.StationCfg.Save(in.Process, in.Available)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UsbSync USB メモリからのマスタ取り込みを実行する
func (ac *AdminController) UsbSync(c *gin.Context) {
	var in struct {
		Device string `json:"device"`
	}
	_ = c.ShouldBindJSON(&in)

	res, err := ac.Usb.Run(in.Device)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if res.ReturnCode != 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, res)
}

// ProductionView キャッシュ済みの生産計画/標準工数
func (ac *AdminController) ProductionView(c *gin.Context) {
	plan, err := ac.App.Plan.LoadDataset("production_plan")
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	std, err := ac.App.Plan.LoadDataset("standard_times")
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{
		"entries":          plan.Entries,
		"standard_entries": std.Entries,
	})
}

// Shutdown ローカル操作または有効トークンでのみ受け付ける安全シャットダウン。
// UI 側は confirm ダイアログを出し confirm=true を必須にする
func (ac *AdminController) Shutdown(c *gin.Context) {
	var in struct {
		Confirm bool   `json:"confirm"`
		Token   string `json:"token"`
	}
	_ = c.ShouldBindJSON(&in)

	if !in.Confirm {
		c.JSON(http.StatusBadRequest, app.H{"ok": false, "error": "confirm_required"})
		return
	}

	token := in.Token
	if token == "" {
		token = app.PresentedToken(c)
	}
	authorized := app.IsLocalRequest(c) ||
		(ac.App.Config.ShutdownToken != "" && token == ac.App.Config.ShutdownToken) ||
		ac.App.Tokens.Validate(token)
	if !authorized {
		c.JSON(http.StatusForbidden, app.H{"ok": false, "error": "forbidden"})
		return
	}

	// HTTP 応答を返せるよう1秒遅らせて実行
	time.AfterFunc(1*time.Second, func() {
		cmd := exec.Command("sudo", "/sbin/shutdown", "-h", "now")
		if err := cmd.Run(); err != nil {
			cmd = exec.Command("sudo", "/usr/sbin/shutdown", "-h", "now")
			if err := cmd.Run(); err != nil {
				log.Printf("[shutdown] failed: %v", err)
			}
		}
	})
	c.JSON(http.StatusOK, app.H{"ok": true, "message": "Shutting down..."})
}

// Stations ハートビートのあるステーション一覧
func (ac *AdminController) Stations(c *gin.Context) {
	stations, err := ac.App.Presence.Active(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"stations": stations})
}
