package controllers

import (
	"io"
	"net/http"
	"time"

	"github.com/denkoushi/tool-management-system02/app"

	"github.com/gin-gonic/gin"
)

type ScanController struct{ *Srv }

func NewScanController(s *Srv) *ScanController { return &ScanController{Srv: s} }

func (sc *ScanController) StartScan(c *gin.Context) {
	snap := sc.Monitor.Start()
	sc.App.Presence.Touch(c.Request.Context(), sc.App.Config.StationID)
	c.JSON(http.StatusOK, app.H{"status": "started", "message": snap.Message})
}

func (sc *ScanController) StopScan(c *gin.Context) {
	snap := sc.Monitor.Stop()
	c.JSON(http.StatusOK, app.H{"status": "stopped", "message": snap.Message})
}

func (sc *ScanController) ResetScan(c *gin.Context) {
	sc.Monitor.Reset()
	c.JSON(http.StatusOK, app.H{"status": "reset"})
}

func (sc *ScanController) ScanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, sc.Monitor.Snapshot())
}

// Events SSE でダッシュボードに状態変化を流す
func (sc *ScanController) Events(c *gin.Context) {
	ch := sc.App.Hub.Subscribe()
	defer sc.App.Hub.Unsubscribe(ch)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Payload)
			return true
		case <-c.Request.Context().Done():
			return false
		case <-time.After(30 * time.Second):
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}

// ScanTag 手動スキャン用 API
func (sc *ScanController) ScanTag(c *gin.Context) {
	uid, err := sc.Monitor.ScanOnce(c.Request.Context(), 5*time.Second)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	if uid == "" {
		c.JSON(http.StatusOK, app.H{"uid": nil, "status": "timeout"})
		return
	}
	c.JSON(http.StatusOK, app.H{"uid": uid, "status": "success"})
}

// CheckTag タグが誰の/何のタグかを確認する
func (sc *ScanController) CheckTag(c *gin.Context) {
	uid, err := sc.Monitor.ScanOnce(c.Request.Context(), 5*time.Second)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	if uid == "" {
		c.JSON(http.StatusOK, app.H{"uid": nil, "status": "timeout"})
		return
	}

	info, err := sc.Repo.LookupTag(c.Request.Context(), uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	res := app.H{"uid": uid, "status": "success", "type": info.Type, "name": info.Name}
	switch info.Type {
	case "user":
		res["message"] = "👤 ユーザー: " + info.Name
	case "tool":
		res["message"] = "🛠️ 工具: " + info.Name
	default:
		res["message"] = "❓ 未登録のタグです"
	}
	c.JSON(http.StatusOK, res)
}
