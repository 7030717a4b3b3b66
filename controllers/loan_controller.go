package controllers

import (
	"errors"
	"net/http"

	"github.com/denkoushi/tool-management-system02/app"
	"github.com/denkoushi/tool-management-system02/db"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type LoanController struct{ *Srv }

func NewLoanController(s *Srv) *LoanController { return &LoanController{Srv: s} }

// GetLoans 貸出中と履歴をまとめて返す（ダッシュボード用）
func (lc *LoanController) GetLoans(c *gin.Context) {
	open, err := lc.Repo.ListOpenLoans(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	history, err := lc.Repo.ListRecentHistory(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"open_loans": open, "history": history})
}

func (lc *LoanController) RegisterUser(c *gin.Context) {
	var in struct {
		UID  string `json:"uid" binding:"required"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "UID と 氏名 は必須です"})
		return
	}
	if err := lc.Repo.RegisterUser(c.Request.Context(), in.UID, in.Name); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"status": "success", "message": "ユーザーを登録/更新しました"})
}

func (lc *LoanController) RegisterTool(c *gin.Context) {
	var in struct {
		UID  string `json:"uid" binding:"required"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "UID と 工具名 は必須です"})
		return
	}
	if err := lc.Repo.RegisterTool(c.Request.Context(), in.UID, in.Name); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"status": "success", "message": "工具を登録/更新しました"})
}

func (lc *LoanController) ToolNames(c *gin.Context) {
	names, err := lc.Repo.ListToolNames(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"names": names})
}

func (lc *LoanController) AddToolName(c *gin.Context) {
	var in struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "工具名を入力してください"})
		return
	}
	if err := lc.Repo.AddToolName(c.Request.Context(), in.Name); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"status": "success", "message": "追加しました"})
}

func (lc *LoanController) DeleteToolName(c *gin.Context) {
	var in struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "工具名を指定してください"})
		return
	}
	if err := lc.Repo.DeleteToolName(c.Request.Context(), in.Name); err != nil {
		if errors.Is(err, db.ErrToolNameAssigned) {
			c.JSON(http.StatusConflict, app.H{"error": "この工具名は '工具' に割当済みです。先に tools 側を変更/削除してください。"})
			return
		}
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"status": "success", "message": "削除しました"})
}

// ForceReturn 管理者による手動返却。スキャンループと同じ工具タグで競合しても
// 台帳のトランザクションが守る
func (lc *LoanController) ForceReturn(c *gin.Context) {
	var in struct {
		ToolUID string `json:"toolUid" binding:"required"`
		UserUID string `json:"userUid"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	loan, err := lc.Repo.ForceReturn(c.Request.Context(), in.ToolUID, in.UserUID)
	if err != nil {
		if errors.Is(err, db.ErrNoOpenLoan) {
			c.JSON(http.StatusNotFound, app.H{"error": "no open loan for this tool"})
			return
		}
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, loan)
}

func (lc *LoanController) DeleteLoan(c *gin.Context) {
	id := c.Param("id")
	if err := lc.Repo.DeleteLoan(c.Request.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, app.H{"error": "loan not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"status": "deleted"})
}
