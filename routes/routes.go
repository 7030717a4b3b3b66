package routes

import (
	"github.com/denkoushi/tool-management-system02/app"
	"github.com/denkoushi/tool-management-system02/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, s *controllers.Srv) {
	scanCtl := controllers.NewScanController(s)
	loanCtl := controllers.NewLoanController(s)
	adminCtl := controllers.NewAdminController(s)

	tokenMW := app.TokenRequired(s.App.Tokens)

	// ------------------------------
	// スキャン制御（ステーション UI から）
	// ------------------------------
	api := r.Group("/api")
	{
		api.POST("/start_scan", scanCtl.StartScan)
		api.POST("/stop_scan", scanCtl.StopScan)
		api.POST("/reset", scanCtl.ResetScan)
		api.GET("/scan_status", scanCtl.ScanStatus)
		api.GET("/events", scanCtl.Events)

		api.POST("/scan_tag", scanCtl.ScanTag)
		api.POST("/check_tag", scanCtl.CheckTag)

		// 貸出状況 / 登録
		api.GET("/loans", loanCtl.GetLoans)
		api.POST("/register_user", loanCtl.RegisterUser)
		api.POST("/register_tool", loanCtl.RegisterTool)
		api.GET("/tool_names", loanCtl.ToolNames)
		api.POST("/add_tool_name", loanCtl.AddToolName)
		api.POST("/delete_tool_name", loanCtl.DeleteToolName)

		// シャットダウンは handler 内でローカル/トークンを判定する
		api.POST("/shutdown", adminCtl.Shutdown)
	}

	// ------------------------------
	// 管理（API トークン必須）
	// ------------------------------
	admin := r.Group("/api/admin", tokenMW)
	{
		admin.GET("/token", adminCtl.TokenInfo)
		admin.POST("/token", adminCtl.IssueToken)
		admin.DELETE("/token", adminCtl.RevokeToken)

		admin.GET("/station_config", adminCtl.GetStationConfig)
		admin.POST("/station_config", adminCtl.SetStationConfig)

		admin.POST("/usb_sync", adminCtl.UsbSync)
		admin.GET("/production_view", adminCtl.ProductionView)
		admin.GET("/stations", adminCtl.Stations)

		// 手動補正
		admin.POST("/force_return", loanCtl.ForceReturn)
		admin.DELETE("/loans/:id", loanCtl.DeleteLoan)
	}
}
