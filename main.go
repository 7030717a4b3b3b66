package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/denkoushi/tool-management-system02/app"
	"github.com/denkoushi/tool-management-system02/config"
	"github.com/denkoushi/tool-management-system02/controllers"
	"github.com/denkoushi/tool-management-system02/routes"
	"github.com/denkoushi/tool-management-system02/scan"
	"github.com/denkoushi/tool-management-system02/usbsync"
)

const shutdownTimeout = 5 * time.Second

func main() {
	config.LoadEnv()

	application := app.MustNew()
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- NFC リーダー ---
	var reader scan.Reader
	pcsc, err := scan.NewPCSCReader()
	if err != nil {
		log.Printf("PC/SC リーダーが使えません（スキャン無効で起動します）: %v", err)
		reader = scan.DisabledReader{}
	} else {
		defer pcsc.Close()
		reader = pcsc
	}

	monitor := scan.NewMonitor(reader, app.LedgerAdapter{Repo: application.Repo}, application.Hub)
	go monitor.Run(ctx)
	log.Println("📡 NFCスキャン監視スレッド開始")
	log.Println("💡 タイムアウトエラーは正常動作（タグ待機中）なので無視してください")

	// --- バックグラウンド処理 ---
	go application.Hub.RunRelay(ctx)
	go application.Plan.RunRefreshLoop(ctx)
	go application.Presence.RunHeartbeat(ctx, application.Config.StationID)

	// --- HTTP ---
	baseDir, _ := os.Getwd()
	srv := controllers.GetSrv(application, monitor, usbsync.NewRunner(baseDir))

	r := application.Router
	r.GET("/healthz", func(c *app.Ctx) { c.JSON(200, app.H{"ok": true}) })
	routes.RegisterRoutes(r, srv)

	// SIGINT/SIGTERM で ctx を落とし、HTTP を graceful に閉じてから defer 群に戻る
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("shutdown requested")
		cancel()
	}()

	ln, err := net.Listen("tcp", ":"+application.Config.Port)
	if err != nil {
		log.Fatalf("listen error: %v", err)
	}
	log.Printf("🚀 工具管理システムを開始します... http://0.0.0.0:%s", application.Config.Port)
	if err := serveUntil(ctx, &http.Server{Handler: r}, ln); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Println("👋 停止しました")
}

// serveUntil ctx が落ちるまで ln で serve し、落ちたら猶予つきで Shutdown する。
// 正常終了は nil
func serveUntil(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
