// controllers/srv.go
package controllers

import (
	"github.com/denkoushi/tool-management-system02/app"
	"github.com/denkoushi/tool-management-system02/db"
	"github.com/denkoushi/tool-management-system02/scan"
	"github.com/denkoushi/tool-management-system02/usbsync"
)

type Srv struct {
	App     *app.App
	Repo    *db.Repo
	Monitor *scan.Monitor
	Usb     *usbsync.Runner
}

func GetSrv(a *app.App, monitor *scan.Monitor, usb *usbsync.Runner) *Srv {
	return &Srv{
		App:     a,
		Repo:    a.Repo,
		Monitor: monitor,
		Usb:     usb,
	}
}
