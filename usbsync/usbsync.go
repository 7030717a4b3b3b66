// Package usbsync は USB メモリからのマスタ取り込みスクリプトの実行をまとめる
package usbsync

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Step スクリプト1本分の実行結果
type Step struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	Command    string `json:"command"`
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

type Result struct {
	ReturnCode int    `json:"returncode"`
	Steps      []Step `json:"steps"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

type Runner struct {
	MasterScript string
	// テストでコマンド実行を差し替える
	run func(name string, args ...string) (int, string, string)
}

func NewRunner(baseDir string) *Runner {
	return &Runner{
		MasterScript: filepath.Join(baseDir, "scripts", "usb_master_sync.sh"),
		run:          runCommand,
	}
}

// resolveDocViewerScript DocumentViewer の取り込みスクリプトを探す。無ければ空
func resolveDocViewerScript() string {
	candidates := []string{}
	if env := os.Getenv("DOCVIEWER_IMPORT_SCRIPT"); env != "" {
		candidates = append(candidates, env)
	}
	candidates = append(candidates,
		"/home/tools01/DocumentViewer/scripts/usb-import.sh",
		"/home/pi/DocumentViewer/scripts/usb-import.sh",
	)
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Run 工具マスタ同期と（あれば）DocumentViewer 同期を順に実行する
func (r *Runner) Run(device string) (Result, error) {
	if device == "" {
		device = "/dev/sda1"
	}
	if _, err := os.Stat(r.MasterScript); err != nil {
		return Result{}, fmt.Errorf("マスター同期スクリプトが見つかりません: %s", r.MasterScript)
	}

	type command struct {
		name, title string
		args        []string
	}
	commands := []command{
		{name: "tool_master", title: "工具マスタ同期", args: []string{"sudo", "bash", r.MasterScript, device}},
	}

	res := Result{}
	if script := resolveDocViewerScript(); script != "" {
		commands = append(commands, command{
			name: "docviewer", title: "ドキュメントビューア同期",
			args: []string{"sudo", "bash", script, device},
		})
	} else {
		res.Steps = append(res.Steps, Step{
			Name:       "docviewer",
			Title:      "ドキュメントビューア同期",
			ReturnCode: 127,
			Stderr:     "DocumentViewer の USB インポートスクリプトが見つかりません。DOCVIEWER_IMPORT_SCRIPT を設定してください。",
		})
		res.ReturnCode = 127
	}

	var outParts, errParts []string
	for _, cmd := range commands {
		code, stdout, stderr := r.run(cmd.args[0], cmd.args[1:]...)
		step := Step{
			Name:       cmd.name,
			Title:      cmd.title,
			Command:    strings.Join(cmd.args, " "),
			ReturnCode: code,
			Stdout:     stdout,
			Stderr:     stderr,
		}
		res.Steps = append(res.Steps, step)

		if stdout != "" {
			outParts = append(outParts, fmt.Sprintf("== %s ==\n%s", cmd.title, strings.TrimSpace(stdout)))
		}
		if stderr != "" {
			errParts = append(errParts, fmt.Sprintf("== %s ==\n%s", cmd.title, strings.TrimSpace(stderr)))
		}
		if code != 0 && res.ReturnCode == 0 {
			res.ReturnCode = code
		}
	}

	res.Stdout = strings.Join(outParts, "\n")
	res.Stderr = strings.Join(errParts, "\n")
	return res, nil
}

func runCommand(name string, args ...string) (int, string, string) {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 127
			if stderr.Len() == 0 {
				stderr.WriteString(err.Error())
			}
		}
	}
	return code, stdout.String(), stderr.String()
}
