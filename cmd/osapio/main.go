// Package main 是 osapio 命令行客户端：登录、上传文档并查看 AI 分析结果。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"osapio-go/internal/session"
	"osapio-go/pkg/apperr"
	"osapio-go/pkg/clientconfig"
	"osapio-go/pkg/gateway"
	"osapio-go/pkg/identity"
	"osapio-go/pkg/log"
	"osapio-go/pkg/transport"
)

const usage = `用法: osapio [-config 路径] [-v] <命令> [参数]

命令:
  register <email> [-name 显示名]   注册并登录
  login <email>                     登录
  logout                            登出
  whoami                            显示当前用户
  upload <文件>                     上传文件并等待分析结果
  list [-q 关键字] [-status 状态]   列出上传记录
  show <id>                         查看分析详情
  delete <id> [-yes]                删除上传记录
  download <id> [-o 目录]           下载原始文件
  search <关键字>                   全文检索分析结果
`

// app 持有一次命令执行所需的客户端。
type app struct {
	cfg      *clientconfig.Config
	identity *identity.Client
	gateway  *gateway.Client
	sess     *session.Session
}

func main() {
	global := flag.NewFlagSet("osapio", flag.ExitOnError)
	configPath := global.String("config", clientconfig.DefaultPath(), "配置文件路径")
	verbose := global.Bool("v", false, "输出调试日志")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])

	log.InitCLI(*verbose)
	defer log.Sync()

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	cfg, err := clientconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "未知命令: %s\n\n", args[0])
		global.Usage()
		os.Exit(2)
	}
	if err := cmd(ctx, a, args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", apperr.MessageOf(err, err.Error()))
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func newApp(cfg *clientconfig.Config) (*app, error) {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	id, err := identity.New(cfg.BackendURL, identity.NewFileStore(cfg.TokenFile), httpClient)
	if err != nil {
		return nil, fmt.Errorf("恢复登录状态失败: %w", err)
	}
	gw := gateway.New(cfg.BackendURL, id, httpClient)
	tr, err := transport.New(cfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储客户端失败: %w", err)
	}
	return &app{
		cfg:      cfg,
		identity: id,
		gateway:  gw,
		sess:     session.New(id, gw, tr),
	}, nil
}
