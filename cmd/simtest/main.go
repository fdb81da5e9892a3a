package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sshcollectorpro/echoshell/internal/config"
	"github.com/sshcollectorpro/echoshell/internal/service"
	"github.com/sshcollectorpro/echoshell/pkg/logger"
	"github.com/sshcollectorpro/echoshell/simulate"
)

// 本地冒烟：启动模拟设备，按配置的回显参数执行一组命令并打印全文
func main() {
	simPath := flag.String("sim", "simulate/simulate.yaml", "simulate.yaml path")
	configPath := flag.String("config", "", "config.yaml path (empty = search ./configs)")
	commands := flag.String("commands", "display version;display interface brief", "Commands separated by ';'")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("load config: %v", err)
	}
	level := "warn"
	if *verbose {
		level = "debug"
	}
	_ = logger.Init(logger.Config{Level: level, Format: "text", Output: "stdout"})

	sc, err := simulate.LoadConfig(*simPath)
	if err != nil {
		fail("load simulate config: %v", err)
	}
	sc.Listen = "127.0.0.1:0"
	sc.HostKeyFile = ""
	srv, err := simulate.Start(sc)
	if err != nil {
		fail("start simulate: %v", err)
	}
	defer srv.Stop()

	user := sc.Username
	if user == "" {
		user = "admin"
	}
	list := []string{user, sc.Password}
	for _, c := range strings.Split(*commands, ";") {
		if c = strings.TrimSpace(c); c != "" {
			list = append(list, c)
		}
	}
	// 模拟设备输出编码与解码保持一致
	cfg.Shell.Encoding = "utf-8"
	if sc.Encoding != "" {
		cfg.Shell.Encoding = sc.Encoding
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	svc := service.NewShellService(cfg, service.NewSSHTransport(cfg), nil, nil)
	start := time.Now()
	total, err := svc.Executive(ctx, "127.0.0.1", srv.Addr().Port, list, nil)
	if err != nil {
		fail("run: %v", err)
	}
	fmt.Println(strings.ReplaceAll(total, "\r\n", "\n"))
	fmt.Printf("\n[simtest] %d commands, %d bytes in %s\n", len(list)-2, len(total), time.Since(start).Round(time.Millisecond))
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[simtest] "+format+"\n", args...)
	os.Exit(1)
}
