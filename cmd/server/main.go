package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/echoshell/api/handler"
	"github.com/sshcollectorpro/echoshell/api/router"
	"github.com/sshcollectorpro/echoshell/internal/config"
	"github.com/sshcollectorpro/echoshell/internal/database"
	"github.com/sshcollectorpro/echoshell/internal/service"
	"github.com/sshcollectorpro/echoshell/pkg/logger"
	"github.com/sshcollectorpro/echoshell/simulate"
)

const debounceInterval = 300 * time.Millisecond

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := initLogger(cfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Infof("Starting echoshell server, version 1.0.0")

	// 初始化数据库（可选，用于执行记录）
	var db *gorm.DB
	if cfg.Database.SQLite.Path != "" {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		db = database.GetDB()
		defer database.Close()
	}

	// 启动模拟设备（可选）
	sim := &simulator{path: cfg.Simulate.Path}
	if cfg.Simulate.Enabled {
		sim.start()
	}
	defer sim.stop()

	server := newHTTPServer(cfg, db)

	go func() {
		logger.Infof("Server listening on %s (mode=%s)", server.Addr, cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 配置文件热更新
	go watchFile(ctx, *configPath, func() {
		newCfg, err := config.Load(*configPath)
		if err != nil {
			logger.Warnf("Config reload failed: %v", err)
			return
		}
		// 原地覆盖，保持服务持有的指针不变
		*cfg = *newCfg
		if err := initLogger(cfg); err != nil {
			logger.Warnf("Logger reload failed: %v", err)
		}
		logger.Info("Config reloaded")

		sim.setPath(cfg.Simulate.Path)
		if cfg.Simulate.Enabled {
			sim.start()
		} else {
			sim.stop()
		}
	})

	// 模拟设备配置热更新
	if cfg.Simulate.Path != "" {
		go watchFile(ctx, cfg.Simulate.Path, func() {
			if config.Get().Simulate.Enabled {
				sim.reload()
			}
		})
	}

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Info("Server shutdown complete")
	}
}

// newHTTPServer 组装服务、处理器与路由
func newHTTPServer(cfg *config.Config, db *gorm.DB) *http.Server {
	var recorder *service.RunRecorder
	if db != nil {
		recorder = service.NewRunRecorder(db)
	}
	shellService := service.NewShellService(cfg, service.NewSSHTransport(cfg), recorder, service.NewStorageWriter(cfg))

	shellHandler := handler.NewShellHandler(shellService, config.Get, db)
	r := router.SetupRouter(cfg.Server.Mode, shellHandler, handler.NewLogsHandler(config.Get))

	return &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
}

func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
}

// watchFile 监听文件变化，防抖后回调
func watchFile(ctx context.Context, path string, onChange func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("Watch init failed for %s: %v", path, err)
		return
	}
	defer watcher.Close()
	if _, err := os.Stat(path); err != nil {
		logger.Warnf("Watch skipped, %s not found: %v", path, err)
		return
	}
	if err := watcher.Add(path); err != nil {
		logger.Warnf("Watch add failed for %s: %v", path, err)
		return
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, onChange)
			}
			// 编辑器以 rename 方式保存时需要重新添加
			if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				_ = watcher.Add(path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("Watch error for %s: %v", path, err)
		}
	}
}

// simulator 模拟设备的启停与热更新
type simulator struct {
	mu   sync.Mutex
	path string
	srv  *simulate.Server
}

func (s *simulator) setPath(path string) {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
}

func (s *simulator) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return
	}
	sc, err := simulate.LoadConfig(s.path)
	if err != nil {
		logger.Warnf("Simulate: failed to load %s: %v", s.path, err)
		return
	}
	srv, err := simulate.Start(sc)
	if err != nil {
		logger.Warnf("Simulate: failed to start: %v", err)
		return
	}
	s.srv = srv
	logger.Infof("Simulate: device listening on %s", srv.Addr())
}

func (s *simulator) reload() {
	s.mu.Lock()
	srv, path := s.srv, s.path
	s.mu.Unlock()
	if srv == nil {
		s.start()
		return
	}
	sc, err := simulate.LoadConfig(path)
	if err != nil {
		logger.Warnf("Simulate: reload %s failed: %v", path, err)
		return
	}
	if err := srv.Reload(sc); err != nil {
		logger.Warnf("Simulate: hot reload failed: %v", err)
		return
	}
	logger.Info("Simulate: hot reload success")
}

func (s *simulator) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		s.srv.Stop()
		s.srv = nil
		logger.Info("Simulate: stopped")
	}
}
