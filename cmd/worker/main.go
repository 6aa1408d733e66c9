package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"khaacho/dispatch/internal/app"
	"khaacho/dispatch/internal/domains"
	"khaacho/dispatch/internal/worker"
	"khaacho/dispatch/pkg/config"
	"khaacho/dispatch/pkg/infra/redis"
	"khaacho/dispatch/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/worker.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	log.Println("========================================")
	log.Println("  Dispatch Worker Starting...")
	log.Println("========================================")

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}
	log.Printf("Config loaded: %s, env: %s, log_level: %s\n", cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)

	// 2. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 3. 组装编排器与自愈巡检
	ctx := context.Background()
	a, err := app.New(ctx, cfg, zapLogger)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}
	defer a.Close()

	// 4. 定时任务：多实例时用 Redis 锁互斥
	var locker worker.Locker = worker.NewLocalLocker()
	if a.Redis != nil {
		locker = redis.NewLocker(a.Redis, cfg.Redis.LockPrefix)
	}
	scheduler := worker.NewScheduler(locker, cfg.Scheduler.LockTTL, zapLogger, app.Tasks(a)...)

	// 5. 创建 Manager
	mgr, err := worker.NewManagerInstance(cfg, a.Lmstfy, domains.GetProcess(zapLogger, a.Orchestrator), scheduler, zapLogger)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}

	go func() {
		if err := mgr.Start(); err != nil {
			log.Fatalf("Manager start failed: %v", err)
		}
	}()

	log.Println("Worker started. Press Ctrl+C to shutdown.")

	// 6. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Println("========================================")
	log.Printf("  Received signal: %v\n", sig)
	log.Println("  Shutting down Worker...")
	log.Println("========================================")

	// 7. 优雅关闭 Manager
	mgr.Shutdown()

	fmt.Println("========================================")
	fmt.Println("  Worker exited gracefully")
	fmt.Println("========================================")
}
