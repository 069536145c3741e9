package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"statesync/internal/config"
	"statesync/internal/server"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("加载 .env 失败: %v", err)
	}
	cfg, err := config.LoadAuthority()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 命令行参数覆盖环境变量
	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "监听地址")
	flag.StringVar(&cfg.Network, "network", cfg.Network, "传输协议 (tcp/ws/kcp)")
	flag.StringVar(&cfg.Codec, "codec", cfg.Codec, "编码格式 (proto/msgpack)")
	flag.IntVar(&cfg.TickRate, "tick", cfg.TickRate, "每秒广播次数")
	flag.Parse()

	logger := log.New(os.Stderr, "[authority] ", log.LstdFlags|log.Lmicroseconds)

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		log.Fatalf("创建服务器失败: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("服务器启动失败: %v", err)
	}

	log.Println("========================================")
	log.Println("  StateSync 权威服务器")
	log.Println("========================================")
	log.Printf("监听地址: %s://%s", cfg.Network, srv.Addr())
	log.Printf("编码格式: %s", cfg.Codec)
	log.Printf("广播频率: %d Hz", cfg.TickRate)
	log.Println("========================================")
	log.Println("按 Ctrl+C 停止服务器")

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("正在关闭服务器...")
	srv.Shutdown()

	log.Println("服务器已关闭")
}
