package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"statesync/internal/client"
	"statesync/internal/config"
	"statesync/pkg/bot"
	"statesync/pkg/core"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("加载 .env 失败: %v", err)
	}
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "服务器地址")
	flag.StringVar(&cfg.Network, "network", cfg.Network, "传输协议 (tcp/ws/kcp)")
	flag.StringVar(&cfg.Codec, "codec", cfg.Codec, "编码格式 (proto/msgpack)")
	count := flag.Int("n", 4, "机器人数量")
	tick := flag.Int("tick", core.FPS, "每秒输入次数")
	chase := flag.Bool("chase", false, "追逐最近的实体")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	behavior := &bot.ConfigWander
	if *chase {
		behavior = &bot.ConfigChaser
	}

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		logger := log.New(os.Stderr, fmt.Sprintf("[bot-%d] ", i), log.LstdFlags)
		session, err := client.NewSession(cfg, nil, logger)
		if err != nil {
			log.Fatalf("创建会话失败: %v", err)
		}
		controller := bot.NewController(time.Now().UnixNano()+int64(i), behavior)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer session.Close()

			if err := session.Connect(); err != nil {
				logger.Printf("连接失败: %v", err)
				return
			}
			err := session.Run(ctx, *tick, func() core.Input {
				return controller.Decide(session.LocalState(), session.RemoteStates())
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("会话结束: %v", err)
			}
		}()
	}

	log.Printf("已启动 %d 个机器人 -> %s://%s，按 Ctrl+C 停止", *count, cfg.Network, cfg.Addr)
	<-ctx.Done()
	wg.Wait()
	log.Println("机器人已全部退出")
}
