package main

import (
	"flag"
	"log"
	"os"

	"statesync/internal/client"
	"statesync/internal/config"
	"statesync/internal/viewer"
	"statesync/pkg/protocol"

	"github.com/hajimehoshi/ebiten/v2"
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
	scheme := flag.String("scheme", "wasd", "按键方案 (wasd/arrow)")
	room := flag.String("room", "", "连接后加入的房间")
	flag.Parse()

	logger := log.New(os.Stderr, "[client] ", log.LstdFlags|log.Lmicroseconds)

	session, err := client.NewSession(cfg, nil, logger)
	if err != nil {
		log.Fatalf("创建会话失败: %v", err)
	}
	defer session.Close()

	if *room != "" {
		// 首次握手完成（拿到会话令牌）后加入房间，断线重连时由会话自动重新加入
		var joined bool
		session.Subscribe(client.MessageEvent(protocol.MsgConnect), func(client.Event) error {
			if joined {
				return nil
			}
			joined = true
			return session.JoinRoom(*room)
		})
	}

	controls := viewer.ParseControlScheme(*scheme)
	game := viewer.New(session, controls, logger)

	if err := session.Connect(); err != nil {
		log.Fatalf("连接失败: %v", err)
	}

	ebiten.SetWindowSize(viewer.ScreenWidth, viewer.ScreenHeight)
	ebiten.SetWindowTitle("StateSync - " + cfg.Addr + " [" + controls.String() + "]")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeDisabled)
	ebiten.SetTPS(60)

	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}
