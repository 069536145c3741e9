// Package server 参考权威端：接受客户端连接、运行权威模拟并广播实体状态。
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"statesync/internal/config"
	"statesync/pkg/codec"
	"statesync/pkg/core"
	"statesync/pkg/protocol"
	"statesync/pkg/transport"
)

// Server 权威服务器
type Server struct {
	cfg    config.Authority
	logger *log.Logger
	codec  protocol.Codec
	tokens *TokenIssuer
	world  *World

	// 网络
	listener transport.Listener

	// 控制
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

// NewServer 创建服务器
func NewServer(cfg config.Authority, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	c, err := protocol.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())

	var quantizer *codec.Quantizer
	if cfg.CompressState {
		q := codec.NewQuantizer(cfg.MaxRange, cfg.MaxVelocity)
		quantizer = &q
	}
	moveSpeed := cfg.MoveSpeed
	if moveSpeed <= 0 {
		moveSpeed = core.DefaultMoveSpeed
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		codec:  c,
		tokens: NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL),
		world: NewWorld(ctx, WorldConfig{
			TickRate:  cfg.TickRate,
			Step:      core.VelocityStep(moveSpeed),
			Quantizer: quantizer,
			MaxRange:  cfg.MaxRange,
			ParkTTL:   cfg.SessionTTL,
		}, logger),
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}, nil
}

// Start 监听并启动世界循环与连接接受循环，不阻塞
func (s *Server) Start() error {
	listener, err := transport.Listen(s.cfg.Network, s.cfg.ListenAddr, transport.Options{
		CompressThreshold: s.cfg.CompressThreshold,
		Logger:            s.logger,
	})
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	s.listener = listener
	s.logger.Printf("权威端监听中: %s://%s (codec=%s)", s.cfg.Network, listener.Addr(), s.codec.Name())

	s.wg.Add(1)
	go s.world.Run(&s.wg)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Wait 阻塞直到 Shutdown
func (s *Server) Wait() {
	<-s.shutdown
}

// Addr 实际监听地址
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// World 权威世界
func (s *Server) World() *World { return s.world }

// Tokens 令牌签发器
func (s *Server) Tokens() *TokenIssuer { return s.tokens }

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.logger.Println("正在关闭服务器...")
		s.cancel()
		s.world.Shutdown()
		if s.listener != nil {
			s.listener.Close()
		}
		close(s.shutdown)
		s.wg.Wait()
		s.logger.Println("服务器已关闭")
	})
}

// acceptLoop 接受客户端连接
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				s.logger.Println("停止接受新连接")
				return
			default:
				s.logger.Printf("接受连接失败: %v", err)
				continue
			}
		}

		s.logger.Printf("新连接来自: %s", conn.RemoteAddr())

		connection := NewConnection(conn, s)
		s.wg.Add(1)
		go connection.Handle(s.ctx, &s.wg)
	}
}
