package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	kcp "github.com/xtaci/kcp-go/v5"
)

// Listener 接受按帧收发的连接
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// Listen 按协议监听：tcp、kcp、ws
func Listen(network, addr string, opts Options) (Listener, error) {
	switch network {
	case "", "tcp":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return &tcpListener{listener: listener, opts: opts}, nil
	case "kcp":
		listener, err := kcp.ListenWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		return &kcpListener{listener: listener, opts: opts}, nil
	case "ws":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return newWSListener(listener, opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
}

type tcpListener struct {
	listener net.Listener
	opts     Options
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	// 开启 TCP_NODELAY，禁用 Nagle 算法以减少延迟
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return newStreamConn(conn, l.opts), nil
}

func (l *tcpListener) Close() error   { return l.listener.Close() }
func (l *tcpListener) Addr() net.Addr { return l.listener.Addr() }

type kcpListener struct {
	listener *kcp.Listener
	opts     Options
}

func (l *kcpListener) Accept() (Conn, error) {
	sess, err := l.listener.AcceptKCP()
	if err != nil {
		return nil, err
	}
	sess.SetStreamMode(true)
	sess.SetNoDelay(1, 10, 2, 1)
	return newStreamConn(sess, l.opts), nil
}

func (l *kcpListener) Close() error   { return l.listener.Close() }
func (l *kcpListener) Addr() net.Addr { return l.listener.Addr() }

// wsListener 在 /ws 上升级 HTTP 连接
type wsListener struct {
	listener net.Listener
	server   *http.Server
	opts     Options
	conns    chan Conn
	done     chan struct{}
	once     sync.Once
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func newWSListener(listener net.Listener, opts Options) *wsListener {
	l := &wsListener{
		listener: listener,
		opts:     opts,
		conns:    make(chan Conn, 16),
		done:     make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", l.handle)
	l.server = &http.Server{Handler: mux}
	go l.server.Serve(listener)
	return l
}

func (l *wsListener) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := newWSConn(ws, l.opts)
	select {
	case l.conns <- conn:
	case <-l.done:
		conn.Close()
	}
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.server.Close()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	})
	return err
}

func (l *wsListener) Addr() net.Addr { return l.listener.Addr() }
