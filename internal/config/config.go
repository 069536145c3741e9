// Package config 从环境变量（以及可选的 .env 文件）加载客户端与权威端配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix 所有环境变量的前缀
const EnvPrefix = "STATESYNC_"

// Client 客户端会话配置
type Client struct {
	Network           string `env:"NETWORK"            envDefault:"tcp"`
	Addr              string `env:"ADDR"               envDefault:"127.0.0.1:7777"`
	Codec             string `env:"CODEC"              envDefault:"proto"`
	CompressThreshold int    `env:"COMPRESS_THRESHOLD" envDefault:"512"`

	AutoReconnect        bool          `env:"AUTO_RECONNECT"         envDefault:"true"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectDelay       time.Duration `env:"RECONNECT_DELAY"        envDefault:"1s"` // 退避基数
	BackoffCap           time.Duration `env:"BACKOFF_CAP"            envDefault:"30s"`
	BackoffMultiplier    float64       `env:"BACKOFF_MULTIPLIER"     envDefault:"2"`
	BackoffJitter        bool          `env:"BACKOFF_JITTER"         envDefault:"true"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL"     envDefault:"10s"`

	InterpolationDelay time.Duration `env:"INTERPOLATION_DELAY" envDefault:"100ms"`
	DeadReckoningMax   time.Duration `env:"DEAD_RECKONING_MAX"  envDefault:"0s"`
	BufferSize         int           `env:"BUFFER_SIZE"         envDefault:"30"`

	HistorySize             int           `env:"HISTORY_SIZE"             envDefault:"60"`
	ReconciliationTolerance float64       `env:"RECONCILIATION_TOLERANCE" envDefault:"5"`
	ReconciliationWindow    time.Duration `env:"RECONCILIATION_WINDOW"    envDefault:"50ms"`

	ClockSamples int           `env:"CLOCK_SAMPLES" envDefault:"10"`
	ClockMaxAge  time.Duration `env:"CLOCK_MAX_AGE" envDefault:"30s"`

	MaxRange    float64 `env:"MAX_RANGE"    envDefault:"10000"`
	MaxVelocity float64 `env:"MAX_VELOCITY" envDefault:"2"`
	MoveSpeed   float64 `env:"MOVE_SPEED"   envDefault:"0.25"`
}

// Authority 参考权威端配置
type Authority struct {
	Network           string        `env:"LISTEN_NETWORK"     envDefault:"tcp"`
	ListenAddr        string        `env:"LISTEN_ADDR"        envDefault:":7777"`
	Codec             string        `env:"CODEC"              envDefault:"proto"`
	CompressThreshold int           `env:"COMPRESS_THRESHOLD" envDefault:"512"`
	TickRate          int           `env:"TICK_RATE"          envDefault:"20"`
	CompressState     bool          `env:"COMPRESS_STATE"     envDefault:"true"`
	InputRate         float64       `env:"INPUT_RATE"         envDefault:"120"`
	InputBurst        int           `env:"INPUT_BURST"        envDefault:"30"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT"       envDefault:"45s"`
	JWTSecret         string        `env:"JWT_SECRET"`
	SessionTTL        time.Duration `env:"SESSION_TTL"        envDefault:"5m"`
	MaxRange          float64       `env:"MAX_RANGE"          envDefault:"10000"`
	MaxVelocity       float64       `env:"MAX_VELOCITY"       envDefault:"2"`
	MoveSpeed         float64       `env:"MOVE_SPEED"         envDefault:"0.25"`
}

// LoadDotEnv 加载 .env 文件，文件不存在时忽略
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadClient 从环境变量加载客户端配置
func LoadClient() (Client, error) {
	var cfg Client
	if err := parse(&cfg); err != nil {
		return Client{}, err
	}
	return cfg, cfg.Validate()
}

// LoadAuthority 从环境变量加载权威端配置
func LoadAuthority() (Authority, error) {
	var cfg Authority
	if err := parse(&cfg); err != nil {
		return Authority{}, err
	}
	return cfg, nil
}

// DefaultClient 仅使用默认值的客户端配置（忽略环境变量）
func DefaultClient() Client {
	var cfg Client
	_ = env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{},
	})
	return cfg
}

// DefaultAuthority 仅使用默认值的权威端配置（忽略环境变量）
func DefaultAuthority() Authority {
	var cfg Authority
	_ = env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{},
	})
	return cfg
}

// Validate 检查取值范围
func (c Client) Validate() error {
	switch {
	case c.MaxReconnectAttempts < 0:
		return fmt.Errorf("max reconnect attempts must be >= 0, got %d", c.MaxReconnectAttempts)
	case c.BackoffMultiplier < 1:
		return fmt.Errorf("backoff multiplier must be >= 1, got %v", c.BackoffMultiplier)
	case c.HistorySize <= 0 || c.BufferSize <= 0:
		return fmt.Errorf("history and buffer sizes must be positive")
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("heartbeat interval must be positive")
	}
	return nil
}

func parse(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
