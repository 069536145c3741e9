package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// 会话令牌默认有效期
	DefaultSessionTTL = 5 * time.Minute

	tokenIssuer = "statesync-authority"

	// 开发环境默认密钥，生产环境应通过 STATESYNC_JWT_SECRET 设置
	devSecret = "statesync-dev-secret-change-in-production"
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims 会话令牌声明
type Claims struct {
	EntityID string `json:"entity_id"`
	RoomID   string `json:"room_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer 签发与校验会话令牌，重连时客户端凭令牌找回原实体
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenIssuer 创建签发器，secret 为空时使用开发密钥
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if secret == "" {
		secret = devSecret
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenIssuer{key: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL 令牌有效期
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue 生成会话令牌
func (t *TokenIssuer) Issue(entityID, roomID string) (string, error) {
	now := t.now()
	claims := Claims{
		EntityID: entityID,
		RoomID:   roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   entityID,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.key)
}

// Verify 校验令牌并返回声明
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.key, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.EntityID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
