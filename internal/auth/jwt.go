// Package auth 校验身份提供方签发的访问令牌
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/freedkr/ocrflow/internal/model"
)

// Config 令牌校验配置
type Config struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" validate:"required"`
	Issuer    string        `yaml:"issuer" env:"JWT_ISSUER" default:""`
	Leeway    time.Duration `yaml:"leeway" env:"JWT_LEEWAY" default:"30s"`
}

// Claims 令牌中携带的用户标识
type Claims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// Verifier 校验令牌并返回用户ID
type Verifier interface {
	Verify(token string) (string, error)
}

// JWTVerifier HS256令牌校验
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier 创建校验器
func NewJWTVerifier(cfg Config) (*JWTVerifier, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &JWTVerifier{secret: []byte(cfg.JWTSecret), parser: jwt.NewParser(opts...)}, nil
}

// Verify 校验令牌
func (v *JWTVerifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", unauthorized("missing token")
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", unauthorized("invalid token")
	}
	if claims.ID == "" {
		return "", unauthorized("token has no user id")
	}
	return claims.ID, nil
}

// Sign 生成令牌，用于测试和本地调试
func (v *JWTVerifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken 从 Authorization 头中取出令牌
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(msg string) error {
	return &model.BaseError{Code: model.ErrCodeUnauthorized, Message: msg, Timestamp: time.Now()}
}
