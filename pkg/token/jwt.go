// Package token 提供了 JWT 的签发与校验。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose 区分同一密钥签发的不同用途的 token，防止互相冒用。
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
	// PurposeSocket 是 WebSocket 连接地址中携带的短期 token。
	PurposeSocket Purpose = "socket"
)

// socketTokenDur 是 WebSocket token 的有效期，只需覆盖前端拿到 token 到建立连接的间隔。
const socketTokenDur = 5 * time.Minute

// ErrWrongPurpose 表示 token 有效但用途不符。
var ErrWrongPurpose = errors.New("token purpose mismatch")

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey       []byte
	accessTokenDur  time.Duration
	refreshTokenDur time.Duration
}

// CustomClaims 是 JWT 中携带的自定义数据。
type CustomClaims struct {
	UserID   uint    `json:"userId"`
	Username string  `json:"username"`
	Role     string  `json:"role"`
	Purpose  Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, accessTokenExpireHours, refreshTokenExpireDays int) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  time.Hour * time.Duration(accessTokenExpireHours),
		refreshTokenDur: time.Duration(refreshTokenExpireDays) * 24 * time.Hour,
	}
}

func (m *JWTManager) sign(userID uint, username, role string, purpose Purpose, dur time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        GenerateRandomString(8),
			ExpiresAt: jwt.NewNumericDate(now.Add(dur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// GenerateToken 签发 access token。
func (m *JWTManager) GenerateToken(userID uint, username, role string) (string, error) {
	return m.sign(userID, username, role, PurposeAccess, m.accessTokenDur)
}

// GenerateRefreshToken 签发 refresh token，有效期更长。
func (m *JWTManager) GenerateRefreshToken(userID uint, username, role string) (string, error) {
	return m.sign(userID, username, role, PurposeRefresh, m.refreshTokenDur)
}

// GenerateSocketToken 签发建立 WebSocket 连接用的短期 token。
func (m *JWTManager) GenerateSocketToken(userID uint, username, role string) (string, error) {
	return m.sign(userID, username, role, PurposeSocket, socketTokenDur)
}

// VerifyToken 校验签名与有效期，并要求 token 用途为 purpose。
func (m *JWTManager) VerifyToken(tokenString string, purpose Purpose) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	return claims, nil
}

// GenerateRandomString 生成指定字节数的随机十六进制串。
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
