package token

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleType set caller role
type RoleType string

const (
	// RoleService web tier 或其他內部服務
	RoleService RoleType = "service"
	// RoleAdmin 維運人員
	RoleAdmin RoleType = "admin"
)

// Claims structure for custom claims in JWT
type Claims struct {
	Service string `json:"service"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

var (
	secretMu        sync.RWMutex
	jwtSecret       = []byte("secure_secret_key")
	tokenExpiration = 60 * time.Minute

	// ErrInvalidToken token 驗證失敗
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingBearer Authorization header 格式錯誤
	ErrMissingBearer = errors.New("invalid or missing bearer token")
)

// SetSecret 由設定檔注入簽章金鑰
func SetSecret(secret string) {
	if secret == "" {
		return
	}
	secretMu.Lock()
	defer secretMu.Unlock()
	jwtSecret = []byte(secret)
}

func secret() []byte {
	secretMu.RLock()
	defer secretMu.RUnlock()
	return jwtSecret
}

// GenerateJWT generates a service JWT token
func GenerateJWT(service, role, issuer string) (string, error) {
	claims := Claims{
		Service: service,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret())
}

// ParseJWT parses a JWT and extracts the Claims
func ParseJWT(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Check if the signing method is HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret(), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ParseBearer 解析 "Bearer xxx" header
func ParseBearer(header string) (*Claims, error) {
	tokenStr, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(tokenStr) == "" {
		return nil, ErrMissingBearer
	}
	return ParseJWTFunc(strings.TrimSpace(tokenStr))
}
