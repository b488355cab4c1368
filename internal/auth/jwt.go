package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// JWTManager signs and validates the session tokens handed to clients.
// Tokens carry a kid header so secrets can be rotated: every configured key
// verifies, only the active one signs.
type JWTManager struct {
	keys      map[string][]byte
	activeKID string
	duration  time.Duration
	now       func() time.Time
}

// Claims is the session payload.
type Claims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewJWTManager returns a manager with a single signing secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	m, _ := NewJWTManagerFromKeys(map[string]string{"default": secretKey}, "default", duration)
	return m
}

// NewJWTManagerFromKeys returns a manager that signs with activeKID and
// accepts any of keys.
func NewJWTManagerFromKeys(keys map[string]string, activeKID string, duration time.Duration) (*JWTManager, error) {
	if _, ok := keys[activeKID]; !ok {
		return nil, fmt.Errorf("active kid %q not in key set", activeKID)
	}
	m := &JWTManager{
		keys:      make(map[string][]byte, len(keys)),
		activeKID: activeKID,
		duration:  duration,
		now:       time.Now,
	}
	for kid, secret := range keys {
		m.keys[kid] = []byte(secret)
	}
	return m, nil
}

// GenerateToken issues a signed token for a user.
func (m *JWTManager) GenerateToken(uid, email string) (string, time.Time, error) {
	issuedAt := m.now()
	expiresAt := issuedAt.Add(m.duration)
	claims := &Claims{
		UID:   uid,
		Email: strings.ToLower(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.activeKID
	signed, err := token.SignedString(m.keys[m.activeKID])
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = m.activeKID
		}
		key, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return key, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
