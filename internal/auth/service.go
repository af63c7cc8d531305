package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"meowroast/internal/config"
)

var (
	// ErrNoCredential means no identity token accompanied the request.
	ErrNoCredential = errors.New("authentication required")
	// ErrInvalidToken means a token was presented but failed signature or
	// expiry validation.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims is the verified identity carried in a signed token. The subject id
// lives in RegisteredClaims.Subject. Claims are immutable once issued; there
// is no separate user store behind them.
type Claims struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies identity tokens against a shared secret.
// Verification is pure: no storage, no side effects.
type Service struct {
	secret     []byte
	tokenTTL   time.Duration
	cookieName string
}

// NewService constructs the token service from the auth config section.
func NewService(cfg config.AuthConfig) *Service {
	ttl := time.Duration(cfg.TokenTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		secret:     []byte(cfg.JWTSecret),
		tokenTTL:   ttl,
		cookieName: "token",
	}
}

// Sign mints an HS256 token for the identity the OAuth callback verified.
func (s *Service) Sign(subjectID, name, email, picture string) (string, error) {
	if subjectID == "" {
		return "", errors.New("subject id is required")
	}
	now := time.Now().UTC()
	claims := Claims{
		Name:    name,
		Email:   email,
		Picture: picture,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates signature and expiry and returns the embedded claim.
// A `Bearer ` prefix, if present, is stripped before parsing.
func (s *Service) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "Bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return nil, ErrNoCredential
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// CookieName returns the cookie carrying the identity token.
func (s *Service) CookieName() string {
	return s.cookieName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
