package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	claimSubject        = "sub"
	claimUserID         = "user_id"
	claimRole           = "role"
	claimImpersonatedBy = "imp"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenClaims is what a signed session token carries.
type TokenClaims struct {
	UserID         string
	Role           string
	ImpersonatedBy string
	ExpiresAt      time.Time
}

// GenerateToken creates a signed HS256 JWT for the user.
func GenerateToken(claims TokenClaims, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(claims.UserID) == "" {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	mc := jwt.MapClaims{
		claimSubject: claims.UserID,
		claimUserID:  claims.UserID,
		claimRole:    claims.Role,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	if claims.ImpersonatedBy != "" {
		mc[claimImpersonatedBy] = claims.ImpersonatedBy
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken verifies signature and expiry and returns the claims.
func ParseToken(raw, secret string) (TokenClaims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return TokenClaims{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return TokenClaims{}, ErrInvalidToken
	}

	out := TokenClaims{
		UserID:         claimString(claims, claimUserID),
		Role:           claimString(claims, claimRole),
		ImpersonatedBy: claimString(claims, claimImpersonatedBy),
	}
	if out.UserID == "" {
		out.UserID = claimString(claims, claimSubject)
	}
	if out.UserID == "" {
		return TokenClaims{}, ErrInvalidToken
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// BearerToken strips an optional "Bearer " prefix.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}
