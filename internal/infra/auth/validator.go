package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/netops-governor/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// Validator проверяет операторские JWT, подписанные RS256.
type Validator struct {
	publicKey *rsa.PublicKey
	issuer    string
}

// NewValidator: пустой issuer отключает проверку iss.
func NewValidator(pubKey *rsa.PublicKey, issuer string) *Validator {
	return &Validator{publicKey: pubKey, issuer: issuer}
}

// VerifyToken принимает значение заголовка Authorization с префиксом Bearer или без.
func (v *Validator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &domain.CustomClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*domain.CustomClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}
	return claims, nil
}

// ParseRSAPublicKey превращает PEM в ключ для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey превращает PEM в ключ для подписи токенов
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
