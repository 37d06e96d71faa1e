package jwtinfra

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-otp-auth/internal/config"
	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/clock"
	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the JWT payload fields.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Provider signs and verifies RS256 JWTs.
type Provider struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	clock      clock.Clock
	logger     *slog.Logger
}

// NewProvider loads the PEM key pair named in cfg.
func NewProvider(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*Provider, error) {
	privBytes, err := os.ReadFile(cfg.JWTPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubBytes, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return NewProviderFromKeys(privKey, pubKey, clk, logger), nil
}

func NewProviderFromKeys(priv *rsa.PrivateKey, pub *rsa.PublicKey, clk clock.Clock, logger *slog.Logger) *Provider {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		privateKey: priv,
		publicKey:  pub,
		clock:      clk,
		logger:     logger.With("component", "jwt"),
	}
}

// Issue signs claims with an expiry ttl after the current time.
func (p *Provider) Issue(userID, email string, ttl time.Duration) (string, error) {
	now := p.clock.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(p.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// Verify parses tokenStr and returns its claims. Every failure (bad signature,
// malformed token, expiry) is reported as domain.ErrInvalidToken; the
// underlying reason is only logged.
func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return p.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(p.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		p.logger.Debug("token rejected", "reason", err)
		return nil, domain.ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		p.logger.Debug("token rejected", "reason", "missing claims")
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}
