package jwtinfra

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-otp-auth/internal/config"
	"github.com/go-otp-auth/internal/domain"
	"github.com/go-otp-auth/internal/pkg/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type movableClock struct{ now time.Time }

func (c *movableClock) Now() time.Time { return c.now }

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

func TestIssue_ClaimsAndWindow(t *testing.T) {
	k := newKey(t)
	issuedAt := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	clk := &movableClock{now: issuedAt}
	p := NewProviderFromKeys(k, &k.PublicKey, clk, nil)

	signed, err := p.Issue("u1", "a@x.com", time.Hour)
	require.NoError(t, err)

	claims, err := p.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.True(t, issuedAt.Equal(claims.IssuedAt.Time))
	assert.Equal(t, time.Hour, claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time))
}

func TestVerify_Expired(t *testing.T) {
	k := newKey(t)
	clk := &movableClock{now: time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)}
	p := NewProviderFromKeys(k, &k.PublicKey, clk, nil)

	signed, err := p.Issue("u1", "a@x.com", time.Hour)
	require.NoError(t, err)

	clk.now = clk.now.Add(time.Hour + time.Second)
	_, err = p.Verify(signed)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestVerify_DifferentKey(t *testing.T) {
	k := newKey(t)
	signer := NewProviderFromKeys(k, &k.PublicKey, nil, nil)
	other := newKey(t)
	verifier := NewProviderFromKeys(other, &other.PublicKey, nil, nil)

	signed, err := signer.Issue("u1", "a@x.com", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(signed)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestVerify_SameErrorForEveryCause(t *testing.T) {
	k := newKey(t)
	p := NewProviderFromKeys(k, &k.PublicKey, clock.System{}, nil)

	// HS256 token: algorithm not allowed.
	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}})
	hsSigned, err := hs.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	valid, err := p.Issue("u1", "a@x.com", time.Hour)
	require.NoError(t, err)
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for _, tok := range []string{"not-a-token", "", hsSigned, tampered} {
		_, err := p.Verify(tok)
		assert.Equal(t, domain.ErrInvalidToken, err, "token %q", tok)
	}
}

func TestNewProvider_LoadsPEMFiles(t *testing.T) {
	k := newKey(t)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)})
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))
	pubBytes, err := x509.MarshalPKIXPublicKey(&k.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	p, err := NewProvider(&config.Config{JWTPrivateKeyPath: privPath, JWTPublicKeyPath: pubPath}, clock.System{}, nil)
	require.NoError(t, err)

	signed, err := p.Issue("u1", "a@x.com", time.Minute)
	require.NoError(t, err)
	_, err = p.Verify(signed)
	assert.NoError(t, err)
}

func TestNewProvider_MissingKey(t *testing.T) {
	_, err := NewProvider(&config.Config{JWTPrivateKeyPath: filepath.Join(t.TempDir(), "nope.pem")}, nil, nil)
	assert.ErrorContains(t, err, "read private key")
}
