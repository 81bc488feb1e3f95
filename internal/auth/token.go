package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims carried by a service token.
type Claims struct {
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and validates RS256 service tokens. Outbound workflow
// calls attach these so receivers can verify the caller.
type TokenService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	tokenTTL   time.Duration
}

// NewTokenService creates a token service around an existing signing key.
func NewTokenService(key *rsa.PrivateKey, tokenTTL time.Duration) (*TokenService, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}

	return &TokenService{
		privateKey: key,
		publicKey:  &key.PublicKey,
		tokenTTL:   tokenTTL,
	}, nil
}

// NewTokenServiceFromConfig loads (or generates) the signing key named by the
// configuration and builds a token service with the configured TTL.
func NewTokenServiceFromConfig(cfg Config) (*TokenService, error) {
	key, err := EnsurePrivateKey(cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare signing key: %w", err)
	}
	return NewTokenService(key, cfg.TokenTTL())
}

// GenerateSystemToken mints a short-lived token identifying a platform
// service rather than a user.
func (s *TokenService) GenerateSystemToken(serviceName string) (string, error) {
	now := time.Now()
	subject := "system:" + serviceName

	claims := Claims{
		Username: subject,
		Roles:    []string{"system", "service:" + serviceName},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.privateKey)
}

// ValidateToken parses a token string and returns its claims if the
// signature and validity window check out.
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.publicKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// LoadPrivateKey reads a PKCS#1 PEM private key from disk.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing private key")
	}

	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// EnsurePrivateKey loads the key at path, generating and saving a fresh one
// when the file does not exist yet.
func EnsurePrivateKey(path string) (*rsa.PrivateKey, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Warn("Private key not found, generating new key", "path", path)
		key, err := GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}

		if err := SavePrivateKey(path, key); err != nil {
			return nil, fmt.Errorf("failed to save key: %w", err)
		}
		return key, nil
	}

	return LoadPrivateKey(path)
}

// SavePrivateKey writes the key to path as a PKCS#1 PEM block.
func SavePrivateKey(path string, key *rsa.PrivateKey) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	privateKeyBytes := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: privateKeyBytes,
	}

	return pem.Encode(file, block)
}

// GeneratePrivateKey creates a new 2048-bit RSA key.
func GeneratePrivateKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}
