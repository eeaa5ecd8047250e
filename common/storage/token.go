package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "artifact.ci"

// ErrInvalidToken is returned for tokens that fail signature, expiry or shape checks
var ErrInvalidToken = errors.New("invalid upload token")

// UploadClaims scope a client token to one pathname and one content type
type UploadClaims struct {
	jwt.RegisteredClaims
	AllowedContentTypes []string `json:"allowedContentTypes"`
	AddRandomSuffix     bool     `json:"addRandomSuffix"`
	TokenPayload        string   `json:"tokenPayload"`
}

// Pathname is the destination object the token was minted for
func (c *UploadClaims) Pathname() string {
	return c.Subject
}

// TokenSigner mints and verifies HS256 client upload tokens
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTokenSigner creates a signer for the given secret
func NewTokenSigner(secret []byte) *TokenSigner {
	return &TokenSigner{secret: secret, now: time.Now}
}

// Sign mints a token for exactly one pathname and content type
func (s *TokenSigner) Sign(pathname, contentType, payload string, addRandomSuffix bool, ttl time.Duration) (string, time.Time, error) {
	if contentType == "" || strings.Contains(contentType, "*") {
		return "", time.Time{}, fmt.Errorf("a single concrete content type is required, got %q", contentType)
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, UploadClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   pathname,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AllowedContentTypes: []string{contentType},
		AddRandomSuffix:     addRandomSuffix,
		TokenPayload:        payload,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign upload token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer and expiry and returns the claims
func (s *TokenSigner) Verify(tokenString string) (*UploadClaims, error) {
	claims := &UploadClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid || claims.Subject == "" || len(claims.AllowedContentTypes) != 1 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

const suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// WithRandomSuffix inserts a short random suffix before the file extension:
// dist/app.js -> dist/app-Xa81bQ0z.js
func WithRandomSuffix(pathname string) (string, error) {
	suffix := make([]byte, 8)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(suffixAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate suffix: %w", err)
		}
		suffix[i] = suffixAlphabet[n.Int64()]
	}

	ext := path.Ext(pathname)
	return strings.TrimSuffix(pathname, ext) + "-" + string(suffix) + ext, nil
}
