// Package auth resolves bearer credentials presented to the network
// gateways. A token is accepted when it matches a static API key
// (constant-time comparison) or is an HS256 JWT signed with the configured
// secret. The resolved client name is what lands in audit events.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken  = errors.New("missing or invalid Authorization header")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNoCredentials = errors.New("authentication not configured")
)

// Anonymous is the client name used when authentication is disabled.
const Anonymous = "anonymous"

// Claims are the JWT claims accepted by the gateways.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator validates bearer tokens.
type Authenticator struct {
	apiKeys map[string]string // key -> client name
	secret  []byte
	issuer  string
	now     func() time.Time
}

// New creates an Authenticator. With no keys and no secret, every request is
// accepted as Anonymous.
func New(apiKeys map[string]string, jwtSecret, issuer string) *Authenticator {
	keys := make(map[string]string, len(apiKeys))
	for k, v := range apiKeys {
		if k != "" {
			keys[k] = v
		}
	}
	a := &Authenticator{apiKeys: keys, issuer: issuer, now: time.Now}
	if jwtSecret != "" {
		a.secret = []byte(jwtSecret)
	}
	return a
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && (len(a.apiKeys) > 0 || len(a.secret) > 0)
}

// FromHeader extracts the token from an "Authorization: Bearer <token>"
// header value and authenticates it.
func (a *Authenticator) FromHeader(header string) (string, error) {
	if !a.Enabled() {
		return Anonymous, nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return a.Authenticate(strings.TrimSpace(token))
}

// Authenticate returns the client name bound to token.
func (a *Authenticator) Authenticate(token string) (string, error) {
	if !a.Enabled() {
		return Anonymous, nil
	}
	if token == "" {
		return "", ErrMissingToken
	}

	client := ""
	for key, name := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			client = name
		}
	}
	if client != "" {
		return client, nil
	}

	if len(a.secret) == 0 {
		return "", ErrInvalidToken
	}
	claims, err := a.parse(token)
	if err != nil {
		return "", err
	}
	return "jwt:" + claims.Subject, nil
}

func (a *Authenticator) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	return claims, nil
}

// Issue signs an HS256 token for subject valid for ttl.
func (a *Authenticator) Issue(subject string, ttl time.Duration) (string, error) {
	if a == nil || len(a.secret) == 0 {
		return "", ErrNoCredentials
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := a.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
