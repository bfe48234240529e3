package opauth

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/segw-project/segw/pkg/log"
)

// JWTIssuer signs and verifies operator bearer tokens with an ed25519
// keypair (spec §4.13, grounded on the teacher's JWTAuthenticator, ported
// from golang-jwt/jwt/v4 to the v5 API this module depends on).
type JWTIssuer struct {
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
	issuer     string
	ttl        time.Duration
}

// NewJWTIssuer reads the signing keypair from base64-encoded
// JWT_PUBLIC_KEY/JWT_PRIVATE_KEY environment variables, matching the
// teacher's env-only treatment of JWT signing material.
func NewJWTIssuer(issuer string, ttl time.Duration) (*JWTIssuer, error) {
	pubB64, privB64 := envOrWarn("JWT_PUBLIC_KEY"), envOrWarn("JWT_PRIVATE_KEY")
	if pubB64 == "" || privB64 == "" {
		return &JWTIssuer{issuer: issuer, ttl: ttl}, nil
	}
	pub, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, fmt.Errorf("opauth: decode JWT_PUBLIC_KEY: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, fmt.Errorf("opauth: decode JWT_PRIVATE_KEY: %w", err)
	}
	return &JWTIssuer{
		publicKey:  ed25519.PublicKey(pub),
		privateKey: ed25519.PrivateKey(priv),
		issuer:     issuer,
		ttl:        ttl,
	}, nil
}

func envOrWarn(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Warnf("opauth: environment variable %s not set (JWT auth will not work)", name)
	}
	return v
}

// Issue signs a bearer token for user, carrying roles as a claim. Verify
// returns only the subject; the roles claim is not read back.
func (j *JWTIssuer) Issue(user string, roles []string) (string, error) {
	if j.privateKey == nil {
		return "", fmt.Errorf("opauth: JWT signing key not configured")
	}
	claims := jwt.MapClaims{
		"sub":   user,
		"roles": roles,
		"iss":   j.issuer,
		"iat":   jwt.NewNumericDate(time.Now()),
		"exp":   jwt.NewNumericDate(time.Now().Add(j.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(j.privateKey)
}

// Verify parses and validates a bearer token, returning the subject.
func (j *JWTIssuer) Verify(raw string) (string, error) {
	if j.publicKey == nil {
		return "", fmt.Errorf("opauth: JWT verification key not configured")
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodEdDSA {
			return nil, fmt.Errorf("opauth: unexpected signing method %s", t.Method.Alg())
		}
		return j.publicKey, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("opauth: invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("opauth: token missing subject")
	}
	return sub, nil
}

// Authenticator answers the gateway proxy HTTP API's bearer-auth
// middleware.
type Authenticator struct {
	issuer *JWTIssuer
}

// NewAuthenticator wraps a JWTIssuer as the http.Request authenticator
// the gatewayproxy API middleware calls.
func NewAuthenticator(issuer *JWTIssuer) *Authenticator {
	return &Authenticator{issuer: issuer}
}

// Authenticate extracts and verifies the Authorization: Bearer token,
// returning the operator's username.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return "", fmt.Errorf("opauth: missing bearer token")
	}
	return a.issuer.Verify(raw)
}
