// Package auth verifies partner bearer tokens issued by the external identity
// provider. This service never logs anyone in.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const DefaultLeeway = 30 * time.Second

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type VerifierOptions struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier checks HS256 tokens. Issuer and audience are only enforced when
// configured.
type Verifier struct {
	secret  []byte
	options []jwt.ParserOption
}

func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: jwt secret is required")
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer := strings.TrimSpace(opts.Issuer); issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(opts.Audience); audience != "" {
		options = append(options, jwt.WithAudience(audience))
	}
	return &Verifier{secret: opts.Secret, options: options}, nil
}

func (v *Verifier) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMissingToken
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, v.options...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpiredToken
	case err != nil:
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case !parsed.Valid:
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: subject required", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyRequest reads the Authorization header and verifies its bearer token.
func (v *Verifier) VerifyRequest(r *http.Request) (Claims, error) {
	token, ok := BearerToken(r)
	if !ok {
		return Claims{}, ErrMissingToken
	}
	return v.Verify(token)
}

func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}

// Issue signs claims with HS256. Used by tests and local tooling that stand in
// for the identity provider.
func Issue(secret []byte, claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
