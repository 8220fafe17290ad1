package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var (
	ErrMissingToken       = errors.New("missing authorization token")
	ErrInvalidToken       = errors.New("invalid authorization token")
	ErrInvalidCredentials = errors.New("email and appName are required")
)

// Scheme controls which Authorization header shapes are accepted.
type Scheme string

const (
	SchemeBearer Scheme = "bearer"
	SchemeRaw    Scheme = "raw"
	SchemeEither Scheme = "either"
)

type Service struct {
	secret []byte
	ttl    time.Duration
	scheme Scheme
	now    func() time.Time
}

// Identity is what a verified token says about its holder.
type Identity struct {
	Email   string
	AppName string
	TokenID string
}

type Token struct {
	Token     string
	ExpiresAt time.Time
}

type claims struct {
	Email   string `json:"email"`
	AppName string `json:"appName"`
	jwt.RegisteredClaims
}

func NewService(secret []byte, ttl time.Duration, scheme Scheme) *Service {
	return &Service{secret: secret, ttl: ttl, scheme: scheme, now: time.Now}
}

// RandomSecret returns a signing secret for processes started without one.
// Tokens signed with it do not survive a restart.
func RandomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Issue signs a token for the email and app name pair.
func (s *Service) Issue(email, appName string) (Token, error) {
	email = strings.TrimSpace(email)
	appName = strings.TrimSpace(appName)
	if email == "" || appName == "" {
		return Token{}, ErrInvalidCredentials
	}
	if !strings.Contains(email, "@") {
		return Token{}, fmt.Errorf("%w: email %q is not an address", ErrInvalidCredentials, email)
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email:   email,
		AppName: appName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return Token{Token: signed, ExpiresAt: expiresAt}, nil
}

func (s *Service) Authenticate(tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, ErrMissingToken
	}
	var c claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenStr, &c, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	// jwt/v4 validates exp against the wall clock; check again for s.now.
	if c.ExpiresAt == nil || !s.now().Before(c.ExpiresAt.Time) {
		return Identity{}, fmt.Errorf("%w: token is expired", ErrInvalidToken)
	}
	if c.Email == "" || c.AppName == "" {
		return Identity{}, fmt.Errorf("%w: missing claims", ErrInvalidToken)
	}
	return Identity{Email: c.Email, AppName: c.AppName, TokenID: c.ID}, nil
}

// ExtractToken pulls the token out of an Authorization header value
// according to the service scheme.
func (s *Service) ExtractToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.Fields(header)
	switch {
	case len(parts) == 2 && strings.EqualFold(parts[0], "Bearer"):
		if s.scheme == SchemeRaw {
			return "", fmt.Errorf("%w: bearer scheme not accepted", ErrInvalidToken)
		}
		return parts[1], nil
	case len(parts) == 1:
		if s.scheme == SchemeBearer {
			return "", fmt.Errorf("%w: bearer scheme required", ErrInvalidToken)
		}
		return parts[0], nil
	}
	return "", ErrInvalidToken
}

// AuthenticateHeader runs ExtractToken then Authenticate.
func (s *Service) AuthenticateHeader(header string) (Identity, error) {
	tok, err := s.ExtractToken(header)
	if err != nil {
		return Identity{}, err
	}
	return s.Authenticate(tok)
}

type contextKey string

const identityKey = contextKey("identity")

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
