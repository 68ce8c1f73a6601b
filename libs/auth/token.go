package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrSignDisabled = errors.New("token signing not supported by this authenticator")
)

// Identity is what a candidate token resolves to.
type Identity struct {
	Email         string
	ApplicationID uuid.UUID
}

// TokenAuthenticator verifies candidate tokens and, where the key material
// allows it, signs new ones.
type TokenAuthenticator interface {
	Verify(token string) (Identity, error)
	Sign(id Identity) (string, error)
}

type Claims struct {
	Email         string `json:"email"`
	ApplicationID string `json:"application_id"`
	jwt.RegisteredClaims
}

func (c *Claims) identity() (Identity, error) {
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return Identity{}, ErrInvalidToken
	}
	appID, err := uuid.Parse(c.ApplicationID)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Email: email, ApplicationID: appID}, nil
}

type HS256Config struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

type HS256Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewHS256Authenticator(cfg HS256Config) (*HS256Authenticator, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 14 * 24 * time.Hour
	}
	return &HS256Authenticator{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      time.Now,
	}, nil
}

func (a *HS256Authenticator) Sign(id Identity) (string, error) {
	if strings.TrimSpace(id.Email) == "" || id.ApplicationID == uuid.Nil {
		return "", errors.New("identity requires email and application id")
	}
	now := a.now()
	claims := Claims{
		Email:         id.Email,
		ApplicationID: id.ApplicationID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			ID:        uuid.NewString(),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *HS256Authenticator) Verify(token string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, a.parserOptions()...)
	if err != nil {
		return Identity{}, mapParseError(err)
	}
	return claims.identity()
}

func (a *HS256Authenticator) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	return opts
}

func mapParseError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpiredToken
	}
	return ErrInvalidToken
}
