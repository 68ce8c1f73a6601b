package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func newTestAuthenticator(t *testing.T) *HS256Authenticator {
	t.Helper()
	a, err := NewHS256Authenticator(HS256Config{
		Secret:   "test-secret",
		Issuer:   "examinerops",
		Audience: "interview-scheduling",
		TTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("NewHS256Authenticator failed: %v", err)
	}
	return a
}

func TestHS256RoundTrip(t *testing.T) {
	a := newTestAuthenticator(t)
	id := Identity{Email: "candidate@example.com", ApplicationID: uuid.New()}

	token, err := a.Sign(id)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	got, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got != id {
		t.Fatalf("identity mismatch: got %+v want %+v", got, id)
	}

	other, err := NewHS256Authenticator(HS256Config{Secret: "wrong-secret", Issuer: "examinerops", Audience: "interview-scheduling"})
	if err != nil {
		t.Fatalf("NewHS256Authenticator failed: %v", err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken with wrong secret, got %v", err)
	}
}

func TestHS256Expired(t *testing.T) {
	a := newTestAuthenticator(t)
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := a.Sign(Identity{Email: "candidate@example.com", ApplicationID: uuid.New()})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	a.now = time.Now
	if _, err := a.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestHS256RejectsMalformedClaims(t *testing.T) {
	a := newTestAuthenticator(t)
	claims := Claims{
		Email:         "candidate@example.com",
		ApplicationID: "not-a-uuid",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "examinerops",
			Audience:  jwt.ClaimStrings{"interview-scheduling"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	if _, err := a.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := a.Verify("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestJWKSAuthenticatorVerify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "kid-1",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	}))
	defer srv.Close()

	appID := uuid.New()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		Email:         "candidate@example.com",
		ApplicationID: appID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tok.Header["kid"] = "kid-1"
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("rs256 sign failed: %v", err)
	}

	a := NewJWKSAuthenticator(NewJWKSClient(srv.URL, time.Minute), "", "")
	id, err := a.Verify(signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.ApplicationID != appID || id.Email != "candidate@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if _, err := a.Sign(id); !errors.Is(err, ErrSignDisabled) {
		t.Fatalf("expected ErrSignDisabled, got %v", err)
	}
}
