package realtime

import (
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	errs "HabitLink/tools/errs"
)

var testSecret = []byte("unit-test-secret")

func TestAuthenticateRoundTrip(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Hour)

	token, expireAt, err := a.Mint("alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !expireAt.After(time.Now()) {
		t.Fatal("minted token already expired")
	}

	userID, err := a.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if userID != "alice" {
		t.Fatalf("userID = %q, want alice", userID)
	}
}

func TestAuthenticateExpired(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Hour)

	now := time.Now()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "alice",
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
	})
	signed, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = a.Authenticate(signed)
	if !errs.IsCode(err, errs.ErrTokenExpired) {
		t.Fatalf("err = %v, want token expired", err)
	}
}

func TestAuthenticateRejected(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Hour)

	cases := map[string]string{
		"empty":   "",
		"garbage": "not.a.jwt",
	}
	for name, token := range cases {
		if _, err := a.Authenticate(token); !errs.IsCode(err, errs.ErrAuthRejected) {
			t.Errorf("%s: err = %v, want auth rejected", name, err)
		}
	}

	// Valid token signed with a different key.
	other := NewAuthenticator([]byte("other-secret"), time.Hour)
	token, _, err := other.Mint("mallory")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := a.Authenticate(token); !errs.IsCode(err, errs.ErrAuthRejected) {
		t.Fatalf("foreign signature: err = %v, want auth rejected", err)
	}
}

func TestAuthenticateNoSubject(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Hour)

	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := a.Authenticate(signed); !errs.IsCode(err, errs.ErrAuthRejected) {
		t.Fatalf("err = %v, want auth rejected", err)
	}
}

func TestBearerFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if got := BearerFromRequest(r); got != "abc123" {
		t.Fatalf("header token = %q", got)
	}

	r = httptest.NewRequest("GET", "/ws?token=qry456", nil)
	if got := BearerFromRequest(r); got != "qry456" {
		t.Fatalf("query token = %q", got)
	}

	// Header wins over query.
	r = httptest.NewRequest("GET", "/ws?token=qry", nil)
	r.Header.Set("Authorization", "bearer hdr")
	if got := BearerFromRequest(r); got != "hdr" {
		t.Fatalf("precedence token = %q", got)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	if got := BearerFromRequest(r); got != "" {
		t.Fatalf("missing token = %q, want empty", got)
	}
}
