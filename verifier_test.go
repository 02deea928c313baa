package memberid

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	testAudience = "member-id"
	testKID      = "test-key"
)

func TestVerifier_Success(t *testing.T) {
	privateKey, jwksURL, kid := newJWKS(t)

	verifier := newTestVerifier(t, jwksURL)

	now := time.Now().UTC()
	token := sign(t, memberToken(now).
		Audience([]string{testAudience, "account"}), privateKey, kid)

	claims, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.GivenName != "Ada" {
		t.Fatalf("unexpected given name: %s", claims.GivenName)
	}
	if claims.PreferredUsername != "ada01" {
		t.Fatalf("unexpected preferred username: %s", claims.PreferredUsername)
	}
	if len(claims.Groups) != 2 || claims.Groups[0] != "mitglieder" || claims.Groups[1] != "vorstand" {
		t.Fatalf("unexpected groups: %v", claims.Groups)
	}
	if len(claims.Audience) != 2 {
		t.Fatalf("unexpected audience: %v", claims.Audience)
	}
}

func TestVerifier_HeaderErrors(t *testing.T) {
	privateKey, jwksURL, _ := newJWKS(t)
	verifier := newTestVerifier(t, jwksURL)

	cases := map[string]string{
		"empty":       "",
		"garbage":     "not-a-token",
		"missing kid": sign(t, memberToken(time.Now()), privateKey, ""),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), token)
			assertCode(t, err, ErrCodeHeader)
		})
	}
}

func TestVerifier_UnknownKIDNeverFallsBack(t *testing.T) {
	privateKey, jwksURL, _ := newJWKS(t)
	verifier := newTestVerifier(t, jwksURL)

	// Signed by the only published key, but labelled with an unknown kid.
	token := sign(t, memberToken(time.Now()), privateKey, "rotated-away")

	_, err := verifier.Verify(context.Background(), token)
	assertCode(t, err, ErrCodeKeyNotFound)
}

func TestVerifier_BadSignature(t *testing.T) {
	_, jwksURL, kid := newJWKS(t)
	verifier := newTestVerifier(t, jwksURL)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	token := sign(t, memberToken(time.Now()), other, kid)

	_, err = verifier.Verify(context.Background(), token)
	assertCode(t, err, ErrCodeBadSignature)
}

func TestVerifier_ExpiredAndAudience(t *testing.T) {
	privateKey, jwksURL, kid := newJWKS(t)
	verifier := newTestVerifier(t, jwksURL)

	t.Run("expired token", func(t *testing.T) {
		now := time.Now()
		token := sign(t, memberToken(now).
			IssuedAt(now.Add(-2*time.Hour)).
			Expiration(now.Add(-time.Minute)), privateKey, kid)

		_, err := verifier.Verify(context.Background(), token)
		assertCode(t, err, ErrCodeExpired)
	})

	t.Run("audience mismatch", func(t *testing.T) {
		token := sign(t, memberToken(time.Now()).
			Audience([]string{"someone-else"}), privateKey, kid)

		_, err := verifier.Verify(context.Background(), token)
		assertCode(t, err, ErrCodeAudienceMismatch)
	})

	t.Run("explicit audience", func(t *testing.T) {
		token := sign(t, memberToken(time.Now()).
			Audience([]string{"someone-else"}), privateKey, kid)

		if _, err := verifier.VerifyAudience(context.Background(), token, "someone-else"); err != nil {
			t.Fatalf("VerifyAudience: %v", err)
		}
	})

	t.Run("missing exp", func(t *testing.T) {
		token := sign(t, jwt.NewBuilder().
			Subject("user-1").
			Audience([]string{testAudience}).
			Claim("given_name", "Ada").
			Claim("preferred_username", "ada01").
			Claim("groups", []string{"mitglieder"}), privateKey, kid)

		_, err := verifier.Verify(context.Background(), token)
		assertCode(t, err, ErrCodeInvalidToken)
	})
}

func TestVerifier_InvalidClaims(t *testing.T) {
	privateKey, jwksURL, kid := newJWKS(t)
	verifier := newTestVerifier(t, jwksURL)
	now := time.Now()

	cases := []struct {
		name    string
		builder *jwt.Builder
	}{
		{
			name: "missing groups",
			builder: jwt.NewBuilder().
				Subject("user-1").
				Audience([]string{testAudience}).
				Expiration(now.Add(time.Hour)).
				Claim("given_name", "Ada").
				Claim("preferred_username", "ada01"),
		},
		{
			name: "groups not strings",
			builder: memberToken(now).
				Claim("groups", []any{"mitglieder", 7}),
		},
		{
			name: "given name not string",
			builder: memberToken(now).
				Claim("given_name", 42),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), sign(t, tc.builder, privateKey, kid))
			assertCode(t, err, ErrCodeInvalidClaims)
		})
	}
}

func TestVerifier_MalformedKeyComponents(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksURL := serveJSON(t, map[string]any{
		"keys": []map[string]string{{
			"kid": testKID,
			"kty": "RSA",
			"n":   "!!not-base64!!",
			"e":   "AQAB",
		}},
	})
	verifier := newTestVerifier(t, jwksURL)

	_, err = verifier.Verify(context.Background(), sign(t, memberToken(time.Now()), privateKey, testKID))
	assertCode(t, err, ErrCodeKeyFormat)
}

func TestVerifier_UpstreamFailurePropagates(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	verifier := newTestVerifier(t, server.URL)
	_, err = verifier.Verify(context.Background(), sign(t, memberToken(time.Now()), privateKey, testKID))
	assertCode(t, err, ErrCodeUpstream)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}
}

func TestVerifier_FetchesEveryCall(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payload := jwksPayload(t, &privateKey.PublicKey, testKID)
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	verifier := newTestVerifier(t, server.URL)
	token := sign(t, memberToken(time.Now()), privateKey, testKID)
	for i := 0; i < 3; i++ {
		if _, err := verifier.Verify(context.Background(), token); err != nil {
			t.Fatalf("Verify #%d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 fetches, got %d", got)
	}
}

func TestNewVerifier_RequiresSettings(t *testing.T) {
	if _, err := NewVerifier(Config{Audience: testAudience}, nil); CodeOf(err) != ErrCodeConfig {
		t.Fatalf("expected config error for missing jwks url, got %v", err)
	}
	if _, err := NewVerifier(Config{JWKSURL: "https://example.com/jwks"}, nil); CodeOf(err) != ErrCodeConfig {
		t.Fatalf("expected config error for missing audience, got %v", err)
	}
}

func newTestVerifier(t *testing.T, jwksURL string) *Verifier {
	t.Helper()
	verifier, err := NewVerifier(Config{
		JWKSURL:      jwksURL,
		Audience:     testAudience,
		FetchTimeout: time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return verifier
}

func memberToken(now time.Time) *jwt.Builder {
	return jwt.NewBuilder().
		Subject("user-1").
		Audience([]string{testAudience}).
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("given_name", "Ada").
		Claim("preferred_username", "ada01").
		Claim("groups", []string{"mitglieder", "vorstand"})
}

func assertCode(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if e.Code != want {
		t.Fatalf("expected %s, got %s (%v)", want, e.Code, err)
	}
}

func newJWKS(t *testing.T) (*rsa.PrivateKey, string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	payload := jwksPayload(t, &key.PublicKey, testKID)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	return key, server.URL, testKID
}

func jwksPayload(t *testing.T, key *rsa.PublicKey, kid string) []byte {
	t.Helper()
	pub, err := jwk.FromRaw(key)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if err := pub.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("set alg: %v", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("add key: %v", err)
	}

	payload, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return payload
}

func serveJSON(t *testing.T, v any) string {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func sign(t *testing.T, builder *jwt.Builder, key *rsa.PrivateKey, kid string) string {
	t.Helper()
	token, err := builder.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	jwkPriv, err := jwk.FromRaw(key)
	if err != nil {
		t.Fatalf("private key jwk: %v", err)
	}
	if err := jwkPriv.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("set alg: %v", err)
	}
	if kid != "" {
		if err := jwkPriv.Set(jwk.KeyIDKey, kid); err != nil {
			t.Fatalf("set kid: %v", err)
		}
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, jwkPriv))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func encodeExponent(e int) string {
	b := []byte{byte(e >> 16), byte(e >> 8), byte(e)}
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
