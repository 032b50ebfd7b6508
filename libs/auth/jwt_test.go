package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := NewClaims("user-1", "biz-1", "owner", time.Hour)
	secret := "test-secret"

	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Subject != "user-1" || parsed.BusinessID != "biz-1" || parsed.Role != "owner" {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestExpiredAndUnscopedTokensRejected(t *testing.T) {
	secret := "test-secret"
	expired := NewClaims("user-1", "biz-1", "owner", -time.Minute)
	token, err := SignHS256(expired, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, secret); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	unscoped := NewClaims("user-1", "", "owner", time.Hour)
	token, err = SignHS256(unscoped, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, secret); err == nil {
		t.Fatal("expected token without business_id to be rejected")
	}
}

func TestRS256Verify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	token, err := signRS256(NewClaims("user-2", "biz-2", "admin", time.Hour), key, "kid-1")
	if err != nil {
		t.Fatalf("rs256 Sign failed: %v", err)
	}
	parsed, err := VerifyRS256(token, &key.PublicKey)
	if err != nil {
		t.Fatalf("VerifyRS256 failed: %v", err)
	}
	if parsed.BusinessID != "biz-2" || parsed.Role != "admin" {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
}

func TestVerifierResolvesJWKS(t *testing.T) {
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

	v := NewVerifier("test-secret", NewJWKSClient(srv.URL, time.Minute))

	rsToken, err := signRS256(NewClaims("user-3", "biz-3", "owner", time.Hour), key, "kid-1")
	if err != nil {
		t.Fatalf("rs256 Sign failed: %v", err)
	}
	if _, err := v.Verify(rsToken); err != nil {
		t.Fatalf("Verify RS256 failed: %v", err)
	}

	hsToken, err := SignHS256(NewClaims("user-3", "biz-3", "owner", time.Hour), "test-secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := v.Verify(hsToken); err != nil {
		t.Fatalf("Verify HS256 failed: %v", err)
	}

	unknownKid, err := signRS256(NewClaims("user-3", "biz-3", "owner", time.Hour), key, "kid-9")
	if err != nil {
		t.Fatalf("rs256 Sign failed: %v", err)
	}
	if _, err := v.Verify(unknownKid); err == nil {
		t.Fatal("expected unknown kid to be rejected")
	}
}

func TestRequireAuthAndRole(t *testing.T) {
	secret := "test-secret"
	token, err := SignHS256(NewClaims("user-1", "biz-1", "staff", time.Hour), secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	var gotBusiness string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := ClaimsFromContext(r.Context())
		gotBusiness = c.BusinessID
		w.WriteHeader(http.StatusOK)
	})
	v := NewVerifier(secret, nil)

	h := RequireAuth(inner, v)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK || gotBusiness != "biz-1" {
		t.Fatalf("expected 200 with biz-1, got %d %q", rw.Code, gotBusiness)
	}

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil))
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rw.Code)
	}

	owners := RequireAuth(RequireRole(inner, "owner", "admin"), v)
	rw = httptest.NewRecorder()
	owners.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff role, got %d", rw.Code)
	}
}

func signRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	return tok.SignedString(key)
}
