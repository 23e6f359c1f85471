package middleware

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/osvaldoandrade/hookq/pkg/auth"
	_ "github.com/osvaldoandrade/hookq/pkg/auth/jwks"
	_ "github.com/osvaldoandrade/hookq/pkg/auth/static"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type jwksEnv struct {
	validator auth.Validator
	privKey   *rsa.PrivateKey
}

func setupJWKS(t *testing.T) *jwksEnv {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key gen: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := base64.RawURLEncoding.EncodeToString(privKey.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{"kty": "RSA", "kid": "kid-1", "n": n, "e": e}},
		})
	}))
	t.Cleanup(srv.Close)

	raw, _ := json.Marshal(map[string]any{
		"jwksUrl":          srv.URL,
		"issuer":           "hookq-test",
		"audience":         "hookq-api",
		"clockSkewSeconds": 60,
	})
	validator, err := auth.NewValidator(auth.ProviderConfig{Type: "jwks", Config: raw})
	if err != nil {
		t.Fatalf("validator init: %v", err)
	}
	return &jwksEnv{validator: validator, privKey: privKey}
}

func signJWT(t *testing.T, key *rsa.PrivateKey, kid string, claims map[string]any) string {
	t.Helper()
	header := map[string]any{"alg": "RS256", "typ": "JWT", "kid": kid}
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	signingInput := enc(header) + "." + enc(claims)
	hashed := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// scopeRouter echoes the context values AuthMiddleware sets.
func scopeRouter(validator auth.Validator, allowRoleHeader bool, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{AuthMiddleware(validator, allowRoleHeader)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"project": ProjectID(c),
			"role":    Role(c),
			"email":   c.GetString("userEmail"),
		})
	})
	r.GET("/scope", handlers...)
	return r
}

func doScope(t *testing.T, r http.Handler, authz string, headers map[string]string) (int, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/scope", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

func TestAuthMiddlewareJWKS(t *testing.T) {
	env := setupJWKS(t)
	now := time.Now().Unix()
	tok := signJWT(t, env.privKey, "kid-1", map[string]any{
		"iss":       "hookq-test",
		"aud":       "hookq-api",
		"sub":       "u1",
		"exp":       now + 3600,
		"iat":       now - 10,
		"email":     "u@hookq.local",
		"role":      "admin",
		"projectId": "proj_1",
	})

	code, body := doScope(t, scopeRouter(env.validator, false), "Bearer "+tok, nil)
	if code != http.StatusOK {
		t.Fatalf("expected auth to pass, got %d", code)
	}
	if body["project"] != "proj_1" || body["role"] != "ADMIN" || body["email"] != "u@hookq.local" {
		t.Fatalf("unexpected scope %+v", body)
	}

	wrongAud := signJWT(t, env.privKey, "kid-1", map[string]any{"iss": "hookq-test", "aud": "other", "sub": "u1", "exp": now + 3600})
	if code, _ := doScope(t, scopeRouter(env.validator, false), "Bearer "+wrongAud, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong audience, got %d", code)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	v, err := auth.NewValidator(auth.ProviderConfig{Type: "static", Config: json.RawMessage(`{"token":"tok","projectId":"p"}`)})
	if err != nil {
		t.Fatalf("validator init: %v", err)
	}
	r := scopeRouter(v, false)

	for _, authz := range []string{"", "tok", "Basic tok", "Bearer nope"} {
		if code, _ := doScope(t, r, authz, nil); code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: expected 401, got %d", authz, code)
		}
	}

	if code, _ := doScope(t, scopeRouter(nil, false), "Bearer tok", nil); code != http.StatusInternalServerError {
		t.Errorf("nil validator: expected 500, got %d", code)
	}
}

func TestExtractProjectID(t *testing.T) {
	tests := []struct {
		name   string
		claims *auth.Claims
		want   string
	}{
		{"nil", nil, ""},
		{"projectId wins", &auth.Claims{Subject: "s", Raw: map[string]interface{}{"projectId": "p1", "tenantId": "t1"}}, "p1"},
		{"tenantId", &auth.Claims{Subject: "s", Raw: map[string]interface{}{"tenantId": " t1 "}}, "t1"},
		{"tenant_id", &auth.Claims{Subject: "s", Raw: map[string]interface{}{"tenant_id": "t2"}}, "t2"},
		{"organizationId", &auth.Claims{Subject: "s", Raw: map[string]interface{}{"organizationId": "o1"}}, "o1"},
		{"blank claim falls through", &auth.Claims{Subject: "s", Raw: map[string]interface{}{"projectId": "  ", "organization_id": "o2"}}, "o2"},
		{"subject fallback", &auth.Claims{Subject: " sub-1 "}, "sub-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractProjectID(tt.claims); got != tt.want {
				t.Fatalf("extractProjectID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoleHeaderFallback(t *testing.T) {
	v, _ := auth.NewValidator(auth.ProviderConfig{Type: "static", Config: json.RawMessage(`{"token":"tok","projectId":"p"}`)})

	_, body := doScope(t, scopeRouter(v, true), "Bearer tok", map[string]string{"X-Role": "admin"})
	if body["role"] != "ADMIN" {
		t.Fatalf("expected X-Role fallback in dev, got %+v", body)
	}
	_, body = doScope(t, scopeRouter(v, false), "Bearer tok", map[string]string{"X-Role": "admin"})
	if body["role"] != "USER" {
		t.Fatalf("X-Role must be ignored outside dev, got %+v", body)
	}
}

func TestRequireAdmin(t *testing.T) {
	admin, _ := auth.NewValidator(auth.ProviderConfig{Type: "static", Config: json.RawMessage(`{"token":"tok","projectId":"p","role":"ADMIN"}`)})
	user, _ := auth.NewValidator(auth.ProviderConfig{Type: "static", Config: json.RawMessage(`{"token":"tok","projectId":"p"}`)})

	if code, _ := doScope(t, scopeRouter(admin, false, RequireAdmin()), "Bearer tok", nil); code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", code)
	}
	if code, _ := doScope(t, scopeRouter(user, false, RequireAdmin()), "Bearer tok", nil); code != http.StatusForbidden {
		t.Fatalf("user: expected 403, got %d", code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggerMiddleware(nil))
	r.GET("/id", func(c *gin.Context) {
		if Logger(c) == nil {
			t.Error("expected request logger")
		}
		c.String(http.StatusOK, RequestID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Body.String() != "req-123" || rec.Header().Get(HeaderRequestID) != "req-123" {
		t.Fatalf("incoming request id not propagated: body=%q header=%q", rec.Body.String(), rec.Header().Get(HeaderRequestID))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/id", nil))
	if len(rec.Body.String()) != 36 {
		t.Fatalf("expected generated uuid, got %q", rec.Body.String())
	}
}
