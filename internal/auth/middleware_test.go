package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthMiddleware_NoToken(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/allocations", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ViewerForbiddenCalculate(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, Claims{CompanyID: "GEN", Role: "viewer"})
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/allocations/calculate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ExemptHealth(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy([]string{"/healthz"}, nil))
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthMiddleware_IdentityCarriesSiteScope(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, Claims{
		CompanyID:        "GEN",
		Role:             "operator",
		ProductionSites:  []string{"P1"},
		ConsumptionSites: []string{"S1"},
	})
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))

	var got Identity
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/allocations/calculate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !got.HasSiteAccess("P1", "production") || !got.HasSiteAccess("S1", "consumption") {
		t.Fatalf("expected scoped sites to be visible")
	}
	if got.HasSiteAccess("S2", "consumption") || got.HasSiteAccess("S1", "production") {
		t.Fatalf("unexpected site access")
	}
}

func TestEnsureCompany(t *testing.T) {
	if err := EnsureCompany(context.Background(), "ANY"); err != nil {
		t.Fatalf("expected pass without identity, got %v", err)
	}
	ctx := WithIdentity(context.Background(), NewIdentity("GEN", RoleViewer, "u", IdentityScope{Companies: []string{"GEN2"}}))
	if err := EnsureCompany(ctx, "GEN2"); err != nil {
		t.Fatalf("expected scoped company to pass, got %v", err)
	}
	if err := EnsureCompany(ctx, "OTHER"); err != ErrCompanyMismatch {
		t.Fatalf("expected mismatch, got %v", err)
	}
	admin := WithIdentity(context.Background(), NewIdentity("GEN", RoleAdmin, "u", IdentityScope{}))
	if err := EnsureCompany(admin, "OTHER"); err != nil {
		t.Fatalf("expected admin to pass, got %v", err)
	}
}

func mustToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
