// README: Tests for the auth middleware and role gate.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/http/middleware"
	"ridedispatch/internal/infra"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.Token
	err   error
	seen  string
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.Token, error) {
	s.seen = raw
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"uid":        middleware.CallerUID(c),
			"role":       middleware.CallerRole(c),
			"privileged": middleware.Privileged(c),
		})
	})
	r.GET("/drivers-only", middleware.RequireRole(infra.RoleDriver), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r *gin.Engine, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "user1"}})
	if w := get(r, "/test", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "user1"}})
	if w := get(r, "/test", "Token sometoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	if w := get(r, "/test", "Bearer invalidtoken"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ValidToken_UIDAndRolePopulated(t *testing.T) {
	v := &stubVerifier{token: &infra.Token{UID: "driver123", Claims: map[string]interface{}{"role": "driver"}}}
	r := newTestRouter(v)
	w := get(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"uid":"driver123"`) || !strings.Contains(body, `"role":"driver"`) {
		t.Errorf("unexpected body %s", body)
	}
	if v.seen != "validtoken" {
		t.Errorf("verifier saw %q", v.seen)
	}
	if w.Header().Get(middleware.HeaderRequestID) == "" {
		t.Error("expected a request id header")
	}
}

func TestAuth_NoRoleClaimIsCustomer(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "cust456", Claims: map[string]interface{}{}}})
	w := get(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"role":"customer"`) {
		t.Errorf("expected customer role, got %d %s", w.Code, w.Body.String())
	}
}

func TestAuth_QueryTokenForWebsockets(t *testing.T) {
	v := &stubVerifier{token: &infra.Token{UID: "cust1"}}
	r := newTestRouter(v)
	if w := get(r, "/test?access_token=qtok", ""); w.Code != http.StatusOK || v.seen != "qtok" {
		t.Errorf("expected query token to be verified, got %d %q", w.Code, v.seen)
	}
}

func TestAuth_AdminIsPrivileged(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "ops", Claims: map[string]interface{}{"role": "admin"}}})
	if w := get(r, "/test", "Bearer t"); !strings.Contains(w.Body.String(), `"privileged":true`) {
		t.Errorf("admin should be privileged: %s", w.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	cust := newTestRouter(&stubVerifier{token: &infra.Token{UID: "c1"}})
	if w := get(cust, "/drivers-only", "Bearer t"); w.Code != http.StatusForbidden {
		t.Errorf("customer: expected 403, got %d", w.Code)
	}
	drv := newTestRouter(&stubVerifier{token: &infra.Token{UID: "d1", Claims: map[string]interface{}{"role": "driver"}}})
	if w := get(drv, "/drivers-only", "Bearer t"); w.Code != http.StatusNoContent {
		t.Errorf("driver: expected 204, got %d", w.Code)
	}
}
