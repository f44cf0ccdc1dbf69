package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"docRender/internal/auth"
)

type stubValidator struct {
	claims *auth.TokenClaims
	err    error
}

func (v stubValidator) ValidateToken(string) (*auth.TokenClaims, error) { return v.claims, v.err }

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/probe", append(handlers, func(c *gin.Context) {
		id, _ := PublisherIDFromContext(c)
		c.JSON(http.StatusOK, gin.H{"publisher_id": id, "correlation_id": CorrelationIDFromContext(c.Request.Context())})
	})...)
	return r
}

func TestAuthMiddleware(t *testing.T) {
	ok := stubValidator{claims: &auth.TokenClaims{PublisherID: 7}}
	cases := []struct {
		name      string
		validator stubValidator
		header    string
		want      int
	}{
		{"missing header", ok, "", http.StatusUnauthorized},
		{"wrong scheme", ok, "Basic abc", http.StatusUnauthorized},
		{"invalid token", stubValidator{err: errors.New("expired")}, "Bearer abc", http.StatusUnauthorized},
		{"valid token", ok, "Bearer abc", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(AuthMiddleware(tc.validator))
			req := httptest.NewRequest(http.MethodGet, "/probe", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusOK && !strings.Contains(w.Body.String(), `"publisher_id":7`) {
				t.Fatalf("publisher id not injected: %s", w.Body.String())
			}
		})
	}
}

func TestPasswordGateBlocksPendingChange(t *testing.T) {
	v := stubValidator{claims: &auth.TokenClaims{PublisherID: 7, MustChangePassword: true}}
	r := newTestRouter(AuthMiddleware(v), RequirePasswordChangeCompletedMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestCorrelationIDMiddleware(t *testing.T) {
	r := newTestRouter(CorrelationIDMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(CorrelationIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(CorrelationIDHeader); got != "req-123" {
		t.Fatalf("echoed id = %q", got)
	}
	if !strings.Contains(w.Body.String(), `"correlation_id":"req-123"`) {
		t.Fatalf("id not propagated to request context: %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(CorrelationIDHeader, "bad id\nwith newline")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(CorrelationIDHeader); got == "" || strings.Contains(got, " ") {
		t.Fatalf("invalid incoming id should be replaced, got %q", got)
	}
}

func TestInternalSecretMiddleware(t *testing.T) {
	r := newTestRouter(InternalSecretMiddleware("s3cret"))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	req.Header.Set("X-Internal-Secret", "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	unset := newTestRouter(InternalSecretMiddleware(""))
	w = httptest.NewRecorder()
	unset.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
