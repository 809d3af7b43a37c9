package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sandeepkv93/gov-coordination-portal/internal/security"
)

func TestAuthMiddlewareBearerToken(t *testing.T) {
	mgr := security.NewJWTManager("gov-portal-test", "test-secret-with-at-least-32-bytes!!", time.Hour)
	roleID := uint(2)
	token, _, err := mgr.SignAccessToken(42, &roleID, "alice", "alice@agri.example.gov", time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var seen *security.Claims
	h := AuthMiddleware(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, want: http.StatusUnauthorized},
		{name: "tampered", header: "Bearer " + token + "x", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token, want: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + token, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if tc.want == http.StatusOK && (seen == nil || seen.UserID != 42) {
				t.Fatalf("expected claims in context, got %+v", seen)
			}
		})
	}
}
