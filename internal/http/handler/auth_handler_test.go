package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
	"github.com/sandeepkv93/gov-coordination-portal/internal/http/middleware"
	"github.com/sandeepkv93/gov-coordination-portal/internal/security"
	"github.com/sandeepkv93/gov-coordination-portal/internal/service"
	servicegomock "github.com/sandeepkv93/gov-coordination-portal/internal/service/gomock"
)

type authEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type stubAuthAbuseGuard struct {
	checkFn    func(ctx context.Context, scope service.AuthAbuseScope, subject, ip string) (time.Duration, error)
	registerFn func(ctx context.Context, scope service.AuthAbuseScope, subject, ip string) (time.Duration, error)
	resetFn    func(ctx context.Context, scope service.AuthAbuseScope, subject, ip string) error

	checkCalls    int
	registerCalls int
	resetCalls    int
	lastSubject   string
}

func (s *stubAuthAbuseGuard) Check(ctx context.Context, scope service.AuthAbuseScope, subject, ip string) (time.Duration, error) {
	s.checkCalls++
	if s.checkFn != nil {
		return s.checkFn(ctx, scope, subject, ip)
	}
	return 0, nil
}

func (s *stubAuthAbuseGuard) RegisterFailure(ctx context.Context, scope service.AuthAbuseScope, subject, ip string) (time.Duration, error) {
	s.registerCalls++
	s.lastSubject = subject
	if s.registerFn != nil {
		return s.registerFn(ctx, scope, subject, ip)
	}
	return 0, nil
}

func (s *stubAuthAbuseGuard) Reset(ctx context.Context, scope service.AuthAbuseScope, subject, ip string) error {
	s.resetCalls++
	if s.resetFn != nil {
		return s.resetFn(ctx, scope, subject, ip)
	}
	return nil
}

func newTestHandler(t *testing.T, guard service.AuthAbuseGuard, exposeInternal bool) (*AuthHandler, *servicegomock.MockAuthServiceInterface) {
	t.Helper()
	svc := servicegomock.NewMockAuthServiceInterface(gomock.NewController(t))
	return NewAuthHandler(svc, guard, exposeInternal), svc
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:5050"
	return req
}

func decodeAuthEnvelope(t *testing.T, rr *httptest.ResponseRecorder) authEnvelope {
	t.Helper()
	var env authEnvelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestLoginRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "not json", body: `{`, wantMsg: "invalid payload"},
		{name: "no identifier", body: `{"password":"p1"}`, wantMsg: "username or email is required"},
		{name: "no password", body: `{"username":"alice"}`, wantMsg: "password is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestHandler(t, nil, true)
			rr := httptest.NewRecorder()
			h.Login(rr, postJSON("/api/v1/auth/login", tc.body))

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			env := decodeAuthEnvelope(t, rr)
			if env.Message != tc.wantMsg || env.Error == nil || env.Error.Code != "BAD_REQUEST" {
				t.Fatalf("unexpected envelope: %+v", env)
			}
		})
	}
}

func TestLoginAcceptsIdentifierAliases(t *testing.T) {
	for _, body := range []string{
		`{"usernameOrEmail":"alice","password":"p1"}`,
		`{"email":"alice","password":"p1"}`,
		`{"username":" alice ","password":"p1"}`,
	} {
		h, svc := newTestHandler(t, nil, true)
		roleID := uint(3)
		svc.EXPECT().Login(gomock.Any(), service.LoginInput{Identifier: "alice", Password: "p1"}).Return(&service.LoginResult{
			Token:     "signed.jwt.token",
			ExpiresAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
			User:      service.AccountSummary{ID: 12, RoleID: &roleID, Username: "alice", Status: domain.AccountStatusActive},
		}, nil)

		rr := httptest.NewRecorder()
		h.Login(rr, postJSON("/api/v1/auth/login", body))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", body, rr.Code)
		}
		var data struct {
			Token  string `json:"token"`
			UserID uint   `json:"userId"`
			RoleID *uint  `json:"roleId"`
			User   struct {
				Status string `json:"status"`
			} `json:"user"`
		}
		env := decodeAuthEnvelope(t, rr)
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		if data.Token != "signed.jwt.token" || data.UserID != 12 || data.RoleID == nil || *data.RoleID != 3 || data.User.Status != "Active" {
			t.Fatalf("unexpected login payload: %+v", data)
		}
	}
}

func TestLoginMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		expose      bool
		wantStatus  int
		wantCode    string
		wantMsg     string
		wantDetails map[string]any
	}{
		{name: "invalid request", err: fmt.Errorf("%w: username or email is required", service.ErrInvalidRequest), wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST", wantMsg: "username or email is required"},
		{name: "not found", err: service.ErrAccountNotFound, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND", wantMsg: "account not found"},
		{name: "invalid credentials", err: &service.InvalidCredentialsError{AttemptsRemaining: 3}, wantStatus: http.StatusUnauthorized, wantCode: "INVALID_CREDENTIALS",
			wantMsg: "invalid credentials, 3 attempts remaining before the account is locked", wantDetails: map[string]any{"attemptsRemaining": float64(3)}},
		{name: "locked", err: service.ErrAccountLocked, wantStatus: http.StatusForbidden, wantCode: "ACCOUNT_LOCKED", wantMsg: service.ErrAccountLocked.Error()},
		{name: "internal exposed", err: errors.New("dial tcp 10.0.0.5:5432: connection refused"), expose: true, wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL",
			wantMsg: "dial tcp 10.0.0.5:5432: connection refused"},
		{name: "internal hidden", err: errors.New("dial tcp 10.0.0.5:5432: connection refused"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL",
			wantMsg: "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, svc := newTestHandler(t, nil, tc.expose)
			svc.EXPECT().Login(gomock.Any(), gomock.Any()).Return(nil, tc.err)

			rr := httptest.NewRecorder()
			h.Login(rr, postJSON("/api/v1/auth/login", `{"usernameOrEmail":"alice","password":"wrong"}`))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			env := decodeAuthEnvelope(t, rr)
			if env.Success || env.Error == nil || env.Error.Code != tc.wantCode {
				t.Fatalf("unexpected envelope: %+v", env)
			}
			if env.Message != tc.wantMsg || env.Error.Message != tc.wantMsg {
				t.Fatalf("expected message %q, got %q / %q", tc.wantMsg, env.Message, env.Error.Message)
			}
			for k, v := range tc.wantDetails {
				if env.Error.Details[k] != v {
					t.Fatalf("expected detail %s=%v, got %v", k, v, env.Error.Details[k])
				}
			}
		})
	}
}

func TestLogoutStatuses(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		err        error
		callsSvc   bool
		wantStatus int
	}{
		{name: "ok", body: `{"username":"alice"}`, callsSvc: true, wantStatus: http.StatusOK},
		{name: "missing identifier", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "unknown", body: `{"email":"ghost@example.gov"}`, err: service.ErrAccountNotFound, callsSvc: true, wantStatus: http.StatusNotFound},
		{name: "storage", body: `{"usernameOrEmail":"alice"}`, err: errors.New("db down"), callsSvc: true, wantStatus: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, svc := newTestHandler(t, nil, true)
			if tc.callsSvc {
				svc.EXPECT().Logout(gomock.Any(), gomock.Any()).Return(tc.err)
			}
			rr := httptest.NewRecorder()
			h.Logout(rr, postJSON("/api/v1/auth/logout", tc.body))
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if env := decodeAuthEnvelope(t, rr); rr.Code != http.StatusOK && env.Message == "" {
				t.Fatal("expected a message on failure")
			}
		})
	}
}

func TestForgotPasswordStatuses(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		err         error
		callsSvc    bool
		wantStatus  int
		wantCode    string
		wantMinutes float64
	}{
		{name: "sent", body: `{"email":"Alice@Agri.example.gov"}`, callsSvc: true, wantStatus: http.StatusOK},
		{name: "invalid email", body: `{"email":"alice"}`, wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST"},
		{name: "pending", body: `{"email":"alice@agri.example.gov"}`, err: &service.ResetPendingError{Remaining: 10*time.Minute + time.Second}, callsSvc: true,
			wantStatus: http.StatusBadRequest, wantCode: "RESET_ALREADY_PENDING", wantMinutes: 11},
		{name: "unknown", body: `{"email":"ghost@agri.example.gov"}`, err: service.ErrAccountNotFound, callsSvc: true, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "delivery", body: `{"email":"alice@agri.example.gov"}`, err: fmt.Errorf("%w: smtp 451", service.ErrEmailDeliveryFailed), callsSvc: true,
			wantStatus: http.StatusInternalServerError, wantCode: "EMAIL_DELIVERY_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			guard := &stubAuthAbuseGuard{}
			h, svc := newTestHandler(t, guard, true)
			if tc.callsSvc {
				svc.EXPECT().RequestReset(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, email string) error {
					if email != strings.ToLower(email) {
						t.Fatalf("expected normalized email, got %q", email)
					}
					return tc.err
				})
			}
			rr := httptest.NewRecorder()
			h.ForgotPassword(rr, postJSON("/api/v1/auth/forgot-password", tc.body))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			env := decodeAuthEnvelope(t, rr)
			if tc.wantCode != "" && (env.Error == nil || env.Error.Code != tc.wantCode) {
				t.Fatalf("expected %s, got %+v", tc.wantCode, env.Error)
			}
			if tc.wantMinutes > 0 && env.Error.Details["minutesRemaining"] != tc.wantMinutes {
				t.Fatalf("expected %v minutes remaining, got %v", tc.wantMinutes, env.Error.Details["minutesRemaining"])
			}
			if tc.callsSvc && guard.registerCalls != 1 {
				t.Fatalf("expected the request to count against the guard, got %d", guard.registerCalls)
			}
		})
	}
}

func TestForgotPasswordThrottled(t *testing.T) {
	guard := &stubAuthAbuseGuard{checkFn: func(context.Context, service.AuthAbuseScope, string, string) (time.Duration, error) {
		return 1500 * time.Millisecond, nil
	}}
	h, _ := newTestHandler(t, guard, true)

	rr := httptest.NewRecorder()
	h.ForgotPassword(rr, postJSON("/api/v1/auth/forgot-password", `{"email":"alice@agri.example.gov"}`))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	if guard.registerCalls != 0 {
		t.Fatal("throttled request must not count again")
	}
}

func TestForgotPasswordGuardFailureFailsOpen(t *testing.T) {
	guard := &stubAuthAbuseGuard{
		checkFn: func(context.Context, service.AuthAbuseScope, string, string) (time.Duration, error) {
			return 0, errors.New("redis unavailable")
		},
		registerFn: func(context.Context, service.AuthAbuseScope, string, string) (time.Duration, error) {
			return 0, errors.New("redis unavailable")
		},
	}
	h, svc := newTestHandler(t, guard, true)
	svc.EXPECT().RequestReset(gomock.Any(), "alice@agri.example.gov").Return(nil)

	rr := httptest.NewRecorder()
	h.ForgotPassword(rr, postJSON("/api/v1/auth/forgot-password", `{"email":"alice@agri.example.gov"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestValidateCodeRegistersFailuresPerClient(t *testing.T) {
	guard := &stubAuthAbuseGuard{}
	h, svc := newTestHandler(t, guard, true)
	svc.EXPECT().ValidateCode(gomock.Any(), "000000").Return(nil, service.ErrInvalidOrExpiredCode)

	rr := httptest.NewRecorder()
	h.ValidateCode(rr, postJSON("/api/v1/auth/validate-code", `{"code":"000000"}`))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if env := decodeAuthEnvelope(t, rr); env.Error == nil || env.Error.Code != "INVALID_OR_EXPIRED_CODE" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if guard.registerCalls != 1 || guard.lastSubject != "" {
		t.Fatalf("expected one anonymous failure, got %d subject=%q", guard.registerCalls, guard.lastSubject)
	}
}

func TestValidateCodeSuccessResetsGuard(t *testing.T) {
	guard := &stubAuthAbuseGuard{}
	h, svc := newTestHandler(t, guard, true)
	svc.EXPECT().ValidateCode(gomock.Any(), "482913").Return(&service.CodeValidationResult{UserID: 12, Email: "alice@agri.example.gov"}, nil)

	rr := httptest.NewRecorder()
	h.ValidateCode(rr, postJSON("/api/v1/auth/validate-code", `{"code":"482913"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var data service.CodeValidationResult
	if err := json.Unmarshal(decodeAuthEnvelope(t, rr).Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.UserID != 12 || data.Email != "alice@agri.example.gov" {
		t.Fatalf("unexpected payload: %+v", data)
	}
	if guard.resetCalls != 1 || guard.registerCalls != 0 {
		t.Fatalf("expected reset only, got reset=%d register=%d", guard.resetCalls, guard.registerCalls)
	}
}

func TestValidateCodeStatuses(t *testing.T) {
	t.Run("missing code", func(t *testing.T) {
		h, _ := newTestHandler(t, nil, true)
		rr := httptest.NewRecorder()
		h.ValidateCode(rr, postJSON("/api/v1/auth/validate-code", `{}`))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})
	t.Run("scan failure", func(t *testing.T) {
		h, svc := newTestHandler(t, nil, true)
		svc.EXPECT().ValidateCode(gomock.Any(), "123456").Return(nil, errors.New("query timeout"))
		rr := httptest.NewRecorder()
		h.ValidateCode(rr, postJSON("/api/v1/auth/validate-code", `{"code":"123456"}`))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
	})
	t.Run("cooldown", func(t *testing.T) {
		guard := &stubAuthAbuseGuard{checkFn: func(context.Context, service.AuthAbuseScope, string, string) (time.Duration, error) {
			return 30 * time.Second, nil
		}}
		h, _ := newTestHandler(t, guard, true)
		rr := httptest.NewRecorder()
		h.ValidateCode(rr, postJSON("/api/v1/auth/validate-code", `{"code":"123456"}`))
		if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "30" {
			t.Fatalf("expected 429 with Retry-After 30, got %d %q", rr.Code, rr.Header().Get("Retry-After"))
		}
	})
}

func TestMe(t *testing.T) {
	withClaims := func(r *http.Request, id uint) *http.Request {
		ctx := context.WithValue(r.Context(), middleware.ClaimsContextKey, &security.Claims{UserID: id, ID: id})
		return r.WithContext(ctx)
	}

	t.Run("missing auth context", func(t *testing.T) {
		h, _ := newTestHandler(t, nil, true)
		rr := httptest.NewRecorder()
		h.Me(rr, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})
	t.Run("profile", func(t *testing.T) {
		h, svc := newTestHandler(t, nil, true)
		svc.EXPECT().Profile(gomock.Any(), uint(12)).Return(&service.AccountSummary{ID: 12, Username: "alice"}, nil)
		rr := httptest.NewRecorder()
		h.Me(rr, withClaims(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), 12))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})
	t.Run("locked account", func(t *testing.T) {
		h, svc := newTestHandler(t, nil, true)
		svc.EXPECT().Profile(gomock.Any(), uint(12)).Return(nil, service.ErrAccountLocked)
		rr := httptest.NewRecorder()
		h.Me(rr, withClaims(httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil), 12))
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rr.Code)
		}
	})
}
