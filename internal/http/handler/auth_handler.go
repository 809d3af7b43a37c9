package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sandeepkv93/gov-coordination-portal/internal/http/middleware"
	"github.com/sandeepkv93/gov-coordination-portal/internal/http/response"
	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"
	"github.com/sandeepkv93/gov-coordination-portal/internal/service"
)

type AuthHandler struct {
	authSvc        service.AuthServiceInterface
	abuseGuard     service.AuthAbuseGuard
	validate       *validator.Validate
	exposeInternal bool
}

func NewAuthHandler(authSvc service.AuthServiceInterface, abuseGuard service.AuthAbuseGuard, exposeInternal bool) *AuthHandler {
	if abuseGuard == nil {
		abuseGuard = service.NewNoopAuthAbuseGuard()
	}
	return &AuthHandler{
		authSvc:        authSvc,
		abuseGuard:     abuseGuard,
		validate:       validator.New(),
		exposeInternal: exposeInternal,
	}
}

// identifierFields accepts any of the three aliases clients send for the account.
type identifierFields struct {
	UsernameOrEmail string `json:"usernameOrEmail" validate:"required_without_all=Email Username"`
	Email           string `json:"email" validate:"required_without_all=UsernameOrEmail Username"`
	Username        string `json:"username" validate:"required_without_all=UsernameOrEmail Email"`
}

func (f identifierFields) identifier() string {
	for _, v := range []string{f.UsernameOrEmail, f.Email, f.Username} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type loginRequest struct {
	identifierFields
	Password string `json:"password" validate:"required"`
}

type logoutRequest struct {
	identifierFields
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type validateCodeRequest struct {
	Code string `json:"code" validate:"required"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "login", status, time.Since(start))
	}()

	var req loginRequest
	if msg, ok := h.decode(r, &req); !ok {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", msg, nil)
		return
	}
	identifier := req.identifier()
	result, err := h.authSvc.Login(r.Context(), service.LoginInput{Identifier: identifier, Password: req.Password})
	if err != nil {
		status = "failure"
		h.audit(r, "auth.login", "", identifier, "login", auditReason(err))
		if errors.Is(err, service.ErrAccountLocked) {
			h.audit(r, "auth.lockout", "", identifier, "login", "account_locked")
		}
		h.writeServiceError(w, r, err)
		return
	}

	observability.EmitAudit(r, observability.AuditInput{
		EventName:   "auth.login",
		ActorUserID: strconv.FormatUint(uint64(result.User.ID), 10),
		TargetType:  "account",
		TargetID:    strconv.FormatUint(uint64(result.User.ID), 10),
		Action:      "login",
		Outcome:     "success",
	})
	response.JSON(w, r, http.StatusOK, map[string]any{
		"token":     result.Token,
		"expiresAt": result.ExpiresAt,
		"userId":    result.User.ID,
		"roleId":    result.User.RoleID,
		"user":      result.User,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "logout", status, time.Since(start))
	}()

	var req logoutRequest
	if msg, ok := h.decode(r, &req); !ok {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", msg, nil)
		return
	}
	identifier := req.identifier()
	if err := h.authSvc.Logout(r.Context(), identifier); err != nil {
		status = "failure"
		h.audit(r, "auth.logout", "", identifier, "logout", auditReason(err))
		h.writeServiceError(w, r, err)
		return
	}
	h.audit(r, "auth.logout", "", identifier, "logout", "")
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "forgot_password", status, time.Since(start))
	}()

	var req forgotPasswordRequest
	if msg, ok := h.decode(r, &req); !ok {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", msg, nil)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	ip := middleware.ClientIP(r)
	if h.throttled(w, r, service.AuthAbuseScopeForgotPassword, email, ip) {
		status = "throttled"
		return
	}
	// Every request counts against the cooldown, successful or not.
	if _, err := h.abuseGuard.RegisterFailure(r.Context(), service.AuthAbuseScopeForgotPassword, email, ip); err != nil {
		slog.WarnContext(r.Context(), "auth abuse guard unavailable", "scope", service.AuthAbuseScopeForgotPassword, "error", err)
	}

	if err := h.authSvc.RequestReset(r.Context(), email); err != nil {
		status = "failure"
		h.audit(r, "auth.reset_code.request", "", email, "request_reset", auditReason(err))
		h.writeServiceError(w, r, err)
		return
	}
	h.audit(r, "auth.reset_code.request", "", email, "request_reset", "")
	response.JSON(w, r, http.StatusOK, map[string]any{
		"message":          "a verification code has been sent to your email",
		"expiresInMinutes": int(service.ResetCodeTTL / time.Minute),
	})
}

func (h *AuthHandler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "validate_code", status, time.Since(start))
	}()

	var req validateCodeRequest
	if msg, ok := h.decode(r, &req); !ok {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", msg, nil)
		return
	}
	ip := middleware.ClientIP(r)
	if h.throttled(w, r, service.AuthAbuseScopeValidateCode, "", ip) {
		status = "throttled"
		return
	}

	result, err := h.authSvc.ValidateCode(r.Context(), req.Code)
	if err != nil {
		status = "failure"
		if errors.Is(err, service.ErrInvalidOrExpiredCode) {
			if _, gerr := h.abuseGuard.RegisterFailure(r.Context(), service.AuthAbuseScopeValidateCode, "", ip); gerr != nil {
				slog.WarnContext(r.Context(), "auth abuse guard unavailable", "scope", service.AuthAbuseScopeValidateCode, "error", gerr)
			}
		}
		h.audit(r, "auth.reset_code.validate", "", "", "validate_code", auditReason(err))
		h.writeServiceError(w, r, err)
		return
	}
	if err := h.abuseGuard.Reset(r.Context(), service.AuthAbuseScopeValidateCode, "", ip); err != nil {
		slog.WarnContext(r.Context(), "auth abuse guard reset failed", "scope", service.AuthAbuseScopeValidateCode, "error", err)
	}
	h.audit(r, "auth.reset_code.validate", strconv.FormatUint(uint64(result.UserID), 10), strconv.FormatUint(uint64(result.UserID), 10), "validate_code", "")
	response.JSON(w, r, http.StatusOK, result)
}

// Me returns the summary of the account behind the bearer token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	summary, err := h.authSvc.Profile(r.Context(), claims.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, summary)
}

// throttled writes a 429 when the guard reports an active cooldown. Guard
// backend errors let the request through.
func (h *AuthHandler) throttled(w http.ResponseWriter, r *http.Request, scope service.AuthAbuseScope, subject, ip string) bool {
	cooldown, err := h.abuseGuard.Check(r.Context(), scope, subject, ip)
	if err != nil {
		slog.WarnContext(r.Context(), "auth abuse guard unavailable", "scope", scope, "error", err)
		return false
	}
	if cooldown <= 0 {
		return false
	}
	h.audit(r, "auth.abuse.throttled", "", subject, string(scope), "cooldown")
	middleware.TooManyRequests(w, r, cooldown, "too many attempts, try again later")
	return true
}

func (h *AuthHandler) decode(r *http.Request, dst any) (string, bool) {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "request body too large", false
		}
		return "invalid payload", false
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationMessage(err), false
	}
	return "", true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid payload"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required_without_all":
		return "username or email is required"
	case "email":
		return "invalid email"
	default:
		return strings.ToLower(fe.Field()) + " is required"
	}
}

func (h *AuthHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var credErr *service.InvalidCredentialsError
	var pendingErr *service.ResetPendingError
	switch {
	case errors.As(err, &credErr):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", credErr.Error(),
			map[string]any{"attemptsRemaining": credErr.AttemptsRemaining})
	case errors.Is(err, service.ErrAccountLocked):
		response.Error(w, r, http.StatusForbidden, "ACCOUNT_LOCKED", service.ErrAccountLocked.Error(), nil)
	case errors.As(err, &pendingErr):
		response.Error(w, r, http.StatusBadRequest, "RESET_ALREADY_PENDING", pendingErr.Error(),
			map[string]any{"minutesRemaining": pendingErr.MinutesRemaining()})
	case errors.Is(err, service.ErrInvalidRequest):
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", strings.TrimPrefix(err.Error(), service.ErrInvalidRequest.Error()+": "), nil)
	case errors.Is(err, service.ErrAccountNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "account not found", nil)
	case errors.Is(err, service.ErrInvalidOrExpiredCode):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_OR_EXPIRED_CODE", "invalid or expired code", nil)
	case errors.Is(err, service.ErrEmailDeliveryFailed):
		response.Error(w, r, http.StatusInternalServerError, "EMAIL_DELIVERY_FAILED", "failed to send the verification email", nil)
	default:
		slog.ErrorContext(r.Context(), "auth request failed", "path", r.URL.Path, "error", err)
		msg := "internal server error"
		if h.exposeInternal {
			msg = err.Error()
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", msg, nil)
	}
}

func (h *AuthHandler) audit(r *http.Request, event, actor, target, action, reason string) {
	outcome := "success"
	if reason != "" {
		outcome = "failure"
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:   event,
		ActorUserID: actor,
		TargetType:  "account",
		TargetID:    target,
		Action:      action,
		Outcome:     outcome,
		Reason:      reason,
	})
}

func auditReason(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, service.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, service.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, service.ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, service.ErrResetAlreadyPending):
		return "reset_already_pending"
	case errors.Is(err, service.ErrInvalidOrExpiredCode):
		return "invalid_or_expired_code"
	case errors.Is(err, service.ErrEmailDeliveryFailed):
		return "email_delivery_failed"
	default:
		return "internal_error"
	}
}
