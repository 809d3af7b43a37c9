package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
	"github.com/sandeepkv93/gov-coordination-portal/internal/notify"
	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"
	"github.com/sandeepkv93/gov-coordination-portal/internal/repository"
	"github.com/sandeepkv93/gov-coordination-portal/internal/security"
	"github.com/sandeepkv93/gov-coordination-portal/internal/storage"
)

const (
	MaxFailedLoginAttempts = 5
	AccessTokenTTL         = 24 * time.Hour
	ResetCodeTTL           = 15 * time.Minute
)

// Notifier is the outbound email channel. Deliver reports failure, Dispatch is best-effort.
type Notifier interface {
	Deliver(ctx context.Context, msg notify.Message) error
	Dispatch(ctx context.Context, msg notify.Message)
}

type LoginInput struct {
	Identifier string
	Password   string
}

type AccountSummary struct {
	ID           uint                 `json:"id"`
	RoleID       *uint                `json:"roleId"`
	Role         string               `json:"role,omitempty"`
	FirstName    string               `json:"firstName"`
	LastName     string               `json:"lastName"`
	Username     string               `json:"username"`
	Email        string               `json:"email"`
	ProfileImage string               `json:"profileImage"`
	Status       domain.AccountStatus `json:"status"`
}

type LoginResult struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      AccountSummary `json:"user"`
}

type CodeValidationResult struct {
	UserID uint   `json:"userId"`
	Email  string `json:"email"`
}

type AuthServiceOptions struct {
	SupportURL string
	Now        func() time.Time
}

type AuthService struct {
	accounts repository.AccountRepository
	roles    repository.RoleRepository
	tokens   *security.JWTManager
	codes    *security.CodeHasher
	notifier Notifier
	images   storage.ProfileImageStore
	logger   *slog.Logger

	supportURL string
	now        func() time.Time
}

func NewAuthService(
	accounts repository.AccountRepository,
	roles repository.RoleRepository,
	tokens *security.JWTManager,
	codes *security.CodeHasher,
	notifier Notifier,
	images storage.ProfileImageStore,
	logger *slog.Logger,
	opts AuthServiceOptions,
) *AuthService {
	if images == nil {
		images = storage.PassthroughProfileImageStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &AuthService{
		accounts:   accounts,
		roles:      roles,
		tokens:     tokens,
		codes:      codes,
		notifier:   notifier,
		images:     images,
		logger:     logger,
		supportURL: opts.SupportURL,
		now:        now,
	}
}

// Login verifies credentials and tracks consecutive failures. The fifth failure
// locks the account; a Locked account is refused before any hash comparison.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.login")
	defer span.End()

	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" {
		observability.RecordAuthLogin(ctx, "invalid_request")
		return nil, invalidRequest("username or email and password are required")
	}

	account, err := s.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			observability.RecordAuthLogin(ctx, "not_found")
			return nil, ErrAccountNotFound
		}
		observability.RecordAuthLogin(ctx, "error")
		return nil, spanError(span, fmt.Errorf("find account: %w", err))
	}
	span.SetAttributes(attribute.Int("account.id", int(account.ID)))

	if account.Status.IsLocked() {
		s.sendLockoutEmail(ctx, account)
		observability.RecordAuthLogin(ctx, "locked")
		return nil, ErrAccountLocked
	}

	ok, err := security.VerifyPassword(account.PasswordHash, in.Password)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, spanError(span, fmt.Errorf("verify password: %w", err))
	}
	if !ok {
		return nil, s.registerFailure(ctx, span, account)
	}

	now := s.now()
	if err := s.accounts.MarkLoginSucceeded(ctx, account.ID, now); err != nil {
		if errors.Is(err, repository.ErrAccountLocked) {
			observability.RecordAuthLogin(ctx, "locked")
			return nil, ErrAccountLocked
		}
		observability.RecordAuthLogin(ctx, "error")
		return nil, spanError(span, fmt.Errorf("mark login succeeded: %w", err))
	}
	account.LoginAttempts = 0
	account.Status = domain.AccountStatusActive

	token, expiresAt, err := s.tokens.SignAccessToken(account.ID, account.RoleID, account.Username, account.Email, now)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, spanError(span, fmt.Errorf("sign access token: %w", err))
	}
	observability.RecordAuthLogin(ctx, "success")
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: s.summary(ctx, account)}, nil
}

func (s *AuthService) registerFailure(ctx context.Context, span trace.Span, account *domain.Account) error {
	count, err := s.accounts.IncrementFailedAttempts(ctx, account.ID)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return spanError(span, fmt.Errorf("increment failed attempts: %w", err))
	}
	span.SetAttributes(attribute.Int("auth.failed_attempts", count))
	if count < MaxFailedLoginAttempts {
		observability.RecordAuthLogin(ctx, "invalid_credentials")
		return &InvalidCredentialsError{AttemptsRemaining: MaxFailedLoginAttempts - count}
	}

	if err := s.accounts.SetStatus(ctx, account.ID, domain.AccountStatusLocked); err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return spanError(span, fmt.Errorf("lock account: %w", err))
	}
	account.Status = domain.AccountStatusLocked
	account.LoginAttempts = count
	observability.RecordAuthLockout(ctx, "failed_attempts")
	observability.RecordAuthLogin(ctx, "locked")
	s.logger.WarnContext(ctx, "account locked after failed logins", "account_id", account.ID, "attempts", count)
	s.sendLockoutEmail(ctx, account)
	return ErrAccountLocked
}

func (s *AuthService) sendLockoutEmail(ctx context.Context, account *domain.Account) {
	msg, err := notify.LockoutEmail(account.Email, notify.LockoutData{
		Name:       displayName(account),
		Username:   account.Username,
		Attempts:   MaxFailedLoginAttempts,
		SupportURL: s.supportURL,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "render lockout email", "account_id", account.ID, "error", err)
		return
	}
	s.notifier.Dispatch(ctx, msg)
}

// Logout marks the account Offline. Logging out a Locked account leaves it Locked.
func (s *AuthService) Logout(ctx context.Context, identifier string) error {
	ctx, span := observability.StartSpan(ctx, "auth.logout")
	defer span.End()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		observability.RecordAuthLogout(ctx, "invalid_request")
		return invalidRequest("username or email is required")
	}
	account, err := s.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			observability.RecordAuthLogout(ctx, "not_found")
			return ErrAccountNotFound
		}
		observability.RecordAuthLogout(ctx, "error")
		return spanError(span, fmt.Errorf("find account: %w", err))
	}
	if err := s.accounts.SetStatus(ctx, account.ID, domain.AccountStatusOffline); err != nil {
		if errors.Is(err, repository.ErrAccountLocked) {
			observability.RecordAuthLogout(ctx, "locked")
			return nil
		}
		observability.RecordAuthLogout(ctx, "error")
		return spanError(span, fmt.Errorf("set status offline: %w", err))
	}
	observability.RecordAuthLogout(ctx, "success")
	return nil
}

// RequestReset issues a reset code unless one is still live. The email is part of
// the contract, so a delivery failure discards the code and is reported.
func (s *AuthService) RequestReset(ctx context.Context, email string) error {
	ctx, span := observability.StartSpan(ctx, "auth.request_reset")
	defer span.End()

	email = strings.TrimSpace(email)
	if email == "" {
		observability.RecordResetCodeEvent(ctx, "request", "invalid_request")
		return invalidRequest("email is required")
	}
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			observability.RecordResetCodeEvent(ctx, "request", "not_found")
			return ErrAccountNotFound
		}
		observability.RecordResetCodeEvent(ctx, "request", "error")
		return spanError(span, fmt.Errorf("find account: %w", err))
	}

	now := s.now()
	if account.HasActiveResetCode(now) {
		observability.RecordResetCodeEvent(ctx, "request", "pending")
		return &ResetPendingError{Remaining: account.ResetCodeExpiresAt.Sub(now)}
	}

	code, err := security.GenerateResetCode(now)
	if err != nil {
		observability.RecordResetCodeEvent(ctx, "request", "error")
		return spanError(span, fmt.Errorf("generate reset code: %w", err))
	}
	hash, err := s.codes.Hash(code)
	if err != nil {
		observability.RecordResetCodeEvent(ctx, "request", "error")
		return spanError(span, fmt.Errorf("hash reset code: %w", err))
	}
	if err := s.accounts.SetResetCode(ctx, account.ID, hash, now.Add(ResetCodeTTL)); err != nil {
		observability.RecordResetCodeEvent(ctx, "request", "error")
		return spanError(span, fmt.Errorf("store reset code: %w", err))
	}

	msg, err := notify.ResetCodeEmail(account.Email, notify.ResetCodeData{
		Name: displayName(account),
		Code: code,
		TTL:  ResetCodeTTL,
	})
	if err == nil {
		err = s.notifier.Deliver(ctx, msg)
	}
	if err != nil {
		if clearErr := s.accounts.ClearResetCode(ctx, account.ID); clearErr != nil {
			s.logger.ErrorContext(ctx, "clear undelivered reset code", "account_id", account.ID, "error", clearErr)
		}
		observability.RecordResetCodeEvent(ctx, "request", "delivery_failed")
		return spanError(span, fmt.Errorf("%w: %v", ErrEmailDeliveryFailed, err))
	}
	observability.RecordResetCodeEvent(ctx, "request", "issued")
	return nil
}

// ValidateCode redeems a reset code. Every account with a live code is checked,
// since the code is presented without an identifier.
func (s *AuthService) ValidateCode(ctx context.Context, code string) (*CodeValidationResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.validate_code")
	defer span.End()

	code = strings.TrimSpace(code)
	if code == "" {
		observability.RecordResetCodeEvent(ctx, "validate", "invalid_request")
		return nil, invalidRequest("code is required")
	}
	if !security.IsWellFormedResetCode(code) {
		observability.RecordResetCodeEvent(ctx, "validate", "invalid")
		return nil, ErrInvalidOrExpiredCode
	}

	pending, err := s.accounts.ListWithActiveResetCode(ctx, s.now())
	if err != nil {
		observability.RecordResetCodeEvent(ctx, "validate", "error")
		return nil, spanError(span, fmt.Errorf("list pending reset codes: %w", err))
	}
	observability.RecordResetCodeScanSize(ctx, len(pending))
	span.SetAttributes(attribute.Int("reset_code.candidates", len(pending)))

	for i := range pending {
		account := &pending[i]
		if account.ResetCodeHash == nil || !s.codes.Matches(code, *account.ResetCodeHash) {
			continue
		}
		if !account.HasActiveResetCode(s.now()) {
			observability.RecordResetCodeEvent(ctx, "validate", "expired")
			return nil, ErrInvalidOrExpiredCode
		}
		if err := s.accounts.ConsumeResetCode(ctx, account.ID, *account.ResetCodeHash); err != nil {
			if errors.Is(err, repository.ErrResetCodeConsumed) {
				observability.RecordResetCodeEvent(ctx, "validate", "consumed")
				return nil, ErrInvalidOrExpiredCode
			}
			observability.RecordResetCodeEvent(ctx, "validate", "error")
			return nil, spanError(span, fmt.Errorf("consume reset code: %w", err))
		}
		observability.RecordResetCodeEvent(ctx, "validate", "success")
		return &CodeValidationResult{UserID: account.ID, Email: account.Email}, nil
	}
	observability.RecordResetCodeEvent(ctx, "validate", "invalid")
	return nil, ErrInvalidOrExpiredCode
}

// Profile returns the summary for the bearer of a valid token.
func (s *AuthService) Profile(ctx context.Context, accountID uint) (*AccountSummary, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	if account.Status.IsLocked() {
		return nil, ErrAccountLocked
	}
	summary := s.summary(ctx, account)
	return &summary, nil
}

func (s *AuthService) ParseAccessToken(token string) (*security.Claims, error) {
	return s.tokens.ParseAccessToken(token)
}

func (s *AuthService) summary(ctx context.Context, account *domain.Account) AccountSummary {
	out := AccountSummary{
		ID:           account.ID,
		RoleID:       account.RoleID,
		FirstName:    account.FirstName,
		LastName:     account.LastName,
		Username:     account.Username,
		Email:        account.Email,
		ProfileImage: account.ProfileImage,
		Status:       account.Status,
	}
	if account.Role != nil {
		out.Role = account.Role.Name
	} else if account.RoleID != nil && s.roles != nil {
		if role, err := s.roles.FindByID(ctx, *account.RoleID); err == nil {
			out.Role = role.Name
		}
	}
	if url, err := s.images.Resolve(ctx, account.ProfileImage); err != nil {
		s.logger.WarnContext(ctx, "resolve profile image", "account_id", account.ID, "error", err)
	} else {
		out.ProfileImage = url
	}
	return out
}

func displayName(account *domain.Account) string {
	if name := account.FullName(); name != "" {
		return name
	}
	return account.Username
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
