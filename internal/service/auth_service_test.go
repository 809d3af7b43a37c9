package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
	"github.com/sandeepkv93/gov-coordination-portal/internal/notify"
	"github.com/sandeepkv93/gov-coordination-portal/internal/repository"
	"github.com/sandeepkv93/gov-coordination-portal/internal/security"
)

type recordingNotifier struct {
	mu         sync.Mutex
	delivered  []notify.Message
	dispatched []notify.Message
	deliverErr error
}

func (n *recordingNotifier) Deliver(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.deliverErr != nil {
		return n.deliverErr
	}
	n.delivered = append(n.delivered, msg)
	return nil
}

func (n *recordingNotifier) Dispatch(_ context.Context, msg notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, msg)
}

func (n *recordingNotifier) dispatchedKinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.dispatched))
	for _, m := range n.dispatched {
		out = append(out, m.Kind)
	}
	return out
}

var resetCodeRe = regexp.MustCompile(`<strong>(\d{6})</strong>`)

func (n *recordingNotifier) lastResetCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.delivered) == 0 {
		t.Fatal("no reset email delivered")
	}
	m := resetCodeRe.FindStringSubmatch(n.delivered[len(n.delivered)-1].HTML)
	if len(m) != 2 {
		t.Fatal("reset email does not contain a code")
	}
	return m[1]
}

type authFixture struct {
	db       *gorm.DB
	accounts repository.AccountRepository
	roles    repository.RoleRepository
	notifier *recordingNotifier
	tokens   *security.JWTManager
	auth     *AuthService
	admin    *AccountAdminService
	now      time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Role{}, &domain.Account{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	fx := &authFixture{
		db:       db,
		accounts: repository.NewAccountRepository(db),
		roles:    repository.NewRoleRepository(db),
		notifier: &recordingNotifier{},
		tokens:   security.NewJWTManager("gov-portal-test", "test-secret-with-at-least-32-bytes!!", AccessTokenTTL),
		now:      time.Now().UTC().Truncate(time.Second),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fx.auth = NewAuthService(fx.accounts, fx.roles, fx.tokens, security.NewCodeHasher(4), fx.notifier, nil, logger, AuthServiceOptions{
		SupportURL: "https://portal.example.gov/support",
		Now:        func() time.Time { return fx.now },
	})
	fx.admin = NewAccountAdminService(fx.accounts, fx.roles, nil, logger, 16)
	return fx
}

func (fx *authFixture) seedAccount(t *testing.T, username, email, password string, status domain.AccountStatus) *domain.Account {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	account := &domain.Account{Username: username, Email: email, FirstName: "Test", LastName: "User", PasswordHash: hash, Status: status}
	if err := fx.accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func (fx *authFixture) reload(t *testing.T, id uint) *domain.Account {
	t.Helper()
	account, err := fx.accounts.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	return account
}

func TestLoginLocksAfterFiveFailures(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	alice := fx.seedAccount(t, "alice", "alice@agri.example.gov", "p1", domain.AccountStatusOffline)

	for want := 4; want >= 1; want-- {
		_, err := fx.auth.Login(ctx, LoginInput{Identifier: "alice", Password: "wrong"})
		var credErr *InvalidCredentialsError
		if !errors.As(err, &credErr) {
			t.Fatalf("expected InvalidCredentialsError, got %v", err)
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected error to unwrap to ErrInvalidCredentials")
		}
		if credErr.AttemptsRemaining != want {
			t.Fatalf("expected %d attempts remaining, got %d", want, credErr.AttemptsRemaining)
		}
		if got := fx.reload(t, alice.ID); got.Status != domain.AccountStatusOffline {
			t.Fatalf("expected status to stay Offline, got %s", got.Status)
		}
	}

	_, err := fx.auth.Login(ctx, LoginInput{Identifier: "alice", Password: "wrong"})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked on fifth failure, got %v", err)
	}
	locked := fx.reload(t, alice.ID)
	if locked.Status != domain.AccountStatusLocked || locked.LoginAttempts != 5 {
		t.Fatalf("expected Locked with 5 attempts, got %s/%d", locked.Status, locked.LoginAttempts)
	}

	_, err = fx.auth.Login(ctx, LoginInput{Identifier: "alice", Password: "p1"})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected correct password to stay locked, got %v", err)
	}
	after := fx.reload(t, alice.ID)
	if after.Status != domain.AccountStatusLocked || after.LoginAttempts != 5 {
		t.Fatalf("expected locked account unchanged, got %s/%d", after.Status, after.LoginAttempts)
	}

	kinds := fx.notifier.dispatchedKinds()
	if len(kinds) != 2 || kinds[0] != notify.KindLockout || kinds[1] != notify.KindLockout {
		t.Fatalf("expected two lockout emails, got %v", kinds)
	}
}

func TestLoginSuccessResetsCounterAndIssuesToken(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	role := &domain.Role{Name: "health_officer"}
	if err := fx.db.Create(role).Error; err != nil {
		t.Fatalf("create role: %v", err)
	}
	bob := fx.seedAccount(t, "bob", "bob@health.example.gov", "CorrectHorse1!", domain.AccountStatusPending)
	if err := fx.db.Model(&domain.Account{}).Where("id = ?", bob.ID).Update("role_id", role.ID).Error; err != nil {
		t.Fatalf("assign role: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := fx.auth.Login(ctx, LoginInput{Identifier: "bob", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("failure %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	res, err := fx.auth.Login(ctx, LoginInput{Identifier: "BOB@health.example.gov", Password: "CorrectHorse1!"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	got := fx.reload(t, bob.ID)
	if got.LoginAttempts != 0 || got.Status != domain.AccountStatusActive || got.LastLoginAt == nil {
		t.Fatalf("expected reset counter and Active, got %d/%s last=%v", got.LoginAttempts, got.Status, got.LastLoginAt)
	}
	if res.User.ID != bob.ID || res.User.Username != "bob" || res.User.Role != "health_officer" || res.User.Status != domain.AccountStatusActive {
		t.Fatalf("unexpected summary: %+v", res.User)
	}
	if !res.ExpiresAt.Equal(fx.now.Add(AccessTokenTTL)) {
		t.Fatalf("expected 24h expiry, got %v", res.ExpiresAt.Sub(fx.now))
	}

	claims, err := fx.tokens.ParseAccessToken(res.Token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.UserID != bob.ID || claims.ID != bob.ID || claims.Username != "bob" || claims.Email != "bob@health.example.gov" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.RoleID == nil || *claims.RoleID != role.ID {
		t.Fatalf("expected roleId %d in token, got %v", role.ID, claims.RoleID)
	}
}

func TestLoginRequestValidationAndUnknownIdentifier(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	fx.seedAccount(t, "carol", "carol@edu.example.gov", "pw", domain.AccountStatusOffline)

	for _, in := range []LoginInput{{}, {Identifier: "carol"}, {Password: "pw"}, {Identifier: "   ", Password: "pw"}} {
		if _, err := fx.auth.Login(ctx, in); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("input %+v: expected ErrInvalidRequest, got %v", in, err)
		}
	}

	if _, err := fx.auth.Login(ctx, LoginInput{Identifier: "nobody", Password: "pw"}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	var count int64
	fx.db.Model(&domain.Account{}).Where("login_attempts <> 0").Count(&count)
	if count != 0 || len(fx.notifier.dispatchedKinds()) != 0 {
		t.Fatalf("expected no side effects, attempts rows=%d emails=%d", count, len(fx.notifier.dispatchedKinds()))
	}
}

func TestLogoutSetsOfflineAndLeavesLockedAlone(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	active := fx.seedAccount(t, "dave", "dave@agri.example.gov", "pw", domain.AccountStatusActive)
	locked := fx.seedAccount(t, "erin", "erin@agri.example.gov", "pw", domain.AccountStatusLocked)

	if err := fx.auth.Logout(ctx, "dave@agri.example.gov"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if got := fx.reload(t, active.ID); got.Status != domain.AccountStatusOffline {
		t.Fatalf("expected Offline, got %s", got.Status)
	}

	if err := fx.auth.Logout(ctx, "erin"); err != nil {
		t.Fatalf("logout locked: %v", err)
	}
	if got := fx.reload(t, locked.ID); got.Status != domain.AccountStatusLocked {
		t.Fatalf("expected Locked to be preserved, got %s", got.Status)
	}

	if err := fx.auth.Logout(ctx, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if err := fx.auth.Logout(ctx, "ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestResetCodeRoundTripIsSingleUse(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	frank := fx.seedAccount(t, "frank", "frank@health.example.gov", "pw", domain.AccountStatusOffline)
	fx.seedAccount(t, "grace", "grace@health.example.gov", "pw", domain.AccountStatusOffline)

	if err := fx.auth.RequestReset(ctx, "grace@health.example.gov"); err != nil {
		t.Fatalf("request reset grace: %v", err)
	}
	if err := fx.auth.RequestReset(ctx, "frank@health.example.gov"); err != nil {
		t.Fatalf("request reset frank: %v", err)
	}
	code := fx.notifier.lastResetCode(t)

	stored := fx.reload(t, frank.ID)
	if stored.ResetCodeHash == nil || *stored.ResetCodeHash == code || stored.ResetCodeExpiresAt == nil {
		t.Fatal("expected a hashed code with expiry to be stored")
	}
	if !stored.ResetCodeExpiresAt.Equal(fx.now.Add(ResetCodeTTL)) {
		t.Fatalf("expected 15 minute expiry, got %v", stored.ResetCodeExpiresAt.Sub(fx.now))
	}

	fx.now = fx.now.Add(10 * time.Minute)
	res, err := fx.auth.ValidateCode(ctx, code)
	if err != nil {
		t.Fatalf("validate code: %v", err)
	}
	if res.UserID != frank.ID || res.Email != "frank@health.example.gov" {
		t.Fatalf("unexpected validation result: %+v", res)
	}
	if got := fx.reload(t, frank.ID); got.ResetCodeHash != nil || got.ResetCodeExpiresAt != nil {
		t.Fatal("expected reset code to be cleared after use")
	}

	if _, err := fx.auth.ValidateCode(ctx, code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected second use to fail, got %v", err)
	}
}

func TestValidateCodeRejectsExpiredMalformedAndEmpty(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	fx.seedAccount(t, "heidi", "heidi@edu.example.gov", "pw", domain.AccountStatusOffline)

	if err := fx.auth.RequestReset(ctx, "heidi@edu.example.gov"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	code := fx.notifier.lastResetCode(t)

	fx.now = fx.now.Add(ResetCodeTTL + time.Second)
	if _, err := fx.auth.ValidateCode(ctx, code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected expired code to fail, got %v", err)
	}
	if _, err := fx.auth.ValidateCode(ctx, "12ab56"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected malformed code to fail, got %v", err)
	}
	if _, err := fx.auth.ValidateCode(ctx, " "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRequestResetWhilePendingKeepsExistingCode(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	ivan := fx.seedAccount(t, "ivan", "ivan@agri.example.gov", "pw", domain.AccountStatusOffline)

	if err := fx.auth.RequestReset(ctx, "ivan@agri.example.gov"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	first := fx.reload(t, ivan.ID)

	fx.now = fx.now.Add(4*time.Minute + 30*time.Second)
	err := fx.auth.RequestReset(ctx, "ivan@agri.example.gov")
	var pending *ResetPendingError
	if !errors.As(err, &pending) || !errors.Is(err, ErrResetAlreadyPending) {
		t.Fatalf("expected ResetPendingError, got %v", err)
	}
	if pending.MinutesRemaining() != 11 {
		t.Fatalf("expected 11 minutes remaining, got %d", pending.MinutesRemaining())
	}
	second := fx.reload(t, ivan.ID)
	if *second.ResetCodeHash != *first.ResetCodeHash || !second.ResetCodeExpiresAt.Equal(*first.ResetCodeExpiresAt) {
		t.Fatal("expected pending code to be left untouched")
	}

	fx.now = fx.now.Add(11 * time.Minute)
	if err := fx.auth.RequestReset(ctx, "ivan@agri.example.gov"); err != nil {
		t.Fatalf("expected new code after expiry, got %v", err)
	}

	if err := fx.auth.RequestReset(ctx, "nobody@agri.example.gov"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := fx.auth.RequestReset(ctx, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRequestResetDeliveryFailureClearsCode(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	judy := fx.seedAccount(t, "judy", "judy@health.example.gov", "pw", domain.AccountStatusOffline)

	fx.notifier.deliverErr = errors.New("smtp: connection refused")
	err := fx.auth.RequestReset(ctx, "judy@health.example.gov")
	if !errors.Is(err, ErrEmailDeliveryFailed) {
		t.Fatalf("expected ErrEmailDeliveryFailed, got %v", err)
	}
	if got := fx.reload(t, judy.ID); got.ResetCodeHash != nil || got.ResetCodeExpiresAt != nil {
		t.Fatal("expected undelivered code to be cleared")
	}

	fx.notifier.deliverErr = nil
	if err := fx.auth.RequestReset(ctx, "judy@health.example.gov"); err != nil {
		t.Fatalf("expected immediate retry to succeed, got %v", err)
	}
}

func TestProfileRefusesLockedAccounts(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	ok := fx.seedAccount(t, "kim", "kim@edu.example.gov", "pw", domain.AccountStatusActive)
	locked := fx.seedAccount(t, "leo", "leo@edu.example.gov", "pw", domain.AccountStatusLocked)

	summary, err := fx.auth.Profile(ctx, ok.ID)
	if err != nil || summary.Username != "kim" {
		t.Fatalf("expected profile for kim, got %+v %v", summary, err)
	}
	if _, err := fx.auth.Profile(ctx, locked.ID); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if _, err := fx.auth.Profile(ctx, 9999); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
