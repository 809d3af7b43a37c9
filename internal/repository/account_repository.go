package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountConflict   = errors.New("account username or email already exists")
	ErrAccountLocked     = errors.New("account is locked")
	ErrAccountNotLocked  = errors.New("account is not locked")
	ErrResetCodeConsumed = errors.New("reset code already consumed")
)

type AccountFilter struct {
	Status domain.AccountStatus
	Search string
}

//go:generate mockgen -source=account_repository.go -destination=gomock/account_repository_mock.go -package=gomock

// AccountRepository is the durable account store. A Locked account only leaves
// Locked through Unlock.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	FindByID(ctx context.Context, id uint) (*domain.Account, error)
	FindByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	ListPaged(ctx context.Context, filter AccountFilter, req PageRequest) (PageResult[domain.Account], error)
	IncrementFailedAttempts(ctx context.Context, id uint) (int, error)
	ResetFailedAttempts(ctx context.Context, id uint) error
	SetStatus(ctx context.Context, id uint, status domain.AccountStatus) error
	MarkLoginSucceeded(ctx context.Context, id uint, at time.Time) error
	Unlock(ctx context.Context, id uint) error
	UpdatePasswordHash(ctx context.Context, id uint, hash string) error
	SetProfileImage(ctx context.Context, id uint, reference string) error
	SetResetCode(ctx context.Context, id uint, hash string, expiresAt time.Time) error
	ClearResetCode(ctx context.Context, id uint) error
	ConsumeResetCode(ctx context.Context, id uint, hash string) error
	ListWithActiveResetCode(ctx context.Context, now time.Time) ([]domain.Account, error)
}

type GormAccountRepository struct{ db *gorm.DB }

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &GormAccountRepository{db: db}
}

func (r *GormAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	account.Email = normalizeEmail(account.Email)
	account.Username = strings.TrimSpace(account.Username)
	if account.Status == "" {
		account.Status = domain.AccountStatusPending
	}
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		if isUniqueViolation(err) {
			record(ctx, "create", "conflict")
			return ErrAccountConflict
		}
		record(ctx, "create", "error")
		return err
	}
	record(ctx, "create", "success")
	return nil
}

func (r *GormAccountRepository) FindByID(ctx context.Context, id uint) (*domain.Account, error) {
	var account domain.Account
	err := r.db.WithContext(ctx).First(&account, id).Error
	return r.found(ctx, "find_by_id", &account, err)
}

// FindByIdentifier matches the username exactly or the email case-insensitively.
func (r *GormAccountRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	identifier = strings.TrimSpace(identifier)
	var account domain.Account
	err := r.db.WithContext(ctx).
		Where("username = ? OR email = ?", identifier, normalizeEmail(identifier)).
		Order("id asc").
		First(&account).Error
	return r.found(ctx, "find_by_identifier", &account, err)
}

func (r *GormAccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var account domain.Account
	err := r.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&account).Error
	return r.found(ctx, "find_by_email", &account, err)
}

func (r *GormAccountRepository) ListPaged(ctx context.Context, filter AccountFilter, req PageRequest) (PageResult[domain.Account], error) {
	base := r.db.WithContext(ctx).Model(&domain.Account{})
	if filter.Status != "" {
		base = base.Where("status = ?", filter.Status)
	}
	if s := strings.TrimSpace(strings.ToLower(filter.Search)); s != "" {
		like := "%" + s + "%"
		base = base.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", like, like)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		record(ctx, "list_paged", "error")
		return PageResult[domain.Account]{}, err
	}
	var items []domain.Account
	if err := base.Scopes(req.Scope()).Order("id asc").Find(&items).Error; err != nil {
		record(ctx, "list_paged", "error")
		return PageResult[domain.Account]{}, err
	}
	record(ctx, "list_paged", "success")
	return newPageResult(req, total, items), nil
}

// IncrementFailedAttempts adds one to the counter and returns the new value.
// The UPDATE takes the row lock, so concurrent callers observe distinct counts.
func (r *GormAccountRepository) IncrementFailedAttempts(ctx context.Context, id uint) (int, error) {
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Account{}).Where("id = ?", id).Updates(map[string]any{
			"login_attempts": gorm.Expr("login_attempts + ?", 1),
			"updated_at":     time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		return tx.Model(&domain.Account{}).Select("login_attempts").Where("id = ?", id).Scan(&count).Error
	})
	if err != nil {
		record(ctx, "increment_failed_attempts", outcomeOf(err))
		return 0, err
	}
	record(ctx, "increment_failed_attempts", "success")
	return count, nil
}

func (r *GormAccountRepository) ResetFailedAttempts(ctx context.Context, id uint) error {
	return r.update(ctx, "reset_failed_attempts", id, map[string]any{"login_attempts": 0})
}

// SetStatus writes status. Moving a Locked account to any other status fails with ErrAccountLocked.
func (r *GormAccountRepository) SetStatus(ctx context.Context, id uint, status domain.AccountStatus) error {
	q := r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id)
	if status != domain.AccountStatusLocked {
		q = q.Where("status <> ?", domain.AccountStatusLocked)
	}
	res := q.Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		record(ctx, "set_status", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		err := r.missingOrLocked(ctx, id)
		record(ctx, "set_status", outcomeOf(err))
		return err
	}
	record(ctx, "set_status", "success")
	return nil
}

// MarkLoginSucceeded resets the counter and activates the account unless it is Locked.
func (r *GormAccountRepository) MarkLoginSucceeded(ctx context.Context, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND status <> ?", id, domain.AccountStatusLocked).
		Updates(map[string]any{
			"login_attempts": 0,
			"status":         domain.AccountStatusActive,
			"last_login_at":  at.UTC(),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		record(ctx, "mark_login_succeeded", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		err := r.missingOrLocked(ctx, id)
		record(ctx, "mark_login_succeeded", outcomeOf(err))
		return err
	}
	record(ctx, "mark_login_succeeded", "success")
	return nil
}

// Unlock returns a Locked account to Offline with a zero counter.
func (r *GormAccountRepository) Unlock(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND status = ?", id, domain.AccountStatusLocked).
		Updates(map[string]any{
			"login_attempts": 0,
			"status":         domain.AccountStatusOffline,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		record(ctx, "unlock", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			record(ctx, "unlock", outcomeOf(err))
			return err
		}
		record(ctx, "unlock", "not_locked")
		return ErrAccountNotLocked
	}
	record(ctx, "unlock", "success")
	return nil
}

func (r *GormAccountRepository) UpdatePasswordHash(ctx context.Context, id uint, hash string) error {
	return r.update(ctx, "update_password_hash", id, map[string]any{"password_hash": hash})
}

func (r *GormAccountRepository) SetProfileImage(ctx context.Context, id uint, reference string) error {
	return r.update(ctx, "set_profile_image", id, map[string]any{"profile_image": reference})
}

func (r *GormAccountRepository) SetResetCode(ctx context.Context, id uint, hash string, expiresAt time.Time) error {
	return r.update(ctx, "set_reset_code", id, map[string]any{
		"reset_code_hash":       hash,
		"reset_code_expires_at": expiresAt.UTC(),
	})
}

func (r *GormAccountRepository) ClearResetCode(ctx context.Context, id uint) error {
	return r.update(ctx, "clear_reset_code", id, map[string]any{
		"reset_code_hash":       nil,
		"reset_code_expires_at": nil,
	})
}

// ConsumeResetCode clears the reset code only if it still equals hash, so a code is redeemed once.
func (r *GormAccountRepository) ConsumeResetCode(ctx context.Context, id uint, hash string) error {
	res := r.db.WithContext(ctx).Model(&domain.Account{}).
		Where("id = ? AND reset_code_hash = ?", id, hash).
		Updates(map[string]any{
			"reset_code_hash":       nil,
			"reset_code_expires_at": nil,
			"updated_at":            time.Now().UTC(),
		})
	if res.Error != nil {
		record(ctx, "consume_reset_code", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		record(ctx, "consume_reset_code", "already_consumed")
		return ErrResetCodeConsumed
	}
	record(ctx, "consume_reset_code", "success")
	return nil
}

func (r *GormAccountRepository) ListWithActiveResetCode(ctx context.Context, now time.Time) ([]domain.Account, error) {
	var accounts []domain.Account
	err := r.db.WithContext(ctx).
		Where("reset_code_hash IS NOT NULL AND reset_code_expires_at > ?", now.UTC()).
		Order("id asc").
		Find(&accounts).Error
	if err != nil {
		record(ctx, "list_active_reset_codes", "error")
		return nil, err
	}
	record(ctx, "list_active_reset_codes", "success")
	return accounts, nil
}

func (r *GormAccountRepository) update(ctx context.Context, op string, id uint, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		record(ctx, op, "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		record(ctx, op, "not_found")
		return ErrAccountNotFound
	}
	record(ctx, op, "success")
	return nil
}

func (r *GormAccountRepository) found(ctx context.Context, op string, account *domain.Account, err error) (*domain.Account, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record(ctx, op, "not_found")
			return nil, ErrAccountNotFound
		}
		record(ctx, op, "error")
		return nil, err
	}
	record(ctx, op, "success")
	return account, nil
}

func (r *GormAccountRepository) missingOrLocked(ctx context.Context, id uint) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrAccountNotFound
	}
	return ErrAccountLocked
}

func record(ctx context.Context, op, outcome string) {
	observability.RecordRepositoryOperation(ctx, "account", op, outcome)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	default:
		return "error"
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
