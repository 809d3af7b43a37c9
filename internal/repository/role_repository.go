package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"
)

var ErrRoleNotFound = errors.New("role not found")

type RoleRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.Role, error)
	FindByName(ctx context.Context, name string) (*domain.Role, error)
	List(ctx context.Context) ([]domain.Role, error)
}

type GormRoleRepository struct{ db *gorm.DB }

func NewRoleRepository(db *gorm.DB) RoleRepository { return &GormRoleRepository{db: db} }

func (r *GormRoleRepository) FindByID(ctx context.Context, id uint) (*domain.Role, error) {
	var role domain.Role
	return r.found(ctx, "find_by_id", &role, r.db.WithContext(ctx).First(&role, id).Error)
}

func (r *GormRoleRepository) FindByName(ctx context.Context, name string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.WithContext(ctx).Where("name = ?", strings.ToLower(strings.TrimSpace(name))).First(&role).Error
	return r.found(ctx, "find_by_name", &role, err)
}

func (r *GormRoleRepository) List(ctx context.Context) ([]domain.Role, error) {
	var roles []domain.Role
	if err := r.db.WithContext(ctx).Order("name asc").Find(&roles).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "role", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "role", "list", "success")
	return roles, nil
}

func (r *GormRoleRepository) found(ctx context.Context, op string, role *domain.Role, err error) (*domain.Role, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "role", op, "not_found")
			return nil, ErrRoleNotFound
		}
		observability.RecordRepositoryOperation(ctx, "role", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "role", op, "success")
	return role, nil
}
