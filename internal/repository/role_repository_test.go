package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
)

func TestRoleRepositoryLookups(t *testing.T) {
	db := newRepositoryDBForTest(t)
	for _, name := range []string{"health_officer", "admin"} {
		if err := db.Create(&domain.Role{Name: name}).Error; err != nil {
			t.Fatalf("create role: %v", err)
		}
	}
	repo := NewRoleRepository(db)
	ctx := context.Background()

	admin, err := repo.FindByName(ctx, " Admin ")
	if err != nil {
		t.Fatalf("find by name: %v", err)
	}
	byID, err := repo.FindByID(ctx, admin.ID)
	if err != nil || byID.Name != "admin" {
		t.Fatalf("find by id: %+v %v", byID, err)
	}
	roles, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(roles) != 2 || roles[0].Name != "admin" {
		t.Fatalf("expected name ordering, got %+v", roles)
	}
	if _, err := repo.FindByName(ctx, "missing"); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}
