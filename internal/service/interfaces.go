package service

import (
	"context"

	"github.com/sandeepkv93/gov-coordination-portal/internal/security"
)

//go:generate mockgen -source=interfaces.go -destination=gomock/interfaces_mock.go -package=gomock

type AuthServiceInterface interface {
	Login(ctx context.Context, in LoginInput) (*LoginResult, error)
	Logout(ctx context.Context, identifier string) error
	RequestReset(ctx context.Context, email string) error
	ValidateCode(ctx context.Context, code string) (*CodeValidationResult, error)
	Profile(ctx context.Context, accountID uint) (*AccountSummary, error)
	ParseAccessToken(token string) (*security.Claims, error)
}

var _ AuthServiceInterface = (*AuthService)(nil)
