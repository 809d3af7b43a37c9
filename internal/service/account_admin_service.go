package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sandeepkv93/gov-coordination-portal/internal/domain"
	"github.com/sandeepkv93/gov-coordination-portal/internal/repository"
	"github.com/sandeepkv93/gov-coordination-portal/internal/security"
	"github.com/sandeepkv93/gov-coordination-portal/internal/storage"
)

var (
	uppercaseRe = regexp.MustCompile(`[A-Z]`)
	lowercaseRe = regexp.MustCompile(`[a-z]`)
	digitRe     = regexp.MustCompile(`[0-9]`)
	specialRe   = regexp.MustCompile(`[^A-Za-z0-9]`)
	usernameRe  = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)
)

var (
	ErrRoleNotFound    = errors.New("role not found")
	ErrAccountExists   = errors.New("username or email already in use")
	ErrAccountUnlocked = errors.New("account is not locked")
)

type ProvisionInput struct {
	Username     string `yaml:"username"`
	Email        string `yaml:"email"`
	FirstName    string `yaml:"firstName"`
	LastName     string `yaml:"lastName"`
	Role         string `yaml:"role"`
	ProfileImage string `yaml:"profileImage"`
	// ProfileImageFile is a local JPEG or PNG uploaded to object storage on import.
	ProfileImageFile string `yaml:"profileImageFile"`
}

type ProvisionResult struct {
	Account           *domain.Account `json:"account"`
	TemporaryPassword string          `json:"temporaryPassword"`
}

type ImportFile struct {
	Accounts []ProvisionInput `yaml:"accounts"`
}

type ImportSkip struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Reason   string `json:"reason"`
}

type ImportReport struct {
	Created []ProvisionResult `json:"created"`
	Skipped []ImportSkip      `json:"skipped"`
}

// AccountAdminService is the operator side of the account lifecycle: provisioning
// and the out-of-band unlock that the login flow never performs.
type AccountAdminService struct {
	accounts        repository.AccountRepository
	roles           repository.RoleRepository
	images          storage.ProfileImageStore
	logger          *slog.Logger
	tempPasswordLen int
}

func NewAccountAdminService(
	accounts repository.AccountRepository,
	roles repository.RoleRepository,
	images storage.ProfileImageStore,
	logger *slog.Logger,
	tempPasswordLen int,
) *AccountAdminService {
	if images == nil {
		images = storage.PassthroughProfileImageStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tempPasswordLen <= 0 {
		tempPasswordLen = 16
	}
	return &AccountAdminService{
		accounts:        accounts,
		roles:           roles,
		images:          images,
		logger:          logger,
		tempPasswordLen: tempPasswordLen,
	}
}

// Provision creates a Pending account with a generated temporary password.
func (s *AccountAdminService) Provision(ctx context.Context, in ProvisionInput) (*ProvisionResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if !usernameRe.MatchString(in.Username) {
		return nil, invalidRequest("username must be 3-64 letters, digits, dots, dashes or underscores")
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}

	account := &domain.Account{
		Username:     in.Username,
		Email:        in.Email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		ProfileImage: strings.TrimSpace(in.ProfileImage),
		Status:       domain.AccountStatusPending,
	}
	if name := strings.TrimSpace(in.Role); name != "" {
		role, err := s.roles.FindByName(ctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrRoleNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
			}
			return nil, fmt.Errorf("find role: %w", err)
		}
		account.RoleID = &role.ID
	}

	temp, err := security.GenerateTemporaryPassword(s.tempPasswordLen)
	if err != nil {
		return nil, fmt.Errorf("generate temporary password: %w", err)
	}
	hash, err := security.HashPassword(temp)
	if err != nil {
		return nil, fmt.Errorf("hash temporary password: %w", err)
	}
	account.PasswordHash = hash

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrAccountConflict) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.InfoContext(ctx, "account provisioned", "account_id", account.ID, "username", account.Username)
	return &ProvisionResult{Account: account, TemporaryPassword: temp}, nil
}

// Import provisions every account in a YAML document. Conflicts and invalid rows
// are skipped; infrastructure errors abort the batch. Relative profileImageFile
// paths resolve against baseDir.
func (s *AccountAdminService) Import(ctx context.Context, r io.Reader, baseDir string) (*ImportReport, error) {
	var file ImportFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &ImportReport{}, nil
		}
		return nil, fmt.Errorf("%w: parse import file: %v", ErrInvalidRequest, err)
	}

	report := &ImportReport{}
	for _, in := range file.Accounts {
		res, err := s.Provision(ctx, in)
		if err != nil {
			if errors.Is(err, ErrAccountExists) || errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrRoleNotFound) {
				report.Skipped = append(report.Skipped, ImportSkip{Username: in.Username, Email: in.Email, Reason: err.Error()})
				continue
			}
			return report, err
		}
		if in.ProfileImageFile != "" {
			if err := s.attachProfileImage(ctx, res.Account, resolvePath(baseDir, in.ProfileImageFile)); err != nil {
				s.logger.WarnContext(ctx, "profile image not attached", "account_id", res.Account.ID, "error", err)
			}
		}
		report.Created = append(report.Created, *res)
	}
	return report, nil
}

func (s *AccountAdminService) attachProfileImage(ctx context.Context, account *domain.Account, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	key, err := s.images.Upload(ctx, account.ID, f, info.Size())
	if err != nil {
		return err
	}
	if err := s.accounts.SetProfileImage(ctx, account.ID, key); err != nil {
		return err
	}
	account.ProfileImage = key
	return nil
}

// Unlock is the administrative exit from Locked.
func (s *AccountAdminService) Unlock(ctx context.Context, identifier string) (*domain.Account, error) {
	account, err := s.find(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.Unlock(ctx, account.ID); err != nil {
		if errors.Is(err, repository.ErrAccountNotLocked) {
			return nil, ErrAccountUnlocked
		}
		return nil, fmt.Errorf("unlock account: %w", err)
	}
	account.Status = domain.AccountStatusOffline
	account.LoginAttempts = 0
	s.logger.InfoContext(ctx, "account unlocked", "account_id", account.ID)
	return account, nil
}

// SetPassword replaces the password hash. Lockout state is left as is.
func (s *AccountAdminService) SetPassword(ctx context.Context, identifier, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	account, err := s.find(ctx, identifier)
	if err != nil {
		return err
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *AccountAdminService) List(ctx context.Context, filter repository.AccountFilter, page repository.PageRequest) (repository.PageResult[domain.Account], error) {
	return s.accounts.ListPaged(ctx, filter, page)
}

func (s *AccountAdminService) find(ctx context.Context, identifier string) (*domain.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, invalidRequest("username or email is required")
	}
	account, err := s.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func validateEmail(email string) error {
	if email == "" {
		return invalidRequest("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return invalidRequest("invalid email")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 || !uppercaseRe.MatchString(password) ||
		!lowercaseRe.MatchString(password) || !digitRe.MatchString(password) || !specialRe.MatchString(password) {
		return ErrWeakPassword
	}
	return nil
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
