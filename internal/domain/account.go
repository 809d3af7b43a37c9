package domain

import "time"

type AccountStatus string

const (
	AccountStatusOffline AccountStatus = "Offline"
	AccountStatusActive  AccountStatus = "Active"
	AccountStatusPending AccountStatus = "Pending"
	AccountStatusLocked  AccountStatus = "Locked"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusOffline, AccountStatusActive, AccountStatusPending, AccountStatusLocked:
		return true
	default:
		return false
	}
}

func (s AccountStatus) IsLocked() bool {
	return s == AccountStatusLocked
}

// Account is a portal user. ResetCodeHash and ResetCodeExpiresAt are written together.
type Account struct {
	ID                 uint          `gorm:"primaryKey" json:"id"`
	Username           string        `gorm:"uniqueIndex;size:120;not null" json:"username"`
	Email              string        `gorm:"uniqueIndex;size:255;not null" json:"email"`
	FirstName          string        `gorm:"size:120" json:"first_name"`
	LastName           string        `gorm:"size:120" json:"last_name"`
	ProfileImage       string        `gorm:"size:1024" json:"profile_image"`
	PasswordHash       string        `gorm:"size:1024;not null" json:"-"`
	RoleID             *uint         `gorm:"index" json:"role_id,omitempty"`
	Role               *Role         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"role,omitempty"`
	LoginAttempts      int           `gorm:"not null;default:0" json:"login_attempts"`
	Status             AccountStatus `gorm:"size:16;not null;default:Pending;index:idx_accounts_status" json:"status"`
	ResetCodeHash      *string       `gorm:"size:255" json:"-"`
	ResetCodeExpiresAt *time.Time    `gorm:"index:idx_accounts_reset_code_expires_at" json:"-"`
	LastLoginAt        *time.Time    `json:"last_login_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// HasActiveResetCode reports whether a reset code is stored and still valid at now.
func (a *Account) HasActiveResetCode(now time.Time) bool {
	if a.ResetCodeHash == nil || a.ResetCodeExpiresAt == nil {
		return false
	}
	return a.ResetCodeExpiresAt.After(now)
}

func (a *Account) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}
