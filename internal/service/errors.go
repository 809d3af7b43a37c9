package service

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account is locked, contact an administrator to restore access")
	ErrResetAlreadyPending  = errors.New("a reset code has already been sent")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrEmailDeliveryFailed  = errors.New("failed to send email")
	ErrWeakPassword         = errors.New("password does not meet policy requirements")
)

// InvalidCredentialsError reports how many failures remain before lockout.
type InvalidCredentialsError struct {
	AttemptsRemaining int
}

func (e *InvalidCredentialsError) Error() string {
	if e.AttemptsRemaining == 1 {
		return "invalid credentials, 1 attempt remaining before the account is locked"
	}
	return fmt.Sprintf("invalid credentials, %d attempts remaining before the account is locked", e.AttemptsRemaining)
}

func (e *InvalidCredentialsError) Unwrap() error { return ErrInvalidCredentials }

// ResetPendingError carries the lifetime left on the outstanding reset code.
type ResetPendingError struct {
	Remaining time.Duration
}

// MinutesRemaining rounds up and never reports less than one minute.
func (e *ResetPendingError) MinutesRemaining() int {
	m := int(math.Ceil(e.Remaining.Minutes()))
	if m < 1 {
		return 1
	}
	return m
}

func (e *ResetPendingError) Error() string {
	return fmt.Sprintf("a reset code has already been sent, try again in %d minutes", e.MinutesRemaining())
}

func (e *ResetPendingError) Unwrap() error { return ErrResetAlreadyPending }

func invalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}
