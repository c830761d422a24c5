package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an application, key, or account does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404/NOT_FOUND.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidCredentials hides whether the username or the password failed.
	// The reason is to prevent account-enumeration side channels.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrHardwareMismatch signals that the presented hardware id differs from the bound one.
	// The HTTP layer surfaces it behind the same generic denial as ErrInvalidCredentials.
	ErrHardwareMismatch = errors.New("hardware mismatch")
	// ErrForbidden covers secret mismatches, disabled applications, and insufficient roles.
	ErrForbidden = errors.New("forbidden")
	// ErrExpired signals a key or account past its expiry timestamp.
	ErrExpired = errors.New("subscription expired")
	// ErrUpdateRequired signals a client-version mismatch at session init.
	ErrUpdateRequired  = errors.New("client update required")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRateLimited     = errors.New("rate limited")
	ErrConflict        = errors.New("conflict")
	// ErrStorage wraps document-store failures, including aborted key batches.
	ErrStorage = errors.New("storage failure")
)

// UpdateRequiredError carries the download link for the expected client build.
// It matches ErrUpdateRequired under errors.Is so handlers can branch without
// losing the link.
type UpdateRequiredError struct {
	Version     string
	DownloadURL string
}

func (e *UpdateRequiredError) Error() string {
	return fmt.Sprintf("client update required: expected version %s", e.Version)
}

func (e *UpdateRequiredError) Is(target error) bool {
	return target == ErrUpdateRequired
}
