package domain

import "time"

// AppStatus is the lifecycle status of a registered application.
type AppStatus string

const (
	AppActive   AppStatus = "active"
	AppDisabled AppStatus = "disabled"
)

// Role gates privileged operations. Partners and admins may mint keys and
// manage applications; plain users may only authenticate.
type Role string

const (
	RoleUser    Role = "user"
	RolePartner Role = "partner"
	RoleAdmin   Role = "admin"
)

// KeyKind distinguishes time-limited keys from lifetime keys.
type KeyKind string

const (
	KeyKindDays     KeyKind = "days"
	KeyKindLifetime KeyKind = "lifetime"
)

// KeyStatus is the stored key state. Expired is never written: it is derived
// at read time from the expiry timestamp so a stale terminal write can never
// block future reads.
type KeyStatus string

const (
	KeyUnused    KeyStatus = "unused"
	KeyActivated KeyStatus = "activated"
)

// Application is a tenant/product registration. The secret authenticates the
// client binary, not a user, and is immutable once issued.
type Application struct {
	ID             string
	OwnerAccountID string
	Name           string
	Secret         string
	Version        string
	Status         AppStatus
	// HWIDLock is the application-level policy flag: when false, hardware
	// mismatches are tolerated without rebinding.
	HWIDLock    bool
	DownloadURL string
	CreatedAt   time.Time
}

// ComponentFingerprint is a snapshot of secondary hardware identifiers.
// It is always replaced as a whole, never merged field by field.
type ComponentFingerprint struct {
	GPU         string
	Motherboard string
	CPU         string
	RecordedAt  time.Time
}

// LicenseKey is the central entity of the engine.
// Nil pointer fields mean "not yet set"; a nil ExpiresAt on an activated key
// means the key is lifetime.
type LicenseKey struct {
	Key           string
	ApplicationID string
	Kind          KeyKind
	Days          int
	Level         int
	Status        KeyStatus
	HWID          *string
	ActivatedAt   *time.Time
	ExpiresAt     *time.Time
	AccountID     *string
	Components    *ComponentFingerprint
	LastSeenAt    *time.Time
	Note          string
	CreatedAt     time.Time
}

// Account is an end-user identity. Auto-provisioned accounts created from a
// key redemption carry username = key and a bcrypt hash of the key as password.
type Account struct {
	ID            string
	ApplicationID string
	Username      string
	PasswordHash  string
	Role          Role
	HWID          *string
	ExpiresAt     *time.Time
	Level         int
	Components    *ComponentFingerprint
	CreatedAt     time.Time
	LastLoginAt   *time.Time
	LastIP        string
}

// LoginLogEntry is an append-only audit record of a client check-in.
type LoginLogEntry struct {
	ID            string
	ApplicationID string
	Identifier    string
	HWID          string
	Components    *ComponentFingerprint
	IP            string
	At            time.Time
}

// Privileged reports whether the role may run owner/admin operations.
func (r Role) Privileged() bool {
	return r == RolePartner || r == RoleAdmin
}
