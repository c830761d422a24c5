package postgres

import "time"

type applicationModel struct {
	ID             string    `gorm:"column:application_id;primaryKey"`
	OwnerAccountID string    `gorm:"column:owner_account_id"`
	Name           string    `gorm:"column:name"`
	Secret         string    `gorm:"column:secret"`
	Version        string    `gorm:"column:version"`
	Status         string    `gorm:"column:status"`
	HWIDLock       bool      `gorm:"column:hwid_lock"`
	DownloadURL    string    `gorm:"column:download_url"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (applicationModel) TableName() string { return "applications" }

type licenseKeyModel struct {
	ApplicationID string     `gorm:"column:application_id;primaryKey"`
	Key           string     `gorm:"column:key;primaryKey"`
	Kind          string     `gorm:"column:kind"`
	Days          int        `gorm:"column:days"`
	Level         int        `gorm:"column:level"`
	Status        string     `gorm:"column:status"`
	HWID          *string    `gorm:"column:hwid"`
	ActivatedAt   *time.Time `gorm:"column:activated_at"`
	ExpiresAt     *time.Time `gorm:"column:expires_at"`
	AccountID     *string    `gorm:"column:account_id"`
	Components    *string    `gorm:"column:components;type:jsonb"`
	LastSeenAt    *time.Time `gorm:"column:last_seen_at"`
	Note          string     `gorm:"column:note"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
}

func (licenseKeyModel) TableName() string { return "license_keys" }

type accountModel struct {
	ID            string     `gorm:"column:account_id;primaryKey"`
	ApplicationID string     `gorm:"column:application_id"`
	Username      string     `gorm:"column:username"`
	PasswordHash  string     `gorm:"column:password_hash"`
	Role          string     `gorm:"column:role"`
	HWID          *string    `gorm:"column:hwid"`
	ExpiresAt     *time.Time `gorm:"column:expires_at"`
	Level         int        `gorm:"column:level"`
	Components    *string    `gorm:"column:components;type:jsonb"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	LastLoginAt   *time.Time `gorm:"column:last_login_at"`
	LastIP        string     `gorm:"column:last_ip"`
}

func (accountModel) TableName() string { return "accounts" }

type loginLogModel struct {
	ID            string    `gorm:"column:entry_id;primaryKey"`
	ApplicationID string    `gorm:"column:application_id"`
	Identifier    string    `gorm:"column:identifier"`
	HWID          string    `gorm:"column:hwid"`
	Components    *string   `gorm:"column:components;type:jsonb"`
	IP            string    `gorm:"column:ip"`
	At            time.Time `gorm:"column:at"`
}

func (loginLogModel) TableName() string { return "login_log" }

type auditOutboxModel struct {
	OutboxID       string     `gorm:"column:outbox_id;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (auditOutboxModel) TableName() string { return "audit_outbox" }

type idempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseBody   *string   `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "idempotency_keys" }
