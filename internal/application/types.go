package application

import (
	"time"

	"github.com/silkworks/keygate/internal/domain"
)

// InitRequest authenticates a client binary against its application record.
type InitRequest struct {
	Name          string `json:"name"`
	OwnerID       string `json:"ownerid"`
	Secret        string `json:"secret"`
	ClientVersion string `json:"version"`
}

type InitResponse struct {
	SessionID     string `json:"session_id"`
	ApplicationID string `json:"appId"`
	NumUsers      int64  `json:"numUsers"`
	Version       string `json:"version"`
}

type LoginRequest struct {
	ApplicationID string `json:"appId"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	HWID          string `json:"hwid"`
	IPAddress     string `json:"-"`
}

// AccountInfo is the caller-visible slice of an account after a successful
// credential login.
type AccountInfo struct {
	Username    string
	Level       int
	ExpiresAt   *time.Time
	TimeLeft    int64
	Lifetime    bool
	HWID        string
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

type LoginResponse struct {
	Account AccountInfo
	Token   string
}

type RedeemRequest struct {
	ApplicationID string `json:"appId"`
	Key           string `json:"key"`
	HWID          string `json:"hwid"`
	IPAddress     string `json:"-"`
}

// LicenseInfo is the entitlement summary returned by key redemption.
type LicenseInfo struct {
	Key       string
	Username  string
	Level     int
	ExpiresAt *time.Time
	TimeLeft  int64
	Lifetime  bool
}

type UpdateHWIDRequest struct {
	ApplicationID string `json:"appId"`
	Key           string `json:"key"`
	HWID          string `json:"hwid"`
}

type ComponentsRequest struct {
	ApplicationID string `json:"appId"`
	Key           string `json:"key"`
	HWID          string `json:"hwid"`
	GPU           string `json:"gpu"`
	Motherboard   string `json:"motherboard"`
	CPU           string `json:"cpu"`
}

type ComponentsResponse struct {
	Previous *domain.ComponentFingerprint
	Current  domain.ComponentFingerprint
}

type LogLoginRequest struct {
	ApplicationID string                       `json:"appId"`
	Identifier    string                       `json:"username_or_key"`
	HWID          string                       `json:"hwid"`
	Components    *domain.ComponentFingerprint `json:"-"`
	IPAddress     string                       `json:"-"`
}

type GenerateKeysRequest struct {
	ApplicationID string `json:"appId"`
	Count         int    `json:"count"`
	Days          int    `json:"days"`
	Mask          string `json:"mask"`
	Level         int    `json:"level"`
	Note          string `json:"note"`
}

type GenerateKeysResponse struct {
	Keys []string `json:"keys"`
}

type CreateApplicationRequest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	DownloadURL string `json:"download"`
	HWIDLock    *bool  `json:"hwid_lock"`
}

type CreateApplicationResponse struct {
	Application domain.Application
}

type SetApplicationStatusRequest struct {
	ApplicationID string `json:"appId"`
	Status        string `json:"status"`
}
