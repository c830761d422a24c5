package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/silkworks/keygate/internal/application"
	"github.com/silkworks/keygate/internal/domain"
	"github.com/silkworks/keygate/internal/ports"
)

// memStore backs every repository port with one mutex-guarded map set so
// handler tests can run against the real service wiring.
type memStore struct {
	mu       sync.Mutex
	apps     map[string]domain.Application
	keys     map[string]domain.LicenseKey
	accounts map[string]domain.Account
	entries  []domain.LoginLogEntry
	events   []ports.AuditEvent
	idem     map[string]*ports.IdempotencyRecord
	throttle map[string]ports.ThrottleState
}

func newMemStore() *memStore {
	return &memStore{
		apps:     map[string]domain.Application{},
		keys:     map[string]domain.LicenseKey{},
		accounts: map[string]domain.Account{},
		idem:     map[string]*ports.IdempotencyRecord{},
		throttle: map[string]ports.ThrottleState{},
	}
}

func (s *memStore) keyID(applicationID, key string) string { return applicationID + "/" + key }

func (s *memStore) Create(_ context.Context, app domain.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.ID] = app
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return domain.Application{}, domain.ErrNotFound
	}
	return app, nil
}

func (s *memStore) GetByNameOwner(_ context.Context, name, owner string) (domain.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, app := range s.apps {
		if app.Name == name && app.OwnerAccountID == owner {
			return app, nil
		}
	}
	return domain.Application{}, domain.ErrNotFound
}

func (s *memStore) SetStatus(_ context.Context, id string, status domain.AppStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return domain.ErrNotFound
	}
	app.Status = status
	s.apps[id] = app
	return nil
}

type memKeys struct{ *memStore }

func (s memKeys) InsertBatch(_ context.Context, batch []domain.LicenseKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range batch {
		s.keys[s.keyID(k.ApplicationID, k.Key)] = k
	}
	return nil
}

func (s memKeys) GetByAppAndKey(_ context.Context, applicationID, key string) (domain.LicenseKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[s.keyID(applicationID, key)]
	if !ok {
		return domain.LicenseKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (s memKeys) ActivateIfUnused(_ context.Context, applicationID, key string, params ports.ActivationParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[s.keyID(applicationID, key)]
	if !ok {
		return false, domain.ErrNotFound
	}
	if k.Status != domain.KeyUnused {
		return false, nil
	}
	k.Status = domain.KeyActivated
	hwid := params.HWID
	at := params.ActivatedAt
	k.HWID, k.ActivatedAt, k.ExpiresAt = &hwid, &at, params.ExpiresAt
	s.keys[s.keyID(applicationID, key)] = k
	return true, nil
}

func (s memKeys) LinkAccount(_ context.Context, applicationID, key, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.keys[s.keyID(applicationID, key)]
	k.AccountID = &accountID
	s.keys[s.keyID(applicationID, key)] = k
	return nil
}

func (s memKeys) UpdateHWID(_ context.Context, applicationID, key, hwid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.keyID(applicationID, key)
	k, ok := s.keys[id]
	if !ok {
		return domain.ErrNotFound
	}
	k.HWID = &hwid
	s.keys[id] = k
	return nil
}

func (s memKeys) UpdateComponents(_ context.Context, applicationID, key string, fp domain.ComponentFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.keyID(applicationID, key)
	k, ok := s.keys[id]
	if !ok {
		return domain.ErrNotFound
	}
	k.Components = &fp
	s.keys[id] = k
	return nil
}

func (s memKeys) TouchLastSeen(_ context.Context, applicationID, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.keyID(applicationID, key)
	k, ok := s.keys[id]
	if !ok {
		return domain.ErrNotFound
	}
	k.LastSeenAt = &at
	s.keys[id] = k
	return nil
}

type memAccounts struct{ *memStore }

func (s memAccounts) Create(_ context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
	return nil
}

func (s memAccounts) GetByID(_ context.Context, id string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

func (s memAccounts) GetByUsername(_ context.Context, applicationID, username string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.ApplicationID == applicationID && account.Username == username {
			return account, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

func (s memAccounts) UpdateHWID(_ context.Context, id, hwid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	account.HWID = &hwid
	s.accounts[id] = account
	return nil
}

func (s memAccounts) UpdateComponents(_ context.Context, id string, fp domain.ComponentFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	account.Components = &fp
	s.accounts[id] = account
	return nil
}

func (s memAccounts) RecordLogin(_ context.Context, id string, at time.Time, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	account.LastLoginAt = &at
	account.LastIP = ip
	s.accounts[id] = account
	return nil
}

func (s memAccounts) CountByApplication(_ context.Context, applicationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, account := range s.accounts {
		if account.ApplicationID == applicationID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) Append(_ context.Context, entry domain.LoginLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memStore) Enqueue(_ context.Context, event ports.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) ClaimUnpublished(context.Context, int, string, time.Time) ([]ports.AuditRecord, error) {
	return nil, nil
}
func (s *memStore) MarkPublished(context.Context, string, string, time.Time) error { return nil }
func (s *memStore) MarkFailed(context.Context, string, string, string, time.Time) error {
	return nil
}
func (s *memStore) MarkDeadLettered(context.Context, string, string, string, time.Time) error {
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (*ports.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.idem[key]
	if !ok {
		return nil, nil
	}
	out := *record
	return &out, nil
}

func (s *memStore) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idem[key]; ok {
		return domain.ErrConflict
	}
	s.idem[key] = &ports.IdempotencyRecord{Key: key, RequestHash: requestHash, Status: "pending", ExpiresAt: expiresAt}
	return nil
}

func (s *memStore) Complete(_ context.Context, key string, responseBody []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.idem[key]
	if !ok {
		return domain.ErrNotFound
	}
	record.Status = "completed"
	record.ResponseBody = responseBody
	record.UpdatedAt = at
	return nil
}

type memThrottle struct{ *memStore }

func (s memThrottle) Get(_ context.Context, key string) (ports.ThrottleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttle[key], nil
}

func (s memThrottle) RecordFailure(_ context.Context, key string, now time.Time, threshold int, blockWindow time.Duration) (ports.ThrottleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.throttle[key]
	state.FailedCount++
	if state.FailedCount >= threshold {
		until := now.Add(blockWindow)
		state.BlockedUntil = &until
	}
	s.throttle[key] = state
	return state, nil
}

func (s memThrottle) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.throttle, key)
	return nil
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "h:" + password, nil }
func (plainHasher) Compare(hash, password string) error {
	if hash != "h:"+password {
		return fmt.Errorf("mismatch")
	}
	return nil
}

type plainSigner struct{}

func (plainSigner) Sign(claims ports.SessionClaims) (string, error) {
	return "t|" + claims.ApplicationID + "|" + claims.AccountID, nil
}
func (plainSigner) ParseAndValidate(token string) (ports.SessionClaims, error) {
	parts := strings.Split(token, "|")
	if len(parts) != 3 || parts[0] != "t" {
		return ports.SessionClaims{}, fmt.Errorf("malformed token")
	}
	return ports.SessionClaims{ApplicationID: parts[1], AccountID: parts[2]}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memStore) {
	t.Helper()
	store := newMemStore()
	svc := application.NewService(application.Dependencies{
		Apps:        store,
		Keys:        memKeys{store},
		Accounts:    memAccounts{store},
		LoginLog:    store,
		AuditOutbox: store,
		Idempotency: store,
		Throttle:    memThrottle{store},
		Hasher:      plainHasher{},
		Signer:      plainSigner{},
	})
	srv := httptest.NewServer(NewRouter(NewHandler(svc)))
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, payload
}

func seedTestApp(store *memStore) {
	store.apps["app-1"] = domain.Application{
		ID:             "app-1",
		OwnerAccountID: "owner-1",
		Name:           "screener",
		Secret:         "s3cret",
		Version:        "1.4.0",
		Status:         domain.AppActive,
		HWIDLock:       true,
		DownloadURL:    "https://dl.example.com/screener",
	}
}

func TestInitEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedTestApp(store)

	status, payload := postJSON(t, srv.URL+"/v1/init", map[string]any{
		"name": "screener", "ownerid": "owner-1", "secret": "s3cret", "version": "1.4.0",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, payload)
	}
	if payload["success"] != true || payload["session_id"] == "" {
		t.Fatalf("payload = %v", payload)
	}
	appInfo, _ := payload["app_info"].(map[string]any)
	if appInfo["version"] != "1.4.0" {
		t.Fatalf("app_info = %v", appInfo)
	}
}

func TestInitEndpointVersionMismatch(t *testing.T) {
	srv, store := newTestServer(t)
	seedTestApp(store)

	status, payload := postJSON(t, srv.URL+"/v1/init", map[string]any{
		"name": "screener", "ownerid": "owner-1", "secret": "s3cret", "version": "1.3.0",
	}, nil)
	if status != http.StatusUpgradeRequired {
		t.Fatalf("status = %d, want 426", status)
	}
	if payload["success"] != false || payload["download"] != "https://dl.example.com/screener" {
		t.Fatalf("payload = %v", payload)
	}
	if _, ok := payload["session_id"]; ok {
		t.Fatal("a stale client must never receive a session id")
	}
}

func TestLicenseEndpointLifecycle(t *testing.T) {
	srv, store := newTestServer(t)
	seedTestApp(store)
	store.keys["app-1/SC-AAAA-BBBB"] = domain.LicenseKey{
		Key: "SC-AAAA-BBBB", ApplicationID: "app-1",
		Kind: domain.KeyKindDays, Days: 30, Level: 2,
		Status: domain.KeyUnused,
	}

	status, payload := postJSON(t, srv.URL+"/v1/license", map[string]any{
		"appId": "app-1", "key": "SC-AAAA-BBBB", "hwid": "H1",
	}, nil)
	if status != http.StatusOK || payload["success"] != true {
		t.Fatalf("first redeem: status = %d, payload = %v", status, payload)
	}
	info, _ := payload["info"].(map[string]any)
	timeleft, _ := info["timeleft"].(float64)
	if timeleft < 29*86400 || timeleft > 31*86400 {
		t.Fatalf("timeleft = %v, want about 30 days", info["timeleft"])
	}

	// A second machine gets the same opaque denial as any auth failure.
	status, payload = postJSON(t, srv.URL+"/v1/license", map[string]any{
		"appId": "app-1", "key": "SC-AAAA-BBBB", "hwid": "H2",
	}, nil)
	if status != http.StatusForbidden || payload["code"] != "ACCESS_DENIED" {
		t.Fatalf("mismatch redeem: status = %d, payload = %v", status, payload)
	}

	status, payload = postJSON(t, srv.URL+"/v1/license", map[string]any{
		"appId": "app-1", "key": "SC-AAAA-BBBB", "hwid": "H1",
	}, nil)
	if status != http.StatusOK || payload["success"] != true {
		t.Fatalf("repeat redeem: status = %d, payload = %v", status, payload)
	}
}

func TestLoginEndpointOpaqueDenials(t *testing.T) {
	srv, store := newTestServer(t)
	seedTestApp(store)
	h1 := "H1"
	store.accounts["acct-1"] = domain.Account{
		ID: "acct-1", ApplicationID: "app-1", Username: "alice",
		PasswordHash: "h:pw", HWID: &h1, Role: domain.RoleUser,
	}

	// Wrong password and wrong hardware must be indistinguishable on the wire.
	status1, payload1 := postJSON(t, srv.URL+"/v1/login", map[string]any{
		"appId": "app-1", "username": "alice", "password": "wrong", "hwid": "H1",
	}, nil)
	status2, payload2 := postJSON(t, srv.URL+"/v1/login", map[string]any{
		"appId": "app-1", "username": "alice", "password": "pw", "hwid": "H2",
	}, nil)
	if status1 != http.StatusForbidden || status2 != http.StatusForbidden {
		t.Fatalf("statuses = %d, %d, want 403 both", status1, status2)
	}
	if payload1["code"] != payload2["code"] || payload1["message"] != payload2["message"] {
		t.Fatalf("denials differ: %v vs %v", payload1, payload2)
	}

	status, payload := postJSON(t, srv.URL+"/v1/login", map[string]any{
		"appId": "app-1", "username": "alice", "password": "pw", "hwid": "H1",
	}, nil)
	if status != http.StatusOK || payload["success"] != true {
		t.Fatalf("login: status = %d, payload = %v", status, payload)
	}
	info, _ := payload["info"].(map[string]any)
	if info["username"] != "alice" {
		t.Fatalf("info = %v", info)
	}
}

func TestHWIDEndpointNotFound(t *testing.T) {
	srv, store := newTestServer(t)
	seedTestApp(store)

	status, payload := postJSON(t, srv.URL+"/v1/hwid", map[string]any{
		"appId": "app-1", "key": "SC-MISSING", "hwid": "H2",
	}, nil)
	if status != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("status = %d, payload = %v", status, payload)
	}
}

func TestGenerateKeysEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedTestApp(store)
	store.accounts["acct-admin"] = domain.Account{
		ID: "acct-admin", ApplicationID: "app-1", Username: "admin", Role: domain.RoleAdmin,
	}

	body := map[string]any{"appId": "app-1", "count": 5, "days": 30, "mask": "SC-****-****", "level": 2}

	status, payload := postJSON(t, srv.URL+"/v1/keys/generate", body, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("without bearer: status = %d, payload = %v", status, payload)
	}

	headers := map[string]string{"Authorization": "Bearer t|app-1|acct-admin"}
	status, payload = postJSON(t, srv.URL+"/v1/keys/generate", body, headers)
	if status != http.StatusCreated || payload["success"] != true {
		t.Fatalf("status = %d, payload = %v", status, payload)
	}
	keys, _ := payload["keys"].([]any)
	if len(keys) != 5 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/v1/login", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
	}
}
