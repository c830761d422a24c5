package application

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/silkworks/keygate/internal/domain"
	"github.com/silkworks/keygate/internal/ports"
)

type fakeApplicationRepo struct {
	mu   sync.Mutex
	apps map[string]domain.Application
}

func newFakeApplicationRepo() *fakeApplicationRepo {
	return &fakeApplicationRepo{apps: map[string]domain.Application{}}
}

func (r *fakeApplicationRepo) Create(_ context.Context, app domain.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[app.ID]; ok {
		return domain.ErrConflict
	}
	r.apps[app.ID] = app
	return nil
}

func (r *fakeApplicationRepo) GetByID(_ context.Context, id string) (domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return domain.Application{}, domain.ErrNotFound
	}
	return app, nil
}

func (r *fakeApplicationRepo) GetByNameOwner(_ context.Context, name, ownerAccountID string) (domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, app := range r.apps {
		if app.Name == name && app.OwnerAccountID == ownerAccountID {
			return app, nil
		}
	}
	return domain.Application{}, domain.ErrNotFound
}

func (r *fakeApplicationRepo) SetStatus(_ context.Context, id string, status domain.AppStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return domain.ErrNotFound
	}
	app.Status = status
	r.apps[id] = app
	return nil
}

type fakeKeyRepo struct {
	mu   sync.Mutex
	keys map[string]domain.LicenseKey

	insertErr error
}

func newFakeKeyRepo() *fakeKeyRepo {
	return &fakeKeyRepo{keys: map[string]domain.LicenseKey{}}
}

func keyID(applicationID, key string) string {
	return applicationID + "/" + key
}

func (r *fakeKeyRepo) InsertBatch(_ context.Context, batch []domain.LicenseKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	for _, k := range batch {
		if _, ok := r.keys[keyID(k.ApplicationID, k.Key)]; ok {
			return domain.ErrConflict
		}
	}
	for _, k := range batch {
		r.keys[keyID(k.ApplicationID, k.Key)] = k
	}
	return nil
}

func (r *fakeKeyRepo) GetByAppAndKey(_ context.Context, applicationID, key string) (domain.LicenseKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[keyID(applicationID, key)]
	if !ok {
		return domain.LicenseKey{}, domain.ErrNotFound
	}
	return k, nil
}

func (r *fakeKeyRepo) ActivateIfUnused(_ context.Context, applicationID, key string, params ports.ActivationParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[keyID(applicationID, key)]
	if !ok {
		return false, domain.ErrNotFound
	}
	if k.Status != domain.KeyUnused {
		return false, nil
	}
	k.Status = domain.KeyActivated
	hwid := params.HWID
	k.HWID = &hwid
	at := params.ActivatedAt
	k.ActivatedAt = &at
	k.ExpiresAt = params.ExpiresAt
	r.keys[keyID(applicationID, key)] = k
	return true, nil
}

func (r *fakeKeyRepo) LinkAccount(_ context.Context, applicationID, key, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[keyID(applicationID, key)]
	if !ok {
		return domain.ErrNotFound
	}
	k.AccountID = &accountID
	r.keys[keyID(applicationID, key)] = k
	return nil
}

func (r *fakeKeyRepo) UpdateHWID(_ context.Context, applicationID, key, hwid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[keyID(applicationID, key)]
	if !ok {
		return domain.ErrNotFound
	}
	k.HWID = &hwid
	r.keys[keyID(applicationID, key)] = k
	return nil
}

func (r *fakeKeyRepo) UpdateComponents(_ context.Context, applicationID, key string, fp domain.ComponentFingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[keyID(applicationID, key)]
	if !ok {
		return domain.ErrNotFound
	}
	k.Components = &fp
	r.keys[keyID(applicationID, key)] = k
	return nil
}

func (r *fakeKeyRepo) TouchLastSeen(_ context.Context, applicationID, key string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[keyID(applicationID, key)]
	if !ok {
		return domain.ErrNotFound
	}
	k.LastSeenAt = &at
	r.keys[keyID(applicationID, key)] = k
	return nil
}

func (r *fakeKeyRepo) get(applicationID, key string) domain.LicenseKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys[keyID(applicationID, key)]
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]domain.Account

	createErr error
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: map[string]domain.Account{}}
}

func (r *fakeAccountRepo) Create(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.accounts {
		if existing.ApplicationID == account.ApplicationID && existing.Username == account.Username {
			return domain.ErrConflict
		}
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id string) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

func (r *fakeAccountRepo) GetByUsername(_ context.Context, applicationID, username string) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.ApplicationID == applicationID && account.Username == username {
			return account, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

func (r *fakeAccountRepo) UpdateHWID(_ context.Context, id, hwid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	account.HWID = &hwid
	r.accounts[id] = account
	return nil
}

func (r *fakeAccountRepo) UpdateComponents(_ context.Context, id string, fp domain.ComponentFingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	account.Components = &fp
	r.accounts[id] = account
	return nil
}

func (r *fakeAccountRepo) RecordLogin(_ context.Context, id string, at time.Time, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	account.LastLoginAt = &at
	account.LastIP = ip
	r.accounts[id] = account
	return nil
}

func (r *fakeAccountRepo) CountByApplication(_ context.Context, applicationID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, account := range r.accounts {
		if account.ApplicationID == applicationID {
			n++
		}
	}
	return n, nil
}

func (r *fakeAccountRepo) byUsername(applicationID, username string) (domain.Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.ApplicationID == applicationID && account.Username == username {
			return account, true
		}
	}
	return domain.Account{}, false
}

type fakeLoginLogRepo struct {
	mu      sync.Mutex
	entries []domain.LoginLogEntry
}

func (r *fakeLoginLogRepo) Append(_ context.Context, entry domain.LoginLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeLoginLogRepo) all() []domain.LoginLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.LoginLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

type fakeOutbox struct {
	mu         sync.Mutex
	events     []ports.AuditEvent
	enqueueErr error
}

func (o *fakeOutbox) Enqueue(_ context.Context, event ports.AuditEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enqueueErr != nil {
		return o.enqueueErr
	}
	o.events = append(o.events, event)
	return nil
}

func (o *fakeOutbox) ClaimUnpublished(context.Context, int, string, time.Time) ([]ports.AuditRecord, error) {
	return nil, nil
}

func (o *fakeOutbox) MarkPublished(context.Context, string, string, time.Time) error { return nil }

func (o *fakeOutbox) MarkFailed(context.Context, string, string, string, time.Time) error {
	return nil
}

func (o *fakeOutbox) MarkDeadLettered(context.Context, string, string, string, time.Time) error {
	return nil
}

func (o *fakeOutbox) eventTypes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	types := make([]string, 0, len(o.events))
	for _, e := range o.events {
		types = append(types, e.EventType)
	}
	return types
}

func (o *fakeOutbox) countOf(eventType string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type fakeIdempotencyRepo struct {
	mu      sync.Mutex
	records map[string]*ports.IdempotencyRecord
}

func newFakeIdempotencyRepo() *fakeIdempotencyRepo {
	return &fakeIdempotencyRepo{records: map[string]*ports.IdempotencyRecord{}}
}

func (r *fakeIdempotencyRepo) Get(_ context.Context, key string) (*ports.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key]
	if !ok {
		return nil, nil
	}
	out := *record
	return &out, nil
}

func (r *fakeIdempotencyRepo) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[key]; ok {
		return domain.ErrConflict
	}
	r.records[key] = &ports.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      "pending",
		ExpiresAt:   expiresAt,
	}
	return nil
}

func (r *fakeIdempotencyRepo) Complete(_ context.Context, key string, responseBody []byte, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key]
	if !ok {
		return domain.ErrNotFound
	}
	record.Status = "completed"
	record.ResponseBody = responseBody
	record.UpdatedAt = at
	return nil
}

type fakeThrottle struct {
	mu     sync.Mutex
	states map[string]ports.ThrottleState
}

func newFakeThrottle() *fakeThrottle {
	return &fakeThrottle{states: map[string]ports.ThrottleState{}}
}

func (t *fakeThrottle) Get(_ context.Context, key string) (ports.ThrottleState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[key], nil
}

func (t *fakeThrottle) RecordFailure(_ context.Context, key string, now time.Time, threshold int, blockWindow time.Duration) (ports.ThrottleState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.states[key]
	state.FailedCount++
	if state.FailedCount >= threshold {
		until := now.Add(blockWindow)
		state.BlockedUntil = &until
	}
	t.states[key] = state
	return state, nil
}

func (t *fakeThrottle) Clear(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
	return nil
}

// fakeHasher uses a reversible marker so tests stay fast and deterministic.
type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (fakeHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return fmt.Errorf("hash mismatch")
	}
	return nil
}

// fakeSigner encodes claims into a transparent token for assertions.
type fakeSigner struct{}

func (fakeSigner) Sign(claims ports.SessionClaims) (string, error) {
	return "token|" + claims.ApplicationID + "|" + claims.AccountID, nil
}

func (fakeSigner) ParseAndValidate(token string) (ports.SessionClaims, error) {
	parts := strings.Split(token, "|")
	if len(parts) != 3 || parts[0] != "token" {
		return ports.SessionClaims{}, fmt.Errorf("malformed token")
	}
	return ports.SessionClaims{ApplicationID: parts[1], AccountID: parts[2]}, nil
}

type fixture struct {
	svc      *Service
	apps     *fakeApplicationRepo
	keys     *fakeKeyRepo
	accounts *fakeAccountRepo
	loginLog *fakeLoginLogRepo
	outbox   *fakeOutbox
	idem     *fakeIdempotencyRepo
	throttle *fakeThrottle
	now      time.Time
}

func newFixture() *fixture {
	f := &fixture{
		apps:     newFakeApplicationRepo(),
		keys:     newFakeKeyRepo(),
		accounts: newFakeAccountRepo(),
		loginLog: &fakeLoginLogRepo{},
		outbox:   &fakeOutbox{},
		idem:     newFakeIdempotencyRepo(),
		throttle: newFakeThrottle(),
		now:      time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(Dependencies{
		Apps:        f.apps,
		Keys:        f.keys,
		Accounts:    f.accounts,
		LoginLog:    f.loginLog,
		AuditOutbox: f.outbox,
		Idempotency: f.idem,
		Throttle:    f.throttle,
		Hasher:      fakeHasher{},
		Signer:      fakeSigner{},
	})
	f.svc.nowFn = func() time.Time { return f.now }
	return f
}

func (f *fixture) seedApp(app domain.Application) domain.Application {
	if app.ID == "" {
		app.ID = "app-1"
	}
	if app.Status == "" {
		app.Status = domain.AppActive
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = f.now.Add(-24 * time.Hour)
	}
	f.apps.apps[app.ID] = app
	return app
}

func (f *fixture) seedAccount(account domain.Account) domain.Account {
	if account.ID == "" {
		account.ID = "acct-" + account.Username
	}
	if account.Role == "" {
		account.Role = domain.RoleUser
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = f.now.Add(-24 * time.Hour)
	}
	f.accounts.accounts[account.ID] = account
	return account
}

func (f *fixture) seedKey(key domain.LicenseKey) domain.LicenseKey {
	if key.Status == "" {
		key.Status = domain.KeyUnused
	}
	if key.Kind == "" {
		key.Kind = domain.KeyKindDays
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = f.now.Add(-time.Hour)
	}
	f.keys.keys[keyID(key.ApplicationID, key.Key)] = key
	return key
}

// privilegedToken returns a session token for a seeded admin account.
func (f *fixture) privilegedToken() string {
	admin := f.seedAccount(domain.Account{
		ID:            "acct-admin",
		ApplicationID: "app-1",
		Username:      "admin",
		PasswordHash:  "hashed:admin-pass",
		Role:          domain.RoleAdmin,
	})
	return "token|app-1|" + admin.ID
}
