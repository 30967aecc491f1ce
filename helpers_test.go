package tierauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "Correct-Horse-9"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingMailer struct {
	mu            sync.Mutex
	verifications map[string]string
	twoFactor     []string
	subscriptions []string
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{verifications: make(map[string]string)}
}

func (m *recordingMailer) SendVerificationEmail(_ context.Context, email, _ string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[email] = token
	return nil
}

func (m *recordingMailer) Send2FAEnabledEmail(_ context.Context, email, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.twoFactor = append(m.twoFactor, email)
	return nil
}

func (m *recordingMailer) SendSubscriptionEmail(_ context.Context, email, _ string, planName string, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, email+"|"+planName)
	return nil
}

func (m *recordingMailer) verificationToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifications[email]
}

type testEnv struct {
	engine   *Engine
	stores   Stores
	clock    *testClock
	mailer   *recordingMailer
	redis    *miniredis.Miniredis
	services map[string]Service
}

type envSettings struct {
	config    Config
	withRedis bool
	sink      AuditSink
	wrap      func(Stores) Stores
}

type envOption func(*envSettings)

func withRedis() envOption {
	return func(s *envSettings) { s.withRedis = true }
}

func withConfig(mutate func(*Config)) envOption {
	return func(s *envSettings) { mutate(&s.config) }
}

func withAuditSink(sink AuditSink) envOption {
	return func(s *envSettings) { s.sink = sink }
}

func withStoreWrapper(wrap func(Stores) Stores) envOption {
	return func(s *envSettings) { s.wrap = wrap }
}

func newTestEnv(t testing.TB, opts ...envOption) *testEnv {
	t.Helper()

	settings := envSettings{config: validTestConfig()}
	settings.config.Metrics.Enabled = true
	for _, opt := range opts {
		opt(&settings)
	}

	env := &testEnv{
		stores: NewMemoryStores(),
		clock:  newTestClock(),
		mailer: newRecordingMailer(),
	}
	if settings.wrap != nil {
		env.stores = settings.wrap(env.stores)
	}

	b := New().
		WithConfig(settings.config).
		WithStores(env.stores).
		WithMailer(env.mailer).
		WithClock(env.clock.Now)
	if settings.sink != nil {
		b.WithAuditSink(settings.sink)
	}
	if settings.withRedis {
		env.redis = miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: env.redis.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		b.WithRedis(rdb)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine

	services, err := engine.SyncServices(context.Background())
	if err != nil {
		t.Fatalf("SyncServices failed: %v", err)
	}
	env.services = make(map[string]Service, len(services))
	for _, svc := range services {
		env.services[svc.Name] = svc
	}
	return env
}

// createAccount stores a verified account with testPassword directly,
// bypassing registration.
func (env *testEnv) createAccount(t testing.TB, username string, role Role) Account {
	t.Helper()

	hash, err := env.engine.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	now := env.clock.Now()
	account := Account{
		ID:            env.engine.newID(),
		Username:      username,
		Email:         username + "@example.com",
		PasswordHash:  hash,
		Role:          role,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if role == RoleGuest {
		account.GuestAccessExpiresAt = env.engine.guestExpiry()
	}
	if err := env.stores.Accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("create account failed: %v", err)
	}
	return account
}

func (env *testEnv) account(t testing.TB, id string) Account {
	t.Helper()
	a, err := env.stores.Accounts.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load account %s: %v", id, err)
	}
	return a
}

func (env *testEnv) subscribe(t testing.TB, accountID, serviceName string) SubscriptionView {
	t.Helper()
	svc, ok := env.services[serviceName]
	if !ok {
		t.Fatalf("unknown service %q", serviceName)
	}
	view, err := env.engine.SubscribeToService(context.Background(), accountID, svc.ID)
	if err != nil {
		t.Fatalf("SubscribeToService failed: %v", err)
	}
	return view
}

// enable2FA enrolls accountID and returns the base32 secret and the backup
// codes shown at enrollment.
func (env *testEnv) enable2FA(t testing.TB, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := env.engine.Setup2FA(ctx, accountID)
	if err != nil {
		t.Fatalf("Setup2FA failed: %v", err)
	}
	codes, err := env.engine.Enable2FA(ctx, accountID, env.totpCode(t, setup.Secret))
	if err != nil {
		t.Fatalf("Enable2FA failed: %v", err)
	}
	return setup.Secret, codes
}

func (env *testEnv) totpCode(t testing.TB, secret string) string {
	t.Helper()
	code, err := env.engine.totp.codeAt(secret, env.clock.Now())
	if err != nil {
		t.Fatalf("codeAt failed: %v", err)
	}
	return code
}

// failingAccounts wraps an AccountStore and fails every call with err once
// armed.
type failingAccounts struct {
	AccountStore
	mu  sync.Mutex
	err error
}

func (f *failingAccounts) arm(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *failingAccounts) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *failingAccounts) GetByID(ctx context.Context, id string) (Account, error) {
	if err := f.failure(); err != nil {
		return Account{}, err
	}
	return f.AccountStore.GetByID(ctx, id)
}

func (f *failingAccounts) GetByEmail(ctx context.Context, email string) (Account, error) {
	if err := f.failure(); err != nil {
		return Account{}, err
	}
	return f.AccountStore.GetByEmail(ctx, email)
}

// hookedAccounts runs a one-shot hook ahead of the next call to a named
// store operation, which lets a test land one engine call inside another.
type hookedAccounts struct {
	AccountStore
	mu    sync.Mutex
	hooks map[string]func()
}

func hookAccounts(target **hookedAccounts) envOption {
	return withStoreWrapper(func(s Stores) Stores {
		h := &hookedAccounts{AccountStore: s.Accounts, hooks: make(map[string]func())}
		*target = h
		s.Accounts = h
		return s
	})
}

func (h *hookedAccounts) before(op string, hook func()) {
	h.mu.Lock()
	h.hooks[op] = hook
	h.mu.Unlock()
}

func (h *hookedAccounts) fire(op string) {
	h.mu.Lock()
	hook := h.hooks[op]
	delete(h.hooks, op)
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (h *hookedAccounts) Update(ctx context.Context, id string, update AccountUpdate) (Account, error) {
	h.fire("update")
	return h.AccountStore.Update(ctx, id, update)
}

func (h *hookedAccounts) Delete(ctx context.Context, id string) error {
	h.fire("delete")
	return h.AccountStore.Delete(ctx, id)
}

func (h *hookedAccounts) ReconcileSubscriberRole(ctx context.Context, id string, guestExpiresAt time.Time) (Account, bool, error) {
	h.fire("reconcile")
	return h.AccountStore.ReconcileSubscriberRole(ctx, id, guestExpiresAt)
}
