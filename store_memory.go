package tierauth

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// memoryState backs every in-memory store. A single mutex serializes all
// mutations, which is what makes the one-ACTIVE-subscription check, the
// last-OWNER guard, role reconciliation and the backup-code swap atomic.
type memoryState struct {
	mu sync.Mutex

	accounts      map[string]Account
	subscriptions map[string]Subscription
	services      map[string]Service
	apiKeys       map[string]APIKey
	devices       map[string]TrustedDevice // keyed by account id + token hash
}

// NewMemoryStores returns all five stores backed by process memory. They are
// safe for concurrent use and intended for tests and local development.
func NewMemoryStores() Stores {
	s := &memoryState{
		accounts:      make(map[string]Account),
		subscriptions: make(map[string]Subscription),
		services:      make(map[string]Service),
		apiKeys:       make(map[string]APIKey),
		devices:       make(map[string]TrustedDevice),
	}
	return Stores{
		Accounts:      (*memoryAccounts)(s),
		Subscriptions: (*memorySubscriptions)(s),
		Services:      (*memoryServices)(s),
		APIKeys:       (*memoryAPIKeys)(s),
		Devices:       (*memoryDevices)(s),
	}
}

func cloneAccount(a Account) Account {
	a.BackupCodes = cloneStrings(a.BackupCodes)
	a.GuestAccessExpiresAt = cloneTime(a.GuestAccessExpiresAt)
	a.LastLoginAt = cloneTime(a.LastLoginAt)
	return a
}

/*
====================================
ACCOUNTS
====================================
*/

type memoryAccounts memoryState

func (m *memoryAccounts) find(match func(Account) bool) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if match(a) {
			return cloneAccount(a), nil
		}
	}
	return Account{}, ErrNotFound
}

func (m *memoryAccounts) GetByID(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return cloneAccount(a), nil
}

func (m *memoryAccounts) GetByEmail(_ context.Context, email string) (Account, error) {
	return m.find(func(a Account) bool { return a.Email == email })
}

func (m *memoryAccounts) GetByUsername(_ context.Context, username string) (Account, error) {
	return m.find(func(a Account) bool { return a.Username == username })
}

func (m *memoryAccounts) GetByVerificationToken(_ context.Context, tokenHash string) (Account, error) {
	if tokenHash == "" {
		return Account{}, ErrNotFound
	}
	return m.find(func(a Account) bool { return a.VerificationToken == tokenHash })
}

func (m *memoryAccounts) Create(_ context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; ok {
		return ErrDuplicateResource
	}
	for _, a := range m.accounts {
		if a.Email == account.Email || a.Username == account.Username {
			return ErrDuplicateResource
		}
	}
	m.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (m *memoryAccounts) Update(_ context.Context, id string, update AccountUpdate) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if update.Role.Set && update.Role.Value != RoleOwner && m.lastOwner(a) {
		return Account{}, ErrLastOwner
	}
	update.Apply(&a)
	a.UpdatedAt = time.Now()
	m.accounts[id] = a
	return cloneAccount(a), nil
}

func (m *memoryAccounts) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if m.lastOwner(a) {
		return ErrLastOwner
	}
	delete(m.accounts, id)
	for keyID, k := range m.apiKeys {
		if k.AccountID == id {
			delete(m.apiKeys, keyID)
		}
	}
	for subID, s := range m.subscriptions {
		if s.AccountID == id {
			delete(m.subscriptions, subID)
		}
	}
	return nil
}

// lastOwner reports whether a is the only OWNER. Callers hold mu.
func (m *memoryAccounts) lastOwner(a Account) bool {
	if a.Role != RoleOwner {
		return false
	}
	for id, other := range m.accounts {
		if id != a.ID && other.Role == RoleOwner {
			return false
		}
	}
	return true
}

func (m *memoryAccounts) ReconcileSubscriberRole(_ context.Context, id string, guestExpiresAt time.Time) (Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, false, ErrNotFound
	}

	active := false
	for _, s := range m.subscriptions {
		if s.AccountID == id && s.Status == SubscriptionActive {
			active = true
			break
		}
	}

	switch {
	case a.Role == RoleGuest && active:
		a.Role = RoleSubscribedUser
		a.GuestAccessExpiresAt = nil
	case a.Role == RoleSubscribedUser && !active:
		a.Role = RoleGuest
		a.GuestAccessExpiresAt = &guestExpiresAt
	default:
		return cloneAccount(a), false, nil
	}
	a.UpdatedAt = time.Now()
	m.accounts[id] = a
	return cloneAccount(a), true, nil
}

func (m *memoryAccounts) ReplaceBackupCodes(_ context.Context, id string, expected, next []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return false, ErrNotFound
	}
	if !slices.Equal(a.BackupCodes, expected) {
		return false, nil
	}
	a.BackupCodes = cloneStrings(next)
	a.UpdatedAt = time.Now()
	m.accounts[id] = a
	return true, nil
}

/*
====================================
SUBSCRIPTIONS
====================================
*/

type memorySubscriptions memoryState

func (m *memorySubscriptions) GetByID(_ context.Context, id string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return s, nil
}

func (m *memorySubscriptions) list(accountID string, activeOnly bool) []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Subscription
	for _, s := range m.subscriptions {
		if s.AccountID != accountID || (activeOnly && s.Status != SubscriptionActive) {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Subscription) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (m *memorySubscriptions) ListActiveByAccount(_ context.Context, accountID string) ([]Subscription, error) {
	return m.list(accountID, true), nil
}

func (m *memorySubscriptions) ListByAccount(_ context.Context, accountID string) ([]Subscription, error) {
	return m.list(accountID, false), nil
}

func (m *memorySubscriptions) Create(_ context.Context, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[sub.ID]; ok {
		return ErrDuplicateResource
	}
	if sub.Status == SubscriptionActive {
		for _, s := range m.subscriptions {
			if s.AccountID == sub.AccountID && s.Status == SubscriptionActive {
				return ErrDuplicateResource
			}
		}
	}
	m.subscriptions[sub.ID] = sub
	return nil
}

func (m *memorySubscriptions) UpdateStatus(_ context.Context, id string, status SubscriptionStatus, at time.Time) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	s.Status = status
	if status == SubscriptionCancelled {
		s.CancelledAt = &at
	}
	m.subscriptions[id] = s
	return s, nil
}

/*
====================================
SERVICES
====================================
*/

type memoryServices memoryState

func (m *memoryServices) GetByID(_ context.Context, id string) (Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return Service{}, ErrNotFound
	}
	s.AllowedAlgorithms = cloneStrings(s.AllowedAlgorithms)
	return s, nil
}

func (m *memoryServices) GetByName(_ context.Context, name string) (Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.services {
		if s.Name == name {
			s.AllowedAlgorithms = cloneStrings(s.AllowedAlgorithms)
			return s, nil
		}
	}
	return Service{}, ErrNotFound
}

func (m *memoryServices) List(_ context.Context, activeOnly bool) ([]Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Service, 0, len(m.services))
	for _, s := range m.services {
		if activeOnly && !s.IsActive {
			continue
		}
		s.AllowedAlgorithms = cloneStrings(s.AllowedAlgorithms)
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Service) int {
		if c := cmp.Compare(a.PriceCents, b.PriceCents); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (m *memoryServices) Upsert(_ context.Context, svc Service) (Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc.AllowedAlgorithms = cloneStrings(svc.AllowedAlgorithms)
	for id, existing := range m.services {
		if existing.Name == svc.Name {
			svc.ID = id
			svc.CreatedAt = existing.CreatedAt
			m.services[id] = svc
			return svc, nil
		}
	}
	m.services[svc.ID] = svc
	return svc, nil
}

/*
====================================
API KEYS
====================================
*/

type memoryAPIKeys memoryState

func (m *memoryAPIKeys) GetByID(_ context.Context, id string) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return APIKey{}, ErrNotFound
	}
	return k, nil
}

func (m *memoryAPIKeys) GetByHash(_ context.Context, keyHash string) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.KeyHash == keyHash {
			return k, nil
		}
	}
	return APIKey{}, ErrNotFound
}

func (m *memoryAPIKeys) GetByAccountAndName(_ context.Context, accountID, name string) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.AccountID == accountID && k.Name == name && !k.Revoked {
			return k, nil
		}
	}
	return APIKey{}, ErrNotFound
}

func (m *memoryAPIKeys) ListByAccount(_ context.Context, accountID string) ([]APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []APIKey
	for _, k := range m.apiKeys {
		if k.AccountID == accountID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memoryAPIKeys) Create(_ context.Context, key APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.ID == key.ID || k.KeyHash == key.KeyHash {
			return ErrDuplicateResource
		}
		if k.AccountID == key.AccountID && k.Name == key.Name && !k.Revoked {
			return ErrDuplicateResource
		}
	}
	m.apiKeys[key.ID] = key
	return nil
}

func (m *memoryAPIKeys) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	k.Revoked = true
	m.apiKeys[id] = k
	return nil
}

func (m *memoryAPIKeys) RecordUsage(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	k.UsageCount++
	k.LastUsedAt = &at
	m.apiKeys[id] = k
	return nil
}

func (m *memoryAPIKeys) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apiKeys[id]; !ok {
		return ErrNotFound
	}
	delete(m.apiKeys, id)
	return nil
}

/*
====================================
TRUSTED DEVICES
====================================
*/

type memoryDevices memoryState

func deviceKey(accountID, tokenHash string) string {
	return accountID + "|" + tokenHash
}

func (m *memoryDevices) Get(_ context.Context, accountID, tokenHash string) (TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceKey(accountID, tokenHash)]
	if !ok {
		return TrustedDevice{}, ErrNotFound
	}
	return d, nil
}

func (m *memoryDevices) Create(_ context.Context, device TrustedDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deviceKey(device.AccountID, device.TokenHash)
	if _, ok := m.devices[key]; ok {
		return ErrDuplicateResource
	}
	m.devices[key] = device
	return nil
}

func (m *memoryDevices) Touch(_ context.Context, accountID, tokenHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deviceKey(accountID, tokenHash)
	d, ok := m.devices[key]
	if !ok {
		return ErrNotFound
	}
	d.LastUsedAt = at
	m.devices[key] = d
	return nil
}

func (m *memoryDevices) DeleteAll(_ context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, d := range m.devices {
		if d.AccountID == accountID {
			delete(m.devices, key)
			n++
		}
	}
	return n, nil
}
