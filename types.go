package tierauth

import (
	"context"
	"time"

	"github.com/MrEthical07/tierauth/policy"
)

// Role is the closed account role enum.
type Role = policy.Role

const (
	RoleGuest          = policy.Guest
	RoleSubscribedUser = policy.SubscribedUser
	RoleMaintainer     = policy.Maintainer
	RoleAdmin          = policy.Admin
	RoleOwner          = policy.Owner
)

// Account is the stored identity record.
//
// A GUEST always carries GuestAccessExpiresAt and every other role never
// does. The engine maintains this on every role transition.
type Account struct {
	ID                string
	Username          string
	Email             string // normalized, used for lookup
	EncryptedEmail    string // codec ciphertext, never used for lookup
	PasswordHash      string
	Role              Role
	EmailVerified     bool
	VerificationToken string // sha256 of the emailed token
	TwoFactorEnabled  bool
	TwoFactorSecret   string   // codec ciphertext of the base32 secret
	BackupCodes       []string // digests; nil until 2FA is enabled

	GuestAccessExpiresAt *time.Time
	LastLoginAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Profile is the caller-safe view of an Account.
type Profile struct {
	ID                   string
	Username             string
	Email                string
	Role                 Role
	EmailVerified        bool
	TwoFactorEnabled     bool
	GuestAccessExpiresAt *time.Time
	LastLoginAt          *time.Time
	CreatedAt            time.Time
}

func (a Account) profile() Profile {
	return Profile{
		ID:                   a.ID,
		Username:             a.Username,
		Email:                a.Email,
		Role:                 a.Role,
		EmailVerified:        a.EmailVerified,
		TwoFactorEnabled:     a.TwoFactorEnabled,
		GuestAccessExpiresAt: a.GuestAccessExpiresAt,
		LastLoginAt:          a.LastLoginAt,
		CreatedAt:            a.CreatedAt,
	}
}

// Field is an optional value in a partial update. The zero Field leaves the
// stored value untouched.
type Field[T any] struct {
	Value T
	Set   bool
}

// Assign returns a Field that overwrites the stored value with v.
func Assign[T any](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

// AccountUpdate is a partial update. An assigned empty string or nil pointer
// clears the column.
type AccountUpdate struct {
	PasswordHash         Field[string]
	Role                 Field[Role]
	EmailVerified        Field[bool]
	VerificationToken    Field[string]
	TwoFactorEnabled     Field[bool]
	TwoFactorSecret      Field[string]
	BackupCodes          Field[[]string]
	GuestAccessExpiresAt Field[*time.Time]
	LastLoginAt          Field[*time.Time]
}

// Apply copies every assigned field onto a.
func (u AccountUpdate) Apply(a *Account) {
	if u.PasswordHash.Set {
		a.PasswordHash = u.PasswordHash.Value
	}
	if u.Role.Set {
		a.Role = u.Role.Value
	}
	if u.EmailVerified.Set {
		a.EmailVerified = u.EmailVerified.Value
	}
	if u.VerificationToken.Set {
		a.VerificationToken = u.VerificationToken.Value
	}
	if u.TwoFactorEnabled.Set {
		a.TwoFactorEnabled = u.TwoFactorEnabled.Value
	}
	if u.TwoFactorSecret.Set {
		a.TwoFactorSecret = u.TwoFactorSecret.Value
	}
	if u.BackupCodes.Set {
		a.BackupCodes = cloneStrings(u.BackupCodes.Value)
	}
	if u.GuestAccessExpiresAt.Set {
		a.GuestAccessExpiresAt = cloneTime(u.GuestAccessExpiresAt.Value)
	}
	if u.LastLoginAt.Set {
		a.LastLoginAt = cloneTime(u.LastLoginAt.Value)
	}
}

// SubscriptionStatus is the lifecycle state of a Subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionPending   SubscriptionStatus = "PENDING"
)

// Valid reports whether s is one of the four known states.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionCancelled, SubscriptionExpired, SubscriptionPending:
		return true
	}
	return false
}

// Subscription links an account to a Service. CANCELLED is terminal; a new
// record is created to subscribe again.
type Subscription struct {
	ID                     string
	AccountID              string
	ServiceID              string
	Status                 SubscriptionStatus
	StartDate              time.Time
	CancelledAt            *time.Time
	ExternalCustomerID     string
	ExternalSubscriptionID string
	CreatedAt              time.Time
}

// Service is a purchasable tier as stored.
type Service struct {
	ID                string
	Name              string
	Description       string
	PriceCents        int64
	AllowedAlgorithms []string
	RateLimit         int
	RatePeriod        time.Duration
	IsActive          bool
	ExternalPriceID   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s Service) plan() policy.Plan {
	return policy.Plan{
		Name:       s.Name,
		Algorithms: s.AllowedAlgorithms,
		RateLimit:  s.RateLimit,
		RatePeriod: s.RatePeriod,
	}
}

// SubscriptionView pairs a subscription with its service.
type SubscriptionView struct {
	Subscription
	Service Service
}

// SubscriptionHistory is an account's full subscription record with status
// counts.
type SubscriptionHistory struct {
	Total         int
	Active        int
	Cancelled     int
	Expired       int
	Subscriptions []SubscriptionView
}

// APIKey is a stored API key. The raw key is never stored.
type APIKey struct {
	ID         string
	AccountID  string
	Name       string
	KeyHash    string
	KeyPrefix  string
	Revoked    bool
	UsageCount int64
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

// CreatedAPIKey is returned once at creation and is the only place the raw
// key appears.
type CreatedAPIKey struct {
	APIKey
	Key string
}

// TrustedDevice exempts one device token from the 2FA challenge until
// ExpiresAt.
type TrustedDevice struct {
	ID         string
	AccountID  string
	TokenHash  string
	ExpiresAt  time.Time
	LastUsedAt time.Time
	CreatedAt  time.Time
}

/*
====================================
STORES
====================================
*/

// AccountStore persists accounts. Lookups return ErrNotFound on a miss and
// Create returns ErrDuplicateResource on an email or username collision.
//
// The store keeps at least one OWNER: Delete of the only OWNER, and an
// Update moving the only OWNER to another role, fail with ErrLastOwner. The
// check and the write are atomic with respect to each other.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByUsername(ctx context.Context, username string) (Account, error)
	GetByVerificationToken(ctx context.Context, tokenHash string) (Account, error)
	Create(ctx context.Context, account Account) error
	Update(ctx context.Context, id string, update AccountUpdate) (Account, error)
	Delete(ctx context.Context, id string) error
	// ReconcileSubscriberRole brings the role in line with the account's
	// subscriptions as they stand at the time of the call: a GUEST holding an
	// ACTIVE subscription becomes SUBSCRIBED_USER with no guest expiry, and a
	// SUBSCRIBED_USER holding none becomes GUEST expiring at guestExpiresAt.
	// Other roles are left alone. It reports whether the role changed.
	// Concurrent calls for one account are serialized.
	ReconcileSubscriberRole(ctx context.Context, id string, guestExpiresAt time.Time) (Account, bool, error)
	// ReplaceBackupCodes swaps the stored set for next only if it still
	// equals expected, reporting whether the swap happened.
	ReplaceBackupCodes(ctx context.Context, id string, expected, next []string) (bool, error)
}

// SubscriptionStore persists subscriptions. Create must reject a second
// ACTIVE subscription for the same account with ErrDuplicateResource,
// atomically with respect to concurrent creates.
type SubscriptionStore interface {
	GetByID(ctx context.Context, id string) (Subscription, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]Subscription, error)
	ListByAccount(ctx context.Context, accountID string) ([]Subscription, error)
	Create(ctx context.Context, sub Subscription) error
	UpdateStatus(ctx context.Context, id string, status SubscriptionStatus, at time.Time) (Subscription, error)
}

// ServiceStore persists tiers. Upsert matches on Name.
type ServiceStore interface {
	GetByID(ctx context.Context, id string) (Service, error)
	GetByName(ctx context.Context, name string) (Service, error)
	List(ctx context.Context, activeOnly bool) ([]Service, error)
	Upsert(ctx context.Context, svc Service) (Service, error)
}

// APIKeyStore persists API keys. Names are unique per account among
// non-revoked keys.
type APIKeyStore interface {
	GetByID(ctx context.Context, id string) (APIKey, error)
	GetByHash(ctx context.Context, keyHash string) (APIKey, error)
	GetByAccountAndName(ctx context.Context, accountID, name string) (APIKey, error)
	ListByAccount(ctx context.Context, accountID string) ([]APIKey, error)
	Create(ctx context.Context, key APIKey) error
	Revoke(ctx context.Context, id string) error
	RecordUsage(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// TrustedDeviceStore persists device trust records.
type TrustedDeviceStore interface {
	Get(ctx context.Context, accountID, tokenHash string) (TrustedDevice, error)
	Create(ctx context.Context, device TrustedDevice) error
	Touch(ctx context.Context, accountID, tokenHash string, at time.Time) error
	DeleteAll(ctx context.Context, accountID string) (int, error)
}

// Stores bundles the persistence collaborators. All five are required.
type Stores struct {
	Accounts      AccountStore
	Subscriptions SubscriptionStore
	Services      ServiceStore
	APIKeys       APIKeyStore
	Devices       TrustedDeviceStore
}

// Mailer delivers transactional mail. Calls run off the request path and
// their errors are only logged.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, username, token string) error
	Send2FAEnabledEmail(ctx context.Context, email, username string) error
	SendSubscriptionEmail(ctx context.Context, email, username, planName string, priceCents int64) error
}

/*
====================================
REQUESTS + RESULTS
====================================
*/

type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// LoginRequest carries everything a login attempt may present. TwoFactorCode
// may be a TOTP code or a backup code.
type LoginRequest struct {
	Email          string
	Password       string
	TwoFactorCode  string
	DeviceToken    string
	RememberDevice bool
}

// LoginResult is the outcome of a successful login step. When
// RequiresTwoFactor is true no tokens are set and the caller must resubmit
// with a code.
type LoginResult struct {
	AccessToken       string
	RefreshToken      string
	RequiresTwoFactor bool

	DeviceToken     string
	DeviceExpiresAt time.Time

	UsedBackupCode       bool
	BackupCodesRemaining int
	BackupCodesLow       bool

	Profile Profile
}

// TokenPair is a fresh access and refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Principal is an authenticated caller.
type Principal struct {
	AccountID string
	Email     string
	Role      Role
	// APIKeyID is set when the caller authenticated with an API key.
	APIKeyID string
}

// TwoFactorSetup is returned by Setup2FA for the enrollment screen.
type TwoFactorSetup struct {
	Secret        string
	URI           string
	QRCodePNG     []byte
	QRCodeDataURL string
}

// BackupCodeStatus reports how many recovery codes remain.
type BackupCodeStatus struct {
	Remaining  int
	RunningLow bool
}

// DeviceGrant is a freshly remembered device. Token is shown once.
type DeviceGrant struct {
	Token     string
	ExpiresAt time.Time
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
