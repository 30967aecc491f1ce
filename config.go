package tierauth

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/tierauth/password"
)

// Config is the full engine configuration. Build a value with DefaultConfig,
// fill in the secrets, and pass it to [Builder.WithConfig]. The engine keeps
// its own copy.
type Config struct {
	JWT         JWTConfig
	Crypto      CryptoConfig
	Password    PasswordConfig
	TOTP        TOTPConfig
	BackupCodes BackupCodeConfig
	DeviceTrust DeviceTrustConfig
	Guest       GuestConfig
	Security    SecurityConfig
	Store       StoreConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds the two HS256 signing secrets and token lifetimes.
type JWTConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Leeway        time.Duration
	Issuer        string
}

/*
====================================
CRYPTO CONFIG
====================================
*/

// CryptoConfig holds the codec key as 64 hex characters. It is never logged.
type CryptoConfig struct {
	KeyHex string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
	Policy         password.Policy
}

/*
====================================
TOTP CONFIG
====================================
*/

type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int // seconds
	Skew      int // steps either side of now
	Algorithm string
}

/*
====================================
BACKUP CODE CONFIG
====================================
*/

type BackupCodeConfig struct {
	Count        int
	Length       int
	LowThreshold int
}

/*
====================================
DEVICE TRUST CONFIG
====================================
*/

type DeviceTrustConfig struct {
	Enabled bool
	TTL     time.Duration
}

/*
====================================
GUEST CONFIG
====================================
*/

// GuestConfig controls the renewable guest window granted at registration,
// on demotion and on renewal.
type GuestConfig struct {
	AccessDuration time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls redis-backed throttles. Both are skipped when the
// engine is built without redis.
type SecurityConfig struct {
	EnableLoginThrottle bool
	MaxLoginAttempts    int
	LoginCooldown       time.Duration
	EnforceTierBudgets  bool
}

/*
====================================
STORE CONFIG
====================================
*/

type StoreConfig struct {
	OperationTimeout time.Duration
}

/*
====================================
AUDIT + METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults with empty secrets. It does not
// validate until JWT secrets and the crypto key are set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Leeway:     5 * time.Second,
			Issuer:     "tierauth",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			Policy:         password.DefaultPolicy(),
		},
		TOTP: TOTPConfig{
			Issuer:    "tierauth",
			Digits:    6,
			Period:    30,
			Skew:      1,
			Algorithm: "SHA1",
		},
		BackupCodes: BackupCodeConfig{
			Count:        10,
			Length:       10,
			LowThreshold: 3,
		},
		DeviceTrust: DeviceTrustConfig{
			Enabled: true,
			TTL:     7 * 24 * time.Hour,
		},
		Guest: GuestConfig{
			AccessDuration: 5 * time.Hour,
		},
		Security: SecurityConfig{
			EnableLoginThrottle: true,
			MaxLoginAttempts:    5,
			LoginCooldown:       15 * time.Minute,
			EnforceTierBudgets:  true,
		},
		Store: StoreConfig{
			OperationTimeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = cloneBytes(cfg.JWT.AccessSecret)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.AccessSecret) < 32 {
		return errors.New("JWT AccessSecret must be >= 32 bytes")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		return errors.New("JWT RefreshSecret must be >= 32 bytes")
	}
	if bytes.Equal(c.JWT.AccessSecret, c.JWT.RefreshSecret) {
		return errors.New("JWT AccessSecret and RefreshSecret must differ")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be > AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Crypto
	key, err := hex.DecodeString(c.Crypto.KeyHex)
	if err != nil || len(key) != 32 {
		return errors.New("Crypto KeyHex must be 64 hex characters")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.Policy.MinLength < 1 {
		return errors.New("Password Policy MinLength must be >= 1")
	}
	if c.Password.Policy.MaxLength != 0 && c.Password.Policy.MaxLength < c.Password.Policy.MinLength {
		return errors.New("Password Policy MaxLength must be >= MinLength")
	}

	// TOTP
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must be set")
	}
	if strings.Contains(c.TOTP.Issuer, ":") {
		return errors.New("TOTP Issuer must not contain ':'")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be between 0 and 3")
	}
	if _, err := hmacFunc(c.TOTP.Algorithm); err != nil {
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}

	// Backup codes
	if c.BackupCodes.Count <= 0 || c.BackupCodes.Count > 32 {
		return errors.New("BackupCodes Count must be between 1 and 32")
	}
	if c.BackupCodes.Length < 8 || c.BackupCodes.Length > 32 {
		return errors.New("BackupCodes Length must be between 8 and 32")
	}
	if c.BackupCodes.LowThreshold < 0 || c.BackupCodes.LowThreshold >= c.BackupCodes.Count {
		return errors.New("BackupCodes LowThreshold must be >= 0 and < Count")
	}

	// Device trust
	if c.DeviceTrust.Enabled && c.DeviceTrust.TTL <= 0 {
		return errors.New("DeviceTrust TTL must be > 0 when enabled")
	}

	// Guest
	if c.Guest.AccessDuration <= 0 {
		return errors.New("Guest AccessDuration must be > 0")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0")
		}
		if c.Security.LoginCooldown <= 0 {
			return errors.New("Security LoginCooldown must be > 0")
		}
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
