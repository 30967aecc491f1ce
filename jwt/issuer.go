package jwt

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/MrEthical07/tierauth/codec"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is the only error surfaced by verification. Signature,
// expiry, decryption and decoding failures all collapse into it.
var ErrInvalidToken = errors.New("invalid or expired token")

const minSecretBytes = 32

// Config holds the signing material and lifetimes for both token kinds.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration

	// Clock overrides time.Now for issuance and expiry checks.
	Clock func() time.Time
}

// Claims is the identity carried inside every token.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type envelope struct {
	Data string `json:"data"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens. It is safe for concurrent use.
type Issuer struct {
	config Config
	codec  *codec.Codec
	parser *jwt.Parser
}

// NewIssuer validates cfg and binds the codec used to seal payloads.
func NewIssuer(cfg Config, c *codec.Codec) (*Issuer, error) {
	if c == nil {
		return nil, errors.New("jwt issuer requires a codec")
	}
	if len(cfg.AccessSecret) < minSecretBytes || len(cfg.RefreshSecret) < minSecretBytes {
		return nil, errors.New("jwt secrets must be at least 32 bytes")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.Clock),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}

	return &Issuer{config: cfg, codec: c, parser: jwt.NewParser(options...)}, nil
}

// IssueAccess returns a short-lived access token for claims.
func (i *Issuer) IssueAccess(claims Claims) (string, error) {
	return i.issue(claims, i.config.AccessSecret, i.config.AccessTTL)
}

// IssueRefresh returns a long-lived refresh token for claims.
func (i *Issuer) IssueRefresh(claims Claims) (string, error) {
	return i.issue(claims, i.config.RefreshSecret, i.config.RefreshTTL)
}

// VerifyAccess checks an access token and returns its decrypted claims.
func (i *Issuer) VerifyAccess(token string) (Claims, error) {
	return i.verify(token, i.config.AccessSecret)
}

// VerifyRefresh checks a refresh token and returns its decrypted claims.
func (i *Issuer) VerifyRefresh(token string) (Claims, error) {
	return i.verify(token, i.config.RefreshSecret)
}

// AccessTTL reports the configured access lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.config.AccessTTL }

func (i *Issuer) issue(claims Claims, secret []byte, ttl time.Duration) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	sealed, err := i.codec.Encrypt(string(payload))
	if err != nil {
		return "", err
	}

	now := i.config.Clock()
	env := envelope{
		Data: sealed,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    i.config.Issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, env).SignedString(secret)
}

func (i *Issuer) verify(tokenStr string, secret []byte) (Claims, error) {
	env := &envelope{}
	token, err := i.parser.ParseWithClaims(tokenStr, env, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid || env.Data == "" {
		return Claims{}, ErrInvalidToken
	}

	plain, err := i.codec.Decrypt(env.Data)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal([]byte(plain), &claims); err != nil || claims.UserID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
