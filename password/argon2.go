package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// ErrMalformedHash is returned by Compare and NeedsRehash for a stored value
// that is not an argon2id PHC string this package can check.
var ErrMalformedHash = errors.New("malformed password hash")

// Config holds the argon2id cost parameters. They are fixed per process;
// stored hashes carry their own parameters so old hashes keep verifying.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (c Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case c.Time < minTimeCost:
		return fmt.Errorf("password time must be >= %d", minTimeCost)
	case c.Parallelism < minParallelism:
		return fmt.Errorf("password parallelism must be >= %d", minParallelism)
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("password key length must be >= %d", minKeyLength)
	}
	return nil
}

// cost is the m,t,p section of a PHC string.
type cost struct {
	memory  uint32
	time    uint32
	threads uint8
}

func (c cost) String() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", c.memory, c.time, c.threads)
}

func (c cost) belowFloor() bool {
	return c.memory < minMemoryKB || c.time < minTimeCost || c.threads < minParallelism
}

// weakerThan reports whether any knob of c is below the same knob of want.
func (c cost) weakerThan(want cost) bool {
	return c.memory < want.memory || c.time < want.time || c.threads < want.threads
}

func (c cost) derive(password string, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, c.time, c.memory, c.threads, keyLen)
}

// storedHash is a decoded PHC string.
type storedHash struct {
	cost
	salt []byte
	key  []byte
}

// Hasher produces and checks argon2id PHC strings.
type Hasher struct {
	config Config
	cost   cost
}

// NewHasher validates cfg against minimum cost floors.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Hasher{
		config: cfg,
		cost:   cost{memory: cfg.Memory, time: cfg.Time, threads: cfg.Parallelism},
	}, nil
}

// Hash salts and hashes password. The password bytes are used as given, with
// no normalization and no policy check; policy belongs to registration.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	return encodePHC(h.cost, salt, h.cost.derive(password, salt, h.config.KeyLength)), nil
}

// Compare reports whether password matches encodedHash. The digest
// comparison is constant time. A malformed hash is an ErrMalformedHash
// error, not a mismatch.
func (h *Hasher) Compare(password, encodedHash string) (bool, error) {
	stored, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	computed := stored.derive(password, stored.salt, uint32(len(stored.key)))
	return subtle.ConstantTimeCompare(computed, stored.key) == 1, nil
}

// NeedsRehash reports whether encodedHash was produced with weaker
// parameters than the hasher's current config.
func (h *Hasher) NeedsRehash(encodedHash string) (bool, error) {
	stored, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return stored.weakerThan(h.cost) || uint32(len(stored.key)) != h.config.KeyLength, nil
}

func encodePHC(c cost, salt, key []byte) string {
	return fmt.Sprintf("$%s$v=%d$%s$%s$%s",
		algorithmID,
		argon2.Version,
		c,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedHash, fmt.Sprintf(format, args...))
}

// decodePHC parses $argon2id$v=19$m=..,t=..,p=..$salt$key. The version and
// cost sections must be in canonical form, so trailing junk or reordered
// parameters are rejected. Salt and key may be padded or unpadded base64.
func decodePHC(encoded string) (storedHash, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return storedHash{}, malformed("want 5 $-separated fields")
	}
	if fields[1] != algorithmID {
		return storedHash{}, malformed("unsupported algorithm %q", fields[1])
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || fmt.Sprintf("v=%d", version) != fields[2] {
		return storedHash{}, malformed("bad version field %q", fields[2])
	}
	if version != argon2.Version {
		return storedHash{}, malformed("unsupported argon2 version %d", version)
	}

	var c cost
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &c.memory, &c.time, &c.threads); err != nil || c.String() != fields[3] {
		return storedHash{}, malformed("bad cost field %q", fields[3])
	}
	if c.belowFloor() {
		return storedHash{}, malformed("cost %s below minimum", c)
	}

	salt, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(fields[4], "="))
	if err != nil || len(salt) < int(minSaltLength) {
		return storedHash{}, malformed("bad salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(fields[5], "="))
	if err != nil || len(key) == 0 {
		return storedHash{}, malformed("bad key")
	}

	return storedHash{cost: c, salt: salt, key: key}, nil
}
