package policy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Tier is one purchasable (or guest) plan as written in the catalog file.
type Tier struct {
	Key             string        `yaml:"key"`
	Name            string        `yaml:"name"`
	Description     string        `yaml:"description"`
	PriceCents      int64         `yaml:"price_cents"`
	Guest           bool          `yaml:"guest"`
	Algorithms      []string      `yaml:"algorithms"`
	RateLimit       int           `yaml:"rate_limit"`
	RatePeriod      time.Duration `yaml:"rate_period"`
	ExternalPriceID string        `yaml:"external_price_id,omitempty"`
}

// CompiledTier is a Tier with its allow-list resolved to a mask.
type CompiledTier struct {
	Tier
	Capabilities CapabilitySet
}

// Catalog is an immutable, validated set of tiers.
type Catalog struct {
	registry *Registry
	tiers    []CompiledTier
	byKey    map[string]int
	byName   map[string]int
	guest    int
}

type catalogFile struct {
	Tiers []Tier `yaml:"tiers"`
}

// DefaultCatalog returns the built-in GUEST, BASIC, PRO and ENTERPRISE tiers.
func DefaultCatalog(reg *Registry) (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML, reg)
}

// LoadCatalogFile reads and validates a YAML catalog from path.
func LoadCatalogFile(path string, reg *Registry) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f, reg)
}

// LoadCatalog reads and validates a YAML catalog.
func LoadCatalog(r io.Reader, reg *Registry) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data, reg)
}

// ParseCatalog decodes data strictly and compiles every tier against reg.
func ParseCatalog(data []byte, reg *Registry) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(file.Tiers, reg)
}

// NewCatalog validates tiers and compiles their allow-lists.
func NewCatalog(tiers []Tier, reg *Registry) (*Catalog, error) {
	if reg == nil {
		return nil, errors.New("catalog requires a registry")
	}
	if len(tiers) == 0 {
		return nil, errors.New("catalog has no tiers")
	}

	c := &Catalog{
		registry: reg,
		tiers:    make([]CompiledTier, 0, len(tiers)),
		byKey:    make(map[string]int, len(tiers)),
		byName:   make(map[string]int, len(tiers)),
		guest:    -1,
	}

	for i, t := range tiers {
		t.Key = strings.ToUpper(strings.TrimSpace(t.Key))
		t.Name = strings.TrimSpace(t.Name)
		if err := validateTier(t); err != nil {
			return nil, fmt.Errorf("tier %d: %w", i, err)
		}
		if _, dup := c.byKey[t.Key]; dup {
			return nil, fmt.Errorf("tier %s: duplicate key", t.Key)
		}
		if _, dup := c.byName[t.Name]; dup {
			return nil, fmt.Errorf("tier %s: duplicate name %q", t.Key, t.Name)
		}

		caps, err := reg.Compile(t.Algorithms)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", t.Key, err)
		}

		if t.Guest {
			if c.guest >= 0 {
				return nil, fmt.Errorf("tier %s: more than one guest tier", t.Key)
			}
			c.guest = len(c.tiers)
		}
		c.byKey[t.Key] = len(c.tiers)
		c.byName[t.Name] = len(c.tiers)
		c.tiers = append(c.tiers, CompiledTier{Tier: t, Capabilities: caps})
	}

	if c.guest < 0 {
		return nil, errors.New("catalog has no guest tier")
	}
	return c, nil
}

func validateTier(t Tier) error {
	switch {
	case t.Key == "":
		return errors.New("key is required")
	case t.Name == "":
		return errors.New("name is required")
	case len(t.Algorithms) == 0:
		return errors.New("at least one algorithm is required")
	case t.PriceCents < 0:
		return errors.New("price must not be negative")
	case t.Guest && t.PriceCents != 0:
		return errors.New("guest tier must be free")
	case t.RateLimit <= 0:
		return errors.New("rate_limit must be positive")
	case t.RatePeriod <= 0:
		return errors.New("rate_period must be positive")
	}
	return nil
}

// Registry returns the registry the catalog was compiled against.
func (c *Catalog) Registry() *Registry { return c.registry }

// Tiers returns every tier in file order.
func (c *Catalog) Tiers() []CompiledTier {
	return append([]CompiledTier(nil), c.tiers...)
}

// Tier looks a tier up by key.
func (c *Catalog) Tier(key string) (CompiledTier, bool) {
	i, ok := c.byKey[strings.ToUpper(key)]
	if !ok {
		return CompiledTier{}, false
	}
	return c.tiers[i], true
}

// TierByName looks a tier up by display name, which is also the service name.
func (c *Catalog) TierByName(name string) (CompiledTier, bool) {
	i, ok := c.byName[name]
	if !ok {
		return CompiledTier{}, false
	}
	return c.tiers[i], true
}

// Guest returns the guest tier.
func (c *Catalog) Guest() CompiledTier {
	return c.tiers[c.guest]
}
