package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrEthical07/tierauth"
	"github.com/MrEthical07/tierauth/logging"
	"github.com/MrEthical07/tierauth/policy"
	"github.com/MrEthical07/tierauth/store/postgres"
	"github.com/MrEthical07/tierauth/store/redisdevice"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

var errNoDatabase = errors.New("database URL is required (--database-url or TIERAUTH_DATABASE_URL)")

func newLogger(v *viper.Viper, w io.Writer) *slog.Logger {
	return logging.New(logging.Config{
		Level:   v.GetString("log.level"),
		Format:  v.GetString("log.format"),
		Writer:  w,
		Service: "tierauthctl",
		Version: version,
	})
}

func loadCatalog(v *viper.Viper) (*policy.Catalog, error) {
	reg, err := tierauth.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	path := v.GetString("catalog.path")
	if path == "" {
		return policy.DefaultCatalog(reg)
	}
	return policy.LoadCatalogFile(path, reg)
}

// engineConfig maps the jwt, crypto and password keys onto the engine
// defaults.
func engineConfig(v *viper.Viper) tierauth.Config {
	cfg := tierauth.DefaultConfig()
	cfg.JWT.AccessSecret = []byte(v.GetString("jwt.access_secret"))
	cfg.JWT.RefreshSecret = []byte(v.GetString("jwt.refresh_secret"))
	if issuer := v.GetString("jwt.issuer"); issuer != "" {
		cfg.JWT.Issuer = issuer
	}
	cfg.Crypto.KeyHex = v.GetString("crypto.key_hex")
	if mem := v.GetUint32("password.memory_kb"); mem > 0 {
		cfg.Password.Memory = mem
	}
	if t := v.GetUint32("password.time"); t > 0 {
		cfg.Password.Time = t
	}
	if p := v.GetUint("password.parallelism"); p > 0 && p <= 255 {
		cfg.Password.Parallelism = uint8(p)
	}
	return cfg
}

// backend is the set of stores and clients a command opened. close releases
// all of them.
type backend struct {
	stores tierauth.Stores
	redis  redis.UniversalClient
	close  func()
}

func openBackend(ctx context.Context, v *viper.Viper, dev bool) (*backend, error) {
	if dev {
		return &backend{stores: tierauth.NewMemoryStores(), close: func() {}}, nil
	}

	url := v.GetString("database.url")
	if url == "" {
		return nil, errNoDatabase
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: url})
	if err != nil {
		return nil, err
	}
	b := &backend{stores: postgres.New(pool), close: pool.Close}

	if addr := v.GetString("redis.addr"); addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			pool.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.redis = client
		b.stores.Devices = redisdevice.New(client, v.GetString("redis.prefix"))
		b.close = func() {
			_ = client.Close()
			pool.Close()
		}
	}
	return b, nil
}

func buildEngine(v *viper.Viper, b *backend, logger *slog.Logger) (*tierauth.Engine, error) {
	catalog, err := loadCatalog(v)
	if err != nil {
		return nil, err
	}
	builder := tierauth.New().
		WithConfig(engineConfig(v)).
		WithStores(b.stores).
		WithCatalog(catalog).
		WithLogger(logger)
	if b.redis != nil {
		builder = builder.WithRedis(b.redis)
	}
	return builder.Build()
}
