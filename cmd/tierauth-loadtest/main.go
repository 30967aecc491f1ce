// Command tierauth-loadtest drives an in-process engine through the login,
// token authentication and algorithm execution paths and prints latency
// percentiles per phase.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tierauth"
	"github.com/MrEthical07/tierauth/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const loadPassword = "Load-Test-Pass-1"

func main() {
	var (
		accounts    = flag.Int("accounts", 500, "number of guest accounts to seed and log in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (authenticate + execute)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		algorithm   = flag.String("algorithm", "dataAnalysis", "algorithm to execute")
		budgets     = flag.Bool("enforce-budgets", false, "apply tier request budgets during the execute phase")
		memoryKB    = flag.Uint("argon2-memory", 8*1024, "argon2 memory in KiB")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := tierauth.DefaultConfig()
	cfg.JWT.AccessSecret = randomSecret()
	cfg.JWT.RefreshSecret = randomSecret()
	cfg.Crypto.KeyHex = hex.EncodeToString(randomSecret()[:32])
	cfg.Password.Memory = uint32(*memoryKB)
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Security.EnableLoginThrottle = false
	cfg.Security.EnforceTierBudgets = *budgets
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	stores := tierauth.NewMemoryStores()
	engine, err := tierauth.New().
		WithConfig(cfg).
		WithStores(stores).
		WithRedis(client).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d accounts...\n", *accounts)
	startSeed := time.Now()
	emails, err := seedAccounts(ctx, stores, cfg, *accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	type session struct {
		accountID string
		token     string
	}
	sessions := make([]session, len(emails))

	loginStats := runPhase(len(emails), *concurrency, func(_ *mrand.Rand, i int) error {
		res, err := engine.Login(ctx, tierauth.LoginRequest{Email: emails[i], Password: loadPassword})
		if err != nil {
			return err
		}
		sessions[i] = session{accountID: res.Profile.ID, token: res.AccessToken}
		return nil
	})

	authStats := runPhase(*ops, *concurrency, func(r *mrand.Rand, _ int) error {
		s := sessions[r.Intn(len(sessions))]
		if s.token == "" {
			return tierauth.ErrInvalidToken
		}
		_, err := engine.Authenticate(ctx, s.token)
		return err
	})

	input := []byte(`{"numbers":[3,1,4,1,5,9,2,6,5,3,5]}`)
	execStats := runPhase(*ops, *concurrency, func(r *mrand.Rand, _ int) error {
		s := sessions[r.Intn(len(sessions))]
		_, err := engine.ExecuteAlgorithm(ctx, s.accountID, *algorithm, input)
		return err
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("authenticate", authStats)
	printStats("execute", execStats)

	snapshot := engine.MetricsSnapshot()
	fmt.Printf("engine: executed=%d denied=%d budget_exceeded=%d token_rejected=%d\n",
		snapshot.Counters[tierauth.MetricAlgorithmExecuted],
		snapshot.Counters[tierauth.MetricAlgorithmDenied],
		snapshot.Counters[tierauth.MetricTierBudgetExceeded],
		snapshot.Counters[tierauth.MetricTokenRejected],
	)
}

// seedAccounts writes verified guest accounts straight to the store. Every
// account shares one hash so seeding does not pay argon2 per account.
func seedAccounts(ctx context.Context, stores tierauth.Stores, cfg tierauth.Config, n int) ([]string, error) {
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expires := now.Add(cfg.Guest.AccessDuration)
	emails := make([]string, n)
	for i := 0; i < n; i++ {
		emails[i] = fmt.Sprintf("load-%d@example.com", i)
		err := stores.Accounts.Create(ctx, tierauth.Account{
			ID:                   uuid.NewString(),
			Username:             fmt.Sprintf("load%d", i),
			Email:                emails[i],
			PasswordHash:         hash,
			Role:                 tierauth.RoleGuest,
			EmailVerified:        true,
			GuestAccessExpiresAt: &expires,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
		if err != nil {
			return nil, err
		}
	}
	return emails, nil
}

func runPhase(ops, concurrency int, op func(r *mrand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func randomSecret() []byte {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}
