package vref

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Config configures a Space, resolved once at Open the way
// valuelocmap.resolveConfig and ValuesStoreOpts resolve theirs: an
// envPrefix-scoped set of environment variables supplies defaults, each
// overridable by an Opt passed to Open.
type Config struct {
	// Logger receives structured diagnostics from the writer/GC thread.
	// Defaults to a no-op zap logger; see log.go.
	Logger *zap.Logger

	// TickInterval bounds how long the writer accumulates a batch before
	// forcing a commit.
	TickInterval time.Duration

	// DurabilityGrace is the small additional wait the writer allows a
	// durability-requiring item to gather batch-mates before committing.
	DurabilityGrace time.Duration

	// GCBatchSize is the maximum number of refct0 entries popped and
	// processed per writer batch, bounding incremental GC cost to
	// O(batch size).
	GCBatchSize int

	// AddressChunkSize is how many addresses the writer reserves from
	// the persisted counter per round-trip, amortizing allocation across
	// many vref calls.
	AddressChunkSize int

	// CacheWeightLimit is a soft hint, not a hard cap, guiding how
	// aggressively the eviction sweep clears cached slots. Zero disables
	// weight-based pressure entirely (only policy timeouts apply).
	CacheWeightLimit uint64

	// EphemeronShards controls how many lock shards each ephemeron table
	// uses (see ephemeron.New), analogous to valuelocmap's OptCores.
	EphemeronShards int
}

// Opt mutates a Config during resolution.
type Opt func(*Config)

// OptLogger overrides the Space's logger.
func OptLogger(l *zap.Logger) Opt { return func(c *Config) { c.Logger = l } }

// OptTickInterval overrides the writer's batch tick.
func OptTickInterval(d time.Duration) Opt { return func(c *Config) { c.TickInterval = d } }

// OptGCBatchSize overrides K, the per-batch incremental GC budget.
func OptGCBatchSize(n int) Opt { return func(c *Config) { c.GCBatchSize = n } }

// OptCacheWeightLimit overrides the soft cache weight hint.
func OptCacheWeightLimit(n uint64) Opt { return func(c *Config) { c.CacheWeightLimit = n } }

const envPrefix = "VREF_"

func resolveConfig(opts ...Opt) *Config {
	cfg := &Config{}
	if env := os.Getenv(envPrefix + "TICK_INTERVAL_MS"); env != "" {
		if ms, err := strconv.Atoi(env); err == nil {
			cfg.TickInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Millisecond
	}
	if env := os.Getenv(envPrefix + "DURABILITY_GRACE_MS"); env != "" {
		if ms, err := strconv.Atoi(env); err == nil {
			cfg.DurabilityGrace = time.Duration(ms) * time.Millisecond
		}
	}
	if cfg.DurabilityGrace <= 0 {
		cfg.DurabilityGrace = time.Millisecond
	}
	if env := os.Getenv(envPrefix + "GC_BATCH_SIZE"); env != "" {
		if n, err := strconv.Atoi(env); err == nil {
			cfg.GCBatchSize = n
		}
	}
	if cfg.GCBatchSize <= 0 {
		cfg.GCBatchSize = 1024
	}
	if env := os.Getenv(envPrefix + "ADDRESS_CHUNK_SIZE"); env != "" {
		if n, err := strconv.Atoi(env); err == nil {
			cfg.AddressChunkSize = n
		}
	}
	if cfg.AddressChunkSize <= 0 {
		cfg.AddressChunkSize = 512
	}
	if env := os.Getenv(envPrefix + "EPHEMERON_SHARDS"); env != "" {
		if n, err := strconv.Atoi(env); err == nil {
			cfg.EphemeronShards = n
		}
	}
	if cfg.EphemeronShards <= 0 {
		cfg.EphemeronShards = 64
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}
