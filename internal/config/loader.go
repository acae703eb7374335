package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

const (
	envPrefix = "POP_"
	envFile   = "POP_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if POP_CONFIG is set
//  3. env (prefix POP_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// POP_QUEUE_SIZE -> queue_size; keys stay flat to match the struct tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "pop_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Addr == "":
		return fail("addr must not be empty")
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverPostgres:
		return fail("unknown store_driver %q", c.StoreDriver)
	case c.StoreDriver == DriverPostgres && c.DatabaseURL == "":
		return fail("database_url is required for the postgres store")
	case c.ChainDriver != DriverSimulated && c.ChainDriver != DriverSolana:
		return fail("unknown chain_driver %q", c.ChainDriver)
	case c.ChainDriver == DriverSolana && c.SolanaRPCURL == "":
		return fail("solana_rpc_url is required for the solana chain")
	case c.ChainDriver == DriverSolana && c.SolanaCommitment != "confirmed" && c.SolanaCommitment != "finalized":
		return fail("solana_commitment must be confirmed or finalized")
	case c.ChainDriver == DriverSolana && c.PayerKeypairFile == "" && c.PayerSecretName == "":
		return fail("payer_keypair_file or payer_secret_name is required for the solana chain")
	case c.TreeMinDepth < 1 || c.TreeMaxDepth < c.TreeMinDepth || c.TreeMaxDepth > 30:
		return fail("tree depth bounds [%d, %d] are invalid", c.TreeMinDepth, c.TreeMaxDepth)
	case c.TreeMaxBuffer < 8:
		return fail("tree_max_buffer must be at least 8")
	case c.ShardCount < 1:
		return fail("shard_count must be positive")
	case c.MaxIssueBatch < 1:
		return fail("max_issue_batch must be positive")
	case c.ReconcileWorkers < 1 || c.ReconcileQueueSize < 1:
		return fail("reconcile pool must have workers and queue capacity")
	case c.SubmitTimeoutMS < 1 || c.ConfirmTimeoutMS < 1:
		return fail("submit_timeout_ms and confirm_timeout_ms must be positive")
	case c.BlockhashTTLMS <= c.SubmitTimeoutMS+c.ConfirmTimeoutMS:
		// A transaction still landable after confirm gives up would be reported as dropped.
		return fail("blockhash_ttl_ms must exceed submit_timeout_ms + confirm_timeout_ms")
	case c.AttemptLeaseTTLMS <= c.SubmitTimeoutMS:
		return fail("attempt_lease_ttl_ms must exceed submit_timeout_ms")
	case c.MetricsRefreshIntervalMS < 1:
		return fail("metrics_refresh_interval_ms must be positive")
	case !increasing(c.MetricsHistogramBuckets):
		return fail("metrics_histogram_buckets must be in increasing order")
	case c.SimLatencyMaxMS < c.SimLatencyMinMS:
		return fail("sim_latency_max_ms must not be below sim_latency_min_ms")
	}
	for _, r := range []float64{c.SimSubmitFailureRate, c.SimUnknownRate, c.SimProvisionFailRate} {
		if r < 0 || r > 1 {
			return fail("simulated failure rates must be within [0, 1]")
		}
	}
	if _, _, _, err := c.Costs(); err != nil {
		return err
	}
	return nil
}

// increasing reports whether every bucket bound exceeds the one before it.
func increasing(b []float64) bool {
	for i := 1; i < len(b); i++ {
		if b[i] <= b[i-1] {
			return false
		}
	}
	return true
}

// Costs parses the cost constants.
func (c *Config) Costs() (regular, compressed, tree decimal.Decimal, err error) {
	parse := func(name, v string) (decimal.Decimal, error) {
		d, perr := decimal.NewFromString(v)
		if perr != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, perr)
		}
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
		return d, nil
	}
	if regular, err = parse("regular_mint_cost", c.RegularMintCost); err != nil {
		return
	}
	if compressed, err = parse("compressed_mint_cost", c.CompressedMintCost); err != nil {
		return
	}
	tree, err = parse("tree_creation_cost", c.TreeCreationCost)
	return
}
