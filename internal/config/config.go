// Package config defines service configuration and its loading.
//
// Values are layered: defaults from New, then an optional YAML file, then
// environment variables. Durations are plain integers in milliseconds.
package config

import (
	"runtime"
	"time"
)

// Store and chain drivers.
const (
	DriverMemory    = "memory"
	DriverPostgres  = "postgres"
	DriverSimulated = "simulated"
	DriverSolana    = "solana"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// ShutdownTimeoutMS bounds graceful shutdown.
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`

	// StoreDriver selects the claim ledger backend: memory or postgres.
	StoreDriver string `koanf:"store_driver"`
	// DatabaseURL is the postgres DSN used when StoreDriver is postgres.
	DatabaseURL string `koanf:"database_url"`
	// ShardCount configures the number of shards of the memory store.
	ShardCount int `koanf:"shard_count"`

	// ChainDriver selects the ledger backend: simulated or solana.
	ChainDriver string `koanf:"chain_driver"`
	// SolanaRPCURL is the JSON-RPC endpoint, e.g. https://api.devnet.solana.com.
	SolanaRPCURL string `koanf:"solana_rpc_url"`
	// SolanaCommitment is the commitment treated as confirmed: confirmed or finalized.
	SolanaCommitment string `koanf:"solana_commitment"`
	// PayerKeypairFile is a JSON keypair file paying for trees and mints.
	PayerKeypairFile string `koanf:"payer_keypair_file"`
	// PayerSecretName is a Secret Manager version holding the payer keypair.
	// It takes precedence over PayerKeypairFile.
	PayerSecretName string `koanf:"payer_secret_name"`
	// ConfirmPollMS is the signature status polling interval.
	ConfirmPollMS int `koanf:"confirm_poll_ms"`

	// TreeMinDepth, TreeMaxDepth and TreeMaxBuffer bound provisioned trees.
	TreeMinDepth  int `koanf:"tree_min_depth"`
	TreeMaxDepth  int `koanf:"tree_max_depth"`
	TreeMaxBuffer int `koanf:"tree_max_buffer"`

	// Cost constants in native currency, as decimal strings.
	RegularMintCost    string `koanf:"regular_mint_cost"`
	CompressedMintCost string `koanf:"compressed_mint_cost"`
	TreeCreationCost   string `koanf:"tree_creation_cost"`

	// ClaimBaseURL prefixes the claim links handed to attendees.
	ClaimBaseURL string `koanf:"claim_base_url"`
	// TokenSymbol is written into every token's metadata.
	TokenSymbol string `koanf:"token_symbol"`
	// MaxIssueBatch caps the number of codes issued per request.
	MaxIssueBatch int `koanf:"max_issue_batch"`
	// MaxListLimit caps list endpoints.
	MaxListLimit int `koanf:"max_list_limit"`

	// Timeouts of ledger round trips.
	ProvisionTimeoutMS int `koanf:"provision_timeout_ms"`
	SubmitTimeoutMS    int `koanf:"submit_timeout_ms"`
	ConfirmTimeoutMS   int `koanf:"confirm_timeout_ms"`

	// BlockhashTTLMS is how long a submitted but unseen transaction may still land.
	BlockhashTTLMS int `koanf:"blockhash_ttl_ms"`
	// AttemptLeaseTTLMS is how long an in-flight attempt holds a claim
	// before the sweeper releases it.
	AttemptLeaseTTLMS int `koanf:"attempt_lease_ttl_ms"`

	// Reconciliation pool.
	ReconcileWorkers   int `koanf:"reconcile_workers"`
	ReconcileQueueSize int `koanf:"reconcile_queue_size"`
	SweepIntervalMS    int `koanf:"sweep_interval_ms"`

	// OrganizerTokenHashes are bcrypt hashes of accepted organizer bearer
	// tokens. Organizer endpoints are open when empty.
	OrganizerTokenHashes []string `koanf:"organizer_token_hashes"`

	// Metrics exposed on /healthz. Buckets apply to store and HTTP latency;
	// the refresh interval paces the polled gauges.
	MetricsEnabled           bool      `koanf:"metrics_enabled"`
	MetricsNamespace         string    `koanf:"metrics_namespace"`
	MetricsSubsystem         string    `koanf:"metrics_subsystem"`
	MetricsHistogramBuckets  []float64 `koanf:"metrics_histogram_buckets"`
	MetricsRefreshIntervalMS int       `koanf:"metrics_refresh_interval_ms"`

	// Simulated chain behaviour.
	SimLatencyMinMS      int     `koanf:"sim_latency_min_ms"`
	SimLatencyMaxMS      int     `koanf:"sim_latency_max_ms"`
	SimSubmitFailureRate float64 `koanf:"sim_submit_failure_rate"`
	SimUnknownRate       float64 `koanf:"sim_unknown_rate"`
	SimProvisionFailRate float64 `koanf:"sim_provision_fail_rate"`
}

// New creates a Config with defaults suitable for local runs.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		ShutdownTimeoutMS:  10_000,
		StoreDriver:        DriverMemory,
		ShardCount:         8,
		ChainDriver:        DriverSimulated,
		SolanaRPCURL:       "https://api.devnet.solana.com",
		SolanaCommitment:   "confirmed",
		ConfirmPollMS:      500,
		TreeMinDepth:       3,
		TreeMaxDepth:       14,
		TreeMaxBuffer:      64,
		RegularMintCost:    "0.01",
		CompressedMintCost: "0.000005",
		TreeCreationCost:   "0.00232",
		ClaimBaseURL:       "https://ctoken.pop/claim",
		TokenSymbol:        "POP",
		MaxIssueBatch:      10_000,
		MaxListLimit:       1_000,
		ProvisionTimeoutMS: 60_000,
		SubmitTimeoutMS:    15_000,
		ConfirmTimeoutMS:   45_000,
		BlockhashTTLMS:     180_000,
		AttemptLeaseTTLMS:  120_000,
		ReconcileWorkers:   runtime.NumCPU(),
		ReconcileQueueSize: 10_000,
		SweepIntervalMS:    30_000,
		SimLatencyMinMS:    20,
		SimLatencyMaxMS:    80,

		MetricsEnabled:           true,
		MetricsNamespace:         "popclaim",
		MetricsSubsystem:         "claims",
		MetricsRefreshIntervalMS: 10_000,
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// MetricsRefreshInterval paces the gauge updaters.
func (c *Config) MetricsRefreshInterval() time.Duration { return ms(c.MetricsRefreshIntervalMS) }

// ShutdownTimeout returns the graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration { return ms(c.ShutdownTimeoutMS) }

// ProvisionTimeout returns the tree provisioning bound.
func (c *Config) ProvisionTimeout() time.Duration { return ms(c.ProvisionTimeoutMS) }

// SubmitTimeout returns the mint submission bound.
func (c *Config) SubmitTimeout() time.Duration { return ms(c.SubmitTimeoutMS) }

// ConfirmTimeout returns the confirmation wait bound.
func (c *Config) ConfirmTimeout() time.Duration { return ms(c.ConfirmTimeoutMS) }

// ConfirmPoll returns the status polling interval.
func (c *Config) ConfirmPoll() time.Duration { return ms(c.ConfirmPollMS) }

// BlockhashTTL returns the landing window of a submitted transaction.
func (c *Config) BlockhashTTL() time.Duration { return ms(c.BlockhashTTLMS) }

// AttemptLeaseTTL returns the in-flight lease duration.
func (c *Config) AttemptLeaseTTL() time.Duration { return ms(c.AttemptLeaseTTLMS) }

// SweepInterval returns the reconciliation sweep period.
func (c *Config) SweepInterval() time.Duration { return ms(c.SweepIntervalMS) }
