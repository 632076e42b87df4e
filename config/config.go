package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Required environment keys. The loader reports every missing key in a
// single error so operators see all problems at once.
const (
	EnvDatabaseURL     = "DATABASE_URL"
	EnvRedisURL        = "REDIS_URL"
	EnvRPC             = "RPC"
	EnvSignerKey       = "SIGNER_PRIVATE_KEY"
	EnvProofContractID = "PROOF_CONTRACT_ID"
	EnvProofModuleID   = "PROOF_MODULE_ID"
)

// Optional environment keys
const (
	EnvQueueKey          = "PROOF_QUEUE_KEY"
	EnvMaxAttempts       = "MAX_ATTEMPTS"
	EnvLedgerTimeout     = "LEDGER_TIMEOUT_SECONDS"
	EnvVisibilityTimeout = "VISIBILITY_TIMEOUT_SECONDS"
	EnvLedgerNetwork     = "LEDGER_NETWORK"
)

// Defaults and clamp bounds for numeric parameters. A value outside its
// range is clamped, a value that fails to parse falls back to the default.
const (
	DefaultQueueKey = "proof_jobs"
	DefaultNetwork  = "mainnet"

	DefaultMaxAttempts = 3
	MinMaxAttempts     = 1
	MaxMaxAttempts     = 10

	DefaultLedgerTimeoutSec = 60
	MinLedgerTimeoutSec     = 5
	MaxLedgerTimeoutSec     = 300

	DefaultVisibilitySec = 300
	MinVisibilitySec     = 60
	MaxVisibilitySec     = 3600
)

// ConfigurationError is fatal at startup; the process must not start.
type ConfigurationError struct {
	MissingKeys []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.MissingKeys, ", "))
}

// Config is the fully resolved, immutable worker configuration.
type Config struct {
	DatabaseURL     string
	RedisURL        string
	LedgerRPC       string
	SignerKey       string
	ProofContractID string
	ProofModuleID   string

	QueueKey          string
	MaxAttempts       int
	LedgerTimeout     time.Duration
	VisibilityTimeout time.Duration
	Network           string
}

// Load resolves the configuration from the environment. It returns a
// *ConfigurationError naming every absent required key.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault(EnvQueueKey, DefaultQueueKey)
	v.SetDefault(EnvLedgerNetwork, DefaultNetwork)

	var missing []string
	require := func(key string) string {
		val := v.GetString(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	cfg := &Config{
		DatabaseURL:     require(EnvDatabaseURL),
		RedisURL:        require(EnvRedisURL),
		LedgerRPC:       require(EnvRPC),
		SignerKey:       require(EnvSignerKey),
		ProofContractID: require(EnvProofContractID),
		ProofModuleID:   require(EnvProofModuleID),

		QueueKey:          v.GetString(EnvQueueKey),
		MaxAttempts:       intInRange(v, EnvMaxAttempts, DefaultMaxAttempts, MinMaxAttempts, MaxMaxAttempts),
		LedgerTimeout:     time.Duration(intInRange(v, EnvLedgerTimeout, DefaultLedgerTimeoutSec, MinLedgerTimeoutSec, MaxLedgerTimeoutSec)) * time.Second,
		VisibilityTimeout: time.Duration(intInRange(v, EnvVisibilityTimeout, DefaultVisibilitySec, MinVisibilitySec, MaxVisibilitySec)) * time.Second,
		Network:           v.GetString(EnvLedgerNetwork),
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ConfigurationError{MissingKeys: missing}
	}

	// A claim must stay visible for the whole worst-case submission: the
	// primary write and one resume can each run to the hard timeout. A
	// shorter visibility would let the reaper redeliver a job whose
	// submission is still legitimately in flight.
	if minVisibility := 2*cfg.LedgerTimeout + time.Minute; cfg.VisibilityTimeout < minVisibility {
		cfg.VisibilityTimeout = minVisibility
	}

	return cfg, nil
}

// intInRange parses a numeric parameter, clamping to [min, max]. Parse
// failures degrade to the default rather than erroring.
func intInRange(v *viper.Viper, key string, def, min, max int) int {
	raw := v.GetString(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
