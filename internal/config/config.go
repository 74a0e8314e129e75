// Package config holds OPERATOR-LEVEL configuration for an Aegis installation.
//
// This is infrastructure config set by whoever deploys the assistant, NOT
// end-user state. Everything here comes from env vars (AEGIS_*) or the
// optional aegis.config.yaml; per-subject delegated credentials live in the
// encrypted token vault (internal/tokenvault) and are never configured here.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dativo-io/aegis/internal/cryptoutil"
)

// Viper keys. Each maps to an env var with the AEGIS_ prefix
// (e.g. "signing_key" → AEGIS_SIGNING_KEY) and to a YAML field in
// aegis.config.yaml.
const (
	KeyDataDir          = "data_dir"
	KeySigningKey       = "signing_key"
	KeyVaultKey         = "vault_key"
	KeyLLMAPIKey        = "llm_api_key"
	KeyLLMBaseURL       = "llm_base_url"
	KeyLLMModel         = "llm_model"
	KeyShopAPIURL       = "shop_api_url"
	KeySearchAPIURL     = "search_api_url"
	KeyGoogleAPIBaseURL = "google_api_base_url"
	KeyChallengeTTLSec  = "challenge_ttl_seconds"
)

// Defaults that do NOT involve crypto material. Crypto keys intentionally
// have no baked-in defaults — when unset we generate a deterministic
// per-machine fallback and warn loudly.
const (
	DefaultLLMModel        = "mistral-small-latest"
	DefaultChallengeTTLSec = 300
)

// Config holds resolved operator-level configuration for an Aegis process.
type Config struct {
	DataDir         string // Base directory for all state (~/.aegis)
	SigningKey      string // HMAC-SHA256 key for audit event signing (≥32 bytes)
	VaultKey        string // AES-256 encryption key for the token vault (exactly 32 bytes)
	LLMAPIKey       string // API key for the OpenAI-compatible chat endpoint
	LLMBaseURL      string // Base URL override (empty = provider default)
	LLMModel        string // Chat model id
	ShopAPIURL      string // Commerce backend; empty = mocked responses
	SearchAPIURL    string // Web search backend; empty = mocked responses
	GoogleAPIBase   string // Google API base; empty = mocked responses
	ChallengeTTLSec int    // Default step-up challenge lifetime in seconds

	usingDefaultSigningKey bool
	usingDefaultVaultKey   bool
}

// UsingDefaultKeys returns true if either crypto key fell back to a
// generated default. Commands should warn when this is the case.
func (c *Config) UsingDefaultKeys() bool {
	return c.usingDefaultSigningKey || c.usingDefaultVaultKey
}

// StateDBPath returns the full path to the SQLite database holding audit
// events, challenges, relation tuples, and vaulted tokens. The handle is
// opened once at process start and passed explicitly to each store.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.DataDir, "aegis.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when crypto keys are not explicitly set.
// Suppressed when AEGIS_QUICKSTART=1 or true (first-time exploration, demos).
func (c *Config) WarnIfDefaultKeys() {
	if isQuickstart() {
		return
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default AEGIS_SIGNING_KEY — set via env var or config file for production")
	}
	if c.usingDefaultVaultKey {
		log.Warn().Msg("Using generated default AEGIS_VAULT_KEY — set via env var or config file for production")
	}
}

func isQuickstart() bool {
	v := os.Getenv("AEGIS_QUICKSTART")
	return v == "1" || v == "true" || v == "TRUE"
}

func init() {
	viper.SetEnvPrefix("AEGIS")
	viper.AutomaticEnv()
	viper.SetDefault(KeyLLMModel, DefaultLLMModel)
	viper.SetDefault(KeyChallengeTTLSec, DefaultChallengeTTLSec)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:         resolveDataDir(),
		SigningKey:      viper.GetString(KeySigningKey),
		VaultKey:        viper.GetString(KeyVaultKey),
		LLMAPIKey:       viper.GetString(KeyLLMAPIKey),
		LLMBaseURL:      viper.GetString(KeyLLMBaseURL),
		LLMModel:        viper.GetString(KeyLLMModel),
		ShopAPIURL:      viper.GetString(KeyShopAPIURL),
		SearchAPIURL:    viper.GetString(KeySearchAPIURL),
		GoogleAPIBase:   viper.GetString(KeyGoogleAPIBaseURL),
		ChallengeTTLSec: viper.GetInt(KeyChallengeTTLSec),
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing-----")
		cfg.usingDefaultSigningKey = true
	}
	if cfg.VaultKey == "" {
		cfg.VaultKey = deriveDefaultKey(cfg.DataDir, "vault-encryption--")[:32]
		cfg.usingDefaultVaultKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aegis"
	}
	return filepath.Join(home, ".aegis")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. Uses SHA-256 so the full salt always
// contributes to the output regardless of path length. This is NOT
// cryptographically strong — it exists solely so `aegis serve` works out of
// the box while still signing and encrypting with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("aegis:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateVaultKey(c.VaultKey); err != nil {
		return err
	}
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.ChallengeTTLSec <= 0 {
		return fmt.Errorf("challenge_ttl_seconds must be positive")
	}
	return nil
}

// validateVaultKey accepts either 32 raw bytes or 64 hex characters (decodes to 32 bytes for AES-256).
func validateVaultKey(key string) error {
	n := len(key)
	if n == 32 {
		return nil
	}
	if n == 64 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return fmt.Errorf("vault_key hex must decode to 32 bytes: %w", err)
		}
		return nil
	}
	return fmt.Errorf("vault_key must be exactly 32 bytes or 64 hex characters (got %d); set AEGIS_VAULT_KEY", n)
}

// validateSigningKey accepts either ≥32 raw bytes or ≥64 hex characters
// (decoded length ≥32 for HMAC-SHA256). Hex is checked first so that hex
// format is validated; raw is accepted otherwise when n ≥ 32.
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes: %w", err)
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set AEGIS_SIGNING_KEY", n)
}
