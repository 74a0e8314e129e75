// Package doctor provides health checks for Aegis configuration and state.
// Used by `aegis doctor` before first serve and when debugging a deployment.
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/viper"

	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/config"
	"github.com/dativo-io/aegis/internal/policy"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which checks to run.
type Options struct {
	PolicyPath string // Explicit policy YAML (empty = check the built-in policy)
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	report.Checks = append(report.Checks, checkConfig()...)
	report.Checks = append(report.Checks, checkPolicy(ctx, opts.PolicyPath))
	report.Checks = append(report.Checks, checkState(ctx)...)

	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.Summary.Pass++
		case "warn":
			report.Summary.Warn++
		case "fail":
			report.Summary.Fail++
		}
	}

	report.Status = "pass"
	if report.Summary.Warn > 0 {
		report.Status = "warn"
	}
	if report.Summary.Fail > 0 {
		report.Status = "fail"
	}
	return report
}

func checkConfig() []CheckResult {
	var results []CheckResult

	cfg, err := config.Load()
	if err != nil {
		return []CheckResult{{
			Name: "config_load", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check AEGIS_DATA_DIR and aegis.config.yaml",
		}}
	}

	results = append(results, checkDataDir(cfg))
	results = append(results, checkCryptoKeys(cfg)...)
	results = append(results, checkLLMKey(cfg))
	results = append(results, checkAPIKeys())
	return results
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Cannot create %s: %v", cfg.DataDir, err),
			Fix:     "Set AEGIS_DATA_DIR to a writable directory",
		}
	}

	testPath := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testPath, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Data directory %s is not writable: %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testPath)

	return CheckResult{
		Name: "data_dir", Category: "config", Status: "pass",
		Message: cfg.DataDir,
	}
}

func checkCryptoKeys(cfg *config.Config) []CheckResult {
	var results []CheckResult

	if cfg.UsingDefaultKeys() {
		results = append(results, CheckResult{
			Name: "crypto_keys", Category: "config", Status: "warn",
			Message: "Signing and/or vault key fell back to a generated default",
			Fix:     "Set AEGIS_SIGNING_KEY and AEGIS_VAULT_KEY for production",
		})
	} else {
		results = append(results, CheckResult{
			Name: "crypto_keys", Category: "config", Status: "pass",
			Message: "Signing and vault keys explicitly configured",
		})
	}
	return results
}

func checkLLMKey(cfg *config.Config) CheckResult {
	if cfg.LLMAPIKey == "" {
		return CheckResult{
			Name: "llm_api_key", Category: "config", Status: "warn",
			Message: "No LLM API key configured; /v1/chat will fail",
			Fix:     "Set AEGIS_LLM_API_KEY",
		}
	}
	return CheckResult{
		Name: "llm_api_key", Category: "config", Status: "pass",
		Message: fmt.Sprintf("Configured (model %s)", cfg.LLMModel),
	}
}

func checkAPIKeys() CheckResult {
	if os.Getenv("AEGIS_API_KEYS") == "" && viper.GetString("api_keys") == "" {
		return CheckResult{
			Name: "api_keys", Category: "config", Status: "warn",
			Message: "AEGIS_API_KEYS not set; every API request will be rejected",
			Fix:     "Set AEGIS_API_KEYS (key:subject_id:email,...)",
		}
	}
	return CheckResult{
		Name: "api_keys", Category: "config", Status: "pass",
		Message: "Subject API keys configured",
	}
}

func checkPolicy(ctx context.Context, path string) CheckResult {
	pol := policy.Default()
	if path != "" {
		var err error
		pol, err = policy.Load(path)
		if err != nil {
			return CheckResult{
				Name: "policy", Category: "policy", Status: "fail",
				Message: fmt.Sprintf("Cannot load %s: %v", path, err),
			}
		}
	}

	if _, err := policy.NewEngine(ctx, pol); err != nil {
		return CheckResult{
			Name: "policy", Category: "policy", Status: "fail",
			Message: fmt.Sprintf("Policy does not compile: %v", err),
		}
	}
	return CheckResult{
		Name: "policy", Category: "policy", Status: "pass",
		Message: pol.VersionTag,
	}
}

// checkState opens the shared state database and reports audit volume.
func checkState(ctx context.Context) []CheckResult {
	var results []CheckResult

	cfg, err := config.Load()
	if err != nil {
		return results
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return results
	}

	db, err := sql.Open("sqlite3", cfg.StateDBPath()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return append(results, CheckResult{
			Name: "state_db", Category: "state", Status: "fail",
			Message: fmt.Sprintf("Cannot open %s: %v", cfg.StateDBPath(), err),
		})
	}
	defer db.Close()

	store, err := audit.NewStore(db, cfg.SigningKey)
	if err != nil {
		return append(results, CheckResult{
			Name: "state_db", Category: "state", Status: "fail",
			Message: fmt.Sprintf("Audit schema unavailable: %v", err),
		})
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	counts, err := store.StatusCounts(checkCtx, "", "")
	if err != nil {
		return append(results, CheckResult{
			Name: "state_db", Category: "state", Status: "warn",
			Message: fmt.Sprintf("Cannot query audit trail: %v", err),
		})
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	sizeStr := "unknown"
	if fi, statErr := os.Stat(cfg.StateDBPath()); statErr == nil {
		sizeStr = fmt.Sprintf("%.1f MB", float64(fi.Size())/(1024*1024))
	}
	return append(results, CheckResult{
		Name: "state_db", Category: "state", Status: "pass",
		Message: fmt.Sprintf("%d audit events, %s", total, sizeStr),
	})
}
