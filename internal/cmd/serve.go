package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/aegis/internal/agent"
	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/authz"
	"github.com/dativo-io/aegis/internal/config"
	"github.com/dativo-io/aegis/internal/gateway"
	"github.com/dativo-io/aegis/internal/identity"
	"github.com/dativo-io/aegis/internal/llm"
	"github.com/dativo-io/aegis/internal/policy"
	"github.com/dativo-io/aegis/internal/retrieval"
	"github.com/dativo-io/aegis/internal/server"
	"github.com/dativo-io/aegis/internal/stepup"
	"github.com/dativo-io/aegis/internal/tokenvault"
	"github.com/dativo-io/aegis/internal/tools"
)

var (
	servePort   int
	servePolicy string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant backend with the gated tool pipeline",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy YAML (default: built-in policy)")
	rootCmd.AddCommand(serveCmd)
}

// defaultSubjectRateLimit is requests per second per API key.
const defaultSubjectRateLimit = 10

// parseSubjects reads AEGIS_API_KEYS: comma-separated entries of
// key:subject_id:email. The email part is optional.
func parseSubjects(env string) []identity.Subject {
	var subjects []identity.Subject
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 3)
		sub := identity.Subject{
			APIKey:    fields[0],
			ID:        fields[0],
			RateLimit: defaultSubjectRateLimit,
		}
		if len(fields) > 1 && fields[1] != "" {
			sub.ID = fields[1]
		}
		if len(fields) > 2 {
			sub.Email = fields[2]
		}
		subjects = append(subjects, sub)
	}
	return subjects
}

func buildProvider(cfg *config.Config) llm.Provider {
	if cfg.LLMBaseURL != "" {
		return llm.NewCompatibleProvider(cfg.LLMAPIKey, cfg.LLMBaseURL)
	}
	return llm.NewOpenAIProvider(cfg.LLMAPIKey)
}

func registerTools(registry *tools.Registry, cfg *config.Config, vault *tokenvault.Vault, docs *retrieval.DocumentStore, filter *retrieval.Filter) {
	tokens := gateway.NewVaultTokenSource(vault)

	registry.Register(tools.NewGmailDraftTool(tokens, cfg.GoogleAPIBase))
	registry.Register(tools.NewGmailSearchTool(tokens, cfg.GoogleAPIBase))
	registry.Register(tools.NewCalendarEventsTool(tokens, cfg.GoogleAPIBase))
	registry.Register(tools.NewShopOnlineTool(cfg.ShopAPIURL))
	registry.Register(tools.NewWebSearchTool(cfg.SearchAPIURL))
	registry.Register(tools.NewUserInfoTool())
	registry.Register(tools.NewContextDocsTool(docs, filter))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	// One process-scoped handle; every store shares it.
	db, err := sql.Open("sqlite3", cfg.StateDBPath()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()

	auditStore, err := audit.NewStore(db, cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("initializing audit trail: %w", err)
	}

	challengeStore, err := stepup.NewStore(db)
	if err != nil {
		return fmt.Errorf("initializing challenge store: %w", err)
	}
	flow := stepup.NewFlow(challengeStore, nil, time.Duration(cfg.ChallengeTTLSec)*time.Second)

	sweeper, err := stepup.NewSweeper(challengeStore)
	if err != nil {
		return fmt.Errorf("initializing challenge sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	pol := policy.Default()
	if servePolicy != "" {
		pol, err = policy.Load(servePolicy)
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
	}
	engine, err := policy.NewEngine(ctx, pol)
	if err != nil {
		return fmt.Errorf("policy engine: %w", err)
	}

	vault, err := tokenvault.NewVault(db, cfg.VaultKey)
	if err != nil {
		return fmt.Errorf("initializing token vault: %w", err)
	}

	authzStore, err := authz.NewStore(db)
	if err != nil {
		return fmt.Errorf("initializing relation store: %w", err)
	}
	docStore, err := retrieval.NewDocumentStore(db)
	if err != nil {
		return fmt.Errorf("initializing document store: %w", err)
	}
	filter := retrieval.NewFilter(authzStore)

	registry := tools.NewRegistry()
	registerTools(registry, cfg, vault, docStore, filter)

	gw := gateway.New(registry, engine, auditStore, flow)
	ag := agent.New(buildProvider(cfg), gw, registry, cfg.LLMModel)

	subjects := parseSubjects(os.Getenv("AEGIS_API_KEYS"))
	if len(subjects) == 0 {
		log.Warn().Msg("AEGIS_API_KEYS not set — all API endpoints will return 401. Set for production.")
	}
	identities := identity.NewRegistry(subjects)

	srv := server.NewServer(ag, gw, auditStore, challengeStore, vault, authzStore, identities)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("model", cfg.LLMModel).
		Str("policy_version", engine.Version()).
		Int("subjects", len(subjects)).
		Msg("aegis_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
