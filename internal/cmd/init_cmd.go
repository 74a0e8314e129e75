package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/aegis/internal/config"
)

const configTemplate = `# Aegis infrastructure configuration.
# Every key can also be set as an env var with the AEGIS_ prefix,
# e.g. signing_key -> AEGIS_SIGNING_KEY.

# data_dir: ~/.aegis
# signing_key: ""      # >=32 bytes, HMAC key for the audit trail
# vault_key: ""        # exactly 32 bytes, AES-256 key for the token vault
# llm_api_key: ""
# llm_base_url: ""     # empty = OpenAI default
llm_model: mistral-small-latest
challenge_ttl_seconds: 300
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the data directory and write a config template",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "init")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		const path = "aegis.config.yaml"
		if _, err := os.Stat(path); err == nil {
			log.Info().Str("path", path).Msg("config file already exists, leaving it alone")
			return nil
		}
		if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
			return fmt.Errorf("writing config template: %w", err)
		}

		log.Info().Str("path", path).Str("data_dir", cfg.DataDir).Msg("aegis_initialized")
		fmt.Println("Next steps:")
		fmt.Println("  1. Set AEGIS_API_KEYS (key:subject_id:email,...)")
		fmt.Println("  2. Set AEGIS_LLM_API_KEY")
		fmt.Println("  3. aegis serve")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
