package gateway

import (
	"context"
	"errors"

	"github.com/dativo-io/aegis/internal/tokenvault"
	"github.com/dativo-io/aegis/internal/tools"
)

// VaultTokenSource backs the tools' TokenSource with the encrypted
// vault. A missing or expired credential surfaces as a
// ConnectionRequiredError so the gateway can start the account-link
// flow instead of failing the call.
type VaultTokenSource struct {
	vault *tokenvault.Vault
}

// NewVaultTokenSource wraps the vault for tool consumption.
func NewVaultTokenSource(vault *tokenvault.Vault) *VaultTokenSource {
	return &VaultTokenSource{vault: vault}
}

func (s *VaultTokenSource) AccessToken(ctx context.Context, subjectID, connection string) (string, error) {
	if subjectID == "" {
		return "", &tools.ConnectionRequiredError{Connection: connection}
	}

	token, err := s.vault.Get(ctx, subjectID, connection)
	if errors.Is(err, tokenvault.ErrTokenNotFound) {
		return "", &tools.ConnectionRequiredError{Connection: connection}
	}
	if err != nil {
		return "", err
	}
	if token.Expired() {
		// No refresh client here; an expired grant means re-linking.
		return "", &tools.ConnectionRequiredError{Connection: connection}
	}
	return token.AccessToken, nil
}
