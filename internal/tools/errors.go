package tools

import (
	"context"
	"errors"
	"fmt"
)

// Connection names for delegated third-party credentials.
const (
	ConnGoogle = "google-workspace"
	ConnShop   = "shopify"
)

// TokenSource supplies a live delegated access token for a subject's
// linked account. The gateway backs this with the token vault; tools
// never touch stored credentials directly.
type TokenSource interface {
	AccessToken(ctx context.Context, subjectID, connection string) (string, error)
}

// ConnectionRequiredError signals that a tool needs a delegated
// credential the subject has not linked yet. The gateway turns this
// into an account-link challenge instead of a hard failure.
type ConnectionRequiredError struct {
	Connection string
	Scopes     []string
}

func (e *ConnectionRequiredError) Error() string {
	return fmt.Sprintf("connection %s required", e.Connection)
}

// withScopes stamps the scopes a tool needs onto a connection-required
// error coming back from the token source, which knows the connection
// but not the scopes.
func withScopes(err error, scopes []string) error {
	var cre *ConnectionRequiredError
	if errors.As(err, &cre) && len(cre.Scopes) == 0 {
		cre.Scopes = scopes
	}
	return err
}
