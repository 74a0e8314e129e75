package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dativo-io/aegis/internal/requestctx"
)

// UserInfoTool returns the verified identity of the current caller, so
// the assistant can answer "who am I logged in as" without guessing.
type UserInfoTool struct{}

func NewUserInfoTool() *UserInfoTool { return &UserInfoTool{} }

func (t *UserInfoTool) Name() string { return "getUserInfoTool" }

func (t *UserInfoTool) Description() string {
	return "Return the profile of the currently authenticated user."
}

func (t *UserInfoTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "additionalProperties": false}`)
}

func (t *UserInfoTool) Execute(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	subjectID := requestctx.SubjectID(ctx)
	if subjectID == "" {
		return nil, errors.New("no authenticated user in request context")
	}
	return json.Marshal(map[string]string{
		"id":    subjectID,
		"email": requestctx.SubjectEmail(ctx),
	})
}
