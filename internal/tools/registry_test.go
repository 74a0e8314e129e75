package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticTokens always returns the same token.
type staticTokens struct{ token string }

func (s staticTokens) AccessToken(_ context.Context, _, _ string) (string, error) {
	return s.token, nil
}

// noTokens simulates a subject with no linked accounts.
type noTokens struct{}

func (noTokens) AccessToken(_ context.Context, _, connection string) (string, error) {
	return "", &ConnectionRequiredError{Connection: connection}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(NewShopOnlineTool(""))
	r.Register(NewWebSearchTool(""))

	tool, ok := r.Get("shopOnlineTool")
	require.True(t, ok)
	assert.Equal(t, "shopOnlineTool", tool.Name())

	_, ok = r.Get("missingTool")
	assert.False(t, ok)
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(NewWebSearchTool(""))
	r.Register(NewShopOnlineTool(""))
	r.Register(NewUserInfoTool())

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "getUserInfoTool", list[0].Name())
	assert.Equal(t, "shopOnlineTool", list[1].Name())
	assert.Equal(t, "webSearchTool", list[2].Name())
}

func TestValidateParams(t *testing.T) {
	shop := NewShopOnlineTool("")

	tests := []struct {
		name    string
		params  string
		wantErr bool
	}{
		{"valid purchase", `{"product": "desk", "quantity": 2, "priceLimit": 300}`, false},
		{"missing required product", `{"quantity": 2}`, true},
		{"quantity below minimum", `{"product": "desk", "quantity": 0}`, true},
		{"unknown property", `{"product": "desk", "quantity": 1, "color": "red"}`, true},
		{"not json", `{product:`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(shop, json.RawMessage(tt.params))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAllToolSchemasCompile(t *testing.T) {
	r := NewRegistry()
	r.Register(NewGmailDraftTool(staticTokens{"tok"}, ""))
	r.Register(NewGmailSearchTool(staticTokens{"tok"}, ""))
	r.Register(NewCalendarEventsTool(staticTokens{"tok"}, ""))
	r.Register(NewShopOnlineTool(""))
	r.Register(NewWebSearchTool(""))
	r.Register(NewUserInfoTool())

	for _, tool := range r.List() {
		_, err := compiledSchema(tool)
		assert.NoError(t, err, "schema for %s must compile", tool.Name())
		assert.NotEmpty(t, tool.Description())
	}
}
