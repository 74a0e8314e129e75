package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/dativo-io/aegis/internal/requestctx"
)

// ShopOnlineTool places an order with the commerce backend on the
// caller's behalf. Purchases are the canonical high-value action: the
// gateway gates them behind an out-of-band confirmation before Execute
// ever runs.
type ShopOnlineTool struct {
	baseURL string
	client  *http.Client
}

// NewShopOnlineTool creates the shopping tool. An empty baseURL selects
// the offline stub, which fabricates an order without calling out.
func NewShopOnlineTool(baseURL string) *ShopOnlineTool {
	return &ShopOnlineTool{baseURL: baseURL, client: newHTTPClient()}
}

func (t *ShopOnlineTool) Name() string { return "shopOnlineTool" }

func (t *ShopOnlineTool) Description() string {
	return "Purchase a product online for the user. Use when the user asks to buy or order something."
}

func (t *ShopOnlineTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"product": {"type": "string", "description": "Name of the product to buy"},
			"quantity": {"type": "integer", "minimum": 1, "description": "How many units to buy"},
			"priceLimit": {"type": "number", "minimum": 0, "description": "Maximum total price the user is willing to pay"}
		},
		"required": ["product", "quantity"],
		"additionalProperties": false
	}`)
}

// ShopParams is exported so the gateway can render the confirmation
// message from the same arguments the tool will execute with.
type ShopParams struct {
	Product    string  `json:"product"`
	Quantity   int     `json:"quantity"`
	PriceLimit float64 `json:"priceLimit"`
}

func (t *ShopOnlineTool) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p ShopParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("parsing shop arguments: %w", err)
	}

	if t.baseURL == "" {
		return json.Marshal(map[string]any{
			"orderId":  "order_" + uuid.New().String()[:8],
			"product":  p.Product,
			"quantity": p.Quantity,
			"status":   "placed",
		})
	}

	return doJSON(ctx, t.client, http.MethodPost, t.baseURL+"/orders", "",
		map[string]any{
			"subjectId":  requestctx.SubjectID(ctx),
			"product":    p.Product,
			"quantity":   p.Quantity,
			"priceLimit": p.PriceLimit,
		})
}
