package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/i2y/merchanttools/internal/domain"
)

const (
	// promptBudget is the maximum number of characters of response JSON
	// placed in the prompt.
	promptBudget    = 15000
	truncatedMarker = "\n...[truncated]"
	unknownProduct  = "Unknown Product"
)

const promptTemplate = `You are extracting products from the JSON response of the %q tool of the merchant %q.

Return ONLY a JSON object with exactly this shape and nothing else:
{"products":[{"id":"","name":"","price":0,"originalPrice":0,"currency":"","discount":"","image":"","description":"","brand":"","category":"","url":"","rating":0,"inStock":true}],"totalCount":0,"summary":""}

Rules:
- Include at most %d products.
- price, originalPrice and rating must be plain numbers, never strings or objects.
- Omit any field whose value is not present in the response instead of writing null.
- Use %q as currency when the response does not state one.
- totalCount is the total number of matching products reported by the response, or the number of products you found.
- summary is one short sentence describing the result for a shopper.

Response JSON:
%s`

// buildPrompt renders the extraction prompt for payload, truncating the
// JSON to promptBudget characters.
func buildPrompt(toolName string, merchant domain.Merchant, payload any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(fmt.Sprint(payload))
	}
	body := string(raw)
	if len(body) > promptBudget {
		cut := promptBudget
		// keep the cut on a rune boundary
		for cut > 0 && !isRuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + truncatedMarker
	}
	name := merchant.Name
	if name == "" {
		name = merchant.ID
	}
	return fmt.Sprintf(promptTemplate, toolName, name, domain.MaxItems, merchant.CurrencySymbol(), body)
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// aiReply is the loosely typed contract the backend is asked to follow.
type aiReply struct {
	Products   json.RawMessage `json:"products"`
	TotalCount any             `json:"totalCount"`
	Summary    string          `json:"summary"`
}

var errEmptyReply = errors.New("empty AI response")

// parseAIReply decodes a backend reply into a normalized result.
func parseAIReply(text, currency string) (domain.NormalizedResult, error) {
	text = stripCodeFence(text)
	if text == "" {
		return domain.NormalizedResult{}, errEmptyReply
	}
	var reply aiReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return domain.NormalizedResult{}, fmt.Errorf("decode AI response: %w", err)
	}

	var rawItems []map[string]any
	trimmed := strings.TrimSpace(string(reply.Products))
	switch {
	case trimmed == "" || trimmed == "null":
	case strings.HasPrefix(trimmed, "{"):
		var single map[string]any
		if err := json.Unmarshal(reply.Products, &single); err != nil {
			return domain.NormalizedResult{}, fmt.Errorf("decode AI product: %w", err)
		}
		rawItems = []map[string]any{single}
	default:
		var list []any
		if err := json.Unmarshal(reply.Products, &list); err != nil {
			return domain.NormalizedResult{}, fmt.Errorf("decode AI products: %w", err)
		}
		for _, e := range list {
			if obj, ok := e.(map[string]any); ok {
				rawItems = append(rawItems, obj)
			}
		}
	}

	items := make([]domain.Item, 0, min(len(rawItems), domain.MaxItems))
	for i, obj := range rawItems {
		if len(items) >= domain.MaxItems {
			break
		}
		if item, ok := postProcess(obj, i, currency); ok {
			items = append(items, item)
		}
	}

	total := len(items)
	if n, ok := toNumber(reply.TotalCount); ok && n >= 0 {
		total = int(n)
	}
	return domain.NormalizedResult{
		Products:   items,
		TotalCount: total,
		Summary:    strings.TrimSpace(reply.Summary),
	}, nil
}

// postProcess coerces one AI-produced item into the canonical shape.
func postProcess(obj map[string]any, index int, currency string) (domain.Item, bool) {
	name, _ := toText(obj["name"])
	if name == "" || name == unknownProduct {
		return domain.Item{}, false
	}
	item := domain.Item{
		Name:          name,
		Price:         numberPtr(obj["price"]),
		OriginalPrice: numberPtr(obj["originalPrice"]),
		Rating:        numberPtr(obj["rating"]),
		Currency:      currency,
	}
	if id, ok := toText(obj["id"]); ok {
		item.ID = id
	} else {
		item.ID = fmt.Sprintf("item-%d", index+1)
	}
	if c, ok := toText(obj["currency"]); ok {
		item.Currency = c
	}
	item.Discount, _ = toText(obj["discount"])
	item.Image = resolveImage(obj["image"])
	item.Description, _ = toText(obj["description"])
	item.Brand = nameOf(obj["brand"])
	item.Category = nameOf(obj["category"])
	item.URL, _ = toText(obj["url"])
	if b, ok := toBool(obj["inStock"]); ok {
		item.InStock = &b
	}
	if item.Discount == "" && item.Price != nil && item.OriginalPrice != nil &&
		*item.OriginalPrice > *item.Price && *item.OriginalPrice > 0 {
		item.Discount = formatDiscount((*item.OriginalPrice - *item.Price) / *item.OriginalPrice * 100)
	}
	return item, true
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// drop the language tag line, e.g. ```json
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
