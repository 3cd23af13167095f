package domain

// MaxItems caps the number of items in a normalized result.
const MaxItems = 12

// Item is one canonical product-like entry extracted from an API response.
type Item struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Price         *float64 `json:"price,omitempty"`
	OriginalPrice *float64 `json:"originalPrice,omitempty"`
	Currency      string   `json:"currency"`
	Discount      string   `json:"discount,omitempty"`
	Image         string   `json:"image,omitempty"`
	Description   string   `json:"description,omitempty"`
	Brand         string   `json:"brand,omitempty"`
	Category      string   `json:"category,omitempty"`
	URL           string   `json:"url,omitempty"`
	Rating        *float64 `json:"rating,omitempty"`
	InStock       *bool    `json:"inStock,omitempty"`
}

// NormalizedResult is the canonical shape returned to the caller.
type NormalizedResult struct {
	Products   []Item `json:"products"`
	TotalCount int    `json:"totalCount"`
	Summary    string `json:"summary"`
	Raw        any    `json:"raw,omitempty"`
	// Source is "ai", "heuristic" or "none".
	Source string `json:"source"`
	// Degraded lists the recoverable problems hit while normalizing.
	Degraded []Degraded `json:"degraded,omitempty"`
}

// ExecutionResult is the uniform envelope of one outbound call.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Status  int    `json:"status"`
}

// Degraded records a step that failed and was recovered locally.
type Degraded struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}
