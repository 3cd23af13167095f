package domain

// AuthType selects how a credential is injected into a request.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
	AuthBasic  AuthType = "basic"
	AuthCustom AuthType = "custom"
)

// Credential is a merchant-scoped secret referenced by templates.
type Credential struct {
	ID         string   `json:"id" yaml:"id"`
	MerchantID string   `json:"merchantId" yaml:"merchant_id"`
	AuthType   AuthType `json:"authType" yaml:"auth_type"`

	// Token is the bearer token.
	Token string `json:"-" yaml:"token,omitempty"`
	// APIKeyHeader is a stored "Header-Name: value" string.
	APIKeyHeader string `json:"-" yaml:"api_key_header,omitempty"`
	Username     string `json:"-" yaml:"username,omitempty"`
	Password     string `json:"-" yaml:"password,omitempty"`
	// CustomHeaders is a JSON object of headers merged verbatim.
	CustomHeaders string `json:"-" yaml:"custom_headers,omitempty"`
}

// AIConfig configures the optional AI backend used for normalization.
type AIConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai or anthropic
	Model    string `json:"model" yaml:"model"`
	APIKey   string `json:"-" yaml:"api_key"`
	BaseURL  string `json:"baseUrl,omitempty" yaml:"base_url,omitempty"`
}

// Merchant is the identity that owns templates and credentials.
type Merchant struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Currency string `json:"currency,omitempty" yaml:"currency,omitempty"`
	// AI is nil when no backend is configured for the merchant.
	AI *AIConfig `json:"ai,omitempty" yaml:"ai,omitempty"`
}

// CurrencySymbol returns the merchant's currency symbol, defaulting to ₹.
func (m Merchant) CurrencySymbol() string {
	if m.Currency != "" {
		return m.Currency
	}
	return "₹"
}
