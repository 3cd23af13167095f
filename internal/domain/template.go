package domain

// KeyValue is an ordered header or query parameter entry.
type KeyValue struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Template is the stored HTTP shape behind a tool. String leaves of Body
// may embed {{token}} placeholders that are bound to arguments at call time.
// Templates are read-only to this service.
type Template struct {
	ID           string     `json:"id" yaml:"id"`
	MerchantID   string     `json:"merchantId" yaml:"merchant_id"`
	ToolType     string     `json:"toolType" yaml:"tool_type"`
	Method       string     `json:"method" yaml:"method"`
	URL          string     `json:"url" yaml:"url"`
	Headers      []KeyValue `json:"headers,omitempty" yaml:"headers,omitempty"`
	QueryParams  []KeyValue `json:"queryParams,omitempty" yaml:"query_params,omitempty"`
	Body         any        `json:"body,omitempty" yaml:"body,omitempty"`
	CredentialID string     `json:"credentialId,omitempty" yaml:"credential_id,omitempty"`

	// TimeoutSeconds bounds the outbound call. Zero means the service default.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty" yaml:"timeout_seconds,omitempty"`

	// Operator is the optional operator-authored tool metadata.
	Operator *OperatorConfig `json:"operatorMcpConfig,omitempty" yaml:"operator,omitempty"`
}

// OperatorConfig is tool metadata written by an operator instead of being
// inferred from the template.
type OperatorConfig struct {
	ToolName        string               `json:"toolName,omitempty" yaml:"tool_name,omitempty"`
	ToolDescription string               `json:"toolDescription,omitempty" yaml:"tool_description,omitempty"`
	UsageHints      []string             `json:"usageHints,omitempty" yaml:"usage_hints,omitempty"`
	Parameters      map[string]ParamHint `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// ItemsPath is a jq expression selecting the item list in the response.
	ItemsPath string `json:"itemsPath,omitempty" yaml:"items_path,omitempty"`
}

// ParamHint describes one placeholder token for the operator-authored path.
type ParamHint struct {
	DisplayName string   `json:"displayName,omitempty" yaml:"display_name,omitempty"`
	Type        string   `json:"type,omitempty" yaml:"type,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`
	// Required defaults to true when nil.
	Required *bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// IsRequired reports whether the parameter is required, defaulting to true.
func (p ParamHint) IsRequired() bool {
	return p.Required == nil || *p.Required
}

// TemplateConfig is the resolved configuration mode of a template.
// It is either AutoConfig or OperatorAuthored.
type TemplateConfig interface {
	templateConfig()
}

// AutoConfig derives the tool entirely from the template shape.
type AutoConfig struct {
	// NameOverride replaces the sanitized tool type, if set.
	NameOverride string
	// DescriptionOverride replaces the generated description, if set.
	DescriptionOverride string
	UsageHints          []string
}

// OperatorAuthored uses the operator's tool name, description and
// parameter hints.
type OperatorAuthored struct {
	Config OperatorConfig
}

func (AutoConfig) templateConfig()       {}
func (OperatorAuthored) templateConfig() {}

// ResolveConfig picks the configuration mode for t once. An operator block
// with a tool name selects the operator-authored path; anything else is auto.
func (t Template) ResolveConfig() TemplateConfig {
	if t.Operator != nil && t.Operator.ToolName != "" {
		return OperatorAuthored{Config: *t.Operator}
	}
	auto := AutoConfig{}
	if t.Operator != nil {
		auto.DescriptionOverride = t.Operator.ToolDescription
		auto.UsageHints = t.Operator.UsageHints
	}
	return auto
}

// ItemsPath returns the operator item path, if any.
func (t Template) ItemsPath() string {
	if t.Operator == nil {
		return ""
	}
	return t.Operator.ItemsPath
}

// Templates saved with the custom tool type are stored under a generated
// CustomToolPrefix key, so a merchant may have any number of them.
const (
	CustomToolType   = "custom"
	CustomToolPrefix = "custom_"
)

