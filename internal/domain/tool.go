package domain

// Tool is a callable capability derived from a merchant's HTTP template,
// shaped the way the Model Context Protocol exposes tools to an agent.
// Tools are recomputed on every discovery request and never persisted.
type Tool struct {
	// Name is unique per merchant.
	Name string `json:"name"`

	// Description tells the agent when to use the tool.
	Description string `json:"description"`

	// InputSchema is the JSON-Schema-shaped argument contract.
	InputSchema JSONSchemaProps `json:"inputSchema"`

	// Metadata ties the tool back to the template it was derived from.
	Metadata ToolMetadata `json:"metadata"`
}

// ToolMetadata carries execution details that the agent does not need but
// the executor does.
type ToolMetadata struct {
	TemplateID   string   `json:"templateId"`
	ToolType     string   `json:"toolType"`
	Method       string   `json:"method"`
	Endpoint     string   `json:"endpoint"`
	CredentialID string   `json:"credentialId,omitempty"`
	UsageHints   []string `json:"usageHints,omitempty"`
}

// JSONSchemaProps is a simplified JSON schema used for tool input contracts.
type JSONSchemaProps struct {
	Type        string                     `json:"type"`
	Description string                     `json:"description,omitempty"`
	Properties  map[string]JSONSchemaProps `json:"properties,omitempty"`
	Required    []string                   `json:"required,omitempty"`
	Items       *JSONSchemaProps           `json:"items,omitempty"`
}

// GenericQueryProperty is the name of the fallback parameter used when a
// template declares no placeholders.
const GenericQueryProperty = "query"

// GenericQuerySchema returns the fallback input schema with a single
// required string "query".
func GenericQuerySchema() JSONSchemaProps {
	return JSONSchemaProps{
		Type: "object",
		Properties: map[string]JSONSchemaProps{
			GenericQueryProperty: {
				Type:        "string",
				Description: "Search query or request text from the user",
			},
		},
		Required: []string{GenericQueryProperty},
	}
}
