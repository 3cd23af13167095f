package schema

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/i2y/merchanttools/internal/domain"
)

// reservedKeys are body keys that describe the request itself and never
// become tool parameters.
var reservedKeys = map[string]struct{}{
	"url": {}, "method": {}, "headers": {}, "params": {}, "body": {}, "name": {}, "description": {},
}

// Deriver implements the usecase.SchemaDeriver interface.
type Deriver struct {
	logger *slog.Logger
}

// NewDeriver creates a new schema Deriver.
func NewDeriver(logger *slog.Logger) *Deriver {
	return &Deriver{
		logger: logger.With("component", "schema_deriver"),
	}
}

// Derive builds the tool definition of t. It never fails: templates with no
// detectable parameters get the generic query schema.
func (d *Deriver) Derive(t domain.Template) domain.Tool {
	log := d.logger.With(slog.String("template_id", t.ID), slog.String("tool_type", t.ToolType))

	var tool domain.Tool
	switch cfg := t.ResolveConfig().(type) {
	case domain.OperatorAuthored:
		tool = d.deriveOperator(t, cfg.Config)
	case domain.AutoConfig:
		tool = d.deriveAuto(t, cfg)
	}

	if len(tool.InputSchema.Properties) == 0 {
		log.Debug("No parameters detected, using generic query schema")
		tool.InputSchema = domain.GenericQuerySchema()
	}

	tool.Metadata.TemplateID = t.ID
	tool.Metadata.ToolType = t.ToolType
	tool.Metadata.Method = methodOf(t)
	tool.Metadata.Endpoint = t.URL
	tool.Metadata.CredentialID = t.CredentialID
	log.Debug("Derived tool", slog.String("tool_name", tool.Name), slog.Int("params", len(tool.InputSchema.Properties)))
	return tool
}

// deriveOperator follows the operator-authored metadata. Tokens come from the
// first placeholder of each body string leaf and each query value.
func (d *Deriver) deriveOperator(t domain.Template, cfg domain.OperatorConfig) domain.Tool {
	props := make(map[string]domain.JSONSchemaProps)
	var required []string

	for _, token := range operatorTokens(t) {
		hint := cfg.Parameters[token]
		typ := hint.Type
		if typ == "" {
			typ = "string"
		}
		desc := hint.Description
		if desc == "" {
			desc = describeParam(token)
		}
		if hint.DisplayName != "" {
			desc = hint.DisplayName + ": " + desc
		}
		if len(hint.Examples) > 0 {
			desc = fmt.Sprintf("%s (e.g., %s)", desc, strings.Join(hint.Examples, ", "))
		}
		props[token] = domain.JSONSchemaProps{Type: typ, Description: desc}
		if hint.IsRequired() {
			required = append(required, token)
		}
	}

	description := cfg.ToolDescription
	if description == "" {
		description = describeTool(t.ToolType, firstOf(operatorTokens(t)))
	}

	return domain.Tool{
		Name:        strings.TrimSpace(cfg.ToolName),
		Description: description,
		InputSchema: domain.JSONSchemaProps{Type: "object", Properties: props, Required: required},
		Metadata:    domain.ToolMetadata{UsageHints: cfg.UsageHints},
	}
}

// deriveAuto infers parameters from the template shape.
func (d *Deriver) deriveAuto(t domain.Template, cfg domain.AutoConfig) domain.Tool {
	props := make(map[string]domain.JSONSchemaProps)
	var required []string
	var order []string

	addToken := func(token, sourceKey string) {
		if _, exists := props[token]; exists {
			return
		}
		desc, matched := matchParam(token)
		if !matched && sourceKey != "" {
			if byKey, ok := matchParam(sourceKey); ok {
				desc = byKey
			}
		}
		props[token] = domain.JSONSchemaProps{Type: "string", Description: desc}
		required = append(required, token)
		order = append(order, token)
	}

	if body, ok := t.Body.(map[string]any); ok {
		for _, key := range sortedKeys(body) {
			value := body[key]
			tokens := allTokens(value)
			if len(tokens) > 0 {
				for _, token := range tokens {
					addToken(token, key)
				}
				continue
			}
			if _, reserved := reservedKeys[strings.ToLower(key)]; reserved {
				continue
			}
			// Static keys are only bindable when arguments become query keys.
			if domain.HasBody(methodOf(t)) {
				continue
			}
			if _, exists := props[key]; !exists {
				props[key] = domain.JSONSchemaProps{Type: inferType(value), Description: describeParam(key)}
				order = append(order, key)
			}
		}
	} else if t.Body != nil {
		d.logger.Debug("Template body is not an object, skipping body parameters", slog.String("template_id", t.ID))
	}

	for _, qp := range t.QueryParams {
		for _, token := range domain.Placeholders(qp.Value) {
			addToken(token, qp.Key)
		}
	}

	name := cfg.NameOverride
	if name == "" {
		name = t.ToolType
	}
	name = sanitizeName(name)
	if name == "" {
		name = "tool"
	}

	description := cfg.DescriptionOverride
	if description == "" {
		description = describeTool(t.ToolType, firstOf(order))
	}

	return domain.Tool{
		Name:        name,
		Description: description,
		InputSchema: domain.JSONSchemaProps{Type: "object", Properties: props, Required: required},
		Metadata:    domain.ToolMetadata{UsageHints: cfg.UsageHints},
	}
}

// operatorTokens scans body string leaves and query values, taking the first
// placeholder of each, deduplicated in discovery order.
func operatorTokens(t domain.Template) []string {
	var tokens []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if token, ok := domain.FirstPlaceholder(s); ok {
			if _, dup := seen[token]; !dup {
				seen[token] = struct{}{}
				tokens = append(tokens, token)
			}
		}
	}
	if _, ok := t.Body.(map[string]any); ok {
		walkStrings(t.Body, add)
	} else if _, ok := t.Body.([]any); ok {
		walkStrings(t.Body, add)
	}
	for _, qp := range t.QueryParams {
		add(qp.Value)
	}
	return tokens
}

// allTokens returns every placeholder of every string leaf under v.
func allTokens(v any) []string {
	var tokens []string
	walkStrings(v, func(s string) {
		tokens = append(tokens, domain.Placeholders(s)...)
	})
	return tokens
}

// walkStrings visits string leaves of a JSON-like tree in a stable order.
func walkStrings(v any, visit func(string)) {
	switch x := v.(type) {
	case string:
		visit(x)
	case map[string]any:
		for _, k := range sortedKeys(x) {
			walkStrings(x[k], visit)
		}
	case []any:
		for _, e := range x {
			walkStrings(e, visit)
		}
	}
}

func inferType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, float32, int, int64, int32, uint, uint64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "string"
	}
}

func methodOf(t domain.Template) string {
	if t.Method == "" {
		return "GET"
	}
	return strings.ToUpper(t.Method)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstOf(s []string) string {
	if len(s) == 0 {
		return domain.GenericQueryProperty
	}
	return s[0]
}

// sanitizeName lower-snake-cases name for use as a tool identifier.
func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name = b.String()
	// Remove consecutive underscores
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return strings.Trim(name, "_")
}
