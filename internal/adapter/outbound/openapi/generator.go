package openapi

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/i2y/merchanttools/internal/domain"
)

// TemplateGenerator converts OpenAPI operations into tool templates.
type TemplateGenerator struct {
	logger *slog.Logger
}

// NewTemplateGenerator creates a new OpenAPI TemplateGenerator.
func NewTemplateGenerator(logger *slog.Logger) *TemplateGenerator {
	return &TemplateGenerator{
		logger: logger.With("component", "openapi_generator"),
	}
}

// Generate converts every supported operation of doc into a template owned
// by merchantID. Body properties and query parameters become {{token}}
// placeholders. Operations with path parameters are skipped because
// template URLs are sent verbatim.
func (g *TemplateGenerator) Generate(merchantID, source string, doc *openapi3.T) ([]domain.Template, error) {
	log := g.logger.With(slog.String("source", source), slog.String("merchant_id", merchantID))
	if doc == nil {
		return nil, fmt.Errorf("missing OpenAPI document")
	}

	host, basePath, err := g.determineHostAndBasePathFromServers(source, doc.Servers)
	if err != nil {
		log.Error("Failed to determine host/basePath from OpenAPI servers block", slog.Any("error", err))
		return nil, fmt.Errorf("could not determine host/basePath from OpenAPI servers: %w", err)
	}

	var templates []domain.Template
	skipped := 0
	paths := doc.Paths.Map()
	for _, path := range sortedKeys(paths) {
		pathItem := paths[path]
		if pathItem == nil {
			continue
		}
		ops := pathItem.Operations()
		for _, method := range sortedKeys(ops) {
			op := ops[method]
			if op == nil {
				continue
			}
			log := log.With(slog.String("path", path), slog.String("method", method))

			params := append(openapi3.Parameters{}, pathItem.Parameters...)
			params = append(params, op.Parameters...)
			if hasPathParams(path, params) {
				log.Debug("Skipping operation with path parameters")
				skipped++
				continue
			}

			t := domain.Template{
				MerchantID: merchantID,
				ToolType:   toolType(path, method, op),
				Method:     strings.ToUpper(method),
				URL:        host + basePath + path,
			}
			hints := make(map[string]domain.ParamHint)

			for _, ref := range params {
				if ref == nil || ref.Value == nil || ref.Value.In != openapi3.ParameterInQuery {
					continue
				}
				p := ref.Value
				t.QueryParams = append(t.QueryParams, domain.KeyValue{Key: p.Name, Value: placeholder(p.Name)})
				hints[p.Name] = hintFor(p.Schema, p.Description, p.Required)
			}

			if domain.HasBody(t.Method) {
				body, bodyHints := requestBody(op.RequestBody)
				if body != nil {
					t.Body = body
					for k, v := range bodyHints {
						if _, exists := hints[k]; exists {
							log.Warn("Name collision for input field", slog.String("field_name", k))
							continue
						}
						hints[k] = v
					}
				}
			}

			description := op.Description
			if description == "" {
				description = op.Summary
			}
			t.Operator = &domain.OperatorConfig{
				ToolName:        t.ToolType,
				ToolDescription: description,
				Parameters:      hints,
			}
			templates = append(templates, t)
		}
	}

	log.Info("Generated templates from OpenAPI document",
		slog.Int("generated_count", len(templates)),
		slog.Int("skipped_count", skipped))
	return templates, nil
}

// requestBody maps a JSON object request body onto a placeholder body.
func requestBody(ref *openapi3.RequestBodyRef) (map[string]any, map[string]domain.ParamHint) {
	if ref == nil || ref.Value == nil {
		return nil, nil
	}
	content := ref.Value.Content.Get("application/json")
	if content == nil || content.Schema == nil || content.Schema.Value == nil {
		return nil, nil
	}
	schema := content.Schema.Value
	if !schema.Type.Is(openapi3.TypeObject) && len(schema.Properties) == 0 {
		return nil, nil
	}

	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}
	body := make(map[string]any, len(schema.Properties))
	hints := make(map[string]domain.ParamHint, len(schema.Properties))
	for name, prop := range schema.Properties {
		body[name] = placeholder(name)
		desc := ""
		if prop != nil && prop.Value != nil {
			desc = prop.Value.Description
		}
		hints[name] = hintFor(prop, desc, required[name])
	}
	return body, hints
}

func hintFor(ref *openapi3.SchemaRef, description string, required bool) domain.ParamHint {
	hint := domain.ParamHint{Type: "string", Description: description, Required: &required}
	if ref == nil || ref.Value == nil {
		return hint
	}
	s := ref.Value
	if s.Type != nil && len(*s.Type) > 0 {
		switch t := (*s.Type)[0]; t {
		case openapi3.TypeString, openapi3.TypeNumber, openapi3.TypeInteger, openapi3.TypeBoolean:
			hint.Type = t
		}
	}
	if hint.Description == "" {
		hint.Description = s.Description
	}
	if s.Example != nil {
		hint.Examples = []string{domain.Stringify(s.Example)}
	}
	for _, e := range s.Enum {
		hint.Examples = append(hint.Examples, domain.Stringify(e))
	}
	return hint
}

func hasPathParams(path string, params openapi3.Parameters) bool {
	if strings.Contains(path, "{") {
		return true
	}
	for _, ref := range params {
		if ref != nil && ref.Value != nil && ref.Value.In == openapi3.ParameterInPath {
			return true
		}
	}
	return false
}

func placeholder(name string) string {
	return "{{" + name + "}}"
}

// determineHostAndBasePathFromServers returns the first HTTP/HTTPS server URL,
// resolving relative URLs against the document source.
func (g *TemplateGenerator) determineHostAndBasePathFromServers(source string, servers openapi3.Servers) (string, string, error) {
	if len(servers) == 0 {
		return "", "", fmt.Errorf("no servers defined in OpenAPI document")
	}

	baseSourceURL, err := url.Parse(source)
	if err != nil {
		g.logger.Warn("Could not parse document source URL as base for relative server URLs", slog.String("source_url", source), slog.Any("error", err))
		baseSourceURL = nil
	}

	for _, server := range servers {
		if server == nil || server.URL == "" {
			continue
		}
		serverURL := server.URL
		for name, v := range server.Variables {
			if v != nil {
				serverURL = strings.ReplaceAll(serverURL, "{"+name+"}", v.Default)
			}
		}

		resolved, err := url.Parse(serverURL)
		if err != nil {
			g.logger.Warn("Could not parse server URL, skipping", slog.String("url", serverURL), slog.Any("error", err))
			continue
		}
		if !resolved.IsAbs() {
			if baseSourceURL == nil {
				continue
			}
			resolved = baseSourceURL.ResolveReference(resolved)
		}

		if (resolved.Scheme == "http" || resolved.Scheme == "https") && resolved.Host != "" {
			host := fmt.Sprintf("%s://%s", resolved.Scheme, resolved.Host)
			basePath := strings.TrimSuffix(resolved.Path, "/")
			return host, basePath, nil
		}
	}

	return "", "", fmt.Errorf("no suitable HTTP/HTTPS server URL found or resolvable in OpenAPI document")
}

// toolType names the template: operationId if present, else method and path.
func toolType(path, method string, op *openapi3.Operation) string {
	if op.OperationID != "" {
		return sanitizeName(op.OperationID)
	}
	nameParts := []string{strings.ToLower(method)}
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part != "" {
			nameParts = append(nameParts, sanitizeName(part))
		}
	}
	return strings.Join(nameParts, "_")
}

// --- Helpers ---

// sanitizeName removes characters unsuitable for identifiers and replaces them.
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	replacer := strings.NewReplacer(" ", "_", "-", "_", "/", "_", ".", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return strings.Trim(name, "_")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
