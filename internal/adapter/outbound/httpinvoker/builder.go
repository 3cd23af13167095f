package httpinvoker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dario.cat/mergo"

	"github.com/i2y/merchanttools/internal/domain"
)

// Builder implements the usecase.RequestBuilder interface. It keeps no state
// between calls, so identical inputs always yield identical requests.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a new request Builder.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{
		logger: logger.With("component", "request_builder"),
	}
}

// bearerTokenArg is the argument that overrides a bearer credential's token.
const bearerTokenArg = "token"

// Build renders t with args and injects authentication from cred.
// Missing arguments leave their placeholder text in place.
func (b *Builder) Build(t domain.Template, cred *domain.Credential, args map[string]any) (domain.HTTPRequest, []domain.Degraded) {
	var degraded []domain.Degraded

	method := strings.ToUpper(strings.TrimSpace(t.Method))
	if method == "" {
		method = "GET"
	}

	headers := map[string]string{"Content-Type": "application/json"}
	templateHeaders := make(map[string]string, len(t.Headers))
	for _, h := range t.Headers {
		if h.Key == "" {
			continue
		}
		templateHeaders[h.Key] = h.Value
	}
	if err := mergo.Merge(&headers, templateHeaders, mergo.WithOverride); err != nil {
		degraded = append(degraded, domain.Degraded{Step: "headers", Reason: err.Error()})
	}

	req := domain.HTTPRequest{
		Method:  method,
		URL:     t.URL,
		Headers: headers,
	}
	if t.TimeoutSeconds > 0 {
		req.Timeout = time.Duration(t.TimeoutSeconds) * time.Second
	}

	params := make(map[string]string)
	for _, qp := range t.QueryParams {
		if qp.Key == "" {
			continue
		}
		params[qp.Key] = domain.SubstitutePlaceholders(qp.Value, args)
	}

	switch {
	case domain.HasBody(method):
		req.Body = renderBody(t.Body, args)
	case method == "GET":
		// Arguments map 1:1 onto query keys. A bearer override stays out of
		// the URL.
		bearer := cred != nil && cred.AuthType == domain.AuthBearer
		for k, v := range args {
			if bearer && k == bearerTokenArg {
				continue
			}
			params[k] = domain.Stringify(v)
		}
	}
	if len(params) > 0 {
		req.Params = params
	}

	if d := b.injectAuth(&req, cred, args); d != nil {
		b.logger.Warn("Authentication injection degraded", slog.String("reason", d.Reason))
		degraded = append(degraded, *d)
	}
	return req, degraded
}

// renderBody returns a substituted copy of the body tree. The template value
// is never modified.
func renderBody(v any, args map[string]any) any {
	switch x := v.(type) {
	case string:
		return domain.SubstitutePlaceholders(x, args)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = renderBody(e, args)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = renderBody(e, args)
		}
		return out
	default:
		return x
	}
}

// injectAuth adds credential headers. Problems are returned, never fatal.
func (b *Builder) injectAuth(req *domain.HTTPRequest, cred *domain.Credential, args map[string]any) *domain.Degraded {
	if cred == nil {
		return nil
	}
	switch cred.AuthType {
	case domain.AuthBearer:
		token := cred.Token
		if v, ok := args[bearerTokenArg].(string); ok && v != "" {
			token = v
		}
		if token == "" {
			return &domain.Degraded{Step: "auth", Reason: "bearer credential has no token"}
		}
		req.Headers["Authorization"] = "Bearer " + token
	case domain.AuthAPIKey:
		name, value, ok := strings.Cut(cred.APIKeyHeader, ":")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" {
			return &domain.Degraded{Step: "auth", Reason: "api_key credential is not in \"Header-Name: value\" form"}
		}
		req.Headers[name] = value
	case domain.AuthBasic:
		raw := cred.Username + ":" + cred.Password
		req.Headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	case domain.AuthCustom:
		var custom map[string]any
		if err := json.Unmarshal([]byte(cred.CustomHeaders), &custom); err != nil {
			return &domain.Degraded{Step: "auth", Reason: fmt.Sprintf("custom headers are not a JSON object: %v", err)}
		}
		for k, v := range custom {
			req.Headers[k] = domain.Stringify(v)
		}
	case domain.AuthNone, "":
	default:
		return &domain.Degraded{Step: "auth", Reason: fmt.Sprintf("unknown auth type %q", cred.AuthType)}
	}
	return nil
}
