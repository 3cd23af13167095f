package normalizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
)

const (
	SourceAI        = "ai"
	SourceHeuristic = "heuristic"
	SourceNone      = "none"

	noDataSummary = "No data received"
)

// DefaultAITimeout bounds one AI extraction call.
const DefaultAITimeout = 20 * time.Second

// Normalizer converts arbitrary tool responses into the canonical item list.
// It tries the merchant's AI backend first and falls back to a structural
// walk of the payload.
type Normalizer struct {
	clients   *ClientCache
	aiTimeout time.Duration
	logger    *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithAITimeout overrides DefaultAITimeout.
func WithAITimeout(d time.Duration) Option {
	return func(n *Normalizer) {
		if d > 0 {
			n.aiTimeout = d
		}
	}
}

// New creates a Normalizer. clients may be nil, in which case only the
// heuristic path is used.
func New(clients *ClientCache, logger *slog.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		clients:   clients,
		aiTimeout: DefaultAITimeout,
		logger:    logger.With("component", "normalizer"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Invalidate drops the cached AI client of a merchant.
func (n *Normalizer) Invalidate(merchantID string) {
	if n.clients != nil {
		n.clients.Invalidate(merchantID)
	}
}

// Normalize implements usecase.ResponseNormalizer. It never panics and
// always returns a well-formed result.
func (n *Normalizer) Normalize(ctx context.Context, in usecase.NormalizeInput) (out domain.NormalizedResult) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Normalization panicked", slog.String("tool", in.ToolName), slog.Any("panic", r))
			out = emptyResult(in.Result, in.Merchant)
			out.Degraded = append(out.Degraded, domain.Degraded{Step: "normalize", Reason: fmt.Sprint(r)})
		}
	}()

	if in.Result == nil || (in.Result.Data == nil && !in.Result.Success) {
		var raw any
		if in.Result != nil {
			raw = *in.Result
		}
		return domain.NormalizedResult{Products: []domain.Item{}, Summary: noDataSummary, Raw: raw, Source: SourceNone}
	}

	payload := in.Result.Data
	currency := in.Merchant.CurrencySymbol()
	var degraded []domain.Degraded

	aiResult, aiErr := n.extractWithAI(ctx, in.ToolName, in.Merchant, payload, currency)
	switch {
	case aiErr == nil:
	case errors.Is(aiErr, usecase.ErrNoAIBackend):
	default:
		n.logger.Warn("AI extraction failed, using heuristic",
			slog.String("merchant_id", in.Merchant.ID),
			slog.String("tool", in.ToolName),
			slog.Any("error", aiErr))
		degraded = append(degraded, domain.Degraded{Step: "ai", Reason: aiErr.Error()})
	}

	candidates := []any(nil)
	if in.ItemsPath != "" {
		selected, err := selectItems(in.ItemsPath, payload)
		if err != nil {
			n.logger.Warn("Items path failed, walking payload",
				slog.String("tool", in.ToolName),
				slog.Any("error", err))
			degraded = append(degraded, domain.Degraded{Step: "items_path", Reason: err.Error()})
		} else {
			candidates = selected
		}
	}
	h := extractHeuristic(payload, candidates, currency)
	heuristic := domain.NormalizedResult{
		Products:   h.items,
		TotalCount: h.total,
		Summary:    summarize(h.items, h.total, in.Merchant),
		Source:     SourceHeuristic,
	}

	// The longer list wins; on a tie the AI result is kept.
	out = heuristic
	if aiErr == nil && len(aiResult.Products) >= len(heuristic.Products) {
		out = aiResult
		if out.Summary == "" {
			out.Summary = summarize(out.Products, out.TotalCount, in.Merchant)
		}
	}
	if out.Products == nil {
		out.Products = []domain.Item{}
	}
	if out.TotalCount < len(out.Products) {
		out.TotalCount = len(out.Products)
	}
	out.Raw = payload
	out.Degraded = degraded

	n.logger.Debug("Normalized response",
		slog.String("merchant_id", in.Merchant.ID),
		slog.String("tool", in.ToolName),
		slog.String("source", out.Source),
		slog.Int("products", len(out.Products)))
	return out
}

func (n *Normalizer) extractWithAI(ctx context.Context, toolName string, merchant domain.Merchant, payload any, currency string) (domain.NormalizedResult, error) {
	if n.clients == nil {
		return domain.NormalizedResult{}, usecase.ErrNoAIBackend
	}
	client, err := n.clients.Get(merchant)
	if err != nil {
		return domain.NormalizedResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, n.aiTimeout)
	defer cancel()

	text, err := client.Complete(ctx, buildPrompt(toolName, merchant, payload))
	if err != nil {
		return domain.NormalizedResult{}, fmt.Errorf("AI completion: %w", err)
	}
	result, err := parseAIReply(text, currency)
	if err != nil {
		return domain.NormalizedResult{}, err
	}
	result.Source = SourceAI
	return result, nil
}

func emptyResult(res *domain.ExecutionResult, merchant domain.Merchant) domain.NormalizedResult {
	var raw any
	if res != nil {
		raw = res.Data
	}
	return domain.NormalizedResult{
		Products: []domain.Item{},
		Summary:  summarize(nil, 0, merchant),
		Raw:      raw,
		Source:   SourceNone,
	}
}

func summarize(items []domain.Item, total int, merchant domain.Merchant) string {
	name := merchant.Name
	if name == "" {
		name = merchant.ID
	}
	switch {
	case len(items) == 0:
		return "No products found"
	case total > len(items):
		return fmt.Sprintf("Showing %d of %d products from %s", len(items), total, name)
	case len(items) == 1:
		return fmt.Sprintf("Found 1 product from %s", name)
	default:
		return fmt.Sprintf("Found %d products from %s", len(items), name)
	}
}
