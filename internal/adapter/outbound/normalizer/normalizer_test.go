package normalizer_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/merchanttools/internal/adapter/outbound/normalizer"
	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func success(t *testing.T, s string) *domain.ExecutionResult {
	return &domain.ExecutionResult{Success: true, Status: 200, Data: decode(t, s)}
}

func merchant() domain.Merchant {
	return domain.Merchant{ID: "m1", Name: "Glow Store"}
}

func aiMerchant() domain.Merchant {
	m := merchant()
	m.AI = &domain.AIConfig{Provider: "openai", Model: "gpt-4o-mini"}
	return m
}

func cacheWith(c usecase.AICompleter) *normalizer.ClientCache {
	return normalizer.NewClientCache(func(domain.AIConfig) (usecase.AICompleter, error) { return c, nil }, testLogger)
}

func f(v float64) *float64 { return &v }

func TestNormalize_HeuristicShapes(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantName string
		price    *float64
		original *float64
		discount string
		image    string
		brand    string
		category string
	}{
		{
			name:     "nested effective and marked ranges",
			payload:  `{"items":[{"title":"Red Lipstick","price":{"effective":{"min":499},"marked":{"min":699}}}]}`,
			wantName: "Red Lipstick",
			price:    f(499),
			original: f(699),
			discount: "29% off",
		},
		{
			name:     "effective range only",
			payload:  `{"products":[{"name":"Kajal","price":{"effective":{"min":599}}}]}`,
			wantName: "Kajal",
			price:    f(599),
		},
		{
			name:     "marked only gives original price",
			payload:  `{"data":{"list":[{"name":"Serum","price":{"marked":599}}]}}`,
			wantName: "Serum",
			original: f(599),
		},
		{
			name:     "flat fields with strings",
			payload:  `{"results":[{"product_name":"Face Wash","selling_price":"₹1,299.50","mrp":"Rs. 1,500","brand":{"name":"Acme"},"categories":[{"name":"Skin"}],"images":["https://img/1.png"]}]}`,
			wantName: "Face Wash",
			price:    f(1299.5),
			original: f(1500),
			discount: "13% off",
			image:    "https://img/1.png",
			brand:    "Acme",
			category: "Skin",
		},
		{
			name:     "medias and explicit discount",
			payload:  `[{"name":"Toner","price":250,"discount":"10% off","medias":[{"url":"https://img/t.png"}],"brand":"Zed","category":"Care"}]`,
			wantName: "Toner",
			price:    f(250),
			discount: "10% off",
			image:    "https://img/t.png",
			brand:    "Zed",
			category: "Care",
		},
	}

	n := normalizer.New(nil, testLogger)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(context.Background(), usecase.NormalizeInput{
				ToolName: "search",
				Result:   success(t, tt.payload),
				Merchant: merchant(),
			})
			require.Len(t, got.Products, 1)
			item := got.Products[0]
			assert.Equal(t, tt.wantName, item.Name)
			assert.Equal(t, tt.price, item.Price)
			assert.Equal(t, tt.original, item.OriginalPrice)
			assert.Equal(t, tt.discount, item.Discount)
			assert.Equal(t, tt.image, item.Image)
			assert.Equal(t, tt.brand, item.Brand)
			assert.Equal(t, tt.category, item.Category)
			assert.Equal(t, "₹", item.Currency)
			assert.Equal(t, normalizer.SourceHeuristic, got.Source)
			assert.Equal(t, 1, got.TotalCount)
		})
	}
}

func TestNormalize_CapsAndTotals(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"pagination":{"total":250},"items":[`)
	for i := 0; i < 30; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"name":"Item","price":10}`)
	}
	sb.WriteString(`,{"name":"Unknown Product"}]}`)

	n := normalizer.New(nil, testLogger)
	got := n.Normalize(context.Background(), usecase.NormalizeInput{ToolName: "search", Result: success(t, sb.String()), Merchant: merchant()})

	assert.Len(t, got.Products, domain.MaxItems)
	assert.Equal(t, 250, got.TotalCount)
	assert.Equal(t, "Showing 12 of 250 products from Glow Store", got.Summary)
}

func TestNormalize_DropsUnknownProduct(t *testing.T) {
	n := normalizer.New(nil, testLogger)
	got := n.Normalize(context.Background(), usecase.NormalizeInput{
		Result:   success(t, `{"items":[{"name":"Unknown Product"},{"name":"Real","price":"12"}]}`),
		Merchant: merchant(),
	})
	require.Len(t, got.Products, 1)
	assert.Equal(t, "Real", got.Products[0].Name)
	assert.Equal(t, f(12), got.Products[0].Price)
}

func TestNormalize_NeverFails(t *testing.T) {
	deep := strings.Repeat(`{"a":`, 200) + `1` + strings.Repeat(`}`, 200)
	inputs := map[string]*domain.ExecutionResult{
		"nil result":   nil,
		"empty object": success(t, `{}`),
		"null data":    {Success: true, Status: 200},
		"deep nesting": success(t, deep),
		"scalar":       success(t, `"just text"`),
		"wide":         success(t, `{"x":[1,2,3],"y":{"z":[[],[{}]]}}`),
	}
	n := normalizer.New(nil, testLogger)
	for name, res := range inputs {
		t.Run(name, func(t *testing.T) {
			var got domain.NormalizedResult
			require.NotPanics(t, func() {
				got = n.Normalize(context.Background(), usecase.NormalizeInput{ToolName: "t", Result: res, Merchant: merchant()})
			})
			assert.NotNil(t, got.Products)
			assert.Empty(t, got.Products)
			assert.NotEmpty(t, got.Summary)
		})
	}
}

func TestNormalize_GuardWithoutData(t *testing.T) {
	n := normalizer.New(nil, testLogger)
	got := n.Normalize(context.Background(), usecase.NormalizeInput{Result: &domain.ExecutionResult{}, Merchant: merchant()})
	assert.Equal(t, "No data received", got.Summary)
	assert.Equal(t, normalizer.SourceNone, got.Source)
	assert.Empty(t, got.Products)
}

func TestNormalize_ItemsPath(t *testing.T) {
	payload := `{"meta":{"count":2},"payload":{"catalogue":[{"label":"A"},{"label":"B"}]}}`
	n := normalizer.New(nil, testLogger)

	got := n.Normalize(context.Background(), usecase.NormalizeInput{
		Result:    success(t, payload),
		Merchant:  merchant(),
		ItemsPath: ".payload.catalogue",
	})
	require.Len(t, got.Products, 2)
	assert.Equal(t, "B", got.Products[1].Name)
	assert.Empty(t, got.Degraded)

	got = n.Normalize(context.Background(), usecase.NormalizeInput{
		Result:    success(t, payload),
		Merchant:  merchant(),
		ItemsPath: ".payload.[[",
	})
	require.Len(t, got.Degraded, 1)
	assert.Equal(t, "items_path", got.Degraded[0].Step)
}

func TestNormalize_AIPath(t *testing.T) {
	fake := &fakeCompleter{reply: "```json\n" +
		`{"products":[{"id":"p1","name":"Red Lipstick","price":"₹499","originalPrice":699},{"name":"Unknown Product"}],"totalCount":40,"summary":"Lipsticks on sale"}` +
		"\n```"}
	n := normalizer.New(cacheWith(fake), testLogger)

	got := n.Normalize(context.Background(), usecase.NormalizeInput{
		ToolName: "search",
		Result:   success(t, `{"html":"<div>…</div>"}`),
		Merchant: aiMerchant(),
	})

	require.Len(t, got.Products, 1)
	assert.Equal(t, normalizer.SourceAI, got.Source)
	assert.Equal(t, f(499), got.Products[0].Price)
	assert.Equal(t, "29% off", got.Products[0].Discount)
	assert.Equal(t, "₹", got.Products[0].Currency)
	assert.Equal(t, 40, got.TotalCount)
	assert.Equal(t, "Lipsticks on sale", got.Summary)
	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], `"search"`)
	assert.Contains(t, fake.prompts[0], "Glow Store")
}

func TestNormalize_AISingleObject(t *testing.T) {
	fake := &fakeCompleter{reply: `{"products":{"name":"Solo","price":5},"summary":"one"}`}
	n := normalizer.New(cacheWith(fake), testLogger)
	got := n.Normalize(context.Background(), usecase.NormalizeInput{Result: success(t, `{}`), Merchant: aiMerchant()})
	require.Len(t, got.Products, 1)
	assert.Equal(t, "Solo", got.Products[0].Name)
	assert.Equal(t, 1, got.TotalCount)
}

func TestNormalize_AIFallbacks(t *testing.T) {
	payload := `{"items":[{"name":"A","price":1},{"name":"B","price":2},{"name":"C","price":3}]}`
	tests := []struct {
		name       string
		fake       *fakeCompleter
		wantSource string
		wantLen    int
		degraded   bool
	}{
		{"backend error", &fakeCompleter{err: errors.New("rate limited")}, normalizer.SourceHeuristic, 3, true},
		{"malformed reply", &fakeCompleter{reply: "not json"}, normalizer.SourceHeuristic, 3, true},
		{"empty products", &fakeCompleter{reply: `{"products":[],"summary":"none"}`}, normalizer.SourceHeuristic, 3, false},
		{"fewer items loses", &fakeCompleter{reply: `{"products":[{"name":"A"}]}`}, normalizer.SourceHeuristic, 3, false},
		{"tie goes to AI", &fakeCompleter{reply: `{"products":[{"name":"A"},{"name":"B"},{"name":"C"}]}`}, normalizer.SourceAI, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := normalizer.New(cacheWith(tt.fake), testLogger)
			got := n.Normalize(context.Background(), usecase.NormalizeInput{Result: success(t, payload), Merchant: aiMerchant()})
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Len(t, got.Products, tt.wantLen)
			assert.Equal(t, tt.degraded, len(got.Degraded) > 0)
		})
	}
}

func TestNormalize_PromptIsBounded(t *testing.T) {
	fake := &fakeCompleter{reply: `{"products":[]}`}
	n := normalizer.New(cacheWith(fake), testLogger)
	big := map[string]any{"blob": strings.Repeat("x", 50000)}
	n.Normalize(context.Background(), usecase.NormalizeInput{Result: &domain.ExecutionResult{Success: true, Data: big}, Merchant: aiMerchant()})

	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "[truncated]")
	assert.Less(t, len(fake.prompts[0]), 17000)
}

func TestClientCache(t *testing.T) {
	var built atomic.Int32
	cache := normalizer.NewClientCache(func(domain.AIConfig) (usecase.AICompleter, error) {
		built.Add(1)
		return &fakeCompleter{}, nil
	}, testLogger)

	_, err := cache.Get(merchant())
	assert.ErrorIs(t, err, usecase.ErrNoAIBackend)

	m := aiMerchant()
	first, err := cache.Get(m)
	require.NoError(t, err)
	again, err := cache.Get(m)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.EqualValues(t, 1, built.Load())

	cache.Invalidate(m.ID)
	assert.Equal(t, 0, cache.Len())
	_, err = cache.Get(m)
	require.NoError(t, err)
	assert.EqualValues(t, 2, built.Load())

	m.AI = &domain.AIConfig{Provider: "anthropic", Model: "claude-haiku"}
	_, err = cache.Get(m)
	require.NoError(t, err)
	assert.EqualValues(t, 3, built.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestClientCache_FactoryError(t *testing.T) {
	cache := normalizer.NewClientCache(func(domain.AIConfig) (usecase.AICompleter, error) {
		return nil, errors.New("bad provider")
	}, testLogger)
	n := normalizer.New(cache, testLogger)
	got := n.Normalize(context.Background(), usecase.NormalizeInput{
		Result:   success(t, `{"items":[{"name":"A"}]}`),
		Merchant: aiMerchant(),
	})
	assert.Equal(t, normalizer.SourceHeuristic, got.Source)
	require.Len(t, got.Degraded, 1)
	assert.Equal(t, "ai", got.Degraded[0].Step)
}
