package openapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
)

// Importer implements usecase.TemplateSource for OpenAPI documents.
type Importer struct {
	fetcher   *Fetcher
	generator *TemplateGenerator
}

var _ usecase.TemplateSource = (*Importer)(nil)

// NewImporter creates an Importer that fetches documents with client.
func NewImporter(client *http.Client, logger *slog.Logger, opts ...FetcherOption) *Importer {
	return &Importer{
		fetcher:   NewFetcher(client, logger, opts...),
		generator: NewTemplateGenerator(logger),
	}
}

// Import fetches src and generates the merchant's templates from it.
func (i *Importer) Import(ctx context.Context, merchantID, src string, headers map[string]string) ([]domain.Template, error) {
	doc, err := i.fetcher.Fetch(ctx, src, headers)
	if err != nil {
		return nil, err
	}
	return i.generator.Generate(merchantID, src, doc)
}
