package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i2y/merchanttools/internal/domain"
)

// TemplateSource produces tool templates from an external API description.
type TemplateSource interface {
	Import(ctx context.Context, merchantID, src string, headers map[string]string) ([]domain.Template, error)
}

// ImportTemplatesUseCase loads templates from a source into a store.
type ImportTemplatesUseCase struct {
	source TemplateSource
	store  StoreWriter
	logger *slog.Logger
}

// NewImportTemplatesUseCase creates a new ImportTemplatesUseCase.
func NewImportTemplatesUseCase(source TemplateSource, store StoreWriter, logger *slog.Logger) *ImportTemplatesUseCase {
	return &ImportTemplatesUseCase{
		source: source,
		store:  store,
		logger: logger.With("usecase", "import_templates"),
	}
}

// Execute imports src for merchantID, attaching credentialID to every
// generated template. It returns the number of templates saved.
func (uc *ImportTemplatesUseCase) Execute(ctx context.Context, merchantID, src, credentialID string, headers map[string]string) (int, error) {
	log := uc.logger.With(slog.String("merchant_id", merchantID), slog.String("source", src))
	log.Info("Importing templates")

	templates, err := uc.source.Import(ctx, merchantID, src, headers)
	if err != nil {
		log.Error("Failed to import templates", slog.Any("error", err))
		return 0, fmt.Errorf("import templates from %s: %w", src, err)
	}

	saved := 0
	for _, t := range templates {
		if t.CredentialID == "" {
			t.CredentialID = credentialID
		}
		if _, err := uc.store.SaveTemplate(ctx, t); err != nil {
			log.Warn("Failed to save imported template", slog.String("tool_type", t.ToolType), slog.Any("error", err))
			continue
		}
		saved++
	}
	log.Info("Imported templates", slog.Int("count", saved), slog.Int("skipped", len(templates)-saved))
	return saved, nil
}
