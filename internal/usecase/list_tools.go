package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i2y/merchanttools/internal/domain"
)

// ResolvedTool pairs a published tool with the template it was derived from.
type ResolvedTool struct {
	Tool     domain.Tool
	Template domain.Template
}

// ListToolsUseCase derives the tool set of a merchant from its templates.
// Nothing is cached: tools are recomputed on every discovery request.
type ListToolsUseCase struct {
	merchants MerchantStore
	templates TemplateStore
	deriver   SchemaDeriver
	logger    *slog.Logger
}

// NewListToolsUseCase creates a new ListToolsUseCase.
func NewListToolsUseCase(merchants MerchantStore, templates TemplateStore, deriver SchemaDeriver, logger *slog.Logger) *ListToolsUseCase {
	return &ListToolsUseCase{
		merchants: merchants,
		templates: templates,
		deriver:   deriver,
		logger:    logger.With("usecase", "ListTools"),
	}
}

// Merchant looks up the merchant identity.
func (uc *ListToolsUseCase) Merchant(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	m, err := uc.merchants.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant %s: %w", merchantID, err)
	}
	return m, nil
}

// Resolve derives every tool of the merchant, keeping the source template
// next to each one. Duplicate names get a numeric suffix so that names stay
// unique per merchant.
func (uc *ListToolsUseCase) Resolve(ctx context.Context, merchantID string) ([]ResolvedTool, error) {
	_, resolved, err := uc.resolve(ctx, merchantID)
	return resolved, err
}

func (uc *ListToolsUseCase) resolve(ctx context.Context, merchantID string) (*domain.Merchant, []ResolvedTool, error) {
	log := uc.logger.With(slog.String("merchant_id", merchantID))

	merchant, err := uc.Merchant(ctx, merchantID)
	if err != nil {
		log.Warn("Merchant lookup failed", slog.Any("error", err))
		return nil, nil, err
	}

	templates, err := uc.templates.GetTemplatesForMerchant(ctx, merchantID)
	if err != nil {
		log.Error("Failed to load templates", slog.Any("error", err))
		return nil, nil, fmt.Errorf("failed to load templates for merchant %s: %w", merchantID, err)
	}

	resolved := make([]ResolvedTool, 0, len(templates))
	seen := make(map[string]int, len(templates))
	for _, t := range templates {
		tool := uc.deriver.Derive(t)
		if n := seen[tool.Name]; n > 0 {
			renamed := fmt.Sprintf("%s_%d", tool.Name, n+1)
			log.Warn("Duplicate tool name, renaming", slog.String("tool_name", tool.Name), slog.String("renamed", renamed))
			seen[tool.Name] = n + 1
			tool.Name = renamed
		} else {
			seen[tool.Name] = 1
		}
		resolved = append(resolved, ResolvedTool{Tool: tool, Template: t})
	}
	log.Debug("Resolved tools", slog.Int("count", len(resolved)))
	return merchant, resolved, nil
}

// Execute returns the tool definitions of the merchant.
func (uc *ListToolsUseCase) Execute(ctx context.Context, merchantID string) ([]domain.Tool, error) {
	resolved, err := uc.Resolve(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	tools := make([]domain.Tool, 0, len(resolved))
	for _, r := range resolved {
		tools = append(tools, r.Tool)
	}
	uc.logger.Info("Successfully listed tools", slog.String("merchant_id", merchantID), slog.Int("count", len(tools)))
	return tools, nil
}

// Find returns the merchant together with its resolved tool named toolName.
// The merchant is returned even when the tool is missing (ErrToolNotFound).
func (uc *ListToolsUseCase) Find(ctx context.Context, merchantID, toolName string) (*domain.Merchant, *ResolvedTool, error) {
	merchant, resolved, err := uc.resolve(ctx, merchantID)
	if err != nil {
		return nil, nil, err
	}
	for i := range resolved {
		if resolved[i].Tool.Name == toolName {
			return merchant, &resolved[i], nil
		}
	}
	return merchant, nil, ErrToolNotFound
}
