package memrepo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
)

// Store provides an in-memory implementation of the merchant, template and
// credential stores.
// NOTE: This implementation is not persistent and data will be lost on restart.
type Store struct {
	mu          sync.RWMutex
	merchants   map[string]domain.Merchant
	credentials map[string]domain.Credential
	templates   map[string][]domain.Template // merchant id to templates, in insertion order
	logger      *slog.Logger
}

var (
	_ usecase.MerchantStore   = (*Store)(nil)
	_ usecase.TemplateStore   = (*Store)(nil)
	_ usecase.CredentialStore = (*Store)(nil)
	_ usecase.StoreWriter     = (*Store)(nil)
)

// NewStore creates a new in-memory store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		merchants:   make(map[string]domain.Merchant),
		credentials: make(map[string]domain.Credential),
		templates:   make(map[string][]domain.Template),
		logger:      logger.With("component", "mem_repo"),
	}
}

// SaveMerchant stores or replaces a merchant.
func (s *Store) SaveMerchant(ctx context.Context, m domain.Merchant) error {
	if m.ID == "" {
		return fmt.Errorf("save merchant: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.AI != nil {
		ai := *m.AI
		m.AI = &ai
	}
	s.merchants[m.ID] = m
	s.logger.Debug("Saved merchant", slog.String("merchant_id", m.ID))
	return nil
}

// SaveCredential stores or replaces a credential.
func (s *Store) SaveCredential(ctx context.Context, c domain.Credential) error {
	if c.ID == "" {
		return fmt.Errorf("save credential: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[c.ID] = c
	s.logger.Debug("Saved credential", slog.String("credential_id", c.ID), slog.String("merchant_id", c.MerchantID))
	return nil
}

// SaveTemplate upserts a template. A merchant has at most one template per
// tool type; saving another one for the same tool type replaces it. Custom
// templates get a generated tool type key and never replace each other.
func (s *Store) SaveTemplate(ctx context.Context, t domain.Template) (domain.Template, error) {
	if t.MerchantID == "" {
		return domain.Template{}, fmt.Errorf("save template: empty merchant id")
	}
	t.ToolType = strings.TrimSpace(t.ToolType)
	if t.ToolType == "" || t.ToolType == domain.CustomToolType {
		t.ToolType = domain.CustomToolPrefix + uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.templates[t.MerchantID]
	for i, existing := range list {
		if existing.ToolType == t.ToolType {
			if t.ID == "" {
				t.ID = existing.ID
			}
			list[i] = t
			s.logger.Info("Replaced template",
				slog.String("merchant_id", t.MerchantID),
				slog.String("tool_type", t.ToolType))
			return t, nil
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.templates[t.MerchantID] = append(list, t)
	s.logger.Info("Saved template",
		slog.String("merchant_id", t.MerchantID),
		slog.String("tool_type", t.ToolType),
		slog.Int("total_templates", len(s.templates[t.MerchantID])))
	return t, nil
}

// GetMerchant retrieves a merchant by id.
func (s *Store) GetMerchant(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.merchants[merchantID]
	if !ok {
		s.logger.Warn("Merchant not found", slog.String("merchant_id", merchantID))
		return nil, usecase.ErrMerchantNotFound
	}
	if m.AI != nil {
		ai := *m.AI
		m.AI = &ai
	}
	return &m, nil
}

// GetTemplatesForMerchant returns a copy of the merchant's templates.
func (s *Store) GetTemplatesForMerchant(ctx context.Context, merchantID string) ([]domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]domain.Template, len(s.templates[merchantID]))
	copy(list, s.templates[merchantID])
	s.logger.Debug("Listed templates", slog.String("merchant_id", merchantID), slog.Int("count", len(list)))
	return list, nil
}

// GetCredential returns nil, nil when the credential does not exist.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[credentialID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
