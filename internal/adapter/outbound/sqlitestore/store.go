// Package sqlitestore persists merchants, credentials and tool templates in
// SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
)

const schema = `
CREATE TABLE IF NOT EXISTS merchants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL DEFAULT '',
	ai_provider TEXT,
	ai_model TEXT,
	ai_api_key TEXT,
	ai_base_url TEXT
);

CREATE TABLE IF NOT EXISTS credentials (
	id TEXT PRIMARY KEY,
	merchant_id TEXT NOT NULL,
	auth_type TEXT NOT NULL,
	token TEXT NOT NULL DEFAULT '',
	api_key_header TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	password TEXT NOT NULL DEFAULT '',
	custom_headers TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS templates (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	merchant_id TEXT NOT NULL,
	tool_type TEXT NOT NULL,
	doc TEXT NOT NULL,
	UNIQUE (merchant_id, tool_type)
);

CREATE INDEX IF NOT EXISTS idx_templates_merchant ON templates(merchant_id, seq);
`

// Store implements the merchant, template and credential stores on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ usecase.MerchantStore   = (*Store)(nil)
	_ usecase.TemplateStore   = (*Store)(nil)
	_ usecase.CredentialStore = (*Store)(nil)
	_ usecase.StoreWriter     = (*Store)(nil)
)

// Open opens (and creates if needed) the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	s := &Store{db: db, logger: logger.With("component", "sqlite_store")}
	s.logger.Info("SQLite store opened", slog.String("path", path))
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMerchant stores or replaces a merchant.
func (s *Store) SaveMerchant(ctx context.Context, m domain.Merchant) error {
	if m.ID == "" {
		return fmt.Errorf("save merchant: empty id")
	}
	var provider, model, apiKey, baseURL sql.NullString
	if m.AI != nil {
		provider = sql.NullString{String: m.AI.Provider, Valid: true}
		model = sql.NullString{String: m.AI.Model, Valid: true}
		apiKey = sql.NullString{String: m.AI.APIKey, Valid: true}
		baseURL = sql.NullString{String: m.AI.BaseURL, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchants (id, name, currency, ai_provider, ai_model, ai_api_key, ai_base_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			currency = excluded.currency,
			ai_provider = excluded.ai_provider,
			ai_model = excluded.ai_model,
			ai_api_key = excluded.ai_api_key,
			ai_base_url = excluded.ai_base_url`,
		m.ID, m.Name, m.Currency, provider, model, apiKey, baseURL)
	if err != nil {
		return fmt.Errorf("save merchant %s: %w", m.ID, err)
	}
	return nil
}

// SaveCredential stores or replaces a credential.
func (s *Store) SaveCredential(ctx context.Context, c domain.Credential) error {
	if c.ID == "" {
		return fmt.Errorf("save credential: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, merchant_id, auth_type, token, api_key_header, username, password, custom_headers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			merchant_id = excluded.merchant_id,
			auth_type = excluded.auth_type,
			token = excluded.token,
			api_key_header = excluded.api_key_header,
			username = excluded.username,
			password = excluded.password,
			custom_headers = excluded.custom_headers`,
		c.ID, c.MerchantID, string(c.AuthType), c.Token, c.APIKeyHeader, c.Username, c.Password, c.CustomHeaders)
	if err != nil {
		return fmt.Errorf("save credential %s: %w", c.ID, err)
	}
	return nil
}

// SaveTemplate upserts a template keyed by (merchant, tool type). Custom
// templates get a generated tool type key.
func (s *Store) SaveTemplate(ctx context.Context, t domain.Template) (domain.Template, error) {
	if t.MerchantID == "" {
		return domain.Template{}, fmt.Errorf("save template: empty merchant id")
	}
	t.ToolType = strings.TrimSpace(t.ToolType)
	if t.ToolType == "" || t.ToolType == domain.CustomToolType {
		t.ToolType = domain.CustomToolPrefix + uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, fmt.Errorf("save template: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM templates WHERE merchant_id = ? AND tool_type = ?`,
		t.MerchantID, t.ToolType).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.Template{}, fmt.Errorf("save template: %w", err)
	}
	if t.ID == "" {
		t.ID = existingID
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	doc, err := json.Marshal(t)
	if err != nil {
		return domain.Template{}, fmt.Errorf("encode template: %w", err)
	}
	if existingID != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE templates SET id = ?, doc = ? WHERE merchant_id = ? AND tool_type = ?`,
			t.ID, string(doc), t.MerchantID, t.ToolType)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO templates (id, merchant_id, tool_type, doc) VALUES (?, ?, ?, ?)`,
			t.ID, t.MerchantID, t.ToolType, string(doc))
	}
	if err != nil {
		return domain.Template{}, fmt.Errorf("save template %s: %w", t.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, fmt.Errorf("save template: %w", err)
	}
	s.logger.Debug("Saved template", slog.String("merchant_id", t.MerchantID), slog.String("tool_type", t.ToolType))
	return t, nil
}

// GetMerchant returns usecase.ErrMerchantNotFound for unknown ids.
func (s *Store) GetMerchant(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	var (
		m                                domain.Merchant
		provider, model, apiKey, baseURL sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, currency, ai_provider, ai_model, ai_api_key, ai_base_url
		FROM merchants WHERE id = ?`, merchantID).
		Scan(&m.ID, &m.Name, &m.Currency, &provider, &model, &apiKey, &baseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, usecase.ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant %s: %w", merchantID, err)
	}
	if provider.Valid {
		m.AI = &domain.AIConfig{
			Provider: provider.String,
			Model:    model.String,
			APIKey:   apiKey.String,
			BaseURL:  baseURL.String,
		}
	}
	return &m, nil
}

// GetTemplatesForMerchant returns the merchant's templates in insertion order.
// Rows that fail to decode are skipped and logged.
func (s *Store) GetTemplatesForMerchant(ctx context.Context, merchantID string) ([]domain.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc FROM templates WHERE merchant_id = ? ORDER BY seq`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list templates for %s: %w", merchantID, err)
	}
	defer rows.Close()

	list := []domain.Template{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		var t domain.Template
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			s.logger.Warn("Skipping undecodable template", slog.String("template_id", id), slog.Any("error", err))
			continue
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates for %s: %w", merchantID, err)
	}
	return list, nil
}

// GetCredential returns nil, nil when the credential does not exist.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (*domain.Credential, error) {
	var (
		c        domain.Credential
		authType string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, auth_type, token, api_key_header, username, password, custom_headers
		FROM credentials WHERE id = ?`, credentialID).
		Scan(&c.ID, &c.MerchantID, &authType, &c.Token, &c.APIKeyHeader, &c.Username, &c.Password, &c.CustomHeaders)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", credentialID, err)
	}
	c.AuthType = domain.AuthType(authType)
	return &c, nil
}
