package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"slidecast/internal/domain"
	"slidecast/internal/infra"
	"slidecast/internal/sqlinline"
)

// Store resolves provider API keys, preferring the database over static fallbacks.
type Store struct {
	sql       infra.SQLExecutor
	fallbacks map[domain.ProviderType]string
}

// NewStore builds a store. sql may be nil, in which case only fallbacks are used.
func NewStore(sql infra.SQLExecutor, fallbacks map[domain.ProviderType]string) *Store {
	return &Store{sql: sql, fallbacks: fallbacks}
}

// APIKey returns the key stored for provider, or its fallback when no row exists.
func (s *Store) APIKey(ctx context.Context, provider domain.ProviderType) (string, error) {
	token, err := s.Token(ctx, string(provider))
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}
	return strings.TrimSpace(s.fallbacks[provider]), nil
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	if s.sql == nil {
		return "", nil
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectProviderCredential, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetAPIKey stores key for provider, replacing any previous value.
func (s *Store) SetAPIKey(ctx context.Context, provider domain.ProviderType, key string, props map[string]any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("credentials: api key is required")
	}
	if s.sql == nil {
		return errors.New("credentials: no database configured")
	}
	return s.upsert(ctx, string(provider), key, props)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertProviderCredential, provider, token, raw)
	return err
}
