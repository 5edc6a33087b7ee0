package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/pkg/config"
)

// GormCredentialStore reads the api_keys table.
type GormCredentialStore struct {
	db *gorm.DB
}

func NewGormCredentialStore(db *gorm.DB) *GormCredentialStore {
	return &GormCredentialStore{db: db}
}

func (s *GormCredentialStore) Lookup(ctx context.Context, service string) (*models.Credential, error) {
	var c models.Credential
	err := s.db.WithContext(ctx).Where("service_name = ?", service).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup credential %s: %w", service, err)
	}
	return &c, nil
}

func (s *GormCredentialStore) All(ctx context.Context) ([]models.Credential, error) {
	var out []models.Credential
	if err := s.db.WithContext(ctx).Order("service_name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return out, nil
}

// Put stores or replaces a credential.
func (s *GormCredentialStore) Put(ctx context.Context, c *models.Credential) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "service_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"api_key", "rate_limit", "rate_window", "expires_at", "updated_at"}),
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("put credential %s: %w", c.ServiceName, err)
	}
	return nil
}

// StaticCredentialStore serves credentials from configuration.
type StaticCredentialStore struct {
	byService map[string]models.Credential
	order     []string
}

// NewStaticCredentialStore keeps entries with a non-empty key. The first entry
// for a service wins.
func NewStaticCredentialStore(entries []config.CredentialConfig) (*StaticCredentialStore, error) {
	s := &StaticCredentialStore{byService: make(map[string]models.Credential)}
	for _, e := range entries {
		if e.Service == "" || e.APIKey == "" {
			continue
		}
		if _, dup := s.byService[e.Service]; dup {
			continue
		}
		c := models.Credential{
			ServiceName: e.Service,
			APIKey:      e.APIKey,
			RateLimit:   e.RateLimit,
			RateWindow:  e.RateWindow,
		}
		if e.ExpiresAt != "" {
			t, err := parseExpiry(e.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("credential %s: %w", e.Service, err)
			}
			c.ExpiresAt = &t
		}
		s.byService[e.Service] = c
		s.order = append(s.order, e.Service)
	}
	return s, nil
}

func parseExpiry(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expires_at %q: want RFC3339 or YYYY-MM-DD", v)
	}
	return t.UTC(), nil
}

func (s *StaticCredentialStore) Lookup(_ context.Context, service string) (*models.Credential, error) {
	c, ok := s.byService[service]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *StaticCredentialStore) All(_ context.Context) ([]models.Credential, error) {
	out := make([]models.Credential, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byService[name])
	}
	return out, nil
}

// ChainCredentialStore asks each store in turn; the first hit wins.
type ChainCredentialStore struct {
	stores []domrepo.CredentialStore
}

func NewChainCredentialStore(stores ...domrepo.CredentialStore) *ChainCredentialStore {
	return &ChainCredentialStore{stores: stores}
}

func (s *ChainCredentialStore) Lookup(ctx context.Context, service string) (*models.Credential, error) {
	for _, st := range s.stores {
		c, err := st.Lookup(ctx, service)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, nil
}

func (s *ChainCredentialStore) All(ctx context.Context) ([]models.Credential, error) {
	seen := make(map[string]bool)
	var out []models.Credential
	for _, st := range s.stores {
		list, err := st.All(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range list {
			if seen[c.ServiceName] {
				continue
			}
			seen[c.ServiceName] = true
			out = append(out, c)
		}
	}
	return out, nil
}
