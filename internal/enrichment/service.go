// Package enrichment wraps the enrichment provider with a Redis cache
// and computes data-quality scores for enriched contacts.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
)

const (
	contactKeyPrefix = "enrich:contact:"
	companyKeyPrefix = "enrich:company:"
)

// Service performs cached enrichment lookups. Cache entries live for the
// configured TTL (30 days by default) so re-enriching a list within the
// window never hits the provider.
type Service struct {
	provider provider.EnrichmentProvider
	redis    *redis.Client
	ttl      time.Duration
}

// New creates the enrichment service. redis may be nil; lookups then go
// straight to the provider every time.
func New(p provider.EnrichmentProvider, rdb *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{provider: p, redis: rdb, ttl: ttl}
}

// EnrichContact returns person-level enrichment for an email, from cache
// when fresh.
func (s *Service) EnrichContact(ctx context.Context, email string) (*provider.ContactEnrichment, error) {
	email = domain.NormalizeEmail(email)
	key := contactKeyPrefix + email

	var cached provider.ContactEnrichment
	if hit, err := s.cacheGet(ctx, key, &cached); err == nil && hit {
		logger.Debug("enrichment cache hit", "kind", "contact")
		return &cached, nil
	}

	enr, err := s.provider.EnrichContact(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("enrich contact: %w", err)
	}
	s.cacheSet(ctx, key, enr)
	return enr, nil
}

// EnrichCompany returns firmographic data for a company domain, from
// cache when fresh.
func (s *Service) EnrichCompany(ctx context.Context, companyDomain string) (*domain.Company, error) {
	key := companyKeyPrefix + companyDomain

	var cached domain.Company
	if hit, err := s.cacheGet(ctx, key, &cached); err == nil && hit {
		logger.Debug("enrichment cache hit", "kind", "company")
		return &cached, nil
	}

	company, err := s.provider.EnrichCompany(ctx, companyDomain)
	if err != nil {
		return nil, fmt.Errorf("enrich company: %w", err)
	}
	s.cacheSet(ctx, key, company)
	return company, nil
}

func (s *Service) cacheGet(ctx context.Context, key string, out any) (bool, error) {
	if s.redis == nil {
		return false, nil
	}
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		logger.Warn("enrichment cache read failed", "error", err.Error())
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) cacheSet(ctx context.Context, key string, v any) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		logger.Warn("enrichment cache write failed", "error", err.Error())
	}
}
