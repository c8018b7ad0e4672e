package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/provider"
)

type countingProvider struct {
	contactCalls int
	companyCalls int
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) EnrichContact(ctx context.Context, email string) (*provider.ContactEnrichment, error) {
	p.contactCalls++
	return &provider.ContactEnrichment{
		Title:      "VP Engineering",
		Phone:      "+1 555 0100",
		Confidence: 0.9,
	}, nil
}

func (p *countingProvider) EnrichCompany(ctx context.Context, companyDomain string) (*domain.Company, error) {
	p.companyCalls++
	return &domain.Company{Domain: companyDomain, Name: "Acme", Employees: 250}, nil
}

func newCachedService(t *testing.T, p provider.EnrichmentProvider, ttl time.Duration) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(p, rdb, ttl), mr
}

func TestContactLookupIsCached(t *testing.T) {
	p := &countingProvider{}
	svc, _ := newCachedService(t, p, time.Hour)
	ctx := context.Background()

	first, err := svc.EnrichContact(ctx, "Jane.Doe@Example.com")
	require.NoError(t, err)
	second, err := svc.EnrichContact(ctx, "jane.doe@example.com")
	require.NoError(t, err)

	assert.Equal(t, 1, p.contactCalls, "normalized email must share one cache entry")
	assert.Equal(t, first.Title, second.Title)
}

func TestCacheExpiryRefetches(t *testing.T) {
	p := &countingProvider{}
	svc, mr := newCachedService(t, p, time.Minute)
	ctx := context.Background()

	_, err := svc.EnrichCompany(ctx, "acme.io")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = svc.EnrichCompany(ctx, "acme.io")
	require.NoError(t, err)

	assert.Equal(t, 2, p.companyCalls)
}

func TestNilRedisGoesStraightToProvider(t *testing.T) {
	p := &countingProvider{}
	svc := New(p, nil, time.Hour)
	ctx := context.Background()

	_, err := svc.EnrichContact(ctx, "jane@example.com")
	require.NoError(t, err)
	_, err = svc.EnrichContact(ctx, "jane@example.com")
	require.NoError(t, err)

	assert.Equal(t, 2, p.contactCalls)
}

func TestScoreFullRecord(t *testing.T) {
	contact := &domain.Contact{
		Email:       "jane@example.com",
		Title:       "VP Engineering",
		LinkedInURL: "https://linkedin.com/in/janedoe",
		Phone:       "+1 555 0100",
		Location:    "Austin, TX",
	}
	company := &domain.Company{
		Name:         "Acme",
		Revenue:      "$10M-$50M",
		Employees:    250,
		Industry:     "Software",
		Technologies: []string{"kubernetes"},
		Funding:      "Series B",
		Signals:      []string{"hiring"},
	}
	enr := &provider.ContactEnrichment{Confidence: 1.0}

	assert.InDelta(t, 1.0, Score(contact, company, enr), 0.001)
}

func TestScorePartialRecord(t *testing.T) {
	contact := &domain.Contact{Email: "jane@example.com", Title: "CTO"}

	got := Score(contact, nil, nil)
	want := float64(weightEmail+weightTitle) / maxPoints
	assert.InDelta(t, want, got, 0.001)

	assert.Greater(t, Score(contact, nil, &provider.ContactEnrichment{Confidence: 0.5}), got)
}

func TestScoreInvalidEmailEarnsNothing(t *testing.T) {
	contact := &domain.Contact{Email: "not-an-address"}
	assert.Zero(t, Score(contact, nil, nil))
}
