// Package core assembles the outreach engine: it constructs every
// component from configuration, wires them together, and owns the
// process lifecycle. There is no package-level state; tests and the two
// binaries build their own Runtime.
package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/ai"
	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/enrichment"
	"github.com/ignite/outreach-engine/internal/jobs"
	"github.com/ignite/outreach-engine/internal/orphan"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
	"github.com/ignite/outreach-engine/internal/quality"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/responder"
	"github.com/ignite/outreach-engine/internal/secrets"
	"github.com/ignite/outreach-engine/internal/worker"
)

// Runtime holds every constructed component of the engine. Handlers and
// workers receive what they need from here; nothing reaches for globals.
type Runtime struct {
	Cfg       *config.Config
	DB        *sql.DB
	Redis     *redis.Client
	Secrets   secrets.Store
	Providers *provider.Registry

	Contacts      *postgres.ContactRepo
	Campaigns     *postgres.CampaignRepo
	Enrolments    *postgres.EnrolmentRepo
	Outcomes      *postgres.OutcomeRepo
	Idempotency   *postgres.IdempotencyRepo
	Conversations *postgres.ConversationRepo
	Suppression   *postgres.SuppressionRepo

	Queue     *jobs.Queue
	Pool      *jobs.Pool
	Recovery  *jobs.Recovery
	Orphans   *orphan.Queue
	Ingestor  *worker.Ingestor
	Responder *responder.Responder
	Gate      *quality.Gate

	draining atomic.Bool
}

// New builds the full runtime from configuration. Nothing starts
// running until Start.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	rt := &Runtime{Cfg: cfg}

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.DB = db

	if cfg.Redis.Enabled {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rt.Redis = redis.NewClient(opt)
	}

	rt.Secrets = secrets.New(cfg.Secrets.Store, cfg.Secrets.File,
		cfg.Secrets.Vault.Address, cfg.Secrets.Vault.Path)

	rt.Providers, err = provider.NewRegistry(cfg, rt.Secrets)
	if err != nil {
		return nil, err
	}

	rt.Contacts = postgres.NewContactRepo(db)
	rt.Campaigns = postgres.NewCampaignRepo(db)
	rt.Enrolments = postgres.NewEnrolmentRepo(db)
	rt.Outcomes = postgres.NewOutcomeRepo(db)
	rt.Idempotency = postgres.NewIdempotencyRepo(db)
	rt.Conversations = postgres.NewConversationRepo(db)
	rt.Suppression = postgres.NewSuppressionRepo(db)

	validator := quality.NewValidator(nil, cfg.Quality.MXCacheTTL())
	rt.Gate = quality.NewGate(validator, cfg.Quality.AllowThreshold, cfg.Quality.BlockThreshold)

	jobRepo := postgres.NewJobRepo(db)
	rt.Queue = jobs.NewQueue(jobRepo, cfg.Queue.MaxSize, rt.Draining)
	rt.Pool = jobs.NewPool(jobRepo, cfg.Queue.NumWorkers, cfg.Queue.BatchSize)

	var sweepLease *distlock.Lease
	if rt.Redis != nil {
		sweepLease = distlock.NewLease(rt.Redis, "job-stale-sweep", 2*time.Minute)
	}
	rt.Recovery = jobs.NewRecovery(jobRepo, cfg.Queue.StaleLease(), sweepLease)

	rt.Responder = rt.buildResponder(ctx, cfg)

	rt.Ingestor = worker.NewIngestor(rt.Outcomes, rt.Enrolments, rt.Contacts,
		rt.Suppression, replyHandlerOrNil(rt.Responder))
	rt.Orphans = orphan.New(postgres.NewOrphanRepo(db), rt.Ingestor.Resolve,
		cfg.Orphaned.MaxSize, cfg.Orphaned.BatchSize, cfg.Orphaned.MaxAttempts,
		cfg.Orphaned.RetryDelays())
	rt.Ingestor.AttachOrphanQueue(rt.Orphans)

	rt.registerHandlers(ctx, cfg)
	return rt, nil
}

// buildResponder constructs the conversational responder when it is
// enabled and a generator is available. A nil responder means replies
// are recorded but never answered automatically.
func (rt *Runtime) buildResponder(ctx context.Context, cfg *config.Config) *responder.Responder {
	if !cfg.Responder.Enabled || !cfg.AI.Enabled {
		return nil
	}
	gen, err := ai.NewBedrock(ctx, cfg.AI)
	if err != nil {
		logger.Error("bedrock generator unavailable, responder disabled", "error", err.Error())
		return nil
	}
	k := cfg.Outreach.Knowledge
	knowledge := &responder.Knowledge{
		SenderName:    k.SenderName,
		SenderTitle:   k.SenderTitle,
		CompanyName:   k.CompanyName,
		ProductPitch:  k.ProductPitch,
		MeetingLink:   k.MeetingLink,
		SignatureLine: k.SignatureLine,
		BattleCards:   k.BattleCards,
		CaseStudies:   k.CaseStudies,
	}
	return responder.New(rt.Conversations, gen, rt.Providers.Email, rt.Providers.Video,
		knowledge, cfg.Responder, cfg.Outreach.FromEmail, cfg.Outreach.FromName)
}

func replyHandlerOrNil(r *responder.Responder) worker.ReplyHandler {
	if r == nil {
		return nil
	}
	return r
}

// registerHandlers binds one handler per job type to the pool.
func (rt *Runtime) registerHandlers(ctx context.Context, cfg *config.Config) {
	rt.Pool.Register(domain.JobImport, worker.NewImportHandler(
		rt.Contacts, rt.importFetcher(ctx, cfg), cfg.Import.BatchSize))

	enricher := enrichment.New(rt.Providers.Enrichment, rt.Redis, cfg.Enrichment.CacheTTL())
	rt.Pool.Register(domain.JobEnrich, worker.NewEnrichHandler(
		rt.Contacts, enricher, cfg.Import.BatchSize))

	rt.Pool.Register(domain.JobCRMSync, worker.NewCRMSyncHandler(
		rt.Contacts, postgres.NewSyncLedgerRepo(rt.DB), rt.Providers.CRM,
		cfg.CRM.BatchSize, cfg.CRM.ContinueOnError))

	rt.Pool.Register(domain.JobEnrol, worker.NewEnrolHandler(
		rt.Campaigns, rt.Contacts, rt.Enrolments, rt.Outcomes, rt.Idempotency,
		rt.Suppression, rt.Gate, rt.Providers.Email, rt.Providers.LinkedIn,
		cfg.Outreach.FromEmail, cfg.Outreach.FromName))

	rt.Pool.Register(domain.JobCampaignTick, worker.NewTickHandler(
		rt.Campaigns, rt.Contacts, rt.Enrolments, rt.Outcomes, rt.Idempotency,
		rt.Gate, rt.Providers.Email, rt.Providers.LinkedIn,
		cfg.Outreach.FromEmail, cfg.Outreach.FromName, 0))
}

// importFetcher builds the S3 reader for imports sourced from a bucket.
// Local-path imports work without it.
func (rt *Runtime) importFetcher(ctx context.Context, cfg *config.Config) worker.ObjectFetcher {
	if cfg.Import.S3Bucket == "" {
		return nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Import.S3Region)}
	if cfg.Import.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Import.AWSProfile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Warn("aws config unavailable, s3 imports disabled", "error", err.Error())
		return nil
	}
	return s3.NewFromConfig(awsCfg)
}

// Start launches the background machinery: the worker pool, the
// orphaned-event retry loop, and the stale-lease sweeper.
func (rt *Runtime) Start(ctx context.Context) {
	rt.Pool.Start(ctx)
	rt.Orphans.Start(ctx)
	rt.Recovery.Start(ctx)
	logger.Info("runtime started")
}

// Draining reports whether shutdown has begun. The HTTP edge and the
// job queue reject new work once it returns true.
func (rt *Runtime) Draining() bool { return rt.draining.Load() }

// Shutdown runs the ordered graceful stop: stop accepting webhooks and
// job submissions, drain the orphaned queue within its budget, stop the
// worker pool within its budget, then close connections. A step that
// overruns its budget warns and the shutdown continues.
func (rt *Runtime) Shutdown() {
	rt.draining.Store(true)
	logger.Info("shutdown started, draining")

	rt.Orphans.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), rt.Cfg.Shutdown.Drain())
	rt.Orphans.Drain(drainCtx)
	cancel()
	if remaining, err := rt.Orphans.Depth(context.Background()); err == nil && remaining > 0 {
		logger.Warn("orphaned events remain after drain", "remaining", remaining)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), rt.Cfg.Shutdown.WorkerStop())
	if err := rt.Pool.Stop(stopCtx); err != nil {
		logger.Warn("job pool stop", "error", err.Error())
	}
	cancel()

	rt.Recovery.Stop()
	if rt.Responder != nil {
		rt.Responder.Shutdown()
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			logger.Warn("redis close", "error", err.Error())
		}
	}
	if err := rt.DB.Close(); err != nil {
		logger.Warn("database close", "error", err.Error())
	}
	logger.Info("shutdown complete")
}

// ComponentHealth is one entry of the health component map.
type ComponentHealth struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// HealthReport is the /health payload.
type HealthReport struct {
	Status     string                     `json:"status"` // healthy | degraded | unhealthy
	Components map[string]ComponentHealth `json:"components"`
}

// Health probes each component. Critical failures make the report
// unhealthy; non-critical ones degrade it.
func (rt *Runtime) Health(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	components := map[string]ComponentHealth{}

	dbHealth := ComponentHealth{Healthy: true, Critical: true}
	if err := rt.DB.PingContext(ctx); err != nil {
		dbHealth.Healthy = false
		dbHealth.Detail = err.Error()
	}
	components["database"] = dbHealth
	// The job store shares the database; its health tracks it.
	components["queueStore"] = dbHealth

	orphanHealth := ComponentHealth{Healthy: true, Critical: true}
	if depth, err := rt.Orphans.Depth(ctx); err != nil {
		orphanHealth.Healthy = false
		orphanHealth.Detail = err.Error()
	} else {
		orphanHealth.Detail = fmt.Sprintf("depth=%d", depth)
	}
	components["orphanedQueue"] = orphanHealth

	if rt.Redis != nil {
		redisHealth := ComponentHealth{Healthy: true}
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			redisHealth.Healthy = false
			redisHealth.Detail = err.Error()
		}
		components["redis"] = redisHealth
	}

	components["providers.email"] = ComponentHealth{Healthy: true, Detail: rt.Providers.Email.Name()}
	components["providers.linkedin"] = ComponentHealth{Healthy: true, Detail: rt.Providers.LinkedIn.Name()}
	components["providers.crm"] = ComponentHealth{Healthy: true, Detail: rt.Providers.CRM.Name()}

	status := "healthy"
	for _, c := range components {
		if c.Healthy {
			continue
		}
		if c.Critical {
			status = "unhealthy"
			break
		}
		status = "degraded"
	}
	return HealthReport{Status: status, Components: components}
}
