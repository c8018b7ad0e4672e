// The worker binary runs the background machinery without the API edge:
// the job pool, the orphaned-event retrier, the stale-lease sweeper, and
// the campaign-tick scheduler. Deployments that want HTTP and workers in
// one process use cmd/server alone; this binary exists to scale the two
// independently.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/core"
	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

const tickInterval = 5 * time.Minute

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("config load failed", "path", configPath, "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := core.New(ctx, cfg)
	if err != nil {
		logger.Error("runtime construction failed", "error", err.Error())
		os.Exit(1)
	}
	rt.Start(ctx)

	go serveOps(rt, cfg.Server.Port+1)
	go runTickScheduler(ctx, rt)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", "signal", sig.String())

	cancel()
	rt.Shutdown()
}

// runTickScheduler periodically submits a campaign-tick job so due
// enrolments advance to their next stage. The queue deduplicates nothing
// here; ticks are cheap no-ops when nothing is due.
func runTickScheduler(ctx context.Context, rt *core.Runtime) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		job, err := rt.Queue.Submit(ctx, domain.JobCampaignTick, domain.PriorityLow, json.RawMessage(`{}`))
		if err != nil {
			logger.Warn("campaign tick submit failed", "error", err.Error())
			continue
		}
		logger.Debug("campaign tick submitted", "job_id", job.ID)
	}
}

// serveOps exposes health and metrics for the worker process on its own
// port, one above the API port.
func serveOps(rt *core.Runtime, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := rt.Health(r.Context())
		status := http.StatusOK
		if report.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(report)
	})

	addr := ":" + strconv.Itoa(port)
	logger.Info("worker ops server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("worker ops server failed", "error", err.Error())
	}
}
