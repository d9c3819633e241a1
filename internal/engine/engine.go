// Package engine wires the source, filter, pool and dispatcher layers
// into a single migration run.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"df2redis/internal/cluster"
	"df2redis/internal/config"
	"df2redis/internal/endpoint"
	"df2redis/internal/event"
	"df2redis/internal/logger"
	"df2redis/internal/metrics"
	"df2redis/internal/pool"
	"df2redis/internal/rdbsource"
	"df2redis/internal/state"
	"df2redis/internal/worker"
)

// Engine runs one migration from cfg.Source to cfg.Target.
type Engine struct {
	cfg   *config.Config
	log   *logger.Logger
	store *state.Store
	stats metrics.Sink
}

// New builds an Engine. log and store may be nil (a nil store disables
// stage/metric persistence; a nil log falls back to the package-level
// logger singleton).
func New(cfg *config.Config, log *logger.Logger, store *state.Store) *Engine {
	return &Engine{cfg: cfg, log: log, store: store, stats: buildSink(cfg)}
}

func buildSink(cfg *config.Config) metrics.Sink {
	switch strings.ToLower(cfg.Metrics.Gateway) {
	case "influxdb":
		return metrics.NewInfluxSink(cfg.Metrics.InfluxURL)
	case "memory":
		return metrics.NewMemorySink()
	default:
		return metrics.NoopSink{}
	}
}

func (e *Engine) infof(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Infof(format, args...)
		return
	}
	logger.Info(format, args...)
}

func (e *Engine) errorf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Errorf(format, args...)
		return
	}
	logger.Error(format, args...)
}

func (e *Engine) stage(name, status, message string) {
	if e.store == nil {
		return
	}
	_ = e.store.UpdateStage(name, status, message)
}

// Run executes one end-to-end migration: open the source, build the
// target pool, and drive the dispatcher until the source is exhausted.
func (e *Engine) Run(ctx context.Context) error {
	e.stage("migrate", "starting", "building target connection pool")
	p, sm, err := e.buildPool(ctx)
	if err != nil {
		e.stage("migrate", "failed", err.Error())
		return err
	}
	defer p.Close()
	if sm != nil {
		e.infof("target cluster discovered: %d master node(s)", len(sm.Masters()))
	}

	src, err := e.openSource()
	if err != nil {
		e.stage("migrate", "failed", err.Error())
		return err
	}
	defer src.Close()

	dispCfg := worker.Config{
		Filter: event.NewFilter(e.cfg.Migrate.DBs, e.cfg.Migrate.Types, e.cfg.Migrate.KeyPatterns),
		Replace: replaceModeFromString(e.cfg.Migrate.Replace),
		DryRun:  e.cfg.Migrate.DryRun,
		Logger:  e.log,
		Stats:   e.stats,
		Supervisor: endpoint.NewSupervisor(endpoint.Policy{
			MaxRetries:      e.cfg.Migrate.Retries,
			FlushPerCommand: e.cfg.Migrate.Flush,
		}),
		QueueFactor:     4,
		BatchSize:       e.cfg.Migrate.BatchSize,
		ThrottleQPS:     e.cfg.Migrate.ThrottleQPS,
		FlushPerCommand: e.cfg.Migrate.Flush,
	}
	d, err := worker.New(dispCfg, p)
	if err != nil {
		e.stage("migrate", "failed", err.Error())
		return fmt.Errorf("engine: building dispatcher: %w", err)
	}

	e.stage("migrate", "running", "streaming source into target")
	start := time.Now()
	if err := d.Run(ctx, src); err != nil {
		e.stage("migrate", "failed", err.Error())
		return fmt.Errorf("engine: migration run failed: %w", err)
	}

	e.infof("migration finished in %s", time.Since(start).Round(time.Millisecond))
	e.stage("migrate", "completed", fmt.Sprintf("finished in %s", time.Since(start).Round(time.Millisecond)))
	if e.store != nil {
		if m, ok := e.stats.(*metrics.MemorySink); ok {
			_ = e.store.UpdateMetrics(map[string]float64{
				state.MetricCrossSlotDropped: float64(m.Get(metrics.EndpointFailure, "cross_slot", "cross-slot")),
			})
		}
	}
	return nil
}

func (e *Engine) openSource() (event.Source, error) {
	switch strings.ToLower(e.cfg.Source.Type) {
	case "rdb", "":
		f, err := os.Open(e.cfg.Source.Path)
		if err != nil {
			return nil, fmt.Errorf("engine: opening source RDB %s: %w", e.cfg.Source.Path, err)
		}
		dec, err := rdbsource.Open(f, rdbsource.WithRateLimit(e.cfg.Migrate.ThrottleQPS*1024))
		if err != nil {
			f.Close()
			return nil, err
		}
		return &closingSource{Source: dec, f: f}, nil
	default:
		return nil, fmt.Errorf("engine: unsupported source type %q", e.cfg.Source.Type)
	}
}

// closingSource closes the backing file alongside the decoder.
type closingSource struct {
	event.Source
	f *os.File
}

func (c *closingSource) Close() error {
	err := c.Source.Close()
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (e *Engine) buildPool(ctx context.Context) (*pool.Pool, *cluster.SlotMap, error) {
	base := endpoint.Conf{
		Addr:           e.cfg.Target.Addr,
		DB:             0,
		PipeBudget:     e.cfg.Migrate.BatchSize,
		ByteBudget:     flushByteBudget(e.cfg.Migrate.Flush),
		AuthUser:       e.cfg.Target.AuthUser,
		AuthPassword:   e.cfg.Target.AuthPassword,
		ConnectTimeout: e.cfg.ConnectTimeout(),
		Stats:          e.stats,
	}

	if !e.cfg.Target.Cluster {
		p, err := pool.Open(ctx, e.cfg.Migrate.Threads, base)
		if err != nil {
			return nil, nil, fmt.Errorf("engine: opening target pool: %w", err)
		}
		return p, nil, nil
	}

	var sm *cluster.SlotMap
	var err error
	if e.cfg.Cluster.NodesConf != "" {
		var raw []byte
		if raw, err = os.ReadFile(e.cfg.ResolvePath(e.cfg.Cluster.NodesConf)); err == nil {
			var nodes []*cluster.NodeInfo
			if nodes, err = cluster.ParseNodes(string(raw), e.cfg.Cluster.Strict); err == nil {
				sm, err = cluster.Build(nodes)
			}
		}
	} else {
		sm, _, err = cluster.DiscoverFromSeed(ctx, e.cfg.Target.Addr, e.cfg.Target.AuthUser, e.cfg.Target.AuthPassword, e.cfg.Cluster.Strict)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("engine: building target cluster slot map: %w", err)
	}
	p, err := pool.OpenCluster(ctx, sm, e.cfg.Migrate.Threads, base)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: opening cluster target pool: %w", err)
	}
	return p, sm, nil
}

// flushByteBudget returns the byte-count auto-drain threshold for the
// endpoint's pipelined batches. migrate_flush=yes bypasses batching
// entirely (the dispatcher sends every command synchronously), so no
// byte budget is needed there; migrate_flush=no drains every 64KiB.
func flushByteBudget(flushPerCommand bool) int {
	if flushPerCommand {
		return 0
	}
	return 64 * 1024
}

func replaceModeFromString(s string) worker.ReplaceMode {
	switch strings.ToLower(s) {
	case "on":
		return worker.ReplaceOn
	case "fallback":
		return worker.ReplaceFallback
	case "legacy":
		return worker.ReplaceLegacy
	default:
		return worker.ReplaceOff
	}
}
