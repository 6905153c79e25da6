package bootstrap

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"gitmem/internal/api"
	"gitmem/internal/config"
	"gitmem/internal/dedup"
	"gitmem/internal/enrich"
	"gitmem/internal/memory"
	"gitmem/internal/migrate"
	"gitmem/internal/observability"
	"gitmem/internal/pipeline"
	"gitmem/internal/store"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"

	_ "modernc.org/sqlite"
)

type Runtime struct {
	Handler http.Handler
	Cleanup func()
}

// retentionDefaulter lets the configured fallback reach whichever repository
// implementation ended up being built.
type retentionDefaulter interface {
	SetDefaultRetention(days int)
}

func NewRuntime(ctx context.Context, cfg config.Config, logger logr.Logger) *Runtime {
	repo, repoCleanup := buildRepository(ctx, cfg)
	if rd, ok := repo.(retentionDefaulter); ok {
		rd.SetDefaultRetention(cfg.Retention.DefaultDays)
	}
	dd, dedupCleanup := buildDeduplicator(ctx, cfg)

	metrics := observability.NewPipelineMetrics()
	pipe := pipeline.New(repo, dd, buildEnricher(cfg, logger), metrics, logger)

	server := api.NewServer(repo, pipe, api.ServerOptions{
		Auth: api.AuthConfig{
			Read: api.BearerPolicy{
				Token: cfg.Auth.Read.Token,
			},
			JWT: api.JWTPolicy{
				Enabled:     cfg.Auth.JWT.Enabled,
				Issuer:      cfg.Auth.JWT.Issuer,
				Audience:    cfg.Auth.JWT.Audience,
				HS256Secret: cfg.Auth.JWT.HS256Secret,
			},
			Audit: api.AuditPolicy{
				LogFile: cfg.Auth.Audit.LogFile,
			},
			Rate: api.RateLimitPolicy{
				Enabled:         cfg.Auth.RateLimit.Enabled,
				ReadPerMinute:   cfg.Auth.RateLimit.ReadPerMinute,
				IngestPerMinute: cfg.Auth.RateLimit.IngestPerMinute,
			},
		},
		Logger: logger,
	})

	stopPurge := startRetentionPurge(ctx, logger, cfg, repo)

	httpMetrics := observability.NewHTTPMetrics()
	rootMux := http.NewServeMux()
	rootMux.Handle("/metrics", promhttp.Handler())
	rootMux.Handle("/", httpMetrics.Wrap(server.Routes()))

	return &Runtime{
		Handler: rootMux,
		Cleanup: func() {
			stopPurge()
			dedupCleanup()
			repoCleanup()
		},
	}
}

func buildRepository(ctx context.Context, cfg config.Config) (store.Repository, func()) {
	if cfg.DBDriver == "" || cfg.DBDSN == "" {
		log.Printf("running with in-memory repository")
		return store.NewMemoryRepository(), func() {}
	}

	db, err := sql.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Printf("db open failed (%v), falling back to in-memory repository", err)
		return store.NewMemoryRepository(), func() {}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Printf("db ping failed (%v), falling back to in-memory repository", err)
		_ = db.Close()
		return store.NewMemoryRepository(), func() {}
	}

	if cfg.DBMigrate {
		runner := migrate.NewRunner(os.DirFS("."))
		if err := runner.Apply(ctx, db, cfg.DBDialect); err != nil {
			log.Printf("migration apply failed (%v), falling back to in-memory repository", err)
			_ = db.Close()
			return store.NewMemoryRepository(), func() {}
		}
	}

	repo, err := store.NewSQLRepository(db, cfg.DBDialect)
	if err != nil {
		log.Printf("sql repository init failed (%v), falling back to in-memory repository", err)
		_ = db.Close()
		return store.NewMemoryRepository(), func() {}
	}
	log.Printf("running with SQL repository: dialect=%s", cfg.DBDialect)
	return repo, func() { _ = db.Close() }
}

func buildDeduplicator(ctx context.Context, cfg config.Config) (dedup.Deduplicator, func()) {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		log.Printf("running with in-memory deduplicator")
		return dedup.NewMemory(dedup.DefaultTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis ping failed (%v), falling back to in-memory deduplicator", err)
		_ = client.Close()
		return dedup.NewMemory(dedup.DefaultTTL), func() {}
	}
	log.Printf("running with redis deduplicator: addr=%s", cfg.Redis.Addr)
	return dedup.NewRedis(client, dedup.DefaultTTL), func() { _ = client.Close() }
}

// buildEnricher returns nil unless both the generation and memory store
// endpoints are configured. A nil enricher disables enrichment entirely;
// deliveries are still classified and logged.
func buildEnricher(cfg config.Config, logger logr.Logger) pipeline.Enricher {
	if strings.TrimSpace(cfg.Generation.BaseURL) == "" || strings.TrimSpace(cfg.Memory.BaseURL) == "" {
		log.Printf("enrichment disabled: generation or memory endpoint not configured")
		return nil
	}
	gen := enrich.NewHTTPGenerator(cfg.Generation.BaseURL, cfg.Generation.APIKey, cfg.Generation.Model, cfg.Generation.Timeout)
	mem := memory.NewClient(cfg.Memory.BaseURL, cfg.Memory.APIKey, cfg.Memory.Timeout)
	return enrich.New(gen, mem, logger)
}

func startRetentionPurge(ctx context.Context, logger logr.Logger, cfg config.Config, repo store.Repository) func() {
	interval := cfg.Retention.PurgeInterval
	if interval <= 0 {
		interval = time.Hour
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				n, err := repo.PurgeExpiredLogs(ctx, time.Now().UTC())
				if err != nil {
					logger.Error(err, "retention purge failed")
					continue
				}
				if n > 0 {
					logger.Info("retention purge removed expired delivery logs", "count", n)
				}
			}
		}
	}()
	var once func()
	closed := false
	once = func() {
		if !closed {
			closed = true
			close(done)
		}
	}
	return once
}
