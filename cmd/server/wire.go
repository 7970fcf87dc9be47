package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/engine"
	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/gating"
	"github.com/p-n-ai/pai-learn/internal/platform/cache"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/quiz"
	"github.com/p-n-ai/pai-learn/internal/remote"
	"github.com/p-n-ai/pai-learn/internal/syncer"
)

// application is the wired process: the HTTP-facing server plus the
// background syncer and everything that must be closed on exit.
type application struct {
	server  *server
	syncer  *syncer.Syncer
	closers []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build connects storage and wires the engine according to cfg.
func build(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()
	srv := &server{hub: events.NewHub()}
	app.server = srv

	bus := events.NewBus()

	var (
		rem      syncer.Remote = remote.NewMemoryProgress()
		attempts quiz.AttemptRepository
		logger   events.Logger = events.NopLogger{}
	)
	if cfg.HasDatabase() {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.Close)
		srv.ready = append(srv.ready, readiness{name: "database", check: db.HealthCheck})

		if cfg.Database.Bootstrap {
			if err := remote.EnsureSchema(ctx, db.Pool); err != nil {
				return nil, err
			}
		}
		progressRemote, err := remote.NewPostgresProgress(db.Pool)
		if err != nil {
			return nil, err
		}
		rem = progressRemote
		if attempts, err = remote.NewPostgresAttempts(db.Pool); err != nil {
			return nil, err
		}
		logger = events.NewPostgresLogger(db.Pool)
	} else {
		slog.Warn("LEARN_DATABASE_URL not set, remote progress is kept in memory")
	}

	local, err := localTier(ctx, cfg, app, srv)
	if err != nil {
		return nil, err
	}

	catalog, err := course.NewLoader(cfg.Content.Path, course.Defaults{
		PassingScore: cfg.Quiz.DefaultPassingScore,
		MaxAttempts:  cfg.Quiz.DefaultMaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	store := progress.NewStore(progress.StoreConfig{Cache: local, Events: bus})
	app.syncer = syncer.New(syncer.Config{
		Store:              store,
		Remote:             rem,
		InitialInterval:    cfg.Sync.InitialInterval,
		MaxInterval:        cfg.Sync.MaxInterval,
		BacklogWarn:        cfg.Sync.BacklogWarn,
		MaxConcurrentLoads: cfg.Sync.MaxConcurrentLoads,
	})

	// Subscription order is delivery order: analytics first, then the
	// remote queue, then live clients.
	app.closers = append(app.closers,
		events.Attach(bus, logger),
		app.syncer.Attach(bus),
		srv.hub.Attach(bus),
	)

	srv.engine = engine.NewEngine(engine.EngineConfig{
		Catalog: catalog,
		Store:   store,
		Syncer:  app.syncer,
		Quizzes: quiz.NewService(quiz.ServiceConfig{
			Repo:               attempts,
			Events:             bus,
			DefaultMaxAttempts: cfg.Quiz.DefaultMaxAttempts,
		}),
		Policy: gating.Policy{FreeSequential: cfg.Gating.FreeSequential},
	})
	return app, nil
}

// localTier opens the device-local completion cache. A nil cache keeps
// completions in process memory.
func localTier(ctx context.Context, cfg *config.Config, app *application, srv *server) (progress.Cache, error) {
	switch cfg.Local.Tier {
	case config.TierRedis:
		c, err := cache.New(ctx, cfg.Cache)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = c.Close() })
		srv.ready = append(srv.ready, readiness{name: "cache", check: c.Ready})
		return progress.NewRedisCache(c.Client, c.Prefix), nil
	case config.TierSQLite:
		db, err := progress.OpenSQLite(cfg.Local.SQLitePath)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
		srv.ready = append(srv.ready, readiness{name: "sqlite", check: db.DB().PingContext})
		return db, nil
	case config.TierMemory:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown local tier %q", cfg.Local.Tier)
	}
}
