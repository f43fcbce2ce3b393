package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/config"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/store"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/velocity"
)

// runtime bundles what every command needs: the loaded configuration, a
// store picked by DATABASE_URL (postgres when set, in-memory otherwise),
// and a velocity model reading profiles through Redis when REDIS_URL is set.
type runtime struct {
	cfg      *config.Config
	store    store.Store
	vel      *velocity.Model
	cleanups []func()
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg}
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		rt.store = pg
		rt.cleanups = append(rt.cleanups, func() { _ = pg.Close() })
	} else {
		log.Printf("no DATABASE_URL set; using the empty in-memory store")
		rt.store = store.NewMemory()
	}

	var profiles store.ProfileStore = rt.store
	if cfg.RedisURL != "" {
		cache, err := store.NewProfileCache(rt.store, cfg.RedisURL, cfg.ProfileCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("profile cache: %w", err)
		}
		profiles = cache
	}
	rt.vel = velocity.New(profiles, cfg.MinSampleSize)
	return rt, nil
}

func (rt *runtime) Close() {
	for _, f := range rt.cleanups {
		f()
	}
}
