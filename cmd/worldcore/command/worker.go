package command

import (
	"context"
	"fmt"
	"time"

	"github.com/pixil98/go-service"

	"github.com/driftline/worldcore/internal/bootstrap"
	"github.com/driftline/worldcore/internal/cache"
	"github.com/driftline/worldcore/internal/catalog"
	"github.com/driftline/worldcore/internal/driver"
	"github.com/driftline/worldcore/internal/engine"
	"github.com/driftline/worldcore/internal/index"
	"github.com/driftline/worldcore/internal/listener"
	"github.com/driftline/worldcore/internal/locking"
	"github.com/driftline/worldcore/internal/messaging"
	"github.com/driftline/worldcore/internal/resolve"
	"github.com/driftline/worldcore/internal/storage"
	"github.com/driftline/worldcore/internal/view"
	"github.com/driftline/worldcore/internal/world"
)

func BuildWorkers(config interface{}) (service.WorkerList, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("unable to cast config")
	}

	// Message bus
	nats, err := cfg.Nats.buildNatsServer()
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}

	// Durable records behind a TTL cache
	durable, err := cfg.Storage.Records.BuildRecordStore()
	if err != nil {
		return nil, fmt.Errorf("creating record store: %w", err)
	}
	var cacheOpts []cache.TieredOpt
	if ttl, ok := cfg.Engine.worldCacheTTL(); ok {
		cacheOpts = append(cacheOpts, cache.WithKindTTL(storage.KindWorld, ttl))
	}
	if ttl, ok := cfg.Engine.viewCacheTTL(); ok {
		cacheOpts = append(cacheOpts, cache.WithKindTTL(storage.KindPlayerView, ttl))
	}
	records := cache.NewTieredStore(durable, cacheOpts...)

	// Content and policy
	cat, err := cfg.Storage.BuildCatalog()
	if err != nil {
		return nil, fmt.Errorf("creating template catalog: %w", err)
	}
	configs, err := cfg.Storage.BuildExperienceResolver()
	if err != nil {
		return nil, fmt.Errorf("creating experience resolver: %w", err)
	}

	// State plane
	idx := index.New()
	worldOpts := []world.StoreOpt{
		world.WithObserver(idx),
		world.WithPublisher(nats),
	}
	if cfg.Engine.CommitRetries > 0 {
		worldOpts = append(worldOpts, world.WithCommitRetries(cfg.Engine.CommitRetries))
	}
	worlds := world.NewStore(records, records.Durable(), locking.NewCoordinator(), configs, cat, worldOpts...)
	views := view.NewStore(records, worlds, configs)

	// Interpreter boundary
	var engineOpts []engine.Opt
	if cfg.Engine.NearbyRadius > 0 {
		engineOpts = append(engineOpts, engine.WithNearbyRadius(cfg.Engine.NearbyRadius))
	}
	eng := engine.New(views, worlds, configs, cat, idx, resolve.NewResolver(cat), engineOpts...)
	boot := bootstrap.NewManager(views, worlds, configs, cat)

	// Periodic work: cache sweeps and temporary-ownership restores
	reaper := view.NewReaper(views, worlds, configs,
		view.WithNotifier(messaging.NewPlayerPublisher(nats)))
	worldDriver := driver.NewWorldDriver(
		[]driver.Manager{records, reaper},
		driver.WithTickLength(cfg.tickInterval()),
	)

	return service.WorkerList{
		"nats":    nats,
		"driver":  worldDriver,
		"api":     listener.NewManager(eng, boot, nats),
		"catalog": newCatalogWatcher(cat, nats),
	}, nil
}

// catalogWatcher subscribes the catalog to content-update events once the
// bus worker has started.
type catalogWatcher struct {
	cat *catalog.Catalog
	sub catalog.Subscriber
}

func newCatalogWatcher(cat *catalog.Catalog, sub catalog.Subscriber) *catalogWatcher {
	return &catalogWatcher{cat: cat, sub: sub}
}

func (w *catalogWatcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := w.cat.WatchUpdates(w.sub); err == nil {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	<-ctx.Done()
	w.cat.Close()
	return nil
}
