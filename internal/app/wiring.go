package app

import (
	"context"
	"fmt"
	"os"

	"radiocatalog/stationstore/internal/assets"
	"radiocatalog/stationstore/internal/auth"
	"radiocatalog/stationstore/internal/blob"
	"radiocatalog/stationstore/internal/config"
	"radiocatalog/stationstore/internal/invalidate"
	"radiocatalog/stationstore/internal/metrics"
	"radiocatalog/stationstore/internal/recordstore"
	"radiocatalog/stationstore/internal/snapshot"
	"radiocatalog/stationstore/internal/stations"
)

// Init builds every component from the configuration without serving
// requests. Close undoes it.
func (a *App) Init(ctx context.Context) error {
	metrics.Init()

	tier, err := a.openTier(ctx)
	if err != nil {
		return err
	}
	a.tier = tier

	readerOpts := []snapshot.Option{snapshot.WithLogger(a.logger)}
	if a.cfg.Snapshot.CacheTTL > 0 {
		readerOpts = append(readerOpts, snapshot.WithTTL(a.cfg.Snapshot.CacheTTL))
	}
	a.reader = snapshot.NewReader(a.cfg.Snapshot.Path, readerOpts...)

	a.store = recordstore.New(tier, a.reader,
		recordstore.WithLogger(a.logger),
		recordstore.WithReadObserver(func(source recordstore.Source) {
			metrics.ObserveRead(string(source))
		}),
	)

	pipeline := assets.NewPipeline(tier,
		assets.WithMaxDimension(a.cfg.Assets.MaxDimension),
		assets.WithMaxPixels(a.cfg.Assets.MaxPixels),
		assets.WithQuality(a.cfg.Assets.Quality),
		assets.WithLogger(a.logger),
		assets.WithSizeObserver(metrics.ObserveAssetBytes),
	)

	notifier, err := a.buildNotifier()
	if err != nil {
		_ = a.Close()
		return err
	}

	ids, err := stations.NewSnowflakeIDs(a.cfg.NodeID)
	if err != nil {
		_ = a.Close()
		return err
	}

	paths := a.cfg.Invalidation.Paths
	a.service, err = stations.New(a.store, a.reader, pipeline,
		stations.WithLogger(a.logger),
		stations.WithNotifier(notifier),
		stations.WithIDSource(ids),
		stations.WithPaths(stations.Paths{
			Listing:      paths.Listing,
			Admin:        paths.Admin,
			DetailPrefix: paths.DetailPrefix,
		}),
	)
	if err != nil {
		_ = a.Close()
		return err
	}

	if a.cfg.Auth.JWTSecret == "" {
		a.logger.Warn("no jwt secret configured, admin api will reject every request")
	}
	a.auth = auth.NewMiddleware([]byte(a.cfg.Auth.JWTSecret))

	if _, err := os.Stat(a.cfg.Snapshot.Path); err != nil {
		a.logger.Warn("snapshot not readable, public listings will be empty", "path", a.cfg.Snapshot.Path, "error", err)
	}

	a.ready.Store(true)
	a.logger.Info("station store initialised", "blob_driver", a.cfg.Blob.Driver, "snapshot", a.cfg.Snapshot.Path)
	return nil
}

func (a *App) openTier(ctx context.Context) (blob.Tier, error) {
	base := a.cfg.PublicBaseURL
	switch a.cfg.Blob.Driver {
	case config.DriverMemory:
		a.logger.Warn("using in-memory blob tier, edits are lost on restart")
		return blob.NewMemoryTier(base), nil
	case config.DriverSQLite:
		tier, err := blob.OpenSQLite(ctx, a.cfg.Blob.SQLitePath, base)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, tier.Close)
		return tier, nil
	case config.DriverEtcd:
		tier, err := blob.NewEtcdTier(a.cfg.Blob.EtcdEndpoints, a.cfg.Blob.EtcdPrefix, base, a.cfg.Blob.EtcdDialTimeout)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, tier.Close)
		return tier, nil
	case config.DriverHTTP:
		tier, err := blob.NewHTTPTier(a.cfg.Blob.HTTPEndpoint, a.cfg.Blob.HTTPToken)
		if err != nil {
			return nil, err
		}
		return tier, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", a.cfg.Blob.Driver)
	}
}

func (a *App) buildNotifier() (invalidate.Notifier, error) {
	inv := a.cfg.Invalidation
	notifiers := invalidate.Multi{invalidate.LogNotifier{Logger: a.logger}}

	if inv.WebhookURL != "" {
		notifiers = append(notifiers, invalidate.NewWebhookNotifier(inv.WebhookURL, inv.WebhookSecret))
	}

	if inv.MQTTBroker != "" {
		n, err := invalidate.NewMQTTNotifier(inv.MQTTBroker, fmt.Sprintf("stationstore-%d", a.cfg.NodeID), inv.TopicPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			n.Close()
			return nil
		})
		notifiers = append(notifiers, n)
	}

	if inv.HubBind != "" {
		hub := invalidate.NewHub(a.logger)
		errCh, err := hub.Start(inv.HubBind)
		if err != nil {
			return nil, err
		}
		a.hub = hub
		a.hubErr = errCh
		a.closers = append(a.closers, func() error {
			err := hub.Stop()
			a.logger.Info("invalidation hub stopped")
			return err
		})
		notifiers = append(notifiers, invalidate.NewHubNotifier(hub, inv.TopicPrefix))
	}

	return notifiers, nil
}
