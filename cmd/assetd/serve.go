package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/archive"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/asset"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/boot"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/config"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/contenthash"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/handlers"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/logger"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/metrics"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/policy"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/server"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/storage"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/storage/localfs"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the asset HTTP API",
	RunE: func(*cobra.Command, []string) error {
		app := newApp()
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func newApp() *fx.App {
	return fx.New(appOptions())
}

func appOptions() fx.Option {
	return fx.Options(
		fx.Provide(
			loadConfig,
			boot.ProvideRuntimeConfig,
			provideLogger,

			provideRecordStores,
			provideDatabases,
			provideTenantStore,
			fx.Annotate(policy.NewService, fx.As(new(policy.Gate))),
			provideStorageRegistry,
			provideMetrics,
			provideExtractor,

			provideAssetService,
			provideUploader,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewSwaggerHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServerHandler(provideAssetHandler),

			provideServer,
		),
		fx.Invoke(startServer),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideRecordStores(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*recordStores, error) {
	stores, err := openRecordStores(context.Background(), log, cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return stores.Close()
		},
	})
	return stores, nil
}

func provideDatabases(stores *recordStores) records.Databases {
	return records.NewStaticDatabases(stores.Tenant, stores.Master)
}

// Policies live alongside the tenant's asset records.
func provideTenantStore(stores *recordStores) records.Store {
	return stores.Tenant
}

func provideStorageRegistry(log *slog.Logger, cfg config.Config) (storage.Registry, error) {
	registry := storage.NewRegistry()
	for name, repo := range cfg.Storage.Repositories {
		switch repo.Driver {
		case config.StorageDriverLocalFS:
			p, err := localfs.New(log, repo.Root, repo.MasterRoot)
			if err != nil {
				return nil, fmt.Errorf("storage repository %s: %w", name, err)
			}
			registry.Register(name, p)
		default:
			return nil, fmt.Errorf("storage repository %s: unknown driver %q", name, repo.Driver)
		}
	}
	log.Info("storage repositories ready", slog.Any("names", registry.Names()))
	return registry, nil
}

func provideMetrics() (*metrics.Metrics, error) {
	return metrics.New(nil)
}

func provideExtractor(log *slog.Logger, cfg config.Config) asset.PackageExtractor {
	return archive.NewExtractor(log, archive.Limits{
		MaxFiles: cfg.Assets.MaxPackageFiles,
		MaxBytes: cfg.Assets.MaxPackageBytes,
	})
}

func provideAssetService(log *slog.Logger, dbs records.Databases, gate policy.Gate, registry storage.Registry, m *metrics.Metrics, cfg config.Config, rc *boot.RuntimeConfig) *asset.Service {
	return asset.NewService(log, dbs, gate, registry, m, asset.Options{
		Timeout:           rc.OperationTimeout,
		GuardSharedPaths:  cfg.Assets.GuardSharedPaths,
		DefaultRepository: cfg.Storage.DefaultRepository,
		BufferSize:        cfg.Assets.StreamBufferSize,
	})
}

func provideUploader(log *slog.Logger, svc *asset.Service, registry storage.Registry, extractor asset.PackageExtractor, m *metrics.Metrics, cfg config.Config) (*asset.Uploader, error) {
	alg, err := contenthash.ParseAlgorithm(cfg.Assets.HashAlgorithm)
	if err != nil {
		return nil, err
	}
	return asset.NewUploader(log, svc, registry, extractor, m, asset.UploaderConfig{
		HashAlgorithm: alg,
		BufferSize:    cfg.Assets.StreamBufferSize,
		Thumbnail: storage.ThumbnailOptions{
			Width:  cfg.Assets.ThumbnailWidth,
			Height: cfg.Assets.ThumbnailHeight,
		},
		PackageExtensions: cfg.Assets.PackageExtensions,
	}), nil
}

func provideAssetHandler(log *slog.Logger, svc *asset.Service, uploader *asset.Uploader, cfg config.Config, rc *boot.RuntimeConfig) *handlers.AssetHandler {
	assets := cfg.Assets
	assets.UploadDir = rc.UploadDir
	return handlers.NewAssetHandler(log, svc, uploader, assets)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.RuntimeConfig.ServerAddr, params.RuntimeConfig.JWTSecret, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting assetd", slog.String("version", version.Get().String()))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
