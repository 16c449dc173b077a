// Package cmd defines the CLI commands for the corpusd executable.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/api"
	"github.com/vetcorpus/crawler/internal/clock/system"
	"github.com/vetcorpus/crawler/internal/config"
	"github.com/vetcorpus/crawler/internal/corpus"
	"github.com/vetcorpus/crawler/internal/extract"
	"github.com/vetcorpus/crawler/internal/extract/grobid"
	"github.com/vetcorpus/crawler/internal/extract/pdftext"
	"github.com/vetcorpus/crawler/internal/fetcher"
	"github.com/vetcorpus/crawler/internal/hash/sha256"
	"github.com/vetcorpus/crawler/internal/id/uuid"
	"github.com/vetcorpus/crawler/internal/logging"
	"github.com/vetcorpus/crawler/internal/metrics"
	"github.com/vetcorpus/crawler/internal/pipeline"
	"github.com/vetcorpus/crawler/internal/provenance"
	healthmemory "github.com/vetcorpus/crawler/internal/provenance/memory"
	healthpostgres "github.com/vetcorpus/crawler/internal/provenance/postgres"
	publishermemory "github.com/vetcorpus/crawler/internal/publisher/memory"
	publisherpubsub "github.com/vetcorpus/crawler/internal/publisher/pubsub"
	"github.com/vetcorpus/crawler/internal/ratelimit"
	"github.com/vetcorpus/crawler/internal/resolver"
	"github.com/vetcorpus/crawler/internal/sources"
	"github.com/vetcorpus/crawler/internal/sources/arxiv"
	"github.com/vetcorpus/crawler/internal/sources/biorxiv"
	"github.com/vetcorpus/crawler/internal/sources/conference"
	"github.com/vetcorpus/crawler/internal/sources/crossref"
	"github.com/vetcorpus/crawler/internal/sources/doaj"
	"github.com/vetcorpus/crawler/internal/sources/europepmc"
	"github.com/vetcorpus/crawler/internal/sources/ivis"
	"github.com/vetcorpus/crawler/internal/sources/pubmed"
	"github.com/vetcorpus/crawler/internal/sources/unpaywall"
	"github.com/vetcorpus/crawler/internal/store"
	blobgcs "github.com/vetcorpus/crawler/internal/store/blob/gcs"
	bloblocal "github.com/vetcorpus/crawler/internal/store/blob/local"
	blobmemory "github.com/vetcorpus/crawler/internal/store/blob/memory"
)

// App owns every wired service for the lifetime of one command.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *sources.Registry
	Pipeline *pipeline.Pipeline
	Tracker  *provenance.Tracker
	API      *api.Server

	pool      *pgxpool.Pool
	publisher interface{ Close() error }
	closers   []func()
}

// newApp builds the full service graph from configuration.
func newApp(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	app := &App{Config: cfg, Logger: logger}

	blobs, err := app.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	content := store.New(blobs, sha256.New(), logger)

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.DefaultRPS,
		DefaultBurst: cfg.RateLimit.DefaultBurst,
		SourceRPS:    cfg.RateLimit.SourceRPS,
	})

	health, err := app.buildHealthStore(ctx)
	if err != nil {
		return nil, err
	}
	clock := system.New()
	tracker := provenance.New(health, content, limiter, clock, logger)
	app.Tracker = tracker

	registry, err := app.buildRegistry()
	if err != nil {
		return nil, err
	}
	app.Registry = registry

	res, err := app.buildResolver()
	if err != nil {
		return nil, err
	}

	engine, err := app.buildEngine()
	if err != nil {
		return nil, err
	}

	fet := fetcher.New(fetcher.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		PerAttemptTimeout: time.Duration(cfg.HTTP.FetchTimeoutSecs) * time.Second,
	}, limiter, logger)

	publisher, err := app.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	ids := uuid.New()
	pipe, err := pipeline.New(pipeline.Config{
		FetchWorkers:   cfg.Pipeline.FetchWorkers,
		ExtractWorkers: cfg.Pipeline.ExtractWorkers,
		MaxPerSource:   cfg.Pipeline.MaxPerSource,
		EventTopic:     cfg.PubSub.TopicName,
	}, registry, res, fet, content, engine, tracker, publisher, clock, ids, logger)
	if err != nil {
		return nil, err
	}
	app.Pipeline = pipe
	app.API = api.New(tracker, registry, logger)
	return app, nil
}

// Close releases pools, browsers, and broker connections.
func (a *App) Close() {
	for _, closer := range a.closers {
		closer()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.Logger.Sync()
}

func (a *App) buildBlobStore(ctx context.Context) (corpus.BlobStore, error) {
	switch a.Config.Storage.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		blobs, err := blobgcs.New(client, blobgcs.Config{Bucket: a.Config.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return blobs, nil
	case "local":
		blobs, err := bloblocal.New(bloblocal.Config{BaseDir: a.Config.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return blobs, nil
	case "memory":
		return blobmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", a.Config.Storage.Provider)
	}
}

func (a *App) buildHealthStore(ctx context.Context) (corpus.HealthStore, error) {
	if a.Config.DB.DSN == "" {
		return healthmemory.New(), nil
	}
	health, pool, err := healthpostgres.Connect(ctx, a.Config.DB.DSN)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	return health, nil
}

func (a *App) buildRegistry() (*sources.Registry, error) {
	cfg := a.Config
	httpClient := &http.Client{Timeout: time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second}

	registry := sources.NewRegistry()
	for _, name := range cfg.Sources.Enabled {
		var (
			src corpus.Source
			err error
		)
		switch name {
		case "pubmed":
			src = pubmed.New(pubmed.Config{
				APIKey:    cfg.Sources.NCBIAPIKey,
				UserAgent: cfg.HTTP.UserAgent,
				Client:    httpClient,
			}, a.Logger)
		case "europepmc":
			src = europepmc.New(europepmc.Config{UserAgent: cfg.HTTP.UserAgent, Client: httpClient}, a.Logger)
		case "doaj":
			src = doaj.New(doaj.Config{UserAgent: cfg.HTTP.UserAgent, Client: httpClient}, a.Logger)
		case "crossref":
			src = crossref.New(crossref.Config{
				ISSNs:     cfg.Sources.CrossrefISSNs,
				Mailto:    cfg.Sources.UnpaywallMail,
				UserAgent: cfg.HTTP.UserAgent,
				Client:    httpClient,
			}, a.Logger)
		case "biorxiv":
			src = biorxiv.New(biorxiv.Config{
				Servers:   cfg.Sources.BiorxivServers,
				UserAgent: cfg.HTTP.UserAgent,
				Client:    httpClient,
			}, a.Logger)
		case "arxiv":
			src = arxiv.New(arxiv.Config{UserAgent: cfg.HTTP.UserAgent, Client: httpClient}, a.Logger)
		case "conference":
			src = conference.New(conference.Config{
				PageURLs:  cfg.Sources.ConferenceURL,
				UserAgent: cfg.HTTP.UserAgent,
			}, a.Logger)
		case "unpaywall":
			src, err = unpaywall.NewSource(
				unpaywall.Config{Email: cfg.Sources.UnpaywallMail, Client: httpClient},
				unpaywall.SourceConfig{ISSNs: cfg.Sources.CrossrefISSNs, UserAgent: cfg.HTTP.UserAgent},
				a.Logger,
			)
		case "ivis":
			var ivisSrc *ivis.Source
			ivisSrc, err = ivis.New(ivis.Config{
				Username:    cfg.Sources.IVIS.Username,
				Password:    cfg.Sources.IVIS.Password,
				UserAgent:   cfg.HTTP.UserAgent,
				UseHeadless: cfg.Sources.IVIS.HeadlessLogin,
			}, a.Logger)
			if err == nil {
				a.closers = append(a.closers, ivisSrc.Close)
				src = ivisSrc
			}
		default:
			return nil, fmt.Errorf("unknown source %q in sources.enabled", name)
		}
		if err != nil {
			return nil, fmt.Errorf("init source %s: %w", name, err)
		}
		if err := registry.Register(src); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (a *App) buildResolver() (*resolver.Resolver, error) {
	cfg := resolver.Config{Precedence: a.Config.Resolver.Precedence}
	if a.Config.Resolver.UseUnpaywall {
		lookup, err := unpaywall.New(unpaywall.Config{Email: a.Config.Sources.UnpaywallMail}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("init unpaywall: %w", err)
		}
		cfg.Lookup = lookup
	}
	return resolver.New(cfg, a.Logger), nil
}

// buildEngine resolves the extraction chain once: GROBID when an endpoint
// is configured, then the in-process PDF strategies.
func (a *App) buildEngine() (*extract.Engine, error) {
	var strategies []extract.Strategy
	if endpoint := a.Config.Extract.GrobidEndpoint; endpoint != "" {
		g, err := grobid.New(grobid.Config{
			Endpoint: endpoint,
			Timeout:  time.Duration(a.Config.Extract.GrobidTimeoutSec) * time.Second,
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("init grobid: %w", err)
		}
		strategies = append(strategies, g)
	}
	textCfg := pdftext.Config{MaxSectionChars: a.Config.Extract.MaxSectionChars}
	strategies = append(strategies,
		pdftext.NewSectioned(textCfg, a.Logger),
		pdftext.NewPlain(textCfg, a.Logger),
	)
	return extract.NewEngine(strategies, system.New(), a.Logger)
}

func (a *App) buildPublisher(ctx context.Context) (corpus.Publisher, error) {
	if a.Config.PubSub.ProjectID == "" || a.Config.PubSub.TopicName == "" {
		return publishermemory.New(), nil
	}
	pub, err := publisherpubsub.Connect(ctx, a.Config.PubSub.ProjectID, a.Logger)
	if err != nil {
		return nil, err
	}
	a.publisher = pub
	return pub, nil
}
