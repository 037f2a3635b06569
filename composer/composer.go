// Package composer is the kiln daemon: it consumes build-completion
// notifications from the message bus, classifies them into releases
// and runs the ostree compose pipeline for each accepted event.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/carlmjohnson/versioninfo"
	"github.com/dgraph-io/ristretto"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"kiln.build/core/composer/buildroot"
	"kiln.build/core/composer/config"
	"kiln.build/core/composer/db"
	"kiln.build/core/composer/models"
	"kiln.build/core/composer/ostree"
	"kiln.build/core/composer/queue"
	"kiln.build/core/fedmsg"
	"kiln.build/core/fedmsg/cursor"
	"kiln.build/core/log"
	"kiln.build/core/notifier"
	"kiln.build/core/runner"
	"kiln.build/core/telemetry"
)

type Kiln struct {
	cfg      *config.Config
	releases map[string]models.ReleaseSpec
	db       *db.DB
	l        *slog.Logger
	n        *notifier.Notifier
	jq       *queue.Queue
	pipeline *Pipeline
	tel      *telemetry.Telemetry

	summaryCache *ristretto.Cache
}

func Command() *cli.Command {
	return &cli.Command{
		Name:   "server",
		Usage:  "run the kiln compose daemon",
		Action: Run,
		Description: `
Environment variables:
	KILN_SERVER_LISTEN_ADDR          (default: 0.0.0.0:6885)
	KILN_SERVER_DB_PATH              (default: kiln.db)
	KILN_SERVER_BUS_ENDPOINT         (default: hub.fedoraproject.org:443)
	KILN_SERVER_RELEASES_PATH        (default: /etc/kiln/releases.yaml)
	KILN_SERVER_DEV                  (default: false)
	KILN_PIPELINES_GIT_REPO          (default: https://pagure.io/fedora-atomic.git)
	KILN_PIPELINES_OUTPUT_DIR        (default: /srv/kiln/{name})
	KILN_PIPELINES_LOG_DIR           (default: /var/log/kiln/{name})
	KILN_PIPELINES_MOCK_ROOT         (default: /var/lib/mock)
	KILN_PIPELINES_MOCK_SITE_DIR     (default: /etc/mock)
	KILN_PIPELINES_QUEUE_SIZE        (default: 100)
	KILN_PIPELINES_WORKER_COUNT      (default: 2)
	KILN_PIPELINES_RUN_TIMEOUT       (default: 0, no timeout)
	KILN_PIPELINES_COMPOSE_FAILURE_FATAL (default: false)
	KILN_CURSOR_PROVIDER             (default: sqlite)
`,
	}
}

func Run(ctx context.Context, cmd *cli.Command) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	releases, err := config.LoadReleases(cfg.Server.ReleasesPath, cfg.Pipelines)
	if err != nil {
		return fmt.Errorf("failed to load releases: %w", err)
	}
	logger.Info("releases loaded", "count", len(releases))

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	tel, err := telemetry.New(ctx, "kiln", versioninfo.Short(), cfg.Server.Dev)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	n := notifier.New()

	k, err := newKiln(cfg, releases, d, &n, tel, logger)
	if err != nil {
		return err
	}

	// starts the job queue runners in the background
	k.jq.Start()
	defer k.jq.Stop()

	cursorStore, err := k.cursorStore()
	if err != nil {
		return err
	}

	ccfg := fedmsg.NewConsumerConfig()
	ccfg.Logger = logger
	ccfg.Dev = cfg.Server.Dev
	ccfg.ProcessFunc = k.Dispatch
	ccfg.CursorStore = cursorStore
	ccfg.Sources[fedmsg.NewBusSource(cfg.Server.BusEndpoint)] = struct{}{}
	consumer := fedmsg.NewConsumer(*ccfg)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting bus consumer", "endpoint", cfg.Server.BusEndpoint)
		consumer.Start(ctx)
		<-ctx.Done()
		consumer.Stop()
		return nil
	})
	g.Go(func() error {
		logger.Info("starting kiln server", "address", cfg.Server.ListenAddr)
		return http.ListenAndServe(cfg.Server.ListenAddr, otelhttp.NewHandler(k.Router(), "kiln"))
	})

	return g.Wait()
}

func newKiln(
	cfg *config.Config,
	releases map[string]models.ReleaseSpec,
	d *db.DB,
	n *notifier.Notifier,
	tel *telemetry.Telemetry,
	logger *slog.Logger,
) (*Kiln, error) {
	run := runner.New(logger)

	br, err := buildroot.New(cfg.Pipelines, run, logger)
	if err != nil {
		return nil, err
	}
	ot := ostree.New(br, logger)

	pipeline, err := NewPipeline(cfg.Pipelines, d, n, br, ot, run, tel, logger)
	if err != nil {
		return nil, err
	}

	jq := queue.NewQueue(cfg.Pipelines.QueueSize, cfg.Pipelines.WorkerCount)

	summaryCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 26,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup summary cache: %w", err)
	}

	k := &Kiln{
		cfg:          cfg,
		releases:     releases,
		db:           d,
		l:            logger,
		n:            n,
		jq:           jq,
		pipeline:     pipeline,
		tel:          tel,
		summaryCache: summaryCache,
	}

	if tel != nil {
		depth, err := tel.Meter().Int64ObservableGauge(
			"queue_depth",
			otelmetric.WithDescription("Number of compose jobs waiting in the queue."),
		)
		if err != nil {
			return nil, err
		}
		_, err = tel.Meter().RegisterCallback(func(_ context.Context, o otelmetric.Observer) error {
			o.ObserveInt64(depth, int64(jq.Depth()))
			return nil
		}, depth)
		if err != nil {
			return nil, err
		}
	}

	return k, nil
}

func (k *Kiln) cursorStore() (cursor.Store, error) {
	switch k.cfg.Cursor.Provider {
	case "sqlite":
		return cursor.NewSQLiteStore(k.cfg.Server.DBPath)
	case "redis":
		return cursor.NewRedisStore(k.cfg.Cursor.RedisAddr), nil
	case "memory":
		return &cursor.MemoryStore{}, nil
	default:
		return nil, fmt.Errorf("unknown cursor provider %q", k.cfg.Cursor.Provider)
	}
}
