package commands

import (
	"context"
	stdErrors "errors"
	"os"
	"path/filepath"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/exchangeset/internal/api"
	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/eventstore"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/metrics"
	"git.home.luguber.info/inful/exchangeset/internal/orchestrator"
	"git.home.luguber.info/inful/exchangeset/internal/queue"
	"git.home.luguber.info/inful/exchangeset/internal/retry"
	"git.home.luguber.info/inful/exchangeset/internal/store"
	"git.home.luguber.info/inful/exchangeset/internal/upstream"
)

// runtime holds every adapter the daemon owns, built from one configuration.
type runtime struct {
	store    store.Store
	events   eventstore.Store
	router   *queue.Router
	registry *prom.Registry
	service  *orchestrator.Service
	server   *api.Server
}

func newRuntime(ctx context.Context, cfg *config.Config) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if cfg.Upstream.CatalogueURL == "" {
		return nil, errors.ConfigError("upstream.catalogue_url is required").Build()
	}

	st, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	rt.store = st

	var journal *eventstore.Journal
	if cfg.Events.Enabled {
		if err = ensureDir(cfg.Events.Path); err != nil {
			return nil, err
		}
		events, err := eventstore.NewSQLiteStore(cfg.Events.Path)
		if err != nil {
			return nil, err
		}
		rt.events = events
		journal = eventstore.NewJournal(rt.events)
	}

	broker, err := openBroker(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}
	rt.router = queue.NewRouter(broker)

	rt.registry = prom.NewRegistry()
	rt.registry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(rt.registry)

	timeout := cfg.Upstream.TimeoutDuration()
	deps := orchestrator.Deps{
		Store:     rt.store,
		Router:    rt.router,
		Catalogue: upstream.NewCatalogueClient(cfg.Upstream.CatalogueURL, cfg.Upstream.Token, timeout, nil),
		Journal:   journal,
		Recorder:  recorder,
	}
	if cfg.Upstream.FileServiceURL != "" {
		deps.Files = upstream.NewFileServiceClient(cfg.Upstream.FileServiceURL, cfg.Upstream.Token, timeout, nil)
	}

	standards, err := parseStandards(cfg.DataStandards)
	if err != nil {
		return nil, err
	}

	rt.service, err = orchestrator.New(deps, orchestrator.Options{
		Environment:         cfg.Environment,
		Policy:              retry.FromConfig(cfg.Retry),
		DataStandards:       standards,
		BatchExpiry:         cfg.Upstream.BatchExpiryDuration(),
		ConsistencyAttempts: cfg.Consistency.Attempts,
		ConsistencyDelay:    cfg.Consistency.DelayDuration(),
	})
	if err != nil {
		return nil, err
	}

	if cfg.Server.Enabled {
		rt.server = api.NewServer(cfg.Server.Addr, rt.service,
			api.WithMetrics(cfg.Server.MetricsPath, metrics.HTTPHandler(rt.registry)),
			api.WithCORS(cfg.Server.CORSOrigins))
	}
	return rt, nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StorageSQLite:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, errors.ConfigError("unsupported storage driver").WithContext("driver", cfg.Driver).Build()
	}
}

func openBroker(ctx context.Context, cfg config.QueueConfig) (queue.Broker, error) {
	switch cfg.Driver {
	case config.QueueNATS:
		b, err := queue.NewNATSBroker(ctx, queue.NATSConfig{
			URL:           cfg.NATSURL,
			Stream:        cfg.Stream,
			SubjectPrefix: cfg.SubjectPrefix,
			AckWait:       cfg.AckWaitDuration(),
			FetchWait:     cfg.FetchWaitDuration(),
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.QueueMemory:
		return queue.NewMemoryBroker(cfg.Capacity, cfg.AckWaitDuration(), cfg.FetchWaitDuration()), nil
	default:
		return nil, errors.ConfigError("unsupported queue driver").WithContext("driver", cfg.Driver).Build()
	}
}

func parseStandards(raw []string) ([]jobs.DataStandard, error) {
	out := make([]jobs.DataStandard, 0, len(raw))
	for _, r := range raw {
		ds, err := jobs.ParseDataStandard(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// ensureDir creates the parent directory of a database file. ":memory:" is left alone.
func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.ConfigError("failed to create data directory").WithCause(err).WithContext("path", path).Build()
	}
	return nil
}

// Close releases the queue connection and both databases.
func (rt *runtime) Close() error {
	var errs []error
	if rt.router != nil {
		errs = append(errs, rt.router.Close())
	}
	if rt.events != nil {
		errs = append(errs, rt.events.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return stdErrors.Join(errs...)
}
