package config

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

var defaultAppliers = []DefaultApplier{
	&coreDefaultApplier{},
	&retryDefaultApplier{},
	&storageDefaultApplier{},
	&queueDefaultApplier{},
	&runtimeDefaultApplier{},
}

func applyDefaults(cfg *Config) error {
	for _, applier := range defaultAppliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return configError("failed to apply defaults", err).WithContext("domain", applier.Domain())
		}
	}
	return nil
}

type coreDefaultApplier struct{}

func (coreDefaultApplier) Domain() string { return "core" }

func (coreDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Environment == "" {
		cfg.Environment = "local"
	}
	if len(cfg.DataStandards) == 0 {
		cfg.DataStandards = []string{"S57", "S63", "S100"}
	}
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	return nil
}

type retryDefaultApplier struct{}

func (retryDefaultApplier) Domain() string { return "retry" }

func (retryDefaultApplier) ApplyDefaults(cfg *Config) error {
	if mode := NormalizeRetryBackoff(string(cfg.Retry.Backoff)); mode != "" {
		cfg.Retry.Backoff = mode
	} else {
		cfg.Retry.Backoff = RetryBackoffExponential
	}
	if cfg.Retry.InitialDelay == "" {
		cfg.Retry.InitialDelay = "500ms"
	}
	if cfg.Retry.MaxDelay == "" {
		cfg.Retry.MaxDelay = "10s"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 4
	}
	if cfg.Retry.Jitter < 0 {
		cfg.Retry.Jitter = 0
	}
	return nil
}

type storageDefaultApplier struct{}

func (storageDefaultApplier) Domain() string { return "storage" }

func (storageDefaultApplier) ApplyDefaults(cfg *Config) error {
	if d := storageNormalizer.Normalize(string(cfg.Storage.Driver)); d != "" {
		cfg.Storage.Driver = d
	} else if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageMemory
	}
	if cfg.Storage.Driver == StorageSQLite && cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/orchestrator.db"
	}
	if cfg.Events.Enabled && cfg.Events.Path == "" {
		cfg.Events.Path = "./data/events.db"
	}
	return nil
}

type queueDefaultApplier struct{}

func (queueDefaultApplier) Domain() string { return "queue" }

func (queueDefaultApplier) ApplyDefaults(cfg *Config) error {
	if d := queueNormalizer.Normalize(string(cfg.Queue.Driver)); d != "" {
		cfg.Queue.Driver = d
	} else if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = QueueMemory
	}
	if cfg.Queue.Driver == QueueNATS && cfg.Queue.NATSURL == "" {
		cfg.Queue.NATSURL = "nats://127.0.0.1:4222"
	}
	if cfg.Queue.Stream == "" {
		cfg.Queue.Stream = "EXCHANGE_SETS"
	}
	if cfg.Queue.SubjectPrefix == "" {
		cfg.Queue.SubjectPrefix = "ess"
	}
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = 100
	}
	return nil
}

type runtimeDefaultApplier struct{}

func (runtimeDefaultApplier) Domain() string { return "runtime" }

func (runtimeDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Workers.Concurrency <= 0 {
		cfg.Workers.Concurrency = 4
	}
	if cfg.Consistency.Attempts <= 0 {
		cfg.Consistency.Attempts = 5
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if len(cfg.Schedule.DataStandards) == 0 {
		cfg.Schedule.DataStandards = append([]string(nil), cfg.DataStandards...)
	}
	return nil
}
