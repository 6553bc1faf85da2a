package config

const (
	defaultDataDir                   = "~/.local/share/docbatch"
	defaultLogDir                    = "~/.local/share/docbatch/logs"
	defaultExportDir                 = "~/docbatch/exports"
	defaultAPIBind                   = "127.0.0.1:7490"
	defaultConcurrency               = 4
	defaultMaxConcurrency            = 64
	defaultMaxRetries                = 3
	defaultBackoffBaseSeconds        = 1
	defaultBackoffCapSeconds         = 30
	defaultBurstThreshold            = 5
	defaultCheckpointIntervalSeconds = 5
	defaultCheckpointEveryItems      = 25
	defaultExtractorBackend          = "text"
	defaultExtractorTimeoutSeconds   = 60
	defaultMonitorSchedule           = "@every 10s"
	defaultSettleDelaySeconds        = 2
	defaultStoreDriver               = "sqlite"
	defaultStoreMaxConns             = 4
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultLogRetentionDays          = 30

	// hardConcurrencyCeiling bounds batch.max_concurrency itself.
	hardConcurrencyCeiling = 256
)

var defaultExtensions = []string{".txt", ".md", ".csv", ".json", ".html", ".xml", ".pdf"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			ExportDir: defaultExportDir,
			APIBind:   defaultAPIBind,
		},
		Batch: Batch{
			Concurrency:               defaultConcurrency,
			MaxConcurrency:            defaultMaxConcurrency,
			MaxRetries:                defaultMaxRetries,
			BackoffBaseSeconds:        defaultBackoffBaseSeconds,
			BackoffCapSeconds:         defaultBackoffCapSeconds,
			BurstThreshold:            defaultBurstThreshold,
			CheckpointIntervalSeconds: defaultCheckpointIntervalSeconds,
			CheckpointEveryItems:      defaultCheckpointEveryItems,
		},
		Source: Source{
			Extensions: append([]string(nil), defaultExtensions...),
			Recursive:  true,
			SkipHidden: true,
		},
		Extractor: Extractor{
			Backend:        defaultExtractorBackend,
			TimeoutSeconds: defaultExtractorTimeoutSeconds,
		},
		Monitor: Monitor{
			Enabled:            true,
			Schedule:           defaultMonitorSchedule,
			SettleDelaySeconds: defaultSettleDelaySeconds,
		},
		Store: Store{
			Driver:   defaultStoreDriver,
			MaxConns: defaultStoreMaxConns,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			OnPause:        true,
			OnComplete:     true,
			OnError:        true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
