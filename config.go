package batchmast

import (
	"time"
)

// Config defines the config for the client.
type Config struct {
	// JobQueue and JobDefinition name the AWS Batch queue and job
	// definition the MAST jobs are submitted to.
	JobQueue      string
	JobDefinition string

	// Bucket is the S3 bucket holding the job workspaces.
	Bucket string

	// Layer names the dataset layer holding raw counts.
	Layer string

	// PollInterval is the pause between job status sweeps while
	// collecting results.
	PollInterval time.Duration

	Logger  Logger
	Journal Journal
	Sink    ResultSink
}

// ConfigDefault is the default config
var ConfigDefault = Config{
	Layer:        "counts",
	PollInterval: 30 * time.Second,
}

// Helper function to set default values
func configDefault(config ...Config) Config {
	// Start from the default config
	cfg := ConfigDefault
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Layer == "" {
		cfg.Layer = ConfigDefault.Layer
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = ConfigDefault.PollInterval
	}

	// Every client gets its own journal instance, so the default
	// cannot live in ConfigDefault
	if cfg.Journal == nil {
		cfg.Journal = NewMemoryJournal()
	}

	return cfg
}
