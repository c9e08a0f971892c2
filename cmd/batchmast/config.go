package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration, loaded from an optional YAML file
// and overridable through BATCHMAST_* environment variables.
type Config struct {
	JobQueue      string        `yaml:"job_queue" envconfig:"JOB_QUEUE"`
	JobDefinition string        `yaml:"job_definition" envconfig:"JOB_DEFINITION"`
	Bucket        string        `yaml:"bucket" envconfig:"BUCKET"`
	Layer         string        `yaml:"layer" envconfig:"LAYER"`
	PollInterval  time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`

	// JournalDir holds the submission journal; empty disables it and
	// submissions are only tracked in memory.
	JournalDir string `yaml:"journal_dir" envconfig:"JOURNAL_DIR"`

	// ClickHouse is an optional DSN; when set, collected tables are
	// also inserted into the warehouse.
	ClickHouse      string `yaml:"clickhouse" envconfig:"CLICKHOUSE"`
	ClickHouseTable string `yaml:"clickhouse_table" envconfig:"CLICKHOUSE_TABLE"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`
	File  string `yaml:"file" envconfig:"LOG_FILE"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := envconfig.Process("batchmast", &cfg); err != nil {
		return cfg, fmt.Errorf("reading environment: %w", err)
	}

	if cfg.JobQueue == "" || cfg.JobDefinition == "" || cfg.Bucket == "" {
		return cfg, fmt.Errorf("job_queue, job_definition and bucket are required")
	}
	return cfg, nil
}
