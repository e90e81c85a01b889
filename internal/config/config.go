package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the orchestrator's application configuration.
type Config struct {
	AppName   string `mapstructure:"app_name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Events    EventsConfig    `mapstructure:"events"`
	Task      TaskConfig      `mapstructure:"task"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// ServerConfig holds the admin API server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig holds ArangoDB connection configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// QueueConfig holds the NATS task-dispatch/task-result queue configuration.
type QueueConfig struct {
	URL              string `mapstructure:"url"`
	DispatchSubject  string `mapstructure:"dispatch_subject"`
	ResultSubject    string `mapstructure:"result_subject"`
	ReconnectWaitSec int    `mapstructure:"reconnect_wait_seconds"`
}

// RetryConfig holds the default retry policy.
type RetryConfig struct {
	MaxAttempts     int     `mapstructure:"max-attempts"`
	InitialInterval int     `mapstructure:"initial-interval"`
	Multiplier      float64 `mapstructure:"multiplier"`
	MaxInterval     int     `mapstructure:"max-interval"`
}

// SchedulerConfig holds the retry scheduler tick cadence.
type SchedulerConfig struct {
	TickSeconds int `mapstructure:"tick-seconds"`
}

// EventsConfig holds event bus behavior.
type EventsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	LogLevel string `mapstructure:"log-level"`
}

// TaskConfig holds task dispatch worker pool sizing.
type TaskConfig struct {
	ExecutionThreadPoolSize int `mapstructure:"execution.thread-pool-size"`
}

// RetentionConfig holds terminal-workflow purge policy.
type RetentionConfig struct {
	TerminalDays int `mapstructure:"terminal-days"`
}

// Load loads configuration from file, environment variables, and .env.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:   "workflowforge",
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     8529,
			Database: "workflowforge",
			Username: "root",
		},
		Queue: QueueConfig{
			URL:              "nats://localhost:4222",
			DispatchSubject:  "workflow.tasks.dispatch",
			ResultSubject:    "workflow.tasks.result",
			ReconnectWaitSec: 2,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 1000,
			Multiplier:      2.0,
			MaxInterval:     60_000,
		},
		Scheduler: SchedulerConfig{
			TickSeconds: 30,
		},
		Events: EventsConfig{
			Enabled:  true,
			LogLevel: "INFO",
		},
		Task: TaskConfig{
			ExecutionThreadPoolSize: 10,
		},
		Retention: RetentionConfig{
			TerminalDays: 30,
		},
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		if filepath.IsAbs(configPath) {
			viper.SetConfigFile(configPath)
		} else {
			viper.AddConfigPath(filepath.Dir(configPath))
			ext := filepath.Ext(configPath)
			viper.SetConfigName(filepath.Base(configPath[:len(configPath)-len(ext)]))
		}
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/workflowforge")

	viper.SetEnvPrefix("WF")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if password := os.Getenv("WF_DATABASE_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if port := os.Getenv("WF_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	return cfg, nil
}

// RetryDefaults converts the config into the retry package's duration-typed form.
func (c *Config) RetryDefaults() (initial, maxInterval time.Duration, multiplier float64, maxAttempts int) {
	return time.Duration(c.Retry.InitialInterval) * time.Millisecond,
		time.Duration(c.Retry.MaxInterval) * time.Millisecond,
		c.Retry.Multiplier,
		c.Retry.MaxAttempts
}
