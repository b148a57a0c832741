// Package config provides configuration management for virtbench.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/virtbench/virtbench/internal/scheduler"
)

// Config holds all configuration for the application.
type Config struct {
	Database  DatabaseConfig   `mapstructure:"database"`
	Etcd      EtcdConfig       `mapstructure:"etcd"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Queue     QueueConfig      `mapstructure:"queue"`
	Scheduler scheduler.Config `mapstructure:"scheduler"`
	Runner    RunnerConfig     `mapstructure:"runner"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration for run locking.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// RedisConfig holds Redis configuration for the run queue.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig holds run queue configuration.
type QueueConfig struct {
	KeyPrefix    string `mapstructure:"key_prefix"`
	EventChannel string `mapstructure:"event_channel"`
}

// RunnerConfig holds run preparation configuration.
type RunnerConfig struct {
	LockTTLSec  int           `mapstructure:"lock_ttl_sec"`
	PlanTimeout time.Duration `mapstructure:"plan_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("VIRTBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "virtbench")
	v.SetDefault("database.user", "virtbench")
	v.SetDefault("database.password", "virtbench")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Queue
	v.SetDefault("queue.key_prefix", "virtbench:queue")
	v.SetDefault("queue.event_channel", "virtbench:runs")

	// Scheduler
	def := scheduler.DefaultConfig()
	v.SetDefault("scheduler.reserved_host_mem_mib", def.ReservedHostMemMiB)
	v.SetDefault("scheduler.extra_core_slots", def.ExtraCoreSlots)
	v.SetDefault("scheduler.min_guest_mem_mib", def.MinGuestMemMiB)
	v.SetDefault("scheduler.mem_step_mib", def.MemStepMiB)
	v.SetDefault("scheduler.bigmem_threshold_mib", def.BigmemThresholdMiB)
	v.SetDefault("scheduler.hap_mem32_limit_mib", def.HAPMem32LimitMiB)
	v.SetDefault("scheduler.mac_prefix", def.MACPrefix)

	// Runner
	v.SetDefault("runner.lock_ttl_sec", 60)
	v.SetDefault("runner.plan_timeout", "30s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}
