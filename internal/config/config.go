// Package config handles YAML configuration for terediX.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shaharia-lab/terediX/internal/schedule"
)

// Storage engine names.
const (
	EnginePostgreSQL = "postgresql"
	EngineSQLite     = "sqlite"
	EngineBolt       = "bolt"
)

const (
	defaultWorkerPoolSize   = 4
	defaultQueueSize        = 64
	defaultGracePeriod      = 30 * time.Second
	defaultRelationSchedule = "@every 1m"
	defaultBatchSize        = 100
	defaultFlushInterval    = 2 * time.Second
	defaultAPIListen        = ":8080"
	defaultMetricsListen    = ":2112"
	defaultServiceName      = "teredix"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
)

// AppConfig is the root configuration structure. It is loaded once and not mutated afterwards.
type AppConfig struct {
	Organization Organization      `yaml:"organization"`
	Discovery    Discovery         `yaml:"discovery"`
	Storage      Storage           `yaml:"storage"`
	Sources      map[string]Source `yaml:"source" validate:"required,min=1,dive"`
	Relation     Relation          `yaml:"relations"`
	API          Listener          `yaml:"api"`
	Metrics      Listener          `yaml:"metrics"`
	Telemetry    Telemetry         `yaml:"telemetry"`
	Log          Log               `yaml:"log"`
}

// Organization holds organization metadata.
type Organization struct {
	Name string `yaml:"name" validate:"required"`
	Logo string `yaml:"logo"`
}

// Discovery holds discovery settings.
type Discovery struct {
	Name                string        `yaml:"name" validate:"required"`
	Description         string        `yaml:"description"`
	WorkerPoolSize      int           `yaml:"worker_pool_size" validate:"gte=0"`
	QueueSize           int           `yaml:"queue_size" validate:"gte=0"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period" validate:"gte=0"`
	RelationSchedule    string        `yaml:"relation_schedule"`

	RelationEvery schedule.Schedule `yaml:"-"`
}

// Storage holds storage settings.
type Storage struct {
	BatchSize     int           `yaml:"batch_size" validate:"gte=0"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gte=0"`
	DefaultEngine string        `yaml:"default_engine" validate:"required,oneof=postgresql sqlite bolt"`
	Engines       Engines       `yaml:"engines"`
}

// Engines holds per-engine settings. Only the default engine is used.
type Engines struct {
	PostgreSQL *PostgreSQL `yaml:"postgresql" validate:"omitempty"`
	SQLite     *FileEngine `yaml:"sqlite" validate:"omitempty"`
	Bolt       *FileEngine `yaml:"bolt" validate:"omitempty"`
}

// PostgreSQL holds connection settings for the postgresql engine.
type PostgreSQL struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,gt=0"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	DB       string `yaml:"db" validate:"required"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns a lib/pq connection string.
func (p PostgreSQL) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DB, sslMode)
}

// FileEngine holds settings for file backed engines.
type FileEngine struct {
	Path string `yaml:"path" validate:"required"`
}

// Source holds the configuration of one scanner instance.
type Source struct {
	Type          string            `yaml:"type" validate:"required"`
	Configuration map[string]string `yaml:"configuration"`
	Fields        []string          `yaml:"fields"`
	Schedule      string            `yaml:"schedule" validate:"required"`

	Compiled schedule.Schedule `yaml:"-"`
}

// Selector selects resources by kind and metadata.
type Selector struct {
	Kind      string `yaml:"kind" validate:"required"`
	MetaKey   string `yaml:"meta_key" validate:"required"`
	MetaValue string `yaml:"meta_value" validate:"required"`
}

// RelationCriteria is one relation matching rule.
type RelationCriteria struct {
	Name   string   `yaml:"name" validate:"required"`
	Source Selector `yaml:"source"`
	Target Selector `yaml:"target"`
}

// Relation holds relation rules.
type Relation struct {
	RelationCriteria []RelationCriteria `yaml:"criteria" validate:"dive"`
}

// Listener holds an HTTP listen address.
type Listener struct {
	Listen string `yaml:"listen"`
}

// Telemetry holds OpenTelemetry settings.
type Telemetry struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
	Traces      Traces `yaml:"traces"`
}

// Traces holds tracing settings.
type Traces struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// Log holds logging settings.
type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// ConfigurationError describes an invalid or missing setting. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Load reads, parses, defaults and validates a YAML config file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, &ConfigurationError{Reason: "read config file", Err: err}
	}
	return Parse(data)
}

// Parse parses a YAML document. ${VAR} references are expanded from the environment first.
func Parse(data []byte) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, &ConfigurationError{Reason: "parse config", Err: err}
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Discovery.WorkerPoolSize == 0 {
		cfg.Discovery.WorkerPoolSize = defaultWorkerPoolSize
	}
	if cfg.Discovery.QueueSize == 0 {
		cfg.Discovery.QueueSize = defaultQueueSize
	}
	if cfg.Discovery.ShutdownGracePeriod == 0 {
		cfg.Discovery.ShutdownGracePeriod = defaultGracePeriod
	}
	if cfg.Discovery.RelationSchedule == "" {
		cfg.Discovery.RelationSchedule = defaultRelationSchedule
	}
	if cfg.Storage.BatchSize == 0 {
		cfg.Storage.BatchSize = defaultBatchSize
	}
	if cfg.Storage.FlushInterval == 0 {
		cfg.Storage.FlushInterval = defaultFlushInterval
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaultAPIListen
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = defaultMetricsListen
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaultServiceName
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaultLogFormat
	}
}

// ReservedSourcePrefix marks scheduler job names that are not sources, such as the relation rebuild.
const ReservedSourcePrefix = "@"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints, then compiles schedules and checks cross-field rules.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return toConfigurationError(err)
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	for _, name := range c.SourceNames() {
		if strings.HasPrefix(name, ReservedSourcePrefix) {
			return &ConfigurationError{
				Field:  "source." + name,
				Reason: fmt.Sprintf("names starting with %q are reserved for internal jobs", ReservedSourcePrefix),
			}
		}
		src := c.Sources[name]
		compiled, err := schedule.Parse(src.Schedule)
		if err != nil {
			return &ConfigurationError{Field: "source." + name + ".schedule", Reason: err.Error(), Err: err}
		}
		src.Compiled = compiled
		c.Sources[name] = src
	}

	relEvery, err := schedule.Parse(c.Discovery.RelationSchedule)
	if err != nil {
		return &ConfigurationError{Field: "discovery.relation_schedule", Reason: err.Error(), Err: err}
	}
	c.Discovery.RelationEvery = relEvery

	seen := make(map[string]bool)
	for _, rc := range c.Relation.RelationCriteria {
		if seen[rc.Name] {
			return &ConfigurationError{Field: "relations.criteria", Reason: fmt.Sprintf("duplicate rule name %q", rc.Name)}
		}
		seen[rc.Name] = true
	}

	return nil
}

func (c *AppConfig) validateStorage() error {
	e := c.Storage.Engines
	var defined bool
	switch c.Storage.DefaultEngine {
	case EnginePostgreSQL:
		defined = e.PostgreSQL != nil
	case EngineSQLite:
		defined = e.SQLite != nil
	case EngineBolt:
		defined = e.Bolt != nil
	}
	if !defined {
		return &ConfigurationError{
			Field:  "storage.default_engine",
			Reason: fmt.Sprintf("engine %q is not defined under storage.engines", c.Storage.DefaultEngine),
		}
	}
	return nil
}

// SourceNames returns configured source names in sorted order.
func (c *AppConfig) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toConfigurationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigurationError{Reason: err.Error(), Err: err}
	}

	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "AppConfig.")
	reason := fmt.Sprintf("failed on %q", fe.Tag())
	if fe.Param() != "" {
		reason = fmt.Sprintf("failed on %q (%s)", fe.Tag(), fe.Param())
	}
	return &ConfigurationError{Field: field, Reason: reason, Err: err}
}
