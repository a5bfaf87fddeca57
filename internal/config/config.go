// Package config handles configuration loading for the MSH.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows credentials such
// as database passwords to be injected at runtime.
//
// # Configuration Sections
//
//   - logging: level and format of the process log
//   - storage: repository driver (sqlite, mysql or mongodb) and connection
//   - bodyStore: base locations of stored message bodies
//   - pmodes: directories holding sending and receiving P-Mode files
//   - cleanup: retention period and schedule of the clean-up agent
//   - metrics: health and Prometheus endpoint
//   - agents: agent definitions; omitted parts get the defaults of the type
//
// # Example Configuration
//
//	id: msh-a
//	storage:
//	  driver: mysql
//	  dsn: msh:${MYSQL_PASSWORD}@tcp(db:3306)/msh?parseTime=true
//	bodyStore:
//	  in: file:///var/lib/msh/in
//	  out: file:///var/lib/msh/out
//	pmodes:
//	  sending: /etc/msh/pmodes/sending
//	  receiving: /etc/msh/pmodes/receiving
//	agents:
//	  - type: Receive
//	    receiver:
//	      type: http
//	      settings:
//	        address: ":8443"
//	        certFile: /etc/ssl/msh.crt
//	        keyFile: /etc/ssl/msh.key
//	  - type: Deliver
//	    receiver:
//	      settings:
//	        pollInterval: 2s
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	DriverSQLite  = "sqlite"
	DriverMySQL   = "mysql"
	DriverMongoDB = "mongodb"
)

// Config is the root configuration structure
type Config struct {
	ID        string          `yaml:"id"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	BodyStore BodyStoreConfig `yaml:"bodyStore"`
	PModes    PModesConfig    `yaml:"pmodes"`

	// RetentionDays is how long terminal records are kept
	RetentionDays int           `yaml:"retentionDays"`
	Cleanup       CleanupConfig `yaml:"cleanup"`
	Metrics       MetricsConfig `yaml:"metrics"`

	// UseDefaultAgents starts every default agent not listed in Agents
	UseDefaultAgents *bool         `yaml:"useDefaultAgents"`
	Agents           []AgentConfig `yaml:"agents"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// StorageConfig holds repository settings
type StorageConfig struct {
	Driver  string        `yaml:"driver"`
	DSN     string        `yaml:"dsn"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	GridFS   struct {
		BucketName     string `yaml:"bucketName"`
		ChunkSizeBytes int32  `yaml:"chunkSizeBytes"`
	} `yaml:"gridfs"`
}

// BodyStoreConfig holds the base locations of stored bodies. file://
// locations are directories; with MongoDB, gridfs:// stores bodies in GridFS.
type BodyStoreConfig struct {
	In         string `yaml:"in"`
	Out        string `yaml:"out"`
	Exceptions string `yaml:"exceptions"`
}

// PModesConfig holds the P-Mode directories
type PModesConfig struct {
	Sending   string `yaml:"sending"`
	Receiving string `yaml:"receiving"`
}

// CleanupConfig holds clean-up agent settings
type CleanupConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// MetricsConfig holds the health and metrics endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// AgentConfig defines one agent. Name defaults to Type. Receiver,
// Transformer, Steps and ExceptionHandler default to those of Type.
type AgentConfig struct {
	Name             string           `yaml:"name"`
	Type             string           `yaml:"type"`
	Enabled          *bool            `yaml:"enabled"`
	Receiver         *ComponentConfig `yaml:"receiver"`
	Transformer      string           `yaml:"transformer"`
	Steps            *StepsConfig     `yaml:"steps"`
	ExceptionHandler string           `yaml:"exceptionHandler"`
}

// ComponentConfig names a registered component and its settings
type ComponentConfig struct {
	Type     string            `yaml:"type"`
	Settings map[string]string `yaml:"settings"`
}

// StepsConfig lists the step keys of both pipelines
type StepsConfig struct {
	Normal []string `yaml:"normal"`
	Error  []string `yaml:"error"`
}

// IsEnabled reports whether the agent should run
func (a *AgentConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// CleanupEnabled reports whether the clean-up agent should run
func (c *Config) CleanupEnabled() bool {
	return c.Cleanup.Enabled == nil || *c.Cleanup.Enabled
}

// DefaultAgents reports whether unlisted default agents are started
func (c *Config) DefaultAgents() bool {
	return c.UseDefaultAgents == nil || *c.UseDefaultAgents
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML data
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration of an empty file
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "msh"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.Driver == DriverSQLite && c.Storage.DSN == "" {
		c.Storage.DSN = "msh.db"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "msh"
	}
	if c.Storage.MongoDB.GridFS.BucketName == "" {
		c.Storage.MongoDB.GridFS.BucketName = "bodies"
	}
	if c.Storage.MongoDB.GridFS.ChunkSizeBytes == 0 {
		c.Storage.MongoDB.GridFS.ChunkSizeBytes = 261120 // 255KB
	}
	if c.BodyStore.In == "" {
		c.BodyStore.In = "file://data/in"
	}
	if c.BodyStore.Out == "" {
		c.BodyStore.Out = "file://data/out"
	}
	if c.BodyStore.Exceptions == "" {
		c.BodyStore.Exceptions = "file://data/exceptions"
	}
	if c.PModes.Sending == "" {
		c.PModes.Sending = "pmodes/sending"
	}
	if c.PModes.Receiving == "" {
		c.PModes.Receiving = "pmodes/receiving"
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 90
	}
	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = "@every 1h"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	for i := range c.Agents {
		if c.Agents[i].Name == "" {
			c.Agents[i].Name = c.Agents[i].Type
		}
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverMySQL:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver '%s'", c.Storage.Driver)
		}
	case DriverMongoDB:
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required for driver 'mongodb'")
		}
	default:
		return fmt.Errorf("storage.driver must be 'sqlite', 'mysql' or 'mongodb', got '%s'", c.Storage.Driver)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", c.Logging.Format)
	}

	for name, location := range map[string]string{
		"bodyStore.in":         c.BodyStore.In,
		"bodyStore.out":        c.BodyStore.Out,
		"bodyStore.exceptions": c.BodyStore.Exceptions,
	} {
		if strings.HasPrefix(location, "gridfs://") && c.Storage.Driver != DriverMongoDB {
			return fmt.Errorf("%s: gridfs locations require the mongodb driver", name)
		}
	}

	if c.RetentionDays < 0 {
		return fmt.Errorf("retentionDays must not be negative")
	}

	names := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Type == "" {
			return fmt.Errorf("agents[%d]: type is required", i)
		}
		if names[a.Name] {
			return fmt.Errorf("agents[%d]: duplicate agent name '%s'", i, a.Name)
		}
		names[a.Name] = true
	}

	return nil
}
