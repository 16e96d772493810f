// Package config loads and validates the collector configuration.
//
// The configuration is read once at startup and is immutable for the
// process lifetime. All components share it read-only.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage selects the persistence target for ingested activities.
type Storage string

const (
	// StorageFiles writes one XML file per activity to the out box.
	StorageFiles Storage = "files"
	// StorageDatabase writes parsed activities to a relational store.
	StorageDatabase Storage = "database"
)

// Duration wraps time.Duration for YAML decoding ("2s", "500ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Account identifies the collector account used for both the discovery
// probes and the stream feeds.
type Account struct {
	MachineName string `yaml:"machine_name"`
	UserName    string `yaml:"user_name"`
	// Password and PasswordEncoded are alternates in the file; after
	// Load both are populated (encoded form is base64).
	Password        string `yaml:"password"`
	PasswordEncoded string `yaml:"password_encoded"`
}

// Collector holds pipeline-level settings.
type Collector struct {
	Storage        Storage  `yaml:"storage"`
	OutBox         string   `yaml:"out_box"`
	Domain         string   `yaml:"domain"`
	DiscoveryLimit int      `yaml:"discovery_limit"`
	PollInterval   Duration `yaml:"poll_interval"`
	BufferSize     int      `yaml:"buffer_size"`
}

// StreamConfig is a statically configured stream. When any streams are
// configured, endpoint discovery is skipped entirely.
type StreamConfig struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// Database holds relational store connection parameters.
type Database struct {
	Driver   string `yaml:"driver"` // "postgres" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Schema   string `yaml:"schema"`
	UserName string `yaml:"user_name"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite only
}

// Logging configures the base logger built in main().
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full collector context.
type Config struct {
	Account   Account        `yaml:"account"`
	Collector Collector      `yaml:"collector"`
	Streams   []StreamConfig `yaml:"streams"`
	Database  Database       `yaml:"database"`
	Logging   Logging        `yaml:"logging"`
}

// Load reads, decodes, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.resolveCredential(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Collector.Domain == "" {
		c.Collector.Domain = "gnip.com"
	}
	if c.Collector.DiscoveryLimit == 0 {
		c.Collector.DiscoveryLimit = 20
	}
	if c.Collector.PollInterval == 0 {
		c.Collector.PollInterval = Duration(2 * time.Second)
	}
	if c.Collector.BufferSize == 0 {
		c.Collector.BufferSize = 4096
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Port == 0 && c.Database.Driver == "postgres" {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
}

// resolveCredential populates both password fields: a plain password is
// base64-encoded, an encoded one is decoded.
func (c *Config) resolveCredential() error {
	acct := &c.Account
	switch {
	case acct.PasswordEncoded != "":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(acct.PasswordEncoded))
		if err != nil {
			return fmt.Errorf("decode account password: %w", err)
		}
		acct.Password = string(decoded)
	case acct.Password != "":
		acct.PasswordEncoded = base64.StdEncoding.EncodeToString([]byte(acct.Password))
	}
	return nil
}

func (c *Config) validate() error {
	if c.Account.MachineName == "" {
		return fmt.Errorf("account.machine_name is required")
	}
	if c.Account.UserName == "" {
		return fmt.Errorf("account.user_name is required")
	}

	switch c.Collector.Storage {
	case StorageFiles:
		if c.Collector.OutBox == "" {
			return fmt.Errorf("collector.out_box is required for files storage")
		}
	case StorageDatabase:
		switch c.Database.Driver {
		case "postgres":
			if c.Database.Host == "" || c.Database.Schema == "" || c.Database.UserName == "" {
				return fmt.Errorf("database host, schema, and user_name are required for postgres")
			}
		case "sqlite":
			if c.Database.Path == "" {
				return fmt.Errorf("database.path is required for sqlite")
			}
		default:
			return fmt.Errorf("unknown database driver %q", c.Database.Driver)
		}
	case "":
		return fmt.Errorf("collector.storage is required (files or database)")
	default:
		return fmt.Errorf("unknown storage mode %q", c.Collector.Storage)
	}

	if c.Collector.DiscoveryLimit < 0 {
		return fmt.Errorf("collector.discovery_limit must not be negative")
	}
	for _, s := range c.Streams {
		if s.ID <= 0 {
			return fmt.Errorf("stream id %d: ids must be positive", s.ID)
		}
		if s.Name == "" {
			return fmt.Errorf("stream %d: name is required", s.ID)
		}
	}

	return nil
}

// BaseURL returns the account's data collector root, e.g.
// "https://acme.gnip.com/data_collectors".
func (c *Config) BaseURL() string {
	return fmt.Sprintf("https://%s.%s/data_collectors", c.Account.MachineName, c.Collector.Domain)
}

// DSN builds the database/sql data source name for the configured
// driver.
func (d *Database) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Schema, d.UserName, d.Password, d.SSLMode)
}
