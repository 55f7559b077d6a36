// Package cliconfig loads memgres CLI configuration from defaults, an
// optional YAML file, and MEMGRES_* environment variables, in that order.
package cliconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file name looked up under Home.
const DefaultConfigFile = "config.yaml"

// Config holds CLI configuration for memgres.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	PoolMax  int    `yaml:"pool_max"`

	// Home is the memgres state directory; per-project overflow queues
	// live under it.
	Home string `yaml:"home"`
	// Project is the project path whose schema scopes all work.
	Project string `yaml:"project"`

	BatchSize  int  `yaml:"batch_size"`
	Dimensions int  `yaml:"dimensions"`
	Verbose    bool `yaml:"verbose"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Host:       "localhost",
		Port:       5432,
		User:       "postgres",
		Database:   "memgres",
		SSLMode:    "prefer",
		PoolMax:    10,
		BatchSize:  100,
		Dimensions: 1536,
		Password:   os.Getenv("MEMGRES_PASSWORD"),
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (or <home>/config.yaml when path is empty and the file exists),
// then environment overrides.
func Load(path string) (Config, error) {
	c := DefaultConfig()

	if path == "" {
		if home := stateHome(); home != "" {
			candidate := filepath.Join(home, DefaultConfigFile)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	c.applyEnv()
	return c, nil
}

// loadFile merges a YAML file into the config. Absent keys keep their
// current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays MEMGRES_* environment variables. Environment wins over
// the file so deployments can override a checked-in config.
func (c *Config) applyEnv() {
	setString("MEMGRES_HOST", &c.Host)
	setInt("MEMGRES_PORT", &c.Port)
	setString("MEMGRES_USER", &c.User)
	setString("MEMGRES_PASSWORD", &c.Password)
	setString("MEMGRES_DATABASE", &c.Database)
	setString("MEMGRES_SSLMODE", &c.SSLMode)
	setInt("MEMGRES_POOL_MAX", &c.PoolMax)
	setString("MEMGRES_HOME", &c.Home)
	setString("MEMGRES_PROJECT", &c.Project)
	setInt("MEMGRES_BATCH_SIZE", &c.BatchSize)
	setInt("MEMGRES_DIMENSIONS", &c.Dimensions)
	if v := os.Getenv("MEMGRES_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Verbose = b
		}
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.PoolMax <= 0 {
		c.PoolMax = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Dimensions <= 0 {
		c.Dimensions = 1536
	}
	if c.Home == "" {
		c.Home = stateHome()
	}
	if c.Project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("project is required and the working directory is unknown: %w", err)
		}
		c.Project = wd
	}
	return nil
}

// DSN renders the config as a pgx connection string.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	q.Set("pool_max_conns", strconv.Itoa(c.PoolMax))
	u.RawQuery = q.Encode()
	return u.String()
}

// stateHome returns the default memgres state directory.
func stateHome() string {
	if v := os.Getenv("MEMGRES_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".memgres")
}

func setString(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(env string, dst *int) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
