package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "trendboard.yaml"

const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
)

var ErrInvalidConfig = errors.New("invalid config")

type JiraConfig struct {
	BaseURL    string        `yaml:"base_url"`
	User       string        `yaml:"user"`
	APIToken   string        `yaml:"api_token"`
	PAT        string        `yaml:"pat"`
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`
}

type SnapshotConfig struct {
	BaseJQL string `yaml:"base_jql"`
	Cron    string `yaml:"cron"`
	Workers int    `yaml:"workers"`
}

type Config struct {
	Path     string         `yaml:"-"`
	AppEnv   string         `yaml:"app_env"`
	HTTPAddr string         `yaml:"http_addr"`
	Store    string         `yaml:"store"`
	DBPath   string         `yaml:"db"`
	FilePath string         `yaml:"file"`
	Jira     JiraConfig     `yaml:"jira"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

func Default() Config {
	return Config{
		AppEnv:   "dev",
		HTTPAddr: ":3000",
		Store:    StoreSQLite,
		Jira: JiraConfig{
			APIVersion: "2",
			Timeout:    30 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Workers: 1,
		},
	}
}

// Discover walks from startDir up to the filesystem root looking for
// trendboard.yaml. It returns nil when no file is found.
func Discover(startDir string) (*Config, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, FileName)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			cfg, err := LoadFrom(candidate)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", candidate, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func LoadFrom(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	cfg.Path = path
	base := filepath.Dir(path)
	cfg.DBPath = resolve(base, cfg.DBPath)
	cfg.FilePath = resolve(base, cfg.FilePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overlays TB_* environment variables onto cfg.
func (c *Config) ApplyEnv() {
	c.AppEnv = getenv("TB_APP_ENV", c.AppEnv)
	c.HTTPAddr = getenv("TB_HTTP_ADDR", c.HTTPAddr)
	c.DBPath = getenv("TB_DB_PATH", c.DBPath)
	c.Jira.BaseURL = getenv("TB_JIRA_BASE_URL", c.Jira.BaseURL)
	c.Jira.User = getenv("TB_JIRA_USER", c.Jira.User)
	c.Jira.APIToken = getenv("TB_JIRA_TOKEN", c.Jira.APIToken)
	c.Jira.PAT = getenv("TB_JIRA_PAT", c.Jira.PAT)
	c.Snapshot.Workers = atoi("TB_SNAPSHOT_WORKERS", c.Snapshot.Workers)
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreFile:
	default:
		return fmt.Errorf("%w: store must be %q or %q, got %q", ErrInvalidConfig, StoreSQLite, StoreFile, c.Store)
	}
	if c.Store == StoreFile && strings.TrimSpace(c.FilePath) == "" {
		return fmt.Errorf("%w: file is required when store is %q", ErrInvalidConfig, StoreFile)
	}
	switch c.Jira.APIVersion {
	case "2", "3":
	default:
		return fmt.Errorf("%w: jira.api_version must be 2 or 3, got %q", ErrInvalidConfig, c.Jira.APIVersion)
	}
	if c.Jira.BaseURL != "" && !strings.HasPrefix(c.Jira.BaseURL, "http://") && !strings.HasPrefix(c.Jira.BaseURL, "https://") {
		return fmt.Errorf("%w: jira.base_url must start with http:// or https://", ErrInvalidConfig)
	}
	if c.Jira.Timeout <= 0 {
		return fmt.Errorf("%w: jira.timeout must be positive", ErrInvalidConfig)
	}
	if c.Snapshot.Workers < 1 {
		return fmt.Errorf("%w: snapshot.workers must be at least 1", ErrInvalidConfig)
	}
	return nil
}

func resolve(base, value string) string {
	value = strings.TrimSpace(value)
	if value == "" || filepath.IsAbs(value) {
		return value
	}
	return filepath.Clean(filepath.Join(base, value))
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func atoi(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
