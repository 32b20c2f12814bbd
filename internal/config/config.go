package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tagforge/internal/logging"
	"tagforge/internal/resolve"
	"tagforge/internal/tags"
)

// FileName is the tool configuration file inside the .tagforge directory.
const FileName = "tagforge.yaml"

// Config holds all tagforge tool configuration.
type Config struct {
	// Fragment sources
	Sources SourcesConfig `yaml:"sources"`

	// Resolution thresholds
	Policy PolicyConfig `yaml:"policy"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// HTTP host
	Server ServerConfig `yaml:"server"`

	// Drift history database
	History HistoryConfig `yaml:"history"`
}

// SourcesConfig names the fragment source directories.
type SourcesConfig struct {
	Base        string   `yaml:"base"`
	Extensions  []string `yaml:"extensions"`
	Concurrency int      `yaml:"concurrency"` // parallel tag-directory loads per source
	Watch       bool     `yaml:"watch"`       // invalidate cached stores on source changes (serve only)
}

// PolicyConfig configures the resolver thresholds.
type PolicyConfig struct {
	AutoAdd     float64 `yaml:"auto_add"`
	Suggest     float64 `yaml:"suggest"`
	DefaultTier string  `yaml:"default_tier"` // core, recommended, optional
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// HistoryConfig configures drift history recording.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`  // relative paths resolve against the workspace
	Limit   int    `yaml:"limit"` // default row count for listings
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Sources: SourcesConfig{
			Base:        "fragments",
			Concurrency: 8,
		},

		Policy: PolicyConfig{
			AutoAdd:     0.6,
			Suggest:     0.5,
			DefaultTier: "recommended",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},

		Server: ServerConfig{
			Addr:            "127.0.0.1:8420",
			ReadTimeout:     "10s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "5s",
		},

		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(".tagforge", "history.db"),
			Limit:   20,
		},
	}
}

// DefaultPath returns the configuration path for workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".tagforge", FileName)
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

var loadDotEnv = godotenv.Load

// LoadDotEnv loads workspace/.env into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if err := loadDotEnv(path); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TAGFORGE_BASE_SOURCE"); v != "" {
		c.Sources.Base = v
	}
	if v := os.Getenv("TAGFORGE_EXTENSION_SOURCES"); v != "" {
		c.Sources.Extensions = splitList(v)
	}
	if v := os.Getenv("TAGFORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TAGFORGE_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("TAGFORGE_HISTORY_DB"); v != "" {
		c.History.Path = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, string(os.PathListSeparator)) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetReadTimeout returns the server read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 10*time.Second)
}

// GetWriteTimeout returns the server write timeout as a duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 30*time.Second)
}

// GetShutdownTimeout returns the graceful shutdown timeout as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 5*time.Second)
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ResolvePolicy converts the policy section into a resolve.Policy.
func (c *Config) ResolvePolicy() (resolve.Policy, error) {
	tier := tags.Recommended
	if strings.TrimSpace(c.Policy.DefaultTier) != "" {
		var err error
		tier, err = tags.ParseTier(c.Policy.DefaultTier)
		if err != nil {
			return resolve.Policy{}, err
		}
	}
	p := resolve.Policy{AutoAdd: c.Policy.AutoAdd, Suggest: c.Policy.Suggest, DefaultTier: tier}
	if err := p.Validate(); err != nil {
		return resolve.Policy{}, err
	}
	return p, nil
}

// LoggingOptions converts the logging section into logging.Options. A
// relative log file resolves against workspace.
func (c *Config) LoggingOptions(workspace string) logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       ResolvePath(workspace, c.Logging.File),
		Categories: c.Logging.Categories,
	}
}

// BaseSource returns the base source directory resolved against workspace.
func (c *Config) BaseSource(workspace string) string {
	return ResolvePath(workspace, c.Sources.Base)
}

// ExtensionSources returns the extension directories resolved against
// workspace, in configured order.
func (c *Config) ExtensionSources(workspace string) []string {
	out := make([]string, 0, len(c.Sources.Extensions))
	for _, ext := range c.Sources.Extensions {
		out = append(out, ResolvePath(workspace, ext))
	}
	return out
}

// HistoryPath returns the history database path resolved against workspace.
func (c *Config) HistoryPath(workspace string) string {
	return ResolvePath(workspace, c.History.Path)
}

// ResolvePath joins relative paths onto workspace. Empty stays empty.
func ResolvePath(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}

// ValidFormats lists the supported log formats.
var ValidFormats = []string{"console", "text", "json"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Sources.Base) == "" {
		return fmt.Errorf("base fragment source not configured (set sources.base or TAGFORGE_BASE_SOURCE)")
	}
	if c.Sources.Concurrency < 0 {
		return fmt.Errorf("invalid sources.concurrency: %d", c.Sources.Concurrency)
	}
	if _, err := c.ResolvePolicy(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	validFormat := false
	for _, f := range ValidFormats {
		if strings.EqualFold(c.Logging.Format, f) {
			validFormat = true
			break
		}
	}
	if !validFormat {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, ValidFormats)
	}
	for name := range c.Logging.Categories {
		if !slices.Contains(logging.AllCategories(), logging.Category(name)) {
			return fmt.Errorf("unknown logging category: %s (valid: %v)", name, logging.AllCategories())
		}
	}

	if c.History.Limit < 0 {
		return fmt.Errorf("invalid history.limit: %d", c.History.Limit)
	}
	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		return fmt.Errorf("history enabled but history.path is empty")
	}

	return nil
}

// FindWorkspaceRoot walks up from the working directory looking for a
// .tagforge directory, then a go.mod. If neither is found it returns the
// working directory.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".tagforge")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return originalDir, nil
}
