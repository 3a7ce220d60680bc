package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Dir is the project directory holding config.yaml and run artifacts.
const Dir = ".synthflow"

type Model struct {
	Backend     string  `yaml:"backend"`
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base-url"`
	APIKeyEnv   string  `yaml:"api-key-env"`
	Timeout     int     `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
}

type Evidence struct {
	MaxToolCalls        int `yaml:"max-tool-calls"`
	MaxObservationChars int `yaml:"max-observation-chars"`
}

type Generation struct {
	MaxAttempts int `yaml:"max-attempts"`
}

type Cache struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis-addr"`
	TTL       int    `yaml:"ttl"`
}

type Tools struct {
	NCBIKeyEnv    string `yaml:"ncbi-api-key-env"`
	NCBIBaseURL   string `yaml:"ncbi-base-url"`
	TrialsBaseURL string `yaml:"trials-base-url"`
	Timeout       int    `yaml:"timeout"`
	MaxResults    int    `yaml:"max-results"`
	Cache         Cache  `yaml:"cache"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

type Tracing struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service-name"`
}

type Config struct {
	Name         string     `yaml:"name"`
	Model        Model      `yaml:"model"`
	Evidence     Evidence   `yaml:"evidence"`
	Generation   Generation `yaml:"generation"`
	Tools        Tools      `yaml:"tools"`
	Log          Log        `yaml:"log"`
	Metrics      Metrics    `yaml:"metrics"`
	Tracing      Tracing    `yaml:"tracing"`
	ArtifactsDir string     `yaml:"artifacts-dir"`
}

// Load reads a YAML config file and returns a validated Config.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated config with every default applied.
func Default() *Config {
	var cfg Config
	if err := Validate(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// Path returns the config file location under root.
func Path(root string) string {
	return filepath.Join(root, Dir, "config.yaml")
}

// ToolTimeout returns the per-tool-call timeout.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tools.Timeout) * time.Second
}

// ModelTimeout returns the timeout for a single generation call.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.Timeout) * time.Second
}

// CacheTTL returns how long cached tool outputs stay valid.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Tools.Cache.TTL) * time.Minute
}

// APIKey resolves the model API key from the environment.
func (c *Config) APIKey() string {
	if c.Model.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Model.APIKeyEnv)
}

// NCBIKey resolves the optional NCBI E-utilities key from the environment.
func (c *Config) NCBIKey() string {
	if c.Tools.NCBIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Tools.NCBIKeyEnv)
}
