package config

import (
	"fmt"
	"net/url"
	"path/filepath"
)

var defaultModels = map[string]string{
	"openai": "gpt-4o-mini",
	"claude": "sonnet",
}

var validClaudeModels = map[string]bool{
	"opus":   true,
	"sonnet": true,
	"haiku":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the config for errors and sets defaults.
func Validate(cfg *Config) error {
	if cfg.Name == "" {
		cfg.Name = "synthflow"
	}

	m := &cfg.Model
	if m.Backend == "" {
		m.Backend = "openai"
	}
	def, ok := defaultModels[m.Backend]
	if !ok {
		return fmt.Errorf("config: model: unknown backend %q (must be openai or claude)", m.Backend)
	}
	if m.Name == "" {
		m.Name = def
	}
	if m.Backend == "claude" && !validClaudeModels[m.Name] {
		return fmt.Errorf("config: model: unknown claude model %q (must be opus, sonnet, or haiku)", m.Name)
	}
	if m.Backend == "openai" && m.APIKeyEnv == "" {
		m.APIKeyEnv = "OPENAI_API_KEY"
	}
	if m.BaseURL != "" {
		if err := checkURL("model.base-url", m.BaseURL); err != nil {
			return err
		}
	}
	if m.Timeout < 0 {
		return fmt.Errorf("config: model: timeout must be >= 0")
	}
	if m.Timeout == 0 {
		m.Timeout = 120
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return fmt.Errorf("config: model: temperature must be between 0 and 2")
	}

	e := &cfg.Evidence
	if e.MaxToolCalls < 0 {
		return fmt.Errorf("config: evidence: max-tool-calls must be >= 1")
	}
	if e.MaxToolCalls == 0 {
		e.MaxToolCalls = 12
	}
	if e.MaxObservationChars < 0 {
		return fmt.Errorf("config: evidence: max-observation-chars must be >= 0")
	}
	if e.MaxObservationChars == 0 {
		e.MaxObservationChars = 12000
	}

	g := &cfg.Generation
	if g.MaxAttempts == 0 {
		g.MaxAttempts = 3
	}
	if g.MaxAttempts < 2 {
		return fmt.Errorf("config: generation: max-attempts must be >= 2 (initial proposal plus at least one repair)")
	}

	t := &cfg.Tools
	if t.NCBIKeyEnv == "" {
		t.NCBIKeyEnv = "NCBI_API_KEY"
	}
	if t.NCBIBaseURL == "" {
		t.NCBIBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	if err := checkURL("tools.ncbi-base-url", t.NCBIBaseURL); err != nil {
		return err
	}
	if t.TrialsBaseURL == "" {
		t.TrialsBaseURL = "https://clinicaltrials.gov/api/v2/studies"
	}
	if err := checkURL("tools.trials-base-url", t.TrialsBaseURL); err != nil {
		return err
	}
	if t.Timeout < 0 {
		return fmt.Errorf("config: tools: timeout must be >= 0")
	}
	if t.Timeout == 0 {
		t.Timeout = 20
	}
	if t.MaxResults < 0 || t.MaxResults > 50 {
		return fmt.Errorf("config: tools: max-results must be between 1 and 50")
	}
	if t.MaxResults == 0 {
		t.MaxResults = 50
	}

	c := &t.Cache
	switch c.Backend {
	case "":
		c.Backend = "memory"
	case "memory", "none":
	case "redis":
		if c.RedisAddr == "" {
			c.RedisAddr = "localhost:6379"
		}
	default:
		return fmt.Errorf("config: tools: unknown cache backend %q (must be memory, redis, or none)", c.Backend)
	}
	if c.TTL < 0 {
		return fmt.Errorf("config: tools: cache ttl must be >= 0")
	}
	if c.TTL == 0 {
		c.TTL = 60
	}

	l := &cfg.Log
	if l.Level == "" {
		l.Level = "info"
	}
	if !validLogLevels[l.Level] {
		return fmt.Errorf("config: log: unknown level %q (must be debug, info, warn, or error)", l.Level)
	}
	switch l.Format {
	case "":
		l.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("config: log: unknown format %q (must be console or json)", l.Format)
	}

	tr := &cfg.Tracing
	if tr.ServiceName == "" {
		tr.ServiceName = "synthflow"
	}
	if tr.Enabled && tr.Endpoint == "" {
		tr.Endpoint = "localhost:4317"
	}

	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = filepath.Join(Dir, "artifacts")
	}

	return nil
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: %s: %q is not an absolute URL", field, raw)
	}
	return nil
}
