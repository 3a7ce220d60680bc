package tools

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jorge-barreto/synthflow/internal/config"
)

// NCBI allows 3 requests/second anonymously and 10 with a key.
const (
	ncbiRate        = 3
	ncbiRateWithKey = 10
	trialsRate      = 5
)

// OpenCache returns the configured tool cache, or nil when caching is off.
// An unreachable Redis falls back to an in-memory cache. close releases any
// connection and is never nil.
func OpenCache(ctx context.Context, cfg config.Cache, logger *zap.Logger) (c Cache, close func() error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "none":
		return nil, noop
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis cache unavailable, using in-memory cache",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
			client.Close()
			return NewMemoryCache(), noop
		}
		return NewRedisCache(client), client.Close
	default:
		return NewMemoryCache(), noop
	}
}

// NewDefaultRegistry registers the five retrieval tools configured by cfg.
// Remote tools are wrapped by cache when it is non-nil.
func NewDefaultRegistry(cfg *config.Config, cache Cache, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := NewRegistry(cfg.ToolTimeout(), logger)

	key := cfg.NCBIKey()
	ncbiOpts := HTTPOptions{
		BaseURL: cfg.Tools.NCBIBaseURL,
		Rate:    ncbiRate,
		Backoff: time.Second,
		Logger:  logger.Named("ncbi"),
	}
	if key != "" {
		ncbiOpts.Rate = ncbiRateWithKey
	}
	ncbi := NewNCBI(ncbiOpts, key)
	trials := NewClinicalTrials(HTTPOptions{
		BaseURL: cfg.Tools.TrialsBaseURL,
		Rate:    trialsRate,
		Backoff: time.Second,
		Logger:  logger.Named("clinicaltrials"),
	})

	remote := []Tool{
		&LiteratureSearch{NCBI: ncbi, MaxResults: cfg.Tools.MaxResults},
		&LiteratureFullText{NCBI: ncbi},
		&TrialSearch{Trials: trials, MaxResults: cfg.Tools.MaxResults},
		&TrialDetailTool{Trials: trials},
	}
	for _, t := range remote {
		if cache != nil {
			t = Cached(t, cache, cfg.CacheTTL(), logger)
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	if err := reg.Register(&DocumentExtract{}); err != nil {
		return nil, err
	}
	return reg, nil
}
