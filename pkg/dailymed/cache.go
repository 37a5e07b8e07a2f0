package dailymed

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/medsearch/pkg/metrics"
)

// PayloadCache stores raw payloads by key.
type PayloadCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// CachingFetcher serves detail documents from a PayloadCache before falling
// back to the wrapped Fetcher. Entries are keyed by set id and version, so a
// new version listed upstream is always fetched. List pages are never cached.
type CachingFetcher struct {
	next    Fetcher
	cache   PayloadCache
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ Fetcher = (*CachingFetcher)(nil)

// NewCachingFetcher wraps next with cache. m may be nil.
func NewCachingFetcher(next Fetcher, cache PayloadCache, ttl time.Duration, logger *zap.Logger, m *metrics.Metrics) *CachingFetcher {
	return &CachingFetcher{
		next:    next,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.Named("dailymed-cache"),
		metrics: m,
	}
}

func (f *CachingFetcher) FetchSPLs(ctx context.Context, page int, publishedAfter *time.Time) ([]byte, error) {
	return f.next.FetchSPLs(ctx, page, publishedAfter)
}

func (f *CachingFetcher) FetchSPL(ctx context.Context, setID string, version int) ([]byte, error) {
	key := detailCacheKey(setID, version)

	payload, ok, err := f.cache.Get(ctx, key)
	switch {
	case err != nil:
		f.logger.Warn("Payload cache read failed", zap.String("set_id", setID), zap.Error(err))
	case ok:
		f.metrics.UpstreamRequest(metrics.EndpointDetail, metrics.OutcomeCacheHit, 0)
		return payload, nil
	}

	payload, err = f.next.FetchSPL(ctx, setID, version)
	if err != nil {
		return nil, err
	}

	if err := f.cache.Set(ctx, key, payload, f.ttl); err != nil {
		f.logger.Warn("Payload cache write failed", zap.String("set_id", setID), zap.Error(err))
	}
	return payload, nil
}

func detailCacheKey(setID string, version int) string {
	return "spl:" + setID + ":v" + strconv.Itoa(version)
}
