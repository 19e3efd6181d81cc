package invoice

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// New builds the invoice store for the given connection string. An empty URL
// selects the in-memory backend outright. Any dial or ping failure also falls
// back to memory; the gateway never refuses to serve because the external KV
// is down. The choice is made once at boot — a Redis that comes back later is
// NOT re-adopted mid-process, since that would split the invoice space.
func New(ctx context.Context, url string, ttl time.Duration, log *zap.Logger) Store {
	if url == "" {
		log.Info("invoice store: in-memory backend", zap.Duration("ttl", ttl))
		return NewMemoryStore(ttl)
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("invoice store: bad redis URL, falling back to memory", zap.Error(err))
		return NewMemoryStore(ttl)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("invoice store: redis unreachable, falling back to memory", zap.Error(err))
		_ = rdb.Close()
		return NewMemoryStore(ttl)
	}

	log.Info("invoice store: redis backend", zap.String("addr", opts.Addr), zap.Duration("ttl", ttl))
	return NewRedisStore(rdb, ttl, log)
}
