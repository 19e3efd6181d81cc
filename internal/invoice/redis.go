package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// markUsedScript flips used=false→true in one atomic step so that two
// concurrent consumers can never both claim the same invoice.
// Returns 1 when this caller performed the transition, 0 when the invoice
// was already used, -1 when the key is absent or expired.
var markUsedScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return -1
end
local inv = cjson.decode(raw)
if inv.used then
  return 0
end
inv.used = true
inv.usedAt = tonumber(ARGV[1])
redis.call('SET', KEYS[1], cjson.encode(inv), 'KEEPTTL')
return 1
`)

// RedisStore keeps each invoice as serialised JSON under payment:<id> with
// the TTL applied at write time.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, log: log}
}

func (s *RedisStore) Create(ctx context.Context, inv *Invoice) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invoice: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, key(inv.PaymentID), raw, s.ttl).Result()
	if err != nil {
		s.log.Error("invoice create failed", zap.String("paymentId", inv.PaymentID), zap.Error(err))
		return ErrUnavailable
	}
	if !ok {
		return fmt.Errorf("duplicate paymentId %s", inv.PaymentID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, paymentID string) (*Invoice, error) {
	raw, err := s.rdb.Get(ctx, key(paymentID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		s.log.Error("invoice get failed", zap.String("paymentId", paymentID), zap.Error(err))
		return nil, ErrUnavailable
	}
	var inv Invoice
	if err := json.Unmarshal([]byte(raw), &inv); err != nil {
		s.log.Error("invoice corrupt", zap.String("paymentId", paymentID), zap.Error(err))
		return nil, ErrUnavailable
	}
	return &inv, nil
}

func (s *RedisStore) MarkUsed(ctx context.Context, paymentID string) (bool, error) {
	res, err := markUsedScript.Run(ctx, s.rdb, []string{key(paymentID)}, now()).Int()
	if err != nil {
		s.log.Error("invoice markUsed failed", zap.String("paymentId", paymentID), zap.Error(err))
		return false, ErrUnavailable
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrNotFound
	}
}

func (s *RedisStore) Delete(ctx context.Context, paymentID string) error {
	if err := s.rdb.Del(ctx, key(paymentID)).Err(); err != nil {
		return ErrUnavailable
	}
	return nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: s.Backend()}
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return st, ErrUnavailable
		}
		for _, k := range keys {
			raw, err := s.rdb.Get(ctx, k).Result()
			if err != nil {
				continue
			}
			var inv Invoice
			if json.Unmarshal([]byte(raw), &inv) != nil {
				continue
			}
			st.Total++
			if inv.Used {
				st.Used++
			} else {
				st.Unused++
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return st, nil
}

func (s *RedisStore) Backend() string { return "redis" }
