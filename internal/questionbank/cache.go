package questionbank

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
)

const defaultCacheTTL = 5 * time.Minute

type CacheConfig struct {
	Bank   Bank
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

// Cache is a read-through Redis cache in front of a Bank.
// Redis failures are logged and served from the underlying bank.
type Cache struct {
	bank   Bank
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewCache(c CacheConfig) *Cache {
	if c.TTL <= 0 {
		c.TTL = defaultCacheTTL
	}

	return &Cache{
		bank:   c.Bank,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
}

func (c *Cache) Exam(ctx context.Context, examID int64) (*domain.Exam, error) {
	return readThrough(ctx, c, c.key("exam", examID), func() (*domain.Exam, error) {
		return c.bank.Exam(ctx, examID)
	})
}

func (c *Cache) ExamQuestionIDs(ctx context.Context, examID int64) ([]int64, error) {
	ids, err := readThrough(ctx, c, c.key("exam", examID, "questions"), func() (*[]int64, error) {
		ids, err := c.bank.ExamQuestionIDs(ctx, examID)
		return &ids, err
	})
	if err != nil {
		return nil, err
	}

	return *ids, nil
}

func (c *Cache) Question(ctx context.Context, examID, questionID int64) (*domain.Question, error) {
	return readThrough(ctx, c, c.key("exam", examID, "question", questionID), func() (*domain.Question, error) {
		return c.bank.Question(ctx, examID, questionID)
	})
}

func readThrough[T any](ctx context.Context, c *Cache, key string, load func() (*T, error)) (*T, error) {
	b, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		v := new(T)
		if err := json.Unmarshal(b, v); err == nil {
			return v, nil
		}
		slog.WarnContext(ctx, "questionbank: drop corrupted cache entry", "key", key)
	case !stderrors.Is(err, redis.Nil):
		slog.WarnContext(ctx, "questionbank: read cache failed", "key", key, "error", err)
	}

	v, err := load()
	if err != nil {
		return nil, err
	}

	b, err = json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("questionbank: marshal %s: %w", key, err)
	}

	if err := c.redis.Set(ctx, key, b, c.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "questionbank: write cache failed", "key", key, "error", err)
	}

	return v, nil
}

func (c *Cache) key(parts ...any) string {
	k := c.prefix + ":qb"
	for _, p := range parts {
		k += fmt.Sprintf(":%v", p)
	}

	return k
}
