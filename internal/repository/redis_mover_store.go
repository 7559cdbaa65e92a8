package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MoverPull/internal/domain/models"
	domainrepo "MoverPull/internal/domain/repository"
	"MoverPull/pkg/util"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// insertIfAbsent writes the record hash and its index entry only when the hash
// does not exist yet. KEYS[1]=record, KEYS[2]=index.
// ARGV: pk, date, ticker, percent, close, score.
var insertIfAbsent = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'pk', ARGV[1], 'sk', ARGV[2], 'Date', ARGV[2], 'Ticker', ARGV[3], 'PercentChange', ARGV[4], 'ClosingPrice', ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[2])
return 1
`)

type RedisOption func(*RedisConfig)

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	Timeout      time.Duration
	Prefix       string
}

func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) { c.Addr = addr }
}

func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
		c.DB = db
	}
}

func WithRedisPool(poolSize int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.Timeout = timeout
	}
}

// WithRedisPrefix sets the key namespace, normally the table name.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

// RedisMoverStore keeps each record as a hash and indexes dates in a sorted set
// scored by yyyymmdd.
type RedisMoverStore struct {
	client redis.UniversalClient
	prefix string
}

var _ domainrepo.MoverStore = (*RedisMoverStore)(nil)

// NewRedisMoverStore connects and pings Redis.
func NewRedisMoverStore(opts ...RedisOption) (*RedisMoverStore, error) {
	cfg := &RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 1,
		Timeout:      5 * time.Second,
		Prefix:       "movers",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisMoverStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisMoverStoreWithClient wraps an existing client.
func NewRedisMoverStoreWithClient(client redis.UniversalClient, prefix string) *RedisMoverStore {
	return &RedisMoverStore{client: client, prefix: prefix}
}

func (s *RedisMoverStore) recordKey(date string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, models.PartitionKey, date)
}

func (s *RedisMoverStore) indexKey() string {
	return fmt.Sprintf("%s:%s:index", s.prefix, models.PartitionKey)
}

func (s *RedisMoverStore) Exists(ctx context.Context, date string) (bool, error) {
	n, err := s.client.Exists(ctx, s.recordKey(date)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", date, err)
	}
	return n == 1, nil
}

func (s *RedisMoverStore) Get(ctx context.Context, date string) (*models.MoverRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(date)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", date, err)
	}
	if len(fields) == 0 {
		return nil, domainrepo.ErrNotFound
	}
	return decodeRecord(fields)
}

func (s *RedisMoverStore) TryInsert(ctx context.Context, rec models.MoverRecord) (models.InsertOutcome, error) {
	score, err := util.DateScore(rec.Date)
	if err != nil {
		return 0, err
	}

	n, err := insertIfAbsent.Run(ctx, s.client,
		[]string{s.recordKey(rec.Date), s.indexKey()},
		models.PartitionKey,
		rec.Date,
		rec.Ticker,
		rec.PercentChange.StringFixed(models.Precision),
		rec.ClosingPrice.StringFixed(models.Precision),
		score,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis insert %s: %w", rec.Date, err)
	}
	if n == 0 {
		return models.AlreadyPresent, nil
	}
	return models.Inserted, nil
}

func (s *RedisMoverStore) Latest(ctx context.Context, n int) ([]models.MoverRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	dates, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange: %w", err)
	}
	if len(dates) == 0 {
		return []models.MoverRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(dates))
	for i, d := range dates {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(d))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline: %w", err)
	}

	out := make([]models.MoverRecord, 0, len(dates))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRecord(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *RedisMoverStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisMoverStore) Close() error {
	return s.client.Close()
}

func decodeRecord(fields map[string]string) (*models.MoverRecord, error) {
	pct, err := decimal.NewFromString(fields["PercentChange"])
	if err != nil {
		return nil, fmt.Errorf("decode PercentChange for %s: %w", fields["Date"], err)
	}
	closing, err := decimal.NewFromString(fields["ClosingPrice"])
	if err != nil {
		return nil, fmt.Errorf("decode ClosingPrice for %s: %w", fields["Date"], err)
	}
	return &models.MoverRecord{
		Date:          fields["Date"],
		Ticker:        fields["Ticker"],
		PercentChange: pct,
		ClosingPrice:  closing,
	}, nil
}
