package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the redis backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// Redis keeps one hash per user and slides its EXPIRE on every access,
// so Sweep has nothing to do.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

// DialRedis connects and pings with a short timeout.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	r := NewRedis(rdb, cfg.KeyPrefix, cfg.TTL)
	r.owned = true
	return r, nil
}

func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "firefeed:session:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(userID int64) string { return r.prefix + strconv.FormatInt(userID, 10) }

const (
	fieldLanguage   = "lang"
	fieldMenu       = "menu"
	fieldState      = "state"
	fieldLastAccess = "last_access"
)

func (r *Redis) Get(ctx context.Context, userID int64) (Entry, bool, error) {
	k := r.key(userID)
	vals, err := r.rdb.HGetAll(ctx, k).Result()
	if err != nil {
		return Entry{}, false, err
	}
	if len(vals) == 0 {
		return Entry{}, false, nil
	}

	now := time.Now()
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, k, fieldLastAccess, now.UnixMilli())
	pipe.Expire(ctx, k, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return Entry{}, false, err
	}
	e := decodeEntry(vals)
	e.LastAccess = now
	return e, true, nil
}

func (r *Redis) Update(ctx context.Context, userID int64, fn func(e *Entry)) error {
	k := r.key(userID)
	vals, err := r.rdb.HGetAll(ctx, k).Result()
	if err != nil {
		return err
	}
	e := decodeEntry(vals)
	fn(&e)

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, k,
		fieldLanguage, e.Language,
		fieldMenu, e.Menu,
		fieldState, e.State,
		fieldLastAccess, time.Now().UnixMilli(),
	)
	pipe.Expire(ctx, k, r.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Delete(ctx context.Context, userID int64) error {
	return r.rdb.Del(ctx, r.key(userID)).Err()
}

func (r *Redis) Sweep(context.Context) (int, error) { return 0, nil }

func (r *Redis) Close() error {
	if r.owned {
		return r.rdb.Close()
	}
	return nil
}

func decodeEntry(vals map[string]string) Entry {
	e := Entry{
		Language: vals[fieldLanguage],
		Menu:     vals[fieldMenu],
		State:    vals[fieldState],
	}
	if ms, err := strconv.ParseInt(vals[fieldLastAccess], 10, 64); err == nil {
		e.LastAccess = time.UnixMilli(ms)
	}
	return e
}
