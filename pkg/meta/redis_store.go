package meta

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jacktea/xpaste/pkg/xerrors"
)

const defaultRedisPrefix = "xpaste"

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	// Addr is host:port or a redis:// URL.
	Addr   string
	Prefix string
}

// RedisStore keeps each record under <prefix>:object:<code> and maintains a
// lexically ordered index of codes in <prefix>:codes for listing.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the configured server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "NewRedisStore", "addr")
	}
	opts := &redis.Options{Addr: cfg.Addr}
	if strings.Contains(cfg.Addr, "://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindInvalid, "NewRedisStore", cfg.Addr, err)
		}
		opts = parsed
	}
	return NewRedisStoreFromClient(redis.NewClient(opts), cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

func (r *RedisStore) objectKey(code string) string { return r.prefix + ":object:" + code }
func (r *RedisStore) indexKey() string             { return r.prefix + ":codes" }

// PutIfAbsent relies on SETNX for atomicity. The losing writer reads back the
// winner's record.
func (r *RedisStore) PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.Code == "" {
		return Record{}, false, xerrors.E(xerrors.KindInvalid, "RedisStore.PutIfAbsent", "")
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return Record{}, false, xerrors.Wrap(xerrors.KindInternal, "RedisStore.PutIfAbsent", rec.Code, err)
	}
	created, err := r.client.SetNX(ctx, r.objectKey(rec.Code), data, 0).Result()
	if err != nil {
		return Record{}, false, xerrors.Wrap(xerrors.KindInternal, "RedisStore.PutIfAbsent", rec.Code, err)
	}
	// The index entry is idempotent, so both winner and loser add it. A
	// crash between the two calls is repaired by the next upload.
	if err := r.client.ZAddNX(ctx, r.indexKey(), redis.Z{Member: rec.Code}).Err(); err != nil {
		return Record{}, false, xerrors.Wrap(xerrors.KindInternal, "RedisStore.PutIfAbsent", rec.Code, err)
	}
	if created {
		return rec, true, nil
	}
	existing, err := r.Get(ctx, rec.Code)
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

func (r *RedisStore) Get(ctx context.Context, code string) (Record, error) {
	data, err := r.client.Get(ctx, r.objectKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, xerrors.E(xerrors.KindNotFound, "RedisStore.Get", code)
	}
	if err != nil {
		return Record{}, xerrors.Wrap(xerrors.KindInternal, "RedisStore.Get", code, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, xerrors.Wrap(xerrors.KindInternal, "RedisStore.Get", code, err)
	}
	return rec, nil
}

func (r *RedisStore) List(ctx context.Context, after string, limit int) ([]Record, error) {
	min := "-"
	if after != "" {
		min = "(" + after
	}
	by := &redis.ZRangeBy{Min: min, Max: "+"}
	if limit > 0 {
		by.Count = int64(limit)
	}
	codes, err := r.client.ZRangeByLex(ctx, r.indexKey(), by).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "RedisStore.List", after, err)
	}
	if len(codes) == 0 {
		return nil, nil
	}
	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = r.objectKey(code)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "RedisStore.List", after, err)
	}
	out := make([]Record, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(s))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindInternal, "RedisStore.List", codes[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
