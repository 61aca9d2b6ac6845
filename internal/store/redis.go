package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"sitemap-ingestor/internal/models"
	"sitemap-ingestor/pkg/logger"
)

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ErrEmptyAddress is returned when the redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const (
	redisConnectTimeout = 5 * time.Second
	defaultKeyPrefix    = "sitemap"
)

// Redis stores each entry as a hash and keeps the collection's IDs in a set.
// Similarity is computed client-side over the whole collection.
type Redis struct {
	client *redis.Client
	opts   Options
	prefix string
}

func NewRedis(ctx context.Context, cfg RedisConfig, opts Options) (*Redis, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisWithClient(client, cfg.KeyPrefix, opts), nil
}

func NewRedisWithClient(client *redis.Client, keyPrefix string, opts Options) *Redis {
	opts.setDefaults()
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Redis{client: client, opts: opts, prefix: keyPrefix + ":" + opts.Name}
}

func (r *Redis) Name() string { return r.opts.Name }

func (r *Redis) idsKey() string            { return r.prefix + ":ids" }
func (r *Redis) entryKey(id string) string { return r.prefix + ":entry:" + id }

func (r *Redis) Upsert(ctx context.Context, e models.StoreEntry) error {
	if err := embed(ctx, r.opts.Embedder, &e); err != nil {
		return err
	}
	fields, err := encodeEntry(e)
	if err != nil {
		return err
	}

	if r.opts.Overwrite {
		_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, r.entryKey(e.ID))
			p.HSet(ctx, r.entryKey(e.ID), fields)
			p.SAdd(ctx, r.idsKey(), e.ID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis upsert %s: %w", e.ID, err)
		}
		return nil
	}

	// SADD is the create-only claim: the first writer of an ID wins.
	added, err := r.client.SAdd(ctx, r.idsKey(), e.ID).Result()
	if err != nil {
		return fmt.Errorf("redis add %s: %w", e.ID, err)
	}
	if added == 0 {
		return models.ErrDuplicateKey
	}
	if err := r.client.HSet(ctx, r.entryKey(e.ID), fields).Err(); err != nil {
		r.client.SRem(ctx, r.idsKey(), e.ID)
		return fmt.Errorf("redis write %s: %w", e.ID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, include ...Include) ([]models.StoreEntry, error) {
	entries, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	return project(entries, include), nil
}

func (r *Redis) all(ctx context.Context) ([]models.StoreEntry, error) {
	ids, err := r.client.SMembers(ctx, r.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis members: %w", err)
	}
	sort.Strings(ids)

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, r.entryKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis read entries: %w", err)
	}

	out := make([]models.StoreEntry, 0, len(ids))
	for i, cmd := range cmds {
		h := cmd.Val()
		// a create-only claim whose hash is not written yet
		if len(h) == 0 {
			continue
		}
		e, err := decodeEntry(ids[i], h)
		if err != nil {
			r.opts.Logger.Warn("skipping unreadable entry", logger.String("id", ids[i]), logger.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Redis) Query(ctx context.Context, text string, n int) ([]models.Hit, error) {
	q, err := embedQuery(ctx, r.opts.Embedder, text)
	if err != nil {
		return nil, err
	}
	entries, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	return rank(entries, q, n), nil
}

// Count reports the entries Get would return. A create-only claim whose hash was
// never written is not counted, but it still makes later writes of that ID duplicates.
func (r *Redis) Count(ctx context.Context) (int, error) {
	entries, err := r.all(ctx)
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return len(entries), nil
}

func (r *Redis) Close() error { return r.client.Close() }

func encodeEntry(e models.StoreEntry) (map[string]any, error) {
	meta, vec, err := marshalFields(e)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"document":  e.Document,
		"metadata":  meta,
		"embedding": vec,
	}, nil
}

func decodeEntry(id string, h map[string]string) (models.StoreEntry, error) {
	e := models.StoreEntry{ID: id, Document: h["document"]}
	err := unmarshalFields(&e, h["metadata"], h["embedding"])
	return e, err
}
