package ledger

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/thumbnailer/internal/config"
	"github.com/andresuchdata/thumbnailer/internal/pipeline"
)

const (
	defaultKeyPrefix = "thumbnailer:done"
	defaultTTL       = 24 * time.Hour
	scanBatchSize    = 100
)

// Ledger records which events already produced a thumbnail.
type Ledger interface {
	pipeline.Ledger
	// Reset forgets every recorded event.
	Reset(ctx context.Context) error
	Close() error
}

type redisLedger struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type noopLedger struct{}

// New returns a Redis-backed ledger, or a no-op one when the ledger is
// disabled.
func New(cfg config.LedgerConfig) (Ledger, error) {
	if !cfg.Enabled {
		return &noopLedger{}, nil
	}

	opts, err := buildRedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisLedger(client, time.Duration(cfg.TTLSeconds)*time.Second, cfg.KeyPrefix), nil
}

// NewRedisLedger wraps an existing client. Non-positive ttl falls back to a
// day.
func NewRedisLedger(client *redis.Client, ttl time.Duration, prefix string) Ledger {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &redisLedger{client: client, ttl: ttl, prefix: prefix}
}

func NewNoopLedger() Ledger {
	return &noopLedger{}
}

func (l *redisLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (l *redisLedger) Mark(ctx context.Context, eventID string) error {
	if err := l.client.Set(ctx, l.key(eventID), eventID, l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (l *redisLedger) Reset(ctx context.Context) error {
	var cursor uint64
	pattern := l.prefix + ":*"
	for {
		keys, next, err := l.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}

		if len(keys) > 0 {
			if err := l.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis delete failed: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (l *redisLedger) Close() error {
	return l.client.Close()
}

// key hashes the event ID so arbitrary object keys stay short and safe.
func (l *redisLedger) key(eventID string) string {
	sum := sha1.Sum([]byte(eventID))
	return l.prefix + ":" + hex.EncodeToString(sum[:])
}

func (n *noopLedger) Seen(context.Context, string) (bool, error) { return false, nil }
func (n *noopLedger) Mark(context.Context, string) error         { return nil }
func (n *noopLedger) Reset(context.Context) error                { return nil }
func (n *noopLedger) Close() error                               { return nil }

func buildRedisOptions(cfg config.LedgerConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opt, nil
	}

	host := cfg.RedisHost
	if host == "" {
		host = "127.0.0.1"
	}

	port := cfg.RedisPort
	if port == "" {
		port = "6379"
	}

	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}
