package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisVersionSuffix = ":version"

// RedisStore keeps the ledger document and a version token in Redis,
// implementing compare-and-swap with WATCH/MULTI so concurrent allocator
// processes can share one ledger.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, db int, key string) (*RedisStore, error) {
	if key == "" {
		return nil, errors.New("redis ledger key is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &RedisStore{client: client, key: key}, nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) ([]byte, string, error) {
	pipe := s.client.Pipeline()
	payloadCmd := pipe.Get(ctx, s.key)
	versionCmd := pipe.Get(ctx, s.key+redisVersionSuffix)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, "", errors.Wrap(err, "read ledger from redis")
	}

	payload, err := payloadCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "read ledger payload")
	}

	token, err := versionCmd.Result()
	if errors.Is(err, redis.Nil) {
		token = ""
	} else if err != nil {
		return nil, "", errors.Wrap(err, "read ledger version")
	}
	return payload, token, nil
}

// Save implements Store. The watch spans the version key, so any concurrent
// writer aborts the transaction and surfaces as ErrConflict.
func (s *RedisStore) Save(ctx context.Context, payload []byte, token string) (string, error) {
	versionKey := s.key + redisVersionSuffix
	newToken := uuid.NewString()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if token != "" {
				return ErrConflict
			}
		case err != nil:
			return errors.Wrap(err, "read ledger version")
		default:
			if current != token {
				return ErrConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, payload, 0)
			pipe.Set(ctx, versionKey, newToken, 0)
			return nil
		})
		return err
	}, versionKey)

	if errors.Is(err, redis.TxFailedErr) {
		return "", ErrConflict
	}
	if err != nil {
		return "", err
	}
	return newToken, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
