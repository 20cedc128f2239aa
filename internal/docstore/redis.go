package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldData      = "data"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// RedisStore keeps each document in a hash and tracks the ids of a
// collection in a set.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

type RedisStoreConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

func DefaultRedisStoreConfig() *RedisStoreConfig {
	return &RedisStoreConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "docstore",
	}
}

func NewRedisClient(config *RedisStoreConfig) *redis.Client {
	if config == nil {
		config = DefaultRedisStoreConfig()
	}

	return redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "docstore"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) docKey(collection Path, id string) string {
	return fmt.Sprintf("%s:doc:%s:%s", s.prefix, collection, id)
}

func (s *RedisStore) indexKey(collection Path) string {
	return fmt.Sprintf("%s:idx:%s", s.prefix, collection)
}

func (s *RedisStore) Get(ctx context.Context, collection Path, id string) (*Document, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}

	fields, err := s.client.HGetAll(ctx, s.docKey(collection, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	doc, err := decodeHash(id, fields)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *RedisStore) Set(ctx context.Context, collection Path, id string, data json.RawMessage) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	if err := validateData(data); err != nil {
		return err
	}

	key := s.docKey(collection, id)
	now := strconv.FormatInt(s.now().UnixNano(), 10)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldCreatedAt, now)
		pipe.HSet(ctx, key, fieldData, string(data), fieldUpdatedAt, now)
		pipe.SAdd(ctx, s.indexKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, collection Path, id string, data json.RawMessage) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	if err := validateData(data); err != nil {
		return err
	}

	key := s.docKey(collection, id)
	now := strconv.FormatInt(s.now().UnixNano(), 10)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldData, string(data), fieldUpdatedAt, now)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, collection Path, id string) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.docKey(collection, id))
		pipe.SRem(ctx, s.indexKey(collection), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *RedisStore) Query(ctx context.Context, collection Path, filters ...Filter) ([]Document, error) {
	if collection == "" {
		return nil, ErrInvalidPath
	}

	ids, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list collection: %w", err)
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		return []Document{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.docKey(collection, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	docs := make([]Document, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		doc, err := decodeHash(ids[i], fields)
		if err != nil {
			return nil, err
		}
		ok, err := Match(doc.Data, filters)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeHash(id string, fields map[string]string) (Document, error) {
	created, err := parseNanos(fields[fieldCreatedAt])
	if err != nil {
		return Document{}, fmt.Errorf("document %s: bad %s: %w", id, fieldCreatedAt, err)
	}
	updated, err := parseNanos(fields[fieldUpdatedAt])
	if err != nil {
		return Document{}, fmt.Errorf("document %s: bad %s: %w", id, fieldUpdatedAt, err)
	}

	return Document{
		ID:         id,
		Data:       json.RawMessage(fields[fieldData]),
		CreateTime: created,
		UpdateTime: updated,
	}, nil
}

func parseNanos(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
