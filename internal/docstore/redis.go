package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mediguard/mediguard-platform/pkg/logging"
)

const redisMaxTxRetries = 5

// RedisStore keeps each collection in a hash (id -> JSON document) and
// announces writes on a per-collection Pub/Sub channel that live queries
// listen on.
type RedisStore struct {
	client *redis.Client
	prefix string
	tracer trace.Tracer
	logger *logging.Logger
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store. prefix namespaces every key.
func NewRedisStore(client *redis.Client, prefix string, logger *logging.Logger) *RedisStore {
	if client == nil {
		panic("docstore: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if prefix == "" {
		prefix = "docstore"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		tracer: otel.Tracer("mediguard.internal.docstore.redis"),
		logger: logger,
		now:    time.Now,
	}
}

func (s *RedisStore) collectionKey(collection string) string {
	return fmt.Sprintf("%s:%s", s.prefix, collection)
}

func (s *RedisStore) channel(collection string) string {
	return fmt.Sprintf("%s:changes:%s", s.prefix, collection)
}

func (s *RedisStore) Get(ctx context.Context, path string) (Document, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.redis.get", trace.WithAttributes(attribute.String("docstore.path", path)))
	defer span.End()

	collection, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	raw, err := s.client.HGet(ctx, s.collectionKey(collection), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		span.RecordError(err)
		return Document{}, fmt.Errorf("docstore: redis get %s: %w", path, err)
	}
	return decodeRedisDocument(raw)
}

func (s *RedisStore) Add(ctx context.Context, collection string, data map[string]any) (Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return Document{}, err
	}
	return s.Set(ctx, Join(collection, uuid.NewString()), data, false)
}

func (s *RedisStore) Set(ctx context.Context, path string, data map[string]any, mergeFields bool) (Document, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.redis.set", trace.WithAttributes(
		attribute.String("docstore.path", path),
		attribute.Bool("docstore.merge", mergeFields),
	))
	defer span.End()

	collection, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	normalized, err := normalize(data)
	if err != nil {
		return Document{}, err
	}
	key := s.collectionKey(collection)

	var written Document
	txf := func(tx *redis.Tx) error {
		now := s.now().UTC()
		doc := Document{ID: id, Path: Join(collection, id), Data: normalized, CreateTime: now, UpdateTime: now}
		raw, err := tx.HGet(ctx, key, id).Bytes()
		switch {
		case err == nil:
			existing, decodeErr := decodeRedisDocument(raw)
			if decodeErr != nil {
				return decodeErr
			}
			doc.CreateTime = existing.CreateTime
			if mergeFields {
				doc.Data = merge(existing.Data, normalized)
			}
		case !errors.Is(err, redis.Nil):
			return err
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("docstore: encode %s: %w", path, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, encoded)
			pipe.Publish(ctx, s.channel(collection), id)
			return nil
		})
		if err == nil {
			written = doc
		}
		return err
	}

	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		return Document{}, fmt.Errorf("docstore: redis set %s: %w", path, err)
	}
	return written, nil
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	ctx, span := s.tracer.Start(ctx, "docstore.redis.delete", trace.WithAttributes(attribute.String("docstore.path", path)))
	defer span.End()

	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.collectionKey(collection), id)
		pipe.Publish(ctx, s.channel(collection), id)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("docstore: redis delete %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) DeleteAll(ctx context.Context, collection string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.redis.delete_all", trace.WithAttributes(attribute.String("docstore.collection", collection)))
	defer span.End()

	if err := ValidateCollection(collection); err != nil {
		return 0, err
	}
	key := s.collectionKey(collection)
	n, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("docstore: redis count %s: %w", collection, err)
	}
	if n == 0 {
		return 0, nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.Publish(ctx, s.channel(collection), "*")
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("docstore: redis delete all %s: %w", collection, err)
	}
	return int(n), nil
}

func (s *RedisStore) List(ctx context.Context, q Query) ([]Document, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.redis.list", trace.WithAttributes(attribute.String("docstore.query", q.String())))
	defer span.End()

	if err := ValidateCollection(q.Collection); err != nil {
		return nil, err
	}
	entries, err := s.client.HGetAll(ctx, s.collectionKey(q.Collection)).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("docstore: redis list %s: %w", q.Collection, err)
	}
	docs := make([]Document, 0, len(entries))
	for _, raw := range entries {
		doc, err := decodeRedisDocument([]byte(raw))
		if err != nil {
			s.logger.Warn("docstore: skipping undecodable document", "collection", q.Collection, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return Apply(docs, q), nil
}

func (s *RedisStore) Subscribe(ctx context.Context, q Query, onNext func(Snapshot), onError func(error)) Unsubscribe {
	sub := newSubscription(q, onNext, onError)
	if err := ValidateCollection(q.Collection); err != nil {
		sub.fail(err)
		return sub.stop
	}

	subCtx, cancel := context.WithCancel(ctx)
	pubsub := s.client.Subscribe(subCtx, s.channel(q.Collection))

	go func() {
		defer pubsub.Close()
		// Wait for the subscription to be confirmed before taking the
		// initial snapshot so no write can slip between the two.
		if _, err := pubsub.Receive(subCtx); err != nil {
			if subCtx.Err() == nil {
				sub.fail(fmt.Errorf("docstore: redis subscribe %s: %w", q.Collection, err))
			}
			return
		}
		refresh := func() bool {
			docs, err := s.List(subCtx, q)
			if err != nil {
				if subCtx.Err() == nil {
					sub.fail(err)
				}
				return false
			}
			sub.deliver(docs)
			return true
		}
		if !refresh() {
			return
		}
		messages := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				if !refresh() {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.stop()
			cancel()
		})
	}
}

func decodeRedisDocument(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("docstore: decode document: %w", err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return doc, nil
}
