package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying changed collection paths.
const NotifyChannel = "docstore_changes"

const defaultPollInterval = 2 * time.Second

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Listener receives notifications from a connection that has executed
// LISTEN docstore_changes. *pgx.Conn satisfies it.
type Listener interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

// PostgresStore keeps documents in a single JSONB table keyed by
// (collection, id). Writes are announced with pg_notify; live queries
// re-run when their collection is named in a notification, or on a poll
// interval when no listener is configured.
type PostgresStore struct {
	pool         pgQuerier
	logger       *logging.Logger
	tracer       trace.Tracer
	pollInterval time.Duration

	mu     sync.Mutex
	subs   map[uint64]*pgSubscription
	nextID uint64
}

type pgSubscription struct {
	*subscription
	wake chan struct{}
}

// NewPostgresStore wraps a pgx pool (or any compatible querier).
func NewPostgresStore(pool pgQuerier, logger *logging.Logger) *PostgresStore {
	if pool == nil {
		panic("docstore: pgx pool required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresStore{
		pool:         pool,
		logger:       logger,
		tracer:       otel.Tracer("mediguard.internal.docstore.postgres"),
		pollInterval: defaultPollInterval,
		subs:         make(map[uint64]*pgSubscription),
	}
}

// Listen fans notifications from l out to live queries until ctx ends.
// Without a running Listen, live queries fall back to polling.
func (s *PostgresStore) Listen(ctx context.Context, l Listener) error {
	s.mu.Lock()
	s.pollInterval = 0
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.pollInterval = defaultPollInterval
		s.mu.Unlock()
	}()
	for {
		n, err := l.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("docstore: wait for notification: %w", err)
		}
		if n == nil || n.Channel != NotifyChannel {
			continue
		}
		s.wake(n.Payload)
	}
}

func (s *PostgresStore) wake(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.query.Collection != collection {
			continue
		}
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

func (s *PostgresStore) notify(ctx context.Context, collection string) {
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, collection); err != nil {
		s.logger.Warn("docstore: pg_notify failed", "collection", collection, "error", err)
	}
}

func (s *PostgresStore) Get(ctx context.Context, path string) (Document, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.postgres.get", trace.WithAttributes(attribute.String("docstore.path", path)))
	defer span.End()

	collection, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	query := `SELECT data, create_time, update_time FROM documents WHERE collection = $1 AND id = $2`
	doc := Document{ID: id, Path: path}
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, collection, id).Scan(&raw, &doc.CreateTime, &doc.UpdateTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		span.RecordError(err)
		return Document{}, fmt.Errorf("docstore: postgres get %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return Document{}, fmt.Errorf("docstore: decode %s: %w", path, err)
	}
	return doc, nil
}

func (s *PostgresStore) Add(ctx context.Context, collection string, data map[string]any) (Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return Document{}, err
	}
	return s.Set(ctx, Join(collection, uuid.NewString()), data, false)
}

func (s *PostgresStore) Set(ctx context.Context, path string, data map[string]any, mergeFields bool) (Document, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.postgres.set", trace.WithAttributes(
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
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: encode %s: %w", path, err)
	}

	onConflict := `data = EXCLUDED.data`
	if mergeFields {
		onConflict = `data = documents.data || EXCLUDED.data`
	}
	query := `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET ` + onConflict + `, update_time = now()
		RETURNING data, create_time, update_time
	`
	doc := Document{ID: id, Path: Join(collection, id)}
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, collection, id, string(encoded)).Scan(&raw, &doc.CreateTime, &doc.UpdateTime); err != nil {
		span.RecordError(err)
		return Document{}, fmt.Errorf("docstore: postgres set %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return Document{}, fmt.Errorf("docstore: decode %s: %w", path, err)
	}
	s.notify(ctx, collection)
	return doc, nil
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	ctx, span := s.tracer.Start(ctx, "docstore.postgres.delete", trace.WithAttributes(attribute.String("docstore.path", path)))
	defer span.End()

	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("docstore: postgres delete %s: %w", path, err)
	}
	if tag.RowsAffected() > 0 {
		s.notify(ctx, collection)
	}
	return nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context, collection string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.postgres.delete_all", trace.WithAttributes(attribute.String("docstore.collection", collection)))
	defer span.End()

	if err := ValidateCollection(collection); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1`, collection)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("docstore: postgres delete all %s: %w", collection, err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		s.notify(ctx, collection)
	}
	return n, nil
}

func (s *PostgresStore) List(ctx context.Context, q Query) ([]Document, error) {
	ctx, span := s.tracer.Start(ctx, "docstore.postgres.list", trace.WithAttributes(attribute.String("docstore.query", q.String())))
	defer span.End()

	sql, args, err := buildListSQL(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("docstore: postgres list %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc := Document{}
		var raw []byte
		if err := rows.Scan(&doc.ID, &raw, &doc.CreateTime, &doc.UpdateTime); err != nil {
			return nil, fmt.Errorf("docstore: postgres scan %s: %w", q.Collection, err)
		}
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return nil, fmt.Errorf("docstore: decode %s/%s: %w", q.Collection, doc.ID, err)
		}
		doc.Path = Join(q.Collection, doc.ID)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: postgres rows %s: %w", q.Collection, err)
	}
	// JSON text ordering is not chronological for every value shape, so the
	// final order is applied in Go.
	if q.OrderBy != "" {
		SortDocuments(docs, q.OrderBy, q.Direction)
	}
	return docs, nil
}

// buildListSQL renders q. Field names are passed as parameters to the ->>
// operator and also checked against a conservative pattern.
func buildListSQL(q Query) (string, []any, error) {
	if err := ValidateCollection(q.Collection); err != nil {
		return "", nil, err
	}
	sql := `SELECT id, data, create_time, update_time FROM documents WHERE collection = $1`
	args := []any{q.Collection}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return "", nil, fmt.Errorf("docstore: unsupported filter field %q", f.Field)
		}
		args = append(args, f.Field, fmt.Sprint(normalizeValue(f.Value)))
		sql += fmt.Sprintf(` AND data->>$%d = $%d`, len(args)-1, len(args))
	}
	if q.OrderBy != "" {
		if !fieldPattern.MatchString(q.OrderBy) {
			return "", nil, fmt.Errorf("docstore: unsupported order field %q", q.OrderBy)
		}
		args = append(args, q.OrderBy)
		dir := "ASC"
		if q.Direction == Desc {
			dir = "DESC"
		}
		sql += fmt.Sprintf(` ORDER BY data->>$%d %s, id %s`, len(args), dir, dir)
	}
	if q.Limit > 0 {
		sql += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	return sql, args, nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, q Query, onNext func(Snapshot), onError func(error)) Unsubscribe {
	sub := &pgSubscription{subscription: newSubscription(q, onNext, onError), wake: make(chan struct{}, 1)}
	if _, _, err := buildListSQL(q); err != nil {
		sub.fail(err)
		return sub.stop
	}

	subCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = sub
	poll := s.pollInterval
	s.mu.Unlock()

	go func() {
		var tick <-chan time.Time
		if poll > 0 {
			ticker := time.NewTicker(poll)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			docs, err := s.List(subCtx, q)
			if err != nil {
				if subCtx.Err() == nil {
					sub.fail(err)
				}
				return
			}
			sub.deliver(docs)
			select {
			case <-subCtx.Done():
				return
			case <-sub.wake:
			case <-tick:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.stop()
			cancel()
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
