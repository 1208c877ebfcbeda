package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	mu            sync.Mutex
	collections   map[string]map[string]Document
	subs          map[uint64]*subscription
	nextSubID     uint64
	requireIndex  map[string]bool
	lastWriteTime time.Time
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections:  make(map[string]map[string]Document),
		subs:         make(map[uint64]*subscription),
		requireIndex: make(map[string]bool),
		now:          time.Now,
	}
}

// RequireIndex makes filtered+ordered live queries on collection fail with
// ErrIndexRequired, mimicking a backend that lacks a composite index.
func (s *MemoryStore) RequireIndex(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireIndex[collection] = true
}

// stamp returns a strictly increasing write time.
func (s *MemoryStore) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastWriteTime) {
		t = s.lastWriteTime.Add(time.Nanosecond)
	}
	s.lastWriteTime = t
	return t
}

func (s *MemoryStore) Get(ctx context.Context, path string) (Document, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) Add(ctx context.Context, collection string, data map[string]any) (Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return Document{}, err
	}
	return s.Set(ctx, Join(collection, uuid.NewString()), data, false)
}

func (s *MemoryStore) Set(ctx context.Context, path string, data map[string]any, mergeFields bool) (Document, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	normalized, err := normalize(data)
	if err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]Document)
		s.collections[collection] = docs
	}
	now := s.stamp()
	doc, exists := docs[id]
	if exists && mergeFields {
		doc.Data = merge(doc.Data, normalized)
	} else {
		doc.Data = normalized
	}
	if !exists {
		doc.ID = id
		doc.Path = Join(collection, id)
		doc.CreateTime = now
	}
	doc.UpdateTime = now
	docs[id] = doc
	s.publishLocked(collection)
	return cloneDocument(doc), nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return nil
	}
	delete(s.collections[collection], id)
	s.publishLocked(collection)
	return nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollection(collection); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.collections[collection])
	if n == 0 {
		return 0, nil
	}
	delete(s.collections, collection)
	s.publishLocked(collection)
	return n, nil
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]Document, error) {
	if err := ValidateCollection(q.Collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(q), nil
}

func (s *MemoryStore) listLocked(q Query) []Document {
	docs := make([]Document, 0, len(s.collections[q.Collection]))
	for _, d := range s.collections[q.Collection] {
		docs = append(docs, cloneDocument(d))
	}
	return Apply(docs, q)
}

func (s *MemoryStore) Subscribe(ctx context.Context, q Query, onNext func(Snapshot), onError func(error)) Unsubscribe {
	sub := newSubscription(q, onNext, onError)
	if err := ValidateCollection(q.Collection); err != nil {
		sub.fail(err)
		return sub.stop
	}

	s.mu.Lock()
	if s.requireIndex[q.Collection] && q.OrderBy != "" && len(q.Filters) > 0 {
		s.mu.Unlock()
		sub.fail(fmt.Errorf("%w: %s", ErrIndexRequired, q))
		return sub.stop
	}
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = sub
	sub.deliver(s.listLocked(q))
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.stop()
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// publishLocked recomputes every live query on collection. Called with s.mu
// held so snapshots are queued in write order.
func (s *MemoryStore) publishLocked(collection string) {
	for _, sub := range s.subs {
		if sub.query.Collection != collection || sub.stopped() {
			continue
		}
		sub.deliver(s.listLocked(sub.query))
	}
}

func cloneDocument(d Document) Document {
	out := d
	if d.Data != nil {
		out.Data = cloneMap(d.Data)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch nested := v.(type) {
		case map[string]any:
			out[k] = cloneMap(nested)
		case []any:
			cp := make([]any, len(nested))
			copy(cp, nested)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
