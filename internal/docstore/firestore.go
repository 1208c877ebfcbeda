package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// FirestoreStore delegates to Cloud Firestore, whose snapshot listeners
// already provide the initial-then-incremental delivery Store promises.
type FirestoreStore struct {
	client *firestore.Client
	logger *logging.Logger
}

// NewFirestoreStore wraps an existing client.
func NewFirestoreStore(client *firestore.Client, logger *logging.Logger) *FirestoreStore {
	if client == nil {
		panic("docstore: firestore client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FirestoreStore{client: client, logger: logger}
}

func (s *FirestoreStore) Get(ctx context.Context, path string) (Document, error) {
	if _, _, err := SplitPath(path); err != nil {
		return Document{}, err
	}
	snap, err := s.client.Doc(path).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Document{}, fmt.Errorf("docstore: firestore get %s: %w", path, err)
	}
	return fromFirestore(snap)
}

func (s *FirestoreStore) Add(ctx context.Context, collection string, data map[string]any) (Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return Document{}, err
	}
	normalized, err := normalize(data)
	if err != nil {
		return Document{}, err
	}
	ref, wr, err := s.client.Collection(collection).Add(ctx, normalized)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: firestore add %s: %w", collection, err)
	}
	return Document{
		ID:         ref.ID,
		Path:       Join(collection, ref.ID),
		Data:       normalized,
		CreateTime: wr.UpdateTime,
		UpdateTime: wr.UpdateTime,
	}, nil
}

func (s *FirestoreStore) Set(ctx context.Context, path string, data map[string]any, mergeFields bool) (Document, error) {
	if _, _, err := SplitPath(path); err != nil {
		return Document{}, err
	}
	normalized, err := normalize(data)
	if err != nil {
		return Document{}, err
	}
	var opts []firestore.SetOption
	if mergeFields {
		opts = append(opts, firestore.MergeAll)
	}
	if _, err := s.client.Doc(path).Set(ctx, normalized, opts...); err != nil {
		return Document{}, fmt.Errorf("docstore: firestore set %s: %w", path, err)
	}
	return s.Get(ctx, path)
}

func (s *FirestoreStore) Delete(ctx context.Context, path string) error {
	if _, _, err := SplitPath(path); err != nil {
		return err
	}
	if _, err := s.client.Doc(path).Delete(ctx); err != nil {
		return fmt.Errorf("docstore: firestore delete %s: %w", path, err)
	}
	return nil
}

func (s *FirestoreStore) DeleteAll(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollection(collection); err != nil {
		return 0, err
	}
	refs, err := s.client.Collection(collection).DocumentRefs(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("docstore: firestore list refs %s: %w", collection, err)
	}
	if len(refs) == 0 {
		return 0, nil
	}
	bw := s.client.BulkWriter(ctx)
	for _, ref := range refs {
		if _, err := bw.Delete(ref); err != nil {
			bw.End()
			return 0, fmt.Errorf("docstore: firestore delete %s: %w", ref.Path, err)
		}
	}
	bw.End()
	return len(refs), nil
}

func (s *FirestoreStore) query(q Query) firestore.Query {
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, "==", f.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Direction == Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

func (s *FirestoreStore) List(ctx context.Context, q Query) ([]Document, error) {
	if err := ValidateCollection(q.Collection); err != nil {
		return nil, err
	}
	snaps, err := s.query(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, mapFirestoreError(q, err)
	}
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		doc, err := fromFirestore(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *FirestoreStore) Subscribe(ctx context.Context, q Query, onNext func(Snapshot), onError func(error)) Unsubscribe {
	sub := newSubscription(q, onNext, onError)
	if err := ValidateCollection(q.Collection); err != nil {
		sub.fail(err)
		return sub.stop
	}

	subCtx, cancel := context.WithCancel(ctx)
	it := s.query(q).Snapshots(subCtx)

	go func() {
		defer it.Stop()
		initial := true
		for {
			qs, err := it.Next()
			if err != nil {
				if subCtx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done) {
					return
				}
				sub.fail(mapFirestoreError(q, err))
				return
			}
			snap, err := snapshotFromFirestore(qs, initial)
			if err != nil {
				sub.fail(err)
				return
			}
			initial = false
			sub.disp.enqueue(func() { sub.onNext(snap) })
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

func snapshotFromFirestore(qs *firestore.QuerySnapshot, initial bool) (Snapshot, error) {
	snaps, err := qs.Documents.GetAll()
	if err != nil {
		return Snapshot{}, fmt.Errorf("docstore: firestore snapshot documents: %w", err)
	}
	out := Snapshot{Initial: initial, Docs: make([]Document, 0, len(snaps))}
	for _, ds := range snaps {
		doc, err := fromFirestore(ds)
		if err != nil {
			return Snapshot{}, err
		}
		out.Docs = append(out.Docs, doc)
	}
	for _, ch := range qs.Changes {
		doc, err := fromFirestore(ch.Doc)
		if err != nil {
			return Snapshot{}, err
		}
		kind := ChangeModified
		switch ch.Kind {
		case firestore.DocumentAdded:
			kind = ChangeAdded
		case firestore.DocumentRemoved:
			kind = ChangeRemoved
		}
		out.Changes = append(out.Changes, Change{Kind: kind, Doc: doc})
	}
	return out, nil
}

func fromFirestore(snap *firestore.DocumentSnapshot) (Document, error) {
	data, err := normalize(snap.Data())
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:         snap.Ref.ID,
		Path:       relativePath(snap.Ref.Path),
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

// relativePath strips the "projects/{p}/databases/{d}/documents/" prefix.
func relativePath(full string) string {
	if _, rest, ok := strings.Cut(full, "/documents/"); ok {
		return rest
	}
	return full
}

func mapFirestoreError(q Query, err error) error {
	if status.Code(err) == codes.FailedPrecondition {
		return fmt.Errorf("%w: %s: %v", ErrIndexRequired, q, err)
	}
	return fmt.Errorf("docstore: firestore query %s: %w", q, err)
}
