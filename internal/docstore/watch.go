package docstore

import (
	"context"
	"errors"
	"sync"

	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// WatchOrdered subscribes to q. If the backend reports ErrIndexRequired the
// subscription is retried without the order-by clause and every snapshot is
// sorted locally instead, so callers always see q's ordering.
func WatchOrdered(ctx context.Context, store Store, q Query, onNext func(Snapshot), onError func(error), logger *logging.Logger) Unsubscribe {
	if logger == nil {
		logger = logging.Default()
	}
	if onError == nil {
		onError = func(error) {}
	}

	w := &orderedWatch{}
	sorted := func(snap Snapshot) {
		if q.OrderBy != "" {
			SortDocuments(snap.Docs, q.OrderBy, q.Direction)
			if q.Limit > 0 && len(snap.Docs) > q.Limit {
				snap.Docs = snap.Docs[:q.Limit]
			}
		}
		onNext(snap)
	}

	fallback := func(err error) {
		if !errors.Is(err, ErrIndexRequired) || q.OrderBy == "" {
			onError(err)
			return
		}
		logger.Warn("docstore: index missing, sorting client-side", "query", q.String())
		// Limit is applied after the local sort, not by the backend.
		unordered := q.Unordered()
		unordered.Limit = 0
		w.replace(func() Unsubscribe {
			return store.Subscribe(ctx, unordered, sorted, onError)
		})
	}

	w.replace(func() Unsubscribe {
		return store.Subscribe(ctx, q, onNext, fallback)
	})
	return w.stop
}

type orderedWatch struct {
	mu      sync.Mutex
	current Unsubscribe
	gen     uint64
	stopped bool
}

func (w *orderedWatch) replace(subscribe func() Unsubscribe) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.gen++
	gen := w.gen
	prev := w.current
	w.current = nil
	w.mu.Unlock()
	if prev != nil {
		prev()
	}

	next := subscribe()

	w.mu.Lock()
	// A later replace (or stop) superseded this subscription while it was
	// being set up.
	if w.stopped || w.gen != gen {
		w.mu.Unlock()
		next()
		return
	}
	w.current = next
	w.mu.Unlock()
}

func (w *orderedWatch) stop() {
	w.mu.Lock()
	w.stopped = true
	current := w.current
	w.current = nil
	w.mu.Unlock()
	if current != nil {
		current()
	}
}
