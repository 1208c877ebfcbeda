package docstore

import (
	"sync"
	"sync/atomic"
)

// dispatcher runs subscription callbacks one at a time, in enqueue order, on
// its own goroutine. Writers never block on a slow subscriber.
type dispatcher struct {
	mu      sync.Mutex
	pending []func()
	signal  chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(fn func()) {
	if d.stopped.Load() {
		return
	}
	d.mu.Lock()
	d.pending = append(d.pending, fn)
	d.mu.Unlock()
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.signal:
		}
		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			fn := d.pending[0]
			d.pending[0] = nil
			d.pending = d.pending[1:]
			d.mu.Unlock()
			if d.stopped.Load() {
				return
			}
			fn()
		}
	}
}

func (d *dispatcher) stop() {
	d.once.Do(func() {
		d.stopped.Store(true)
		close(d.done)
		d.mu.Lock()
		d.pending = nil
		d.mu.Unlock()
	})
}

// resultSet tracks the last delivered result of a live query and turns a
// fresh result into a Snapshot with incremental changes.
type resultSet struct {
	delivered bool
	last      map[string]Document
}

// next diffs docs against the previous result. ok is false when nothing
// changed since the last delivered snapshot.
func (r *resultSet) next(docs []Document) (Snapshot, bool) {
	current := make(map[string]Document, len(docs))
	for _, d := range docs {
		current[d.ID] = d
	}
	snap := Snapshot{Docs: docs, Initial: !r.delivered}
	if !r.delivered {
		for _, d := range docs {
			snap.Changes = append(snap.Changes, Change{Kind: ChangeAdded, Doc: d})
		}
		r.delivered = true
		r.last = current
		return snap, true
	}
	for _, d := range docs {
		prev, existed := r.last[d.ID]
		switch {
		case !existed:
			snap.Changes = append(snap.Changes, Change{Kind: ChangeAdded, Doc: d})
		case !prev.UpdateTime.Equal(d.UpdateTime):
			snap.Changes = append(snap.Changes, Change{Kind: ChangeModified, Doc: d})
		}
	}
	for id, prev := range r.last {
		if _, still := current[id]; !still {
			snap.Changes = append(snap.Changes, Change{Kind: ChangeRemoved, Doc: prev})
		}
	}
	r.last = current
	if len(snap.Changes) == 0 {
		return Snapshot{}, false
	}
	return snap, true
}

// subscription is the shared plumbing behind every backend's Subscribe.
type subscription struct {
	query   Query
	onNext  func(Snapshot)
	onError func(error)
	disp    *dispatcher

	mu      sync.Mutex
	results resultSet
}

func newSubscription(q Query, onNext func(Snapshot), onError func(error)) *subscription {
	if onNext == nil {
		onNext = func(Snapshot) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &subscription{query: q, onNext: onNext, onError: onError, disp: newDispatcher()}
}

// deliver diffs docs and queues a snapshot when anything changed.
func (s *subscription) deliver(docs []Document) {
	s.mu.Lock()
	snap, ok := s.results.next(docs)
	if ok {
		s.disp.enqueue(func() { s.onNext(snap) })
	}
	s.mu.Unlock()
}

func (s *subscription) fail(err error) {
	s.disp.enqueue(func() { s.onError(err) })
}

func (s *subscription) stopped() bool {
	return s.disp.stopped.Load()
}

func (s *subscription) stop() {
	s.disp.stop()
}
