package docstore

import (
	"context"
	"strings"
)

// WriteObserver is told about every write that passes through an
// instrumented store.
type WriteObserver interface {
	ObserveWrite(op, collection string, err error)
}

type instrumented struct {
	Store
	observer WriteObserver
}

// Instrument wraps store so writes are reported to observer. Reads and
// subscriptions pass through untouched. A nil observer returns store as is.
func Instrument(store Store, observer WriteObserver) Store {
	if observer == nil {
		return store
	}
	return &instrumented{Store: store, observer: observer}
}

func (s *instrumented) Add(ctx context.Context, collection string, data map[string]any) (Document, error) {
	doc, err := s.Store.Add(ctx, collection, data)
	s.observer.ObserveWrite("add", rootCollection(collection), err)
	return doc, err
}

func (s *instrumented) Set(ctx context.Context, path string, data map[string]any, merge bool) (Document, error) {
	doc, err := s.Store.Set(ctx, path, data, merge)
	op := "set"
	if merge {
		op = "merge"
	}
	s.observer.ObserveWrite(op, rootCollection(path), err)
	return doc, err
}

func (s *instrumented) Delete(ctx context.Context, path string) error {
	err := s.Store.Delete(ctx, path)
	s.observer.ObserveWrite("delete", rootCollection(path), err)
	return err
}

func (s *instrumented) DeleteAll(ctx context.Context, collection string) (int, error) {
	n, err := s.Store.DeleteAll(ctx, collection)
	s.observer.ObserveWrite("delete_all", rootCollection(collection), err)
	return n, err
}

// rootCollection keeps metric labels bounded: chats/u1/messages -> chats.
func rootCollection(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
