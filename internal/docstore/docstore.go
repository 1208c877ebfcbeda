// Package docstore is a small document-database client: CRUD on slash-separated
// paths plus live queries that deliver an initial snapshot followed by
// incremental changes. Several backends implement Store.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document path does not exist.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrIndexRequired is reported when an ordered, filtered query needs a
	// composite index the backend does not have.
	ErrIndexRequired = errors.New("docstore: query requires an index")

	// ErrInvalidPath is returned for malformed document or collection paths.
	ErrInvalidPath = errors.New("docstore: invalid path")
)

// Document is one stored record.
type Document struct {
	ID         string         `json:"id"`
	Path       string         `json:"path"`
	Data       map[string]any `json:"data"`
	CreateTime time.Time      `json:"create_time"`
	UpdateTime time.Time      `json:"update_time"`
}

// Collection returns the collection path the document lives in.
func (d Document) Collection() string {
	collection, _, err := SplitPath(d.Path)
	if err != nil {
		return ""
	}
	return collection
}

// ChangeKind classifies an incremental change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is a single document change inside a snapshot.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Doc  Document   `json:"doc"`
}

// Snapshot is the full result of a live query at one point in time, together
// with the changes since the previous snapshot. The first snapshot of every
// subscription has Initial set and lists every document as added.
type Snapshot struct {
	Docs    []Document `json:"docs"`
	Changes []Change   `json:"changes"`
	Initial bool       `json:"initial"`
}

// Direction of an order-by clause.
type Direction int

const (
	Asc Direction = iota
	Desc
)

func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// Filter is an equality constraint on a (possibly dotted) field.
type Filter struct {
	Field string
	Value any
}

// Query describes a collection read.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Direction  Direction
	Limit      int
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(field string, value any) Query {
	out := q
	out.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return out
}

// Ordered returns a copy of q ordered by field.
func (q Query) Ordered(field string, dir Direction) Query {
	out := q
	out.OrderBy = field
	out.Direction = dir
	return out
}

// Unordered returns the same query without its order-by clause.
func (q Query) Unordered() Query {
	out := q
	out.OrderBy = ""
	out.Direction = Asc
	return out
}

func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " where %s==%v", f.Field, f.Value)
	}
	if q.OrderBy != "" {
		fmt.Fprintf(&b, " order by %s %s", q.OrderBy, q.Direction)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit %d", q.Limit)
	}
	return b.String()
}

// Unsubscribe stops a live query. It is safe to call more than once; after
// it returns no further callbacks are started.
type Unsubscribe func()

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	Add(ctx context.Context, collection string, data map[string]any) (Document, error)
	Set(ctx context.Context, path string, data map[string]any, merge bool) (Document, error)
	Delete(ctx context.Context, path string) error
	DeleteAll(ctx context.Context, collection string) (int, error)
	List(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query, onNext func(Snapshot), onError func(error)) Unsubscribe
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath splits a document path into its collection path and id.
func SplitPath(path string) (collection, id string, err error) {
	segments, err := segmentsOf(path)
	if err != nil {
		return "", "", err
	}
	if len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q is not a document path", ErrInvalidPath, path)
	}
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1], nil
}

// ValidateCollection checks that path names a collection (odd segment count).
func ValidateCollection(path string) error {
	segments, err := segmentsOf(path)
	if err != nil {
		return err
	}
	if len(segments)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, path)
	}
	return nil
}

func segmentsOf(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	return segments, nil
}
