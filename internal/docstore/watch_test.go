package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediguard/mediguard-platform/pkg/logging"
)

func TestWatchOrderedFallsBackToClientSort(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.RequireIndex("appointments")
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"x", "y", "z"} {
		_, err := store.Set(ctx, Join("appointments", id), map[string]any{
			"userId":    "u1",
			"createdAt": base.Add(time.Duration(i) * time.Minute),
		}, false)
		require.NoError(t, err)
	}

	rec := &recorder{}
	q := Query{Collection: "appointments"}.Where("userId", "u1").Ordered("createdAt", Desc)
	unsub := WatchOrdered(ctx, store, q, rec.next, rec.fail, logging.Discard())
	defer unsub()

	require.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, 5*time.Millisecond)
	if diff := cmp.Diff([]string{"z", "y", "x"}, ids(rec.last().Docs)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, rec.errCount(), "index errors are absorbed by the fallback")

	_, err := store.Set(ctx, Join("appointments", "w"), map[string]any{
		"userId":    "u1",
		"createdAt": base.Add(time.Hour),
	}, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.last().Docs) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"w", "z", "y", "x"}, ids(rec.last().Docs))
}

func TestWatchOrderedPassesThroughOtherErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := &recorder{}
	unsub := WatchOrdered(ctx, store, Query{Collection: "users/u1"}.Ordered("createdAt", Asc), rec.next, rec.fail, logging.Discard())
	defer unsub()

	require.Eventually(t, func() bool { return rec.errCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, errors.Is(rec.firstErr(), ErrInvalidPath))
}

func TestWatchOrderedUnsubscribeStopsFallback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.RequireIndex("reports")
	rec := &recorder{}
	q := Query{Collection: "reports"}.Where("userId", "u1").Ordered("createdAt", Desc)
	unsub := WatchOrdered(ctx, store, q, rec.next, rec.fail, logging.Discard())
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	_, err := store.Add(ctx, "reports", map[string]any{"userId": "u1"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, CompareValues(nil, "a"))
	assert.Equal(t, 1, CompareValues(float64(3), 2))
	assert.Equal(t, 0, CompareValues("b", "b"))
	assert.Equal(t, -1, CompareValues("2025-01-01T00:00:00Z", "2025-01-01T00:00:00.5Z"))
	assert.Equal(t, -1, CompareValues(false, true))
}

func TestDecodeEncodeRoundTripID(t *testing.T) {
	type report struct {
		ID     string `json:"id"`
		UserID string `json:"userId"`
	}
	data, err := Encode(report{ID: "r1", UserID: "u1"})
	require.NoError(t, err)
	_, hasID := data["id"]
	assert.False(t, hasID)

	var out report
	require.NoError(t, Decode(Document{ID: "r9", Path: "reports/r9", Data: data}, &out))
	assert.Equal(t, report{ID: "r9", UserID: "u1"}, out)
}
