package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writeLog struct{ writes []string }

func (w *writeLog) ObserveWrite(op, collection string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	w.writes = append(w.writes, op+":"+collection+":"+status)
}

func TestInstrumentReportsWrites(t *testing.T) {
	obs := &writeLog{}
	store := Instrument(NewMemoryStore(), obs)
	ctx := context.Background()

	doc, err := store.Add(ctx, "chats/u1/messages", map[string]any{"text": "hi"})
	require.NoError(t, err)
	_, err = store.Set(ctx, "users/u1", map[string]any{"age": "30"}, true)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, doc.Path))
	_, err = store.DeleteAll(ctx, "chats/u1/messages")
	require.NoError(t, err)
	_, err = store.Add(ctx, "bad//path", map[string]any{})
	require.Error(t, err)

	assert.Equal(t, []string{
		"add:chats:ok",
		"merge:users:ok",
		"delete:chats:ok",
		"delete_all:chats:ok",
		"add:bad:error",
	}, obs.writes)

	got, err := store.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.Equal(t, "30", got.Data["age"])
}

func TestInstrumentNilObserver(t *testing.T) {
	base := NewMemoryStore()
	assert.Same(t, base, Instrument(base, nil))
}
