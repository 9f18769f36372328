package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormoron/polyel/internal/errs"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := InitStore(time.Minute)

	sess, err := store.Generate(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", sess.ID())

	require.NoError(t, sess.Set(ctx, "k", "v"))
	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	val, err := got.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, got.Delete(ctx, "k"))
	val, err = got.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, store.Refresh(ctx, "abc"))
	assert.True(t, errs.IsSessionNotFound(store.Refresh(ctx, "missing")))

	require.NoError(t, store.Remove(ctx, "abc"))
	require.NoError(t, store.Remove(ctx, "abc"))
	_, err = store.Get(ctx, "abc")
	assert.True(t, errs.IsSessionNotFound(err))
}

func TestStore_Expiration(t *testing.T) {
	ctx := context.Background()
	store := InitStore(50 * time.Millisecond)
	_, err := store.Generate(ctx, "short")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	_, err = store.Get(ctx, "short")
	assert.Error(t, err)
	assert.NoError(t, store.GC(ctx))
}
