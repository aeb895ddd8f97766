package redisclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_FailsFastWhileHeld(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	err := l.WithLock(ctx, "availability:a", func(ctx context.Context) error {
		inner := l.WithLock(ctx, "availability:a", func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)

		other := l.WithLock(ctx, "availability:b", func(context.Context) error { return nil })
		assert.NoError(t, other)
		return nil
	})
	require.NoError(t, err)

	// released after fn returns, even on error
	boom := errors.New("boom")
	assert.ErrorIs(t, l.WithLock(ctx, "availability:a", func(context.Context) error { return boom }), boom)
	assert.NoError(t, l.WithLock(ctx, "availability:a", func(context.Context) error { return nil }))
}
