package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSetGetDelete(t *testing.T) {
	l := NewLocal(4, time.Minute)

	_, ok := l.Get("a")
	assert.False(t, ok)

	l.Set("a", 1)
	v, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	l.Delete("a")
	_, ok = l.Get("a")
	assert.False(t, ok)
	assert.Zero(t, l.Len())
}

func TestLocalEvictsOldestAtCapacity(t *testing.T) {
	l := NewLocal(2, time.Minute)
	l.Set("a", 1)
	l.Set("b", 2)
	l.Set("c", 3)

	_, ok := l.Get("a")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = l.Get("b")
	assert.True(t, ok)
	_, ok = l.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, l.Len())
}

func TestLocalTTLExpiry(t *testing.T) {
	l := NewLocal(4, time.Minute)
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return at }

	l.Set("a", 1)
	_, ok := l.Get("a")
	require.True(t, ok)

	at = at.Add(2 * time.Minute)
	_, ok = l.Get("a")
	assert.False(t, ok, "entry past its TTL is a miss")
}

func TestLocalOverwriteKeepsSlot(t *testing.T) {
	l := NewLocal(2, time.Minute)
	l.Set("a", 1)
	l.Set("a", 2)
	l.Set("b", 3)

	v, ok := l.Get("a")
	require.True(t, ok, "overwrite must not consume a second slot")
	assert.Equal(t, 2, v)
}
