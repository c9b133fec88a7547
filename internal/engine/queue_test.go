package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueDequeueEarliestReady(t *testing.T) {
	q := newNodeQueue()
	now := time.Now()

	q.Enqueue("late", now.Add(50*time.Millisecond))
	q.Enqueue("first", now.Add(-2*time.Millisecond))
	q.Enqueue("second", now.Add(-time.Millisecond))

	id, ok := q.Dequeue(now)
	assert.True(t, ok)
	assert.Equal(t, "first", id)

	id, ok = q.Dequeue(now)
	assert.True(t, ok)
	assert.Equal(t, "second", id)

	// "late" is pending but not ready yet.
	_, ok = q.Dequeue(now)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Len())

	id, ok = q.Dequeue(now.Add(time.Second))
	assert.True(t, ok)
	assert.Equal(t, "late", id)
}

func TestQueueEnqueueIsIdempotentPerNode(t *testing.T) {
	q := newNodeQueue()
	now := time.Now()

	q.Enqueue("a", now.Add(100*time.Millisecond))
	q.Enqueue("a", now)
	q.Enqueue("a", now.Add(time.Second))

	assert.Equal(t, 1, q.Len())

	// The earliest notBefore wins.
	id, ok := q.Dequeue(now)
	assert.True(t, ok)
	assert.Equal(t, "a", id)
	assert.Equal(t, 0, q.Len())
}

func TestQueueEmpty(t *testing.T) {
	q := newNodeQueue()
	_, ok := q.Dequeue(time.Now())
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}
