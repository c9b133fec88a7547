package engine

import (
	"sync"
	"time"
)

// queueItem schedules one node for execution no earlier than notBefore.
type queueItem struct {
	nodeID    string
	notBefore time.Time
}

// nodeQueue is the run-scoped scheduling queue. Enqueue is idempotent per
// node: a pending entry keeps the earlier notBefore. Dequeue returns the
// ready entry with the earliest notBefore. Sized for workflow graphs, so
// linear scans are fine.
type nodeQueue struct {
	mu    sync.Mutex
	items []queueItem
}

func newNodeQueue() *nodeQueue {
	return &nodeQueue{}
}

// Enqueue schedules nodeID for execution at or after notBefore.
func (q *nodeQueue) Enqueue(nodeID string, notBefore time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].nodeID == nodeID {
			if notBefore.Before(q.items[i].notBefore) {
				q.items[i].notBefore = notBefore
			}
			return
		}
	}
	q.items = append(q.items, queueItem{nodeID: nodeID, notBefore: notBefore})
}

// Dequeue pops the ready entry with the earliest notBefore, or returns
// false when nothing is ready yet.
func (q *nodeQueue) Dequeue(now time.Time) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := -1
	for i := range q.items {
		if q.items[i].notBefore.After(now) {
			continue
		}
		if best == -1 || q.items[i].notBefore.Before(q.items[best].notBefore) {
			best = i
		}
	}
	if best == -1 {
		return "", false
	}
	nodeID := q.items[best].nodeID
	q.items = append(q.items[:best], q.items[best+1:]...)
	return nodeID, true
}

// Len returns the number of pending entries, ready or not.
func (q *nodeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
