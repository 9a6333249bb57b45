package coordinator

import (
	"container/heap"
	"time"

	"github.com/ignatij/orchestrator/pkg/models"
)

// pendingQueue orders Pending tasks by (-priority, created_at) per spec §4.1.
// It is guarded by the Coordinator's mu: SubmitTask pushes new tasks onto it
// from the caller's goroutine, and the matching pass drains and re-pushes.
type pendingQueue []*models.Task

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority // higher priority first
	}
	return q[i].CreatedAt.Before(q[j].CreatedAt)
}

func (q pendingQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *pendingQueue) Push(x any) {
	*q = append(*q, x.(*models.Task))
}

func (q *pendingQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

var _ heap.Interface = (*pendingQueue)(nil)

// drainOrdered pops every task currently in the heap in priority order and
// returns them, leaving the heap empty. The matching pass uses this to try
// every pending task in one sweep and re-push whatever it could not match,
// rather than polling: a task skipped because no agent is available keeps
// its relative position for the next pass instead of being dropped.
func drainOrdered(q *pendingQueue) []*models.Task {
	out := make([]*models.Task, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, heap.Pop(q).(*models.Task))
	}
	return out
}

func pushTask(q *pendingQueue, t *models.Task) {
	heap.Push(q, t)
}

// staleBefore reports tasks started before the cutoff — used by the timeout
// sweeper's "now - started_at > timeout" scan.
func staleBefore(now time.Time, t *models.Task) bool {
	return t.StartedAt != nil && now.Sub(*t.StartedAt) > t.Timeout
}
