package restore

import (
	"sync"

	"github.com/skeema/mydump/internal/model"
)

// JobQueue is an unbounded multi-producer/multi-consumer FIFO of restore
// jobs, mirroring Queue but typed for *model.Job; used for the
// database/table/post-table/post queues.
type JobQueue struct {
	mu    sync.Mutex
	items []*model.Job
}

// NewJobQueue returns an empty JobQueue.
func NewJobQueue() *JobQueue {
	return &JobQueue{}
}

// Push appends job to the back of the queue.
func (q *JobQueue) Push(job *model.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, job)
}

// TryPop returns the front job and true, or (nil, false) if the queue is
// currently empty. Non-blocking, since the scheduler's dequeue priority
// needs to check several queues without committing to waiting on any
// single one.
func (q *JobQueue) TryPop() (*model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items = q.items[1:]
	return job, true
}

// Len reports the number of jobs currently queued.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
