// internal/action/queue.go
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/sessionhub/internal/types"
)

// Job is a unit of background work submitted to the Queue. The function
// runs under Execute supervision, so it always leaves exactly one
// terminal action row behind.
type Job struct {
	SessionID  types.SessionID
	Type       string
	Params     json.RawMessage
	Fn         Func
	OnComplete func(result json.RawMessage, err error)
}

// Queue manages per-session lanes with a global concurrency semaphore.
// Each session gets its own FIFO channel (lane) so that actions within a
// session are executed sequentially, while the semaphore limits the
// total number of concurrent executions across all sessions.
type Queue struct {
	log       *Log
	lanes     map[types.SessionID]chan *Job
	semaphore *semaphore.Weighted
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that allows up to maxConcurrent actions to
// execute simultaneously across all session lanes.
func NewQueue(log *Log, maxConcurrent int64) *Queue {
	return &Queue{
		log:       log,
		lanes:     make(map[types.SessionID]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for
// in-flight executions to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for _, lane := range q.lanes {
		close(lane)
	}
	q.lanes = make(map[types.SessionID]chan *Job)
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Job to its session's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is
// full.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lane, exists := q.lanes[job.SessionID]
	if !exists {
		lane = make(chan *Job, 100)
		q.lanes[job.SessionID] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- job:
		return nil
	default:
		return fmt.Errorf("queue full for session %s", job.SessionID)
	}
}

// processLane drains a single session lane, acquiring a semaphore slot
// before executing synchronously. This keeps strict FIFO ordering within
// a session while the semaphore limits cross-session parallelism.
func (q *Queue) processLane(lane chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.active.Add(1)
			result, id, err := q.log.Execute(q.ctx, job.Type, job.Fn, job.Params)
			if err != nil {
				slog.Error("queued action failed", "action_id", string(id), "action_type", job.Type, "error", err)
			}
			if job.OnComplete != nil {
				job.OnComplete(result, err)
			}
			q.active.Add(-1)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until no actions are actively executing, or the
// timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}
