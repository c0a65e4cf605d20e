package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/briefing/internal/observability"
	"github.com/harun/briefing/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrQueueClosed = errors.New("command queue closed")
	ErrLaneCleared = errors.New("lane cleared")
)

// Task is one unit of lane work.
type Task func(ctx context.Context) (interface{}, error)

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	queue   []*taskRecord
	running *taskRecord
}

// CommandQueue serializes tasks per lane.
type CommandQueue struct {
	mu        sync.Mutex
	lanes     map[string]*laneState
	taskIDSeq uint64
	closed    bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty queue.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue runs task in lane after every task enqueued before it and waits
// for the result. If ctx ends while the task is queued, the task is
// discarded and ctx's error is returned; once running, the task observes
// ctx itself.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "briefing/commandqueue", "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	record, err := cq.push(ctx, lane, task)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	select {
	case res := <-record.result:
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, res.err.Error())
		}
		return res.value, res.err
	case <-ctx.Done():
		if cq.remove(lane, record) {
			log.Debug().Str("lane", lane).Str("taskId", record.id).Msg("Queued task abandoned")
			return nil, ctx.Err()
		}
		// Already running: the task sees the same ctx and will return.
		res := <-record.result
		return res.value, res.err
	}
}

func (cq *CommandQueue) push(ctx context.Context, lane string, task Task) (*taskRecord, error) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.closed {
		return nil, ErrQueueClosed
	}

	ls, ok := cq.lanes[lane]
	if !ok {
		ls = &laneState{}
		cq.lanes[lane] = ls
		observability.SetActiveLanes(len(cq.lanes))
	}

	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}
	ls.queue = append(ls.queue, record)

	tracing.LoggerFromContext(ctx, log.Logger).Debug().
		Str("lane", lane).
		Str("taskId", record.id).
		Int("queueSize", len(ls.queue)).
		Msg("Task enqueued")

	cq.processLane(lane, ls)
	return record, nil
}

// remove drops a record that has not started yet.
func (cq *CommandQueue) remove(lane string, record *taskRecord) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return false
	}
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			cq.dropIfIdle(lane, ls)
			return true
		}
	}
	return false
}

// processLane starts the next task if the lane is idle. cq.mu must be held.
func (cq *CommandQueue) processLane(lane string, ls *laneState) {
	if ls.running != nil || len(ls.queue) == 0 {
		return
	}

	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running = record

	cq.wg.Add(1)
	go cq.executeTask(lane, record)
}

func (cq *CommandQueue) dropIfIdle(lane string, ls *laneState) {
	if ls.running == nil && len(ls.queue) == 0 {
		delete(cq.lanes, lane)
		observability.SetActiveLanes(len(cq.lanes))
	}
}

func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "briefing/commandqueue", "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	wait := time.Since(record.enqueuedAt)
	start := time.Now()
	value, err := cq.safeRun(runCtx, record.task)
	duration := time.Since(start)

	cq.mu.Lock()
	ls := cq.lanes[lane]
	ls.running = nil
	record.result <- taskResult{value: value, err: err}
	cq.processLane(lane, ls)
	cq.dropIfIdle(lane, ls)
	cq.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Str("taskId", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("taskId", record.id).Dur("wait", wait).Dur("duration", duration).Msg("Task completed")
	}
	observability.RecordLaneTask(duration, err == nil)
}

func (cq *CommandQueue) safeRun(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// QueueSize returns the number of tasks waiting in lane.
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// IsBusy reports whether lane has a running task.
func (cq *CommandQueue) IsBusy(lane string) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	return ok && ls.running != nil
}

// Stats returns queued and running counts per lane.
func (cq *CommandQueue) Stats() map[string]map[string]int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for lane, ls := range cq.lanes {
		running := 0
		if ls.running != nil {
			running = 1
		}
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": running,
		}
	}
	return stats
}

// ClearLane fails every queued task in lane with ErrLaneCleared. The
// running task is not affected.
func (cq *CommandQueue) ClearLane(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return 0
	}

	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: ErrLaneCleared}
	}
	ls.queue = nil
	cq.dropIfIdle(lane, ls)

	log.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	return count
}

// WaitForActive waits until no lane has a running task.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		cq.mu.Lock()
		drained := true
		for _, ls := range cq.lanes {
			if ls.running != nil {
				drained = false
				break
			}
		}
		cq.mu.Unlock()

		if drained {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close rejects new tasks, fails queued ones, cancels running ones and
// waits for them to return.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	for lane, ls := range cq.lanes {
		for _, record := range ls.queue {
			record.result <- taskResult{err: ErrQueueClosed}
		}
		ls.queue = nil
		cq.dropIfIdle(lane, ls)
	}
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}
