// Package commandqueue runs tasks in named lanes, one at a time per lane.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order, never concurrently.
// - Tasks in different lanes may execute concurrently.
// - A task whose context ends while it is still queued never runs.
// - Idle lanes are dropped, so lanes keyed by chat id do not accumulate.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, "chat:abc", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	})
package commandqueue
