package worker_pool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Task is a unit of work producing a T
type Task[T any] func(ctx context.Context) (T, error)

// Result is the outcome of one task
type Result[T any] struct {
	Value T
	Error error
}

// WorkerPool bounds how many tasks run at once
type WorkerPool struct {
	maxWorkers int
	semaphore  chan struct{}
}

// NewWorkerPool creates a pool. maxWorkers <= 0 uses the number of CPUs.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}

	return &WorkerPool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
	}
}

// Run executes tasks concurrently on wp and returns their results in task
// order. A task that panics reports the panic as its error. Tasks still
// waiting for a slot when ctx ends are not started.
func Run[T any](ctx context.Context, wp *WorkerPool, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(index int, t Task[T]) {
			defer wg.Done()

			select {
			case wp.semaphore <- struct{}{}:
				defer func() { <-wp.semaphore }()
			case <-ctx.Done():
				results[index] = Result[T]{Error: ctx.Err()}
				return
			}

			results[index] = runTask(ctx, t)
		}(i, task)
	}

	wg.Wait()
	return results
}

func runTask[T any](ctx context.Context, t Task[T]) (r Result[T]) {
	defer func() {
		if p := recover(); p != nil {
			r = Result[T]{Error: fmt.Errorf("task panicked: %v", p)}
		}
	}()
	value, err := t(ctx)
	return Result[T]{Value: value, Error: err}
}

// GetMaxWorkers returns the maximum number of concurrent tasks
func (wp *WorkerPool) GetMaxWorkers() int {
	return wp.maxWorkers
}
