package pipeline

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// PoolStats is a snapshot of worker pool counters
type PoolStats struct {
	TotalJobs     int64 `json:"total_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	QueuedJobs    int64 `json:"queued_jobs"`
	ActiveWorkers int64 `json:"active_workers"`
	Workers       int   `json:"workers"`
}

// WorkerPool runs submitted jobs on a fixed number of workers. The queue is
// unbounded and FIFO, so Submit never blocks and never rejects an open pool.
type WorkerPool struct {
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	wg   sync.WaitGroup
	done sync.WaitGroup
	once sync.Once

	totalJobs     atomic.Int64
	completedJobs atomic.Int64
	activeWorkers atomic.Int64
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	wp := &WorkerPool{workers: workers}
	wp.cond = sync.NewCond(&wp.mu)
	return wp
}

// Start initializes and starts all workers in the pool
func (wp *WorkerPool) Start() {
	wp.once.Do(func() {
		wp.done.Add(wp.workers)
		for i := 0; i < wp.workers; i++ {
			go wp.worker()
		}
	})
}

// worker processes jobs from the queue until the pool is closed and drained
func (wp *WorkerPool) worker() {
	defer wp.done.Done()
	for {
		wp.mu.Lock()
		for len(wp.queue) == 0 && !wp.closed {
			wp.cond.Wait()
		}
		if len(wp.queue) == 0 {
			wp.mu.Unlock()
			return
		}
		job := wp.queue[0]
		wp.queue[0] = nil
		wp.queue = wp.queue[1:]
		wp.mu.Unlock()

		wp.run(job)
	}
}

func (wp *WorkerPool) run(job func()) {
	wp.activeWorkers.Add(1)
	defer func() {
		wp.activeWorkers.Add(-1)
		wp.completedJobs.Add(1)
		wp.wg.Done()
	}()
	job()
}

// Submit queues a job. It returns false once the pool is closed.
func (wp *WorkerPool) Submit(job func()) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.closed {
		return false
	}
	wp.wg.Add(1)
	wp.totalJobs.Add(1)
	wp.queue = append(wp.queue, job)
	wp.cond.Signal()
	return true
}

// Wait waits for all submitted jobs to complete
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Close stops accepting jobs and lets the workers drain the queue
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	wp.closed = true
	wp.cond.Broadcast()
	wp.mu.Unlock()
}

// Shutdown closes the pool and waits for the workers to exit
func (wp *WorkerPool) Shutdown() {
	wp.Close()
	wp.Start()
	wp.done.Wait()
}

// GetStats returns current pool counters
func (wp *WorkerPool) GetStats() PoolStats {
	wp.mu.Lock()
	queued := int64(len(wp.queue))
	wp.mu.Unlock()

	return PoolStats{
		TotalJobs:     wp.totalJobs.Load(),
		CompletedJobs: wp.completedJobs.Load(),
		QueuedJobs:    queued,
		ActiveWorkers: wp.activeWorkers.Load(),
		Workers:       wp.workers,
	}
}
