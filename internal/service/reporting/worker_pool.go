package reporting

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// jobTask is one unit of pipeline work: a report or export id plus the
// function that drives it to a terminal state.
type jobTask struct {
	id  string
	run func(ctx context.Context)
}

// WorkerPool processes report and export jobs on a fixed set of goroutines
// with a bounded queue. A full queue rejects the submit instead of blocking
// the API request that scheduled the job.
type WorkerPool struct {
	workers int
	tasks   chan jobTask
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger

	completed int64
}

func NewWorkerPool(ctx context.Context, workers int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		workers: workers,
		tasks:   make(chan jobTask, workers*4),
		ctx:     poolCtx,
		cancel:  cancel,
		logger:  logger,
	}
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains nothing: queued tasks that have not started are abandoned and
// will be recovered as stale jobs on the next startup.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *WorkerPool) Submit(task jobTask) bool {
	select {
	case p.tasks <- task:
		return true
	case <-p.ctx.Done():
		return false
	default:
		return false
	}
}

// Completed reports processed task count, used by tests and the status
// endpoint.
func (p *WorkerPool) Completed() int64 {
	return atomic.LoadInt64(&p.completed)
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			logger.Debug("processing job", zap.String("job_id", task.id))
			task.run(p.ctx)
			atomic.AddInt64(&p.completed, 1)
		}
	}
}
