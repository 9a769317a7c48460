package jobs

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

// Handler processes one job. A handler is responsible for completing the
// job on success; the pool marks it failed when the handler errors. No
// retries happen anywhere — a failed job stays failed.
type Handler func(ctx context.Context, j *models.BackgroundJob) error

// WorkerPool polls the queued-job table and dispatches to handlers. It is
// intentionally not a durable execution runtime: the job row is the only
// record of progress.
type WorkerPool struct {
	repo        repository.JobRepo
	handlers    map[string]Handler
	logger      *slog.Logger
	workerCount int
	retention   time.Duration
	stop        chan struct{}
	wg          sync.WaitGroup
}

func NewWorkerPool(repo repository.JobRepo, handlers map[string]Handler, logger *slog.Logger, workerCount int, retention time.Duration) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &WorkerPool{
		repo:        repo,
		handlers:    handlers,
		logger:      logger,
		workerCount: workerCount,
		retention:   retention,
		stop:        make(chan struct{}),
	}
}

// Start launches the worker goroutines and the retention sweeper.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Add(1)
	go p.sweeper(ctx)
}

// Stop signals workers to stop and waits for them.
func (p *WorkerPool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.logger.Info("worker stopping", "id", id)
			return
		case <-ctx.Done():
			p.logger.Info("context canceled, worker exiting", "id", id)
			return
		default:
			job, err := p.repo.FetchNextQueued(ctx)
			if err != nil {
				p.logger.Error("fetch job", "err", err)
				p.sleep(time.Second)
				continue
			}
			if job == nil {
				p.sleep(500 * time.Millisecond)
				continue
			}
			p.run(ctx, job)
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, job *models.BackgroundJob) {
	if err := p.repo.MarkProcessing(ctx, job.ID); err != nil {
		// Another worker claimed it, or it was cancelled in between.
		return
	}

	h, ok := p.handlers[job.Type]
	if !ok {
		if err := p.repo.FailJob(ctx, job.ID, "no handler for job type "+job.Type); err != nil {
			p.logger.Error("fail job", "err", err, "job", job.ID)
		}
		return
	}

	if err := h(ctx, job); err != nil {
		p.logger.Error("job failed", "err", err, "job", job.ID, "type", job.Type)
		if ferr := p.repo.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			p.logger.Error("fail job", "err", ferr, "job", job.ID)
		}
	}
}

// sweeper purges terminal jobs past the retention window once an hour.
func (p *WorkerPool) sweeper(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-p.retention)
			n, err := p.repo.PurgeTerminal(ctx, cutoff)
			if err != nil {
				p.logger.Error("purge terminal jobs", "err", err)
				continue
			}
			if n > 0 {
				p.logger.Info("purged terminal jobs", "count", n)
			}
		}
	}
}

// sleep waits without blocking shutdown.
func (p *WorkerPool) sleep(d time.Duration) {
	select {
	case <-p.stop:
	case <-time.After(d):
	}
}
