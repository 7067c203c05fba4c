package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/coordmap"
	"github.com/dgallion1/docaudit/internal/cost"
	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/highlight"
	"github.com/dgallion1/docaudit/internal/latechunk"
	"github.com/dgallion1/docaudit/internal/metrics"
)

// Services are the long-lived collaborators shared by all workers.
type Services struct {
	Model     extract.Model
	Embedder  latechunk.Embedder
	Counter   cost.Counter
	Tokens    TokenSource
	Mapper    *coordmap.Mapper
	Highlight *highlight.Orchestrator
	Metrics   *metrics.Metrics
}

// Orchestrator manages the document analysis pipeline.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	svc    Services
	caches *lru.Cache[string, *latechunk.Cache]
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Embedding caches are kept per
// document content hash so re-analyzing a document reuses its vectors.
func NewOrchestrator(cfg config.Config, svc Services, log *slog.Logger) (*Orchestrator, error) {
	if svc.Mapper == nil {
		m, err := coordmap.New(coordmap.DefaultOptions(), log)
		if err != nil {
			return nil, fmt.Errorf("coordinate mapper: %w", err)
		}
		svc.Mapper = m
	}
	if svc.Highlight == nil {
		svc.Highlight = highlight.NewOrchestrator(highlight.DefaultOptions(), log,
			&highlight.OverlayStrategy{}, &highlight.AnnotationStrategy{})
	}
	caches, err := lru.New[string, *latechunk.Cache](64)
	if err != nil {
		return nil, fmt.Errorf("embedding caches: %w", err)
	}
	return &Orchestrator{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueueSize),
		svc:    svc,
		caches: caches,
		log:    log,
		cfg:    cfg,
	}, nil
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.svc, o.embeddingCache, o.log, o.cfg.PDFFallbackPdftotext)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	if job.Status == "" {
		job.SetStatus(StatusQueued, "queued")
	}
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// Cancel requests cancellation of a job. It reports whether the job exists
// and was still running.
func (o *Orchestrator) Cancel(id string) (found, cancelled bool) {
	job := o.jobs.Get(id)
	if job == nil {
		return false, false
	}
	return true, job.Cancel()
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// JobCount returns the number of tracked jobs.
func (o *Orchestrator) JobCount() int {
	return o.jobs.Len()
}

// Services returns the shared collaborators for direct use by API handlers.
func (o *Orchestrator) Services() Services {
	return o.svc
}

// Config returns the service configuration.
func (o *Orchestrator) Config() config.Config {
	return o.cfg
}

func (o *Orchestrator) embeddingCache(contentHash string) *latechunk.Cache {
	if contentHash == "" {
		return latechunk.NewCache()
	}
	if c, ok := o.caches.Get(contentHash); ok {
		return c
	}
	c := latechunk.NewCache()
	if prev, ok, _ := o.caches.PeekOrAdd(contentHash, c); ok {
		return prev
	}
	return c
}
