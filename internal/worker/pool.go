package worker

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"fluxquery/internal/driver"
	"fluxquery/internal/exporter"
	"fluxquery/internal/results"
	"fluxquery/internal/storage"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers   int
	QueueSize int
	UseGzip   bool
	// Limit and Prefetch are passed to every stream.
	Limit    int
	Prefetch int
	// Validate vets a statement before it is queried. nil accepts all.
	Validate func(statement string) error
}

// Pool runs export jobs on a fixed set of workers. Each job opens one stream
// over the driver and writes it through an encoder into storage.
type Pool struct {
	cfg      PoolConfig
	jobQueue chan *ExportJob
	wg       sync.WaitGroup
	quit     chan struct{}
	stopOnce sync.Once

	driver   driver.Driver
	storage  storage.Provider
	exec     results.Executor
	observer results.Observer
	log      *slog.Logger
}

// NewPool initializes a pool. It does not start the workers; call Start to
// begin processing. exec and observer may be nil.
func NewPool(cfg PoolConfig, d driver.Driver, store storage.Provider, exec results.Executor, observer results.Observer, log *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		cfg:      cfg,
		jobQueue: make(chan *ExportJob, cfg.QueueSize),
		quit:     make(chan struct{}),
		driver:   d,
		storage:  store,
		exec:     exec,
		observer: observer,
		log:      log,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	p.log.Info("Worker pool started", "workers", p.cfg.Workers)
}

// Submit queues job. It returns false when the queue is full or the pool has
// stopped.
func (p *Pool) Submit(job *ExportJob) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.jobQueue <- job:
		return true
	default:
		return false
	}
}

// Stop waits for running jobs and fails those still queued.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		for {
			select {
			case job := <-p.jobQueue:
				p.failJob(job, ErrPoolStopped)
			default:
				p.log.Info("Worker pool stopped")
				return
			}
		}
	})
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	p.log.Debug("Worker started", "worker_id", id)

	for {
		select {
		case <-p.quit:
			return
		case job := <-p.jobQueue:
			p.processJob(id, job)
		}
	}
}

func (p *Pool) processJob(workerID int, job *ExportJob) {
	p.log.Info("Processing job", "worker_id", workerID, "job_id", job.ID)
	job.Started = time.Now()
	job.Status = StatusProcessing

	if err := p.executeExport(job); err != nil {
		p.failJob(job, err)
		return
	}

	job.Status = StatusCompleted
	job.Finished = time.Now()
	job.URL = p.storage.GetDownloadURL(job.Key)
	p.log.Info("Job completed",
		"job_id", job.ID,
		"rows", job.Stats.RowsProcessed,
		"wait", job.Started.Sub(job.Submitted),
		"duration", job.Finished.Sub(job.Started),
		"key", job.Key,
	)
	job.Cancel()
	close(job.done)
}

func (p *Pool) executeExport(job *ExportJob) error {
	if p.cfg.Validate != nil {
		if err := p.cfg.Validate(job.Statement); err != nil {
			return fmt.Errorf("query rejected: %w", err)
		}
	}

	job.Key = fmt.Sprintf("exports/%s.%s", job.ID, exporter.Extension(job.Format))
	if p.cfg.UseGzip {
		job.Key += ".gz"
	}

	q, err := p.driver.Query(job.Statement)
	if err != nil {
		return fmt.Errorf("prepare query: %w", err)
	}
	s := results.New(q, results.Options[driver.Row]{
		Limit:    p.cfg.Limit,
		Prefetch: p.cfg.Prefetch,
		Executor: p.exec,
		Observer: p.observer,
		Logger:   p.log.With("job_id", job.ID),
	})
	defer s.Close()

	storageWriter, errChan := p.storage.StreamToFile(job.Ctx, job.Key)
	if storageWriter == nil {
		return fmt.Errorf("open storage: %w", <-errChan)
	}

	var out io.Writer = storageWriter
	var gz *gzip.Writer
	if p.cfg.UseGzip {
		gz = gzip.NewWriter(storageWriter)
		out = gz
	}

	encoder, err := exporter.NewEncoder(job.Format, out)
	if err != nil {
		job.Cancel()
		_ = storageWriter.Close()
		<-errChan
		return err
	}

	// Storage -> [Gzip?] -> Encoder <- Stream <- Driver
	stats, exportErr := exporter.Export(job.Ctx, s, encoder)
	if exportErr != nil {
		// A cancelled context makes storage discard the partial file.
		job.Cancel()
	}

	encoderCloseErr := encoder.Close()
	var gzipCloseErr error
	if gz != nil {
		gzipCloseErr = gz.Close()
	}
	storageCloseErr := storageWriter.Close()
	uploadErr := <-errChan

	switch {
	case exportErr != nil:
		return fmt.Errorf("export failed: %w", exportErr)
	case encoderCloseErr != nil:
		return fmt.Errorf("encoder close failed: %w", encoderCloseErr)
	case gzipCloseErr != nil:
		return fmt.Errorf("gzip close failed: %w", gzipCloseErr)
	case storageCloseErr != nil:
		return fmt.Errorf("storage close failed: %w", storageCloseErr)
	case uploadErr != nil:
		return fmt.Errorf("upload failed: %w", uploadErr)
	}

	job.Stats = stats
	return nil
}

func (p *Pool) failJob(job *ExportJob, err error) {
	job.Status = StatusFailed
	job.Error = err
	job.Finished = time.Now()
	job.Cancel()
	p.log.Error("Job failed", "job_id", job.ID, "error", err)
	close(job.done)
}
