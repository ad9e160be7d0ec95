package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fluxquery/internal/exporter"
)

type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// ExportJob is one statement exported to one file.
type ExportJob struct {
	// ID is the unique UUID v4 for the job.
	ID string
	// Statement is the query to run.
	Statement string
	// Format is the output format (csv, json, excel, pdf).
	Format string
	// Timestamps for job lifecycle tracking.
	Submitted time.Time
	Started   time.Time
	Finished  time.Time
	// Status tracks the current state.
	Status JobStatus
	// Error holds any error encountered during processing.
	Error error
	// Stats contains rows processed and export duration.
	Stats *exporter.ExportResult
	// Key is where the file is stored.
	Key string
	// URL is the download URL of the stored file.
	URL string

	// Ctx manages the lifecycle/cancellation of the job.
	Ctx    context.Context
	Cancel context.CancelFunc

	done chan struct{}
}

func NewExportJob(statement, format string, timeout time.Duration) *ExportJob {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if format == "" {
		format = "csv"
	}
	return &ExportJob{
		ID:        uuid.New().String(),
		Statement: statement,
		Format:    format,
		Submitted: time.Now(),
		Status:    StatusPending,
		Ctx:       ctx,
		Cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Done is closed when the job has completed or failed.
func (j *ExportJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job has finished or ctx ends.
func (j *ExportJob) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}
