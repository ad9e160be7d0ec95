package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fluxquery/internal/storage"
	"fluxquery/internal/worker"
)

func exportCmd() *cobra.Command {
	var (
		format string
		gzip   bool
	)
	cmd := &cobra.Command{
		Use:   "export <statement>...",
		Short: "Export statements to files in the configured storage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cli.storage()
			if err != nil {
				return err
			}
			pool := worker.NewPool(worker.PoolConfig{
				Workers:  cli.cfg.WorkerCount,
				UseGzip:  gzip || cli.cfg.Compression,
				Limit:    cli.cfg.QueryLimit,
				Prefetch: cli.cfg.QueryPrefetch,
				Validate: cli.validator(),
			}, cli.db, store, cli.exec, nil, cli.log)
			pool.Start()
			defer pool.Stop()

			jobs := make([]*worker.ExportJob, 0, len(args))
			for _, statement := range args {
				job := worker.NewExportJob(statement, format, cli.cfg.QueryTimeout)
				if !pool.Submit(job) {
					job.Cancel()
					return fmt.Errorf("export queue is full")
				}
				jobs = append(jobs, job)
			}

			var errs []error
			for _, job := range jobs {
				if err := job.Wait(cmd.Context()); err != nil {
					errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
					continue
				}
				fmt.Printf("%s\t%d rows\t%s\n", job.ID, job.Stats.RowsProcessed, job.URL)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv, json, excel or pdf")
	cmd.Flags().BoolVar(&gzip, "gzip", false, "compress the output (default COMPRESSION)")
	return cmd
}

func (a *app) storage() (storage.Provider, error) {
	if a.cfg.StorageType == "s3" {
		client := storage.NewS3Client(storage.S3Options{
			Region:    a.cfg.AWSRegion,
			Endpoint:  a.cfg.S3Endpoint,
			PathStyle: a.cfg.S3PathStyle,
		})
		return storage.NewS3Provider(client, a.cfg.S3Bucket, a.log), nil
	}
	return storage.NewLocalProvider(a.cfg.LocalStoragePath, a.log)
}
