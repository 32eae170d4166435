// Package sweep runs many independent backtest variants in parallel with a
// bounded worker pool. Each variant gets its own driver, ledger, and strategy
// instance; only the dataset and security reference data are shared, and
// those are read-only.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"quantbt/internal/backtest"
	"quantbt/internal/domain"
	"quantbt/internal/strategy"
)

// Job is one named backtest variant.
type Job struct {
	Name   string
	Config backtest.Config
}

// Outcome pairs a job with what its run produced. Err is set when the driver
// could not be constructed; a run that started always carries a Result.
type Outcome struct {
	Name   string
	Result *domain.Result
	Err    error
}

// Runner executes jobs against shared read-only inputs.
type Runner struct {
	registry   *strategy.Registry
	securities []domain.Security
	data       *backtest.Dataset
	workers    int
	log        *slog.Logger
}

// New creates a Runner. workers bounds the number of concurrently active
// runs; zero or negative means one per CPU.
func New(registry *strategy.Registry, securities []domain.Security, data *backtest.Dataset, workers int, log *slog.Logger) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{
		registry:   registry,
		securities: securities,
		data:       data,
		workers:    workers,
		log:        log,
	}
}

// Run executes all jobs and returns their outcomes in job order. Cancelling
// ctx stops in-flight runs at their next session boundary; queued jobs still
// start and observe the cancelled context immediately.
func (r *Runner) Run(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup

	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[i] = r.runOne(ctx, job)
		}(i, job)
	}
	wg.Wait()
	return outcomes
}

func (r *Runner) runOne(ctx context.Context, job Job) Outcome {
	d, err := backtest.New(job.Config, r.registry, r.securities, r.data, r.log.With("job", job.Name))
	if err != nil {
		r.log.Error("sweep job rejected", "job", job.Name, "err", err)
		return Outcome{Name: job.Name, Err: err}
	}
	res := d.Run(ctx)
	return Outcome{Name: job.Name, Result: res}
}

// Grid expands a base config into one job per point of the cartesian product
// of the given parameter values. Job order is deterministic: parameter names
// are iterated sorted, values in the order given.
func Grid(base backtest.Config, params map[string][]float64) []Job {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	jobs := []Job{{Name: base.Strategy, Config: base}}
	for _, name := range names {
		var next []Job
		for _, job := range jobs {
			for _, v := range params[name] {
				cfg := job.Config
				cfg.Params = make(map[string]float64, len(job.Config.Params)+1)
				for k, pv := range job.Config.Params {
					cfg.Params[k] = pv
				}
				cfg.Params[name] = v
				next = append(next, Job{
					Name:   fmt.Sprintf("%s %s=%g", job.Name, name, v),
					Config: cfg,
				})
			}
		}
		jobs = next
	}
	return jobs
}
