// Package dispatcher manages worker fan-out over the candidate queue and
// consumes the worker result channel.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/logging"
)

// Runner is a unit of work started by the dispatcher. *worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Config controls the dispatcher.
type Config struct {
	// MaxStoreFailures halts the pool after this many consecutive results that
	// failed with crawler.ErrStoreUnavailable. Zero disables the check.
	MaxStoreFailures int
}

// Stats is a snapshot of result counts.
type Stats struct {
	Created       int64 `json:"created"`
	AlreadyExists int64 `json:"already_exists"`
	Skipped       int64 `json:"skipped"`
	Failed        int64 `json:"failed"`
}

// Dispatcher fans out queue work to a pool of workers and acknowledges every
// result they produce.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
	results <-chan crawler.Result
	cfg     Config
	logger  *zap.Logger

	created       atomic.Int64
	alreadyExists atomic.Int64
	skipped       atomic.Int64
	failed        atomic.Int64
}

// New creates a Dispatcher. results must be the channel the workers send on.
func New(queue crawler.Queue, workers []Runner, results <-chan crawler.Result, cfg Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		results: results,
		cfg:     cfg,
		logger:  logging.OrNop(logger).Named("dispatcher"),
	}
}

// Run starts all workers and consumes results until ctx ends or every worker
// exits. It returns an error wrapping crawler.ErrStoreUnavailable when the
// store keeps failing, after stopping the workers.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	consecutive := 0
	for {
		select {
		case res := <-d.results:
			d.record(res)
			if !errors.Is(res.Err, crawler.ErrStoreUnavailable) {
				consecutive = 0
				continue
			}
			consecutive++
			if d.cfg.MaxStoreFailures > 0 && consecutive >= d.cfg.MaxStoreFailures {
				err := fmt.Errorf("halt after %d consecutive store failures: %w", consecutive, res.Err)
				d.logger.Error("post store unavailable", zap.Error(err))
				cancel(err)
				<-workersDone
				d.drain()
				return err
			}
		case <-workersDone:
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case res := <-d.results:
			d.record(res)
		default:
			return
		}
	}
}

func (d *Dispatcher) record(res crawler.Result) {
	switch res.Outcome {
	case crawler.OutcomeCreated:
		d.created.Add(1)
	case crawler.OutcomeAlreadyExists:
		d.alreadyExists.Add(1)
	case crawler.OutcomeSkipped:
		d.skipped.Add(1)
	default:
		d.failed.Add(1)
	}
}

// Stats returns the result counts so far.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Created:       d.created.Load(),
		AlreadyExists: d.alreadyExists.Load(),
		Skipped:       d.skipped.Load(),
		Failed:        d.failed.Load(),
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, c crawler.Candidate) error {
	if err := d.queue.Enqueue(ctx, c); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
