// Package worker implements the candidate processing loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/logging"
	"github.com/2php/iffse/internal/metrics"
	"github.com/2php/iffse/internal/progress"
)

// Processor turns a candidate into face vectors.
type Processor interface {
	Process(ctx context.Context, c crawler.Candidate) (crawler.Extraction, error)
}

// Config controls Worker behavior.
type Config struct {
	// ID labels the worker in logs.
	ID int
	// SkipKnown checks the post store before running the pipeline so items
	// that already have a Post are not fetched again.
	SkipKnown bool
}

// Worker consumes candidates, runs the pipeline and commits the result.
// Every dequeued candidate produces exactly one Result unless the context
// ends first.
type Worker struct {
	queue     crawler.Queue
	processor Processor
	posts     crawler.PostStore
	ids       crawler.IDGenerator
	clock     crawler.Clock
	results   chan<- crawler.Result
	events    *progress.Reporter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. results and events may be nil.
func New(
	queue crawler.Queue,
	processor Processor,
	posts crawler.PostStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	results chan<- crawler.Result,
	events *progress.Reporter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		queue:     queue,
		processor: processor,
		posts:     posts,
		ids:       ids,
		clock:     clock,
		results:   results,
		events:    events,
		cfg:       cfg,
		logger:    logging.OrNop(logger).With(zap.Int("worker", cfg.ID)),
	}
}

// Run blocks, consuming candidates until the context finishes or the queue
// is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		c, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued candidate", zap.String("item_key", c.ItemKey), zap.String("topic", c.Topic))

		metrics.IncActiveWorkers()
		res, ok := w.handle(ctx, c)
		metrics.DecActiveWorkers()
		if !ok {
			return
		}
		w.report(res)
		if w.results != nil {
			select {
			case w.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handle processes one candidate. It reports false when the context ended
// before an outcome was reached.
func (w *Worker) handle(ctx context.Context, c crawler.Candidate) (crawler.Result, bool) {
	start := w.clock.Now()
	res := crawler.Result{Candidate: c}

	if w.cfg.SkipKnown {
		exists, err := w.posts.Exists(ctx, c.ItemKey)
		switch {
		case err != nil && ctx.Err() != nil:
			return res, false
		case err != nil:
			return w.finish(res, start, crawler.OutcomeFailed, err), true
		case exists:
			return w.finish(res, start, crawler.OutcomeAlreadyExists, nil), true
		}
	}

	ext, err := w.processor.Process(ctx, c)
	if err != nil {
		if reason, ok := crawler.SkipReasonOf(err); ok {
			res.Reason = reason
			return w.finish(res, start, crawler.OutcomeSkipped, err), true
		}
		if ctx.Err() != nil {
			return res, false
		}
		return w.finish(res, start, crawler.OutcomeFailed, err), true
	}
	res.Faces = len(ext.Vectors)

	id, err := w.ids.NewID()
	if err != nil {
		return w.finish(res, start, crawler.OutcomeFailed, err), true
	}
	post := crawler.Post{
		ID:        id,
		ItemKey:   c.ItemKey,
		MediaURL:  c.MediaURL,
		Topic:     c.Topic,
		ImageHash: ext.ImageHash,
		CreatedAt: w.clock.Now().UTC(),
	}

	commitStart := time.Now()
	committed, err := w.posts.Commit(ctx, post, ext.Vectors)
	if err != nil {
		metrics.ObserveCommit("error", time.Since(commitStart))
		if ctx.Err() != nil && !errors.Is(err, crawler.ErrStoreUnavailable) {
			return res, false
		}
		return w.finish(res, start, crawler.OutcomeFailed, err), true
	}
	metrics.ObserveCommit(string(committed), time.Since(commitStart))

	switch committed {
	case crawler.CommitCreated:
		res.PostID = id
		return w.finish(res, start, crawler.OutcomeCreated, nil), true
	default:
		return w.finish(res, start, crawler.OutcomeAlreadyExists, nil), true
	}
}

func (w *Worker) finish(res crawler.Result, start time.Time, outcome crawler.Outcome, err error) crawler.Result {
	res.Outcome = outcome
	res.Err = err
	res.Duration = w.clock.Now().Sub(start)
	return res
}

func (w *Worker) report(res crawler.Result) {
	fields := []zap.Field{
		zap.String("item_key", res.Candidate.ItemKey),
		zap.String("topic", res.Candidate.Topic),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", res.Duration),
	}
	switch res.Outcome {
	case crawler.OutcomeCreated:
		w.logger.Info("post created", append(fields, zap.String("post_id", res.PostID), zap.Int("faces", res.Faces))...)
	case crawler.OutcomeAlreadyExists:
		w.logger.Debug("already indexed", fields...)
	case crawler.OutcomeSkipped:
		w.logger.Debug("candidate skipped", append(fields, zap.String("reason", string(res.Reason)))...)
	default:
		w.logger.Warn("candidate failed", append(fields, zap.Error(res.Err))...)
	}
	w.events.Candidate(res)
}
