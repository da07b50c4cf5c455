package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/progress"
)

// errStopped ends a topic loop whose queue was closed underneath it.
var errStopped = errors.New("topic loop stopped")

// topicLoop is the state owned by one topic goroutine.
type topicLoop struct {
	o     *Orchestrator
	t     *topic
	name  string
	state crawler.TopicState

	rateAttempts      int
	transientAttempts int
	// consumed holds every cursor already fetched in this loop.
	consumed map[string]struct{}
}

func (o *Orchestrator) runTopic(ctx context.Context, t *topic, name string) error {
	l := &topicLoop{o: o, t: t, name: name, consumed: make(map[string]struct{})}
	if err := l.resume(ctx); err != nil {
		return err
	}
	for {
		if l.state.Exhausted {
			o.logger.Info("topic exhausted", zap.String("topic", name))
			o.deps.Events.Topic(progress.StageTopicExhausted, name, 0, "")
			return nil
		}
		if err := l.step(ctx); err != nil {
			return err
		}
	}
}

// resume loads the stored cursor, seeding the topic when none exists.
func (l *topicLoop) resume(ctx context.Context) error {
	o := l.o
	state, err := o.deps.Cursors.Get(ctx, l.name)
	switch {
	case err == nil:
		l.state = state
		l.record(func(s *TopicStatus) {})
		o.logger.Info("resuming topic",
			zap.String("topic", l.name),
			zap.String("protocol_id", state.ProtocolID),
			zap.String("cursor", state.Cursor),
			zap.Bool("exhausted", state.Exhausted),
		)
		return nil
	case !errors.Is(err, crawler.ErrNotFound):
		return storeError("load cursor", err)
	}

	seed, err := l.seed(ctx, nil)
	if err != nil {
		return err
	}
	l.state = crawler.TopicState{
		Topic:      l.name,
		ProtocolID: seed.ProtocolID,
		Cursor:     seed.Cursor,
		Exhausted:  !seed.HasMore,
	}
	if err := l.save(ctx); err != nil {
		return err
	}
	if err := l.enqueue(ctx, seed.Candidates); err != nil {
		return err
	}
	l.record(func(s *TopicStatus) { s.Candidates += int64(len(seed.Candidates)) })
	o.deps.Events.Emit(progress.Event{Stage: progress.StageTopicSeeded, Topic: l.name, Candidates: len(seed.Candidates)})
	o.logger.Info("topic seeded",
		zap.String("topic", l.name),
		zap.String("protocol_id", seed.ProtocolID),
		zap.Int("candidates", len(seed.Candidates)),
		zap.Bool("has_more", seed.HasMore),
	)
	return nil
}

// step fetches one page and applies its outcome to the topic state.
func (l *topicLoop) step(ctx context.Context) error {
	o := l.o
	page, err := o.deps.Pages.FetchPage(ctx, l.state.ProtocolID, l.state.Cursor, l.name)
	switch {
	case err == nil:
		return l.advance(ctx, page)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, crawler.ErrTransient):
		l.transientAttempts++
		if l.transientAttempts > o.cfg.MaxTransientAttempts {
			return &crawler.FatalTopicError{Topic: l.name, Attempts: l.transientAttempts - 1, Err: err}
		}
		o.logger.Warn("transient page failure, retrying",
			zap.String("topic", l.name),
			zap.Int("attempt", l.transientAttempts),
			zap.Error(err),
		)
		return o.deps.Sleeper.Sleep(ctx, o.cfg.TransientDelay)
	default:
		// Rate limiting, a stale protocol id and unclassified failures all
		// call for a fresh protocol id.
		return l.reseed(ctx, err)
	}
}

// reseed mints a new protocol id and keeps the stored cursor.
func (l *topicLoop) reseed(ctx context.Context, cause error) error {
	o := l.o
	seed, err := l.seed(ctx, cause)
	if err != nil {
		return err
	}
	l.state.ProtocolID = seed.ProtocolID
	if err := l.save(ctx); err != nil {
		return err
	}
	l.record(func(s *TopicStatus) { s.Reseeds++ })
	o.deps.Events.Topic(progress.StageReseeded, l.name, l.rateAttempts, seed.ProtocolID)
	o.logger.Info("topic reseeded",
		zap.String("topic", l.name),
		zap.String("protocol_id", seed.ProtocolID),
		zap.String("cursor", l.state.Cursor),
		zap.Int("attempt", l.rateAttempts),
	)
	return nil
}

// seed calls the Seeder until it succeeds. When cause is set, each attempt is
// preceded by a randomized backoff and counts against the reseed budget.
func (l *topicLoop) seed(ctx context.Context, cause error) (crawler.Seed, error) {
	o := l.o
	for {
		if cause != nil {
			l.rateAttempts++
			if l.rateAttempts > o.cfg.MaxReseedAttempts {
				return crawler.Seed{}, &crawler.FatalTopicError{Topic: l.name, Attempts: l.rateAttempts - 1, Err: cause}
			}
			delay := o.backoff.Next()
			o.logger.Warn("rate limited, backing off",
				zap.String("topic", l.name),
				zap.Int("attempt", l.rateAttempts),
				zap.Duration("delay", delay),
				zap.Error(cause),
			)
			o.deps.Events.Emit(progress.Event{
				Stage:   progress.StageRateLimited,
				Topic:   l.name,
				Attempt: l.rateAttempts,
				Dur:     delay,
				Note:    cause.Error(),
			})
			if err := o.deps.Sleeper.Sleep(ctx, delay); err != nil {
				return crawler.Seed{}, err
			}
		}

		seed, err := o.deps.Seeder.Seed(ctx, l.name)
		if err == nil {
			return seed, nil
		}
		if ctx.Err() != nil {
			return crawler.Seed{}, ctx.Err()
		}
		o.logger.Warn("seed failed", zap.String("topic", l.name), zap.Error(err))
		cause = err
	}
}

// advance commits a fetched page: the cursor is persisted before its
// candidates are handed to the workers.
func (l *topicLoop) advance(ctx context.Context, page crawler.Page) error {
	o := l.o
	l.rateAttempts = 0
	l.transientAttempts = 0
	l.consumed[l.state.Cursor] = struct{}{}

	_, repeated := l.consumed[page.NextCursor]
	repeated = repeated || page.NextCursor == ""
	switch {
	case !page.HasMore:
		l.state.Exhausted = true
	case repeated:
		o.logger.Warn("upstream repeated a cursor, treating topic as exhausted",
			zap.String("topic", l.name),
			zap.String("cursor", page.NextCursor),
		)
		l.state.Exhausted = true
	default:
		l.state.Cursor = page.NextCursor
	}
	if err := l.save(ctx); err != nil {
		return err
	}
	if err := l.enqueue(ctx, page.Candidates); err != nil {
		return err
	}

	l.record(func(s *TopicStatus) {
		s.Pages++
		s.Candidates += int64(len(page.Candidates))
	})
	o.deps.Events.Emit(progress.Event{Stage: progress.StagePageFetched, Topic: l.name, Candidates: len(page.Candidates)})
	o.logger.Debug("page fetched",
		zap.String("topic", l.name),
		zap.String("cursor", l.state.Cursor),
		zap.Int("candidates", len(page.Candidates)),
		zap.Bool("has_more", page.HasMore),
	)

	if l.state.Exhausted {
		return nil
	}
	return o.deps.Sleeper.Sleep(ctx, o.jitter(o.cfg.PassJitter))
}

func (l *topicLoop) save(ctx context.Context) error {
	l.state.Topic = l.name
	l.state.UpdatedAt = l.o.deps.Clock.Now().UTC()
	if err := l.o.deps.Cursors.Put(ctx, l.state); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return storeError("save cursor", err)
	}
	l.record(func(*TopicStatus) {})
	return nil
}

func (l *topicLoop) enqueue(ctx context.Context, candidates []crawler.Candidate) error {
	for _, c := range candidates {
		if c.Topic == "" {
			c.Topic = l.name
		}
		if err := l.o.deps.Queue.Enqueue(ctx, c); err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) {
				return errStopped
			}
			return err
		}
	}
	return nil
}

// record applies fn to the topic status and mirrors the cursor state.
func (l *topicLoop) record(fn func(*TopicStatus)) {
	l.o.mu.Lock()
	defer l.o.mu.Unlock()
	s := &l.t.status
	s.ProtocolID = l.state.ProtocolID
	s.Cursor = l.state.Cursor
	s.UpdatedAt = l.state.UpdatedAt
	fn(s)
}

func storeError(op string, err error) error {
	if errors.Is(err, crawler.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", crawler.ErrStoreUnavailable, op, err)
}
