// Package orchestrator runs one resumable pagination loop per registered topic.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/logging"
	"github.com/2php/iffse/internal/progress"
)

// ErrAlreadyRunning is returned when Run is called twice concurrently.
var ErrAlreadyRunning = errors.New("orchestrator already running")

// Config bounds the recovery behavior of every topic loop.
type Config struct {
	RateLimitBackoffMin  time.Duration
	RateLimitBackoffMax  time.Duration
	MaxReseedAttempts    int
	TransientDelay       time.Duration
	MaxTransientAttempts int
	PassJitter           time.Duration
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Cursors crawler.CursorStore
	Seeder  crawler.Seeder
	Pages   crawler.PageFetcher
	Queue   crawler.Queue
	Sleeper crawler.Sleeper
	Clock   crawler.Clock
	Events  *progress.Reporter
}

// Orchestrator owns the crawl state of every registered topic. Each topic has
// exactly one loop goroutine, which is the only writer of its cursor state.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	backoff crawler.Backoff
	jitter  func(time.Duration) time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	topics  map[string]*topic
	runCtx  context.Context
	stopRun context.CancelCauseFunc
	wg      sync.WaitGroup
}

// New builds an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Cursors == nil:
		return nil, errors.New("cursor store is required")
	case deps.Seeder == nil:
		return nil, errors.New("seeder is required")
	case deps.Pages == nil:
		return nil, errors.New("page fetcher is required")
	case deps.Queue == nil:
		return nil, errors.New("candidate queue is required")
	}
	if deps.Sleeper == nil {
		deps.Sleeper = crawler.TimerSleeper{}
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if cfg.MaxReseedAttempts <= 0 {
		cfg.MaxReseedAttempts = 5
	}
	if cfg.MaxTransientAttempts <= 0 {
		cfg.MaxTransientAttempts = 3
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		backoff: crawler.NewBackoff(cfg.RateLimitBackoffMin, cfg.RateLimitBackoffMax),
		jitter:  crawler.Jitter,
		logger:  logging.OrNop(logger).Named("orchestrator"),
		topics:  make(map[string]*topic),
	}, nil
}

// RegisterTopic adds a topic. If Run is active its loop starts immediately.
func (o *Orchestrator) RegisterTopic(name string) error {
	name = normalizeTopic(name)
	if name == "" {
		return errors.New("topic name is required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.topics[name]; ok {
		return fmt.Errorf("%w: %s", crawler.ErrTopicExists, name)
	}
	t := &topic{status: TopicStatus{Topic: name, State: StatePending}}
	o.topics[name] = t
	if o.runCtx != nil {
		o.startLocked(t)
	}
	o.logger.Info("topic registered", zap.String("topic", name))
	return nil
}

// UnregisterTopic stops and forgets a topic. Its stored cursor is kept so a
// later registration resumes where it stopped.
func (o *Orchestrator) UnregisterTopic(name string) error {
	name = normalizeTopic(name)
	o.mu.Lock()
	t, ok := o.topics[name]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: topic %s", crawler.ErrNotFound, name)
	}
	delete(o.topics, name)
	cancel, done := t.cancel, t.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	o.logger.Info("topic unregistered", zap.String("topic", name))
	return nil
}

// Rearm clears the exhausted flag of a finished topic and restarts its loop
// when Run is active. A topic whose loop is still running is left alone.
func (o *Orchestrator) Rearm(ctx context.Context, name string) error {
	name = normalizeTopic(name)
	o.mu.Lock()
	t, ok := o.topics[name]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: topic %s", crawler.ErrNotFound, name)
	}
	if t.status.State == StateRunning {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	state, err := o.deps.Cursors.Get(ctx, name)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
	case err != nil:
		return fmt.Errorf("rearm %s: %w", name, err)
	case state.Exhausted:
		state.Exhausted = false
		state.UpdatedAt = o.deps.Clock.Now().UTC()
		if err := o.deps.Cursors.Put(ctx, state); err != nil {
			return fmt.Errorf("rearm %s: %w", name, err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if current, ok := o.topics[name]; ok && current == t && t.status.State != StateRunning {
		t.status.State = StatePending
		t.status.LastError = ""
		if o.runCtx != nil {
			o.startLocked(t)
		}
	}
	o.logger.Info("topic rearmed", zap.String("topic", name))
	return nil
}

// Topics returns a snapshot of every registered topic ordered by name.
func (o *Orchestrator) Topics() []TopicStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]TopicStatus, 0, len(o.topics))
	for _, t := range o.topics {
		out = append(out, t.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Topic returns the status of one topic or crawler.ErrNotFound.
func (o *Orchestrator) Topic(name string) (TopicStatus, error) {
	name = normalizeTopic(name)
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.topics[name]
	if !ok {
		return TopicStatus{}, fmt.Errorf("%w: topic %s", crawler.ErrNotFound, name)
	}
	return t.status, nil
}

// Run starts every registered topic loop and blocks until ctx ends or a
// systemic store failure halts the crawl, in which case that failure is
// returned. Exhausted or halted topics do not end Run.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	o.mu.Lock()
	if o.runCtx != nil {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.runCtx = ctx
	o.stopRun = cancel
	for _, t := range o.topics {
		if t.status.State == StatePending || t.status.State == StateStopped {
			o.startLocked(t)
		}
	}
	o.mu.Unlock()

	<-ctx.Done()

	o.mu.Lock()
	o.runCtx = nil
	o.stopRun = nil
	o.mu.Unlock()
	o.wg.Wait()

	if cause := context.Cause(ctx); errors.Is(cause, crawler.ErrStoreUnavailable) {
		return cause
	}
	return nil
}

// startLocked launches the loop for t. o.mu must be held and o.runCtx set.
func (o *Orchestrator) startLocked(t *topic) {
	loopCtx, cancel := context.WithCancel(o.runCtx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.status.State = StateRunning
	name := t.status.Topic

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		defer cancel()
		err := o.runTopic(loopCtx, t, name)
		o.finish(t, err)
	}()
}

func (o *Orchestrator) finish(t *topic, err error) {
	name := t.status.Topic
	var fatal *crawler.FatalTopicError
	state := StateExhausted
	switch {
	case err == nil:
	case errors.As(err, &fatal):
		state = StateFatal
		o.logger.Error("topic halted", zap.String("topic", name), zap.Int("attempts", fatal.Attempts), zap.Error(err))
		o.deps.Events.Topic(progress.StageTopicFatal, name, fatal.Attempts, err.Error())
	case errors.Is(err, crawler.ErrStoreUnavailable):
		state = StateFatal
		o.logger.Error("cursor store unavailable, halting crawl", zap.String("topic", name), zap.Error(err))
		o.mu.Lock()
		stop := o.stopRun
		o.mu.Unlock()
		if stop != nil {
			stop(err)
		}
	case errors.Is(err, errStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		state = StateStopped
	default:
		state = StateFatal
		o.logger.Error("topic loop failed", zap.String("topic", name), zap.Error(err))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	t.cancel = nil
	t.status.State = state
	if err != nil && state != StateStopped {
		t.status.LastError = err.Error()
	}
}

func normalizeTopic(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "#")
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
