package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/progress"
	"github.com/2php/iffse/internal/store"
)

// StoreSink persists run lifecycle and per-topic counters via a
// store.RunRepository. Counters are collapsed per (run, topic) within a batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies run transitions in order and writes collapsed topic deltas.
// Repository errors are returned to the hub, which logs them.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[topicKey]*topicAccum)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		default:
			accumulate(deltas, runID, evt)
		}
	}

	for key, acc := range deltas {
		if acc.delta.IsZero() {
			continue
		}
		if err := s.repo.AddTopicStats(ctx, key.runID, key.topic, acc.delta, acc.at); err != nil {
			return fmt.Errorf("add topic stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.FinishRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.FinishRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

func accumulate(deltas map[topicKey]*topicAccum, runID uuid.UUID, evt progress.Event) {
	if evt.Topic == "" {
		return
	}
	key := topicKey{runID: runID, topic: evt.Topic}
	acc := deltas[key]
	if acc == nil {
		acc = &topicAccum{}
		deltas[key] = acc
	}
	d := &acc.delta
	switch evt.Stage {
	case progress.StageTopicSeeded, progress.StagePageFetched:
		d.Pages++
	case progress.StageRateLimited:
		d.RateLimited++
	case progress.StageReseeded:
		d.Reseeds++
	case progress.StageCandidateDone:
		switch evt.Outcome {
		case crawler.OutcomeCreated:
			d.Created++
			d.Faces += int64(evt.Faces)
		case crawler.OutcomeAlreadyExists:
			d.AlreadyExists++
		case crawler.OutcomeSkipped:
			d.Skipped++
		case crawler.OutcomeFailed:
			d.Failed++
		}
	}
	if evt.TS.After(acc.at) {
		acc.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type topicKey struct {
	runID uuid.UUID
	topic string
}

type topicAccum struct {
	delta store.TopicDelta
	at    time.Time
}
