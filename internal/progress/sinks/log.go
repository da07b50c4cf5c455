package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/2php/iffse/internal/progress"
)

// LogSink writes each event as a structured log line. Topic failures log at
// error level, throttling at warn, everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Topic != "" {
			fields = append(fields, zap.String("topic", evt.Topic))
		}
		if evt.ItemKey != "" {
			fields = append(fields,
				zap.String("item_key", evt.ItemKey),
				zap.String("outcome", string(evt.Outcome)),
				zap.Int("faces", evt.Faces),
			)
		}
		if evt.PostID != "" {
			fields = append(fields, zap.String("post_id", evt.PostID))
		}
		if evt.Reason != "" {
			fields = append(fields, zap.String("reason", string(evt.Reason)))
		}
		if evt.Candidates > 0 {
			fields = append(fields, zap.Int("candidates", evt.Candidates))
		}
		if evt.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", evt.Attempt))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt.Stage), "progress event", fields...)
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageTopicFatal, progress.StageRunError:
		return zapcore.ErrorLevel
	case progress.StageRateLimited, progress.StageTopicExhausted:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
