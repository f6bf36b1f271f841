package eventlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Recorder stamps events with an actor and appends them to a Log. By
// default a failed append is logged and dropped so the mutation that
// produced it still succeeds; a strict Recorder returns the failure.
type Recorder struct {
	log    Log
	actor  string
	strict bool
	logger *slog.Logger
}

// NewRecorder returns a Recorder writing to log as actor.
func NewRecorder(log Log, actor string, strict bool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{log: log, actor: actor, strict: strict, logger: logger}
}

// Actor returns the actor stamped on events without one.
func (r *Recorder) Actor() string { return r.actor }

// Strict reports whether append failures are returned.
func (r *Recorder) Strict() bool { return r.strict }

// Record appends e, filling in the actor when empty.
func (r *Recorder) Record(ctx context.Context, e *Event) error {
	if r == nil || r.log == nil {
		return nil
	}
	if e.Actor == "" {
		e.Actor = r.actor
	}
	if _, err := r.log.Append(ctx, e); err != nil {
		if r.strict {
			return fmt.Errorf("recording %s event for %s: %w", e.Type, e.IssueID, err)
		}
		r.logger.Warn("dropping event", "type", e.Type, "issue", e.IssueID, "error", err)
	}
	return nil
}
