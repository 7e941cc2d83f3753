package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/store"
)

// StepMarker persists confirmed steps of a queued operation.
type StepMarker interface {
	MarkStep(ctx context.Context, opID, step string) error
}

// Replay is the state of one handler invocation: the operation, the backend
// to apply it to, and the steps confirmed so far.
type Replay struct {
	Op      store.Operation
	Backend remote.Backend

	marker    StepMarker
	logger    *zap.Logger
	done      map[string]bool
	completed []string
	undo      []func(context.Context) error
	result    record.Record
}

// ReplayOption configures a Replay.
type ReplayOption func(*Replay)

// WithMarker persists every confirmed step through m.
func WithMarker(m StepMarker) ReplayOption {
	return func(r *Replay) {
		r.marker = m
	}
}

// WithReplayLogger sets the logger used for step diagnostics.
func WithReplayLogger(l *zap.Logger) ReplayOption {
	return func(r *Replay) {
		r.logger = l
	}
}

// NewReplay prepares op for replay against backend. Steps already listed in
// op.Progress are treated as done.
func NewReplay(op store.Operation, backend remote.Backend, opts ...ReplayOption) *Replay {
	r := &Replay{
		Op:      op,
		Backend: backend,
		logger:  zap.NewNop(),
		done:    make(map[string]bool, len(op.Progress)),
	}
	for _, s := range op.Progress {
		r.done[s] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Step runs fn unless step already succeeded, then records it as done.
func (r *Replay) Step(ctx context.Context, step string, fn func(context.Context) error) error {
	return r.StepWithUndo(ctx, step, fn, nil)
}

// StepWithUndo is Step with a compensating action, run by Compensate.
// Steps skipped because they were done on an earlier attempt register no
// undo.
func (r *Replay) StepWithUndo(ctx context.Context, step string, fn, undo func(context.Context) error) error {
	if r.done[step] {
		r.logger.Debug("step already confirmed",
			zap.String("op_id", r.Op.ID),
			zap.String("step", step),
		)
		return nil
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	r.done[step] = true
	r.completed = append(r.completed, step)
	if undo != nil {
		r.undo = append(r.undo, undo)
	}

	if r.marker != nil && r.Op.ID != "" {
		if err := r.marker.MarkStep(ctx, r.Op.ID, step); err != nil {
			// A lost mark makes the next attempt repeat this step.
			r.logger.Warn("failed to persist replay step",
				zap.String("op_id", r.Op.ID),
				zap.String("step", step),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Done reports whether step is confirmed.
func (r *Replay) Done(step string) bool {
	return r.done[step]
}

// Progress returns every confirmed step, including those carried in from
// earlier attempts, in confirmation order.
func (r *Replay) Progress() []string {
	out := make([]string, 0, len(r.Op.Progress)+len(r.completed))
	out = append(out, r.Op.Progress...)
	return append(out, r.completed...)
}

// Compensate undoes the steps confirmed during this replay, newest first.
// Every undo is attempted; the first error is returned.
func (r *Replay) Compensate(ctx context.Context) error {
	var first error
	for i := len(r.undo) - 1; i >= 0; i-- {
		if err := r.undo[i](ctx); err != nil {
			r.logger.Warn("compensation failed", zap.String("op_id", r.Op.ID), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	r.undo = nil
	return first
}

// SetResult records the confirmed row of the operation's table.
func (r *Replay) SetResult(row record.Record) {
	r.result = row
}

// Result returns the confirmed row recorded by the handler, or nil.
func (r *Replay) Result() record.Record {
	return r.result
}
