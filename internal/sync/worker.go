package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type workerEvent int

const (
	eventScheduledSync workerEvent = iota
	eventSyncAction
)

// Worker drives the sync loop: one sync pass produces a batch of actions,
// actions execute one at a time, and a timer schedules the next pass once the
// batch drains. Everything runs on the single Run goroutine; the timer only
// posts an event.
type Worker struct {
	session  *Session
	producer *Producer
	executor *Executor

	events  chan workerEvent
	pending []Action
	timer   *time.Timer
}

func NewWorker(s *Session) *Worker {
	return &Worker{
		session:  s,
		producer: NewProducer(s),
		executor: NewExecutor(s),
		events:   make(chan workerEvent, 16),
	}
}

// OnConflict forwards to the executor's conflict callback.
func (w *Worker) OnConflict(fn func(Action)) {
	w.executor.OnConflict(fn)
}

// Run executes sync passes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("sync worker starting", "root", w.session.Root, "interval", w.session.Interval)
	w.events <- eventScheduledSync

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return ctx.Err()
		case ev := <-w.events:
			var err error
			switch ev {
			case eventScheduledSync:
				err = w.doSync(ctx)
			case eventSyncAction:
				err = w.doSyncAction(ctx)
			}
			if err != nil {
				w.stopTimer()
				return err
			}
		}
	}
}

// RunOnce performs a single sync pass outside the event loop: produce, then
// execute every action in order.
func (w *Worker) RunOnce(ctx context.Context) error {
	actions, err := w.producer.Produce(ctx)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if err := w.execute(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) doSync(ctx context.Context) error {
	w.stopTimer()

	actions, err := w.producer.Produce(ctx)
	if err != nil {
		// a failed pass is retried on the next tick
		slog.Error("sync pass failed", "error", err)
		w.startTimer()
		return nil
	}

	w.pending = actions
	w.events <- eventSyncAction
	return nil
}

func (w *Worker) doSyncAction(ctx context.Context) error {
	if len(w.pending) == 0 {
		w.startTimer()
		return nil
	}

	action := w.pending[0]
	w.pending = w.pending[1:]

	if err := w.execute(ctx, action); err != nil {
		return err
	}
	w.events <- eventSyncAction
	return nil
}

// execute runs one action. Invariant violations in the history data abort the
// worker; any other failure is logged and the file is retried next pass.
func (w *Worker) execute(ctx context.Context, action Action) error {
	err := w.executor.Do(ctx, action)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrHistoryEmpty) || errors.Is(err, ErrHistoryDeleted) {
		return err
	}
	slog.Error("action failed", "action", action.String(), "error", err)
	return nil
}

func (w *Worker) startTimer() {
	w.timer = time.AfterFunc(w.session.Interval, func() {
		select {
		case w.events <- eventScheduledSync:
		default:
		}
	})
}

func (w *Worker) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
