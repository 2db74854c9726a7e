package workers

import (
	"context"
	"log/slog"
	"time"
)

type typingSweeper interface {
	Sweep(ctx context.Context, now time.Time) int
}

// TypingSweeperWorker periodically expires typing entries nobody stopped,
// e.g. when a client vanished mid-sentence.
type TypingSweeperWorker struct {
	log      *slog.Logger
	typing   typingSweeper
	interval time.Duration
	now      func() time.Time
}

func NewTypingSweeperWorker(log *slog.Logger, typing typingSweeper, interval time.Duration) *TypingSweeperWorker {
	return &TypingSweeperWorker{log: log, typing: typing, interval: interval, now: time.Now}
}

func (w *TypingSweeperWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := w.typing.Sweep(ctx, w.now()); n > 0 {
				w.log.Debug("Typing sweep", "expired", n)
			}
		}
	}
}
