package sync

import (
	"context"
	"log/slog"
	"time"
)

const DefaultPollInterval = 4 * time.Second

// Scheduler drives the engine. Exactly one scheduler runs per process, and
// it runs cycles strictly one at a time; the cursor is owned state advanced
// only after a successful watermark commit, so a crashed or failed cycle
// replays the same range.
type Scheduler struct {
	Engine    *Engine
	FromBlock uint64
	Interval  time.Duration
	Log       *slog.Logger
}

// CatchUp processes a single range from the cursor to the current head.
func (s *Scheduler) CatchUp(ctx context.Context) error {
	cursor := s.FromBlock
	return s.runCycle(ctx, &cursor)
}

// Follow polls the head at the configured interval and applies each newly
// available range, until ctx is cancelled. Cycle errors are logged and the
// range is retried on the next tick.
func (s *Scheduler) Follow(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	cursor := s.FromBlock
	if err := s.runCycle(ctx, &cursor); err != nil {
		log.Error("sync cycle failed", "from", cursor, "err", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.runCycle(ctx, &cursor); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("sync cycle failed", "from", cursor, "err", err)
			}
		}
	}
}

// runCycle applies [cursor, head] once; the cursor moves past the head only
// when the whole range committed.
func (s *Scheduler) runCycle(ctx context.Context, cursor *uint64) error {
	head, err := s.Engine.Source.HeadBlock(ctx)
	if err != nil {
		return err
	}
	if head < *cursor {
		return nil
	}
	if err := s.Engine.ApplyRange(ctx, *cursor, head); err != nil {
		return err
	}
	*cursor = head + 1
	return nil
}
