package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/observability"
)

var (
	ErrHashMismatch = errors.New("state hash mismatch")
	ErrReplayGap    = errors.New("event log gap")
)

const replayPageSize = 1000

// Decoder turns a logged payload back into a typed command.
type Decoder func(eventType string, payload []byte) (event.Event, error)

// RecoveryStats summarizes a startup recovery.
type RecoveryStats struct {
	SnapshotSequence int64 // -1 on a cold start
	Replayed         int64
	NextSequence     int64
}

// Recover loads the latest verified snapshot into c and replays the event log
// tail through the same pipeline. Every replayed event must reproduce the
// logged outcome and state hash; any divergence is fatal to startup.
func Recover(
	ctx context.Context,
	c *core.DeterministicCore,
	sm *SnapshotManager,
	decode Decoder,
	metrics *observability.Metrics,
) (RecoveryStats, error) {
	stats := RecoveryStats{SnapshotSequence: -1}
	start := time.Now()

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return stats, err
	}
	if snap != nil {
		restored, err := snap.ToCoreState()
		if err != nil {
			return stats, fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		c.RestoreFromSnapshot(restored)
		stats.SnapshotSequence = snap.Sequence
	}

	c.SetReplaying(true)
	defer c.SetReplaying(false)

	for {
		next := c.GetSequence()
		rows, err := sm.LoadEventsFrom(ctx, next, replayPageSize)
		if err != nil {
			return stats, fmt.Errorf("load events from %d: %w", next, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			if err := replayOne(ctx, c, decode, row); err != nil {
				return stats, err
			}
			stats.Replayed++
		}
		if len(rows) < replayPageSize {
			break
		}
	}

	stats.NextSequence = c.GetSequence()
	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(stats.Replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	return stats, nil
}

func replayOne(ctx context.Context, c *core.DeterministicCore, decode Decoder, row EventRow) error {
	if want := c.GetSequence(); row.Sequence != want {
		return fmt.Errorf("%w: expected sequence %d, found %d", ErrReplayGap, want, row.Sequence)
	}

	evt, err := decode(row.EventType, row.Payload)
	if err != nil {
		return fmt.Errorf("decode event %d: %w", row.Sequence, err)
	}

	receipt, err := c.ProcessEvent(ctx, evt)
	if err != nil {
		return fmt.Errorf("replay event %d: %w", row.Sequence, err)
	}
	if receipt.Duplicate || receipt.Ignored || receipt.Sequence != row.Sequence {
		return fmt.Errorf("replay event %d: not re-sequenced (duplicate=%v ignored=%v seq=%d)",
			row.Sequence, receipt.Duplicate, receipt.Ignored, receipt.Sequence)
	}
	if receipt.Outcome.String() != row.Outcome || receipt.ErrorCode != row.ErrorCode {
		return fmt.Errorf("replay event %d: outcome %s/%s, logged %s/%s",
			row.Sequence, receipt.Outcome, receipt.ErrorCode, row.Outcome, row.ErrorCode)
	}

	hash := c.GetStateHash()
	if !bytes.Equal(hash[:], row.StateHash) {
		return fmt.Errorf("%w at sequence %d: replayed %x, logged %x",
			ErrHashMismatch, row.Sequence, hash, row.StateHash)
	}
	return nil
}
