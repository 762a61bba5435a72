package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/observability"

	"github.com/rs/zerolog"
)

// ErrNothingToSnapshot is returned before the first event is sequenced.
var ErrNothingToSnapshot = errors.New("no events sequenced yet")

// SnapshotSource is the slice of the core the snapshotter reads.
type SnapshotSource interface {
	CreateSnapshotState() *core.SnapshotState
	GetSequence() int64
}

// Snapshotter takes a snapshot every Interval events. A snapshot becomes
// usable for recovery once the event it was taken at is durable and carries
// the same state hash.
type Snapshotter struct {
	source   SnapshotSource
	mgr      *SnapshotManager
	interval int64
	poll     time.Duration
	metrics  *observability.Metrics
	log      zerolog.Logger

	lastSequence int64
}

func NewSnapshotter(source SnapshotSource, mgr *SnapshotManager, interval int64, metrics *observability.Metrics) *Snapshotter {
	return &Snapshotter{
		source:       source,
		mgr:          mgr,
		interval:     interval,
		poll:         time.Second,
		metrics:      metrics,
		log:          observability.NewLogger("snapshotter"),
		lastSequence: source.GetSequence() - 1,
	}
}

// Run checks the sequence every poll period until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.source.GetSequence()-1-s.lastSequence < s.interval {
				continue
			}
			if _, err := s.Take(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error().Err(err).Msg("snapshot failed")
			}
		}
	}
}

// Take captures and saves a snapshot, then verifies it against the event
// log, waiting for the persistence worker to catch up if needed.
func (s *Snapshotter) Take(ctx context.Context) (int64, error) {
	start := time.Now()
	state := s.source.CreateSnapshotState()
	if state.Sequence < 0 {
		return 0, ErrNothingToSnapshot
	}

	data := FromCoreState(state, time.Now().UTC())
	size, err := s.mgr.SaveSnapshot(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("save snapshot %d: %w", state.Sequence, err)
	}
	s.lastSequence = state.Sequence

	if err := s.waitDurable(ctx, state.Sequence); err != nil {
		return state.Sequence, err
	}
	if err := s.mgr.VerifyAgainstLog(ctx, state.Sequence, data.StateHash); err != nil {
		return state.Sequence, err
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	s.log.Info().
		Int64("sequence", state.Sequence).
		Int("size_bytes", size).
		Dur("took", time.Since(start)).
		Msg("snapshot verified")
	return state.Sequence, nil
}

func (s *Snapshotter) waitDurable(ctx context.Context, sequence int64) error {
	wait := 10 * time.Millisecond
	for {
		latest, err := s.mgr.GetLatestSequence(ctx)
		if err != nil {
			return err
		}
		if latest >= sequence {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if wait < s.poll {
			wait *= 2
		}
	}
}
