package persistence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"
	"StableLedger/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// persistHistory runs h through a core wired to a live persistence worker and
// returns the core once every output is committed.
func persistHistory(t *testing.T, h *history, batchSize int) (*core.DeterministicCore, []core.CoreOutput) {
	t.Helper()
	db := testutil.SetupTestDB(t)

	persist := make(chan core.CoreOutput, 16)
	c := newCore(t, persist)

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	worker := persistence.NewPersistenceWorker(db, persist, batchSize, 5*time.Millisecond, metrics)

	var (
		mu      sync.Mutex
		flushed []core.CoreOutput
	)
	worker.OnFlushed(func(batch []core.CoreOutput) {
		mu.Lock()
		defer mu.Unlock()
		flushed = append(flushed, batch...)
	})

	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	apply(t, c, h.events...)
	close(persist)
	require.NoError(t, <-done)

	assert.Equal(t, float64(len(h.events)), promtestutil.ToFloat64(metrics.PersistEventsWritten))
	return c, flushed
}

func TestPersistenceWorker_WritesLogInOrder(t *testing.T) {
	h := newHistory(3)
	c, flushed := persistHistory(t, h, 2)

	require.Len(t, flushed, len(h.events))
	for i, output := range flushed {
		assert.Equal(t, int64(i), output.Envelope.Sequence, "hook sees batches in sequence order")
	}
	last := flushed[len(flushed)-1].Envelope.StateHash
	assert.Equal(t, c.GetStateHash(), last)
}

func TestRecover_ReplaysLogToSameHash(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h := newHistory(3)

	persist := make(chan core.CoreOutput, 64)
	original := newCore(t, persist)
	worker := persistence.NewPersistenceWorker(db, persist, 4, 5*time.Millisecond, nil)
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	apply(t, original, h.events...)
	close(persist)
	require.NoError(t, <-done)

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, original.GetSequence()-1, latest)

	rows, err := sm.LoadEventsFrom(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, len(h.events))
	assert.Equal(t, "rejected", rows[len(rows)-1].Outcome)
	assert.Equal(t, "HealthFactorBroken", rows[len(rows)-1].ErrorCode)

	// Cold start: no snapshot, full replay
	replayed := newCore(t, nil)
	stats, err := persistence.Recover(context.Background(), replayed, sm, ingestion.ParseEvent, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), stats.SnapshotSequence)
	assert.Equal(t, int64(len(h.events)), stats.Replayed)
	assert.Equal(t, original.GetStateHash(), replayed.GetStateHash())

	// A replayed core still refuses a command it already sequenced
	receipt, err := replayed.ProcessEvent(context.Background(), h.events[2])
	require.NoError(t, err)
	assert.True(t, receipt.Duplicate)
}

func TestSnapshotter_TakeVerifyAndWarmRestart(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h := newHistory(2)

	persist := make(chan core.CoreOutput, 64)
	original := newCore(t, persist)
	worker := persistence.NewPersistenceWorker(db, persist, 1, 5*time.Millisecond, nil)
	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	apply(t, original, h.events...)

	sm := persistence.NewSnapshotManager(db)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	snapshotter := persistence.NewSnapshotter(original, sm, 1, metrics)
	seq, err := snapshotter.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, original.GetSequence()-1, seq)
	assert.Equal(t, float64(1), promtestutil.ToFloat64(metrics.SnapshotTaken))

	// More history after the snapshot
	apply(t, original, h.burn(h.users[1], ether(100)))

	close(persist)
	require.NoError(t, <-done)

	restarted := newCore(t, nil)
	stats, err := persistence.Recover(context.Background(), restarted, sm, ingestion.ParseEvent, nil)
	require.NoError(t, err)
	assert.Equal(t, seq, stats.SnapshotSequence)
	assert.Equal(t, int64(1), stats.Replayed)
	assert.Equal(t, original.GetStateHash(), restarted.GetStateHash())
}

func TestPostgresIdempotencyChecker(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h := newHistory(1)

	persist := make(chan core.CoreOutput, 64)
	c := newCore(t, persist)
	worker := persistence.NewPersistenceWorker(db, persist, 8, 5*time.Millisecond, nil)
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()
	apply(t, c, h.events...)
	close(persist)
	require.NoError(t, <-done)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	funding := h.events[1]
	dup, err := checker.IsDuplicate(funding.EventType().String(), funding.IdempotencyKey())
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = checker.IsDuplicate("WalletFunded", "never-seen")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestMigrator_DownThenUp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m := persistence.NewMigrator(db, testutil.MigrationsDir())
	ctx := context.Background()

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, s := range status {
		assert.True(t, s.Applied, s.Filename)
	}

	require.NoError(t, m.Down(ctx))
	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status[len(status)-1].Applied)

	require.NoError(t, m.Up(ctx))
	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status[len(status)-1].Applied)
}
