package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/ledger"
	"StableLedger/internal/oracle"
	"StableLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// snapshotFormatVersion 1: JSON-encoded SnapshotData with decimal amounts
const snapshotFormatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots hold balances, supplies, positions, prices, sequence counters,
// the idempotency LRU and the state hash chain tip.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of core.SnapshotState. Amounts are
// decimal strings since they exceed 64 bits.
type SnapshotData struct {
	Sequence        int64                    `json:"sequence"`
	StateHash       []byte                   `json:"state_hash"`
	Balances        map[string]string        `json:"balances"` // AccountPath -> balance
	Supplies        map[string]string        `json:"supplies"` // asset -> total supply
	Positions       []PositionSnapshot       `json:"positions"`
	Prices          map[string]PriceSnapshot `json:"prices"`         // feed -> latest round
	SequenceState   map[string]int64         `json:"sequence_state"` // partition -> next expected seq
	IdempotencyKeys []string                 `json:"idempotency_keys"`
	CreatedAt       time.Time                `json:"created_at"`
}

// PositionSnapshot is a serializable position.
type PositionSnapshot struct {
	Account    string            `json:"account"`
	Collateral map[string]string `json:"collateral"`
	Debt       string            `json:"debt"`
}

// PriceSnapshot is a serializable oracle round.
type PriceSnapshot struct {
	RoundID   int64 `json:"round_id"`
	Answer    int64 `json:"answer"`
	UpdatedAt int64 `json:"updated_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// FromCoreState converts the core's in-memory state for storage.
func FromCoreState(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	data := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Balances:        make(map[string]string, len(s.Balances)),
		Supplies:        make(map[string]string, len(s.Supplies)),
		Positions:       make([]PositionSnapshot, 0, len(s.Positions)),
		Prices:          make(map[string]PriceSnapshot, len(s.Prices)),
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
	for key, balance := range s.Balances {
		data.Balances[key.AccountPath()] = balance.Dec()
	}
	for asset, supply := range s.Supplies {
		data.Supplies[string(asset)] = supply.Dec()
	}
	for _, pos := range s.Positions {
		ps := PositionSnapshot{
			Account:    pos.Account.String(),
			Collateral: make(map[string]string, len(pos.Collateral)),
			Debt:       pos.DebtMinted.Dec(),
		}
		for asset, amount := range pos.Collateral {
			ps.Collateral[string(asset)] = amount.Dec()
		}
		data.Positions = append(data.Positions, ps)
	}
	sort.Slice(data.Positions, func(i, j int) bool {
		return data.Positions[i].Account < data.Positions[j].Account
	})
	for feed, round := range s.Prices {
		data.Prices[string(feed)] = PriceSnapshot{
			RoundID:   round.RoundID,
			Answer:    round.Answer,
			UpdatedAt: round.UpdatedAt,
		}
	}
	return data
}

// ToCoreState is the inverse of FromCoreState.
func (d *SnapshotData) ToCoreState() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash has %d bytes", d.Sequence, len(d.StateHash))
	}
	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]*uint256.Int, len(d.Balances)),
		Supplies:        make(map[ledger.AssetID]*uint256.Int, len(d.Supplies)),
		Positions:       make([]*state.Position, 0, len(d.Positions)),
		Prices:          make(map[oracle.FeedID]oracle.RoundData, len(d.Prices)),
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)

	for path, balance := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		v, err := uint256.FromDecimal(balance)
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", path, err)
		}
		s.Balances[key] = v
	}
	for asset, supply := range d.Supplies {
		v, err := uint256.FromDecimal(supply)
		if err != nil {
			return nil, fmt.Errorf("supply %s: %w", asset, err)
		}
		s.Supplies[ledger.AssetID(asset)] = v
	}
	for _, ps := range d.Positions {
		account, err := ledger.ParseAddress(ps.Account)
		if err != nil {
			return nil, err
		}
		debt, err := uint256.FromDecimal(ps.Debt)
		if err != nil {
			return nil, fmt.Errorf("debt of %s: %w", ps.Account, err)
		}
		pos := &state.Position{
			Account:    account,
			Collateral: make(map[ledger.AssetID]*uint256.Int, len(ps.Collateral)),
			DebtMinted: debt,
		}
		for asset, amount := range ps.Collateral {
			v, err := uint256.FromDecimal(amount)
			if err != nil {
				return nil, fmt.Errorf("collateral %s of %s: %w", asset, ps.Account, err)
			}
			pos.Collateral[ledger.AssetID(asset)] = v
		}
		s.Positions = append(s.Positions, pos)
	}
	for feed, p := range d.Prices {
		s.Prices[oracle.FeedID(feed)] = oracle.RoundData{
			RoundID:   p.RoundID,
			Answer:    p.Answer,
			UpdatedAt: p.UpdatedAt,
		}
	}
	return s, nil
}

// SaveSnapshot persists a snapshot and returns its encoded size. Snapshots
// are written unverified; recovery only trusts verified ones.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified once its state hash is confirmed
// against the event log.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifyAgainstLog checks the snapshot's hash against the event log row of
// the same sequence and marks it verified when they agree.
func (sm *SnapshotManager) VerifyAgainstLog(ctx context.Context, sequence int64, stateHash []byte) error {
	var logged []byte
	err := sm.db.QueryRowContext(ctx,
		`SELECT state_hash FROM event_log.events WHERE sequence = $1`, sequence,
	).Scan(&logged)
	if err != nil {
		return fmt.Errorf("load event %d: %w", sequence, err)
	}
	if string(logged) != string(stateHash) {
		return fmt.Errorf("%w at sequence %d: log %x, snapshot %x",
			ErrHashMismatch, sequence, logged, stateHash)
	}
	return sm.MarkVerified(ctx, sequence)
}

// LoadEventsFrom loads events from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, partition_key, source_sequence,
		       payload, outcome, error_code, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Partition, &e.SourceSequence,
			&e.Payload, &e.Outcome, &e.ErrorCode, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
