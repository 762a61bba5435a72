package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/ledger"
	fpmath "StableLedger/internal/math"

	"github.com/holiman/uint256"
)

const maxPageSize = 500

// Page selects a slice of history, newest first. Before is an exclusive
// sequence cursor; zero means from the tip.
type Page struct {
	Limit  int
	Before int64
}

func (p Page) normalize() (Page, error) {
	if p.Limit < 0 || p.Before < 0 {
		return p, fmt.Errorf("%w: limit %d before %d", ErrInvalidArgument, p.Limit, p.Before)
	}
	if p.Limit == 0 || p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	return p, nil
}

// JournalHistory returns the token journal entries touching any of the
// account's balances.
func (qs *QueryService) JournalHistory(ctx context.Context, account ledger.Address, page Page) ([]JournalHistoryEntry, error) {
	var entries []JournalHistoryEntry
	err := qs.observe(ctx, "journal_history", func(ctx context.Context) error {
		if qs.db == nil {
			return ErrNoHistory
		}
		page, err := page.normalize()
		if err != nil {
			return err
		}

		query := `
			SELECT journal_id, batch_id, event_ref, sequence,
			       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp_us
			FROM ledger.journal_entries
			WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
		`
		args := []interface{}{account.String() + ":%"}
		argIdx := 2

		if page.Before > 0 {
			query += fmt.Sprintf(" AND sequence < $%d", argIdx)
			args = append(args, page.Before)
			argIdx++
		}

		query += " ORDER BY sequence DESC, journal_id"
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, page.Limit)

		rows, err := qs.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e  JournalHistoryEntry
				us int64
			)
			if err := rows.Scan(
				&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
				&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
				&e.JournalType, &us,
			); err != nil {
				return err
			}
			e.Timestamp = time.UnixMicro(us).UTC()
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

// Liquidations lists completed liquidations, optionally only those against
// one target.
func (qs *QueryService) Liquidations(ctx context.Context, target *ledger.Address, page Page) ([]LiquidationRecord, error) {
	var records []LiquidationRecord
	err := qs.observe(ctx, "liquidations", func(ctx context.Context) error {
		if qs.db == nil {
			return ErrNoHistory
		}
		page, err := page.normalize()
		if err != nil {
			return err
		}

		query := `
			SELECT sequence, liquidator, target, asset_id,
			       debt_covered::text, collateral_seized::text, bonus::text,
			       starting_hf::text, ending_hf::text, timestamp
			FROM projections.liquidations
			WHERE TRUE
		`
		var args []interface{}
		argIdx := 1

		if target != nil {
			query += fmt.Sprintf(" AND target = $%d", argIdx)
			args = append(args, target.String())
			argIdx++
		}
		if page.Before > 0 {
			query += fmt.Sprintf(" AND sequence < $%d", argIdx)
			args = append(args, page.Before)
			argIdx++
		}

		query += " ORDER BY sequence DESC"
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, page.Limit)

		rows, err := qs.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r                             LiquidationRecord
				covered, startingHF, endingHF string
			)
			if err := rows.Scan(
				&r.Sequence, &r.Liquidator, &r.Target, &r.Asset,
				&covered, &r.CollateralSeized, &r.Bonus,
				&startingHF, &endingHF, &r.Timestamp,
			); err != nil {
				return err
			}
			if r.DebtCovered, err = parseValue(covered); err != nil {
				return err
			}
			if r.StartingHealthFactor, err = parseValue(startingHF); err != nil {
				return err
			}
			if r.EndingHealthFactor, err = parseValue(endingHF); err != nil {
				return err
			}
			records = append(records, r)
		}
		return rows.Err()
	})
	return records, err
}

// Event returns one event log entry by sequence.
func (qs *QueryService) Event(ctx context.Context, sequence int64) (*EventRecord, error) {
	var rec *EventRecord
	err := qs.observe(ctx, "event", func(ctx context.Context) error {
		if qs.db == nil {
			return ErrNoHistory
		}
		var (
			r                   EventRecord
			payload             []byte
			stateHash, prevHash []byte
		)
		err := qs.db.QueryRowContext(ctx, `
			SELECT sequence, event_type, idempotency_key, outcome, error_code,
			       state_hash, prev_hash, payload, timestamp
			FROM event_log.events
			WHERE sequence = $1
		`, sequence).Scan(
			&r.Sequence, &r.EventType, &r.IdempotencyKey, &r.Outcome, &r.ErrorCode,
			&stateHash, &prevHash, &payload, &r.Timestamp,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: event %d", ErrNotFound, sequence)
		}
		if err != nil {
			return err
		}
		r.StateHash = hex.EncodeToString(stateHash)
		r.PrevHash = hex.EncodeToString(prevHash)
		r.Payload = payload
		rec = &r
		return nil
	})
	return rec, err
}

// VerifyIntegrity checks the persisted hash chain, the live ledger invariants
// and how far the projections trail live state.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	var report *IntegrityReport
	err := qs.observe(ctx, "verify_integrity", func(ctx context.Context) error {
		r := &IntegrityReport{}

		if err := qs.live.VerifyInvariants(); err != nil {
			r.InvariantError = err.Error()
		}
		if err := qs.live.Read(func(v core.View) error {
			r.LiveSequence = v.Sequence
			return nil
		}); err != nil {
			return err
		}

		if qs.db != nil {
			rows, err := qs.db.QueryContext(ctx, `
				SELECT e1.sequence
				FROM event_log.events e1
				JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
				WHERE e1.prev_hash <> e2.state_hash
				ORDER BY e1.sequence
				LIMIT 10
			`)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var seq int64
				if err := rows.Scan(&seq); err != nil {
					return err
				}
				r.HashChainBreaks = append(r.HashChainBreaks, seq)
			}
			if err := rows.Err(); err != nil {
				return err
			}

			watermark, err := qs.getWatermark(ctx)
			if err != nil {
				return err
			}
			r.ProjectionLag = r.LiveSequence - watermark
		}

		r.IsHealthy = len(r.HashChainBreaks) == 0 && r.InvariantError == ""
		report = r
		return nil
	})
	return report, err
}

func parseValue(s string) (Amount, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("decode amount %q: %w", s, err)
	}
	return newAmount(v, fpmath.ValueConfig), nil
}
