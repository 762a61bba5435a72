package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ledger"
	"StableLedger/internal/observability"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// WatermarkName identifies this worker's row in projections.watermark.
const WatermarkName = "main"

// StateReader gives the worker a consistent view of live state for resync.
type StateReader interface {
	Read(fn func(v core.View) error) error
}

// ProjectionWorker updates the read-model tables from core outputs.
// The projection channel is non-blocking with drop: when the worker sees a
// sequence gap it rebuilds the tables from live state instead.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	reader    StateReader
	metrics   *observability.Metrics
	log       zerolog.Logger

	mu      sync.Mutex
	lastSeq int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, reader StateReader, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		reader:    reader,
		metrics:   metrics,
		log:       observability.NewLogger("projection"),
		lastSeq:   -1,
	}
}

// LastSequence is the last sequence reflected in the projection tables.
func (pw *ProjectionWorker) LastSequence() int64 {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.lastSeq
}

// LoadWatermark reads the committed watermark so a restarted worker skips
// outputs it has already projected.
func (pw *ProjectionWorker) LoadWatermark(ctx context.Context) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	err := pw.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection_name = $1`,
		WatermarkName,
	).Scan(&pw.lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		pw.lastSeq = -1
		return nil
	}
	return err
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.Apply(ctx, output); err != nil {
				// Projections are eventually consistent; the next gap triggers a resync
				pw.log.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
			}
		}
	}
}

// Apply projects one output. Outputs at or below the watermark are skipped.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if output.Envelope == nil {
		return nil
	}
	seq := output.Envelope.Sequence
	if seq <= pw.lastSeq {
		return nil
	}
	if seq > pw.lastSeq+1 && pw.reader != nil {
		pw.log.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection gap, resyncing")
		return pw.resync(ctx)
	}

	start := time.Now()
	if err := pw.processOutput(ctx, output); err != nil {
		// lastSeq stays put, so the next output sees a gap and resyncs
		return err
	}
	pw.lastSeq = seq
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
	}
	return nil
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	env := output.Envelope
	if env.Outcome == event.OutcomeApplied {
		if output.Batch != nil {
			for _, j := range output.Batch.Journals {
				if err := updateBalanceProjection(ctx, tx, j, env.Sequence); err != nil {
					return fmt.Errorf("balance projection: %w", err)
				}
			}
		}
		for _, evt := range output.Events {
			if err := applyOutbound(ctx, tx, evt, env); err != nil {
				return fmt.Errorf("%s projection: %w", evt.Kind(), err)
			}
		}
	}

	if err := setWatermark(ctx, tx, env.Sequence); err != nil {
		return err
	}
	return tx.Commit()
}

// updateBalanceProjection applies one journal: the debit side gains, the
// credit side loses. The external account carries no tracked balance.
func updateBalanceProjection(ctx context.Context, tx *sql.Tx, j ledger.Journal, seq int64) error {
	if !j.DebitAccount.Owner.IsExternal() {
		if err := addBalance(ctx, tx, j.DebitAccount, j.Amount.Dec(), seq); err != nil {
			return err
		}
	}
	if !j.CreditAccount.Owner.IsExternal() {
		if err := addBalance(ctx, tx, j.CreditAccount, "-"+j.Amount.Dec(), seq); err != nil {
			return err
		}
	}
	return nil
}

func addBalance(ctx context.Context, tx *sql.Tx, key ledger.AccountKey, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.token_balances (account, asset_id, balance, last_seq)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account, asset_id)
		DO UPDATE SET balance = projections.token_balances.balance + $3::numeric,
		              last_seq = $4, updated_at = NOW()
	`, key.Owner.String(), string(key.AssetID), delta, seq)
	return err
}

func applyOutbound(ctx context.Context, tx *sql.Tx, evt event.Outbound, env *event.EventEnvelope) error {
	seq := env.Sequence
	switch e := evt.(type) {
	case event.CollateralDeposited:
		return addCollateral(ctx, tx, e.Account, e.Asset, e.Amount.Dec(), seq)
	case event.CollateralRedeemed:
		return addCollateral(ctx, tx, e.From, e.Asset, "-"+e.Amount.Dec(), seq)
	case event.StableMinted:
		return addDebt(ctx, tx, e.Account, e.Amount.Dec(), seq)
	case event.StableBurned:
		return addDebt(ctx, tx, e.OnBehalfOf, "-"+e.Amount.Dec(), seq)
	case event.Liquidated:
		return insertLiquidation(ctx, tx, e, seq, env.Timestamp)
	default:
		return nil
	}
}

func addCollateral(ctx context.Context, tx *sql.Tx, account ledger.Address, asset ledger.AssetID, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (account, asset_id, collateral, last_seq)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account, asset_id)
		DO UPDATE SET collateral = projections.positions.collateral + $3::numeric,
		              last_seq = $4, updated_at = NOW()
	`, account.String(), string(asset), delta, seq)
	return err
}

func addDebt(ctx context.Context, tx *sql.Tx, account ledger.Address, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.debts (account, debt, last_seq)
		VALUES ($1, $2::numeric, $3)
		ON CONFLICT (account)
		DO UPDATE SET debt = projections.debts.debt + $2::numeric,
		              last_seq = $3, updated_at = NOW()
	`, account.String(), delta, seq)
	return err
}

func insertLiquidation(ctx context.Context, tx *sql.Tx, e event.Liquidated, seq int64, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidations (
			sequence, liquidator, target, asset_id,
			debt_covered, collateral_seized, bonus, starting_hf, ending_hf, timestamp
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, e.Liquidator.String(), e.Target.String(), string(e.Asset),
		e.DebtCovered.Dec(), e.CollateralSeized.Dec(), e.Bonus.Dec(),
		e.StartingHealthFactor.Dec(), e.EndingHealthFactor.Dec(), ts.UTC())
	return err
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, WatermarkName, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// Resync replaces the balance, position and debt tables with live state and
// moves the watermark to the live sequence. Liquidation history is append-only
// and is left alone.
func (pw *ProjectionWorker) Resync(ctx context.Context) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.resync(ctx)
}

func (pw *ProjectionWorker) resync(ctx context.Context) error {
	if pw.reader == nil {
		return errors.New("projection resync needs a state reader")
	}

	var (
		seq       int64
		balances  map[ledger.AccountKey]*uint256.Int
		positions []positionRow
		debts     []debtRow
	)
	err := pw.reader.Read(func(v core.View) error {
		seq = v.Sequence
		balances = v.Balances.Snapshot()
		for _, pos := range v.Engine.Book().GetAllPositions() {
			for asset, amount := range pos.Collateral {
				positions = append(positions, positionRow{pos.Account.String(), string(asset), amount.Dec()})
			}
			debts = append(debts, debtRow{pos.Account.String(), pos.DebtMinted.Dec()})
		}
		return nil
	})
	if err != nil {
		return err
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM projections.token_balances`,
		`DELETE FROM projections.positions`,
		`DELETE FROM projections.debts`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("resync clear: %w", err)
		}
	}
	for key, balance := range balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.token_balances (account, asset_id, balance, last_seq)
			VALUES ($1, $2, $3::numeric, $4)
		`, key.Owner.String(), string(key.AssetID), balance.Dec(), seq); err != nil {
			return fmt.Errorf("resync balance %s: %w", key.AccountPath(), err)
		}
	}
	for _, p := range positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions (account, asset_id, collateral, last_seq)
			VALUES ($1, $2, $3::numeric, $4)
		`, p.account, p.asset, p.collateral, seq); err != nil {
			return fmt.Errorf("resync position %s: %w", p.account, err)
		}
	}
	for _, d := range debts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.debts (account, debt, last_seq)
			VALUES ($1, $2::numeric, $3)
		`, d.account, d.debt, seq); err != nil {
			return fmt.Errorf("resync debt %s: %w", d.account, err)
		}
	}
	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	pw.lastSeq = seq
	pw.log.Info().Int64("sequence", seq).Int("balances", len(balances)).Msg("projections resynced")
	return nil
}

type positionRow struct {
	account, asset, collateral string
}

type debtRow struct {
	account, debt string
}

// RebuildBalances recomputes token_balances from the journal alone. Debits
// add and credits subtract; the external side is skipped.
func RebuildBalances(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM projections.token_balances`); err != nil {
		return fmt.Errorf("clear balances: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.token_balances (account, asset_id, balance, last_seq)
		SELECT left(account_path, length(account_path) - length(asset_id) - 1), asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence
			FROM ledger.journal_entries WHERE debit_account NOT LIKE 'external:%'
			UNION ALL
			SELECT credit_account, asset_id, -amount, sequence
			FROM ledger.journal_entries WHERE credit_account NOT LIKE 'external:%'
		) legs
		GROUP BY account_path, asset_id
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}
	return tx.Commit()
}
