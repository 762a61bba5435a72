package query

import (
	"context"
	"database/sql"
	"errors"

	"StableLedger/internal/core"
	"StableLedger/internal/ledger"
)

// TokenBalances returns the account's wallet balance of every asset known to
// the token ledger, zero balances included.
func (qs *QueryService) TokenBalances(ctx context.Context, account ledger.Address) ([]TokenBalanceResponse, error) {
	var resp []TokenBalanceResponse
	err := qs.observe(ctx, "token_balances", func(ctx context.Context) error {
		return qs.live.Read(func(v core.View) error {
			for _, asset := range v.Balances.Assets() {
				resp = append(resp, TokenBalanceResponse{
					Account:      account.String(),
					Asset:        string(asset),
					Balance:      valueAmount(v.Balances.GetBalance(ledger.NewAccountKey(account, asset))),
					AsOfSequence: v.Sequence,
				})
			}
			return nil
		})
	})
	return resp, err
}

// ProjectedPosition reads the position read model. It trails live state by
// the projection lag and is meant for bulk consumers.
func (qs *QueryService) ProjectedPosition(ctx context.Context, account ledger.Address) (*ProjectedPosition, error) {
	var resp *ProjectedPosition
	err := qs.observe(ctx, "projected_position", func(ctx context.Context) error {
		if qs.db == nil {
			return ErrNoHistory
		}
		asOfSeq, err := qs.getWatermark(ctx)
		if err != nil {
			return err
		}

		rows, err := qs.db.QueryContext(ctx, `
			SELECT asset_id, collateral::text
			FROM projections.positions
			WHERE account = $1
			ORDER BY asset_id
		`, account.String())
		if err != nil {
			return err
		}
		defer rows.Close()

		pos := &ProjectedPosition{
			Account:      account.String(),
			Collateral:   make(map[string]string),
			Debt:         "0",
			AsOfSequence: asOfSeq,
		}
		found := false
		for rows.Next() {
			var asset, amount string
			if err := rows.Scan(&asset, &amount); err != nil {
				return err
			}
			pos.Collateral[asset] = amount
			found = true
		}
		if err := rows.Err(); err != nil {
			return err
		}

		err = qs.db.QueryRowContext(ctx,
			`SELECT debt::text FROM projections.debts WHERE account = $1`, account.String(),
		).Scan(&pos.Debt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if !found {
				return ErrNotFound
			}
		case err != nil:
			return err
		}

		resp = pos
		return nil
	})
	return resp, err
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection_name = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
