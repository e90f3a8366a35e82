package repo

import (
	"context"
	"database/sql"
)

func (r Repo) WhitelistContains(ctx context.Context, tokenAddress string) (bool, error) {
	return whitelistContains(ctx, r.DB.QueryRowContext, tokenAddress)
}

func (r Repo) WhitelistContainsTx(ctx context.Context, tx *sql.Tx, tokenAddress string) (bool, error) {
	return whitelistContains(ctx, tx.QueryRowContext, tokenAddress)
}

func whitelistContains(ctx context.Context, queryRow func(context.Context, string, ...any) *sql.Row, tokenAddress string) (bool, error) {
	row := queryRow(ctx, `SELECT 1 FROM token_whitelist WHERE token_address=? LIMIT 1`, tokenAddress)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) AddWhitelistTx(ctx context.Context, tx *sql.Tx, tokenAddress, addedAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO token_whitelist(token_address, added_at) VALUES (?,?)`, tokenAddress, addedAt)
	return err
}

func (r Repo) RemoveWhitelistTx(ctx context.Context, tx *sql.Tx, tokenAddress string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM token_whitelist WHERE token_address=?`, tokenAddress)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListWhitelist(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT token_address FROM token_whitelist ORDER BY added_at, token_address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
