package repo

import (
	"context"
	"database/sql"
)

func (r Repo) GetAdmin(ctx context.Context) (string, error) {
	return getAdmin(ctx, r.DB.QueryRowContext)
}

func (r Repo) GetAdminTx(ctx context.Context, tx *sql.Tx) (string, error) {
	return getAdmin(ctx, tx.QueryRowContext)
}

func getAdmin(ctx context.Context, queryRow func(context.Context, string, ...any) *sql.Row) (string, error) {
	row := queryRow(ctx, `SELECT account_id FROM admin_authority WHERE id=1`)
	var account string
	err := row.Scan(&account)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return account, err
}

// SeedAdminTx installs the deployer account as administrator if none is set.
func (r Repo) SeedAdminTx(ctx context.Context, tx *sql.Tx, accountID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO admin_authority(id, account_id, updated_at) VALUES (1,?,?)`, accountID, now)
	return err
}

// SwapAdminTx replaces the administrator only if the current value still
// matches, compare-and-swap style.
func (r Repo) SwapAdminTx(ctx context.Context, tx *sql.Tx, current, next, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE admin_authority SET account_id=?, updated_at=? WHERE id=1 AND account_id=?`, next, now, current)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
