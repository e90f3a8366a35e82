// Package ledger implements the settlement collaborators over the service
// database: native account balances and per-token fungible balances. The
// trigger engine only sees the transfer methods; deposits and mints exist
// for local operation and tests.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Balances live in sqlite INTEGER columns, so amounts past the signed
// 64-bit range would flip sign on insert.
func checkStorable(amount uint64) error {
	if amount > math.MaxInt64 {
		return fmt.Errorf("amount %d exceeds the maximum storable balance", amount)
	}
	return nil
}

type Ledger struct {
	DB *sql.DB
}

func New(db *sql.DB) Ledger {
	return Ledger{DB: db}
}

// TransferNative moves native balance from one account to another. The whole
// transfer is one transaction: either both sides move or neither does.
func (l Ledger) TransferNative(ctx context.Context, from, to string, amount uint64) error {
	if err := checkStorable(amount); err != nil {
		return err
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := debitNative(ctx, tx, from, amount); err != nil {
		return err
	}
	if err := creditNative(ctx, tx, to, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// TransferFrom moves token balance directly between two accounts.
func (l Ledger) TransferFrom(ctx context.Context, tokenAddress, from, to string, amount uint64) error {
	if err := checkStorable(amount); err != nil {
		return err
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE token_balances SET balance=balance-? WHERE token_address=? AND account_id=? AND balance>=?`,
		int64(amount), tokenAddress, from, int64(amount))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: account %s holds less than %d of %s", ErrInsufficientFunds, from, amount, tokenAddress)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO token_balances(token_address, account_id, balance) VALUES (?,?,?)
ON CONFLICT(token_address, account_id) DO UPDATE SET balance=balance+excluded.balance`, tokenAddress, to, int64(amount))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Deposit credits native balance to an account.
func (l Ledger) Deposit(ctx context.Context, account string, amount uint64) error {
	if err := checkStorable(amount); err != nil {
		return err
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := creditNative(ctx, tx, account, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// Mint credits token balance to an account.
func (l Ledger) Mint(ctx context.Context, tokenAddress, account string, amount uint64) error {
	if err := checkStorable(amount); err != nil {
		return err
	}
	_, err := l.DB.ExecContext(ctx, `INSERT INTO token_balances(token_address, account_id, balance) VALUES (?,?,?)
ON CONFLICT(token_address, account_id) DO UPDATE SET balance=balance+excluded.balance`, tokenAddress, account, int64(amount))
	return err
}

// Balance returns the native balance of an account, zero if unknown.
func (l Ledger) Balance(ctx context.Context, account string) (uint64, error) {
	row := l.DB.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE account_id=?`, account)
	var balance int64
	err := row.Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(balance), nil
}

// TokenBalance returns the token balance of an account, zero if unknown.
func (l Ledger) TokenBalance(ctx context.Context, tokenAddress, account string) (uint64, error) {
	row := l.DB.QueryRowContext(ctx, `SELECT balance FROM token_balances WHERE token_address=? AND account_id=?`, tokenAddress, account)
	var balance int64
	err := row.Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(balance), nil
}

// TokenBalances returns every token balance held by an account.
func (l Ledger) TokenBalances(ctx context.Context, account string) (map[string]uint64, error) {
	rows, err := l.DB.QueryContext(ctx, `SELECT token_address, balance FROM token_balances WHERE account_id=? AND balance>0`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]uint64{}
	for rows.Next() {
		var token string
		var balance int64
		if err := rows.Scan(&token, &balance); err != nil {
			return nil, err
		}
		res[token] = uint64(balance)
	}
	return res, rows.Err()
}

func debitNative(ctx context.Context, tx *sql.Tx, account string, amount uint64) error {
	res, err := tx.ExecContext(ctx, `UPDATE accounts SET balance=balance-? WHERE account_id=? AND balance>=?`,
		int64(amount), account, int64(amount))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: account %s holds less than %d", ErrInsufficientFunds, account, amount)
	}
	return nil
}

func creditNative(ctx context.Context, tx *sql.Tx, account string, amount uint64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO accounts(account_id, balance) VALUES (?,?)
ON CONFLICT(account_id) DO UPDATE SET balance=balance+excluded.balance`, account, int64(amount))
	return err
}
