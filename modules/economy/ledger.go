package economy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/bluebot/privilege"
)

var (
	// ErrAmount is the error for amounts which are not positive.
	ErrAmount = errors.New("amount must be positive")
	// ErrInsufficient is the error for transfers exceeding the sender's balance.
	ErrInsufficient = errors.New("insufficient balance")
	// ErrSelf is the error for transfers from a user to the same user.
	ErrSelf = errors.New("can't transfer to self")
)

// Ledger is a record of user balances backed by an SQL database.
// User names are compared case-insensitively.
type Ledger struct {
	db *sqlitex.Pool
}

// Init creates the ledger schema in an SQL database if it does not already
// exist. For convenience, it accepts either a single connection or a pool.
func Init[DB *sqlite.Conn | *sqlitex.Pool](ctx context.Context, db DB) error {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get connection from pool: %w", err)
		}
	}
	err := sqlitex.ExecuteScript(conn, schema, nil)
	if err != nil {
		return fmt.Errorf("couldn't create ledger schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS balance (
	user TEXT PRIMARY KEY,
	balance INTEGER NOT NULL CHECK (balance >= 0)
) STRICT, WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS timers (
	timer TEXT PRIMARY KEY,
	at INTEGER NOT NULL
) STRICT, WITHOUT ROWID;
`

// Open opens an existing ledger in an SQL database.
func Open(ctx context.Context, db *sqlitex.Pool) (*Ledger, error) {
	return &Ledger{db: db}, nil
}

// Balance returns a user's balance. Users with no record have a balance of 0.
func (l *Ledger) Balance(ctx context.Context, user string) (int64, error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return 0, fmt.Errorf("couldn't get connection to read balance: %w", err)
	}
	return balance(conn, privilege.Normalize(user))
}

func balance(conn *sqlite.Conn, user string) (int64, error) {
	var bal int64
	opts := sqlitex.ExecOptions{
		Args: []any{user},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			bal = stmt.ColumnInt64(0)
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT balance FROM balance WHERE user = ?`, &opts); err != nil {
		return 0, fmt.Errorf("couldn't read balance: %w", err)
	}
	return bal, nil
}

const deposit = `INSERT INTO balance (user, balance) VALUES (?1, ?2)
	ON CONFLICT (user) DO UPDATE SET balance = balance + excluded.balance`

// Transfer moves amount from one user's balance to another's. The transfer
// is atomic. It fails with ErrInsufficient if the sender's balance is less
// than amount, in which case neither balance changes.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount int64) (err error) {
	if amount < 1 {
		return ErrAmount
	}
	from, to = privilege.Normalize(from), privilege.Normalize(to)
	if from == to {
		return ErrSelf
	}
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to transfer: %w", err)
	}
	defer sqlitex.Save(conn)(&err)
	bal, err := balance(conn, from)
	if err != nil {
		return err
	}
	if bal < amount {
		return ErrInsufficient
	}
	opts := sqlitex.ExecOptions{Args: []any{amount, from}}
	if err := sqlitex.Execute(conn, `UPDATE balance SET balance = balance - ? WHERE user = ?`, &opts); err != nil {
		return fmt.Errorf("couldn't withdraw: %w", err)
	}
	opts = sqlitex.ExecOptions{Args: []any{to, amount}}
	if err := sqlitex.Execute(conn, deposit, &opts); err != nil {
		return fmt.Errorf("couldn't deposit: %w", err)
	}
	return nil
}

// Deposit adds amount to a user's balance.
func (l *Ledger) Deposit(ctx context.Context, user string, amount int64) error {
	_, err := l.DepositAll(ctx, []string{user}, amount)
	return err
}

// DepositAll adds amount to the balance of each distinct user.
// It returns the number of distinct users paid.
func (l *Ledger) DepositAll(ctx context.Context, users []string, amount int64) (n int, err error) {
	if amount < 1 {
		return 0, ErrAmount
	}
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return 0, fmt.Errorf("couldn't get connection to deposit: %w", err)
	}
	defer sqlitex.Save(conn)(&err)
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		u = privilege.Normalize(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		opts := sqlitex.ExecOptions{Args: []any{u, amount}}
		if err := sqlitex.Execute(conn, deposit, &opts); err != nil {
			return 0, fmt.Errorf("couldn't deposit to %s: %w", u, err)
		}
	}
	return len(seen), nil
}

// Timer returns the stored time of a named timer.
// The boolean is false if the timer has never been stored.
func (l *Ledger) Timer(ctx context.Context, name string) (time.Time, bool, error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("couldn't get connection to read timer: %w", err)
	}
	var at time.Time
	var ok bool
	opts := sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			at = time.UnixMilli(stmt.ColumnInt64(0))
			ok = true
			return nil
		},
	}
	if err := sqlitex.Execute(conn, `SELECT at FROM timers WHERE timer = ?`, &opts); err != nil {
		return time.Time{}, false, fmt.Errorf("couldn't read timer %s: %w", name, err)
	}
	return at, ok, nil
}

// SetTimer stores the time of a named timer.
func (l *Ledger) SetTimer(ctx context.Context, name string, at time.Time) error {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get connection to store timer: %w", err)
	}
	opts := sqlitex.ExecOptions{Args: []any{name, at.UnixMilli()}}
	err = sqlitex.Execute(conn, `INSERT INTO timers (timer, at) VALUES (?1, ?2) ON CONFLICT (timer) DO UPDATE SET at = excluded.at`, &opts)
	if err != nil {
		return fmt.Errorf("couldn't store timer %s: %w", name, err)
	}
	return nil
}
