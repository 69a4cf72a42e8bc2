package main

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"

	"zombiezen.com/go/sqlite"

	"github.com/zephyrtronium/bluebot/modules/economy"
)

func ancientOpen(file string) (*sqlite.Conn, error) {
	return sqlite.OpenConn(file, sqlite.OpenReadOnly, sqlite.OpenURI)
}

type ancientBalance struct {
	user    string
	balance int64
}

// ancientBalances yields the balances of an old economy database.
// Fractional balances round down.
func ancientBalances(conn *sqlite.Conn) iter.Seq2[ancientBalance, error] {
	return func(yield func(ancientBalance, error) bool) {
		st, _, err := conn.PrepareTransient(`SELECT user, IFNULL(balance, 0) FROM balance`)
		if err != nil {
			yield(ancientBalance{}, err)
			return
		}
		defer st.Finalize()
		for {
			ok, err := st.Step()
			if err != nil {
				yield(ancientBalance{}, err)
				return
			}
			if !ok {
				return
			}
			b := ancientBalance{
				user:    st.ColumnText(0),
				balance: int64(math.Floor(st.ColumnFloat(1))),
			}
			if b.user == "" || b.balance <= 0 {
				continue
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// ancientImport deposits every balance from an old economy database into
// the ledger. The result is the number of users credited.
func ancientImport(ctx context.Context, conn *sqlite.Conn, ledger *economy.Ledger) (int, error) {
	n := 0
	for b, err := range ancientBalances(conn) {
		if err != nil {
			return n, fmt.Errorf("couldn't read old balances: %w", err)
		}
		if err := ledger.Deposit(ctx, b.user, b.balance); err != nil {
			return n, fmt.Errorf("couldn't deposit for %s: %w", b.user, err)
		}
		slog.DebugContext(ctx, "imported", slog.String("user", b.user), slog.Int64("balance", b.balance))
		n++
	}
	return n, nil
}
