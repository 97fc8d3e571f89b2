package finance

import (
	"context"
	"time"

	"github.com/hms/hms/pkg/money"
)

type Repository interface {
	CreateIncome(ctx context.Context, in *Income) error
	// ListIncomes returns a page of incomes, the number of matching rows and
	// the sum of their amounts.
	ListIncomes(ctx context.Context, f ListFilter) ([]*Income, int, money.Cents, error)

	CreateExpense(ctx context.Context, ex *Expense) error
	ListExpenses(ctx context.Context, f ListFilter) ([]*Expense, int, money.Cents, error)

	// Sums totals incomes and expenses between from and to (inclusive days),
	// keyed by date_trunc(unit, date).
	Sums(ctx context.Context, unit string, from, to time.Time) (incomes, expenses map[time.Time]money.Cents, err error)
}
