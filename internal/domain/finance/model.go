package finance

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/pkg/money"
)

const DayLayout = "2006-01-02"

// Day is a calendar date rendered as YYYY-MM-DD.
type Day time.Time

func (d Day) Time() time.Time { return time.Time(d) }

func (d Day) String() string { return time.Time(d).Format(DayLayout) }

func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Day) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*d = Day{}
		return nil
	}
	t, err := time.Parse(`"`+DayLayout+`"`, s)
	if err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	*d = Day(t)
	return nil
}

var (
	IncomeMethods  = []string{"cash", "card", "bank", "insurance", "other"}
	ExpenseMethods = []string{"cash", "check", "bank", "card", "other"}
)

type Income struct {
	ID            uuid.UUID   `json:"id"`
	Reason        *string     `json:"reason"`
	HandledBy     *uuid.UUID  `json:"handled_by"`
	HandledByName string      `json:"handled_by_name,omitempty"`
	ReceivedFrom  string      `json:"received_from"`
	PaymentMethod string      `json:"payment_method"`
	Amount        money.Cents `json:"amount"`
	Description   string      `json:"description"`
	Date          Day         `json:"date"`
	CreatedAt     time.Time   `json:"created_at"`
}

type Expense struct {
	ID            uuid.UUID   `json:"id"`
	Reason        *string     `json:"reason"`
	HandledBy     *uuid.UUID  `json:"handled_by"`
	HandledByName string      `json:"handled_by_name,omitempty"`
	PaidTo        string      `json:"paid_to"`
	PaymentMethod string      `json:"payment_method"`
	Amount        money.Cents `json:"amount"`
	Description   string      `json:"description"`
	ReceiptNumber *string     `json:"receipt_number"`
	Date          Day         `json:"date"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ListFilter narrows income and expense listings. From and To are
// inclusive calendar days.
type ListFilter struct {
	From, To *time.Time
	Limit    int
	Offset   int
}

type Totals struct {
	TotalIncome   money.Cents `json:"total_income"`
	TotalExpenses money.Cents `json:"total_expenses"`
	NetBalance    money.Cents `json:"net_balance"`
}

func newTotals(income, expenses money.Cents) Totals {
	return Totals{TotalIncome: income, TotalExpenses: expenses, NetBalance: income - expenses}
}

// Bucket is one reporting period. End is the last day inside the period.
type Bucket struct {
	Start Day `json:"start_date"`
	End   Day `json:"end_date"`
	Totals
}

type Summary struct {
	Period      string   `json:"period"`
	StartDate   Day      `json:"start_date"`
	EndDate     Day      `json:"end_date"`
	Buckets     []Bucket `json:"buckets"`
	GrandTotals Totals   `json:"grand_totals"`
}

type CreateIncomeRequest struct {
	Reason        *string     `json:"reason"`
	ReceivedFrom  string      `json:"received_from"`
	PaymentMethod string      `json:"payment_method"`
	Amount        money.Cents `json:"amount"`
	Description   string      `json:"description"`
	Date          *Day        `json:"date"`
}

type CreateExpenseRequest struct {
	Reason        *string     `json:"reason"`
	PaidTo        string      `json:"paid_to"`
	PaymentMethod string      `json:"payment_method"`
	Amount        money.Cents `json:"amount"`
	Description   string      `json:"description"`
	ReceiptNumber *string     `json:"receipt_number"`
	Date          *Day        `json:"date"`
}
