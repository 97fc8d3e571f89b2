package finance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/pkg/apperr"
	"github.com/hms/hms/pkg/money"
)

// Summary periods.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodYearly  = "yearly"
)

var periodUnits = map[string]string{
	PeriodDaily:   "day",
	PeriodWeekly:  "week",
	PeriodMonthly: "month",
	PeriodYearly:  "year",
}

// MaxBuckets bounds the number of periods one summary may span.
const MaxBuckets = 366

type Tracker interface {
	Track(ctx context.Context, userID uuid.UUID, action, details string)
}

type Service struct {
	repo    Repository
	tracker Tracker
	now     func() time.Time
}

func NewService(repo Repository, tracker Tracker) *Service {
	return &Service{repo: repo, tracker: tracker, now: time.Now}
}

func (s *Service) today() time.Time {
	n := s.now()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func (s *Service) dayOrToday(d *Day) Day {
	if d == nil || d.Time().IsZero() {
		return Day(s.today())
	}
	return *d
}

// -- Incomes --

func (s *Service) CreateIncome(ctx context.Context, actorID uuid.UUID, req CreateIncomeRequest) (*Income, error) {
	in := &Income{
		Reason:        req.Reason,
		HandledBy:     &actorID,
		ReceivedFrom:  strings.TrimSpace(req.ReceivedFrom),
		PaymentMethod: strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
		Amount:        req.Amount,
		Description:   req.Description,
		Date:          s.dayOrToday(req.Date),
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = "cash"
	}
	fields := map[string]string{}
	if in.ReceivedFrom == "" {
		fields["received_from"] = "This field is required."
	}
	if !oneOf(in.PaymentMethod, IncomeMethods) {
		fields["payment_method"] = "Must be one of " + strings.Join(IncomeMethods, ", ") + "."
	}
	if in.Amount < 1 {
		fields["amount"] = "Ensure this value is greater than or equal to 0.01."
	}
	if len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}
	if err := s.repo.CreateIncome(ctx, in); err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "create_income",
		fmt.Sprintf("Recorded income from %s, amount: %s", in.ReceivedFrom, in.Amount))
	return in, nil
}

// RecordSale stores the income produced by a pharmacy sale. It joins the
// caller's transaction.
func (s *Service) RecordSale(ctx context.Context, pharmacistID uuid.UUID, saleID, patient string, amount money.Cents) (*Income, error) {
	if amount < 1 {
		return nil, apperr.Validation("sale total must be positive")
	}
	reason := "Pharmacy sale " + saleID
	in := &Income{
		Reason:        &reason,
		HandledBy:     &pharmacistID,
		ReceivedFrom:  patient,
		PaymentMethod: "cash",
		Amount:        amount,
		Description:   "Medication dispensed under bulk sale " + saleID,
		Date:          Day(s.today()),
	}
	if err := s.repo.CreateIncome(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *Service) ListIncomes(ctx context.Context, f ListFilter) ([]*Income, int, money.Cents, error) {
	items, total, sum, err := s.repo.ListIncomes(ctx, f)
	if items == nil && err == nil {
		items = []*Income{}
	}
	return items, total, sum, err
}

// -- Expenses --

func (s *Service) CreateExpense(ctx context.Context, actorID uuid.UUID, req CreateExpenseRequest) (*Expense, error) {
	ex := &Expense{
		Reason:        req.Reason,
		HandledBy:     &actorID,
		PaidTo:        strings.TrimSpace(req.PaidTo),
		PaymentMethod: strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
		Amount:        req.Amount,
		Description:   req.Description,
		ReceiptNumber: req.ReceiptNumber,
		Date:          s.dayOrToday(req.Date),
	}
	if ex.PaymentMethod == "" {
		ex.PaymentMethod = "bank"
	}
	fields := map[string]string{}
	if ex.PaidTo == "" {
		fields["paid_to"] = "This field is required."
	}
	if !oneOf(ex.PaymentMethod, ExpenseMethods) {
		fields["payment_method"] = "Must be one of " + strings.Join(ExpenseMethods, ", ") + "."
	}
	if ex.Amount < 1 {
		fields["amount"] = "Ensure this value is greater than or equal to 0.01."
	}
	if len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}
	if err := s.repo.CreateExpense(ctx, ex); err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "create_expense",
		fmt.Sprintf("Recorded expense to %s, amount: %s", ex.PaidTo, ex.Amount))
	return ex, nil
}

func (s *Service) ListExpenses(ctx context.Context, f ListFilter) ([]*Expense, int, money.Cents, error) {
	items, total, sum, err := s.repo.ListExpenses(ctx, f)
	if items == nil && err == nil {
		items = []*Expense{}
	}
	return items, total, sum, err
}

// -- Summary --

// bucketStart returns the first day of the period containing d. Weeks start
// on Monday.
func bucketStart(period string, d time.Time) time.Time {
	switch period {
	case PeriodWeekly:
		return d.AddDate(0, 0, -((int(d.Weekday()) + 6) % 7))
	case PeriodMonthly:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodYearly:
		return time.Date(d.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return d
}

func nextBucket(period string, start time.Time) time.Time {
	switch period {
	case PeriodWeekly:
		return start.AddDate(0, 0, 7)
	case PeriodMonthly:
		return start.AddDate(0, 1, 0)
	case PeriodYearly:
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 0, 1)
}

// ParseDay parses an optional YYYY-MM-DD query value.
func ParseDay(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(DayLayout, v)
	if err != nil {
		return nil, apperr.ValidationFields(map[string]string{field: "Date must be in YYYY-MM-DD format."})
	}
	return &t, nil
}

// Summary totals incomes and expenses per period between start and end.
// The range is widened to whole periods. Without dates it covers the
// current period only; a missing end defaults to today.
func (s *Service) Summary(ctx context.Context, period string, start, end *time.Time) (*Summary, error) {
	if period == "" {
		period = PeriodMonthly
	}
	unit, ok := periodUnits[period]
	if !ok {
		return nil, apperr.Validation("period must be one of daily, weekly, monthly, yearly")
	}

	to := s.today()
	if end != nil {
		to = *end
	}
	from := to
	if start != nil {
		from = *start
	}
	if from.After(to) {
		return nil, apperr.Validation("start_date must not be after end_date")
	}

	first := bucketStart(period, from)
	var buckets []Bucket
	for b := first; !b.After(to); b = nextBucket(period, b) {
		if len(buckets) == MaxBuckets {
			return nil, apperr.Validation("date range spans more than %d %s periods", MaxBuckets, period)
		}
		buckets = append(buckets, Bucket{Start: Day(b), End: Day(nextBucket(period, b).AddDate(0, 0, -1))})
	}
	last := buckets[len(buckets)-1].End.Time()

	incomes, expenses, err := s.repo.Sums(ctx, unit, first, last)
	if err != nil {
		return nil, err
	}

	out := &Summary{Period: period, StartDate: Day(first), EndDate: Day(last), Buckets: buckets}
	var income, spent money.Cents
	for i := range out.Buckets {
		k := out.Buckets[i].Start.Time()
		out.Buckets[i].Totals = newTotals(incomes[k], expenses[k])
		income += incomes[k]
		spent += expenses[k]
	}
	out.GrandTotals = newTotals(income, spent)
	return out, nil
}
