package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrayDelta carries one amount per tray balance.
type TrayDelta struct {
	Cash        decimal.Decimal `json:"cash"`
	Alt         decimal.Decimal `json:"alt"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	CashExpense decimal.Decimal `json:"cash_expense"`
}

func (d TrayDelta) Add(other TrayDelta) TrayDelta {
	return TrayDelta{
		Cash:        d.Cash.Add(other.Cash),
		Alt:         d.Alt.Add(other.Alt),
		Debit:       d.Debit.Add(other.Debit),
		Credit:      d.Credit.Add(other.Credit),
		CashExpense: d.CashExpense.Add(other.CashExpense),
	}
}

func (d TrayDelta) IsZero() bool {
	return d.Cash.IsZero() && d.Alt.IsZero() && d.Debit.IsZero() && d.Credit.IsZero() && d.CashExpense.IsZero()
}

// SumRecords adds up the tray contribution of every record that has not been
// withdrawn.
func SumRecords(records []DailyRecord) TrayDelta {
	var sum TrayDelta
	for _, rec := range records {
		if rec.IsWithdrawn {
			continue
		}
		sum = sum.Add(rec.Delta())
	}
	return sum
}

// CashTray is the running, per-branch balance of money not yet collected.
type CashTray struct {
	Branch      string          `json:"branch"`
	Cash        decimal.Decimal `json:"cash"`
	Alt         decimal.Decimal `json:"alt"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	CashExpense decimal.Decimal `json:"cash_expense"`
	LastUpdated time.Time       `json:"last_updated"`
	CreatedAt   time.Time       `json:"created_at"`
}

func NewCashTray(branch string, at time.Time) CashTray {
	return CashTray{Branch: branch, LastUpdated: at, CreatedAt: at}
}

// Apply adds sign*delta to every balance. Balances never go below zero; the
// names of the balances that had to be clamped are returned.
func (t *CashTray) Apply(delta TrayDelta, sign int, at time.Time) []string {
	factor := decimal.NewFromInt(int64(sign))
	var clamped []string
	apply := func(name string, balance *decimal.Decimal, amount decimal.Decimal) {
		next := balance.Add(amount.Mul(factor))
		if next.IsNegative() {
			clamped = append(clamped, name)
			next = decimal.Zero
		}
		*balance = next
	}
	apply("cash", &t.Cash, delta.Cash)
	apply("alt", &t.Alt, delta.Alt)
	apply("debit", &t.Debit, delta.Debit)
	apply("credit", &t.Credit, delta.Credit)
	apply("cash_expense", &t.CashExpense, delta.CashExpense)
	t.LastUpdated = at
	return clamped
}

// Overwrite replaces every balance with the given sums.
func (t *CashTray) Overwrite(sum TrayDelta, at time.Time) {
	t.Cash = sum.Cash
	t.Alt = sum.Alt
	t.Debit = sum.Debit
	t.Credit = sum.Credit
	t.CashExpense = sum.CashExpense
	t.LastUpdated = at
}

func (t *CashTray) Empty(at time.Time) {
	t.Overwrite(TrayDelta{}, at)
}

func (t CashTray) Balances() TrayDelta {
	return TrayDelta{
		Cash:        t.Cash,
		Alt:         t.Alt,
		Debit:       t.Debit,
		Credit:      t.Credit,
		CashExpense: t.CashExpense,
	}
}

// AvailableCash may be negative; that is an operational signal, not an error.
func (t CashTray) AvailableCash() decimal.Decimal {
	return t.Cash.Sub(t.CashExpense)
}

func (t CashTray) Total() decimal.Decimal {
	return t.AvailableCash().Add(t.Alt).Add(t.Debit).Add(t.Credit)
}

func (t CashTray) IsEmpty() bool {
	return t.Balances().IsZero()
}

// Diverging lists the balances that differ from expected.
func (t CashTray) Diverging(expected TrayDelta) []string {
	var fields []string
	if !t.Cash.Equal(expected.Cash) {
		fields = append(fields, "cash")
	}
	if !t.Alt.Equal(expected.Alt) {
		fields = append(fields, "alt")
	}
	if !t.Debit.Equal(expected.Debit) {
		fields = append(fields, "debit")
	}
	if !t.Credit.Equal(expected.Credit) {
		fields = append(fields, "credit")
	}
	if !t.CashExpense.Equal(expected.CashExpense) {
		fields = append(fields, "cash_expense")
	}
	return fields
}

type TrayStatus struct {
	Branch        string          `json:"branch"`
	Cash          decimal.Decimal `json:"cash"`
	Alt           decimal.Decimal `json:"alt"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	CashExpense   decimal.Decimal `json:"cash_expense"`
	AvailableCash decimal.Decimal `json:"available_cash"`
	Total         decimal.Decimal `json:"total"`
	IsEmpty       bool            `json:"is_empty"`
	LastUpdated   time.Time       `json:"last_updated"`
}

func (t CashTray) Status() TrayStatus {
	return TrayStatus{
		Branch:        t.Branch,
		Cash:          t.Cash,
		Alt:           t.Alt,
		Debit:         t.Debit,
		Credit:        t.Credit,
		CashExpense:   t.CashExpense,
		AvailableCash: t.AvailableCash(),
		Total:         t.Total(),
		IsEmpty:       t.IsEmpty(),
		LastUpdated:   t.LastUpdated,
	}
}

type TrayTotals struct {
	Cash          decimal.Decimal `json:"cash"`
	CashExpense   decimal.Decimal `json:"cash_expense"`
	AvailableCash decimal.Decimal `json:"available_cash"`
	Alt           decimal.Decimal `json:"alt"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Total         decimal.Decimal `json:"total"`
}

type TraySummary struct {
	Trays         []TrayStatus `json:"trays"`
	Totals        TrayTotals   `json:"totals"`
	BranchesCount int          `json:"branches_count"`
	LastUpdated   *time.Time   `json:"last_updated,omitempty"`
	GeneratedAt   time.Time    `json:"generated_at"`
}

// Summarize aggregates trays across branches.
func Summarize(trays []CashTray, at time.Time) TraySummary {
	summary := TraySummary{
		Trays:         make([]TrayStatus, 0, len(trays)),
		BranchesCount: len(trays),
		GeneratedAt:   at,
	}
	for _, tray := range trays {
		summary.Trays = append(summary.Trays, tray.Status())
		summary.Totals.Cash = summary.Totals.Cash.Add(tray.Cash)
		summary.Totals.CashExpense = summary.Totals.CashExpense.Add(tray.CashExpense)
		summary.Totals.AvailableCash = summary.Totals.AvailableCash.Add(tray.AvailableCash())
		summary.Totals.Alt = summary.Totals.Alt.Add(tray.Alt)
		summary.Totals.Debit = summary.Totals.Debit.Add(tray.Debit)
		summary.Totals.Credit = summary.Totals.Credit.Add(tray.Credit)
		summary.Totals.Total = summary.Totals.Total.Add(tray.Total())
		if summary.LastUpdated == nil || tray.LastUpdated.After(*summary.LastUpdated) {
			last := tray.LastUpdated
			summary.LastUpdated = &last
		}
	}
	return summary
}
