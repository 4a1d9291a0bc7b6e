package domain

import (
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNormalizeBranch(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{" Tacuari ", "tacuari", true},
		{"centro-2", "centro-2", true},
		{"sucursal_norte", "sucursal_norte", true},
		{"", "", false},
		{"-centro", "", false},
		{"san martin", "", false},
		{"centro/1", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeBranch(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalizeBranch(%q) = %q, %v; want %q, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestActorBranchAccess(t *testing.T) {
	admin := Actor{Username: "admin", Role: RoleAdmin}
	operator := Actor{Username: "centro", Role: RoleOperator, Branch: "centro"}
	stray := Actor{Username: "x", Role: RoleOperator}

	if !admin.CanAccessBranch("tacuari") {
		t.Fatalf("admin must reach every branch")
	}
	if !operator.CanAccessBranch("centro") || operator.CanAccessBranch("tacuari") {
		t.Fatalf("operator must reach only its own branch")
	}
	if stray.CanAccessBranch("") {
		t.Fatalf("operator without branch must not reach anything")
	}
}

func TestTrayApplyAndDerivedAmounts(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tray := NewCashTray("centro", at)
	rec := DailyRecord{CashSales: d("100"), AltSales: d("50"), TotalExpenses: d("20")}

	if clamped := tray.Apply(rec.Delta(), 1, at); len(clamped) != 0 {
		t.Fatalf("unexpected clamp %v", clamped)
	}
	if !tray.AvailableCash().Equal(d("80")) || !tray.Total().Equal(d("130")) {
		t.Fatalf("expected available 80 and total 130, got %s and %s", tray.AvailableCash(), tray.Total())
	}

	tray.Apply(rec.Delta(), -1, at)
	if !tray.IsEmpty() {
		t.Fatalf("expected reversed tray to be empty, got %+v", tray.Balances())
	}
}

func TestTrayApplyClampsAtZero(t *testing.T) {
	at := time.Now().UTC()
	tray := NewCashTray("centro", at)
	tray.Cash = d("10")

	clamped := tray.Apply(TrayDelta{Cash: d("25"), CashExpense: d("5")}, -1, at)
	if !slices.Equal(clamped, []string{"cash", "cash_expense"}) {
		t.Fatalf("unexpected clamped fields %v", clamped)
	}
	if !tray.Cash.IsZero() || !tray.CashExpense.IsZero() {
		t.Fatalf("expected balances floored at zero, got %+v", tray.Balances())
	}
}

func TestAvailableCashMayBeNegative(t *testing.T) {
	tray := CashTray{Cash: d("10"), CashExpense: d("30"), Debit: d("5")}
	if !tray.AvailableCash().Equal(d("-20")) {
		t.Fatalf("expected -20, got %s", tray.AvailableCash())
	}
	if !tray.Total().Equal(d("-15")) {
		t.Fatalf("expected -15, got %s", tray.Total())
	}
}

func TestSumRecordsSkipsWithdrawn(t *testing.T) {
	records := []DailyRecord{
		{CashSales: d("100"), DebitSales: d("7.5")},
		{CashSales: d("40"), IsWithdrawn: true},
		{CreditSales: d("12.25"), TotalExpenses: d("3")},
	}
	sum := SumRecords(records)
	want := TrayDelta{Cash: d("100"), Debit: d("7.5"), Credit: d("12.25"), CashExpense: d("3")}
	tray := CashTray{}
	tray.Overwrite(sum, time.Now())
	if fields := tray.Diverging(want); len(fields) != 0 {
		t.Fatalf("sum diverges on %v: %+v", fields, sum)
	}
}

func TestSummarize(t *testing.T) {
	early := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)
	trays := []CashTray{
		{Branch: "centro", Cash: d("100"), CashExpense: d("20"), Alt: d("50"), LastUpdated: early},
		{Branch: "tacuari", Cash: d("30"), Credit: d("10"), LastUpdated: late},
	}

	summary := Summarize(trays, late)
	if summary.BranchesCount != 2 || len(summary.Trays) != 2 {
		t.Fatalf("unexpected branch count %+v", summary)
	}
	if !summary.Totals.AvailableCash.Equal(d("110")) || !summary.Totals.Total.Equal(d("170")) {
		t.Fatalf("unexpected totals %+v", summary.Totals)
	}
	if summary.LastUpdated == nil || !summary.LastUpdated.Equal(late) {
		t.Fatalf("expected last updated %s, got %v", late, summary.LastUpdated)
	}
}

func TestSummarizeMonth(t *testing.T) {
	empty := SummarizeMonth("centro", 2026, 3, nil)
	if empty.IsComplete || len(empty.MissingCategories) != 5 {
		t.Fatalf("empty month must be pending with every category missing, got %+v", empty)
	}

	guard := SummarizeMonth("tacuari", 2026, 3, nil)
	if !slices.Contains(guard.RequiredCategories, CategoryGuard) {
		t.Fatalf("tacuari must require %s", CategoryGuard)
	}

	var items []BranchExpense
	for _, category := range RequiredCategories("centro") {
		items = append(items, BranchExpense{Category: category, Description: FixedDescription, Amount: d("10"), IsPaid: true})
	}
	complete := SummarizeMonth("centro", 2026, 3, items)
	if !complete.IsComplete || !complete.PaidAmount.Equal(d("50")) {
		t.Fatalf("expected complete month, got %+v", complete)
	}

	items = append(items, BranchExpense{Category: CategoryOther, Description: "bolsas", Amount: d("4")})
	pending := SummarizeMonth("centro", 2026, 3, items)
	if pending.IsComplete {
		t.Fatalf("an unpaid item keeps the month pending")
	}
	if !pending.TotalAmount.Equal(d("54")) {
		t.Fatalf("expected total 54, got %s", pending.TotalAmount)
	}
}

func TestOperatorMayEdit(t *testing.T) {
	if OperatorMayEdit("centro", CategoryRent) || OperatorMayEdit("centro", CategorySalary) {
		t.Fatalf("rent and salary are admin only")
	}
	if !OperatorMayEdit("centro", CategoryPower) || !OperatorMayEdit("centro", CategoryOther) {
		t.Fatalf("utilities and other are operator editable")
	}
	if OperatorMayEdit("centro", CategoryGuard) || !OperatorMayEdit("tacuari", CategoryGuard) {
		t.Fatalf("guard is editable only on tacuari")
	}
}

func TestRecordVerifyLifecycle(t *testing.T) {
	rec := DailyRecord{CashSales: d("1"), AltSales: d("2"), DebitSales: d("3"), CreditSales: d("4")}
	rec.CalculateTotal()
	if !rec.TotalSales.Equal(d("10")) {
		t.Fatalf("expected total 10, got %s", rec.TotalSales)
	}

	at := time.Now().UTC()
	rec.Verify("admin", at)
	if !rec.IsVerified || rec.VerifiedBy != "admin" || rec.VerifiedAt == nil {
		t.Fatalf("unexpected verified state %+v", rec)
	}
	rec.Unverify()
	if rec.IsVerified || rec.VerifiedBy != "" || rec.VerifiedAt != nil {
		t.Fatalf("unexpected unverified state %+v", rec)
	}

	rec.MarkWithdrawn("centro", at)
	if !rec.IsWithdrawn || rec.WithdrawnBy != "centro" {
		t.Fatalf("unexpected withdrawn state %+v", rec)
	}
}
