package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Branch      string `json:"branch,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type OperatorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Branch   string `json:"branch"`
}

type OperatorUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Branch    string    `json:"branch"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type DailyRecordCreateRequest struct {
	Branch        string          `json:"branch"`
	Date          string          `json:"date"`
	CashSales     decimal.Decimal `json:"cash_sales"`
	AltSales      decimal.Decimal `json:"alt_sales"`
	DebitSales    decimal.Decimal `json:"debit_sales"`
	CreditSales   decimal.Decimal `json:"credit_sales"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	Notes         string          `json:"notes"`
}

type DailyRecordUpdateRequest struct {
	Date          *string          `json:"date,omitempty"`
	CashSales     *decimal.Decimal `json:"cash_sales,omitempty"`
	AltSales      *decimal.Decimal `json:"alt_sales,omitempty"`
	DebitSales    *decimal.Decimal `json:"debit_sales,omitempty"`
	CreditSales   *decimal.Decimal `json:"credit_sales,omitempty"`
	TotalExpenses *decimal.Decimal `json:"total_expenses,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
}

type DailyRecordMutation struct {
	Record DailyRecord `json:"record"`
	Tray   TrayStatus  `json:"tray"`
}

type ExpenseSaveRequest struct {
	Branch      string          `json:"branch"`
	Year        int             `json:"year"`
	Month       int             `json:"month"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type ExpensePaymentResponse struct {
	Expense BranchExpense `json:"expense"`
	Tray    *TrayStatus   `json:"tray,omitempty"`
}

type WithdrawRecordResult struct {
	RecordID         string          `json:"record_id"`
	Branch           string          `json:"branch"`
	AlreadyWithdrawn bool            `json:"already_withdrawn"`
	AmountRemoved    decimal.Decimal `json:"amount_removed"`
	Tray             TrayStatus      `json:"tray"`
}

type BranchWithdrawal struct {
	Branch           string          `json:"branch"`
	RecordsWithdrawn int             `json:"records_withdrawn"`
	AmountRemoved    decimal.Decimal `json:"amount_removed"`
	AlreadyEmpty     bool            `json:"already_empty"`
	Tray             TrayStatus      `json:"tray"`
}

type WithdrawAllRequest struct {
	ManagerPIN string `json:"manager_pin"`
}

type RecomputeRequest struct {
	Branch string `json:"branch"`
}

type BranchOutcome struct {
	Branch  string          `json:"branch"`
	OK      bool            `json:"ok"`
	Records int             `json:"records"`
	Amount  decimal.Decimal `json:"amount"`
	Error   string          `json:"error,omitempty"`
}

// BulkResult is the per-branch tally returned by operations that touch every
// branch independently.
type BulkResult struct {
	Operation   string          `json:"operation"`
	Branches    []BranchOutcome `json:"branches"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type ConsistencyReport struct {
	CheckedBranches int               `json:"checked_branches"`
	Divergent       []TrayDivergence  `json:"divergent"`
	Errors          map[string]string `json:"errors,omitempty"`
	CheckedAt       time.Time         `json:"checked_at"`
}

type TrayDivergence struct {
	Branch   string    `json:"branch"`
	Stored   TrayDelta `json:"stored"`
	Expected TrayDelta `json:"expected"`
	Fields   []string  `json:"fields"`
}
