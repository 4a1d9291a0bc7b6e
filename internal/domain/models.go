package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

const DateLayout = "2006-01-02"

var branchKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// NormalizeBranch returns the canonical branch key for raw input. The second
// value is false when the input cannot be a branch key at all.
func NormalizeBranch(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if !branchKeyPattern.MatchString(key) {
		return "", false
	}
	return key, true
}

type Actor struct {
	Username string
	Role     string
	Branch   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccessBranch reports whether the actor may read or mutate the given
// branch: administrators always, operators only their own branch.
func (a Actor) CanAccessBranch(branch string) bool {
	if a.IsAdmin() {
		return true
	}
	return a.Role == RoleOperator && a.Branch != "" && a.Branch == branch
}

type DailyRecord struct {
	ID            string          `json:"id"`
	Branch        string          `json:"branch"`
	Date          time.Time       `json:"date"`
	CashSales     decimal.Decimal `json:"cash_sales"`
	AltSales      decimal.Decimal `json:"alt_sales"`
	DebitSales    decimal.Decimal `json:"debit_sales"`
	CreditSales   decimal.Decimal `json:"credit_sales"`
	TotalSales    decimal.Decimal `json:"total_sales"`
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	IsWithdrawn   bool            `json:"is_withdrawn"`
	WithdrawnBy   string          `json:"withdrawn_by,omitempty"`
	WithdrawnAt   *time.Time      `json:"withdrawn_at,omitempty"`
	IsVerified    bool            `json:"is_verified"`
	VerifiedBy    string          `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time      `json:"verified_at,omitempty"`
}

// CalculateTotal refreshes TotalSales from the four payment amounts.
func (r *DailyRecord) CalculateTotal() {
	r.TotalSales = r.CashSales.Add(r.AltSales).Add(r.DebitSales).Add(r.CreditSales)
}

// Delta is the record's contribution to its branch tray.
func (r DailyRecord) Delta() TrayDelta {
	return TrayDelta{
		Cash:        r.CashSales,
		Alt:         r.AltSales,
		Debit:       r.DebitSales,
		Credit:      r.CreditSales,
		CashExpense: r.TotalExpenses,
	}
}

// NetAmount is what withdrawing the record takes out of the tray total.
func (r DailyRecord) NetAmount() decimal.Decimal {
	return r.TotalSales.Sub(r.TotalExpenses)
}

func (r *DailyRecord) MarkWithdrawn(by string, at time.Time) {
	r.IsWithdrawn = true
	r.WithdrawnBy = by
	r.WithdrawnAt = &at
	r.UpdatedAt = at
}

func (r *DailyRecord) Verify(by string, at time.Time) {
	r.IsVerified = true
	r.VerifiedBy = by
	r.VerifiedAt = &at
}

func (r *DailyRecord) Unverify() {
	r.IsVerified = false
	r.VerifiedBy = ""
	r.VerifiedAt = nil
}

// BranchDayStatus tells whether a branch has filed its record for a day.
type BranchDayStatus struct {
	Branch      string           `json:"branch"`
	HasReported bool             `json:"has_reported"`
	Status      string           `json:"status"`
	RecordID    string           `json:"record_id,omitempty"`
	TotalSales  *decimal.Decimal `json:"total_sales,omitempty"`
	IsVerified  bool             `json:"is_verified"`
}

type BranchStatusReport struct {
	Date          string            `json:"date"`
	Branches      []BranchDayStatus `json:"branches"`
	TotalReported int               `json:"total_reported"`
	TotalBranches int               `json:"total_branches"`
}

const (
	DayStatusReported = "reported"
	DayStatusPending  = "pending"
)

type RecordFilter struct {
	Branch           string
	From             *time.Time
	To               *time.Time
	IncludeWithdrawn bool
	Limit            int
}

type BranchExpense struct {
	ID             string          `json:"id"`
	Branch         string          `json:"branch"`
	Year           int             `json:"year"`
	Month          int             `json:"month"`
	Category       string          `json:"category"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	IsPaid         bool            `json:"is_paid"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	PaidBy         string          `json:"paid_by,omitempty"`
	PostedRecordID string          `json:"posted_record_id,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ExpenseMonth struct {
	Branch             string          `json:"branch"`
	Year               int             `json:"year"`
	Month              int             `json:"month"`
	Items              []BranchExpense `json:"items"`
	RequiredCategories []string        `json:"required_categories"`
	MissingCategories  []string        `json:"missing_categories"`
	IsComplete         bool            `json:"is_complete"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	Branch        string    `json:"branch"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Branch    string
	Active    bool
	CreatedAt time.Time
}
