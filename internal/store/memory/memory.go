package memory

import (
	"context"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/store"
)

// branchData is everything the ledger owns for one branch. Transactions work
// on a clone and swap it in on commit.
type branchData struct {
	tray     *domain.CashTray
	records  map[string]domain.DailyRecord
	expenses map[string]domain.BranchExpense
}

func (b *branchData) clone() *branchData {
	if b == nil {
		return &branchData{
			records:  make(map[string]domain.DailyRecord),
			expenses: make(map[string]domain.BranchExpense),
		}
	}
	out := &branchData{
		records:  maps.Clone(b.records),
		expenses: maps.Clone(b.expenses),
	}
	if b.tray != nil {
		tray := *b.tray
		out.tray = &tray
	}
	return out
}

type Store struct {
	mu              sync.RWMutex
	branches        map[string]*branchData
	recordIndex     map[string]string
	expenseIndex    map[string]string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	locksMu     sync.Mutex
	branchLocks map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		branches:        make(map[string]*branchData),
		recordIndex:     make(map[string]string),
		expenseIndex:    make(map[string]string),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		branchLocks:     make(map[string]*sync.Mutex),
	}
}

// NewSeeded returns a store with an admin account and one operator account
// per branch listed in SEED_BRANCHES (default "centro,tacuari"). Passwords
// come from SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD; dev defaults are
// used with a warning when unset. Only used when DATABASE_URL is empty.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override")
	}

	type seed struct {
		username string
		password string
		role     string
		branch   string
	}
	seeds := []seed{{"admin", adminPwd, domain.RoleAdmin, ""}}
	for _, raw := range strings.Split(envOr("SEED_BRANCHES", "centro,tacuari"), ",") {
		branch, ok := domain.NormalizeBranch(raw)
		if !ok {
			continue
		}
		seeds = append(seeds, seed{branch, operatorPwd, domain.RoleOperator, branch})
	}

	now := time.Now().UTC()
	users := make(map[string]domain.UserAccount, len(seeds))
	for _, u := range seeds {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Branch:    u.branch,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) branchLock(branch string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.branchLocks[branch]
	if !ok {
		lock = &sync.Mutex{}
		s.branchLocks[branch] = lock
	}
	return lock
}

func (s *Store) InBranchTx(ctx context.Context, branch string, fn func(ctx context.Context, tx store.BranchTx) error) error {
	if branch == "" {
		return store.ErrInvalidInput
	}

	lock := s.branchLock(branch)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.branches[branch].clone()
	s.mu.RUnlock()

	if work.tray == nil {
		tray := domain.NewCashTray(branch, time.Now().UTC())
		work.tray = &tray
	}

	tx := &memTx{branch: branch, data: work, deleted: make(map[string]struct{})}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[branch] = work
	for id := range tx.deleted {
		delete(s.recordIndex, id)
	}
	for id := range work.records {
		s.recordIndex[id] = branch
	}
	for id := range work.expenses {
		s.expenseIndex[id] = branch
	}
	return nil
}

func (s *Store) GetDailyRecord(_ context.Context, id string) (*domain.DailyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.recordIndex[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	record, ok := s.branches[branch].records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &record, nil
}

func (s *Store) ListDailyRecords(_ context.Context, filter domain.RecordFilter) ([]domain.DailyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.DailyRecord, 0, 64)
	for branch, data := range s.branches {
		if filter.Branch != "" && branch != filter.Branch {
			continue
		}
		for _, rec := range data.records {
			if rec.IsWithdrawn && !filter.IncludeWithdrawn {
				continue
			}
			if filter.From != nil && rec.Date.Before(*filter.From) {
				continue
			}
			if filter.To != nil && rec.Date.After(*filter.To) {
				continue
			}
			records = append(records, rec)
		}
	}

	slices.SortFunc(records, compareRecords)
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (s *Store) GetBranchExpense(_ context.Context, id string) (*domain.BranchExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.expenseIndex[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	expense, ok := s.branches[branch].expenses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &expense, nil
}

func (s *Store) ListBranchExpenses(_ context.Context, branch string, year int, month int) ([]domain.BranchExpense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.branches[branch]
	if !ok {
		return []domain.BranchExpense{}, nil
	}
	items := make([]domain.BranchExpense, 0, len(data.expenses))
	for _, item := range data.expenses {
		if item.Year != year || (month > 0 && item.Month != month) {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.BranchExpense) int {
		if a.Month != b.Month {
			return a.Month - b.Month
		}
		if a.Category != b.Category {
			return strings.Compare(a.Category, b.Category)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return items, nil
}

func (s *Store) GetCashTray(_ context.Context, branch string) (*domain.CashTray, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.branches[branch]
	if !ok || data.tray == nil {
		return nil, store.ErrNotFound
	}
	tray := *data.tray
	return &tray, nil
}

func (s *Store) ListCashTrays(_ context.Context) ([]domain.CashTray, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trays := make([]domain.CashTray, 0, len(s.branches))
	for _, data := range s.branches {
		if data.tray != nil {
			trays = append(trays, *data.tray)
		}
	}
	slices.SortFunc(trays, func(a, b domain.CashTray) int {
		return strings.Compare(a.Branch, b.Branch)
	})
	return trays, nil
}

func (s *Store) ListBranches(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]string, 0, len(s.branches))
	for branch, data := range s.branches {
		if data.tray == nil && len(data.records) == 0 {
			continue
		}
		branches = append(branches, branch)
	}
	slices.Sort(branches)
	return branches, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branch string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if branch != "" && entry.Branch != branch {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func compareRecords(a, b domain.DailyRecord) int {
	if c := b.Date.Compare(a.Date); c != 0 {
		return c
	}
	return strings.Compare(a.Branch, b.Branch)
}
