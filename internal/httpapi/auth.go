package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"branchledger/backend/internal/domain"
	"branchledger/backend/internal/store"
)

var errInvalidCredentials = errors.New("invalid credentials")

type AuthManager struct {
	mu         sync.RWMutex
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	userStore  UserStore
	users      map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	password string
	role     string
	branch   string
	active   bool
	created  time.Time
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Role   string `json:"role"`
	Branch string `json:"branch,omitempty"`
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	managerPIN = strings.TrimSpace(managerPIN)
	if managerPIN == "" {
		managerPIN = "disabled"
	}
	hashedPIN, err := hashPassword(managerPIN)
	if err == nil {
		managerPIN = hashedPIN
	}

	manager := &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: managerPIN,
		userStore:  userStore,
		users:      make(map[string]credential),
	}
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	// Reload so accounts created by another instance can log in.
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, cred.branch, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		Branch:      cred.branch,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if claims.Role == domain.RoleOperator && claims.Branch == "" {
		return domain.Actor{}, errors.New("operator token without branch")
	}
	return domain.Actor{Username: sub, Role: claims.Role, Branch: claims.Branch}, nil
}

func (a *AuthManager) sign(username, role, branch string, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "branchledger",
		},
		Role:   role,
		Branch: branch,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

// CreateOperator registers a branch operator account.
func (a *AuthManager) CreateOperator(ctx context.Context, req domain.OperatorCreateRequest) (domain.OperatorUser, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 3 {
		return domain.OperatorUser{}, fmt.Errorf("username must be at least 3 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.OperatorUser{}, fmt.Errorf("username must not contain spaces")
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.OperatorUser{}, fmt.Errorf("password must be at least 6 characters")
	}
	branch, ok := domain.NormalizeBranch(req.Branch)
	if !ok {
		return domain.OperatorUser{}, fmt.Errorf("invalid branch %q", req.Branch)
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.OperatorUser{}, fmt.Errorf("%w: username already exists", store.ErrDuplicate)
	}

	now := time.Now().UTC()
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.OperatorUser{}, fmt.Errorf("failed to hash password")
	}

	if a.userStore != nil {
		err := a.userStore.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  passwordHash,
			Role:      domain.RoleOperator,
			Branch:    branch,
			Active:    true,
			CreatedAt: now,
		})
		if err != nil {
			return domain.OperatorUser{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		password: passwordHash,
		role:     domain.RoleOperator,
		branch:   branch,
		active:   true,
		created:  now,
	}
	a.mu.Unlock()

	return domain.OperatorUser{
		Username:  username,
		Role:      domain.RoleOperator,
		Branch:    branch,
		Active:    true,
		CreatedAt: now,
	}, nil
}

func (a *AuthManager) ListOperators(ctx context.Context) []domain.OperatorUser {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.OperatorUser, 0, len(a.users))
	for username, user := range a.users {
		if user.role != domain.RoleOperator {
			continue
		}
		result = append(result, domain.OperatorUser{
			Username:  username,
			Role:      user.role,
			Branch:    user.branch,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		if result[i].Branch != result[j].Branch {
			return result[i].Branch < result[j].Branch
		}
		return result[i].Username < result[j].Username
	})
	return result
}

// EnsureAdmin creates the admin account when the user store has none. Used on
// first start against an empty database.
func (a *AuthManager) EnsureAdmin(ctx context.Context, username string, password string) (bool, error) {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	for _, user := range a.users {
		if user.role == domain.RoleAdmin {
			a.mu.RUnlock()
			return false, nil
		}
	}
	a.mu.RUnlock()

	if a.userStore == nil || strings.TrimSpace(password) == "" {
		return false, errors.New("no admin account and no bootstrap password")
	}
	username = strings.ToLower(strings.TrimSpace(username))
	passwordHash, err := hashPassword(password)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if err := a.userStore.CreateUser(ctx, domain.UserAccount{
		Username:  username,
		Password:  passwordHash,
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: now,
	}); err != nil {
		return false, err
	}

	a.mu.Lock()
	a.users[username] = credential{password: passwordHash, role: domain.RoleAdmin, active: true, created: now}
	a.mu.Unlock()
	return true, nil
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache. It also upgrades any legacy plain-text passwords to bcrypt
// hashes in the store.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	users, err := a.userStore.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				_ = a.userStore.UpdateUserPassword(ctx, username, hashed)
			}
		}
		a.users[username] = credential{
			password: password,
			role:     user.Role,
			branch:   user.Branch,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
