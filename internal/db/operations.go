package db

import (
	"context"
	"database/sql"
	"fmt"
)

// UserStore wraps user account rows. Balance and quota mutations that
// participate in job accounting go through the ledger, not this store;
// the credit/quota operations here are the administrative surface.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(conn *sql.DB) *UserStore {
	return &UserStore{db: conn}
}

func (s *UserStore) CreateUser(ctx context.Context, u *User) error {
	result, err := s.db.ExecContext(ctx, insertUser,
		u.Username, u.PasswordHash, u.Role, u.Department, u.BalanceCents, u.PageQuota)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user id: %w", err)
	}
	u.ID = id
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, getUserByID, id))
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, getUserByUsername, username))
}

func (s *UserStore) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Department,
		&u.BalanceCents, &u.PageQuota, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, listUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Department,
			&u.BalanceCents, &u.PageQuota, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *UserStore) CreditBalance(ctx context.Context, id int64, cents int64) error {
	_, err := s.db.ExecContext(ctx, creditUserBalance, cents, id)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

func (s *UserStore) SetPageQuota(ctx context.Context, id int64, pages int) error {
	_, err := s.db.ExecContext(ctx, setUserPageQuota, pages, id)
	if err != nil {
		return fmt.Errorf("failed to set page quota: %w", err)
	}
	return nil
}

func (s *UserStore) SetDepartment(ctx context.Context, id int64, department string) error {
	_, err := s.db.ExecContext(ctx, setUserDepartment, department, id)
	if err != nil {
		return fmt.Errorf("failed to set department: %w", err)
	}
	return nil
}

type DepartmentStore struct {
	db *sql.DB
}

func NewDepartmentStore(conn *sql.DB) *DepartmentStore {
	return &DepartmentStore{db: conn}
}

func (s *DepartmentStore) Create(ctx context.Context, d *Department) error {
	result, err := s.db.ExecContext(ctx, insertDepartment, d.Name, d.CostCenter)
	if err != nil {
		return fmt.Errorf("failed to create department: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get department id: %w", err)
	}
	d.ID = id
	return nil
}

func (s *DepartmentStore) List(ctx context.Context) ([]*Department, error) {
	rows, err := s.db.QueryContext(ctx, listDepartments)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var departments []*Department
	for rows.Next() {
		d := &Department{}
		if err := rows.Scan(&d.ID, &d.Name, &d.CostCenter, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		departments = append(departments, d)
	}
	return departments, rows.Err()
}

type PolicyStore struct {
	db *sql.DB
}

func NewPolicyStore(conn *sql.DB) *PolicyStore {
	return &PolicyStore{db: conn}
}

func (s *PolicyStore) Create(ctx context.Context, r *PolicyRule) error {
	result, err := s.db.ExecContext(ctx, insertPolicyRule,
		r.Scope, r.ScopeValue, r.MaxPages, r.MaxCopies, r.ForceDuplexAbovePages,
		r.ColorAllowed, r.ColorPageLimit, r.CostMultiplier, r.WindowStartHour, r.WindowEndHour)
	if err != nil {
		return fmt.Errorf("failed to create policy rule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get policy rule id: %w", err)
	}
	r.ID = id
	return nil
}

// List returns every rule ordered by scope precedence (global, then
// department, then role).
func (s *PolicyStore) List(ctx context.Context) ([]*PolicyRule, error) {
	rows, err := s.db.QueryContext(ctx, listPolicyRules)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy rules: %w", err)
	}
	defer rows.Close()

	var rules []*PolicyRule
	for rows.Next() {
		r := &PolicyRule{}
		if err := rows.Scan(&r.ID, &r.Scope, &r.ScopeValue, &r.MaxPages, &r.MaxCopies,
			&r.ForceDuplexAbovePages, &r.ColorAllowed, &r.ColorPageLimit, &r.CostMultiplier,
			&r.WindowStartHour, &r.WindowEndHour, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan policy rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *PolicyStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, deletePolicyRule, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy rule: %w", err)
	}
	return nil
}

type SettingStore struct {
	db *sql.DB
}

func NewSettingStore(conn *sql.DB) *SettingStore {
	return &SettingStore{db: conn}
}

func (s *SettingStore) Get(ctx context.Context, key string) (*Setting, error) {
	setting := &Setting{}
	err := s.db.QueryRowContext(ctx, getSetting, key).Scan(&setting.Key, &setting.Value, &setting.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	return setting, nil
}

func (s *SettingStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, upsertSetting, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(conn *sql.DB) *AuditStore {
	return &AuditStore{db: conn}
}

func (s *AuditStore) Record(ctx context.Context, e *AuditEntry) error {
	_, err := s.db.ExecContext(ctx, insertAuditEntry,
		e.Action, e.EntityType, e.EntityID, e.ActorID, e.DetailsJSON)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) Recent(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, listAuditEntries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID,
			&e.ActorID, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
