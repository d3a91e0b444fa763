package db

import (
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Department   string    `json:"department"`
	BalanceCents int64     `json:"balance_cents"`
	PageQuota    int       `json:"page_quota"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Department struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	CostCenter string    `json:"cost_center"`
	CreatedAt  time.Time `json:"created_at"`
}

type PolicyRule struct {
	ID                    int64     `json:"id"`
	Scope                 string    `json:"scope"`
	ScopeValue            string    `json:"scope_value"`
	MaxPages              int       `json:"max_pages"`
	MaxCopies             int       `json:"max_copies"`
	ForceDuplexAbovePages int       `json:"force_duplex_above_pages"`
	ColorAllowed          bool      `json:"color_allowed"`
	ColorPageLimit        int       `json:"color_page_limit"`
	CostMultiplier        float64   `json:"cost_multiplier"`
	WindowStartHour       int       `json:"window_start_hour"`
	WindowEndHour         int       `json:"window_end_hour"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AuditEntry struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	ActorID     int64     `json:"actor_id"`
	DetailsJSON string    `json:"details_json"`
	CreatedAt   time.Time `json:"created_at"`
}
