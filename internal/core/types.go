package core

import (
	"errors"
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusPrinting  JobStatus = "printing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition leaves this status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

type ColorMode string

const (
	ColorModeColor     ColorMode = "color"
	ColorModeGrayscale ColorMode = "grayscale"
)

type PaperSize string

const (
	PaperSizeA4     PaperSize = "A4"
	PaperSizeA3     PaperSize = "A3"
	PaperSizeLetter PaperSize = "Letter"
	PaperSizeLegal  PaperSize = "Legal"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// PrintSettings is the fixed-shape settings record frozen onto a job at
// submission time.
type PrintSettings struct {
	Copies    int       `json:"copies"`
	ColorMode ColorMode `json:"color_mode"`
	Duplex    bool      `json:"duplex"`
	PaperSize PaperSize `json:"paper_size"`
	Priority  Priority  `json:"priority"`
}

// FileMeta describes the already-uploaded document. Page extraction and
// storage happen upstream; the engine only sees the numbers.
type FileMeta struct {
	FileName  string `json:"file_name"`
	PageCount int    `json:"page_count"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

type Job struct {
	ID            string        `json:"id"`
	UserID        int64         `json:"user_id"`
	File          FileMeta      `json:"file"`
	Settings      PrintSettings `json:"settings"`
	CostCents     int64         `json:"cost_cents"`
	Status        JobStatus     `json:"status"`
	Attempts      int           `json:"attempts"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// User is the account snapshot the engine evaluates against. It mirrors
// the users table row but carries only what policy and ledger care about.
type User struct {
	ID           int64
	Username     string
	Role         string
	Department   string
	BalanceCents int64
	PageQuota    int
}

// Policy rejection reasons surfaced verbatim to the submitter.
const (
	ReasonMaxPagesExceeded    = "max-pages-exceeded"
	ReasonMaxCopiesExceeded   = "max-copies-exceeded"
	ReasonColorNotAllowed     = "color-not-allowed"
	ReasonOutsideAllowedHours = "outside-allowed-hours"
	ReasonUnsupportedMimeType = "unsupported-mime-type"
)

// Failure reasons recorded on jobs by the scheduler.
const (
	ReasonMaxAttemptsExceeded = "max-attempts-exceeded"
	ReasonPrintingTimeout     = "printing-timeout"
)

// PolicyRejectedError is a user-correctable submission rejection.
type PolicyRejectedError struct {
	Reason string
}

func (e *PolicyRejectedError) Error() string {
	return fmt.Sprintf("policy rejected: %s", e.Reason)
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientQuota = errors.New("insufficient quota")
	ErrAlreadyReserved   = errors.New("reservation already exists for job")
	ErrAlreadyTerminal   = errors.New("job already in a terminal state")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrJobNotFound       = errors.New("job not found")
	ErrUserNotFound      = errors.New("user not found")
)
