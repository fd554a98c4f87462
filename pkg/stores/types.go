package stores

import (
	"context"
	"time"
)

// BuildStatus represents the final state of a recorded build.
type BuildStatus string

const (
	BuildStatusRunning     BuildStatus = "running"
	BuildStatusSucceeded   BuildStatus = "succeeded"
	BuildStatusFailed      BuildStatus = "failed"
	BuildStatusInterrupted BuildStatus = "interrupted"
)

// Build represents one engine run recorded in the history database.
type Build struct {
	ID         string      `json:"id"`
	Manifest   string      `json:"manifest"`
	Targets    string      `json:"targets"` // JSON array of rule names
	Workers    int         `json:"workers"`
	Placement  string      `json:"placement"`
	DryRun     bool        `json:"dry_run"`
	Status     BuildStatus `json:"status"`
	Total      int         `json:"total"`
	Updated    int         `json:"updated"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	Discarded  int         `json:"discarded"`
	Error      *string     `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// RuleOutcome represents the terminal event recorded for one rule within a
// build.
type RuleOutcome struct {
	ID         int64     `json:"id"`
	BuildID    string    `json:"build_id"`
	RuleID     int       `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	Event      string    `json:"event"`
	Reason     *string   `json:"reason,omitempty"`
	Error      *string   `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// HistoryStore defines the persistence layer for build history.
type HistoryStore interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Build operations
	CreateBuild(ctx context.Context, build *Build) error
	FinishBuild(ctx context.Context, id string, status BuildStatus, summary BuildSummary, errMsg *string) error
	GetBuild(ctx context.Context, id string) (*Build, error)
	ListBuilds(ctx context.Context, limit, offset int) ([]*Build, error)
	PruneBuilds(ctx context.Context, keep int) (int64, error)

	// RuleOutcome operations
	AppendRuleOutcome(ctx context.Context, outcome *RuleOutcome) error
	ListRuleOutcomes(ctx context.Context, buildID string) ([]*RuleOutcome, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

// BuildSummary carries the per-rule tallies written back when a build
// finishes. It mirrors the engine's summary without importing it.
type BuildSummary struct {
	Total     int
	Updated   int
	Skipped   int
	Failed    int
	Discarded int
}
