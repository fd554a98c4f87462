package stores

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "history.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	return store
}

func testBuild(id string, startedAt time.Time) *Build {
	return &Build{
		ID:        id,
		Manifest:  "build.cue",
		Targets:   `["app"]`,
		Workers:   4,
		Placement: "thread",
		Status:    BuildStatusRunning,
		StartedAt: startedAt,
		CreatedAt: startedAt,
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("NewSQLiteStore accepted empty path")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	store := newTestStore(t)
	// A second run has nothing to apply and must not fail
	if err := store.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate error: %v", err)
	}
}

func TestCreateAndGetBuild(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	build := testBuild("build-1", time.Now().UTC())
	if err := store.CreateBuild(ctx, build); err != nil {
		t.Fatalf("CreateBuild error: %v", err)
	}

	got, err := store.GetBuild(ctx, "build-1")
	if err != nil {
		t.Fatalf("GetBuild error: %v", err)
	}
	if got.ID != build.ID || got.Manifest != build.Manifest || got.Targets != build.Targets {
		t.Errorf("build = %+v, want %+v", got, build)
	}
	if got.Status != BuildStatusRunning {
		t.Errorf("Status = %s, want running", got.Status)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}

	if _, err := store.GetBuild(ctx, "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("GetBuild(missing) error = %v, want not found", err)
	}
}

func TestFinishBuild(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateBuild(ctx, testBuild("build-1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	sum := BuildSummary{Total: 5, Updated: 3, Skipped: 1, Failed: 1}
	errMsg := "rule app failed"
	if err := store.FinishBuild(ctx, "build-1", BuildStatusFailed, sum, &errMsg); err != nil {
		t.Fatalf("FinishBuild error: %v", err)
	}

	got, err := store.GetBuild(ctx, "build-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != BuildStatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if got.Total != 5 || got.Updated != 3 || got.Skipped != 1 || got.Failed != 1 {
		t.Errorf("tallies = %+v", got)
	}
	if got.Error == nil || *got.Error != errMsg {
		t.Errorf("Error = %v, want %q", got.Error, errMsg)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}

	if err := store.FinishBuild(ctx, "missing", BuildStatusSucceeded, BuildSummary{}, nil); err == nil {
		t.Error("FinishBuild succeeded for unknown build")
	}
}

func TestListBuilds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		b := testBuild(fmt.Sprintf("build-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := store.CreateBuild(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	builds, err := store.ListBuilds(ctx, 3, 0)
	if err != nil {
		t.Fatalf("ListBuilds error: %v", err)
	}
	if len(builds) != 3 {
		t.Fatalf("len = %d, want 3", len(builds))
	}
	// Most recent first
	if builds[0].ID != "build-4" || builds[2].ID != "build-2" {
		t.Errorf("order = %s..%s, want build-4..build-2", builds[0].ID, builds[2].ID)
	}

	page2, err := store.ListBuilds(ctx, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 || page2[0].ID != "build-1" {
		t.Errorf("page2 = %d builds, first %s", len(page2), page2[0].ID)
	}
}

func TestPruneBuilds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		b := testBuild(fmt.Sprintf("build-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := store.CreateBuild(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	outcome := &RuleOutcome{BuildID: "build-0", RuleID: 0, RuleName: "gen", Event: "done", Timestamp: base}
	if err := store.AppendRuleOutcome(ctx, outcome); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.PruneBuilds(ctx, 2)
	if err != nil {
		t.Fatalf("PruneBuilds error: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}

	remaining, err := store.ListBuilds(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 || remaining[0].ID != "build-3" || remaining[1].ID != "build-2" {
		t.Errorf("remaining = %+v", remaining)
	}

	// Outcomes of pruned builds cascade away
	outcomes, err := store.ListRuleOutcomes(ctx, "build-0")
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 0 {
		t.Errorf("outcomes of pruned build = %d, want 0", len(outcomes))
	}

	if _, err := store.PruneBuilds(ctx, -1); err == nil {
		t.Error("PruneBuilds accepted negative keep")
	}
}

func TestRuleOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateBuild(ctx, testBuild("build-1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	reason := "input missing"
	errMsg := "exit status 1"
	outcomes := []*RuleOutcome{
		{BuildID: "build-1", RuleID: 0, RuleName: "gen", Event: "done", DurationMS: 12, Timestamp: time.Now().UTC()},
		{BuildID: "build-1", RuleID: 1, RuleName: "copy", Event: "exec-error", Error: &errMsg, Timestamp: time.Now().UTC()},
		{BuildID: "build-1", RuleID: 2, RuleName: "pkg", Event: "update-infeasible", Reason: &reason, Timestamp: time.Now().UTC()},
	}
	for _, o := range outcomes {
		if err := store.AppendRuleOutcome(ctx, o); err != nil {
			t.Fatalf("AppendRuleOutcome error: %v", err)
		}
		if o.ID == 0 {
			t.Error("outcome ID not assigned")
		}
	}

	got, err := store.ListRuleOutcomes(ctx, "build-1")
	if err != nil {
		t.Fatalf("ListRuleOutcomes error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Insertion order
	for i, o := range got {
		if o.RuleName != outcomes[i].RuleName {
			t.Errorf("outcomes[%d] = %s, want %s", i, o.RuleName, outcomes[i].RuleName)
		}
	}
	if got[0].DurationMS != 12 {
		t.Errorf("DurationMS = %d, want 12", got[0].DurationMS)
	}
	if got[1].Error == nil || *got[1].Error != errMsg {
		t.Errorf("Error = %v", got[1].Error)
	}
	if got[2].Reason == nil || *got[2].Reason != reason {
		t.Errorf("Reason = %v", got[2].Reason)
	}
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck error: %v", err)
	}

	uninitialized, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatal(err)
	}
	if err := uninitialized.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck succeeded before Init")
	}
}
