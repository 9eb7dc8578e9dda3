package goals

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeFetcher struct {
	records []json.RawMessage
	err     error
	gotIDs  []string
}

func (f *fakeFetcher) FetchOKRs(ctx context.Context, okrIDs []string) ([]json.RawMessage, error) {
	f.gotIDs = okrIDs
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func rawRecords(t *testing.T, records ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		if !json.Valid([]byte(rec)) {
			t.Fatalf("invalid fixture: %s", rec)
		}
		out = append(out, json.RawMessage(rec))
	}
	return out
}

func TestSync_SnapshotReadableByCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "okr_cache.json")
	fetcher := &fakeFetcher{records: rawRecords(t, `{
		"id": "okr-1",
		"name": "2024年3月OKR",
		"objective_list": [{
			"id": "O1",
			"content": "  Stabilize the ingestion pipeline  ",
			"owner": {"open_id": "u1"},
			"kr_list": [
				{"id": "KR1", "content": "Cut error rate below 1%", "progress_rate": {"percent": 60}},
				{"id": "KR2", "content": "Add replay tooling", "progress_rate": {"percent": "started"}}
			]
		}]
	}`)}

	syncer := NewSyncer(fetcher, path, []string{"okr-1"}, nil, discardLogger())
	if err := syncer.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(fetcher.gotIDs) != 1 || fetcher.gotIDs[0] != "okr-1" {
		t.Errorf("expected configured ids passed through, got %v", fetcher.gotIDs)
	}

	cache := NewCache(path, discardLogger())
	brief := cache.Brief(context.Background(), "u1", date(2024, 3, 1), date(2024, 3, 31))

	if !strings.Contains(brief, "O1 Stabilize the ingestion pipeline (2024-03-01~2024-03-31)") {
		t.Errorf("expected objective line with inferred month window, got:\n%s", brief)
	}
	if !strings.Contains(brief, "- KR1 Cut error rate below 1% 60%") {
		t.Errorf("expected numeric progress rendered as whole percent, got:\n%s", brief)
	}
	if !strings.Contains(brief, "- KR2 Add replay tooling started") {
		t.Errorf("expected string progress kept verbatim, got:\n%s", brief)
	}
}

func TestSync_OwnerResolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "okr_cache.json")
	fetcher := &fakeFetcher{records: rawRecords(t,
		// Objective owner wins over OKR-level owners.
		`{
			"id": "okr-1", "name": "2024-03",
			"owner": {"open_id": "boss"},
			"objective_list": [{"id": "O1", "content": "own goal", "owner": {"user_id": "direct"}, "kr_list": []}]
		}`,
		// No objective owner: every OKR-level owner gets the objective.
		`{
			"id": "okr-2", "name": "2024-03",
			"owner": {"open_id": "lead"},
			"owner_list": [{"open_id": "lead"}, {"union_id": "peer"}],
			"objective_list": [{"id": "O2", "content": "shared goal", "kr_list": []}]
		}`,
		// Aligned objective owner used when the objective has none of its own.
		`{
			"id": "okr-3", "name": "2024-03",
			"objective_list": [{
				"id": "O3", "content": "aligned goal",
				"aligning_objective_list": [{"owner": {"open_id": "aligned"}}],
				"kr_list": []
			}]
		}`,
		// No owner anywhere: the configured override applies.
		`{
			"id": "okr-4", "name": "2024-03",
			"objective_list": [{"id": "O4", "content": "orphan goal", "kr_list": []}]
		}`,
		// No owner and no override: skipped.
		`{
			"id": "okr-5", "name": "2024-03",
			"objective_list": [{"id": "O5", "content": "dropped goal", "kr_list": []}]
		}`,
	)}

	syncer := NewSyncer(fetcher, path, []string{"okr-1"}, map[string]string{"okr-4": "fallback"}, discardLogger())
	if err := syncer.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	cache := NewCache(path, discardLogger())
	window := func(userID string) string {
		return cache.Brief(context.Background(), userID, date(2024, 3, 1), date(2024, 3, 31))
	}

	if brief := window("direct"); !strings.Contains(brief, "own goal") {
		t.Errorf("expected objective owner assignment, got:\n%s", brief)
	}
	if brief := window("boss"); brief != NoGoalsBrief {
		t.Errorf("okr owner must not shadow the objective owner, got:\n%s", brief)
	}
	for _, userID := range []string{"lead", "peer"} {
		if brief := window(userID); !strings.Contains(brief, "shared goal") {
			t.Errorf("expected %s to receive the shared objective, got:\n%s", userID, brief)
		}
	}
	if brief := window("aligned"); !strings.Contains(brief, "aligned goal") {
		t.Errorf("expected aligned-objective owner fallback, got:\n%s", brief)
	}
	if brief := window("fallback"); !strings.Contains(brief, "orphan goal") {
		t.Errorf("expected override owner assignment, got:\n%s", brief)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if strings.Contains(string(raw), "dropped goal") {
		t.Errorf("expected ownerless objective skipped, snapshot:\n%s", raw)
	}
}

func TestSync_FetchFailureLeavesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "okr_cache.json")
	if err := os.WriteFile(path, []byte(sampleCache), 0o644); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	syncer := NewSyncer(&fakeFetcher{err: errors.New("api down")}, path, []string{"okr-1"}, nil, discardLogger())
	if err := syncer.Sync(context.Background()); err == nil {
		t.Fatal("expected fetch error surfaced")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(raw) != sampleCache {
		t.Errorf("expected previous snapshot untouched on failure")
	}
}

func TestSync_NoIDsConfigured(t *testing.T) {
	syncer := NewSyncer(&fakeFetcher{}, filepath.Join(t.TempDir(), "c.json"), nil, nil, discardLogger())
	if err := syncer.Sync(context.Background()); err == nil {
		t.Fatal("expected error without configured okr ids")
	}
}

func TestInferPeriod(t *testing.T) {
	cases := []struct {
		name       string
		okrName    string
		start, end string
	}{
		{"chinese month", "2024年3月OKR", "2024-03-01", "2024-03-31"},
		{"dashed", "2024-12", "2024-12-01", "2024-12-31"},
		{"leap february", "2024 02", "2024-02-01", "2024-02-29"},
	}
	for _, tc := range cases {
		start, end := inferPeriod(tc.okrName)
		if start.Format("2006-01-02") != tc.start || end.Format("2006-01-02") != tc.end {
			t.Errorf("%s: expected %s..%s, got %s..%s", tc.name, tc.start, tc.end,
				start.Format("2006-01-02"), end.Format("2006-01-02"))
		}
	}

	// Names without a usable year/month get the current month.
	now := time.Now()
	start, end := inferPeriod("quarterly themes")
	if start.Month() != now.Month() || start.Day() != 1 {
		t.Errorf("expected current month fallback, got %v..%v", start, end)
	}
}
