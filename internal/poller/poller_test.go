package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/feishu"
	"github.com/MikeSquared-Agency/herald/internal/report"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTasks struct {
	byRule map[string][]feishu.ReportTask
	errs   map[string]error
}

func (f *fakeTasks) QueryReportTasks(ctx context.Context, ruleID string, start, end time.Time) ([]feishu.ReportTask, error) {
	if err := f.errs[ruleID]; err != nil {
		return nil, err
	}
	return f.byRule[ruleID], nil
}

type fakePipeline struct {
	mu     sync.Mutex
	events []report.Event
}

func (f *fakePipeline) ProcessEvent(ctx context.Context, evt report.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakePipeline) all() []report.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]report.Event(nil), f.events...)
}

type fakeReloader struct {
	calls int
	order *[]string
}

func (f *fakeReloader) Reload() {
	f.calls++
	if f.order != nil {
		*f.order = append(*f.order, "reload")
	}
}

type fakeSyncer struct {
	calls int
	err   error
	order *[]string
}

func (f *fakeSyncer) Sync(ctx context.Context) error {
	f.calls++
	if f.order != nil {
		*f.order = append(*f.order, "sync")
	}
	return f.err
}

func weeklyTask(id string) feishu.ReportTask {
	return feishu.ReportTask{
		TaskID:     id,
		RuleID:     "rule-w",
		RuleName:   "周报",
		UserID:     "u1",
		UserName:   "Ada",
		CommitTime: time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC),
		Text:       "【规则】周报\n进展: shipped exporter",
	}
}

func TestRunOnce_ProcessesAndRecordsTasks(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	tasks := &fakeTasks{byRule: map[string][]feishu.ReportTask{
		"rule-w": {weeklyTask("t1"), weeklyTask("t2")},
	}}
	pipeline := &fakePipeline{}
	reloader := &fakeReloader{}
	p := New(tasks, pipeline, nil, reloader, []Rule{{ID: "rule-w", Period: report.PeriodWeekly}},
		"02:00", 24*time.Hour, statePath, discardLogger())

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if reloader.calls != 1 {
		t.Errorf("expected goal cache reload per pass, got %d", reloader.calls)
	}
	events := pipeline.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].PeriodType != report.PeriodWeekly {
		t.Errorf("expected rule period applied, got %s", events[0].PeriodType)
	}
	// Wednesday 2024-03-06 -> Monday..Sunday.
	if events[0].PeriodStart.Day() != 4 || events[0].PeriodEnd.Day() != 10 {
		t.Errorf("unexpected window %v..%v", events[0].PeriodStart, events[0].PeriodEnd)
	}

	// Second pass sees the same tasks and must skip them.
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(pipeline.all()) != 2 {
		t.Errorf("expected processed tasks skipped on re-run, got %d events", len(pipeline.all()))
	}

	state := LoadState(statePath)
	if !state.IsProcessed("t1") || !state.IsProcessed("t2") {
		t.Errorf("expected task ids persisted, got %v", state.Processed)
	}
}

func TestRunOnce_SyncsGoalsBeforeReload(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	var order []string
	syncer := &fakeSyncer{order: &order}
	reloader := &fakeReloader{order: &order}
	p := New(&fakeTasks{}, &fakePipeline{}, syncer, reloader,
		[]Rule{{ID: "rule-w", Period: report.PeriodWeekly}},
		"02:00", 24*time.Hour, statePath, discardLogger())

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if syncer.calls != 1 || reloader.calls != 1 {
		t.Fatalf("expected one sync and one reload, got %d/%d", syncer.calls, reloader.calls)
	}
	if len(order) != 2 || order[0] != "sync" || order[1] != "reload" {
		t.Errorf("expected snapshot rewritten before reload, got order %v", order)
	}
}

func TestRunOnce_GoalSyncFailureDoesNotBlockReports(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	tasks := &fakeTasks{byRule: map[string][]feishu.ReportTask{
		"rule-w": {weeklyTask("t1")},
	}}
	pipeline := &fakePipeline{}
	syncer := &fakeSyncer{err: errors.New("okr api down")}
	reloader := &fakeReloader{}
	p := New(tasks, pipeline, syncer, reloader,
		[]Rule{{ID: "rule-w", Period: report.PeriodWeekly}},
		"02:00", 24*time.Hour, statePath, discardLogger())

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if reloader.calls != 1 {
		t.Errorf("expected reload despite sync failure, got %d", reloader.calls)
	}
	if len(pipeline.all()) != 1 {
		t.Errorf("expected report pass to continue, got %d events", len(pipeline.all()))
	}
}

func TestRunOnce_RuleFailureDoesNotStopOthers(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	tasks := &fakeTasks{
		byRule: map[string][]feishu.ReportTask{"rule-w": {weeklyTask("t1")}},
		errs:   map[string]error{"rule-broken": errors.New("api down")},
	}
	pipeline := &fakePipeline{}
	p := New(tasks, pipeline, nil, nil,
		[]Rule{{ID: "rule-broken", Period: report.PeriodDaily}, {ID: "rule-w", Period: report.PeriodWeekly}},
		"02:00", 24*time.Hour, statePath, discardLogger())

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if len(pipeline.all()) != 1 {
		t.Errorf("expected healthy rule still processed, got %d events", len(pipeline.all()))
	}
	state := LoadState(statePath)
	if len(state.Errors) != 1 {
		t.Errorf("expected query failure recorded, got %v", state.Errors)
	}
}

func TestBuildEvent_FallsBackToDetector(t *testing.T) {
	p := New(nil, nil, nil, nil, nil, "02:00", time.Hour, "", discardLogger())

	task := weeklyTask("t1")
	task.Text = "月报: quarterly prep"
	evt := p.buildEvent(Rule{ID: "rule-x", Period: report.PeriodType("unknown")}, task)

	if evt.PeriodType != report.PeriodMonthly {
		t.Errorf("expected detector fallback to monthly, got %s", evt.PeriodType)
	}

	task.UserID = ""
	task.UserName = ""
	evt = p.buildEvent(Rule{ID: "rule-w", Period: report.PeriodWeekly}, task)
	if evt.UserID != "unknown" || evt.UserName != "unknown" {
		t.Errorf("expected unknown author fallback, got %q/%q", evt.UserID, evt.UserName)
	}
}

func TestUntilNext(t *testing.T) {
	now := time.Date(2024, 3, 6, 1, 30, 0, 0, time.UTC)

	if got := untilNext("02:00", now); got != 30*time.Minute {
		t.Errorf("expected 30m to 02:00, got %v", got)
	}
	if got := untilNext("01:00", now); got != 23*time.Hour+30*time.Minute {
		t.Errorf("expected tomorrow's 01:00, got %v", got)
	}
	if got := untilNext("junk", now); got != 24*time.Hour {
		t.Errorf("expected 24h fallback for malformed mark, got %v", got)
	}
	if got := untilNext("99:00", now); got != 24*time.Hour {
		t.Errorf("expected 24h fallback for out-of-range hour, got %v", got)
	}
}

func TestState_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	state := LoadState(path)
	if state.IsProcessed("t1") {
		t.Errorf("fresh state must be empty")
	}
	state.MarkProcessed("t1")
	state.AddError("query rule-x: boom")
	if err := state.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := LoadState(path)
	if !loaded.IsProcessed("t1") {
		t.Errorf("expected t1 persisted")
	}
	if len(loaded.Errors) != 1 {
		t.Errorf("expected error persisted, got %v", loaded.Errors)
	}
	if loaded.LastRunAt.IsZero() {
		t.Errorf("expected last_run_at stamped")
	}
}

func TestLoadState_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	state := LoadState(path)
	if len(state.Processed) != 0 {
		t.Errorf("expected fresh state for corrupt file")
	}
	state.MarkProcessed("t1")
	if err := state.Save(); err != nil {
		t.Fatalf("save over corrupt file: %v", err)
	}
}
