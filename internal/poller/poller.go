// Package poller periodically pulls submitted report tasks from the
// platform and feeds them through the same pipeline the webhook uses.
// It covers teams that file reports through report rules instead of
// messaging the bot.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/feishu"
	"github.com/MikeSquared-Agency/herald/internal/period"
	"github.com/MikeSquared-Agency/herald/internal/report"
)

// Rule binds a platform report rule to the period its submissions
// cover.
type Rule struct {
	ID     string
	Period report.PeriodType
}

// TaskSource queries submitted report tasks. Implemented by the
// feishu client.
type TaskSource interface {
	QueryReportTasks(ctx context.Context, ruleID string, start, end time.Time) ([]feishu.ReportTask, error)
}

// Pipeline is the processing entry point shared with the webhook path.
type Pipeline interface {
	ProcessEvent(ctx context.Context, evt report.Event)
}

// GoalSyncer rewrites the goal snapshot from the platform before a
// sync pass. Implemented by goals.Syncer.
type GoalSyncer interface {
	Sync(ctx context.Context) error
}

// Reloader refreshes the goal cache before a sync pass.
type Reloader interface {
	Reload()
}

type Poller struct {
	tasks     TaskSource
	pipeline  Pipeline
	goalSync  GoalSyncer
	reloader  Reloader
	rules     []Rule
	syncTime  string // "HH:MM", local time
	lookback  time.Duration
	statePath string
	logger    *slog.Logger
}

// New creates a poller. goalSync and reloader may be nil for goal
// sources without a synced local cache.
func New(tasks TaskSource, pipeline Pipeline, goalSync GoalSyncer, reloader Reloader, rules []Rule, syncTime string, lookback time.Duration, statePath string, logger *slog.Logger) *Poller {
	return &Poller{
		tasks:     tasks,
		pipeline:  pipeline,
		goalSync:  goalSync,
		reloader:  reloader,
		rules:     rules,
		syncTime:  syncTime,
		lookback:  lookback,
		statePath: statePath,
		logger:    logger,
	}
}

// Run blocks until ctx is done, firing one sync pass per day at the
// configured time.
func (p *Poller) Run(ctx context.Context) {
	if len(p.rules) == 0 {
		p.logger.Warn("no report rules configured, poller idle")
		return
	}

	for {
		wait := untilNext(p.syncTime, time.Now())
		p.logger.Info("next report sync scheduled", "in", wait.Round(time.Second).String())

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := p.RunOnce(ctx); err != nil {
			p.logger.Error("report sync failed", "error", err)
		}
	}
}

// RunOnce executes a single sync pass: refresh the goal snapshot,
// reload it, then pull report tasks for every configured rule. A
// failed goal sync leaves the previous snapshot in place and does not
// block the report pass.
func (p *Poller) RunOnce(ctx context.Context) error {
	if p.goalSync != nil {
		if err := p.goalSync.Sync(ctx); err != nil {
			p.logger.Error("okr sync failed, keeping previous snapshot", "error", err)
		}
	}
	if p.reloader != nil {
		p.reloader.Reload()
	}

	state := LoadState(p.statePath)
	end := time.Now().UTC()
	start := end.Add(-p.lookback)

	p.logger.Info("report sync started",
		"rules", len(p.rules),
		"window_start", start,
		"window_end", end,
	)

	processed := 0
	for _, rule := range p.rules {
		if err := ctx.Err(); err != nil {
			_ = state.Save()
			return err
		}

		tasks, err := p.tasks.QueryReportTasks(ctx, rule.ID, start, end)
		if err != nil {
			p.logger.Error("rule query failed", "rule_id", rule.ID, "error", err)
			state.AddError(fmt.Sprintf("query %s: %v", rule.ID, err))
			continue
		}

		for _, task := range tasks {
			if err := ctx.Err(); err != nil {
				_ = state.Save()
				return err
			}
			if state.IsProcessed(task.TaskID) {
				continue
			}

			evt := p.buildEvent(rule, task)
			p.pipeline.ProcessEvent(ctx, evt)

			state.MarkProcessed(task.TaskID)
			processed++
			p.logger.Info("report task processed",
				"task_id", task.TaskID,
				"user_id", evt.UserID,
				"period_type", evt.PeriodType,
			)
		}
	}

	if err := state.Save(); err != nil {
		p.logger.Error("state save failed", "error", err)
	}
	p.logger.Info("report sync completed", "processed", processed)
	return nil
}

// buildEvent maps a report task onto the pipeline's event shape. The
// rule decides the period; rules without a usable period fall back to
// the text detector.
func (p *Poller) buildEvent(rule Rule, task feishu.ReportTask) report.Event {
	periodType := rule.Period
	var start, end time.Time
	switch periodType {
	case report.PeriodDaily, report.PeriodWeekly, report.PeriodMonthly:
		start, end = period.WindowFor(periodType, task.CommitTime)
	default:
		periodType, start, end = period.Detect(task.Text, task.CommitTime)
	}

	userID := task.UserID
	if userID == "" {
		userID = "unknown"
	}
	userName := task.UserName
	if userName == "" {
		userName = userID
	}

	return report.Event{
		UserID:      userID,
		UserName:    userName,
		PeriodType:  periodType,
		PeriodStart: start,
		PeriodEnd:   end,
		RawText:     task.Text,
		MessageTS:   task.CommitTime,
	}
}

// untilNext computes the wait until the next daily occurrence of the
// "HH:MM" mark. Malformed marks fall back to 24h.
func untilNext(mark string, now time.Time) time.Duration {
	var hour, minute int
	if _, err := fmt.Sscanf(mark, "%d:%d", &hour, &minute); err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 24 * time.Hour
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
