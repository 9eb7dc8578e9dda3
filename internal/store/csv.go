package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/herald/internal/report"
)

// csvHeader is the fixed column set. Appends must never reorder or
// extend it, existing files depend on the layout.
var csvHeader = []string{
	"user_id",
	"user_name",
	"period_type",
	"period_start",
	"period_end",
	"message_ts",
	"raw_text",
	"hr_summary",
	"risk_level",
	"risks",
	"needs",
	"hit_objectives",
	"hit_krs",
	"okr_gaps",
	"okr_confidence",
	"next_actions",
	"okr_brief",
}

// CSV appends one row per record to a local file. Good enough for
// single-instance deployments and the default driver.
type CSV struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

func NewCSV(path string, logger *slog.Logger) (*CSV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	c := &CSV{path: path, logger: logger}
	if err := c.ensureHeader(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CSV) Close() {}

func (c *CSV) Save(ctx context.Context, record report.StoredRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvRow(record)); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	c.logger.Info("report saved",
		"storage", "csv",
		"path", c.path,
		"user_id", record.Event.UserID,
	)
	return nil
}

func (c *CSV) ensureHeader() error {
	info, err := os.Stat(c.path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stat csv: %w", err)
	}

	file, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

func csvRow(record report.StoredRecord) []string {
	risks := make([]string, 0, len(record.Extract.Risks))
	for _, risk := range record.Extract.Risks {
		risks = append(risks, fmt.Sprintf("%s(%s)", risk.Item, risk.Likelihood))
	}
	needs := make([]string, 0, len(record.Extract.Needs))
	for _, need := range record.Extract.Needs {
		owner := need.Owner
		if owner == "" {
			owner = "-"
		}
		needs = append(needs, need.Topic+":"+owner)
	}

	return []string{
		record.Event.UserID,
		record.Event.UserName,
		string(record.Event.PeriodType),
		record.Event.PeriodStart.Format("2006-01-02"),
		record.Event.PeriodEnd.Format("2006-01-02"),
		record.Event.MessageTS.Format("2006-01-02T15:04:05"),
		record.Event.RawText,
		record.Extract.Summary,
		string(record.Extract.RiskLevel),
		strings.Join(risks, "; "),
		strings.Join(needs, "; "),
		strings.Join(record.Extract.Alignment.HitObjectives, "; "),
		strings.Join(record.Extract.Alignment.HitKRs, "; "),
		strings.Join(record.Extract.Alignment.Gaps, "; "),
		fmt.Sprintf("%.2f", record.Extract.Alignment.Confidence),
		strings.Join(record.Extract.NextActions, "; "),
		record.GoalBrief,
	}
}
