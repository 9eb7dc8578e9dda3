// Package goals resolves a user's OKR context for a reporting window.
// The cache-backed source loads a JSON snapshot once and treats it as
// read-only; Reload swaps the whole mapping atomically.
package goals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// NoGoalsBrief is returned when no objective overlaps the query window.
const NoGoalsBrief = "No OKR information found for this period."

// UnavailableBrief is returned by sources that have no data backend.
const UnavailableBrief = "OKR data source is currently unavailable."

// Source resolves a human-readable goal brief for a user and window.
// Implementations never fail: missing data degrades to a sentinel brief.
type Source interface {
	Brief(ctx context.Context, userID string, periodStart, periodEnd time.Time) string
}

// KeyResult is one key result under an objective.
type KeyResult struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Progress string `json:"progress"`
}

// Record is one objective with its time window and key results.
type Record struct {
	ObjectiveID string
	Title       string
	PeriodStart time.Time
	PeriodEnd   time.Time
	KRs         []KeyResult
}

// Cache is a Source backed by a JSON snapshot file, loaded lazily on
// first use and kept in memory until Reload or process restart.
type Cache struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	data   map[string][]Record
}

// NewCache creates a cache-backed source reading from path.
func NewCache(path string, logger *slog.Logger) *Cache {
	return &Cache{path: path, logger: logger}
}

// Brief renders every objective overlapping [periodStart, periodEnd] in
// cache order, one line per objective and one per key result.
func (c *Cache) Brief(ctx context.Context, userID string, periodStart, periodEnd time.Time) string {
	data := c.snapshot()
	records := data[userID]

	var overlapping []Record
	for _, rec := range records {
		if rangesOverlap(rec.PeriodStart, rec.PeriodEnd, periodStart, periodEnd) {
			overlapping = append(overlapping, rec)
		}
	}

	c.logger.Info("okr cache lookup",
		"user_id", userID,
		"records_total", len(records),
		"records_overlap", len(overlapping),
	)

	if len(overlapping) == 0 {
		return NoGoalsBrief
	}

	var lines []string
	for _, rec := range overlapping {
		window := fmt.Sprintf("%s~%s",
			rec.PeriodStart.Format("2006-01-02"), rec.PeriodEnd.Format("2006-01-02"))
		lines = append(lines, fmt.Sprintf("%s %s (%s)", rec.ObjectiveID, rec.Title, window))
		for _, kr := range rec.KRs {
			lines = append(lines, fmt.Sprintf("- %s %s %s", kr.ID, kr.Title, kr.Progress))
		}
	}
	return strings.Join(lines, "\n")
}

// Reload re-reads the backing file and replaces the mapping in one step.
// A missing or unreadable file yields an empty mapping, not an error.
func (c *Cache) Reload() {
	data := c.load()
	c.mu.Lock()
	c.data = data
	c.loaded = true
	c.mu.Unlock()
}

func (c *Cache) snapshot() map[string][]Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.data = c.load()
		c.loaded = true
	}
	return c.data
}

// cacheSnapshot is the snapshot format shared by the Syncer (writer)
// and the Cache (reader).
type cacheSnapshot struct {
	Users []cacheUser `json:"users"`
}

type cacheUser struct {
	UserID     string           `json:"user_id"`
	Objectives []cacheObjective `json:"objectives"`
}

type cacheObjective struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	PeriodStart string      `json:"period_start"`
	PeriodEnd   string      `json:"period_end"`
	KRs         []KeyResult `json:"krs"`
}

func (c *Cache) load() map[string][]Record {
	data := make(map[string][]Record)

	raw, err := os.ReadFile(c.path)
	if err != nil {
		c.logger.Warn("okr cache missing", "path", c.path, "error", err)
		return data
	}

	var file cacheSnapshot
	if err := json.Unmarshal(raw, &file); err != nil {
		c.logger.Warn("okr cache unreadable", "path", c.path, "error", err)
		return data
	}

	for _, user := range file.Users {
		if user.UserID == "" {
			continue
		}
		records := make([]Record, 0, len(user.Objectives))
		for _, obj := range user.Objectives {
			id := obj.ID
			if id == "" {
				id = "O?"
			}
			records = append(records, Record{
				ObjectiveID: id,
				Title:       obj.Title,
				PeriodStart: parseDate(obj.PeriodStart),
				PeriodEnd:   parseDate(obj.PeriodEnd),
				KRs:         obj.KRs,
			})
		}
		data[user.UserID] = records
	}
	return data
}

// Unavailable is a Source for deployments whose goal backend is
// configured but not implemented (sheet, bitable). Reporting "data
// unavailable" is a legitimate terminal state, not a failure.
type Unavailable struct {
	logger *slog.Logger
}

func NewUnavailable(logger *slog.Logger) *Unavailable {
	return &Unavailable{logger: logger}
}

func (u *Unavailable) Brief(ctx context.Context, userID string, periodStart, periodEnd time.Time) string {
	u.logger.Warn("okr source unavailable",
		"user_id", userID,
		"period_start", periodStart.Format("2006-01-02"),
		"period_end", periodEnd.Format("2006-01-02"),
	)
	return UnavailableBrief
}

func rangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

func parseDate(value string) time.Time {
	if value == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t
}
