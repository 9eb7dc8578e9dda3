package goals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// OKRFetcher pulls raw OKR records from the platform. Implemented by
// the feishu client.
type OKRFetcher interface {
	FetchOKRs(ctx context.Context, okrIDs []string) ([]json.RawMessage, error)
}

// Syncer refreshes the cache snapshot from the platform OKR API. It
// fetches the configured OKRs, maps objectives onto their owners and
// writes the snapshot file the Cache reads.
type Syncer struct {
	fetcher   OKRFetcher
	path      string
	okrIDs    []string
	overrides map[string]string // okr id -> owner used when no owner resolves
	logger    *slog.Logger
}

func NewSyncer(fetcher OKRFetcher, path string, okrIDs []string, overrides map[string]string, logger *slog.Logger) *Syncer {
	return &Syncer{
		fetcher:   fetcher,
		path:      path,
		okrIDs:    okrIDs,
		overrides: overrides,
		logger:    logger,
	}
}

// okrRecord mirrors the batch_get response fields the sync reads.
type okrRecord struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Owner         okrOwner       `json:"owner"`
	OwnerList     []okrOwner     `json:"owner_list"`
	ObjectiveList []okrObjective `json:"objective_list"`
}

type okrOwner struct {
	UserID  string `json:"user_id"`
	OpenID  string `json:"open_id"`
	UnionID string `json:"union_id"`
}

type okrObjective struct {
	ID           string   `json:"id"`
	Content      string   `json:"content"`
	Owner        okrOwner `json:"owner"`
	AligningList []struct {
		Owner okrOwner `json:"owner"`
	} `json:"aligning_objective_list"`
	KRList []struct {
		ID           string `json:"id"`
		Content      string `json:"content"`
		ProgressRate struct {
			Percent any `json:"percent"`
		} `json:"progress_rate"`
	} `json:"kr_list"`
}

// periodPattern matches a year followed by a month somewhere in the
// OKR name, e.g. "2025年8月OKR" or "2025-08".
var periodPattern = regexp.MustCompile(`(\d{4}).*?(\d{1,2})`)

// Sync fetches the configured OKRs and rewrites the snapshot file.
func (s *Syncer) Sync(ctx context.Context) error {
	if len(s.okrIDs) == 0 {
		return fmt.Errorf("no okr ids configured")
	}

	records, err := s.fetcher.FetchOKRs(ctx, s.okrIDs)
	if err != nil {
		return fmt.Errorf("fetch okrs: %w", err)
	}

	snapshot := s.normalize(records)

	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	s.logger.Info("okr snapshot written",
		"path", s.path,
		"okr_records", len(records),
		"users", len(snapshot.Users),
	)
	return nil
}

// normalize maps each objective onto its owner(s). An objective with an
// owner of its own goes to that user; otherwise it goes to every
// OKR-level owner, then to the configured override, and is skipped with
// a warning when nothing resolves.
func (s *Syncer) normalize(records []json.RawMessage) cacheSnapshot {
	objectivesByUser := make(map[string][]cacheObjective)
	var userOrder []string

	assign := func(userID string, obj cacheObjective) {
		if _, seen := objectivesByUser[userID]; !seen {
			userOrder = append(userOrder, userID)
		}
		objectivesByUser[userID] = append(objectivesByUser[userID], obj)
	}

	for _, raw := range records {
		var okr okrRecord
		if err := json.Unmarshal(raw, &okr); err != nil {
			s.logger.Warn("okr record unreadable", "error", err)
			continue
		}

		start, end := inferPeriod(okr.Name)
		okrOwners := collectOwnerIDs(okr)

		for _, objective := range okr.ObjectiveList {
			targets := okrOwners
			if owner := objectiveOwnerID(objective); owner != "" {
				targets = []string{owner}
			}
			if len(targets) == 0 {
				if override := s.overrides[okr.ID]; override != "" {
					targets = []string{override}
				} else {
					s.logger.Warn("okr owner missing",
						"okr_id", okr.ID,
						"objective_id", objective.ID,
					)
					continue
				}
			}

			krs := make([]KeyResult, 0, len(objective.KRList))
			for _, kr := range objective.KRList {
				krs = append(krs, KeyResult{
					ID:       kr.ID,
					Title:    strings.TrimSpace(kr.Content),
					Progress: formatProgress(kr.ProgressRate.Percent),
				})
			}

			obj := cacheObjective{
				ID:          objective.ID,
				Title:       strings.TrimSpace(objective.Content),
				PeriodStart: start.Format("2006-01-02"),
				PeriodEnd:   end.Format("2006-01-02"),
				KRs:         krs,
			}
			for _, target := range targets {
				assign(target, obj)
			}
		}
	}

	snapshot := cacheSnapshot{Users: make([]cacheUser, 0, len(userOrder))}
	for _, userID := range userOrder {
		snapshot.Users = append(snapshot.Users, cacheUser{
			UserID:     userID,
			Objectives: objectivesByUser[userID],
		})
	}
	return snapshot
}

// inferPeriod reads a year and month out of the OKR name and returns
// that calendar month; names without one get the current month.
func inferPeriod(name string) (time.Time, time.Time) {
	year, month := 0, 0
	if m := periodPattern.FindStringSubmatch(name); m != nil {
		fmt.Sscanf(m[1], "%d", &year)
		fmt.Sscanf(m[2], "%d", &month)
	}
	if year == 0 || month < 1 || month > 12 {
		now := time.Now()
		year, month = now.Year(), int(now.Month())
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

// objectiveOwnerID resolves the objective's own owner, falling back to
// the owners of aligned objectives.
func objectiveOwnerID(objective okrObjective) string {
	if id := ownerID(objective.Owner); id != "" {
		return id
	}
	for _, aligned := range objective.AligningList {
		if id := ownerID(aligned.Owner); id != "" {
			return id
		}
	}
	return ""
}

// collectOwnerIDs gathers the OKR-level owner ids, deduplicated in
// first-seen order.
func collectOwnerIDs(okr okrRecord) []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(owner okrOwner) {
		if id := ownerID(owner); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(okr.Owner)
	for _, owner := range okr.OwnerList {
		add(owner)
	}
	return ids
}

func ownerID(owner okrOwner) string {
	for _, id := range []string{owner.UserID, owner.OpenID, owner.UnionID} {
		if id != "" {
			return id
		}
	}
	return ""
}

// formatProgress renders progress_rate.percent: numbers become a whole
// percentage, strings pass through untouched.
func formatProgress(percent any) string {
	switch v := percent.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.0f%%", v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
