// Package report holds the data model shared across the pipeline:
// the normalized inbound event, the structured HR extract produced
// per report, and the combined record handed to storage.
package report

import "time"

// PeriodType is the reporting cadence of a message.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// Level is a bounded low/medium/high token used for risk likelihood
// and the overall risk level. Sanitization guarantees no other value
// ever reaches a Level field.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Event is one normalized inbound report message. Created once per
// message and immutable afterwards.
type Event struct {
	UserID      string     `json:"user_id"`
	UserName    string     `json:"user_name"`
	PeriodType  PeriodType `json:"period_type"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	RawText     string     `json:"raw_text"`
	MessageTS   time.Time  `json:"message_ts"`
}

// RiskItem is one risk called out by the extract.
type RiskItem struct {
	Item       string `json:"item"`
	Likelihood Level  `json:"likelihood"`
	Mitigation string `json:"mitigation"`
}

// NeedItem is a dependency or request surfaced by the report.
type NeedItem struct {
	Topic string `json:"topic"`
	Owner string `json:"owner,omitempty"`
}

// Alignment maps the report onto the author's objectives and key results.
type Alignment struct {
	HitObjectives []string `json:"hit_objectives"`
	HitKRs        []string `json:"hit_krs"`
	Gaps          []string `json:"gaps"`
	Confidence    float64  `json:"confidence"`
}

// Extract is the HR-readable interpretation of a single report,
// produced exactly once per event — from a validated model response
// or from the deterministic offline fallback.
type Extract struct {
	Summary     string     `json:"hr_summary"`
	Risks       []RiskItem `json:"risks"`
	Needs       []NeedItem `json:"needs"`
	Alignment   Alignment  `json:"okr_alignment"`
	NextActions []string   `json:"next_actions"`
	RiskLevel   Level      `json:"risk_level"`
}

// StoredRecord is the unit handed to the storage sink. Ownership
// transfers on save; the pipeline keeps no reference afterwards.
type StoredRecord struct {
	Event     Event   `json:"report"`
	Extract   Extract `json:"hr_extract"`
	GoalBrief string  `json:"okr_brief"`
}
