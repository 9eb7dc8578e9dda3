package extractor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/herald/internal/report"
)

// levelSynonyms maps loosely phrased likelihood tokens, in either
// language, onto the three allowed levels. Lookup keys are lowercased.
var levelSynonyms = map[string]report.Level{
	"low":         report.LevelLow,
	"l":           report.LevelLow,
	"较低":          report.LevelLow,
	"偏低":          report.LevelLow,
	"低":           report.LevelLow,
	"medium":      report.LevelMedium,
	"mid":         report.LevelMedium,
	"m":           report.LevelMedium,
	"中":           report.LevelMedium,
	"中等":          report.LevelMedium,
	"适中":          report.LevelMedium,
	"moderate":    report.LevelMedium,
	"medium-low":  report.LevelMedium,
	"medium-high": report.LevelMedium,
	"high":        report.LevelHigh,
	"h":           report.LevelHigh,
	"较高":          report.LevelHigh,
	"高":           report.LevelHigh,
	"偏高":          report.LevelHigh,
}

// sanitize normalizes a loosely typed model payload into a strict
// Extract: bounded enums, clamped confidence, scalar-to-list coercion.
// It is idempotent: sanitizing an already sanitized payload is a no-op.
func sanitize(data map[string]any) report.Extract {
	return report.Extract{
		Summary:     ensureString(data["hr_summary"]),
		Risks:       normalizeRisks(data["risks"]),
		Needs:       normalizeNeeds(data["needs"]),
		Alignment:   normalizeAlignment(data["okr_alignment"]),
		NextActions: normalizeStrList(data["next_actions"]),
		RiskLevel:   normalizeLevel(data["risk_level"]),
	}
}

func normalizeRisks(value any) []report.RiskItem {
	risks := []report.RiskItem{}
	for _, item := range coerceList(value) {
		var risk report.RiskItem
		if m, ok := item.(map[string]any); ok {
			risk = report.RiskItem{
				Item:       ensureString(m["item"]),
				Likelihood: normalizeLevel(m["likelihood"]),
				Mitigation: ensureString(m["mitigation"]),
			}
		} else {
			risk = report.RiskItem{
				Item:       ensureString(item),
				Likelihood: report.LevelMedium,
			}
		}
		if risk.Item != "" {
			risks = append(risks, risk)
		}
	}
	return risks
}

func normalizeNeeds(value any) []report.NeedItem {
	needs := []report.NeedItem{}
	for _, item := range coerceList(value) {
		var need report.NeedItem
		if m, ok := item.(map[string]any); ok {
			need = report.NeedItem{
				Topic: ensureString(m["topic"]),
				Owner: ensureString(m["owner"]),
			}
		} else {
			need = report.NeedItem{Topic: ensureString(item)}
		}
		if need.Topic != "" {
			needs = append(needs, need)
		}
	}
	return needs
}

func normalizeAlignment(value any) report.Alignment {
	m, _ := value.(map[string]any)
	return report.Alignment{
		HitObjectives: normalizeStrList(m["hit_objectives"]),
		HitKRs:        normalizeStrList(m["hit_krs"]),
		Gaps:          normalizeStrList(m["gaps"]),
		Confidence:    normalizeConfidence(m["confidence"]),
	}
}

// normalizeStrList accepts a list or a single scalar; scalars wrap into
// a one-element list, anything else becomes an empty list.
func normalizeStrList(value any) []string {
	out := []string{}
	if list, ok := value.([]any); ok {
		for _, item := range list {
			if s := ensureString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := value.(string); ok {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// coerceList turns value into a slice: a list as-is, a non-nil scalar
// wrapped, nil or empty string dropped.
func coerceList(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []any{v}
	default:
		return []any{v}
	}
}

// normalizeConfidence parses numbers directly and strings with an
// optional percent suffix, clamps to [0,1], and defaults to 0.5.
func normalizeConfidence(value any) float64 {
	switch v := value.(type) {
	case float64:
		return clamp01(v)
	case int:
		return clamp01(float64(v))
	case string:
		s := strings.TrimSpace(v)
		percent := strings.Contains(s, "%")
		parsed, err := strconv.ParseFloat(strings.TrimRight(s, "%"), 64)
		if err != nil {
			return 0.5
		}
		if percent {
			parsed /= 100.0
		}
		return clamp01(parsed)
	default:
		return 0.5
	}
}

// normalizeLevel is total: any input maps to exactly one allowed level,
// defaulting to medium for unrecognized tokens.
func normalizeLevel(value any) report.Level {
	s, ok := value.(string)
	if !ok {
		return report.LevelMedium
	}
	if level, ok := levelSynonyms[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level
	}
	return report.LevelMedium
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func ensureString(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprintf("%v", value))
}
