package extractor

import (
	"strings"

	"github.com/MikeSquared-Agency/herald/internal/report"
)

const fallbackSummaryLimit = 180

// Fallback builds the deterministic offline extract. It needs no
// network and no credential, so the pipeline always completes.
func Fallback(evt report.Event) report.Extract {
	raw := strings.TrimSpace(evt.RawText)

	summary := "The model returned no content."
	if raw != "" {
		runes := []rune(raw)
		if len(runes) > fallbackSummaryLimit {
			summary = string(runes[:fallbackSummaryLimit]) + "..."
		} else {
			summary = raw
		}
	}

	var nextAction string
	switch evt.PeriodType {
	case report.PeriodWeekly:
		nextAction = "Bring key progress to the next weekly sync."
	case report.PeriodMonthly:
		nextAction = "Summarize this month's outcomes and prepare a retrospective."
	default:
		nextAction = "Keep the daily cadence and flag risks or needs."
	}

	riskLevel := report.LevelLow
	if mentionsRisk(raw) {
		riskLevel = report.LevelMedium
	}

	return report.Extract{
		Summary: "(offline) " + summary,
		Risks:   []report.RiskItem{},
		Needs:   []report.NeedItem{},
		Alignment: report.Alignment{
			HitObjectives: []string{},
			HitKRs:        []string{},
			Gaps:          []string{"Model could not parse the report, manual review required."},
			Confidence:    0.1,
		},
		NextActions: []string{nextAction},
		RiskLevel:   riskLevel,
	}
}

func mentionsRisk(raw string) bool {
	return strings.Contains(raw, "风险") || strings.Contains(strings.ToLower(raw), "risk")
}
