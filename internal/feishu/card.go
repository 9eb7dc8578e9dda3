package feishu

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/herald/internal/report"
)

// BuildSummaryCard renders the interactive card for one processed
// report. Pure: same event and extract always produce the same card.
func BuildSummaryCard(evt report.Event, extract report.Extract) map[string]any {
	var highRisks []string
	for _, risk := range extract.Risks {
		if risk.Likelihood == report.LevelHigh {
			highRisks = append(highRisks, risk.Item)
		}
	}

	elements := []map[string]any{
		textDiv(fmt.Sprintf("%s (%s)\n%s", evt.UserName, evt.PeriodType, extract.Summary)),
	}
	if len(highRisks) > 0 {
		elements = append(elements, map[string]any{
			"tag": "note",
			"elements": []map[string]any{
				{
					"tag":     "plain_text",
					"content": "⚠️ High risks: " + strings.Join(highRisks, ", "),
				},
			},
		})
	}
	if len(extract.Alignment.Gaps) > 0 {
		elements = append(elements, textDiv("Objectives still open: "+strings.Join(extract.Alignment.Gaps, ", ")))
	}
	if len(extract.NextActions) > 0 {
		elements = append(elements, textDiv("Next steps: "+strings.Join(extract.NextActions, "; ")))
	}

	return map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"title": map[string]any{
				"tag": "plain_text",
				"content": fmt.Sprintf("%s · OKR alignment: %d KR",
					evt.MessageTS.Format("2006-01-02"), len(extract.Alignment.HitKRs)),
			},
		},
		"elements": elements,
	}
}

func textDiv(content string) map[string]any {
	return map[string]any{
		"tag": "div",
		"text": map[string]any{
			"tag":     "plain_text",
			"content": content,
		},
	}
}
