package extractor

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/MikeSquared-Agency/herald/internal/report"
)

func TestSanitize_FullPayload(t *testing.T) {
	data := map[string]any{
		"hr_summary": "  Shipped the exporter.  ",
		"risks": []any{
			map[string]any{"item": "dependency slip", "likelihood": "较高", "mitigation": "escalate"},
			"single string risk",
			map[string]any{"item": "", "likelihood": "low"},
		},
		"needs": []any{
			map[string]any{"topic": "need a reviewer", "owner": "alice"},
			"standalone need",
			map[string]any{"topic": ""},
		},
		"okr_alignment": map[string]any{
			"hit_objectives": "O1",
			"hit_krs":        []any{"KR1", "KR2"},
			"gaps":           nil,
			"confidence":     "85%",
		},
		"next_actions": "only one action",
		"risk_level":   "moderate",
	}

	got := sanitize(data)

	if got.Summary != "Shipped the exporter." {
		t.Errorf("unexpected summary %q", got.Summary)
	}
	if len(got.Risks) != 2 {
		t.Fatalf("expected 2 risks (empty item dropped), got %d", len(got.Risks))
	}
	if got.Risks[0].Likelihood != report.LevelHigh {
		t.Errorf("expected 较高 -> high, got %s", got.Risks[0].Likelihood)
	}
	if got.Risks[1].Item != "single string risk" || got.Risks[1].Likelihood != report.LevelMedium {
		t.Errorf("scalar risk not wrapped with medium default: %+v", got.Risks[1])
	}
	if len(got.Needs) != 2 {
		t.Fatalf("expected 2 needs, got %d", len(got.Needs))
	}
	if got.Needs[0].Owner != "alice" {
		t.Errorf("expected owner alice, got %q", got.Needs[0].Owner)
	}
	if got.Needs[1].Owner != "" {
		t.Errorf("expected empty owner for scalar need, got %q", got.Needs[1].Owner)
	}
	if !reflect.DeepEqual(got.Alignment.HitObjectives, []string{"O1"}) {
		t.Errorf("expected scalar hit_objectives wrapped, got %v", got.Alignment.HitObjectives)
	}
	if !reflect.DeepEqual(got.Alignment.Gaps, []string{}) {
		t.Errorf("expected nil gaps -> empty list, got %v", got.Alignment.Gaps)
	}
	if got.Alignment.Confidence != 0.85 {
		t.Errorf("expected 85%% -> 0.85, got %f", got.Alignment.Confidence)
	}
	if !reflect.DeepEqual(got.NextActions, []string{"only one action"}) {
		t.Errorf("expected scalar next_actions wrapped, got %v", got.NextActions)
	}
	if got.RiskLevel != report.LevelMedium {
		t.Errorf("expected moderate -> medium, got %s", got.RiskLevel)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	data := map[string]any{
		"hr_summary":   "x",
		"risks":        []any{map[string]any{"item": "r", "likelihood": "H", "mitigation": ""}},
		"needs":        "ask for help",
		"okr_alignment": map[string]any{"confidence": 1.7, "gaps": "G1"},
		"next_actions": []any{"a", "", "b"},
		"risk_level":   "偏低",
	}

	once := sanitize(data)

	// Round-trip through JSON, the same way a sanitized payload would
	// arrive if the model echoed it back.
	encoded, err := json.Marshal(once)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var roundTrip map[string]any
	if err := json.Unmarshal(encoded, &roundTrip); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	twice := sanitize(roundTrip)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("sanitize not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestNormalizeLevel_Total(t *testing.T) {
	cases := map[any]report.Level{
		"low":         report.LevelLow,
		"L":           report.LevelLow,
		"偏低":          report.LevelLow,
		"  High  ":    report.LevelHigh,
		"较高":          report.LevelHigh,
		"medium-high": report.LevelMedium,
		"中等":          report.LevelMedium,
		"banana":      report.LevelMedium,
		"":            report.LevelMedium,
		nil:           report.LevelMedium,
		3.14:          report.LevelMedium,
	}
	for input, want := range cases {
		if got := normalizeLevel(input); got != want {
			t.Errorf("normalizeLevel(%v): expected %s, got %s", input, want, got)
		}
	}
}

func TestNormalizeConfidence(t *testing.T) {
	cases := []struct {
		input any
		want  float64
	}{
		{0.7, 0.7},
		{float64(2), 1.0},
		{-0.3, 0.0},
		{"0.42", 0.42},
		{"85%", 0.85},
		{" 150% ", 1.0},
		{"garbage", 0.5},
		{nil, 0.5},
		{true, 0.5},
	}
	for _, tc := range cases {
		if got := normalizeConfidence(tc.input); got != tc.want {
			t.Errorf("normalizeConfidence(%v): expected %f, got %f", tc.input, tc.want, got)
		}
	}
}

func TestNormalizeStrList(t *testing.T) {
	if got := normalizeStrList([]any{"a", "", nil, "b", 7.0}); !reflect.DeepEqual(got, []string{"a", "b", "7"}) {
		t.Errorf("unexpected list normalization: %v", got)
	}
	if got := normalizeStrList("  solo  "); !reflect.DeepEqual(got, []string{"solo"}) {
		t.Errorf("expected scalar wrap, got %v", got)
	}
	if got := normalizeStrList(nil); !reflect.DeepEqual(got, []string{}) {
		t.Errorf("expected empty list for nil, got %v", got)
	}
	if got := normalizeStrList(map[string]any{"x": 1}); !reflect.DeepEqual(got, []string{}) {
		t.Errorf("expected empty list for object, got %v", got)
	}
}
