package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"gopkg.in/yaml.v3"

	"stockwatch/internal/coordinator"
	"stockwatch/internal/models"
)

func TestTruncateStringProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("never longer than maxLen", prop.ForAll(
		func(s string, maxLen int) bool {
			return len(TruncateString(s, maxLen)) <= maxLen || len(s) <= maxLen
		},
		gen.AlphaString(),
		gen.IntRange(0, 50),
	))

	properties.Property("short strings are untouched", prop.ForAll(
		func(s string) bool {
			return TruncateString(s, len(s)) == s
		},
		gen.AlphaString(),
	))

	properties.Property("truncated output keeps a prefix", prop.ForAll(
		func(s string, maxLen int) bool {
			out := strings.TrimSuffix(TruncateString(s, maxLen), "...")
			return strings.HasPrefix(s, out)
		},
		gen.AlphaString(),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestSortedOutcomes(t *testing.T) {
	got := SortedOutcomes(map[models.Outcome]int{
		models.OutcomeFetchFailed: 1,
		models.OutcomeAccumulate:  4,
		models.OutcomeTriggered:   2,
		models.Outcome("OTHER"):   1,
	})
	want := []models.Outcome{models.OutcomeTriggered, models.OutcomeAccumulate, models.OutcomeFetchFailed, "OTHER"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SortedOutcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestTableRenderAligns(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, FormatText, false)
	table := NewTable(out, "OUTCOME", "COUNT")
	table.AddRow("TRIGGERED", "1")
	table.AddRow("ACCUMULATE", "12")
	table.Render()

	want := "OUTCOME     COUNT\n" +
		"----------  -----\n" +
		"TRIGGERED   1\n" +
		"ACCUMULATE  12\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}

func sampleSummary() coordinator.RunSummary {
	start := time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)
	return coordinator.RunSummary{
		Segment:    models.SegmentDomestic,
		StartedAt:  start,
		FinishedAt: start.Add(1200 * time.Millisecond),
		Total:      3,
		Processed:  2,
		Outcomes:   map[models.Outcome]int{models.OutcomeTriggered: 1, models.OutcomeAccumulate: 1, models.OutcomeFetchFailed: 1},
		Errors:     errors.New("condition c: fetch error"),
		Messages:   []string{"condition c: fetch error"},
	}
}

func TestPrintSummaryText(t *testing.T) {
	var buf bytes.Buffer
	printSummary(newOutput(&buf, FormatText, false), sampleSummary(), time.FixedZone("KST", 9*60*60))

	text := buf.String()
	for _, want := range []string{"KOR run", "2025-10-15 09:00:00 KST", "Processed: 2 of 3", "TRIGGERED", "1 condition(s) failed", "condition c"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestPrintSummarySkipped(t *testing.T) {
	var buf bytes.Buffer
	printSummary(newOutput(&buf, FormatText, false), coordinator.RunSummary{
		Segment: models.SegmentForeign, Skipped: true, Reason: "outside active hour",
	}, nil)
	if got := strings.TrimSpace(buf.String()); got != "FOREIGN run skipped: outside active hour" {
		t.Errorf("got %q", got)
	}
}

func TestStructuredYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := newOutput(&buf, "YAML", true).Structured(sampleSummary()); err != nil {
		t.Fatalf("Structured: %v", err)
	}

	var decoded map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if decoded["segment"] != "KOR" || decoded["processed"] != 2 {
		t.Errorf("unexpected yaml: %v", decoded)
	}
	if errs, ok := decoded["errors"].([]interface{}); !ok || len(errs) != 1 {
		t.Errorf("errors = %v", decoded["errors"])
	}
}
