package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"stockwatch/internal/models"
)

// FormatDateTime formats a timestamp in loc.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02 15:04:05 MST")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if maxLen < 0 {
		maxLen = 0
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// SortedOutcomes returns the outcomes of counts in a stable display order.
func SortedOutcomes(counts map[models.Outcome]int) []models.Outcome {
	order := map[models.Outcome]int{
		models.OutcomeTriggered:   0,
		models.OutcomeAccumulate:  1,
		models.OutcomeExpired:     2,
		models.OutcomeConflict:    3,
		models.OutcomeFetchFailed: 4,
		models.OutcomeWriteFailed: 5,
		models.OutcomeInvalid:     6,
	}
	out := make([]models.Outcome, 0, len(counts))
	for o := range counts {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := order[out[i]]
		rj, jok := order[out[j]]
		if iok != jok {
			return iok
		}
		if ri != rj {
			return ri < rj
		}
		return strings.Compare(string(out[i]), string(out[j])) < 0
	})
	return out
}
