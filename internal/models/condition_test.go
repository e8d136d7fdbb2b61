package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var kst = time.FixedZone("KST", 9*60*60)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCrossed(t *testing.T) {
	tests := []struct {
		typ  ConditionType
		rate string
		want bool
	}{
		{ConditionRise, "4.99", false},
		{ConditionRise, "5.00", true},
		{ConditionRise, "-9", false},
		{ConditionDrop, "-4.99", false},
		{ConditionDrop, "-5", true},
		{ConditionDrop, "7", false},
		{ConditionType("sideways"), "100", false},
	}
	for _, tt := range tests {
		c := AlertCondition{Type: tt.typ, Threshold: dec("5")}
		if got := c.Crossed(dec(tt.rate)); got != tt.want {
			t.Errorf("%s crossed(%s) = %v, want %v", tt.typ, tt.rate, got, tt.want)
		}
	}
}

func TestExpiredComparesDates(t *testing.T) {
	start := time.Date(2025, 10, 13, 9, 0, 0, 0, kst)
	c := AlertCondition{TrackingStartedAt: start, TrackingEndedAt: WindowEnd(start, 5)}

	if c.Expired(time.Date(2025, 10, 17, 23, 59, 0, 0, kst), kst) {
		t.Error("day before end must not expire")
	}
	// Earlier in the day than the stored end time still counts as reached.
	if !c.Expired(time.Date(2025, 10, 18, 0, 1, 0, 0, kst), kst) {
		t.Error("end date reached should expire")
	}
	if !c.Expired(time.Date(2025, 10, 20, 9, 0, 0, 0, kst), kst) {
		t.Error("passed end date should expire")
	}
}

func TestIdempotencyKeyFollowsWindow(t *testing.T) {
	start := time.Date(2025, 10, 13, 9, 0, 0, 0, kst)
	c := AlertCondition{ID: "c1", TrackingStartedAt: start}
	first := c.IdempotencyKey()

	c.TrackingStartedAt = start.AddDate(0, 0, 3)
	if first == c.IdempotencyKey() {
		t.Error("a new window must produce a new key")
	}
	if first != "c1:1760313600" {
		t.Errorf("key = %q", first)
	}
}

func TestMethodsOnConditionValues(t *testing.T) {
	start := time.Date(2025, 10, 13, 9, 0, 0, 0, kst)
	byValue := func() AlertCondition {
		return AlertCondition{ID: "c1", Type: ConditionDrop, Threshold: dec("3"), PeriodDays: 2, TrackingStartedAt: start}
	}
	if got := byValue().IdempotencyKey(); got != "c1:1760313600" {
		t.Errorf("key = %q", got)
	}
	if !byValue().Crossed(dec("-3")) || byValue().Validate() != nil {
		t.Error("drop condition should validate and cross at -3")
	}
}

func TestValidate(t *testing.T) {
	valid := AlertCondition{ID: "c1", Type: ConditionRise, Threshold: dec("5"), PeriodDays: 3}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid condition rejected: %v", err)
	}

	for name, mutate := range map[string]func(*AlertCondition){
		"empty id":       func(c *AlertCondition) { c.ID = "" },
		"bad type":       func(c *AlertCondition) { c.Type = "flat" },
		"zero threshold": func(c *AlertCondition) { c.Threshold = decimal.Zero },
		"zero period":    func(c *AlertCondition) { c.PeriodDays = 0 },
	} {
		c := valid
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseSegment(t *testing.T) {
	if s, err := ParseSegment(" kor "); err != nil || s != SegmentDomestic {
		t.Errorf("ParseSegment(kor) = %q, %v", s, err)
	}
	if _, err := ParseSegment("JP"); err == nil {
		t.Error("JP should be rejected")
	}
	if ParseMarketStatus("HALTED") != MarketClosed {
		t.Error("unknown market status should map to CLOSE")
	}
}
