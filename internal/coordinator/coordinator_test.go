package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/evaluator"
	"stockwatch/internal/logging"
	"stockwatch/internal/models"
	"stockwatch/internal/notify"
	"stockwatch/internal/quote"
	"stockwatch/internal/store"
)

var kst = time.FixedZone("KST", 9*60*60)

func TestScheduleActiveHour(t *testing.T) {
	s := NewSchedule(kst, map[models.Segment]SegmentSchedule{
		models.SegmentDomestic: {RunHour: 9},
		models.SegmentForeign:  {RunHour: 23},
	})

	// Wednesday
	if ok, reason := s.Active(models.SegmentDomestic, time.Date(2025, 10, 15, 9, 30, 0, 0, kst)); !ok {
		t.Errorf("KOR at 09:30 should run: %s", reason)
	}
	ok, reason := s.Active(models.SegmentDomestic, time.Date(2025, 10, 15, 10, 0, 0, 0, kst))
	if ok || !strings.Contains(reason, "outside active hour") {
		t.Errorf("KOR at 10:00 should skip, got ok=%v reason=%q", ok, reason)
	}
	// 14:00 UTC is 23:00 KST.
	if ok, reason := s.Active(models.SegmentForeign, time.Date(2025, 10, 15, 14, 0, 0, 0, time.UTC)); !ok {
		t.Errorf("FOREIGN at 23:00 KST should run: %s", reason)
	}
	if ok, _ := s.Active(models.Segment("MARS"), time.Now()); ok {
		t.Error("unknown segment should not be active")
	}
}

func TestScheduleWeekendFallback(t *testing.T) {
	s := NewSchedule(kst, map[models.Segment]SegmentSchedule{
		models.SegmentDomestic: {RunHour: 9, CheckCalendar: true},
	})
	// Saturday
	ok, reason := s.Active(models.SegmentDomestic, time.Date(2025, 10, 18, 9, 0, 0, 0, kst))
	if ok || !strings.Contains(reason, "not a trading day") {
		t.Errorf("Saturday should skip, got ok=%v reason=%q", ok, reason)
	}
}

func TestScheduleExchangeHoliday(t *testing.T) {
	s := NewSchedule(kst, DefaultSegments())
	// 23:00 KST on 25 Dec 2025 is Christmas morning in New York.
	ok, reason := s.Active(models.SegmentForeign, time.Date(2025, 12, 25, 23, 0, 0, 0, kst))
	if ok {
		t.Errorf("NYSE holiday should skip, reason=%q", reason)
	}
}

type stubEvaluator struct {
	mu       sync.Mutex
	outcomes map[string]models.Outcome
	errs     map[string]error
	seen     []string
}

func (s *stubEvaluator) Evaluate(ctx context.Context, cond models.AlertCondition, now time.Time) (evaluator.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, cond.ID)
	return evaluator.Result{ConditionID: cond.ID, Outcome: s.outcomes[cond.ID]}, s.errs[cond.ID]
}

type listConditions struct {
	store.ConditionStore
	conds []models.AlertCondition
	err   error
}

func (l *listConditions) ActiveConditions(ctx context.Context, seg models.Segment) ([]models.AlertCondition, error) {
	return l.conds, l.err
}

func conds(ids ...string) []models.AlertCondition {
	out := make([]models.AlertCondition, len(ids))
	for i, id := range ids {
		out[i] = models.AlertCondition{ID: id}
	}
	return out
}

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestRunBatchSkipsOutsideHours(t *testing.T) {
	eval := &stubEvaluator{}
	c := New(&listConditions{conds: conds("a")}, eval, NewSchedule(kst, nil), 2, zerolog.Nop()).
		WithClock(fixedNow(time.Date(2025, 10, 15, 12, 0, 0, 0, kst)))

	summary, err := c.RunBatch(context.Background(), models.SegmentDomestic, RunOptions{})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if !summary.Skipped || len(eval.seen) != 0 {
		t.Errorf("expected a reported skip, got %+v", summary)
	}
	if !strings.HasPrefix(summary.Reason, "segment not scheduled: outside active hour") {
		t.Errorf("reason = %q", summary.Reason)
	}
}

func TestScheduleCheckWrapsSentinel(t *testing.T) {
	s := NewSchedule(kst, map[models.Segment]SegmentSchedule{models.SegmentDomestic: {RunHour: 9}})

	if err := s.Check(models.SegmentDomestic, time.Date(2025, 10, 15, 9, 0, 0, 0, kst)); err != nil {
		t.Fatalf("active hour: %v", err)
	}
	err := s.Check(models.SegmentDomestic, time.Date(2025, 10, 15, 11, 0, 0, 0, kst))
	if !errors.Is(err, apperrors.ErrOutsideActiveHours) {
		t.Fatalf("expected ErrOutsideActiveHours, got %v", err)
	}
	if err := s.Check(models.Segment("MARS"), time.Now()); !errors.Is(err, apperrors.ErrOutsideActiveHours) {
		t.Errorf("unknown segment: %v", err)
	}
}

// loggingEvaluator logs through whatever logger the run put on the context.
type loggingEvaluator struct{}

func (loggingEvaluator) Evaluate(ctx context.Context, cond models.AlertCondition, now time.Time) (evaluator.Result, error) {
	logging.FromContext(ctx, zerolog.Nop()).Info().Str("condition_id", cond.ID).Msg("evaluated")
	return evaluator.Result{ConditionID: cond.ID, Outcome: models.OutcomeAccumulate}, nil
}

func TestRunBatchTagsEvaluationsWithRunID(t *testing.T) {
	var buf bytes.Buffer
	c := New(&listConditions{conds: conds("a")}, loggingEvaluator{}, nil, 1, zerolog.New(&buf))

	first, err := c.RunBatch(context.Background(), models.SegmentDomestic, RunOptions{Force: true})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	second, err := c.RunBatch(context.Background(), models.SegmentDomestic, RunOptions{Force: true})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if first.RunID == "" || first.RunID == second.RunID {
		t.Fatalf("run ids must be unique: %q %q", first.RunID, second.RunID)
	}

	var evaluated int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if entry["run_id"] != first.RunID && entry["run_id"] != second.RunID {
			t.Errorf("line without run id: %s", line)
		}
		if entry["message"] == "evaluated" {
			evaluated++
			if entry["segment"] != "KOR" {
				t.Errorf("evaluation line missing segment: %s", line)
			}
		}
	}
	if evaluated != 2 {
		t.Errorf("expected 2 evaluation lines, got %d:\n%s", evaluated, buf.String())
	}
}

func TestRunBatchRejectsUnknownSegment(t *testing.T) {
	c := New(&listConditions{}, &stubEvaluator{}, nil, 1, zerolog.Nop())
	_, err := c.RunBatch(context.Background(), models.Segment("JP"), RunOptions{Force: true})
	if !errors.Is(err, apperrors.ErrInvalidSegment) {
		t.Errorf("expected ErrInvalidSegment, got %v", err)
	}
}

func TestRunBatchCollectsPerConditionErrors(t *testing.T) {
	eval := &stubEvaluator{
		outcomes: map[string]models.Outcome{
			"a": models.OutcomeAccumulate,
			"b": models.OutcomeFetchFailed,
			"c": models.OutcomeTriggered,
			"d": models.OutcomeConflict,
		},
		errs: map[string]error{"b": apperrors.NewFetchError("B", 503, "unexpected status", nil)},
	}
	c := New(&listConditions{conds: conds("a", "b", "c", "d")}, eval, nil, 3, zerolog.Nop())

	summary, err := c.RunBatch(context.Background(), models.SegmentDomestic, RunOptions{Force: true})
	if err != nil {
		t.Fatalf("a single failure must not abort the batch: %v", err)
	}
	if summary.Total != 4 || summary.Processed != 2 {
		t.Errorf("total=%d processed=%d, want 4/2", summary.Total, summary.Processed)
	}
	if summary.Outcomes[models.OutcomeFetchFailed] != 1 || summary.Outcomes[models.OutcomeConflict] != 1 {
		t.Errorf("outcomes = %v", summary.Outcomes)
	}
	if len(summary.Messages) != 1 || !strings.Contains(summary.Messages[0], "condition b") {
		t.Errorf("messages = %v", summary.Messages)
	}
	if len(eval.seen) != 4 {
		t.Errorf("every condition should be evaluated, saw %v", eval.seen)
	}
}

func TestRunBatchFatalAborts(t *testing.T) {
	eval := &stubEvaluator{
		errs: map[string]error{"a": apperrors.NewConfigError("credentials", "missing", apperrors.ErrMissingCredentials)},
	}
	c := New(&listConditions{conds: conds("a")}, eval, nil, 1, zerolog.Nop())

	_, err := c.RunBatch(context.Background(), models.SegmentForeign, RunOptions{Force: true})
	if !apperrors.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestRunBatchLoadFailure(t *testing.T) {
	c := New(&listConditions{err: errors.New("db down")}, &stubEvaluator{}, nil, 1, zerolog.Nop())
	if _, err := c.RunBatch(context.Background(), models.SegmentDomestic, RunOptions{Force: true}); err == nil {
		t.Fatal("expected load error")
	}
}

type recordingPusher struct {
	mu   sync.Mutex
	sent []string
}

func (p *recordingPusher) Send(ctx context.Context, token, title, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, token+"|"+body)
	return nil
}

// End to end over SQLite: one condition triggers, one accumulates, one fails to fetch.
func TestRunBatchEndToEnd(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "run.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	quotes := map[string]string{"005930": "2.50", "000660": "0.40"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.URL.Path, "/")
		rate, ok := quotes[code]
		if !ok {
			http.Error(w, "unknown", http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `{"itemCode":%q,"stockName":"S","closePrice":"71,300","fluctuationsRatio":%q,"marketStatus":"CLOSE","localTradedAt":"2025-10-14T15:30:00+09:00"}`, code, rate)
	}))
	defer srv.Close()

	start := time.Date(2025, 10, 13, 9, 0, 0, 0, kst)
	now := time.Date(2025, 10, 15, 9, 0, 0, 0, kst)
	for _, code := range []string{"005930", "000660", "999999"} {
		sub := models.Subscription{
			ID: "sub-" + code, UserID: "user-1", StockCode: code, StockName: "Stock " + code,
			Segment: models.SegmentDomestic, QuoteEndpoint: srv.URL + "/" + code,
		}
		if err := db.SaveSubscription(ctx, sub); err != nil {
			t.Fatalf("SaveSubscription: %v", err)
		}
		cond := models.AlertCondition{
			ID: "cond-" + code, SubscriptionID: sub.ID, Type: models.ConditionRise,
			Threshold: decimal.NewFromInt(5), PeriodDays: 5,
			CumulativeChangeRate: decimal.RequireFromString("3.0"),
			TrackingStartedAt:    start, TrackingEndedAt: models.WindowEnd(start, 5), IsActive: true,
		}
		if err := db.SaveCondition(ctx, cond); err != nil {
			t.Fatalf("SaveCondition: %v", err)
		}
	}
	db.SaveDeviceToken(ctx, "user-1", models.DeviceToken{Token: "device-token-0001", DeviceType: "android"}, true)

	pusher := &recordingPusher{}
	dispatcher := notify.NewDispatcher(db, db, pusher, notify.Options{}, zerolog.Nop())
	eval := evaluator.New(db, quote.NewClient(quote.Options{Timeout: time.Second}, zerolog.Nop()), dispatcher,
		evaluator.Options{Location: kst}, zerolog.Nop())
	c := New(db, eval, NewSchedule(kst, nil), 4, zerolog.Nop()).WithClock(fixedNow(now))

	summary, err := c.RunBatch(ctx, models.SegmentDomestic, RunOptions{Force: true})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if summary.Total != 3 || summary.Processed != 2 || len(summary.Messages) != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.Outcomes[models.OutcomeTriggered] != 1 || summary.Outcomes[models.OutcomeAccumulate] != 1 {
		t.Errorf("outcomes = %v", summary.Outcomes)
	}

	triggered, _ := db.GetCondition(ctx, "cond-005930")
	if !triggered.CumulativeChangeRate.IsZero() || !triggered.TrackingStartedAt.Equal(now) {
		t.Errorf("triggered condition not reset: %+v", triggered)
	}
	records, _ := db.NotificationsForCondition(ctx, "cond-005930")
	if len(records) != 1 || !records[0].CumulativeChangeRate.Equal(decimal.RequireFromString("5.5")) {
		t.Errorf("records = %+v", records)
	}
	if len(pusher.sent) != 1 || !strings.Contains(pusher.sent[0], "(+2.50%)") {
		t.Errorf("pushes = %v", pusher.sent)
	}

	accumulated, _ := db.GetCondition(ctx, "cond-000660")
	if !accumulated.CumulativeChangeRate.Equal(decimal.RequireFromString("3.4")) {
		t.Errorf("accumulated rate = %s, want 3.4", accumulated.CumulativeChangeRate)
	}

	failed, _ := db.GetCondition(ctx, "cond-999999")
	if failed.LastCheckedAt != nil || failed.Version != 0 {
		t.Errorf("fetch failure must leave the row untouched: %+v", failed)
	}
}
