package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/scmhub/calendar"

	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/models"
)

// SegmentSchedule says when a segment may run.
type SegmentSchedule struct {
	RunHour       int    // hour of day in the schedule location
	CalendarMIC   string // ISO 10383 code, e.g. xkrx or xnys
	CheckCalendar bool
}

// DefaultSegments runs KOR at 09:00 and FOREIGN at 23:00 Korea time.
func DefaultSegments() map[models.Segment]SegmentSchedule {
	return map[models.Segment]SegmentSchedule{
		models.SegmentDomestic: {RunHour: 9, CalendarMIC: "xkrx", CheckCalendar: true},
		models.SegmentForeign:  {RunHour: 23, CalendarMIC: "xnys", CheckCalendar: true},
	}
}

// Schedule decides whether an invocation for a segment should do any work.
type Schedule struct {
	loc      *time.Location
	segments map[models.Segment]SegmentSchedule

	mu        sync.Mutex
	calendars map[string]*calendar.Calendar
}

// NewSchedule creates a schedule evaluated in loc.
func NewSchedule(loc *time.Location, segments map[models.Segment]SegmentSchedule) *Schedule {
	if loc == nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	if segments == nil {
		segments = DefaultSegments()
	}
	return &Schedule{
		loc:       loc,
		segments:  segments,
		calendars: make(map[string]*calendar.Calendar),
	}
}

// Active reports whether segment may run at now. When it may not, the reason
// is meant for the run summary; it is not an error.
func (s *Schedule) Active(segment models.Segment, now time.Time) (bool, string) {
	sched, ok := s.segments[segment]
	if !ok {
		return false, fmt.Sprintf("no schedule for segment %s", segment)
	}

	local := now.In(s.loc)
	if local.Hour() != sched.RunHour {
		return false, fmt.Sprintf("outside active hour for %s: runs at %02d:00 %s, now %s",
			segment, sched.RunHour, s.loc, local.Format("15:04"))
	}

	if sched.CheckCalendar {
		if open, day := s.businessDay(sched.CalendarMIC, now); !open {
			return false, fmt.Sprintf("%s is not a trading day on %s", day, sched.CalendarMIC)
		}
	}
	return true, ""
}

// Check is Active as an error wrapping ErrOutsideActiveHours, nil when the
// segment may run.
func (s *Schedule) Check(segment models.Segment, now time.Time) error {
	if ok, reason := s.Active(segment, now); !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrOutsideActiveHours, reason)
	}
	return nil
}

// businessDay checks the exchange calendar in the exchange's own timezone.
// Unknown MICs fall back to a weekday check.
func (s *Schedule) businessDay(mic string, now time.Time) (bool, string) {
	cal := s.calendar(mic)
	if cal == nil {
		day := now.In(s.loc)
		wd := day.Weekday()
		return wd != time.Saturday && wd != time.Sunday, day.Format("2006-01-02")
	}

	local := now
	if cal.Loc != nil {
		local = now.In(cal.Loc)
	}
	return cal.IsBusinessDay(local), local.Format("2006-01-02")
}

func (s *Schedule) calendar(mic string) *calendar.Calendar {
	if mic == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cal, ok := s.calendars[mic]; ok {
		return cal
	}
	cal := calendar.GetCalendar(mic)
	s.calendars[mic] = cal
	return cal
}
