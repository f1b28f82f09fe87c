package trigger

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/logger"
)

// cronSchedule is a parsed 5-field cron expression (minute hour
// day-of-month month day-of-week), each field either "*" or a
// comma-separated list of integers. No corpus repo carries a cron
// dependency, so next-fire computation is hand-rolled on time.Timer
// rather than reaching outside the pack.
type cronSchedule struct {
	minute, hour, dom, month, dow fieldSet
	loc                           *time.Location
}

type fieldSet map[int]bool

func parseCron(expr, timezone string) (*cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, &cronParseError{expr: expr, reason: "expected 5 fields"}
	}
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, &cronParseError{expr: expr, reason: err.Error()}
		}
		loc = l
	}

	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, &cronParseError{expr: expr, reason: err.Error()}
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, &cronParseError{expr: expr, reason: err.Error()}
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, &cronParseError{expr: expr, reason: err.Error()}
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, &cronParseError{expr: expr, reason: err.Error()}
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, &cronParseError{expr: expr, reason: err.Error()}
	}
	return &cronSchedule{minute: minute, hour: hour, dom: dom, month: month, dow: dow, loc: loc}, nil
}

type cronParseError struct {
	expr, reason string
}

func (e *cronParseError) Error() string {
	return "invalid cron expression " + strconv.Quote(e.expr) + ": " + e.reason
}

func parseField(field string, min, max int) (fieldSet, error) {
	set := fieldSet{}
	if field == "*" {
		for i := min; i <= max; i++ {
			set[i] = true
		}
		return set, nil
	}
	for _, part := range strings.Split(field, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		set[n] = true
	}
	return set, nil
}

// next returns the first matching instant strictly after from, searching
// up to two years ahead before giving up.
func (s *cronSchedule) next(from time.Time) time.Time {
	t := from.In(s.loc).Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(2, 0, 0)
	for t.Before(limit) {
		if s.month[int(t.Month())] && s.dom[t.Day()] && s.dow[int(t.Weekday())] && s.hour[t.Hour()] && s.minute[t.Minute()] {
			return t
		}
		t = t.Add(time.Minute)
	}
	return limit
}

// installCron builds a schedule watcher backed by a self-rearming
// time.Timer; construction failures leave the rule watcher-less until the
// next reload, matching the poller's failure-isolation behavior.
func (m *Manager) installCron(rule *automation.Rule) *watcher {
	schedule, err := parseCron(rule.Trigger.Cron, rule.Trigger.Timezone)
	if err != nil {
		logger.Error("cron schedule could not be installed", "ruleId", rule.ID, "cron", rule.Trigger.Cron, "error", err)
		return &watcher{ruleID: rule.ID, cancel: func() {}, done: closedChan()}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := &watcher{ruleID: rule.ID, cancel: cancel, done: done}

	go func() {
		defer close(done)
		for {
			now := time.Now()
			fireAt := schedule.next(now)
			timer := time.NewTimer(fireAt.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				if !m.isRunning() {
					return
				}
				event := automation.TriggerEvent{
					Type:         automation.TriggerSchedule,
					ScheduleTime: &fireAt,
					Timestamp:    time.Now().UTC(),
				}
				if _, err := m.fire(ctx, rule, event); err != nil {
					logger.Error("scheduled trigger fire failed", "ruleId", rule.ID, "error", err)
				}
			}
		}
	}()
	return w
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
