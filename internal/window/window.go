package window

import (
	"strings"
	"time"

	"vestnik/internal/domain"
)

// Snap is the granularity the window end is truncated to. Snapping collapses
// near-identical invocations (a retry seconds later) onto one window so the
// report cache can recognize them as the same request.
type Snap string

const (
	SnapNone    Snap = "none"
	SnapMinute  Snap = "minute"
	Snap5Minute Snap = "5min"
	Snap10Min   Snap = "10min"
	SnapHour    Snap = "hour"
)

// ParseSnap maps a config string onto a Snap mode; unknown values fall back
// to minute, the operational default.
func ParseSnap(s string) Snap {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off", "":
		return SnapNone
	case "minute", "1min", "min":
		return SnapMinute
	case "5min", "5minute", "5m":
		return Snap5Minute
	case "10min", "10minute", "10m":
		return Snap10Min
	case "hour", "1h":
		return SnapHour
	default:
		return SnapMinute
	}
}

func (s Snap) truncate(t time.Time) time.Time {
	switch s {
	case SnapMinute:
		return t.Truncate(time.Minute)
	case Snap5Minute:
		return t.Truncate(5 * time.Minute)
	case Snap10Min:
		return t.Truncate(10 * time.Minute)
	case SnapHour:
		return t.Truncate(time.Hour)
	default:
		return t
	}
}

// Request carries the inputs of one window resolution.
type Request struct {
	End   *time.Time
	Start *time.Time
	Hours int
	Snap  Snap
}

// Resolve computes the half-open [start, end) interval for a report.
// End defaults to now, snapped down to the configured granularity; start is
// end minus Hours unless supplied explicitly (then snapped to the minute when
// snapping is on). Returns domain.ErrInvalidWindow when start >= end.
func Resolve(req Request, now time.Time) (domain.ReportWindow, error) {
	end := now
	if req.End != nil {
		end = *req.End
	}
	end = req.Snap.truncate(end.UTC())

	var start time.Time
	if req.Start != nil {
		start = req.Start.UTC()
		if req.Snap != SnapNone {
			start = SnapMinute.truncate(start)
		}
	} else {
		start = end.Add(-time.Duration(req.Hours) * time.Hour)
	}

	if !start.Before(end) {
		return domain.ReportWindow{}, domain.ErrInvalidWindow
	}

	return domain.ReportWindow{Start: start, End: end}, nil
}
