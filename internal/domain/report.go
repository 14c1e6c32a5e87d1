package domain

import "time"

// ReportWindow is the half-open interval [Start, End) a report covers.
// Both bounds are UTC; End is snapped by the window resolver.
type ReportWindow struct {
	Start time.Time
	End   time.Time
}

// Format renders the window the way it appears inside report text.
func (w ReportWindow) Format() string {
	const layout = "2006-01-02 15:04"
	return w.Start.UTC().Format(layout) + " — " + w.End.UTC().Format(layout)
}

// Report is a finished per-(subscriber, pack, window) digest.
// Rows are insert-only; (UserID, PackKey, Window, InputHash) is the
// idempotence key.
type Report struct {
	ID        string
	UserID    int64
	PackID    int64
	PackKey   string
	Window    ReportWindow
	Text      string
	InputHash string
	Model     string
	FactCount int
	CreatedAt time.Time
}

// Pack is a named subscription group mapping to a set of channels.
type Pack struct {
	ID         int64
	Key        string
	Title      string
	PromptText string
}

// Subscriber is a delivery target resolved from the users table.
type Subscriber struct {
	ID   int64
	TgID int64
}

// SubscriberSettings gates when and in which shape a subscriber is served.
type SubscriberSettings struct {
	DeliveryEnabled bool
	IntervalSec     int
	LastSentAt      *time.Time
	PauseUntil      *time.Time
	FormatMode      string
}

// Due reports whether the subscriber should receive anything at the given
// instant: delivery on, pause lapsed, interval elapsed.
func (s SubscriberSettings) Due(now time.Time) bool {
	if !s.DeliveryEnabled {
		return false
	}
	if s.PauseUntil != nil && s.PauseUntil.After(now) {
		return false
	}
	if s.IntervalSec > 0 && s.LastSentAt != nil {
		if now.Sub(*s.LastSentAt) < time.Duration(s.IntervalSec)*time.Second {
			return false
		}
	}
	return true
}
