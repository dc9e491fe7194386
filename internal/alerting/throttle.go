package alerting

import (
	"time"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// CanTrigger reports whether a new instance of alert may be created at now:
// the alert is active and either never triggered or triggered at least one
// throttle interval ago.
func CanTrigger(alert *models.Alert, now time.Time) bool {
	if alert == nil || !alert.IsActive {
		return false
	}
	if alert.LastTriggeredAt == nil {
		return true
	}
	return now.Sub(*alert.LastTriggeredAt) >= alert.Throttle()
}

// NextTriggerAt returns the earliest time alert may trigger again. The zero
// time means it may trigger now.
func NextTriggerAt(alert *models.Alert) time.Time {
	if alert.LastTriggeredAt == nil {
		return time.Time{}
	}
	return alert.LastTriggeredAt.Add(alert.Throttle())
}
