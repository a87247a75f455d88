package broadcast

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrCancelled ends a run that was cancelled at a batch boundary.
	ErrCancelled = errors.New("broadcast cancelled")
	// ErrCancelDisabled is returned by Cancel when cancellation is switched off.
	ErrCancelDisabled = errors.New("broadcast cancellation disabled")
	// ErrNotAuthorized is returned by Cancel for non-admin callers.
	ErrNotAuthorized = errors.New("not authorized")
)

// Reason classifies an admission rejection.
type Reason string

const (
	ReasonNotAdmin          Reason = "not_admin"
	ReasonNoSource          Reason = "no_source"
	ReasonNoRecipients      Reason = "no_recipients"
	ReasonNoValidRecipients Reason = "no_valid_recipients"
	ReasonAlreadyActive     Reason = "already_active"
	ReasonCoolingDown       Reason = "cooling_down"
)

// AdmissionError rejects a start request. No state is changed by a rejected
// request. Error() is the text shown to the initiator.
type AdmissionError struct {
	Reason Reason
	// Remaining is set for ReasonCoolingDown.
	Remaining time.Duration
}

func (e *AdmissionError) Error() string {
	switch e.Reason {
	case ReasonNotAdmin:
		return "You must be an admin to use this command."
	case ReasonNoSource:
		return "Reply to a message to broadcast."
	case ReasonNoRecipients:
		return "No users to broadcast to."
	case ReasonNoValidRecipients:
		return "No valid users to broadcast to."
	case ReasonAlreadyActive:
		return "⚠️ There's already an active broadcast. Use /cancelbroadcast to stop it first."
	case ReasonCoolingDown:
		return fmt.Sprintf("⏳ Please wait %d seconds before starting another broadcast.", RemainingSeconds(e.Remaining))
	default:
		return "broadcast rejected: " + string(e.Reason)
	}
}

// RemainingSeconds rounds d up to whole seconds.
func RemainingSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// IsRejection reports whether err is an AdmissionError with one of reasons
// (any reason when none are given).
func IsRejection(err error, reasons ...Reason) bool {
	var ae *AdmissionError
	if !errors.As(err, &ae) {
		return false
	}
	if len(reasons) == 0 {
		return true
	}
	for _, r := range reasons {
		if ae.Reason == r {
			return true
		}
	}
	return false
}
