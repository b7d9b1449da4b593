package checkin

import (
	"errors"
	"fmt"

	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/geo"
)

type State string

const (
	Idle              State = "idle"
	AcquiringLocation State = "acquiring_location"
	LocationReady     State = "location_ready"
	LocationError     State = "location_error"
	Scanning          State = "scanning"
	Succeeded         State = "success"
	Failed            State = "failure"
)

const (
	DefaultMaxAccuracy = 500.0

	successFallback = "Attendance marked successfully!"
	failureFallback = "Failed to mark attendance. Please try again."
	sessionExpired  = "Your session has expired. Please log in again."
)

// TooInaccurateMessage is shown when a fix is rejected by the accuracy gate.
func TooInaccurateMessage(maxAccuracy float64) string {
	return fmt.Sprintf("Location accuracy is too low (over %gm). Please move to an open area and refresh your location.", maxAccuracy)
}

var (
	ErrBusy       = errors.New("a request is already in progress")
	ErrNoLocation = errors.New("location is not available yet")
	ErrEmptyToken = errors.New("check-in code is required")
	ErrNotFailed  = errors.New("nothing to retry")
	ErrNotMounted = errors.New("check-in flow is not mounted")
	ErrNoResult   = errors.New("no check-in result to start over from")
	ErrFinished   = errors.New("check-in already succeeded; scan another code to start over")
)

// Snapshot is a read-only view of the controller for rendering.
type Snapshot struct {
	State         State                   `json:"state"`
	Location      *domain.LocationReading `json:"location,omitempty"`
	LocationError geo.Kind                `json:"location_error,omitempty"`
	NeedsSettings bool                    `json:"needs_settings,omitempty"`
	URLToken      string                  `json:"url_token,omitempty"`
	Mode          domain.TokenSource      `json:"mode"`
	Token         string                  `json:"token,omitempty"`
	TokenConsumed bool                    `json:"token_consumed"`
	AutoScanned   bool                    `json:"auto_scanned"`
	Message       string                  `json:"message,omitempty"`
	RedirectTo    string                  `json:"redirect_to,omitempty"`
	Attempts      int                     `json:"attempts"`
}

// Outcome is handed to the Celebrator after a successful check-in.
type Outcome struct {
	Token   string
	Source  domain.TokenSource
	Message string
	Reading domain.LocationReading
}
