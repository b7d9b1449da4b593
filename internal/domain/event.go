package domain

import (
	"strings"
	"time"
)

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldNumber   FieldType = "number"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldFile     FieldType = "file"
	FieldCheckbox FieldType = "checkbox"
)

func ParseFieldType(s string) (FieldType, bool) {
	switch FieldType(strings.ToLower(strings.TrimSpace(s))) {
	case FieldText, FieldEmail, FieldNumber, FieldTextarea, FieldSelect, FieldFile, FieldCheckbox:
		return FieldType(strings.ToLower(strings.TrimSpace(s))), true
	default:
		return "", false
	}
}

// FormField is one server-supplied registration input.
type FormField struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Options     []string  `json:"options,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
}

type Registration struct {
	Fee        float64    `json:"fee"`
	Currency   string     `json:"currency,omitempty"`
	Open       *bool      `json:"isOpen,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	Capacity   int        `json:"capacity,omitempty"`
	Registered int        `json:"registeredCount,omitempty"`
}

type Event struct {
	ID           string       `json:"_id"`
	Slug         string       `json:"slug"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Venue        string       `json:"venue,omitempty"`
	StartsAt     *time.Time   `json:"startDate,omitempty"`
	CollegeID    string       `json:"college,omitempty"`
	ClubID       string       `json:"club,omitempty"`
	Registration Registration `json:"registration"`
}

// RequiresPayment reports whether the event charges a registration fee.
func (e Event) RequiresPayment() bool {
	return e.Registration.Fee > 0
}

// ClosedReason returns why registration is not accepted at now, or "" when open.
func (e Event) ClosedReason(now time.Time) string {
	r := e.Registration
	if r.Open != nil && !*r.Open {
		return "Registration for this event is closed."
	}
	if r.Deadline != nil && now.After(*r.Deadline) {
		return "The registration deadline for this event has passed."
	}
	if r.Capacity > 0 && r.Registered >= r.Capacity {
		return "This event has reached its maximum capacity."
	}
	return ""
}
