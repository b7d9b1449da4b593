package wizard

import (
	"errors"

	"github.com/diagnosis/chapterhub/internal/domain"
)

type Phase string

const (
	PhaseNew       Phase = "new"
	PhaseActive    Phase = "active"
	PhaseClosed    Phase = "closed"
	PhaseSucceeded Phase = "success"
)

type Step string

const (
	StepDetails Step = "details"
	StepPayment Step = "payment"
	StepConfirm Step = "confirm"
)

var PaymentMethods = []string{"upi", "card", "cash"}

var (
	ErrNotLoaded     = errors.New("registration is not loaded")
	ErrClosed        = errors.New("registration is closed")
	ErrFinished      = errors.New("registration already submitted")
	ErrBusy          = errors.New("a submission is already in progress")
	ErrFirstStep     = errors.New("already on the first step")
	ErrNotFinalStep  = errors.New("submit is only allowed from the confirmation step")
	ErrWrongStep     = errors.New("action not available on this step")
	ErrUnknownField  = errors.New("unknown field")
	ErrReadOnly      = errors.New("field is read-only")
	ErrInvalidValue  = errors.New("invalid value for field")
	ErrPaymentMethod = errors.New("unknown payment method")
)

// ValidationError blocks a step transition. Message is shown as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ComputeTotalSteps is 2 without a registration fee and 3 with one.
func ComputeTotalSteps(ev domain.Event) int {
	if ev.RequiresPayment() {
		return 3
	}
	return 2
}

// StepAt maps a 1-based position to the step shown there.
func StepAt(n, total int) Step {
	switch {
	case n <= 1:
		return StepDetails
	case n == 2 && total == 3:
		return StepPayment
	default:
		return StepConfirm
	}
}

// FallbackFields is used when the event defines no registration form.
func FallbackFields() []domain.FormField {
	return []domain.FormField{
		{Name: "name", Label: "Full Name", Type: domain.FieldText, Required: true, Placeholder: "Enter your full name"},
		{Name: "email", Label: "Email", Type: domain.FieldEmail, Required: true, Placeholder: "Enter your email"},
		{Name: "phone", Label: "Phone Number", Type: domain.FieldText, Required: false, Placeholder: "Enter your phone number"},
	}
}

// prefillable profile attributes, keyed by field name
var profileFields = []string{"name", "email", "phone"}
