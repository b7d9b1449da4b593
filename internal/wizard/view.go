package wizard

import (
	"strconv"

	"github.com/diagnosis/chapterhub/internal/domain"
)

type FieldView struct {
	domain.FormField
	Value    any  `json:"value,omitempty"`
	ReadOnly bool `json:"read_only,omitempty"`
}

type SummaryItem struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Snapshot is a read-only view for rendering the current step.
type Snapshot struct {
	Phase         Phase         `json:"phase"`
	Step          Step          `json:"step,omitempty"`
	CurrentStep   int           `json:"current_step"`
	TotalSteps    int           `json:"total_steps"`
	Event         *domain.Event `json:"event,omitempty"`
	Fields        []FieldView   `json:"fields,omitempty"`
	Fallback      bool          `json:"fallback,omitempty"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	Summary       []SummaryItem `json:"summary,omitempty"`
	Error         string        `json:"error,omitempty"`
	ClosedReason  string        `json:"closed_reason,omitempty"`
	Message       string        `json:"message,omitempty"`
	Submitting    bool          `json:"submitting"`
	RedirectTo    string        `json:"redirect_to,omitempty"`
}

func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		Phase:         w.phase,
		CurrentStep:   w.current,
		TotalSteps:    w.total,
		Fallback:      w.fallback,
		PaymentMethod: w.paymentMethod,
		Error:         w.errMsg,
		ClosedReason:  w.closedReason,
		Message:       w.message,
		Submitting:    w.submitting,
		RedirectTo:    w.redirectTo,
	}
	if w.phase == PhaseNew {
		return snap
	}
	ev := w.event
	snap.Event = &ev
	if w.phase != PhaseActive {
		return snap
	}

	snap.Step = StepAt(w.current, w.total)
	snap.Fields = make([]FieldView, 0, len(w.fields))
	for _, f := range w.fields {
		snap.Fields = append(snap.Fields, FieldView{FormField: f, Value: w.draft[f.Name], ReadOnly: w.readOnly[f.Name]})
	}
	if snap.Step == StepConfirm {
		snap.Summary = w.summary()
	}
	return snap
}

// Summary lists the draft in field order for the confirm step.
func (w *Wizard) Summary() []SummaryItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summary()
}

func (w *Wizard) summary() []SummaryItem {
	items := make([]SummaryItem, 0, len(w.fields))
	for _, f := range w.fields {
		label := f.Label
		if label == "" {
			label = f.Name
		}
		var value string
		switch v := w.draft[f.Name].(type) {
		case string:
			value = v
		case bool:
			value = "No"
			if v {
				value = "Yes"
			}
		case FileRef:
			value = v.Filename + " (" + strconv.Itoa(v.Size) + " bytes)"
		}
		items = append(items, SummaryItem{Name: f.Name, Label: label, Value: value})
	}
	if w.event.RequiresPayment() {
		items = append(items, SummaryItem{
			Name:  "registrationFee",
			Label: "Registration Fee",
			Value: strconv.FormatFloat(w.event.Registration.Fee, 'f', 2, 64) + " " + w.event.Registration.Currency,
		})
	}
	return items
}
