package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/diagnosis/chapterhub/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url, nats.Name("chapterhub"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// NoopBus drops every event. Used when NATS_URL is not configured.
type NoopBus struct{}

func (NoopBus) Publish(context.Context, string, interface{}) error { return nil }
func (NoopBus) Close() error                                       { return nil }

// Event subjects
const (
	CheckInSucceeded       = "checkin.succeeded"
	CheckInFailed          = "checkin.failed"
	RegistrationSubmitted  = "registration.submitted"
	RegistrationRedirected = "registration.redirected"
)

// Event payloads
type CheckInEvent struct {
	FlowID    string    `json:"flow_id"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	At        time.Time `json:"at"`
}

type RegistrationEvent struct {
	FlowID     string    `json:"flow_id"`
	EventSlug  string    `json:"event_slug"`
	RedirectTo string    `json:"redirect_to,omitempty"`
	At         time.Time `json:"at"`
}
