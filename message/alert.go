package message

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	// ErrMissingAlertID indicates the alert has no identifier.
	ErrMissingAlertID = errors.New("missing alert ID")

	// ErrMissingMessage indicates the alert has no message text.
	ErrMissingMessage = errors.New("missing alert message")
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// Alert is a fire-and-forget broadcast notification. It carries no
// acknowledgment and may be observed by zero or more subscribers.
type Alert struct {
	// ID uniquely identifies the alert.
	ID string `json:"alert_id"`

	// SourceAgent identifies the agent instance that raised the alert.
	SourceAgent string `json:"source_agent"`

	// Severity classifies the alert.
	Severity Severity `json:"severity"`

	// Message is the human-readable alert text.
	Message string `json:"message"`

	// Context carries additional structured detail.
	Context map[string]any `json:"context,omitempty"`

	// CreatedAt is when the alert was raised.
	CreatedAt time.Time `json:"created_at"`
}

// NewAlert creates an alert with a generated ID.
func NewAlert(sourceAgent string, severity Severity, msg string, ctx map[string]any) *Alert {
	return &Alert{
		ID:          uuid.NewString(),
		SourceAgent: sourceAgent,
		Severity:    severity,
		Message:     msg,
		Context:     ctx,
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks that the alert carries the required fields.
func (a *Alert) Validate() error {
	if a.ID == "" {
		return ErrMissingAlertID
	}
	if a.Message == "" {
		return ErrMissingMessage
	}
	return nil
}

// Marshal serializes the alert to JSON.
func (a *Alert) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalAlert deserializes an alert from JSON.
func UnmarshalAlert(data []byte) (*Alert, error) {
	var a Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
