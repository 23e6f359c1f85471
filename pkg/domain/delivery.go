package domain

import (
	"encoding"
	"time"
)

type DeliveryOutcome string

const (
	OutcomeSuccess          DeliveryOutcome = "success"
	OutcomeTransientFailure DeliveryOutcome = "transient_failure"
	OutcomePermanentFailure DeliveryOutcome = "permanent_failure"
)

var (
	_ encoding.BinaryMarshaler = DeliveryOutcome("")
	_ encoding.TextMarshaler   = DeliveryOutcome("")
)

func (o DeliveryOutcome) MarshalBinary() ([]byte, error) { return []byte(string(o)), nil }
func (o DeliveryOutcome) MarshalText() ([]byte, error)   { return []byte(string(o)), nil }

// DeliveryJob is one (event, subscription) unit of work. URL and SealedSecret
// are the snapshot taken when the event was dispatched.
type DeliveryJob struct {
	ID             string      `json:"id"`
	EventID        string      `json:"eventId"`
	Trigger        TriggerType `json:"trigger"`
	SubscriptionID string      `json:"subscriptionId"`
	ProjectID      string      `json:"projectId"`
	URL            string      `json:"url"`
	SealedSecret   string      `json:"sealedSecret"`
	Body           []byte      `json:"body"`
	Attempts       int         `json:"attempts"`
	MaxAttempts    int         `json:"maxAttempts"`
	LastError      string      `json:"lastError,omitempty"`
	TraceParent    string      `json:"traceParent,omitempty"`
	TraceState     string      `json:"traceState,omitempty"`
	EnqueuedAt     time.Time   `json:"enqueuedAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

type DeliveryAttempt struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscriptionId"`
	ProjectID      string          `json:"projectId"`
	EventID        string          `json:"eventId"`
	JobID          string          `json:"jobId"`
	Trigger        TriggerType     `json:"trigger"`
	Payload        string          `json:"payload"`
	AttemptNumber  int             `json:"attemptNumber"`
	Outcome        DeliveryOutcome `json:"outcome"`
	Final          bool            `json:"final"`
	StatusCode     int             `json:"statusCode,omitempty"`
	ResponseBody   string          `json:"responseBody,omitempty"`
	Error          string          `json:"error,omitempty"`
	LatencyMs      int64           `json:"latencyMs"`
	AttemptedAt    time.Time       `json:"attemptedAt"`
}

type QueueStats struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	InProgress int64 `json:"inProgress"`
}
