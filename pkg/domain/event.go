package domain

import (
	"encoding/json"
	"time"
)

// Event is one emission from the host platform. Its JSON encoding is the
// delivery body; field order is fixed by the struct.
type Event struct {
	ID        string          `json:"eventId"`
	Trigger   TriggerType     `json:"trigger"`
	ProjectID string          `json:"projectId"`
	BotID     string          `json:"botId,omitempty"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func NewEvent(id string, trigger TriggerType, projectID, botID string, data json.RawMessage, now time.Time) Event {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return Event{
		ID:        id,
		Trigger:   trigger,
		ProjectID: projectID,
		BotID:     botID,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// Body returns the canonical bytes that are signed and transmitted.
func (e Event) Body() ([]byte, error) {
	return json.Marshal(e)
}
