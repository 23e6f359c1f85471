package domain

import (
	"encoding"
	"strings"
)

type TriggerType string

// TriggerTypesVersion is bumped whenever a trigger is appended to SupportedTriggers.
const TriggerTypesVersion = 1

const (
	TriggerBotStateChange            TriggerType = "bot.state_change"
	TriggerTranscriptUpdate          TriggerType = "transcript.update"
	TriggerChatMessagesUpdate        TriggerType = "chat_messages.update"
	TriggerParticipantJoinLeave      TriggerType = "participant_events.join_leave"
	TriggerZoomOAuthConnectionChange TriggerType = "zoom_oauth_connection.state_change"
)

// SupportedTriggers is append-only. Order is the presentation order.
var SupportedTriggers = []TriggerType{
	TriggerBotStateChange,
	TriggerTranscriptUpdate,
	TriggerChatMessagesUpdate,
	TriggerParticipantJoinLeave,
	TriggerZoomOAuthConnectionChange,
}

var (
	_ encoding.BinaryMarshaler = TriggerType("")
	_ encoding.TextMarshaler   = TriggerType("")
)

func (t TriggerType) MarshalBinary() ([]byte, error) { return []byte(string(t)), nil }
func (t TriggerType) MarshalText() ([]byte, error)   { return []byte(string(t)), nil }

func (t TriggerType) Valid() bool {
	for _, s := range SupportedTriggers {
		if s == t {
			return true
		}
	}
	return false
}

// ParseTriggers validates raw trigger names and returns them deduplicated in
// order of first appearance.
func ParseTriggers(raw []string) ([]TriggerType, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Field: "triggers", Message: "at least one trigger is required"}
	}
	out := make([]TriggerType, 0, len(raw))
	seen := make(map[TriggerType]struct{}, len(raw))
	for _, r := range raw {
		t := TriggerType(strings.TrimSpace(r))
		if !t.Valid() {
			return nil, &ValidationError{Field: "triggers", Message: "Invalid webhook trigger type: " + r}
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
