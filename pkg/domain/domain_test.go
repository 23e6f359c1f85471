package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestTriggerTypeMarshalText(t *testing.T) {
	tests := []struct {
		name string
		tt   TriggerType
		want string
	}{
		{"bot state", TriggerBotStateChange, "bot.state_change"},
		{"transcript", TriggerTranscriptUpdate, "transcript.update"},
		{"custom", TriggerType("custom.event"), "custom.event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.tt.MarshalText()
			if err != nil {
				t.Fatalf("MarshalText() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("MarshalText() = %v, want %v", string(got), tt.want)
			}
			bin, _ := tt.tt.MarshalBinary()
			if string(bin) != tt.want {
				t.Errorf("MarshalBinary() = %v, want %v", string(bin), tt.want)
			}
		})
	}
}

func TestParseTriggers(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []TriggerType
		wantErr string
	}{
		{"empty", nil, nil, "at least one trigger"},
		{"single", []string{"bot.state_change"}, []TriggerType{TriggerBotStateChange}, ""},
		{"dedupe keeps first order", []string{"transcript.update", "bot.state_change", "transcript.update"},
			[]TriggerType{TriggerTranscriptUpdate, TriggerBotStateChange}, ""},
		{"unknown", []string{"bot.state_change", "bot.exploded"}, nil, "Invalid webhook trigger type: bot.exploded"},
		{"whitespace trimmed", []string{" chat_messages.update "}, []TriggerType{TriggerChatMessagesUpdate}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTriggers(tt.in)
			if tt.wantErr != "" {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error %q does not contain %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSubscriptionRedactedDropsSecret(t *testing.T) {
	sub := Subscription{ID: "webhook_x", Seq: 7, SealedSecret: "v1:abc", Triggers: []TriggerType{TriggerBotStateChange}}
	r := sub.Redacted()
	if r.SealedSecret != "" {
		t.Fatal("expected sealed secret to be cleared")
	}
	r.Triggers[0] = TriggerTranscriptUpdate
	if sub.Triggers[0] != TriggerBotStateChange {
		t.Fatal("redacted copy must not share trigger storage")
	}

	b, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "v1:abc") || strings.Contains(string(b), "\"seq\"") {
		t.Fatalf("secret or internal key leaked: %s", b)
	}
}

func TestEventBodyIsStable(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := NewEvent("ev-1", TriggerBotStateChange, "proj", "", json.RawMessage(`{"b":1,"a":2}`), now)
	b1, err := ev.Body()
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	b2, _ := ev.Body()
	if string(b1) != string(b2) {
		t.Fatalf("body not stable: %s vs %s", b1, b2)
	}
	want := `{"eventId":"ev-1","trigger":"bot.state_change","projectId":"proj","timestamp":"2024-05-01T12:00:00Z","data":{"b":1,"a":2}}`
	if string(b1) != want {
		t.Fatalf("body = %s, want %s", b1, want)
	}
}

func TestEventDefaultsData(t *testing.T) {
	ev := NewEvent("ev-2", TriggerTranscriptUpdate, "p", "bot_1", nil, time.Now())
	if string(ev.Data) != "{}" {
		t.Fatalf("expected empty object data, got %s", ev.Data)
	}
}

func TestDeliveryErrorClassification(t *testing.T) {
	transient := fmt.Errorf("attempt 2: %w", &DeliveryError{Transient: true, StatusCode: 503})
	if !IsTransient(transient) {
		t.Fatal("expected wrapped 503 to be transient")
	}
	permanent := &DeliveryError{StatusCode: 400}
	if IsTransient(permanent) {
		t.Fatal("expected 400 to be permanent")
	}
	if IsTransient(errors.New("plain")) {
		t.Fatal("plain errors are not delivery errors")
	}
	if got := permanent.Error(); got != "permanent delivery failure: status 400" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestFatalConfigurationErrorUnwraps(t *testing.T) {
	err := &FatalConfigurationError{Reason: "sign", Err: ErrMissingSecret}
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatal("expected errors.Is to reach ErrMissingSecret")
	}
}
