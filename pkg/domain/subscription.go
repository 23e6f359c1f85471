package domain

import "time"

// Subscription binds a project (and optionally one bot) to an HTTPS endpoint.
// Seq and SealedSecret never leave the service.
type Subscription struct {
	ID           string        `json:"subscriptionId"`
	Seq          int64         `json:"-"`
	ProjectID    string        `json:"projectId"`
	BotID        string        `json:"botId,omitempty"`
	URL          string        `json:"url"`
	Triggers     []TriggerType `json:"triggers"`
	SealedSecret string        `json:"-"`
	IsActive     bool          `json:"isActive"`
	CreatedAt    time.Time     `json:"createdAt"`
}

func (s Subscription) HasTrigger(t TriggerType) bool {
	for _, x := range s.Triggers {
		if x == t {
			return true
		}
	}
	return false
}

// BotLevel reports whether the subscription is scoped to a single bot.
func (s Subscription) BotLevel() bool { return s.BotID != "" }

// Redacted returns a copy safe for read paths.
func (s Subscription) Redacted() Subscription {
	s.SealedSecret = ""
	s.Triggers = append([]TriggerType(nil), s.Triggers...)
	return s
}
