package static

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/hookq/pkg/auth"
)

type validatorConfig struct {
	// Token is the exact bearer token value expected by this validator.
	Token string `json:"token"`

	Subject string   `json:"subject,omitempty"`
	Email   string   `json:"email,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`

	// ProjectID and Role are copied into claims.Raw as projectId and role.
	ProjectID string `json:"projectId,omitempty"`
	Role      string `json:"role,omitempty"`

	Raw map[string]any `json:"raw,omitempty"`
}

type validator struct {
	cfg validatorConfig
}

// NewValidatorFromJSON accepts either an object
// {"token":"...","projectId":"..."} or a bare JSON string token.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, errors.New("static auth: missing config")
	}

	var cfg validatorConfig
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &cfg.Token); err != nil {
			return nil, fmt.Errorf("static auth: invalid config: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("static auth: invalid config: %w", err)
	}

	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, errors.New("static auth: token is required")
	}
	cfg.Subject = strings.TrimSpace(cfg.Subject)
	if cfg.Subject == "" {
		cfg.Subject = "static"
	}
	if cfg.Raw == nil {
		cfg.Raw = map[string]any{}
	}
	if cfg.ProjectID != "" {
		cfg.Raw["projectId"] = cfg.ProjectID
	}
	if cfg.Role != "" {
		cfg.Raw["role"] = cfg.Role
	}

	return &validator{cfg: cfg}, nil
}

func (v *validator) Validate(token string) (*auth.Claims, error) {
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(v.cfg.Token)) != 1 {
		return nil, errors.New("invalid token")
	}
	raw := make(map[string]any, len(v.cfg.Raw))
	for k, val := range v.cfg.Raw {
		raw[k] = val
	}
	return &auth.Claims{
		Subject: v.cfg.Subject,
		Email:   v.cfg.Email,
		Scopes:  v.cfg.Scopes,
		Raw:     raw,
	}, nil
}

func init() {
	auth.RegisterProvider("static", NewValidatorFromJSON)
}
