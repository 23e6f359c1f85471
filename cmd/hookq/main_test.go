package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/osvaldoandrade/hookq/pkg/signature"
)

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOOKQ_CONFIG_DIR", dir)

	cfg, path, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() on missing file: %v", err)
	}
	if path != filepath.Join(dir, "config.yaml") {
		t.Fatalf("config path = %s", path)
	}
	cfg.CurrentProfile = "staging"
	cfg.Profiles["staging"] = profile{BaseURL: "https://hooks.example.com", Token: "tok"}
	if err := saveConfig(cfg, path); err != nil {
		t.Fatalf("saveConfig() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	again, _, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if resolveProfileName("", again) != "staging" {
		t.Errorf("current profile not persisted")
	}
	if again.Profiles["staging"].BaseURL != "https://hooks.example.com" {
		t.Errorf("profile = %+v", again.Profiles["staging"])
	}
	if resolveProfileName("prod", again) != "prod" {
		t.Errorf("flag should win over current profile")
	}
}

func TestApplyProfile(t *testing.T) {
	t.Setenv("HOOKQ_BASE_URL", "")
	t.Setenv("HOOKQ_TOKEN", "")
	prof := profile{BaseURL: "https://p.example.com", Token: "ptoken", BotID: "bot_9", Admin: true}
	none := func(string) bool { return false }

	g := &globals{baseURL: defaultBaseURL}
	applyProfile(g, prof, none)
	if g.baseURL != prof.BaseURL || g.token != prof.Token || !g.admin || g.botID != "bot_9" {
		t.Fatalf("profile not applied: %+v", g)
	}

	g = &globals{baseURL: "https://flag.example.com", token: "flagtok"}
	applyProfile(g, prof, func(name string) bool { return name == "base-url" || name == "token" })
	if g.baseURL != "https://flag.example.com" || g.token != "flagtok" {
		t.Fatalf("flags overridden by profile: %+v", g)
	}

	t.Setenv("HOOKQ_TOKEN", "envtok")
	g = &globals{baseURL: defaultBaseURL, token: "envtok"}
	applyProfile(g, prof, none)
	if g.token != "envtok" {
		t.Fatalf("env token overridden by profile: %q", g.token)
	}
}

func TestMaskToken(t *testing.T) {
	tests := map[string]string{
		"":                 "<unset>",
		"short":            "****",
		"abcd1234efgh5678": "abcd...5678",
	}
	for in, want := range tests {
		if got := maskToken(in); got != want {
			t.Errorf("maskToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReadEventData(t *testing.T) {
	raw, err := readEventData(`{"a":1}`, "")
	if err != nil || string(raw) != `{"a":1}` {
		t.Fatalf("inline data = %s, %v", raw, err)
	}
	raw, err = readEventData("", "")
	if err != nil || string(raw) != "{}" {
		t.Fatalf("empty data = %s, %v", raw, err)
	}
	if _, err := readEventData("{not json", ""); err == nil {
		t.Fatal("expected invalid JSON error")
	}

	file := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(file, []byte(`{"b":true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	raw, err = readEventData("{}", file)
	if err != nil || string(raw) != `{"b":true}` {
		t.Fatalf("file data = %s, %v", raw, err)
	}
}

func TestClientCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		if r.Header.Get("X-Role") != "ADMIN" {
			t.Errorf("admin header missing")
		}
		switch r.URL.Path {
		case apiPrefix + "/webhooks/webhook_missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"webhook webhook_missing not found"}`))
		case apiPrefix + "/events":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(emitResult{EventID: "ev-1", Matched: 2})
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := newClient(srv.URL+"/", "tok", true)

	var res emitResult
	if err := c.call(ctx, http.MethodPost, "/events", map[string]any{"trigger": "bot.state_change"}, &res); err != nil {
		t.Fatalf("call() error = %v", err)
	}
	if res.EventID != "ev-1" || res.Matched != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	err := c.call(ctx, http.MethodGet, "/webhooks/webhook_missing", nil, nil)
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "webhook webhook_missing not found" {
		t.Fatalf("expected 404 apiError, got %v", err)
	}

	err = c.call(ctx, http.MethodGet, "/other", nil, nil)
	if !errors.As(err, &apiErr) || apiErr.Message != "boom" {
		t.Fatalf("expected raw body message, got %v", err)
	}

	unauth := newClient(srv.URL, "wrong", true)
	if err := unauth.call(ctx, http.MethodGet, "/triggers", nil, nil); !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestVerifyCommand(t *testing.T) {
	body := []byte(`{"eventId":"ev-1","trigger":"bot.state_change"}`)
	file := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(file, body, 0o600); err != nil {
		t.Fatal(err)
	}
	secret := "0123456789abcdef0123456789abcdef"
	sig, err := signature.Sign(secret, body)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	tampered := []byte(sig)
	if tampered[0] == '0' {
		tampered[0] = '1'
	} else {
		tampered[0] = '0'
	}

	tests := []struct {
		name    string
		sig     string
		wantErr bool
	}{
		{name: "valid", sig: sig},
		{name: "tampered", sig: string(tampered), wantErr: true},
		{name: "garbage", sig: "not-hex", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := verifyCmd(newUI())
			cmd.SetArgs([]string{"--secret", secret, "--signature", tt.sig, "--body-file", file})
			cmd.SetOut(new(discard))
			cmd.SetErr(new(discard))
			err := cmd.Execute()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"http://localhost:8080", false},
		{"https://hooks.example.com", false},
		{"hooks.example.com", true},
		{"ftp://hooks.example.com", true},
		{"https://hooks.example.com/v1/hookq", true},
	}
	for _, tt := range tests {
		if err := validateBaseURL(tt.in); (err != nil) != tt.wantErr {
			t.Errorf("validateBaseURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestInitSavesProfileAndChecksAPI(t *testing.T) {
	t.Setenv("HOOKQ_CONFIG_DIR", t.TempDir())
	var checked bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiPrefix+"/triggers" || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		checked = true
		_, _ = w.Write([]byte(`{"version":1,"triggers":["bot.state_change"]}`))
	}))
	defer srv.Close()

	cmd := initCmd(&globals{}, newUI())
	cmd.SetArgs([]string{"--no-prompt", "--base-url", srv.URL + "/", "--token", "tok", "--bot-id", "bot_1"})
	cmd.SetOut(new(discard))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init error = %v", err)
	}
	if !checked {
		t.Error("expected GET /triggers check")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	prof := cfg.Profiles["default"]
	if prof.BaseURL != srv.URL || prof.Token != "tok" || prof.BotID != "bot_1" {
		t.Fatalf("unexpected profile %+v", prof)
	}
	if !prof.Admin {
		t.Error("a new local profile should default to the admin header")
	}

	bad := initCmd(&globals{}, newUI())
	bad.SetArgs([]string{"--no-prompt", "--base-url", "hooks.example.com", "--check=false"})
	bad.SetOut(new(discard))
	bad.SetErr(new(discard))
	if err := bad.Execute(); err == nil {
		t.Fatal("expected error for a URL without scheme")
	}
}

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		input string
		def   bool
		want  bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"no\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"maybe\n", true, true},
	}
	for _, tt := range tests {
		got := promptYesNo(bufio.NewReader(strings.NewReader(tt.input)), "Admin", tt.def)
		if got != tt.want {
			t.Errorf("promptYesNo(%q, %v) = %v, want %v", tt.input, tt.def, got, tt.want)
		}
	}
}
