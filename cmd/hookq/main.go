package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const (
	defaultBaseURL = "http://localhost:8080"
	apiPrefix      = "/v1/hookq"
)

type client struct {
	baseURL    string
	token      string
	admin      bool
	httpClient *http.Client
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

// apiError carries the server's {"error": ...} message.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("error (%d): %s", e.Status, e.Message)
}

func newClient(baseURL, token string, admin bool) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		admin:      admin,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) request(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.admin {
		req.Header.Set("X-Role", "ADMIN")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

// call performs one request and decodes a 2xx body into out when out is non-nil.
func (c *client) call(ctx context.Context, method, path string, body, out any) error {
	status, resp, err := c.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(resp, &e) == nil && e.Error != "" {
			return &apiError{Status: status, Message: e.Error}
		}
		return &apiError{Status: status, Message: strings.TrimSpace(string(resp))}
	}
	if out == nil || len(resp) == 0 {
		return nil
	}
	return json.Unmarshal(resp, out)
}

// withSpinner runs fn while a spinner shows suffix on an interactive stderr.
func withSpinner(suffix string, fn func() error) error {
	if !isTerminal(int(os.Stderr.Fd())) {
		return fn()
	}
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " " + suffix
	spin.Start()
	defer spin.Stop()
	return fn()
}

type globals struct {
	baseURL string
	token   string
	profile string
	admin   bool
	// botID is the profile's default bot scope.
	botID string
}

func (g *globals) client() (*client, error) {
	if strings.TrimSpace(g.token) == "" {
		return nil, fmt.Errorf("token is required (run `hookq init` or set HOOKQ_TOKEN)")
	}
	return newClient(g.baseURL, g.token, g.admin), nil
}

func main() {
	g := &globals{
		baseURL: getenv("HOOKQ_BASE_URL", defaultBaseURL),
		token:   getenv("HOOKQ_TOKEN", ""),
		profile: getenv("HOOKQ_PROFILE", ""),
	}
	ui := newUI()

	root := &cobra.Command{
		Use:   "hookq",
		Short: "hookq CLI",
		Long:  "hookq CLI for managing webhook subscriptions and emitting events.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&g.baseURL, "base-url", g.baseURL, "Base URL for hookq")
	root.PersistentFlags().StringVar(&g.token, "token", g.token, "Bearer token")
	root.PersistentFlags().StringVar(&g.profile, "profile", g.profile, "Config profile")
	root.PersistentFlags().BoolVar(&g.admin, "admin", false, "Send X-Role: ADMIN; dev servers accept it for events emit")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		prof := cfg.Profiles[resolveProfileName(g.profile, cfg)]
		applyProfile(g, prof, cmd.Flags().Changed)
		return nil
	}

	root.AddCommand(initCmd(g, ui))
	root.AddCommand(webhooksCmd(g, ui))
	root.AddCommand(eventsCmd(g, ui))
	root.AddCommand(triggersCmd(g, ui))
	root.AddCommand(verifyCmd(ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

// applyProfile fills unset globals from the profile. Flags win over env,
// env wins over the profile.
func applyProfile(g *globals, prof profile, changed func(string) bool) {
	if !changed("base-url") && os.Getenv("HOOKQ_BASE_URL") == "" && prof.BaseURL != "" {
		g.baseURL = prof.BaseURL
	}
	if !changed("token") && os.Getenv("HOOKQ_TOKEN") == "" && prof.Token != "" {
		g.token = prof.Token
	}
	if !changed("admin") && prof.Admin {
		g.admin = true
	}
	g.botID = prof.BotID
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func isLocalURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	return host == "localhost" || host == "127.0.0.1"
}

func helpTemplate(ui *ui) string {
	title := ui.title("hookq")
	return fmt.Sprintf(`%s: webhook subscriptions and deliveries

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  hookq init --base-url http://localhost:8080 --bot-id bot_123
  hookq webhooks create --url https://example.com/hooks --trigger bot.state_change
  hookq webhooks list
  hookq events emit --trigger transcript.update --data '{"text":"hi"}' --count 50
  hookq verify --secret $SECRET --signature $SIG --body-file body.json

`, title, configPath())
}
