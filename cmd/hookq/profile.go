package main

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// profile is one named hookq target. BotID, when set, scopes `webhooks
// create` and `events emit` to that bot unless --bot-id is given.
type profile struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token"`
	BotID   string `yaml:"botId,omitempty"`
	// Admin sends X-Role: ADMIN. Only servers running with env=dev honor the
	// header; elsewhere the role comes from the token.
	Admin bool `yaml:"admin,omitempty"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

func initCmd(g *globals, ui *ui) *cobra.Command {
	var (
		baseURL  string
		token    string
		botID    string
		admin    bool
		noPrompt bool
		check    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or update a hookq profile",
		Long: `Create or update a hookq profile in ` + configPath() + `.

A profile stores the hookq API URL, the bearer token whose project owns the
webhooks, an optional default bot ID, and whether to send X-Role: ADMIN.
The admin header is what lets "events emit" and queue stats work against a
local dev server; production servers take the role from the token instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(g.profile, cfg)
			prof := cfg.Profiles[active]

			baseURL = firstNonEmpty(baseURL, prof.BaseURL, defaultBaseURL)
			if !cmd.Flags().Changed("bot-id") {
				botID = prof.BotID
			}
			if !cmd.Flags().Changed("admin") {
				admin = prof.Admin || (prof.BaseURL == "" && isLocalURL(baseURL))
			}
			if !noPrompt {
				reader := bufio.NewReader(os.Stdin)
				fmt.Printf("%s profile %s\n", ui.title("hookq"), ui.info(active))
				baseURL = prompt(reader, "hookq API URL", baseURL)
				if token == "" {
					token, err = promptSecret(fmt.Sprintf("Project token [%s]", maskToken(prof.Token)))
					if err != nil {
						return err
					}
				}
				botID = prompt(reader, "Default bot ID (blank for project-wide)", botID)
				admin = promptYesNo(reader, "Emit events as admin (X-Role header, dev servers only)", admin)
			}

			baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
			if err := validateBaseURL(baseURL); err != nil {
				return err
			}
			prof.BaseURL = baseURL
			if token = strings.TrimSpace(token); token != "" {
				prof.Token = token
			}
			prof.BotID = strings.TrimSpace(botID)
			prof.Admin = admin

			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || g.profile != "" {
				cfg.CurrentProfile = active
			}
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Saved profile '%s' to %s\n", ui.ok("[OK]"), active, cfgPath)
			fmt.Printf("  %s %s  %s %s  %s %s\n",
				ui.dim("url"), prof.BaseURL,
				ui.dim("token"), maskToken(prof.Token),
				ui.dim("bot"), firstNonEmpty(prof.BotID, "-"))
			if prof.Admin && !isLocalURL(prof.BaseURL) {
				fmt.Println(ui.warn("  X-Role: ADMIN is ignored outside env=dev; emitting needs an admin token there."))
			}

			if !check || prof.Token == "" {
				return nil
			}
			var out struct {
				Version  int   `json:"version"`
				Triggers []any `json:"triggers"`
			}
			c := newClient(prof.BaseURL, prof.Token, prof.Admin)
			err = withSpinner("Checking hookq API...", func() error {
				return c.call(cmd.Context(), http.MethodGet, "/triggers", nil, &out)
			})
			if err != nil {
				return fmt.Errorf("profile saved, but the API check failed: %w", err)
			}
			fmt.Printf("%s API reachable, %d trigger types (version %d)\n", ui.ok("[OK]"), len(out.Triggers), out.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "hookq API URL")
	cmd.Flags().StringVar(&token, "token", "", "Project bearer token")
	cmd.Flags().StringVar(&botID, "bot-id", "", "Default bot ID for webhooks create and events emit")
	cmd.Flags().BoolVar(&admin, "admin", false, "Send X-Role: ADMIN so events emit works against a dev server")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	cmd.Flags().BoolVar(&check, "check", true, "Call GET /triggers with the saved profile")
	return cmd
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("hookq API URL must be an absolute http(s) URL, got %q", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("hookq API URL must not include a path (%s is added by the CLI)", apiPrefix)
	}
	return nil
}

func promptYesNo(r *bufio.Reader, label string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Printf("%s [%s]: ", label, hint)
	line, _ := r.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("HOOKQ_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".hookq", "config.yaml")
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	cfg := cliConfig{Profiles: map[string]profile{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if v := strings.TrimSpace(flag); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", nil
		}
		return strings.TrimSpace(line), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func isTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
