package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/spf13/cobra"
)

type createdWebhook struct {
	ID     string `json:"subscriptionId"`
	Secret string `json:"secret"`
}

func webhooksCmd(g *globals, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "webhooks",
		Aliases: []string{"webhook", "wh"},
		Short:   "Manage webhook subscriptions",
	}
	cmd.AddCommand(webhooksCreateCmd(g, ui))
	cmd.AddCommand(webhooksListCmd(g, ui))
	cmd.AddCommand(webhooksGetCmd(g, ui))
	cmd.AddCommand(webhooksDeleteCmd(g, ui))
	cmd.AddCommand(webhooksSetActiveCmd(g, ui, "activate", true))
	cmd.AddCommand(webhooksSetActiveCmd(g, ui, "deactivate", false))
	cmd.AddCommand(webhooksAttemptsCmd(g, ui))
	return cmd
}

func webhooksCreateCmd(g *globals, ui *ui) *cobra.Command {
	var (
		hookURL  string
		triggers []string
		botID    string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Subscribe a URL to one or more triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("bot-id") {
				botID = g.botID
			}
			if strings.TrimSpace(hookURL) == "" {
				return fmt.Errorf("--url is required")
			}
			body := map[string]any{"url": hookURL, "triggers": triggers}
			if botID != "" {
				body["botId"] = botID
			}
			var out createdWebhook
			err = withSpinner("Creating webhook...", func() error {
				return c.call(cmd.Context(), http.MethodPost, "/webhooks", body, &out)
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s Created %s\n", ui.ok("[OK]"), out.ID)
			fmt.Printf("  %s %s\n", ui.dim("secret"), out.Secret)
			fmt.Println(ui.warn("  Store this secret now; it is not shown again."))
			return nil
		},
	}
	cmd.Flags().StringVar(&hookURL, "url", "", "HTTPS endpoint that receives deliveries")
	cmd.Flags().StringSliceVar(&triggers, "trigger", nil, "Trigger type (repeatable)")
	cmd.Flags().StringVar(&botID, "bot-id", "", "Limit the subscription to one bot (defaults to the profile botId)")
	_ = cmd.MarkFlagRequired("trigger")
	return cmd
}

func webhooksListCmd(g *globals, ui *ui) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List webhook subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			var out struct {
				Items []domain.Subscription `json:"items"`
			}
			err = withSpinner("Loading webhooks...", func() error {
				return c.call(cmd.Context(), http.MethodGet, "/webhooks", nil, &out)
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out.Items)
			}
			if len(out.Items) == 0 {
				fmt.Println(ui.dim("No webhooks."))
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tBOT\tTRIGGERS\tURL")
			for _, s := range out.Items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, statusLabel(ui, s.IsActive), firstNonEmpty(s.BotID, "-"), joinTriggers(s.Triggers), s.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func webhooksGetCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one webhook subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			var sub domain.Subscription
			if err := c.call(cmd.Context(), http.MethodGet, "/webhooks/"+url.PathEscape(args[0]), nil, &sub); err != nil {
				return err
			}
			return printJSON(sub)
		},
	}
}

func webhooksDeleteCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a webhook subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if err := c.call(cmd.Context(), http.MethodDelete, "/webhooks/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Printf("%s Deleted %s\n", ui.ok("[OK]"), args[0])
			return nil
		},
	}
}

func webhooksSetActiveCmd(g *globals, ui *ui, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a webhook subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			var sub domain.Subscription
			body := map[string]any{"isActive": active}
			if err := c.call(cmd.Context(), http.MethodPatch, "/webhooks/"+url.PathEscape(args[0]), body, &sub); err != nil {
				return err
			}
			fmt.Printf("%s %s is now %s\n", ui.ok("[OK]"), sub.ID, statusLabel(ui, sub.IsActive))
			return nil
		},
	}
}

func webhooksAttemptsCmd(g *globals, ui *ui) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "attempts <id>",
		Short: "Show recent delivery attempts for a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			items, err := fetchAttempts(cmd.Context(), c, args[0], limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(items)
			}
			if len(items) == 0 {
				fmt.Println(ui.dim("No attempts recorded."))
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tEVENT\tTRIGGER\t#\tOUTCOME\tSTATUS\tLATENCY")
			for _, a := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%dms\n",
					a.AttemptedAt.Format("2006-01-02 15:04:05"), a.EventID, a.Trigger, a.AttemptNumber,
					outcomeLabel(ui, a.Outcome), statusCode(a.StatusCode), a.LatencyMs)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum attempts to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func fetchAttempts(ctx context.Context, c *client, id string, limit int) ([]domain.DeliveryAttempt, error) {
	path := "/webhooks/" + url.PathEscape(id) + "/attempts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Items []domain.DeliveryAttempt `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func statusLabel(ui *ui, active bool) string {
	if active {
		return ui.ok("active")
	}
	return ui.dim("inactive")
}

func outcomeLabel(ui *ui, o domain.DeliveryOutcome) string {
	switch o {
	case domain.OutcomeSuccess:
		return ui.ok(string(o))
	case domain.OutcomeTransientFailure:
		return ui.warn(string(o))
	default:
		return ui.err(string(o))
	}
}

func statusCode(code int) string {
	if code == 0 {
		return "-"
	}
	return strconv.Itoa(code)
}

func joinTriggers(ts []domain.TriggerType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
