package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type emitResult struct {
	EventID   string `json:"eventId"`
	Matched   int    `json:"matched"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func eventsCmd(g *globals, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Emit platform events (admin)",
	}
	cmd.AddCommand(eventsEmitCmd(g, ui))
	return cmd
}

func eventsEmitCmd(g *globals, ui *ui) *cobra.Command {
	var (
		trigger     string
		botID       string
		eventID     string
		data        string
		dataFile    string
		count       int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Emit one event, or --count events in bulk",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("bot-id") {
				botID = g.botID
			}
			payload, err := readEventData(data, dataFile)
			if err != nil {
				return err
			}
			if count <= 1 {
				body := map[string]any{"trigger": trigger, "data": payload}
				if botID != "" {
					body["botId"] = botID
				}
				if eventID != "" {
					body["eventId"] = eventID
				}
				var res emitResult
				err := withSpinner("Emitting event...", func() error {
					return c.call(cmd.Context(), http.MethodPost, "/events", body, &res)
				})
				if err != nil {
					return err
				}
				if res.Duplicate {
					fmt.Printf("%s %s already emitted; nothing enqueued\n", ui.warn("[DUP]"), res.EventID)
					return nil
				}
				fmt.Printf("%s %s matched %d webhook(s)\n", ui.ok("[OK]"), res.EventID, res.Matched)
				return nil
			}
			if eventID != "" {
				return fmt.Errorf("--event-id cannot be combined with --count")
			}

			bar := progressbar.NewOptions(count,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("emitting"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			var matched, failed atomic.Int64
			eg, ctx := errgroup.WithContext(cmd.Context())
			eg.SetLimit(max(concurrency, 1))
			for i := 0; i < count; i++ {
				eg.Go(func() error {
					defer func() { _ = bar.Add(1) }()
					body := map[string]any{"trigger": trigger, "data": payload}
					if botID != "" {
						body["botId"] = botID
					}
					var res emitResult
					if err := c.call(ctx, http.MethodPost, "/events", body, &res); err != nil {
						failed.Add(1)
						if _, ok := err.(*apiError); ok {
							return nil
						}
						return err
					}
					matched.Add(int64(res.Matched))
					return nil
				})
			}
			if err := eg.Wait(); err != nil {
				return err
			}
			_ = bar.Finish()
			fmt.Printf("%s emitted %d event(s), %d deliveries enqueued", ui.ok("[OK]"), int64(count)-failed.Load(), matched.Load())
			if n := failed.Load(); n > 0 {
				fmt.Printf(", %s", ui.err(fmt.Sprintf("%d rejected", n)))
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "", "Trigger type")
	cmd.Flags().StringVar(&botID, "bot-id", "", "Bot the event belongs to (defaults to the profile botId)")
	cmd.Flags().StringVar(&eventID, "event-id", "", "Idempotency key; generated when empty")
	cmd.Flags().StringVar(&data, "data", "{}", "Event data as JSON")
	cmd.Flags().StringVar(&dataFile, "data-file", "", "Read event data from a file (- for stdin)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of events to emit")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "Parallel requests in bulk mode")
	_ = cmd.MarkFlagRequired("trigger")
	return cmd
}

func readEventData(inline, file string) (json.RawMessage, error) {
	raw := []byte(strings.TrimSpace(inline))
	if file != "" {
		b, err := readInput(file)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("event data is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func triggersCmd(g *globals, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "triggers",
		Short: "List supported trigger types",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			var out struct {
				Version  int                  `json:"version"`
				Triggers []domain.TriggerType `json:"triggers"`
			}
			if err := c.call(cmd.Context(), http.MethodGet, "/triggers", nil, &out); err != nil {
				return err
			}
			fmt.Printf("%s (version %d)\n", ui.title("Triggers"), out.Version)
			for _, t := range out.Triggers {
				fmt.Printf("  %s\n", t)
			}
			return nil
		},
	}
}
