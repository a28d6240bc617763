package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/kiranshivaraju/docsift/pkg/models"
	"github.com/spf13/cobra"
)

func (a *app) newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect AI providers",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered providers and their health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Get(cmd.Context(), "/api/v1/providers", nil)
			if err != nil {
				return fmt.Errorf("list providers: %w", err)
			}
			return printProviders(cmd.OutOrStdout(), resp.Data)
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Probe every provider now (admin scope)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Post(cmd.Context(), "/api/v1/providers/refresh", nil)
			if err != nil {
				return fmt.Errorf("refresh providers: %w", err)
			}
			return printProviders(cmd.OutOrStdout(), resp.Data)
		},
	}

	cmd.AddCommand(list, refresh)
	return cmd
}

func printProviders(out io.Writer, raw json.RawMessage) error {
	var descs []models.ProviderDescriptor
	if err := json.Unmarshal(raw, &descs); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if len(descs) == 0 {
		fmt.Fprintln(out, "No providers registered.")
		return nil
	}

	fmt.Fprintf(out, "%-14s  %-10s  %-30s  %-8s  %s\n", "NAME", "TYPE", "MODEL", "PRIORITY", "STATUS")
	for _, d := range descs {
		status := "up"
		if !d.Functional {
			status = "down"
			if d.LastError != "" {
				status += " (" + d.LastError + ")"
			}
		}
		fmt.Fprintf(out, "%-14s  %-10s  %-30s  %-8d  %s\n", d.Name, d.Type, d.DefaultModel, d.Priority, status)
	}
	return nil
}

func (a *app) newEventsCmd() *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream job lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if jobID != "" {
				q.Set("job_id", jobID)
			}
			out := cmd.OutOrStdout()
			return a.client.Stream(cmd.Context(), "/api/v1/events", q, func(se StreamEvent) error {
				var ev models.Event
				if err := json.Unmarshal([]byte(se.Data), &ev); err != nil {
					return fmt.Errorf("parse event: %w", err)
				}
				printEvent(out, ev)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Only show events for this job id")
	return cmd
}
