package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/docsift/pkg/models"
	"github.com/spf13/cobra"
)

func (a *app) newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Submit and inspect analysis jobs",
	}
	cmd.AddCommand(
		a.newJobsSubmitCmd(),
		a.newJobsBatchCmd(),
		a.newJobsGetCmd(),
		a.newJobsListCmd(),
		a.newJobsCancelCmd(),
		a.newJobsRetryCmd(),
		a.newJobsStatsCmd(),
		a.newJobsWatchCmd(),
	)
	return cmd
}

// promptFlags are shared by submit and batch.
type promptFlags struct {
	kind      string
	promptID  string
	prompt    string
	vars      map[string]string
	providers []string
}

func (p *promptFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&p.kind, "kind", string(models.JobKindGeneral), "Job kind (general, custom, comparison, multiple_ai)")
	f.StringVar(&p.promptID, "prompt-id", "", "Built-in prompt template id")
	f.StringVar(&p.prompt, "prompt", "", "Prompt text (overrides --prompt-id)")
	f.StringToStringVar(&p.vars, "var", nil, "Template variable key=value (repeatable)")
	f.StringSliceVar(&p.providers, "provider", nil, "Provider priority, first preferred (repeatable)")
}

func (a *app) newJobsSubmitCmd() *cobra.Command {
	var (
		pf   promptFlags
		meta map[string]string
	)
	cmd := &cobra.Command{
		Use:   "submit <subject_ref>",
		Short: "Submit an analysis job",
		Long:  "Submit an analysis job. subject_ref has the form file:<id>[,file:<id>...][#group].",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Post(cmd.Context(), "/api/v1/jobs", map[string]any{
				"subject_ref":       args[0],
				"kind":              pf.kind,
				"prompt_id":         pf.promptID,
				"prompt_text":       pf.prompt,
				"vars":              pf.vars,
				"provider_priority": pf.providers,
				"metadata":          meta,
			})
			if err != nil {
				return fmt.Errorf("submit job: %w", err)
			}

			var data struct {
				JobIDs  []string `json:"job_ids"`
				Status  string   `json:"status"`
				GroupID string   `json:"group_id"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, id := range data.JobIDs {
				fmt.Fprintf(out, "Job %s: %s\n", id, data.Status)
			}
			if data.GroupID != "" {
				fmt.Fprintf(out, "Group: %s\n", data.GroupID)
			}
			return nil
		},
	}
	pf.register(cmd)
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "Caller metadata key=value (repeatable)")
	return cmd
}

func (a *app) newJobsBatchCmd() *cobra.Command {
	var pf promptFlags
	cmd := &cobra.Command{
		Use:   "batch <subject_ref>...",
		Short: "Submit one job per subject",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Post(cmd.Context(), "/api/v1/jobs/batch", map[string]any{
				"subject_refs":      args,
				"kind":              pf.kind,
				"prompt_id":         pf.promptID,
				"prompt_text":       pf.prompt,
				"vars":              pf.vars,
				"provider_priority": pf.providers,
			})
			if err != nil {
				return fmt.Errorf("submit batch: %w", err)
			}

			var items []struct {
				SubjectRef string    `json:"subject_ref"`
				JobIDs     []string  `json:"job_ids"`
				Error      *APIError `json:"error"`
			}
			if err := json.Unmarshal(resp.Data, &items); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, it := range items {
				if it.Error != nil {
					failed++
					fmt.Fprintf(out, "%-30s  FAILED  %s: %s\n", it.SubjectRef, it.Error.Code, it.Error.Message)
					continue
				}
				fmt.Fprintf(out, "%-30s  %s\n", it.SubjectRef, strings.Join(it.JobIDs, ","))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d subjects failed", failed, len(items))
			}
			return nil
		},
	}
	pf.register(cmd)
	return cmd
}

func (a *app) newJobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job_id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Get(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}

			var job models.Job
			if err := json.Unmarshal(resp.Data, &job); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			printJob(cmd.OutOrStdout(), &job)
			return nil
		},
	}
}

func printJob(out io.Writer, job *models.Job) {
	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "  Subject:  %s\n", job.SubjectRef)
	fmt.Fprintf(out, "  Kind:     %s\n", job.Kind)
	fmt.Fprintf(out, "  Status:   %s\n", job.Status)
	fmt.Fprintf(out, "  Provider: %s/%s\n", job.Provider, job.Model)
	fmt.Fprintf(out, "  Retries:  %d\n", job.RetryCount)
	if g := job.Metadata[models.MetaGroupID]; g != "" {
		fmt.Fprintf(out, "  Group:    %s\n", g)
	}
	fmt.Fprintf(out, "  Created:  %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.CompletedAt != nil {
		fmt.Fprintf(out, "  Finished: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if job.ErrorMessage != nil {
		fmt.Fprintf(out, "  Error:    %s\n", *job.ErrorMessage)
	}
	if job.Result != nil {
		fmt.Fprintf(out, "\n%s\n", *job.Result)
	}
}

func (a *app) newJobsListCmd() *cobra.Command {
	var (
		status, kind, provider, group string
		limit, offset                 int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for k, v := range map[string]string{"status": status, "kind": kind, "provider": provider, "group_id": group} {
				if v != "" {
					q.Set(k, v)
				}
			}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			resp, err := a.client.Get(cmd.Context(), "/api/v1/jobs", q)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}

			var jobs []models.Job
			if err := json.Unmarshal(resp.Data, &jobs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-10s  %-11s  %-12s  %s\n", "ID", "STATUS", "KIND", "PROVIDER", "SUBJECT")
			for _, j := range jobs {
				fmt.Fprintf(out, "%-36s  %-10s  %-11s  %-12s  %s\n", j.ID, j.Status, j.Kind, j.Provider, j.SubjectRef)
			}
			if resp.Meta != nil && resp.Meta.HasNext {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(jobs), resp.Meta.Total)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "Filter by status")
	f.StringVar(&kind, "kind", "", "Filter by kind")
	f.StringVar(&provider, "provider", "", "Filter by provider")
	f.StringVar(&group, "group", "", "Filter by group id")
	f.IntVar(&limit, "limit", 20, "Page size (1-100)")
	f.IntVar(&offset, "offset", 0, "Page offset")
	return cmd
}

func (a *app) newJobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Post(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0])+"/cancel", nil)
			if err != nil {
				return fmt.Errorf("cancel job: %w", err)
			}

			var data struct {
				AlreadyTerminal bool `json:"already_terminal"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if data.AlreadyTerminal {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s had already finished\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s: cancel requested\n", args[0])
			return nil
		},
	}
}

func (a *app) newJobsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job_id>",
		Short: "Requeue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.client.Post(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0])+"/retry", nil); err != nil {
				return fmt.Errorf("retry job: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s: %s\n", args[0], models.JobStatusPending)
			return nil
		},
	}
}

func (a *app) newJobsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Get(cmd.Context(), "/api/v1/jobs/stats", nil)
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}

			var s models.JobStats
			if err := json.Unmarshal(resp.Data, &s); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pending     %d\n", s.Pending)
			fmt.Fprintf(out, "processing  %d\n", s.Processing)
			fmt.Fprintf(out, "completed   %d\n", s.Completed)
			fmt.Fprintf(out, "failed      %d\n", s.Failed)
			fmt.Fprintf(out, "cancelled   %d\n", s.Cancelled)
			fmt.Fprintf(out, "avg duration  %.1fs\n", s.AvgDuration)
			return nil
		},
	}
}

// newJobsWatchCmd follows one job's events until it reaches a final state.
func (a *app) newJobsWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job_id>",
		Short: "Stream a job's events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			q := url.Values{"job_id": {args[0]}}
			return a.client.Stream(cmd.Context(), "/api/v1/events", q, func(se StreamEvent) error {
				var ev models.Event
				if err := json.Unmarshal([]byte(se.Data), &ev); err != nil {
					return fmt.Errorf("parse event: %w", err)
				}
				printEvent(out, ev)
				switch ev.Type {
				case models.EventJobCompleted, models.EventJobFailed, models.EventJobCancelled:
					return errStopStream
				}
				return nil
			})
		},
	}
}

func printEvent(out io.Writer, ev models.Event) {
	fmt.Fprintf(out, "%s  %-14s  %s  %s", ev.At.Format("15:04:05"), ev.Type, ev.JobID, ev.Status)
	if msg, ok := ev.Payload["error"].(string); ok && msg != "" {
		fmt.Fprintf(out, "  %s", msg)
	}
	fmt.Fprintln(out)
}
