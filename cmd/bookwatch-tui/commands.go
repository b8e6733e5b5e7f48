package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"bookwatch-tui/internal/monitor"
	"bookwatch-tui/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func (c *cli) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show backend health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.client.Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func (c *cli) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List book jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := c.client.ListBooks(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), books)
		},
	}
}

type statusOutput struct {
	Status    *service.JobStatus   `json:"status"`
	Progress  string               `json:"progress"`
	Completed string               `json:"completed_stages"`
	Current   string               `json:"current_stage"`
	Elapsed   string               `json:"elapsed"`
	ETA       string               `json:"eta"`
	Stages    map[string]string    `json:"stages"`
	Errors    []service.StageError `json:"recent_errors,omitempty"`
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Get the status of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := c.client.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			summary := monitor.Summarize(args[0], status, time.Now())
			out := statusOutput{
				Status:    status,
				Progress:  summary.Progress,
				Completed: summary.Completed,
				Current:   summary.Current,
				Elapsed:   summary.Elapsed,
				ETA:       summary.ETA,
				Stages:    make(map[string]string, len(summary.Badges)),
				Errors:    summary.Errors,
			}
			for _, badge := range summary.Badges {
				out.Stages[badge.ID] = string(badge.Badge)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (c *cli) createCommand() *cobra.Command {
	defaults := service.NewCreateBookRequest("", "")
	req := defaults
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start generating a new book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req = req.Normalized()
			if err := service.ValidateCreateRequest(req); err != nil {
				return err
			}
			jobID, err := c.client.CreateBook(cmd.Context(), req)
			if err != nil {
				return err
			}
			c.logger.WithFields(logrus.Fields{"job_id": jobID, "title": req.Title}).Info("cli.job.created")
			fmt.Fprintln(cmd.OutOrStdout(), jobID)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Title, "title", "", "book title")
	flags.StringVar(&req.TargetAudience, "audience", "", "target audience")
	flags.StringVar(&req.Category, "category", defaults.Category, "one of "+strings.Join(service.Categories, ", "))
	flags.StringVar(&req.WritingStyle, "style", defaults.WritingStyle, "one of "+strings.Join(service.WritingStyles, ", "))
	flags.IntVar(&req.ChapterCount, "chapters", defaults.ChapterCount, "number of chapters (3-20)")
	flags.IntVar(&req.TargetLength, "length", defaults.TargetLength, "target length in words (5000-50000, step 1000)")
	flags.StringVar(&req.Language, "language", defaults.Language, "one of "+strings.Join(service.Languages, ", "))
	flags.StringVar(&req.CustomRequirements, "requirements", "", "extra instructions")
	flags.StringSliceVar(&req.OutputFormats, "formats", defaults.OutputFormats, "output formats")
	return cmd
}

func (c *cli) cancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := monitor.NewJobMonitor(args[0], c.client, monitor.JobMonitorOptions{Logger: c.logger})
			defer job.Poller().Close()
			if err := job.RequestCancel(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) viewCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "view <job_id>",
		Short: "Print the generated chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				content *service.BookContent
				err     error
			)
			if raw {
				content, err = c.client.ViewBook(cmd.Context(), args[0])
			} else {
				job := monitor.NewJobMonitor(args[0], c.client, monitor.JobMonitorOptions{Logger: c.logger})
				defer job.Poller().Close()
				content, err = job.FetchContent(cmd.Context())
			}
			if err != nil {
				return err
			}
			return writeContent(cmd.OutOrStdout(), content, raw)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the backend text without cleaning")
	return cmd
}

func writeContent(w io.Writer, content *service.BookContent, raw bool) error {
	title := strings.TrimSpace(content.Project.Title)
	if title == "" {
		title = "Untitled"
	}
	if _, err := fmt.Fprintf(w, "# %s\n", title); err != nil {
		return err
	}
	for _, chapter := range content.Chapters {
		text := chapter.Display
		if raw {
			text = chapter.RawOutput
		}
		if _, err := fmt.Fprintf(w, "\n## Chapter %d: %s\n\n%s\n", chapter.Number, chapter.Title, text); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) downloadCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "download <job_id>",
		Short: "Download a finished book into the data directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if !service.SupportedFormat(format) {
				return fmt.Errorf("%w: %q (want one of %s)", service.ErrUnsupportedFormat, format, strings.Join(service.DownloadFormats, ", "))
			}
			store, err := c.store()
			if err != nil {
				return err
			}
			job := monitor.NewJobMonitor(args[0], c.client, monitor.JobMonitorOptions{Downloads: store, Logger: c.logger})
			defer job.Poller().Close()
			path, err := job.Download(cmd.Context(), format)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "txt", "one of "+strings.Join(service.DownloadFormats, ", "))
	return cmd
}

func (c *cli) exportListCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-list",
		Short: "Export the job list to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := c.client.ListBooks(cmd.Context())
			if err != nil {
				return err
			}
			store, err := c.store()
			if err != nil {
				return err
			}
			path, err := store.ExportLibrary(out, books)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default <data_dir>/exports/library-<time>.xlsx)")
	return cmd
}

func (c *cli) snapshotsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List saved content snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.store()
			if err != nil {
				return err
			}
			summaries, err := store.List(limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summaries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of snapshots, 0 for all")
	cmd.AddCommand(c.snapshotShowCommand())
	return cmd
}

func (c *cli) snapshotShowCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <directory>",
		Short: "Print a saved snapshot",
		Long:  "The directory is a name from `snapshots` or an absolute path.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.store()
			if err != nil {
				return err
			}
			bundle, err := store.LoadBundle(args[0])
			if err != nil {
				return fmt.Errorf("load snapshot %s: %w", args[0], err)
			}
			c.logger.WithFields(logrus.Fields{"job_id": bundle.Summary.JobID, "path": bundle.Summary.Directory}).Debug("cli.snapshot.loaded")
			return writeContent(cmd.OutOrStdout(), bundle.Content, raw)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the backend text without cleaning")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
