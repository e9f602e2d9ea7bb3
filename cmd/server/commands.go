package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/cronexpr"
	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/0xPuncker/pos-scheduler/pkg/utils"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

// withApp loads config, opens a short-lived app without run recovery and hands
// it to fn.
func withApp(load loader, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	quiet(logger)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func buildRunCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job>",
		Short: "Run a job once, now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, a *app) error {
				outcome, err := a.scheduler.RunJob(ctx, args[0])
				var execErr *types.ExecutionError
				if err != nil && !errors.As(err, &execErr) {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run #%d of %s: %s in %s\n", outcome.LogID, args[0], outcome.Status, utils.FormatMillis(outcome.Duration))
				if execErr != nil {
					fmt.Fprintf(out, "Error: %s\n", outcome.Error)
					return execErr
				}
				fmt.Fprintf(out, "Records: %d\n", outcome.Records)
				return nil
			})
		},
	}
}

func buildJobsCommand(load loader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs with their schedule and last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, a *app) error {
				jobs, err := a.scheduler.GetAllJobsWithStatus(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), jobs)
				}
				printJobs(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}

func printJobs(out io.Writer, jobs []types.JobWithStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN\tLAST STATUS\tNOTE")
	for _, job := range jobs {
		next := "-"
		if job.NextRun != nil {
			next = job.NextRun.Format(timeLayout)
		}
		last := "-"
		if job.LastLog != nil {
			last = job.LastLog.Status.String()
		}
		note := job.ScheduleDescription
		if job.ConfigError != "" {
			note = job.ConfigError
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\t%s\n", job.ID, job.Name, job.Schedule, job.IsEnabled, next, last, note)
	}
	w.Flush()
}

func buildHistoryCommand(load loader) *cobra.Command {
	var (
		jobName string
		limit   int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, a *app) error {
				q := types.LogQuery{Limit: limit}
				if jobName != "" {
					job, err := a.scheduler.GetJob(ctx, jobName)
					if err != nil {
						return err
					}
					q.JobID = job.ID
				}

				logs, err := a.scheduler.ListLogs(ctx, q)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), logs)
				}
				printLogs(cmd.OutOrStdout(), logs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "only show runs of this job")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}

func printLogs(out io.Writer, logs []types.JobExecutionLog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tJOB\tSTATUS\tTRIGGER\tSTARTED\tDURATION\tRECORDS\tDETAIL")
	for _, l := range logs {
		duration, records, detail := "-", "-", ""
		if l.Duration != nil {
			duration = utils.FormatMillis(*l.Duration)
		}
		if l.Records != nil {
			records = fmt.Sprintf("%d", *l.Records)
		}
		if l.Error != nil {
			detail = *l.Error
		} else if l.Message != nil {
			detail = *l.Message
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.JobName, l.Status, l.Trigger, l.StartTime.Local().Format(timeLayout), duration, records, oneLine(detail))
	}
	w.Flush()
}

func buildStatsCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job summary counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, a *app) error {
				summary, err := a.scheduler.GetSchedulerStats(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total:    %d\n", summary.TotalJobs)
				fmt.Fprintf(out, "Active:   %d\n", summary.ActiveJobs)
				fmt.Fprintf(out, "Disabled: %d\n", summary.DisabledJobs)
				fmt.Fprintf(out, "Success:  %d\n", summary.SuccessJobs)
				fmt.Fprintf(out, "Failed:   %d\n", summary.FailedJobs)
				fmt.Fprintf(out, "Running:  %d\n", summary.RunningJobs)
				return nil
			})
		},
	}
}

func buildValidateCommand() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "validate <expression>",
		Short: "Check a cron expression and preview its next fire times",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}

			expr := strings.Join(args, " ")
			if err := cronexpr.Validate(expr); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", expr, cronexpr.Describe(expr))

			runs, err := cronexpr.NextN(expr, time.Now(), count)
			if errors.Is(err, cronexpr.ErrNoFireTime) {
				fmt.Fprintln(out, "Never fires")
				return nil
			}
			if err != nil {
				return err
			}
			for _, t := range runs {
				fmt.Fprintf(out, "  %s\n", t.Format(timeLayout))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of fire times to preview")

	return cmd
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string) string {
	return utils.Truncate(strings.ReplaceAll(s, "\n", " "), 80)
}
