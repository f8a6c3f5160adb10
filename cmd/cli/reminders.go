package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/notify"
	"chaptertrack/internal/reminders"
)

// scheduler builds the reminder scheduler. With prompt the permission
// request asks on the terminal; without it a missing permission is
// reported instead.
func (a *app) scheduler(prompt bool) *reminders.Scheduler {
	perms := reminders.StoredPermissions{Settings: a.settings}
	if prompt {
		perms.Prompt = askPermission
	}
	kind, err := reminders.ParseTriggerKind(a.cfg.Reminders.Trigger)
	if err != nil {
		kind = reminders.Calendar
	}
	return reminders.NewScheduler(a.jobs, perms, a.settings, kind, a.logger)
}

// refreshReminders re-plans the jobs after a collection change. Failures
// only warn: the change itself is already saved.
func (a *app) refreshReminders(cmd *cobra.Command) {
	if err := a.open(); err != nil {
		return
	}
	if _, err := a.reconcile(cmd.Context(), false); err != nil {
		printToast(cmd.ErrOrStderr(), toastWarn, "Reminders not updated", err.Error())
	}
}

func (a *app) reconcile(ctx context.Context, prompt bool) ([]reminders.JobSpec, error) {
	all, err := a.titles.LoadStrict(ctx)
	if err != nil {
		return nil, err
	}
	return a.scheduler(prompt).Refresh(ctx, all)
}

func newRemindersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "reminders", Short: "Scheduled release reminders"}

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild the weekly reminder jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			jobs, err := a.reconcile(cmd.Context(), true)
			if err != nil {
				return err
			}
			printToast(cmd.OutOrStdout(), toastSuccess, "Reminders updated", fmt.Sprintf("%d weekday job(s)", len(jobs)))
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			jobs, err := a.jobs.Jobs(cmd.Context())
			if err != nil {
				return apperr.Storage("list jobs", err)
			}
			t := newTable("ID", "NEXT", "TRIGGER", "MESSAGE")
			for _, j := range jobs {
				t.Row(j.ID, j.NextFire.Local().Format("Mon 02 Jan 15:04"), string(j.Trigger.Kind), j.Body)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), t)
			return err
		},
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Fire due reminders and keep the jobs in step with the collection",
		Long: `Runs until interrupted: serves the notify channel that "notify listen"
connects to, fires due jobs, and re-plans the jobs whenever the local
collection or preference changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			ctx := cmd.Context()

			if _, err := a.reconcile(ctx, false); err != nil && !errors.Is(err, apperr.ErrPermissionDenied) {
				return err
			}

			srv := notify.NewServer(a.cfg.NotifyAddr, nil, a.logger)
			if err := srv.Listen(); err != nil {
				return apperr.Network("start notify channel", err)
			}
			out := cmd.OutOrStdout()
			notifier := reminders.NotifierFunc(func(ctx context.Context, job reminders.Job) error {
				printToast(out, toastInfo, job.Title, job.Body)
				return srv.Notify(ctx, job)
			})
			runner := reminders.NewRunner(a.jobs, notifier, a.cfg.Reminders.PollInterval, a.logger)

			watcher := reminders.NewWatcher(a.cfg.LocalDBPath,
				func(ctx context.Context) (string, error) {
					all, err := a.titles.LoadStrict(ctx)
					if err != nil {
						return "", err
					}
					return reminders.Fingerprint(all, a.settings.Preference(ctx)), nil
				},
				func(ctx context.Context) error {
					_, err := a.reconcile(ctx, false)
					return err
				},
				a.logger)

			fmt.Fprintf(cmd.ErrOrStderr(), "reminders running, notify channel on %s (ctrl-c to stop)\n", srv.ListenAddr())

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Serve)
			g.Go(func() error { return runner.Run(gctx) })
			g.Go(func() error { return watcher.Run(gctx) })
			g.Go(func() error {
				<-gctx.Done()
				return srv.Close()
			})
			if err := g.Wait(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.AddCommand(reconcile, list, run)
	return cmd
}
