package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/notify"
	"chaptertrack/pkg/models"
)

// parseClock reads HH:MM.
func parseClock(s string) (int, int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, apperr.Validation("time must look like HH:MM")
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil {
		return 0, 0, apperr.Validation("time must look like HH:MM")
	}
	return hour, minute, nil
}

func preferenceText(p models.NotificationPreference) string {
	state := "off"
	if p.Enabled {
		state = "on"
	}
	return fmt.Sprintf("reminders %s at %02d:%02d", state, p.Hour, p.Minute)
}

func newNotifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "notify", Short: "Release reminder settings"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the reminder preference",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			p := a.settings.Preference(cmd.Context())
			perm, err := a.settings.Permission(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (permission: %s)\n", preferenceText(p), perm)
			return err
		},
	}

	var on, off bool
	var at string
	set := &cobra.Command{
		Use:   "set",
		Short: "Turn reminders on or off and pick the time",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			if on && off {
				return apperr.Validation("--on and --off are exclusive")
			}
			ctx := cmd.Context()
			p := a.settings.Preference(ctx)
			if on {
				p.Enabled = true
			}
			if off {
				p.Enabled = false
			}
			if at != "" {
				h, m, err := parseClock(at)
				if err != nil {
					return err
				}
				p.Hour, p.Minute = h, m
			}

			all, err := a.titles.LoadStrict(ctx)
			if err != nil {
				return err
			}
			jobs, err := a.scheduler(true).Apply(ctx, all, p)
			if err != nil {
				return err
			}
			printToast(cmd.OutOrStdout(), toastSuccess, "Saved", fmt.Sprintf("%s, %d weekday job(s)", preferenceText(p), len(jobs)))
			return nil
		},
	}
	set.Flags().BoolVar(&on, "on", false, "enable reminders")
	set.Flags().BoolVar(&off, "off", false, "disable reminders")
	set.Flags().StringVar(&at, "at", "", "reminder time HH:MM")

	var name string
	listen := &cobra.Command{
		Use:   "listen",
		Short: "Show reminders fired by `reminders run`",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				host, _ := os.Hostname()
				name = fmt.Sprintf("%s-%d", host, os.Getpid())
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(cmd.ErrOrStderr(), "listening for reminders on %s\n", a.cfg.NotifyAddr)
			return notify.Listen(cmd.Context(), a.cfg.NotifyAddr, name, func(m notify.ReminderMessage) {
				printToast(out, toastInfo, m.Title, m.Body)
			})
		},
	}
	listen.Flags().StringVar(&name, "name", "", "listener name (default host-pid)")

	cmd.AddCommand(show, set, listen)
	return cmd
}
