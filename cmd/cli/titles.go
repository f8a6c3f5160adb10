package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/titles"
	"chaptertrack/pkg/models"
)

var weekdayNames = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// parseWeekday accepts 0-6 (Sunday = 0) or an English day name or prefix.
func parseWeekday(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, apperr.Validation("release day must be 0-6 (Sunday = 0)")
		}
		return n, nil
	}
	if len(s) >= 3 {
		for i, name := range weekdayNames {
			if strings.HasPrefix(strings.ToLower(name), s) {
				return i, nil
			}
		}
	}
	return 0, apperr.Validation(fmt.Sprintf("unknown release day %q", s))
}

func dayName(t models.Title) string {
	if !t.HasReleaseDay() {
		return "-"
	}
	return weekdayNames[*t.ReleaseDay]
}

func chapterText(t models.Title) string {
	cur := strconv.FormatFloat(t.CurrentChapter, 'f', -1, 64)
	if t.LastChapter == nil {
		return cur
	}
	return cur + "/" + strconv.FormatFloat(*t.LastChapter, 'f', -1, 64)
}

func newTitlesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "titles", Aliases: []string{"t"}, Short: "Manage tracked titles"}
	cmd.AddCommand(
		newTitlesAddCmd(a),
		newTitlesListCmd(a),
		newTitlesShowCmd(a),
		newTitlesEditCmd(a),
		newTitlesStepCmd(a, "inc", 1),
		newTitlesStepCmd(a, "dec", -1),
		newTitlesRmCmd(a),
		newTitlesStatsCmd(a),
	)
	return cmd
}

func newTitlesAddCmd(a *app) *cobra.Command {
	var (
		chapter, last float64
		site, day     string
		cover         string
	)
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Track a new title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.titleService()
			if err != nil {
				return err
			}
			d := titles.Draft{
				Name:           strings.Join(args, " "),
				CurrentChapter: chapter,
				SiteURL:        site,
				CoverURI:       cover,
			}
			if cmd.Flags().Changed("last") {
				d.LastChapter = models.Float(last)
			}
			if day != "" {
				n, err := parseWeekday(day)
				if err != nil {
					return err
				}
				d.ReleaseDay = models.Int(n)
			}

			t, err := svc.Add(cmd.Context(), d)
			if err != nil {
				return err
			}
			printToast(cmd.OutOrStdout(), toastSuccess, "Added "+t.Name, "id "+t.ID)
			a.pushTitle(cmd, t)
			a.refreshReminders(cmd)
			return nil
		},
	}
	cmd.Flags().Float64Var(&chapter, "chapter", 0, "current chapter")
	cmd.Flags().Float64Var(&last, "last", 0, "last released chapter")
	cmd.Flags().StringVar(&site, "site", "", "reading site URL")
	cmd.Flags().StringVar(&day, "day", "", "release day (0-6 or name)")
	cmd.Flags().StringVar(&cover, "cover", "", "cover image path or URL")
	return cmd
}

func newTitlesListCmd(a *app) *cobra.Command {
	var (
		search, sortBy string
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List titles",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.titleService()
			if err != nil {
				return err
			}
			order, err := titles.ParseSortOrder(sortBy)
			if err != nil {
				return err
			}
			list, err := svc.List(cmd.Context(), titles.Query{Search: search, Sort: order})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), list)
			}

			rows := make([][]string, 0, len(list))
			for _, t := range list {
				done := ""
				if t.Completed() {
					done = "yes"
				}
				rows = append(rows, []string{t.ID, t.Name, chapterText(t), dayName(t), done})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), newTable("ID", "NAME", "CHAPTER", "DAY", "DONE").Rows(rows...))
			return err
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by name")
	cmd.Flags().StringVar(&sortBy, "sort", "name", "name, updated or release-day")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newTitlesShowCmd(a *app) *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a title, or open or copy its site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.titleService()
			if err != nil {
				return err
			}
			act, err := titles.ParseTapAction(action)
			if err != nil {
				return err
			}
			t, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			switch act.Resolve(t) {
			case titles.TapCopyURL:
				if err := clipboard.WriteAll(t.SiteURL); err != nil {
					return fmt.Errorf("copy url: %w", err)
				}
				printToast(cmd.OutOrStdout(), toastSuccess, "Link copied", t.SiteURL)
				return nil
			case titles.TapOpenURL:
				_, err := fmt.Fprintln(cmd.OutOrStdout(), t.SiteURL)
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}
	cmd.Flags().StringVar(&action, "action", "edit", "edit, open_url or copy_url")
	return cmd
}

func newTitlesEditCmd(a *app) *cobra.Command {
	var (
		name, site, day, cover string
		chapter, last          float64
		clearLast, clearDay    bool
	)
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change a title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.titleService()
			if err != nil {
				return err
			}
			f := cmd.Flags()
			p := titles.Patch{ClearLastChapter: clearLast, ClearReleaseDay: clearDay}
			if f.Changed("name") {
				p.Name = &name
			}
			if f.Changed("chapter") {
				p.CurrentChapter = &chapter
			}
			if f.Changed("last") {
				p.LastChapter = &last
			}
			if f.Changed("site") {
				p.SiteURL = &site
			}
			if f.Changed("cover") {
				p.CoverURI = &cover
			}
			if f.Changed("day") {
				n, err := parseWeekday(day)
				if err != nil {
					return err
				}
				p.ReleaseDay = &n
			}

			t, err := svc.Edit(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			printToast(cmd.OutOrStdout(), toastSuccess, "Saved "+t.Name, chapterText(t))
			a.pushTitle(cmd, t)
			a.refreshReminders(cmd)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().Float64Var(&chapter, "chapter", 0, "current chapter")
	cmd.Flags().Float64Var(&last, "last", 0, "last released chapter")
	cmd.Flags().BoolVar(&clearLast, "clear-last", false, "forget the last chapter")
	cmd.Flags().StringVar(&site, "site", "", "reading site URL")
	cmd.Flags().StringVar(&day, "day", "", "release day (0-6 or name)")
	cmd.Flags().BoolVar(&clearDay, "clear-day", false, "forget the release day")
	cmd.Flags().StringVar(&cover, "cover", "", "cover image path or URL")
	return cmd
}

func newTitlesStepCmd(a *app, use string, sign int) *cobra.Command {
	short := "Mark the next chapter as read"
	if sign < 0 {
		short = "Step back one chapter"
	}
	return &cobra.Command{
		Use:   use + " ID [N]",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.titleService()
			if err != nil {
				return err
			}
			n := 1
			if len(args) == 2 {
				if n, err = strconv.Atoi(args[1]); err != nil || n < 1 {
					return apperr.Validation("N must be a positive integer")
				}
			}
			t, err := svc.Step(cmd.Context(), args[0], sign*n)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: chapter %s\n", t.Name, chapterText(t)); err != nil {
				return err
			}
			a.pushTitle(cmd, t)
			return nil
		},
	}
}

func newTitlesRmCmd(a *app) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Stop tracking a title",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.titleService()
			if err != nil {
				return err
			}
			if purge {
				if err := svc.Purge(cmd.Context(), args[0]); err != nil {
					return err
				}
				printToast(cmd.OutOrStdout(), toastSuccess, "Purged", args[0])
				a.purgeTitle(cmd, args[0])
				a.refreshReminders(cmd)
				return nil
			}

			tomb, err := svc.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printToast(cmd.OutOrStdout(), toastSuccess, "Removed", args[0])
			a.pushTitle(cmd, tomb)
			a.refreshReminders(cmd)
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "drop the record here and in the cloud instead of leaving a tombstone")
	return cmd
}

func newTitlesStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Reading statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.titleService()
			if err != nil {
				return err
			}
			st, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}

			summary := newTable("", "TITLES").Rows(
				[]string{"Reading", strconv.Itoa(st.Reading)},
				[]string{"Completed", strconv.Itoa(st.Completed)},
				[]string{"Overdue today", strconv.Itoa(st.Overdue)},
			)
			byDay := newTable("RELEASE DAY", "TITLES")
			for i, n := range st.ByDay {
				byDay.Row(weekdayNames[i], strconv.Itoa(n))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), lipgloss.JoinHorizontal(lipgloss.Top, summary.String(), "  ", byDay.String()))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...)
}
