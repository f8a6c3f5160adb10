package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/backup"
)

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "backup", Short: "Export or import the collection"}

	var format, out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the collection to a JSON or CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			f, err := backup.ParseFormat(format)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			path := out
			if path != "-" {
				if path == "" {
					path = backup.FileName(time.Now(), f)
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return apperr.Storage("create backup dir", err)
				}
				file, err := os.Create(path)
				if err != nil {
					return apperr.Storage("create backup file", err)
				}
				defer file.Close()
				w = file
			}

			n, err := backup.Export(cmd.Context(), a.titles, w, f)
			if err != nil {
				return err
			}
			if path != "-" {
				printToast(cmd.ErrOrStderr(), toastSuccess, "Backup exported", fmt.Sprintf("%d title(s) written to %s", n, path))
			}
			return nil
		},
	}
	export.Flags().StringVar(&format, "format", "json", "json or csv")
	export.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout (default minhas-leituras-backup-<date>)")

	imp := &cobra.Command{
		Use:   "import FILE",
		Short: "Merge a JSON backup into the collection",
		Long: `Merges a JSON backup by title name, ignoring case. A title already
tracked is only overwritten when the backup copy is newer. The whole file
is rejected when any entry is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return apperr.Storage("open backup", err)
				}
				defer f.Close()
				r = f
			}

			rep, err := backup.Import(cmd.Context(), a.titles, r, time.Now())
			if err != nil {
				return err
			}
			printToast(cmd.OutOrStdout(), toastSuccess, "Backup imported",
				fmt.Sprintf("%d added, %d updated, %d unchanged", rep.Added, rep.Updated, rep.Unchanged))
			a.refreshReminders(cmd)
			return nil
		},
	}

	cmd.AddCommand(export, imp)
	return cmd
}
