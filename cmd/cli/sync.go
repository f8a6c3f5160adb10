package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/remote"
	synchub "chaptertrack/internal/sync"
	"chaptertrack/internal/syncer"
	"chaptertrack/pkg/models"
)

func newSyncCmd(a *app) *cobra.Command {
	var useGRPC bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Two-way sync with the cloud backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.runSync(cmd.Context(), useGRPC)
			if err != nil {
				return err
			}
			printToast(cmd.OutOrStdout(), toastSuccess, "Synced", syncSummary(res))
			a.refreshReminders(cmd)
			return nil
		},
	}
	cmd.Flags().BoolVar(&useGRPC, "grpc", false, "use the gRPC service for documents")
	cmd.AddCommand(newSyncWatchCmd(a, &useGRPC), newSyncStatusCmd(a))
	return cmd
}

func (a *app) pusher() *syncer.Pusher {
	return syncer.NewPusher(a.titles, a.httpStore(), a.logger)
}

// pushTitle sends one edited title to the cloud when signed in. Failures
// only warn; the next sync carries the change.
func (a *app) pushTitle(cmd *cobra.Command, t models.Title) {
	if !a.cfg.PushOnEdit {
		return
	}
	id, err := a.identity()
	if err != nil || id.Require() != nil {
		return
	}
	got, err := a.pusher().Push(cmd.Context(), id, t)
	switch {
	case err != nil:
		printToast(cmd.ErrOrStderr(), toastWarn, "Not sent to the cloud yet", err.Error())
	case got == syncer.CloudKept:
		printToast(cmd.ErrOrStderr(), toastInfo, "Cloud copy is newer", "run `chaptertrack sync` to review "+t.Name)
	}
}

// purgeTitle removes a purged title from the cloud too. Signed out, a
// later sync drops it there when it was synced before.
func (a *app) purgeTitle(cmd *cobra.Command, titleID string) {
	id, err := a.identity()
	if err != nil || id.Require() != nil {
		return
	}
	if err := a.pusher().Purge(cmd.Context(), id, titleID); err != nil {
		printToast(cmd.ErrOrStderr(), toastWarn, "Not removed from the cloud yet", err.Error())
	}
}

func newSyncStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare this device with the cloud record by record",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.identity()
			if err != nil {
				return err
			}
			if err := id.Require(); err != nil {
				return err
			}
			if err := a.open(); err != nil {
				return err
			}
			d, err := a.pusher().Drift(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), d)
			}
			if d.InSync() {
				printToast(cmd.OutOrStdout(), toastSuccess, "In sync", "this device matches the cloud")
				return nil
			}
			rows := [][]string{
				{"Newer here", strconv.Itoa(len(d.Ahead)), strings.Join(d.Ahead, " ")},
				{"Newer in the cloud", strconv.Itoa(len(d.Behind)), strings.Join(d.Behind, " ")},
				{"Only here", strconv.Itoa(len(d.LocalOnly)), strings.Join(d.LocalOnly, " ")},
				{"Only in the cloud", strconv.Itoa(len(d.CloudOnly)), strings.Join(d.CloudOnly, " ")},
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), newTable("", "TITLES", "IDS").Rows(rows...))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) engine(useGRPC bool) (*syncer.Engine, func(), error) {
	if err := a.open(); err != nil {
		return nil, nil, err
	}
	httpStore := a.httpStore()
	var store remote.Store = httpStore
	cleanup := func() {}

	if useGRPC {
		cc, err := remote.DialGRPC(a.grpcTarget())
		if err != nil {
			return nil, nil, apperr.Network("connect to gRPC service", err)
		}
		store = remote.NewGRPCStore(cc)
		cleanup = func() { _ = cc.Close() }
	}

	e := syncer.NewEngine(a.titles, store, httpStore, a.settings, a.logger)
	if a.cfg.TombstoneRetention > 0 {
		e.Retention = a.cfg.TombstoneRetention
	}
	return e, cleanup, nil
}

func (a *app) runSync(ctx context.Context, useGRPC bool) (syncer.Result, error) {
	id, err := a.identity()
	if err != nil {
		return syncer.Result{}, err
	}
	if err := id.Require(); err != nil {
		return syncer.Result{}, err
	}
	e, cleanup, err := a.engine(useGRPC)
	if err != nil {
		return syncer.Result{}, err
	}
	defer cleanup()
	return e.Sync(ctx, id)
}

func syncSummary(res syncer.Result) string {
	parts := []string{
		fmt.Sprintf("sent %d new, %d updated, %d removed",
			len(res.Upload.Added), len(res.Upload.Updated), len(res.Upload.Removed)),
		fmt.Sprintf("received %d new, %d updated, %d removed",
			len(res.Download.Added), len(res.Download.Updated), len(res.Download.Removed)),
	}
	if res.CoversUploaded > 0 {
		parts = append(parts, fmt.Sprintf("%d cover(s) uploaded", res.CoversUploaded))
	}
	if res.Watermark.IsZero() {
		parts = append(parts, "first sync on this device")
	}
	return strings.Join(parts, "\n")
}

func newSyncWatchCmd(a *app, useGRPC *bool) *cobra.Command {
	var (
		overTCP bool
		auto    bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow cloud changes made by your other devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.identity()
			if err != nil {
				return err
			}
			if err := id.Require(); err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			handle := func(e synchub.TitlesEvent) {
				fmt.Fprintf(out, "%s  %-15s count=%d title=%s via=%s\n",
					e.At.Local().Format(time.TimeOnly), e.Type, e.Count, e.TitleID, e.Source)

				switch e.Type {
				case synchub.AccountDeleteType:
					_ = a.signOut(ctx)
					printToast(out, toastWarn, "Account deleted", "signed out on this device")
					cancel()
				case synchub.TitlesSyncedType, synchub.TitleUpdatedType, synchub.TitleDeletedType:
					if !auto {
						return
					}
					// the sync triggered here publishes again only when it
					// changed the cloud copy
					if res, err := a.runSync(ctx, *useGRPC); err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), renderError(err))
					} else {
						fmt.Fprintln(out, syncSummary(res))
					}
				}
			}

			for {
				var err error
				if overTCP {
					err = synchub.WatchTCP(ctx, a.cfg.SyncTCPAddr, id.Token, handle)
				} else {
					var wsURL string
					if wsURL, err = synchub.WebsocketURL(a.apiURL, "/ws"); err != nil {
						return err
					}
					err = synchub.WatchWS(ctx, wsURL, id.Token, handle)
				}
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Printf("[sync] disconnected: %v", err)
				fmt.Fprintln(cmd.ErrOrStderr(), "disconnected, retrying...")

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(2 * time.Second):
				}
			}
		},
	}
	cmd.Flags().BoolVar(&overTCP, "tcp", false, "use the TCP feed instead of the websocket")
	cmd.Flags().BoolVar(&auto, "auto", false, "sync whenever the cloud copy changes")
	return cmd
}
