package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chaptertrack/internal/identity"
	"chaptertrack/internal/localstore"
	"chaptertrack/internal/logging"
	"chaptertrack/internal/remote"
	"chaptertrack/internal/reminders"
	"chaptertrack/internal/titles"
	"chaptertrack/pkg/database"
	"chaptertrack/pkg/utils"
)

// app holds what the commands share. The local database is opened on
// first use so commands like `auth login` work without one.
type app struct {
	cfg     utils.Config
	apiURL  string
	verbose bool

	logger *log.Logger
	closer io.Closer

	db       *sql.DB
	titles   *localstore.TitleStore
	settings *localstore.Settings
	jobs     *reminders.Store
}

func main() {
	a := &app{}
	root := newRootCmd(a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	a.close()

	if err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "chaptertrack",
		Short:         "Track reading progress, sync it to the cloud and get release reminders",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.apiURL, "api", "", "API base URL (overrides api.url)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newAuthCmd(a),
		newTitlesCmd(a),
		newSyncCmd(a),
		newBackupCmd(a),
		newNotifyCmd(a),
		newRemindersCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := utils.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.apiURL == "" {
		a.apiURL = cfg.APIURL
	}

	logger, closer, err := logging.Setup(logging.Options{File: cfg.LogFile, Quiet: !a.verbose})
	if err != nil {
		return err
	}
	a.logger, a.closer = logger, closer
	return nil
}

func (a *app) open() error {
	if a.db != nil {
		return nil
	}
	db, err := database.Open(database.Config{Path: a.cfg.LocalDBPath})
	if err != nil {
		return err
	}
	if err := database.Migrate(db, database.Client); err != nil {
		_ = db.Close()
		return err
	}
	repo := localstore.NewRepo(db)
	a.db = db
	a.titles = localstore.NewTitleStore(repo, a.logger)
	a.settings = localstore.NewSettings(repo, a.logger)
	a.jobs = reminders.NewStore(db)
	return nil
}

func (a *app) close() {
	if a.titles != nil {
		a.titles.Flush()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

func (a *app) titleService() (*titles.Service, error) {
	if err := a.open(); err != nil {
		return nil, err
	}
	return titles.NewService(a.titles, a.logger), nil
}

func (a *app) identity() (identity.Identity, error) {
	return identity.Load(a.cfg.TokenPath)
}

func (a *app) httpStore() *remote.HTTPStore {
	return remote.NewHTTPStore(a.apiURL)
}

// grpcTarget turns a listen address like ":9092" into a dial target.
func (a *app) grpcTarget() string {
	addr := a.cfg.Grpc.Addr
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
