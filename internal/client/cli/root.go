package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/bitacora/internal/client/app"
	"github.com/dmitrijs2005/bitacora/internal/client/config"
	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/filex"
	"github.com/dmitrijs2005/bitacora/internal/logging"
	"github.com/dmitrijs2005/bitacora/internal/remote"
)

// session is built lazily by the persistent pre-run hook and shared by the
// command that runs.
type session struct {
	in      io.Reader
	out     io.Writer
	appOpts []app.Option

	cfg   *config.Config
	log   logging.Logger
	app   *app.App
	shell *Shell
}

func (s *session) open(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	s.cfg = cfg
	s.log = logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

	// a failure here surfaces as degraded mode when the store opens
	if _, err := filex.EnsureParentDir(cfg.DBPath); err != nil {
		s.log.Warn(cmd.Context(), "cannot create local store directory", "error", err)
	}

	opts := append([]app.Option{app.WithLogger(s.log)}, s.appOpts...)
	a, err := app.New(cmd.Context(), cfg, opts...)
	if err != nil {
		return err
	}
	s.app = a
	s.shell = NewShell(a, s.in, s.out)
	return nil
}

func (s *session) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// connected runs fn after one synchronous probe, so the command sees the
// real connectivity and any queued work is replayed first.
func (s *session) connected(fn func(ctx context.Context, sh *Shell, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s.app.Connect(cmd.Context())
		return fn(cmd.Context(), s.shell, args)
	}
}

// Run executes the bitacora command line in args and releases the session
// whatever the outcome. opts are passed to the session (tests inject probers
// and remote stores through them).
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer, opts ...app.Option) error {
	s := &session{in: in, out: out, appOpts: opts}
	root := newRootCommand(s)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if cerr := s.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCommand(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:           "bitacora",
		Short:         "Offline-first construction logbook",
		Long:          "bitacora keeps a construction-site logbook usable without a connection: changes made offline are stored locally and replayed when the connection returns.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.open(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.repl(cmd.Context())
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "repl",
			Short: "Interactive session (default)",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return s.repl(cmd.Context()) },
		},
		newCreateCmd(s),
		newUpdateCmd(s),
		newDeleteCmd(s),
		newListCmd(s),
		&cobra.Command{
			Use:   "show <id>",
			Short: "Show an entry with its comments",
			Args:  cobra.ExactArgs(1),
			RunE: s.connected(func(ctx context.Context, sh *Shell, args []string) error {
				return sh.showEntry(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "comment <id> <text...>",
			Short: "Comment on an entry (online only)",
			Args:  cobra.MinimumNArgs(2),
			RunE: s.connected(func(ctx context.Context, sh *Shell, args []string) error {
				return sh.addComment(ctx, args[0], strings.Join(args[1:], " "))
			}),
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Replay the offline queue now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return s.shell.syncNow(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Connectivity, session and queue summary",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s.app.Monitor.Check(cmd.Context())
				return s.shell.showStatus(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "queue",
			Short: "List queued offline mutations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return s.shell.showQueue(cmd.Context())
			},
		},
		newLoginCmd(s),
		&cobra.Command{
			Use:   "logout",
			Short: "Forget the saved session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return s.shell.Logout(cmd.Context())
			},
		},
		newRemoteCmd(s),
	)
	return root
}

func (s *session) repl(ctx context.Context) error {
	s.app.Start(ctx)
	fmt.Fprintln(s.out, "Bitácora de obra (type 'help' for commands)")
	runREPL(ctx, s.shell, func() string { return s.shell.prompt(ctx) }, s.shell.reader, s.out)
	return nil
}

type entryFlags struct {
	title, description, date string
	start, end                string
	category, location        string
	files                     []string
}

func (f *entryFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.title, "title", "t", "", "título")
	fl.StringVarP(&f.description, "description", "d", "", "descripción")
	fl.StringVar(&f.date, "date", "", "fecha, e.g. 2025-01-10T08:00 (default now)")
	fl.StringVar(&f.start, "start", "", "hora de inicio (HH:MM)")
	fl.StringVar(&f.end, "end", "", "hora final (HH:MM)")
	fl.StringVar(&f.category, "type", "", "tipo de nota")
	fl.StringVar(&f.location, "location", "", "ubicación")
	fl.StringSliceVarP(&f.files, "file", "f", nil, "attachment path (repeatable)")
}

func newCreateCmd(s *session) *cobra.Command {
	var f entryFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an entry; stored offline when there is no connection",
		Args:  cobra.NoArgs,
		RunE: s.connected(func(ctx context.Context, sh *Shell, _ []string) error {
			date := models.NewLocalDateTime(sh.now())
			if f.date != "" {
				d, err := models.ParseLocalDateTime(f.date)
				if err != nil {
					return err
				}
				date = d
			}
			return sh.createEntry(ctx, models.EntryDraft{
				Title:       f.title,
				Description: f.description,
				Date:        date,
				StartTime:   f.start,
				EndTime:     f.end,
				Category:    f.category,
				Location:    f.location,
			}, f.files)
		}),
	}
	f.register(cmd)
	return cmd
}

func newUpdateCmd(s *session) *cobra.Command {
	var f entryFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update the given fields of an entry; the folio never changes",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = s.connected(func(ctx context.Context, sh *Shell, args []string) error {
		var ch models.EntryChanges
		changed := func(name string, v string) *string {
			if !cmd.Flags().Changed(name) {
				return nil
			}
			return &v
		}
		ch.Title = changed("title", f.title)
		ch.Description = changed("description", f.description)
		ch.StartTime = changed("start", f.start)
		ch.EndTime = changed("end", f.end)
		ch.Category = changed("type", f.category)
		ch.Location = changed("location", f.location)
		if cmd.Flags().Changed("date") {
			d, err := models.ParseLocalDateTime(f.date)
			if err != nil {
				return err
			}
			ch.Date = &d
		}
		return sh.updateEntry(ctx, args[0], ch, f.files)
	})
	f.register(cmd)
	return cmd
}

func newDeleteCmd(s *session) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entry and its comments (administrators only)",
		Args:  cobra.ExactArgs(1),
		RunE: s.connected(func(ctx context.Context, sh *Shell, args []string) error {
			if !yes {
				return sh.Delete(ctx, args[0])
			}
			return sh.deleteEntry(ctx, args[0])
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newListCmd(s *session) *cobra.Command {
	var (
		from, to string
		f        models.EntryFilter
		mine     bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List entries, newest first",
		Args:    cobra.NoArgs,
		RunE: s.connected(func(ctx context.Context, sh *Shell, _ []string) error {
			var err error
			if f.From, err = models.ParseLocalDateTime(from); err != nil {
				return err
			}
			if f.To, err = models.ParseLocalDateTime(to); err != nil {
				return err
			}
			if mine {
				u, ok := s.app.State.User()
				if !ok {
					return explain(common.ErrNotLoggedIn)
				}
				f.UserID = u.ID
			}
			return sh.listEntries(ctx, f)
		}),
	}
	fl := cmd.Flags()
	fl.StringVar(&from, "from", "", "earliest fecha")
	fl.StringVar(&to, "to", "", "latest fecha")
	fl.StringVar(&f.Category, "type", "", "only this tipo de nota")
	fl.StringVarP(&f.Search, "search", "s", "", "text in título, descripción, ubicación or folio")
	fl.IntVarP(&f.Limit, "limit", "n", 0, "maximum entries (0 = all)")
	fl.BoolVar(&mine, "mine", false, "only entries of the signed-in user")
	return cmd
}

func newLoginCmd(s *session) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an access token issued by the backend",
		Args:  cobra.NoArgs,
		RunE: s.connected(func(ctx context.Context, sh *Shell, _ []string) error {
			if token != "" {
				return sh.loginWith(ctx, token)
			}
			return sh.Login(ctx)
		}),
	}
	cmd.Flags().StringVar(&token, "token", "", "access token (prompted without echo when omitted)")
	return cmd
}

func newRemoteCmd(s *session) *cobra.Command {
	remoteCmd := &cobra.Command{
		Use:   "remote",
		Short: "Remote store administration",
	}
	remoteCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the remote schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db := s.app.RemoteDB()
			if db == nil {
				return errors.New("remote migrate needs a postgres remote (--remote postgres://...)")
			}
			if err := remote.Migrate(cmd.Context(), db, s.log); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Remote schema is up to date.")
			return nil
		},
	})
	return remoteCmd
}
