package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tanmoy/chatdump/internal/api"
	"github.com/tanmoy/chatdump/internal/download"
	"github.com/tanmoy/chatdump/internal/export"
	"github.com/tanmoy/chatdump/internal/service"
	"github.com/tanmoy/chatdump/internal/store"
	"github.com/tanmoy/chatdump/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

// Only the persistent flags live at package scope; each subcommand's flags
// are closure-scoped so sibling commands cannot clobber each other's
// defaults.
var (
	flagBaseURL string
	flagToken   string
	flagVerbose bool
)

// App bundles the injectable edges so tests can run commands against fakes.
type App struct {
	Out      io.Writer
	Err      io.Writer
	GetEnv   func(string) string
	NewAPI   func(cfg api.Config) service.API
	NewStore func() (*store.Store, error)
}

func DefaultApp() *App {
	return &App{
		Out:    os.Stdout,
		Err:    os.Stderr,
		GetEnv: os.Getenv,
		NewAPI: func(cfg api.Config) service.API {
			return api.New(cfg)
		},
		NewStore: store.New,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	godotenv.Load()
	app := DefaultApp()
	return newRootCmd(app).Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatdump",
		Short: "Export chats and images from Yodayo/Moescape",
		Long: `chatdump exports role-play chat history and generated images through the
sites' own REST APIs, using your authenticated session token.

Examples:
  chatdump chats --counts
  chatdump export 3f2a… -f html -o exports/
  chatdump images 3f2a… --download -o images/`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "API base URL (defaults to CHATDUMP_BASE_URL or the Moescape API)")
	cmd.PersistentFlags().StringVar(&flagToken, "token", "", "session token (defaults to CHATDUMP_TOKEN)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newChatsCmd(app))
	cmd.AddCommand(newExportCmd(app))
	cmd.AddCommand(newImagesCmd(app))
	cmd.AddCommand(newBookmarkCmd(app))
	cmd.AddCommand(newPrefsCmd(app))

	return cmd
}

func (a *App) logger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(a.Err, &slog.HandlerOptions{Level: level}))
}

func (a *App) client(logger *slog.Logger) service.API {
	baseURL := flagBaseURL
	if baseURL == "" {
		baseURL = a.GetEnv("CHATDUMP_BASE_URL")
	}
	token := flagToken
	if token == "" {
		token = a.GetEnv("CHATDUMP_TOKEN")
	}
	return a.NewAPI(api.Config{BaseURL: baseURL, Token: token, Logger: logger})
}

func (a *App) session() *service.Session {
	logger := a.logger()
	return service.NewSession(a.client(logger), logger)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newChatsCmd(app *App) *cobra.Command {
	var (
		refresh bool
		counts  bool
	)
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List your chats",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			sess := app.session()
			chats, err := sess.Chats(ctx, refresh)
			if err != nil {
				return err
			}
			if counts {
				chats = sess.FillImageCounts(ctx, chats)
			}

			for _, c := range chats {
				line := fmt.Sprintf("%s  %s  %s", c.ID, c.CreatedAt.Format("2006-01-02"), c.Title)
				if c.ImageCount != nil {
					line += fmt.Sprintf("  (%d images)", *c.ImageCount)
				}
				fmt.Fprintln(app.Out, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cached chat list")
	cmd.Flags().BoolVar(&counts, "counts", false, "fetch each chat's image count")
	return cmd
}

func newExportCmd(app *App) *cobra.Command {
	var (
		formatName string
		outDir     string
		userName   string
		refresh    bool
	)
	cmd := &cobra.Command{
		Use:   "export <chat-id>",
		Short: "Export a chat's history to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			format := models.ExportFormat(formatName)
			if !format.IsValid() {
				return fmt.Errorf("%w: %q (valid: %v)", models.ErrBadFormat, formatName, models.ValidFormats())
			}

			sess := app.session()
			chat, err := findChat(ctx, sess, args[0])
			if err != nil {
				return err
			}

			msgs, err := sess.Messages(ctx, chat.ID, refresh)
			if err != nil {
				return err
			}

			meta := export.Meta{
				CharacterName: chat.Title,
				UserName:      userName,
				SourceURL:     flagBaseURL,
				ExportedAt:    time.Now(),
			}
			if len(chat.Characters) > 0 {
				meta.CharacterName = chat.Characters[0].Name
				greeting, err := sess.Greeting(ctx, chat.Characters[0].ID)
				if err != nil {
					fmt.Fprintf(app.Err, "Warning: could not fetch greeting: %v\n", err)
				} else {
					meta.Greeting = greeting
				}
			}

			content, filename, err := export.Render(msgs, format, meta)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			dest := filepath.Join(outDir, filename)
			if err := os.WriteFile(dest, content, 0644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}

			fmt.Fprintf(app.Out, "Exported %d messages to %s\n", len(msgs), dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&formatName, "format", "f", "txt", "output format (txt, jsonl, tavern, json, html)")
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "output directory")
	cmd.Flags().StringVar(&userName, "user", "", "name to use for your own messages")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass cached messages")
	return cmd
}

func newImagesCmd(app *App) *cobra.Command {
	var (
		doDownload bool
		outDir     string
		refresh    bool
	)
	cmd := &cobra.Command{
		Use:   "images <chat-id>",
		Short: "List or download a chat's images",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			sess := app.session()
			chat, err := findChat(ctx, sess, args[0])
			if err != nil {
				return err
			}

			descs, err := sess.Images(ctx, chat, refresh)
			if err != nil {
				return err
			}

			if !doDownload {
				for _, d := range descs {
					fmt.Fprintf(app.Out, "%-10s  %s\n", d.Kind, d.URL)
				}
				fmt.Fprintf(app.Out, "%d images\n", len(descs))
				return nil
			}

			// The progress bar owns stderr while downloading; keep the
			// diagnostic log quiet unless asked for.
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if flagVerbose {
				logger = app.logger()
			}
			fetcher, ok := app.client(logger).(download.Fetcher)
			if !ok {
				return fmt.Errorf("api client does not support downloads")
			}

			dl := download.New(fetcher, outDir, logger)
			job := download.NewJob(descs)

			bar := progressbar.NewOptions(len(descs),
				progressbar.OptionSetWriter(app.Err),
				progressbar.OptionSetDescription("downloading"),
				progressbar.OptionShowCount(),
			)
			var last int
			final, err := dl.Run(ctx, job, func(p download.Progress) {
				settled := p.Completed + p.Failed + p.Manual
				if settled > last {
					bar.Add(settled - last)
					last = settled
				}
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out)
			fmt.Fprintf(app.Out, "Done: %d saved, %d failed, %d left for manual download\n",
				final.Completed, final.Failed, final.Manual)
			return nil
		},
	}
	cmd.Flags().BoolVar(&doDownload, "download", false, "download the images instead of listing them")
	cmd.Flags().StringVarP(&outDir, "output", "o", "images", "download directory")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass cached messages")
	return cmd
}

func newBookmarkCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmark",
		Short: "Manage bookmarked chats",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <chat-id> [title]",
		Short: "Bookmark a chat",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			st, err := app.NewStore()
			if err != nil {
				return err
			}
			defer st.Close()

			title := ""
			if len(args) > 1 {
				title = args[1]
			}
			if err := st.AddBookmark(ctx, args[0], title); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Bookmarked %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <chat-id>",
		Short: "Remove a bookmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			st, err := app.NewStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.RemoveBookmark(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Removed %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List bookmarks",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			st, err := app.NewStore()
			if err != nil {
				return err
			}
			defer st.Close()

			bookmarks, err := st.ListBookmarks(ctx)
			if err != nil {
				return err
			}
			for _, b := range bookmarks {
				fmt.Fprintf(app.Out, "%s  %s\n", b.ChatID, b.Title)
			}
			return nil
		},
	})

	return cmd
}

func newPrefsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Get or set preference flags",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Show a preference flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			st, err := app.NewStore()
			if err != nil {
				return err
			}
			defer st.Close()

			v, err := st.GetBoolPref(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, strconv.FormatBool(v))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a preference flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			st, err := app.NewStore()
			if err != nil {
				return err
			}
			defer st.Close()

			v, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("value must be true or false: %w", err)
			}
			return st.SetBoolPref(ctx, args[0], v)
		},
	})

	return cmd
}

func findChat(ctx context.Context, sess *service.Session, chatID string) (models.ChatSummary, error) {
	chats, err := sess.Chats(ctx, false)
	if err != nil {
		return models.ChatSummary{}, err
	}
	for _, c := range chats {
		if c.ID == chatID {
			return c, nil
		}
	}
	return models.ChatSummary{}, fmt.Errorf("chat %s not found", chatID)
}
