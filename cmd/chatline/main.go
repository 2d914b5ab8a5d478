package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chatline/internal/api"
	"chatline/internal/chat"
	"chatline/internal/config"
	"chatline/internal/history"
	"chatline/internal/logging"
	"chatline/internal/session"
	"chatline/internal/store"
)

var (
	// Global flags
	verbose   bool
	apiURL    string
	authToken string
	model     string
	projectID string
	threadID  string
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd launches the interactive chat when run without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "chatline",
	Short: "chatline - streaming AI chat in the terminal",
	Long: `chatline is a terminal client for a streaming AI-chat backend.

Conversations run in one of three lanes: guest (anonymous, session-scoped),
thread (durable), or project (threads grouped under a project). The server
may promote a guest conversation to a durable thread mid-session; chatline
follows along automatically.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip logger init for interactive mode (it has its own UI)
		if cmd.Use == "chatline" && cmd.CalledAs() == "chatline" {
			return nil
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Debug("command starting",
			zap.String("command", cmd.Name()),
			zap.String("workspace", workspace))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat()
	},
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		threads, err := app.client.ListThreads(ctx, 50, 0)
		if err != nil {
			zlog().Error("listing threads failed", zap.Error(err))
			return err
		}
		zlog().Debug("listed threads", zap.Int("count", len(threads)))
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPROJECT")
		for _, t := range threads {
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Name, t.ProjectID)
		}
		return w.Flush()
	},
}

var threadsRmCmd = &cobra.Command{
	Use:   "rm [thread-id]",
	Short: "Delete a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		if err := app.client.DeleteThread(ctx, args[0]); err != nil {
			zlog().Error("deleting thread failed", zap.String("thread", args[0]), zap.Error(err))
			return err
		}
		zlog().Info("deleted thread", zap.String("thread", args[0]))
		fmt.Printf("deleted thread %s\n", args[0])
		return nil
	},
}

var threadsRenameCmd = &cobra.Command{
	Use:   "rename [thread-id] [new-name]",
	Short: "Rename a thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		if err := app.client.UpdateThreadName(ctx, args[0], args[1]); err != nil {
			zlog().Error("renaming thread failed", zap.String("thread", args[0]), zap.Error(err))
			return err
		}
		zlog().Info("renamed thread", zap.String("thread", args[0]), zap.String("name", args[1]))
		fmt.Printf("renamed thread %s to %q\n", args[0], args[1])
		return nil
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		projects, err := app.client.ListProjects(ctx, 50, 0)
		if err != nil {
			zlog().Error("listing projects failed", zap.Error(err))
			return err
		}
		zlog().Debug("listed projects", zap.Int("count", len(projects)))
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Name)
		}
		return w.Flush()
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		models, err := app.client.ListModels(ctx)
		if err != nil {
			zlog().Error("listing models failed", zap.Error(err))
			return err
		}
		zlog().Debug("listed models", zap.Int("count", len(models)))
		for _, m := range models {
			fmt.Printf("%s\t%s\n", m.ID, m.Name)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent local turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		if app.archive == nil {
			return fmt.Errorf("local history is disabled in config")
		}
		ctx, cancel := commandContext()
		defer cancel()

		turns, err := app.archive.RecentTurns(ctx, 20)
		if err != nil {
			zlog().Error("reading local history failed", zap.Error(err))
			return err
		}
		for _, t := range turns {
			fmt.Printf("[%s] %s\n  > %s\n  %s\n\n",
				t.CreatedAt.Format("2006-01-02 15:04"), t.Model,
				truncate(t.Prompt, 80), truncate(t.Response, 200))
		}
		return nil
	},
}

// app bundles the wired components a command needs.
type app struct {
	cfg          *config.Config
	client       *api.Client
	store        *store.Store
	session      *session.Manager
	archive      *history.Archive
	orchestrator *chat.Orchestrator
}

// zlog returns the CLI logger, or a nop logger before initialization
// (interactive mode logs through internal/logging instead).
func zlog() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func buildApp() (*app, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		zlog().Error("loading config failed", zap.String("path", config.Path(workspace)), zap.Error(err))
		return nil, err
	}
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if authToken != "" {
		cfg.API.AuthToken = authToken
	}
	if model != "" {
		cfg.Chat.DefaultModel = model
	}
	zlog().Debug("config loaded",
		zap.String("path", config.Path(workspace)),
		zap.String("api_url", cfg.API.BaseURL),
		zap.String("model", cfg.Chat.DefaultModel),
		zap.Bool("history_enabled", cfg.History.Enabled))

	if err := logging.Initialize(workspace); err != nil {
		zlog().Warn("file logging unavailable", zap.Error(err))
		fmt.Fprintf(os.Stderr, "warning: file logging unavailable: %v\n", err)
	}

	client := api.New(cfg.API.BaseURL, cfg.API.AuthToken, cfg.APITimeout())
	st := store.New()
	sess := session.NewManager(workspace)

	var archive *history.Archive
	if cfg.History.Enabled {
		archive, err = history.Open(cfg.History.DatabasePath)
		if err != nil {
			zlog().Warn("local history unavailable", zap.Error(err))
			fmt.Fprintf(os.Stderr, "warning: local history unavailable: %v\n", err)
			archive = nil
		}
	}

	resolver := chat.NewResolver(st, sess, client)
	orch := chat.NewOrchestrator(st, client, resolver, archive, cfg.Chat.DefaultModel, cfg.TurnTimeout())

	return &app{
		cfg:          cfg,
		client:       client,
		store:        st,
		session:      sess,
		archive:      archive,
		orchestrator: orch,
	}, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "backend API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token (overrides config)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "model id for new turns (overrides config)")
	rootCmd.PersistentFlags().StringVar(&projectID, "project", "", "start inside this project")
	rootCmd.PersistentFlags().StringVar(&threadID, "thread", "", "resume this thread")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")

	threadsCmd.AddCommand(threadsRmCmd, threadsRenameCmd)
	rootCmd.AddCommand(threadsCmd, projectsCmd, modelsCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

