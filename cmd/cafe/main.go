package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scawful/halext-org-sub003/internal/api"
	"github.com/scawful/halext-org-sub003/internal/config"
	"github.com/scawful/halext-org-sub003/internal/creds"
	"github.com/scawful/halext-org-sub003/internal/mockserver"
	"github.com/scawful/halext-org-sub003/internal/offline"
	"github.com/scawful/halext-org-sub003/internal/presence"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "cafe",
		Short: "cafe — command-line client for the Cafe productivity backend",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(loginCmd(&configPath))
	rootCmd.AddCommand(logoutCmd(&configPath))
	rootCmd.AddCommand(tasksCmd(&configPath))
	rootCmd.AddCommand(modelsCmd(&configPath))
	rootCmd.AddCommand(presenceCmd(&configPath))
	rootCmd.AddCommand(syncCmd(&configPath))
	rootCmd.AddCommand(mockCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loginCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}

			cfg, log, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			tokens := creds.NewStore(cfg.Creds.Path)
			client, err := api.New(cfg.API, tokens, log)
			if err != nil {
				return err
			}

			resp, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := tokens.Save(resp.Token); err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}

			fmt.Println("Signed in.")
			return nil
		},
	}
	cmd.Flags().String("username", "", "account username")
	cmd.Flags().String("password", "", "account password")
	return cmd
}

func logoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			if err := creds.NewStore(cfg.Creds.Path).Clear(); err != nil {
				return fmt.Errorf("failed to clear token: %w", err)
			}
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func tasksCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage tasks",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, falling back to the offline cache when unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, store, _, cleanup, err := buildEnv(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			tasks, err := client.Tasks(cmd.Context())
			if err != nil {
				var transportErr *api.TransportError
				if errors.As(err, &transportErr) {
					cached, cerr := store.CachedTasks(cmd.Context())
					if cerr != nil {
						return err
					}
					fmt.Println("(offline, showing cached tasks)")
					printTasks(cached)
					return nil
				}
				return err
			}

			if err := store.CacheTasks(cmd.Context(), tasks); err != nil {
				return fmt.Errorf("failed to refresh task cache: %w", err)
			}
			printTasks(tasks)
			return nil
		},
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task, queueing it locally when unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			note, _ := cmd.Flags().GetString("note")
			if title == "" {
				return fmt.Errorf("--title is required")
			}

			client, store, _, cleanup, err := buildEnv(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			task, err := client.CreateTask(cmd.Context(), api.TaskCreate{Title: title, Note: note})
			if err != nil {
				var transportErr *api.TransportError
				if errors.As(err, &transportErr) {
					body, merr := json.Marshal(api.TaskCreate{Title: title, Note: note})
					if merr != nil {
						return merr
					}
					m, qerr := store.Enqueue(cmd.Context(), http.MethodPost, "/api/v1/tasks", body)
					if qerr != nil {
						return qerr
					}
					fmt.Printf("(offline) queued as %s, run `cafe sync` when back online\n", m.ID)
					return nil
				}
				return err
			}

			fmt.Printf("Created task %d: %s\n", task.ID, task.Title)
			return nil
		},
	}
	addCmd.Flags().String("title", "", "task title")
	addCmd.Flags().String("note", "", "task note")

	doneCmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: cafe tasks done <id>")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}

			client, store, _, cleanup, err := buildEnv(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			task, err := client.CompleteTask(cmd.Context(), id)
			if err != nil {
				var transportErr *api.TransportError
				if errors.As(err, &transportErr) {
					path := fmt.Sprintf("/api/v1/tasks/%d/complete", id)
					m, qerr := store.Enqueue(cmd.Context(), http.MethodPost, path, nil)
					if qerr != nil {
						return qerr
					}
					fmt.Printf("(offline) queued as %s, run `cafe sync` when back online\n", m.ID)
					return nil
				}
				return err
			}

			fmt.Printf("Completed task %d: %s\n", task.ID, task.Title)
			return nil
		},
	}

	cmd.AddCommand(listCmd, addCmd, doneCmd)
	return cmd
}

func modelsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show available chat models",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, cleanup, err := buildEnv(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			models, err := client.ChatModels(cmd.Context())
			if err != nil {
				return err
			}

			for _, m := range models.Models {
				marker := "  "
				if m.Name == models.CurrentModel || m.ID == models.CurrentModel {
					marker = "* "
				}
				fmt.Printf("%s%s (%s)\n", marker, m.Name, m.ID)
			}
			if !models.HasCredentials {
				fmt.Println("No chat credentials configured.")
			}
			return nil
		},
	}
}

func presenceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "presence",
		Short: "Watch the live presence feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			tokens := creds.NewStore(cfg.Creds.Path)
			client, err := api.New(cfg.API, tokens, log)
			if err != nil {
				return err
			}

			feed, err := presence.NewFeed(cfg.Presence, tokens, presence.Handlers{
				OnPresence: func(u presence.PresenceUpdate) {
					fmt.Printf("user %d is %s (last seen %s)\n",
						u.UserID, u.Status, u.LastSeen.Format(time.RFC3339))
				},
				OnTyping: func(u presence.TypingUpdate) {
					if u.IsTyping {
						fmt.Printf("user %d is typing in conversation %d\n", u.UserID, u.ConversationID)
					}
				},
				OnState: func(s presence.State) {
					log.Info().Stringer("state", s).Msg("presence state changed")
				},
			}, log)
			if err != nil {
				return err
			}

			expired, cancelSub := client.Sessions().Subscribe()
			defer cancelSub()

			feed.Connect()
			defer feed.Disconnect()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-quit:
			case <-expired:
				fmt.Println("Your session has expired. Please sign in again.")
			}
			return nil
		},
	}
}

func syncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay mutations queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, store, log, cleanup, err := buildEnv(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			syncer := offline.NewSyncer(store, client, log)
			res, err := syncer.Flush(cmd.Context())
			if res != nil {
				fmt.Printf("replayed %d, dropped %d, kept %d\n", res.Replayed, res.Dropped, res.Kept)
			}
			return err
		},
	}
}

func mockCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mock",
		Short: "Run a local mock Cafe backend for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadEnv(*configPath)
			if err != nil {
				return err
			}

			server := mockserver.New(cfg.Mock, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("mock server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Mock.Port).
				Msg("mock Cafe backend is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")
			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("mock server shutdown error")
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cafe v%s\n", version)
		},
	}
}

func loadEnv(configPath string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, setupLogger(cfg.Logging), nil
}

func buildEnv(configPath string) (*api.Client, *offline.Store, zerolog.Logger, func(), error) {
	cfg, log, err := loadEnv(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	tokens := creds.NewStore(cfg.Creds.Path)
	client, err := api.New(cfg.API, tokens, log)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	store, err := offline.NewStore(cfg.Offline.Path)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, fmt.Errorf("failed to open offline store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, zerolog.Logger{}, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return client, store, log, func() { store.Close() }, nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func printTasks(tasks []api.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return
	}
	for _, t := range tasks {
		box := "[ ]"
		if t.Completed {
			box = "[x]"
		}
		fmt.Printf("  %s %d  %s\n", box, t.ID, t.Title)
		if t.Note != "" {
			fmt.Printf("        %s\n", t.Note)
		}
	}
}
