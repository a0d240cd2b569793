package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sectorboard/internal/bridge"
	"sectorboard/internal/config"
	"sectorboard/internal/db"
	"sectorboard/internal/engine"
	"sectorboard/internal/identity"
	"sectorboard/internal/migrate"
	"sectorboard/internal/repo"
	"sectorboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sb",
	Short: "Sector Board CLI",
	Long: `Sector Board tracks tasks assigned to company sectors.
The CEO account creates and updates tasks; collaborators read them.
Every status change lands on an append-only task history ledger.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SECTORBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(sectorCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("database ready at", db.Path(workspace))
			return nil
		},
	}
}

// --- auth ---

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Manage the local session"}
	cmd.AddCommand(authRegisterCmd())
	cmd.AddCommand(authLoginCmd())
	cmd.AddCommand(authLogoutCmd())
	cmd.AddCommand(authWhoamiCmd())
	return cmd
}

func authRegisterCmd() *cobra.Command {
	var email, password, fullName string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, svc *identity.Service) error {
				_, prof, err := svc.Register(ctx, email, password, fullName)
				if err != nil {
					return err
				}
				return printJSONOrTable(prof)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&fullName, "name", "", "display name")
	return cmd
}

func authLoginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(cmd.Context(), func(ctx context.Context, svc *identity.Service) error {
				res, err := svc.SignIn(ctx, email, password)
				if err != nil {
					return err
				}
				if err := saveToken(viper.GetString("workspace"), res.Token); err != nil {
					return err
				}
				fmt.Printf("signed in as %s (%s)\n", res.Account.Email, res.Profile.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and discard the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			return withIdentity(cmd.Context(), func(ctx context.Context, svc *identity.Service) error {
				token, _ := loadToken(workspace)
				if token != "" {
					if err := svc.SignOut(ctx, token); err != nil {
						return err
					}
				}
				return clearToken(workspace)
			})
		},
	}
}

func authWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			return withIdentity(cmd.Context(), func(ctx context.Context, svc *identity.Service) error {
				token, _ := loadToken(workspace)
				b := bridge.New(svc)
				defer b.Close()
				if err := b.Start(ctx, token); err != nil {
					return err
				}
				sess := b.Session()
				if sess == nil {
					// The bridge drops stale tokens on its own.
					_ = clearToken(workspace)
					fmt.Println("not signed in")
					return nil
				}
				acct := b.Account()
				prof := b.Profile()
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"account": acct,
						"profile": prof,
						"session": sess,
					})
				}
				fmt.Printf("%s (%s), session expires %s\n", acct.Email, prof.Role, sess.ExpiresAt)
				return nil
			})
		},
	}
}

// --- sectors ---

func sectorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sector", Short: "Manage sectors"}
	cmd.AddCommand(sectorListCmd())
	cmd.AddCommand(sectorCreateCmd())
	cmd.AddCommand(sectorRenameCmd())
	cmd.AddCommand(sectorDeleteCmd())
	return cmd
}

func sectorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				items, err := e.ListSectors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func sectorCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create sector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				s, err := e.CreateSector(ctx, actorID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "sector name")
	return cmd
}

func sectorRenameCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "rename <sector-id>",
		Short: "Rename sector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				s, err := e.RenameSector(ctx, actorID, args[0], name)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new sector name")
	return cmd
}

func sectorDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <sector-id>",
		Short: "Delete sector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				return e.DeleteSector(ctx, actorID, args[0])
			})
		},
	}
}

// --- tasks ---

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskStatusCmd())
	cmd.AddCommand(taskDeleteCmd())
	cmd.AddCommand(taskHistoryCmd())
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var observation string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				opts.ActorID = actorID
				opts.CEOObservation = optionalString(observation)
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	cmd.Flags().StringVar(&opts.Type, "type", "daily", "task type (daily|monthly|temporary)")
	cmd.Flags().StringVar(&opts.SectorID, "sector", "", "sector id")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().StringVar(&opts.Urgency, "urgency", "", "urgency (not_urgent|relatively_urgent|urgent)")
	cmd.Flags().StringVar(&observation, "observation", "", "ceo observation")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, sectorID, urgency string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				items, err := e.ListTasks(ctx, repo.TaskFilters{
					Status:   status,
					SectorID: sectorID,
					Urgency:  urgency,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Sector", "Deadline", "Urgency", "Status"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.SectorName, t.Deadline, t.Urgency, t.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&sectorID, "sector", "", "sector filter")
	cmd.Flags().StringVar(&urgency, "urgency", "", "urgency filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, taskType, sectorID, deadline, urgency, status, observation string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				opts := engine.TaskUpdateOptions{ID: args[0], ActorID: actorID}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("type") {
					opts.Type = &taskType
				}
				if cmd.Flags().Changed("sector") {
					opts.SectorID = &sectorID
				}
				if cmd.Flags().Changed("deadline") {
					opts.Deadline = &deadline
				}
				if cmd.Flags().Changed("urgency") {
					opts.Urgency = &urgency
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("observation") {
					opts.CEOObservation = &observation
				}
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&taskType, "type", "", "task type")
	cmd.Flags().StringVar(&sectorID, "sector", "", "sector id")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().StringVar(&urgency, "urgency", "", "urgency")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&observation, "observation", "", "ceo observation (empty clears)")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var observation string
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				var obs *string
				if cmd.Flags().Changed("observation") {
					obs = &observation
				}
				t, err := e.UpdateTaskStatus(ctx, actorID, args[0], args[1], obs)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&observation, "observation", "", "ceo observation")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string) error {
				return e.DeleteTask(ctx, actorID, args[0])
			})
		},
	}
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show task status ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				items, err := e.ListTaskHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Old", "New", "Observation"})
				for _, h := range items {
					old := ""
					if h.OldStatus != nil {
						old = *h.OldStatus
					}
					obs := ""
					if h.Observation != nil {
						obs = *h.Observation
					}
					tw.AppendRow(table.Row{h.UpdatedAt, old, h.NewStatus, obs})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				counts, err := e.StatusSummary(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			svc := identity.New(conn, cfg)
			if _, err := identityHasSecret(svc); err != nil {
				return err
			}
			e := engine.New(conn)
			handler, err := server.New(server.Config{
				Engine:   e,
				Identity: svc,
				BasePath: cfg.Server.BasePath,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Sector Board API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

// identityHasSecret fails fast before binding the listener.
func identityHasSecret(svc *identity.Service) (bool, error) {
	if svc.Config != nil && svc.Config.Auth.JWTSecret != "" {
		return true, nil
	}
	if os.Getenv("SECTORBOARD_JWT_SECRET") != "" {
		return true, nil
	}
	return false, fmt.Errorf("jwt secret required: set auth.jwt_secret in sectorboard.yml or SECTORBOARD_JWT_SECRET")
}

// --- helpers ---

func withIdentity(ctx context.Context, fn func(context.Context, *identity.Service) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, identity.New(conn, cfg))
}

// withEngine resolves the signed-in account through the bridge before
// handing over, so engine calls carry a real actor.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	svc := identity.New(conn, cfg)
	token, _ := loadToken(workspace)
	b := bridge.New(svc)
	defer b.Close()
	if err := b.Start(ctx, token); err != nil {
		return err
	}
	actorID := ""
	if sess := b.Session(); sess != nil {
		actorID = sess.AccountID
	}
	return fn(ctx, engine.New(conn), actorID)
}

func tokenPath(workspace string) string {
	return filepath.Join(workspace, ".sectorboard", "token")
}

func saveToken(workspace, token string) error {
	return os.WriteFile(tokenPath(workspace), []byte(token+"\n"), 0o600)
}

func loadToken(workspace string) (string, error) {
	data, err := os.ReadFile(tokenPath(workspace))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func clearToken(workspace string) error {
	err := os.Remove(tokenPath(workspace))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
