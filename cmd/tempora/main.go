package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tempora/internal/app"
	"tempora/internal/config"
	"tempora/internal/db"
	"tempora/internal/domain"
	"tempora/internal/engine"
	"tempora/internal/repo"
	"tempora/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tempora",
	Short: "Tempora CLI",
	Long: `Tempora registers payment schedules and triggers the payments they describe.
Core concepts:
- Workspace: your .tempora directory holding the database; tempora.yml next to it holds config.
- Schedule: who pays whom, how much, in what asset, and when (a start time with an
  optional interval, or an explicit list of execution times).
- Whitelist: the admin-curated set of token addresses schedules may pay in.
- Trigger: one payment now; native triggers must attach the exact amount,
  token triggers pull from the caller's token balance.
- Event log: diary of changes, view with 'tempora log tail'.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("TEMPORA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("caller", "local-user", "caller account id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("caller", rootCmd.PersistentFlags().Lookup("caller"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(whitelistCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if admin == "" {
				admin = viper.GetString("caller")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config %s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(admin)), 0o644); err != nil {
				return err
			}
			a, err := app.Open(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Printf("Initialized workspace in %s (admin: %s)\n", workspace, admin)
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "admin account id (defaults to --caller)")
	return cmd
}

func adminCmd() *cobra.Command {
	admin := &cobra.Command{Use: "admin", Short: "Admin authority"}
	admin.AddCommand(adminShowCmd())
	admin.AddCommand(adminSetCmd())
	return admin
}

func adminShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				account, err := a.Engine.Admin(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"account": account})
			})
		},
	}
}

func adminSetCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Hand over admin authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			if account == "" {
				return fmt.Errorf("--account required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.SetAdmin(ctx, viper.GetString("caller"), account)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "new admin account id")
	return cmd
}

func whitelistCmd() *cobra.Command {
	wl := &cobra.Command{Use: "whitelist", Short: "Token whitelist"}
	wl.AddCommand(whitelistListCmd())
	wl.AddCommand(whitelistAddCmd())
	wl.AddCommand(whitelistRemoveCmd())
	return wl
}

func whitelistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List whitelisted tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tokens, err := a.Engine.WhitelistedTokens(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tokens)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Token"})
				for _, t := range tokens {
					tw.AppendRow(table.Row{t})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func whitelistAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <token-address>",
		Short: "Whitelist a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.AddToWhitelist(ctx, viper.GetString("caller"), args[0])
			})
		},
	}
	return cmd
}

func whitelistRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <token-address>",
		Short: "Remove a token from the whitelist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.RemoveFromWhitelist(ctx, viper.GetString("caller"), args[0])
			})
		},
	}
	return cmd
}

func scheduleCmd() *cobra.Command {
	sch := &cobra.Command{Use: "schedule", Short: "Payment schedules"}
	sch.AddCommand(scheduleCreateCmd())
	sch.AddCommand(scheduleUpdateCmd())
	sch.AddCommand(scheduleCancelCmd())
	sch.AddCommand(scheduleShowCmd())
	sch.AddCommand(scheduleListCmd())
	return sch
}

type scheduleFlags struct {
	taskID         string
	recipient      string
	amount         uint64
	tokenAddress   string
	startTime      int64
	interval       int64
	executionTimes []int64
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.taskID, "task-id", "", "task id this payment belongs to")
	cmd.Flags().StringVar(&f.recipient, "recipient", "", "recipient account id")
	cmd.Flags().Uint64Var(&f.amount, "amount", 0, "payment amount")
	cmd.Flags().StringVar(&f.tokenAddress, "token-address", "", "token address (native when empty)")
	cmd.Flags().Int64Var(&f.startTime, "start-time", 0, "unix start time")
	cmd.Flags().Int64Var(&f.interval, "interval", 0, "seconds between payments")
	cmd.Flags().Int64SliceVar(&f.executionTimes, "execution-times", nil, "explicit unix execution times")
}

func (f *scheduleFlags) options(id, callerID string) engine.ScheduleOptions {
	opts := engine.ScheduleOptions{
		ID:             id,
		TaskID:         f.taskID,
		Recipient:      f.recipient,
		Amount:         f.amount,
		ExecutionTimes: f.executionTimes,
		CallerID:       callerID,
	}
	if f.tokenAddress != "" {
		opts.TokenAddress = &f.tokenAddress
	}
	if f.startTime != 0 {
		opts.StartTime = &f.startTime
	}
	if f.interval != 0 {
		opts.Interval = &f.interval
	}
	return opts
}

func scheduleCreateCmd() *cobra.Command {
	var f scheduleFlags
	var id string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			if f.recipient == "" {
				return fmt.Errorf("--recipient required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.CreateSchedule(ctx, f.options(id, viper.GetString("caller")))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "schedule id (generated when empty)")
	f.register(cmd)
	return cmd
}

func scheduleUpdateCmd() *cobra.Command {
	var f scheduleFlags
	cmd := &cobra.Command{
		Use:   "update <schedule-id>",
		Short: "Replace a schedule configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.UpdateSchedule(ctx, f.options(args[0], viper.GetString("caller")))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func scheduleCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <schedule-id>",
		Short: "Cancel a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.CancelSchedule(ctx, viper.GetString("caller"), args[0])
			})
		},
	}
}

func scheduleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <schedule-id>",
		Short: "Show a schedule with its executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				data, err := a.Engine.GetSchedule(ctx, viper.GetString("caller"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(data)
			})
		},
	}
}

func scheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the caller's schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.UserSchedules(ctx, viper.GetString("caller"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Recipient", "Amount", "Token", "Timing", "Enabled", "Executions"})
				for _, it := range items {
					s := it.Schedule
					token := "native"
					if s.TokenAddress != nil {
						token = *s.TokenAddress
					}
					timing := "explicit"
					if s.Recurring() {
						timing = "recurring"
					}
					tw.AppendRow(table.Row{s.ID, s.Recipient, s.Amount, token, timing, s.Enabled, len(it.PaymentExecutions)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func payCmd() *cobra.Command {
	var recipient, tokenAddress, scheduleID string
	var amount, attached uint64
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Trigger a payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if recipient == "" || scheduleID == "" {
				return fmt.Errorf("--recipient and --schedule-id required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts := engine.TriggerOptions{
					Recipient:  recipient,
					Amount:     amount,
					ScheduleID: scheduleID,
					Attached:   attached,
					CallerID:   viper.GetString("caller"),
				}
				if tokenAddress != "" {
					opts.TokenAddress = &tokenAddress
				}
				executedAt, err := a.Engine.TriggerPayment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"schedule_id": scheduleID, "executed_at": executedAt})
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient account id")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "payment amount")
	cmd.Flags().StringVar(&tokenAddress, "token-address", "", "token address (native when empty)")
	cmd.Flags().StringVar(&scheduleID, "schedule-id", "", "schedule to record the execution under")
	cmd.Flags().Uint64Var(&attached, "attached", 0, "attached native amount")
	return cmd
}

func ledgerCmd() *cobra.Command {
	lg := &cobra.Command{Use: "ledger", Short: "Local balances"}
	lg.AddCommand(ledgerBalanceCmd())
	lg.AddCommand(ledgerDepositCmd())
	lg.AddCommand(ledgerMintCmd())
	return lg
}

func ledgerBalanceCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show an account's balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			if account == "" {
				account = viper.GetString("caller")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				native, err := a.Ledger.Balance(ctx, account)
				if err != nil {
					return err
				}
				tokens, err := a.Ledger.TokenBalances(ctx, account)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"account": account, "balance": native, "tokens": tokens})
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id (defaults to --caller)")
	return cmd
}

func ledgerDepositCmd() *cobra.Command {
	var account string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Credit native balance to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount == 0 {
				return fmt.Errorf("--amount required")
			}
			if account == "" {
				account = viper.GetString("caller")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Ledger.Deposit(ctx, account, amount)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id (defaults to --caller)")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to credit")
	return cmd
}

func ledgerMintCmd() *cobra.Command {
	var account, tokenAddress string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Credit token balance to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount == 0 || tokenAddress == "" {
				return fmt.Errorf("--amount and --token-address required")
			}
			if account == "" {
				account = viper.GetString("caller")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Ledger.Mint(ctx, tokenAddress, account, amount)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id (defaults to --caller)")
	cmd.Flags().StringVar(&tokenAddress, "token-address", "", "token address")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to mint")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				secret := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					AccountID: viper.GetString("caller"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The secret only exists here; the database keeps its hash.
				return printJSONOrTable(map[string]string{"id": key.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the caller's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, viper.GetString("caller"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, evtType, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:           a.Config.Auth.JWTSecret,
					AllowInsecureHeader: a.Config.Auth.AllowInsecureHeader,
				}
				if secret := os.Getenv("TEMPORA_JWT_SECRET"); secret != "" {
					authCfg.JWTSecret = secret
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowInsecureHeader {
					return fmt.Errorf("TEMPORA_JWT_SECRET or auth.jwt_secret is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Ledger:   a.Ledger,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Tempora API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
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
