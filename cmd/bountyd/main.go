package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyboard/internal/config"
	"bountyboard/internal/db"
	"bountyboard/internal/engine"
	"bountyboard/internal/migrate"
	"bountyboard/internal/registry"
	"bountyboard/internal/repo"
	"bountyboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bountyd",
	Short: "Bounty board daemon and CLI",
	Long: `bountyd runs the bounty marketplace API and mirrors the ACP agent
registry. Bounties move open -> claimed -> matched -> fulfilled, guarded by
capability secrets issued once at creation. The registry mirror refreshes on
a TTL and serves categorized and searched lookups from an in-memory
snapshot.`,
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
	viper.SetEnvPrefix("BOUNTYD")
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
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(bountyCmd())
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(statsCmd())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	// Secrets come from the environment, never the config file on disk.
	if s := viper.GetString("admin-secret"); s != "" {
		cfg.Auth.AdminSecret = s
	}
	if s := viper.GetString("webhook-signing-secret"); s != "" {
		cfg.Webhooks.SigningSecret = s
	}
	if addr := viper.GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if base := viper.GetString("registry-url"); base != "" {
		cfg.Registry.BaseURL = base
	}
	if path := viper.GetString("cache-path"); path != "" {
		cfg.Registry.CachePath = path
	}
	return cfg, nil
}

func openEngine() (*engine.Engine, func(), error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return engine.New(conn), func() { conn.Close() }, nil
}

func newRegistryCache(cfg *config.Config, log *slog.Logger) *registry.Cache {
	client := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.FetchTimeout(), log)
	client.PageSize = cfg.Registry.PageSize
	client.Concurrency = cfg.Registry.ConcurrentPages
	cache := registry.NewCache(client, cfg.Registry.TTL(), cfg.Registry.CachePath, log)
	if err := cache.Load(); err != nil {
		log.Warn("load registry cache file failed", "error", err)
	}
	return cache
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bounty board API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e, closeDB, err := openEngine()
			if err != nil {
				return err
			}
			defer closeDB()
			reg := newRegistryCache(cfg, log)

			srvCfg := server.Config{Engine: e, Registry: reg, Cfg: cfg, Log: log}
			handler, err := server.New(srvCfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			server.StartBackground(ctx, srvCfg)

			// Warm the mirror if we started cold; failure just means the
			// first TTL tick retries.
			if reg.Health() == registry.HealthEmpty {
				go func() {
					warmCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
					defer cancel()
					if _, err := reg.Refresh(warmCtx, true); err != nil {
						log.Warn("initial registry refresh failed", "error", err)
					}
				}()
			}

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.Info("serving bounty board API", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides config)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func bountyCmd() *cobra.Command {
	b := &cobra.Command{Use: "bounty", Short: "Inspect bounties"}
	b.AddCommand(bountyListCmd())
	b.AddCommand(bountyShowCmd())
	return b
}

func bountyListCmd() *cobra.Command {
	var status, category, search string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bounties",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeDB, err := openEngine()
			if err != nil {
				return err
			}
			defer closeDB()
			items, total, err := e.ListBounties(cmd.Context(), repo.BountyFilters{
				Status: status, Category: category, Search: search, Limit: limit,
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"items": items, "total": total})
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Status", "Budget", "Category", "Claimed By"})
			for _, b := range items {
				claimer := ""
				if b.ClaimedBy != nil {
					claimer = *b.ClaimedBy
				}
				tw.AppendRow(table.Row{b.ID, b.Title, b.Status, b.Budget, b.Category, claimer})
			}
			tw.Render()
			fmt.Printf("%d total\n", total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&search, "search", "", "free text search")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func bountyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid bounty id %q", args[0])
			}
			e, closeDB, err := openEngine()
			if err != nil {
				return err
			}
			defer closeDB()
			b, err := e.GetBounty(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(b)
		},
	}
	return cmd
}

func serviceCmd() *cobra.Command {
	s := &cobra.Command{Use: "service", Short: "Inspect services"}
	s.AddCommand(serviceListCmd())
	return s
}

func serviceListCmd() *cobra.Command {
	var category, search string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active services",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeDB, err := openEngine()
			if err != nil {
				return err
			}
			defer closeDB()
			items, total, err := e.ListServices(cmd.Context(), repo.ServiceFilters{
				Category: category, Search: search, Limit: limit,
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"items": items, "total": total})
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Agent", "Price", "Category", "ACP Wallet"})
			for _, s := range items {
				wallet := ""
				if s.ACPAgentWallet != nil {
					wallet = *s.ACPAgentWallet
				}
				tw.AppendRow(table.Row{s.ID, s.Name, s.AgentName, s.Price, s.Category, wallet})
			}
			tw.Render()
			fmt.Printf("%d total\n", total)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&search, "search", "", "free text search")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func agentsCmd() *cobra.Command {
	a := &cobra.Command{Use: "agents", Short: "Inspect the mirrored ACP registry"}
	a.AddCommand(agentsListCmd())
	a.AddCommand(agentsRefreshCmd())
	return a
}

func agentsListCmd() *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrored registry agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cache := newRegistryCache(cfg, log)
			if cache.Health() == registry.HealthEmpty {
				if _, err := cache.Refresh(cmd.Context(), true); err != nil {
					return fmt.Errorf("registry fetch failed: %w", err)
				}
			}
			agents := cache.Agents(cmd.Context())
			if search != "" {
				agents = cache.Search(cmd.Context(), search)
			}
			if viper.GetBool("json") {
				return printJSON(agents)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Wallet", "Online", "Offerings"})
			for _, a := range agents {
				tw.AppendRow(table.Row{a.ID, a.Name, a.WalletAddress, a.Online, len(a.JobOfferings)})
			}
			tw.Render()
			fmt.Printf("%d agents (%s)\n", len(agents), cache.Health())
			return nil
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "substring search")
	return cmd
}

func agentsRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force a registry refresh and persist the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cache := newRegistryCache(cfg, log)
			snap, err := cache.Refresh(cmd.Context(), true)
			if err != nil {
				return fmt.Errorf("registry refresh failed: %w", err)
			}
			fmt.Printf("refreshed: %d agents\n", len(snap.Agents))
			return nil
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Marketplace statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeDB, err := openEngine()
			if err != nil {
				return err
			}
			defer closeDB()
			counts, err := e.Repo.CountBountiesByStatus(cmd.Context())
			if err != nil {
				return err
			}
			services, err := e.Repo.CountServices(cmd.Context(), repo.ServiceFilters{})
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"bounties":        counts,
				"active_services": services,
			})
		},
	}
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
