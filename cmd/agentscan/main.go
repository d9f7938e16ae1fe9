package main

import (
	"context"
	"database/sql"
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

	"github.com/ethereum/go-ethereum/common"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentscan/internal/chain"
	"agentscan/internal/config"
	"agentscan/internal/db"
	"agentscan/internal/domain"
	"agentscan/internal/migrate"
	"agentscan/internal/repo"
	"agentscan/internal/score"
	"agentscan/internal/server"
	"agentscan/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "agentscan",
	Short: "Agentscan CLI",
	Long: `Agentscan indexes agent registry contracts into a local SQLite store
and serves reputation scores over an HTTP API.
- Workspace: your .agentscan directory holding only the database.
- Sync: reads Registered/NewFeedback/ResponseAppended and friends from the
  chain in bounded block ranges and applies them idempotently.
- Scores: recomputed on every query from feedback, validations and reviewer
  trust; never stored.`,
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
	viper.SetEnvPrefix("AGENTSCAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/agentscan.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(trustCmd())
}

func initCmd() *cobra.Command {
	var rpcURL string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter agentscan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(rpcURL)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s; fill in the deployment addresses before syncing.\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&rpcURL, "rpc-url", "http://127.0.0.1:8545", "RPC endpoint")
	return cmd
}

func serveCmd() *cobra.Command {
	var basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sync the chain and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := openStore()
			if err != nil {
				return err
			}
			defer conn.Close()
			r := repo.Repo{DB: conn}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := chain.Dial(ctx, cfg.RPC.URL)
			if err != nil {
				return err
			}
			defer client.Close()

			log := slog.Default()
			engine := sync.New(client, r, cfg.ChainDeployments(), log)
			from, err := engine.ResumeBlock(ctx, cfg.Sync.FromBlock)
			if err != nil {
				return err
			}
			sched := &sync.Scheduler{
				Engine:    engine,
				FromBlock: from,
				Interval:  cfg.PollInterval(),
				Log:       log,
			}
			syncDone := make(chan error, 1)
			go func() {
				switch cfg.Sync.Mode {
				case config.ModeFollow:
					syncDone <- sched.Follow(ctx)
				default:
					syncDone <- sched.CatchUp(ctx)
				}
			}()

			handler, err := server.New(server.Config{
				Repo:        r,
				Scores:      score.Engine{Repo: r},
				Mode:        cfg.Sync.Mode,
				Deployments: cfg.ChainDeployments(),
				BasePath:    basePath,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Listen(), Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.Info("serving", "addr", cfg.Listen(), "base_path", basePath, "mode", cfg.Sync.Mode)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return <-syncDone
		},
	}
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Catch up to the chain head once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := openStore()
			if err != nil {
				return err
			}
			defer conn.Close()
			r := repo.Repo{DB: conn}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := chain.Dial(ctx, cfg.RPC.URL)
			if err != nil {
				return err
			}
			defer client.Close()

			engine := sync.New(client, r, cfg.ChainDeployments(), slog.Default())
			from, err := engine.ResumeBlock(ctx, cfg.Sync.FromBlock)
			if err != nil {
				return err
			}
			sched := &sync.Scheduler{Engine: engine, FromBlock: from}
			if err := sched.CatchUp(ctx); err != nil {
				return err
			}
			last, err := r.LastSyncedBlock(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Synced through block %d\n", last)
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync watermark and store counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				last, err := r.LastSyncedBlock(ctx)
				if err != nil {
					return err
				}
				stats, err := r.Stats(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"last_synced_block": last,
					"stats":             stats,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Last synced block: %d\n", last)
				fmt.Printf("Agents: %d\n", stats.AgentCount)
				fmt.Printf("Feedback: %d\n", stats.FeedbackCount)
				fmt.Printf("Validation requests: %d\n", stats.ValidationRequestCount)
				fmt.Printf("Validation responses: %d\n", stats.ValidationResponseCount)
				fmt.Printf("Reviewers: %d\n", stats.ReviewerCount)
				fmt.Printf("Jobs: %d\n", stats.JobCount)
				return nil
			})
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{Use: "agents", Short: "Inspect indexed agents"}
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentShowCmd())
	return agent
}

func agentListCmd() *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				agents, err := r.ListAgents(ctx, search)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Owner", "URI", "Wallet", "Updated Block"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.AgentID, a.Owner, deref(a.AgentURI), deref(a.AgentWallet), derefBlock(a.UpdatedBlock)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "substring filter on id, uri or owner")
	return cmd
}

func agentShowCmd() *cobra.Command {
	var agentID int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an agent with feedback and validations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetAgent(ctx, agentID)
				if err != nil {
					return err
				}
				feedback, err := r.ListAgentFeedback(ctx, agentID)
				if err != nil {
					return err
				}
				validations, err := r.ListAgentValidations(ctx, agentID)
				if err != nil {
					return err
				}
				s, err := score.Engine{Repo: r}.Agent(ctx, agentID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"agent":       a,
					"score":       s,
					"feedback":    feedback,
					"validations": validations,
				})
			})
		},
	}
	cmd.Flags().Int64Var(&agentID, "id", 0, "agent id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "jobs", Short: "Inspect indexed jobs"}
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	return job
}

func jobListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				jobs, err := r.ListJobs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Owner", "Agent", "Status", "Budget", "Released"})
				for _, j := range jobs {
					agent := ""
					if j.AgentID != nil {
						agent = fmt.Sprintf("%d", *j.AgentID)
					}
					tw.AppendRow(table.Row{j.JobID, j.Owner, agent, j.Status, deref(j.BudgetAmount), deref(j.ReleasedAmount)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func jobShowCmd() *cobra.Command {
	var jobID int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a job with milestones, validations and proofs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				j, err := r.GetJob(ctx, jobID)
				if err != nil {
					return err
				}
				milestones, err := r.ListJobMilestones(ctx, jobID)
				if err != nil {
					return err
				}
				validations, err := r.ListJobValidations(ctx, jobID)
				if err != nil {
					return err
				}
				proofs, err := r.ListJobProofs(ctx, jobID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"job":         j,
					"milestones":  milestones,
					"validations": validations,
					"proofs":      proofs,
				})
			})
		},
	}
	cmd.Flags().Int64Var(&jobID, "id", 0, "job id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func scoreCmd() *cobra.Command {
	var agentID int64
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Show reputation scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := score.Engine{Repo: r}
				var items []domain.Score
				if cmd.Flags().Changed("agent") {
					s, err := e.Agent(ctx, agentID)
					if err != nil {
						return err
					}
					items = []domain.Score{s}
				} else {
					all, err := e.All(ctx)
					if err != nil {
						return err
					}
					items = all
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Agent", "Feedback", "Validation", "Reputation"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.AgentID, fmt.Sprintf("%.2f", s.FeedbackScore), fmt.Sprintf("%.2f", s.ValidationScore), fmt.Sprintf("%.2f", s.ReputationScore)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&agentID, "agent", 0, "score a single agent")
	return cmd
}

func trustCmd() *cobra.Command {
	trust := &cobra.Command{Use: "trust", Short: "Manage reviewer trust weights"}
	trust.AddCommand(trustSetCmd())
	trust.AddCommand(trustListCmd())
	return trust
}

func trustSetCmd() *cobra.Command {
	var reviewer string
	var allowlisted bool
	var stakeWeight, identityWeight float64
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set trust weights for a reviewer address",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(reviewer) {
				return fmt.Errorf("--reviewer: %q is not a hex address", reviewer)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t := domain.ReviewerTrust{
					Reviewer:       strings.ToLower(reviewer),
					Allowlisted:    allowlisted,
					StakeWeight:    stakeWeight,
					IdentityWeight: identityWeight,
				}
				if err := r.UpsertReviewerTrust(ctx, t); err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer address")
	cmd.Flags().BoolVar(&allowlisted, "allowlisted", false, "allowlisted reviewer")
	cmd.Flags().Float64Var(&stakeWeight, "stake-weight", 0, "stake weight")
	cmd.Flags().Float64Var(&identityWeight, "identity-weight", 0, "identity weight")
	_ = cmd.MarkFlagRequired("reviewer")
	return cmd
}

func trustListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reviewer trust weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListReviewerTrust(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Reviewer", "Allowlisted", "Stake", "Identity"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.Reviewer, t.Allowlisted, t.StakeWeight, t.IdentityWeight})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func openStore() (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := openStore()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBlock(b *uint64) string {
	if b == nil {
		return ""
	}
	return fmt.Sprintf("%d", *b)
}
