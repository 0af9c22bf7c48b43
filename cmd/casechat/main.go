package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caseflowhq/casechat/internal/chatbot"
	"github.com/caseflowhq/casechat/internal/config"
	"github.com/caseflowhq/casechat/internal/provider"
	srv "github.com/caseflowhq/casechat/internal/server"
	"github.com/caseflowhq/casechat/internal/store"
	"github.com/caseflowhq/casechat/internal/telemetry"
)

var version = "dev"

func main() {
	var root = &cobra.Command{Use: "casechat"}

	root.AddCommand(serveCMD(), migrateCMD(), askCMD(), loadCMD(), versionCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := srv.New(ctx, cfg)
			if err != nil {
				return err
			}
			return s.Run(ctx)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}

func migrateCMD() *cobra.Command {
	var migDir string
	var migDirDefault = "file://migrations"
	var direction string
	var steps int
	var cfgPath string

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn := cfg.Storage.Postgres.DSN()
			if dsn == "" {
				return fmt.Errorf("postgres not configured (storage.postgres.url or host/dbname)")
			}
			if migDir == "" {
				migDir = migDirDefault
			}
			return store.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", migDirDefault, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return migrate
}

func askCMD() *cobra.Command {
	var cfgPath string
	var dataPath string
	var theme string
	var brand string
	var asJSON bool

	var ask = &cobra.Command{
		Use:   "ask [query]",
		Short: "Run a single query against the case data and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			caseStore, err := openStore(ctx, cfg, dataPath)
			if err != nil {
				return err
			}

			tele := telemetry.New(nil)
			llm, err := provider.New(cfg.LLM, tele)
			if err != nil {
				return err
			}

			orch := chatbot.NewOrchestrator(chatbot.Config{
				EnableCompound:       cfg.Chat.EnableCompound,
				AggregationSampleCap: cfg.Chat.AggregationSampleCap,
				PlanningMaxTokens:    cfg.Chat.PlanningMaxTokens,
				SynthesisMaxTokens:   cfg.Chat.SynthesisMaxTokens,
			}, caseStore, llm, tele)

			filters := chatbot.UIFilters{Theme: theme}
			if brand != "" {
				filters.Brands = []string{brand}
			}
			resp, err := orch.ProcessQuery(ctx, args[0], filters, nil)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Response)
			if len(resp.Sources) > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
				fmt.Fprintln(cmd.OutOrStdout(), "Sources:")
				for _, src := range resp.Sources {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s %s (%s)\n", src.ID, src.Summary, src.Date)
				}
			}
			return nil
		},
	}
	ask.Flags().StringVar(&dataPath, "data", "", "JSON file of cases to load into an in-memory store")
	ask.Flags().StringVar(&theme, "theme", "", "restrict the query to one theme")
	ask.Flags().StringVar(&brand, "brand", "", "restrict the query to one brand")
	ask.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ask
}

// openStore picks the case store for one-shot queries: an explicit data
// file always means in-memory, otherwise the configured backend wins.
func openStore(ctx context.Context, cfg *config.Config, dataPath string) (chatbot.SearchStore, error) {
	if dataPath == "" && cfg.Storage.Backend == "postgres" {
		return store.Open(ctx, cfg.Storage.Postgres.DSN())
	}

	mem, err := store.NewMemory()
	if err != nil {
		return nil, err
	}
	if dataPath == "" {
		return mem, nil
	}

	cases, err := readCases(dataPath)
	if err != nil {
		return nil, err
	}
	for _, c := range cases {
		if err := mem.Add(c); err != nil {
			return nil, fmt.Errorf("indexing case %d: %w", c.CaseNumber, err)
		}
	}
	return mem, nil
}

func readCases(path string) ([]chatbot.Case, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading case data: %w", err)
	}
	var cases []chatbot.Case
	if err := json.Unmarshal(raw, &cases); err != nil {
		return nil, fmt.Errorf("parsing case data: %w", err)
	}
	return cases, nil
}

func loadCMD() *cobra.Command {
	var cfgPath string

	var load = &cobra.Command{
		Use:   "load [cases.json]",
		Short: "Upsert a JSON file of cases into the configured Postgres store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			cases, err := readCases(args[0])
			if err != nil {
				return err
			}
			for _, c := range cases {
				if _, err := st.UpsertCase(ctx, c); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d cases\n", len(cases))
			return nil
		},
	}
	load.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return load
}

func versionCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the casechat version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
