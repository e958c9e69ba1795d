package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/app"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/config"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/ingest"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/jobs"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/observability"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/retrieval"
)

const version = "v0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "rag-ingest",
		Short:         "Ingest GitHub repositories and forum threads into a vector store and search them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(
		ingestCmd(&configPath),
		ingestForumCmd(&configPath),
		searchCmd(&configPath),
		jobsCmd(&configPath),
		configCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "rag-ingest %s\n", version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		// No config file means defaults plus environment.
		path, _ = config.GetConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// withApp loads configuration, builds the components and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withApp(configPath string, fn func(ctx context.Context, a *app.App, logger zerolog.Logger) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to release resources")
		}
	}()
	return fn(ctx, a, logger)
}

func printResult(cmd *cobra.Command, res ingest.Result, job jobs.Job) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job:     %s\n", job.ID)
	fmt.Fprintf(out, "State:   %s\n", res.State)
	fmt.Fprintf(out, "Message: %s\n", res.Message)
	if res.Stats != nil {
		s := res.Stats
		fmt.Fprintf(out, "Files:   %d processed, %d skipped, %d failed\n", s.FilesProcessed, s.FilesSkipped, s.FilesFailed)
		fmt.Fprintf(out, "Chunks:  %d generated, %d stored, %d placeholder embeddings\n", s.ChunksGenerated, s.RowsStored, s.PlaceholderEmbeddings)
		fmt.Fprintf(out, "Quality: %.3f average\n", s.AvgQualityScore)
		fmt.Fprintf(out, "Time:    %.2fs\n", s.TotalTime)
		for _, d := range s.Degraded {
			fmt.Fprintf(out, "Warning: %s\n", d)
		}
	}
	if !res.Success {
		return fmt.Errorf("ingestion failed: %s", res.Message)
	}
	return nil
}

func ingestCmd(configPath *string) *cobra.Command {
	var collection, branch string
	cmd := &cobra.Command{
		Use:   "ingest <github-url>",
		Short: "Ingest a GitHub repository into a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.HasPrefix(args[0], "https://github.com/") {
				return fmt.Errorf("invalid GitHub URL %q: must start with https://github.com/", args[0])
			}
			return withApp(*configPath, func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
				if collection == "" {
					collection = a.Config.Retrieval.DefaultCollection
				}
				res, job := a.Service.Ingest(ctx, ingest.Request{
					Collection: collection,
					SourceURL:  args[0],
					Branch:     branch,
				}, jobs.TriggerCLI)
				return printResult(cmd, res, job)
			})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Target collection (defaults to retrieval.default_collection)")
	cmd.Flags().StringVarP(&branch, "branch", "b", "main", "Branch to ingest")
	return cmd
}

func ingestForumCmd(configPath *string) *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "ingest-forum <threads.json>",
		Short: "Ingest a JSON dump of forum threads into a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			threads, err := ingest.LoadThreads(f)
			if err != nil {
				return err
			}
			return withApp(*configPath, func(ctx context.Context, a *app.App, logger zerolog.Logger) error {
				if collection == "" {
					collection = a.Config.Retrieval.DefaultCollection
				}
				logger.Info().Int("threads", len(threads)).Str("collection", collection).Msg("Loaded forum threads")
				res, job := a.Service.IngestForum(ctx, collection, args[0], threads, jobs.TriggerCLI)
				return printResult(cmd, res, job)
			})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Target collection (defaults to retrieval.default_collection)")
	return cmd
}

func searchCmd(configPath *string) *cobra.Command {
	var (
		collection string
		n          int
		noRerank   bool
		noMeta     bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
				if collection == "" {
					collection = a.Config.Retrieval.DefaultCollection
				}
				resp, err := a.Engine.Search(ctx, retrieval.Request{
					Query:           strings.Join(args, " "),
					Collection:      collection,
					NResults:        n,
					IncludeMetadata: !noMeta,
					Rerank:          !noRerank,
				})
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(resp)
				}
				printHits(cmd, resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection to search (defaults to retrieval.default_collection)")
	cmd.Flags().IntVarP(&n, "results", "n", retrieval.DefaultResults, "Number of results")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "Rank by vector similarity only")
	cmd.Flags().BoolVar(&noMeta, "no-metadata", false, "Omit chunk metadata")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response as JSON")
	return cmd
}

func printHits(cmd *cobra.Command, resp *retrieval.Response) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d of %d results\n", resp.FilteredResults, resp.TotalFound)
	for i, doc := range resp.Documents[0] {
		meta := resp.Metadatas[0][i]
		fmt.Fprintf(out, "\n#%d score=%.4f distance=%.4f\n", i+1, meta["score"], resp.Distances[0][i])
		if path, ok := meta["file_path"].(string); ok && path != "" {
			fmt.Fprintf(out, "   %s", path)
			if repo, ok := meta["repo_name"].(string); ok && repo != "" {
				fmt.Fprintf(out, " (%s)", repo)
			}
			fmt.Fprintln(out)
		}
		if link, ok := meta["source_link"].(string); ok && link != "" {
			fmt.Fprintf(out, "   %s\n", link)
		}
		fmt.Fprintf(out, "   %s\n", preview(doc, 240))
	}
}

func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func jobsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs [id]",
		Short: "List recorded ingestion jobs or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Jobs.DBPath == "" {
				return fmt.Errorf("jobs.db_path is empty, jobs are not persisted")
			}
			store, err := jobs.OpenBoltStore(cfg.Jobs.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			list, err := store.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				for _, j := range list {
					if j.ID == args[0] {
						enc := json.NewEncoder(out)
						enc.SetIndent("", "  ")
						return enc.Encode(j)
					}
				}
				return fmt.Errorf("%w: %s", jobs.ErrNotFound, args[0])
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tCOLLECTION\tSTATE\tTRIGGER\tUPDATED\tMESSAGE")
			for _, j := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.Kind, j.Collection, j.State, j.Trigger,
					j.UpdatedAt.Format(time.RFC3339), j.Message)
			}
			return tw.Flush()
		},
	}
}

func configCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server:        %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Fprintf(out, "Vector store:  %s (metric %s)\n", cfg.VectorStore.Backend, cfg.VectorStore.Metric)
			switch cfg.VectorStore.Backend {
			case "milvus":
				fmt.Fprintf(out, "Milvus:        %s\n", cfg.Milvus.MilvusAddress())
			case "qdrant":
				fmt.Fprintf(out, "Qdrant:        %s:%d\n", cfg.Qdrant.Host, cfg.Qdrant.Port)
			case "chroma":
				fmt.Fprintf(out, "ChromaDB:      %s\n", cfg.ChromaDB.URL)
			}
			fmt.Fprintf(out, "Embedding:     %s\n", cfg.Embedding.Provider)
			fmt.Fprintf(out, "Rerank:        %t\n", cfg.Rerank.Enabled)
			fmt.Fprintf(out, "Collection:    %s\n", cfg.Retrieval.DefaultCollection)
			fmt.Fprintf(out, "Jobs DB:       %s\n", cfg.Jobs.DBPath)
			if cfg.GitHub.Token != "" {
				fmt.Fprintln(out, "GitHub token:  [set]")
			} else {
				fmt.Fprintln(out, "GitHub token:  [not set]")
			}
			return nil
		},
	}
}
