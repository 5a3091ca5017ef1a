package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Napageneral/scribe/internal/checkpoint"
	"github.com/Napageneral/scribe/internal/config"
	"github.com/Napageneral/scribe/internal/delta"
	"github.com/Napageneral/scribe/internal/enrich"
	"github.com/Napageneral/scribe/internal/ingest"
	"github.com/Napageneral/scribe/internal/live"
	"github.com/Napageneral/scribe/internal/model"
	"github.com/Napageneral/scribe/internal/provider/gemini"
	"github.com/Napageneral/scribe/internal/reconcile"
	"github.com/Napageneral/scribe/internal/timeline"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scribe",
		Short: "Message export converter and enricher",
		Long: `Scribe converts personal message exports (CSV and chat.db dumps)
into a normalized, enriched JSON corpus: merge the two sources without
loss or duplication, then run resumable AI enrichment passes over the
result.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(resetStateCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stderr"}
		logger, err = cfg.Build()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger.Sugar()
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to marshal output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("scribe %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	}
}

type convertFlags struct {
	csvPath    string
	chatDBPath string
	outPath    string
}

func convertCmd() *cobra.Command {
	var flags convertFlags
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Merge message exports into a normalized corpus",
		Long: `Convert reads the CSV export and/or the chat.db dump, reconciles
them into a single collection (chat.db is authoritative on conflicts)
and writes the corpus JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			defer log.Sync()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyConvertFlags(cfg, flags)

			stats, err := runConvert(cfg, log)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(stats)
			} else {
				fmt.Printf("Merged %d CSV + %d chat.db messages into %d\n",
					stats.CSVCount, stats.DBCount, stats.OutputCount)
				fmt.Printf("  exact matches:   %d\n", stats.ExactMatches)
				fmt.Printf("  content matches: %d\n", stats.ContentMatches)
				fmt.Printf("  unmatched:       %d\n", stats.NoMatches)
				fmt.Printf("Corpus written to %s\n", cfg.Export.OutputPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.csvPath, "csv", "", "CSV export path")
	cmd.Flags().StringVar(&flags.chatDBPath, "chat-db", "", "chat.db dump path")
	cmd.Flags().StringVar(&flags.outPath, "out", "", "Output corpus path")
	return cmd
}

func applyConvertFlags(cfg *config.Config, flags convertFlags) {
	if flags.csvPath != "" {
		cfg.Export.CSVPath = flags.csvPath
	}
	if flags.chatDBPath != "" {
		cfg.Export.ChatDBPath = flags.chatDBPath
	}
	if flags.outPath != "" {
		cfg.Export.OutputPath = flags.outPath
	}
}

func runConvert(cfg *config.Config, log *zap.SugaredLogger) (*reconcile.Stats, error) {
	if cfg.Export.CSVPath == "" && cfg.Export.ChatDBPath == "" {
		return nil, fmt.Errorf("no input: set --csv and/or --chat-db (or export paths in config.yaml)")
	}

	var primary, authoritative []model.Message
	var err error

	if cfg.Export.CSVPath != "" {
		primary, err = ingest.ReadCSV(cfg.Export.CSVPath)
		if err != nil {
			return nil, err
		}
		log.Infow("loaded CSV export", "path", cfg.Export.CSVPath, "messages", len(primary))
	}
	if cfg.Export.ChatDBPath != "" {
		authoritative, err = ingest.ReadChatDB(cfg.Export.ChatDBPath)
		if err != nil {
			return nil, err
		}
		log.Infow("loaded chat.db dump", "path", cfg.Export.ChatDBPath, "messages", len(authoritative))
	}

	merged, stats := reconcile.Merge(primary, authoritative, reconcile.DefaultOptions())
	log.Infow("reconciled collections",
		"output", stats.OutputCount,
		"exact", stats.ExactMatches,
		"content", stats.ContentMatches,
		"unmatched", stats.NoMatches)

	corpus := &model.Corpus{GeneratedAt: time.Now().UTC(), Messages: merged}
	if err := model.WriteCorpus(cfg.Export.OutputPath, corpus); err != nil {
		return nil, err
	}
	return &stats, nil
}

type enrichFlags struct {
	corpusPath         string
	resume             bool
	incremental        bool
	stateFile          string
	rateLimitMS        int
	maxRetries         int
	checkpointInterval int
	describeImages     bool
	transcribeAudio    bool
	analyzeLinks       bool
}

func enrichCmd() *cobra.Command {
	var flags enrichFlags
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Run AI enrichment over the corpus",
		Long: `Enrich processes the corpus sequentially, invoking the enabled
providers (image description, audio transcription, link analysis) with
rate limiting and a circuit breaker. Progress is checkpointed so an
interrupted run can resume with --resume; --incremental only processes
messages new since the last run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			defer log.Sync()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyEnrichFlags(cfg, cmd, flags)

			corpusPath := cfg.Export.OutputPath
			if flags.corpusPath != "" {
				corpusPath = flags.corpusPath
			}
			corpus, err := model.ReadCorpus(corpusPath)
			if err != nil {
				return err
			}

			providers, err := buildProviders(cfg)
			if err != nil {
				return err
			}
			if len(providers) == 0 {
				return fmt.Errorf("no providers enabled: pass --describe-images, --transcribe-audio and/or --analyze-links")
			}

			checkpointDir, err := config.GetCheckpointDir()
			if err != nil {
				return err
			}

			ecfg := enrich.Config{
				DescribeImages:   cfg.Enrichment.DescribeImages,
				TranscribeAudio:  cfg.Enrichment.TranscribeAudio,
				AnalyzeLinks:     cfg.Enrichment.AnalyzeLinks,
				Model:            cfg.Enrichment.Model,
				RateLimitMS:      cfg.Enrichment.RateLimitMS,
				MaxRetries:       cfg.Enrichment.MaxRetries,
				FailureThreshold: cfg.Enrichment.FailureThreshold,
				CooldownSeconds:  cfg.Enrichment.CooldownSeconds,
			}
			opts := enrich.Options{
				Resume:             flags.resume,
				Incremental:        flags.incremental,
				StatePath:          cfg.Enrichment.StateFile,
				CheckpointDir:      checkpointDir,
				CheckpointInterval: cfg.Enrichment.CheckpointInterval,
			}

			o := enrich.New(ecfg, opts, providers, log)
			o.SetFlush(func(msgs []model.Message) error {
				return model.WriteCorpus(corpusPath, &model.Corpus{
					GeneratedAt: corpus.GeneratedAt,
					Messages:    msgs,
				})
			})

			ctx, cancel := signalContext()
			defer cancel()

			result, runErr := o.Run(ctx, corpus.Messages)
			if runErr != nil && result == nil {
				if errors.Is(runErr, enrich.ErrConfigMismatch) {
					return fmt.Errorf("%w\nRe-run without --resume to start fresh, or restore the previous configuration", runErr)
				}
				return runErr
			}

			// The summary is produced even when the run ended with an
			// error: accumulated enrichment is never thrown away.
			if result != nil {
				if err := model.WriteCorpus(corpusPath, &model.Corpus{
					GeneratedAt: corpus.GeneratedAt,
					Messages:    result.Enriched,
				}); err != nil {
					return err
				}
				printEnrichSummary(result)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&flags.corpusPath, "corpus", "", "Corpus path (defaults to the configured output path)")
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "Resume from the last checkpoint")
	cmd.Flags().BoolVar(&flags.incremental, "incremental", false, "Only enrich messages new since the last run")
	cmd.Flags().StringVar(&flags.stateFile, "state-file", "", "Incremental state file path")
	cmd.Flags().IntVar(&flags.rateLimitMS, "rate-limit-ms", 0, "Minimum delay between provider calls (0 disables pacing)")
	cmd.Flags().IntVar(&flags.maxRetries, "max-retries", 0, "Retry budget per provider call")
	cmd.Flags().IntVar(&flags.checkpointInterval, "checkpoint-interval", 0, "Messages between checkpoint writes")
	cmd.Flags().BoolVar(&flags.describeImages, "describe-images", false, "Enable image description")
	cmd.Flags().BoolVar(&flags.transcribeAudio, "transcribe-audio", false, "Enable audio transcription")
	cmd.Flags().BoolVar(&flags.analyzeLinks, "analyze-links", false, "Enable link analysis")
	return cmd
}

func applyEnrichFlags(cfg *config.Config, cmd *cobra.Command, flags enrichFlags) {
	if flags.stateFile != "" {
		cfg.Enrichment.StateFile = flags.stateFile
	}
	if cmd.Flags().Changed("rate-limit-ms") {
		cfg.Enrichment.RateLimitMS = flags.rateLimitMS
	}
	if cmd.Flags().Changed("max-retries") {
		cfg.Enrichment.MaxRetries = flags.maxRetries
	}
	if cmd.Flags().Changed("checkpoint-interval") {
		cfg.Enrichment.CheckpointInterval = flags.checkpointInterval
	}
	if cmd.Flags().Changed("describe-images") {
		cfg.Enrichment.DescribeImages = flags.describeImages
	}
	if cmd.Flags().Changed("transcribe-audio") {
		cfg.Enrichment.TranscribeAudio = flags.transcribeAudio
	}
	if cmd.Flags().Changed("analyze-links") {
		cfg.Enrichment.AnalyzeLinks = flags.analyzeLinks
	}
}

func buildProviders(cfg *config.Config) ([]enrich.Provider, error) {
	e := cfg.Enrichment
	if !e.DescribeImages && !e.TranscribeAudio && !e.AnalyzeLinks {
		return nil, nil
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	client := gemini.NewClient(apiKey, e.MaxRetries)

	var providers []enrich.Provider
	if e.DescribeImages {
		providers = append(providers, &gemini.ImageDescriber{
			Client:        client,
			Model:         e.Model,
			AttachmentDir: cfg.Export.AttachmentDir,
		})
	}
	if e.TranscribeAudio {
		providers = append(providers, &gemini.AudioTranscriber{
			Client:        client,
			Model:         e.Model,
			AttachmentDir: cfg.Export.AttachmentDir,
		})
	}
	if e.AnalyzeLinks {
		providers = append(providers, &gemini.LinkAnalyzer{
			Client: client,
			Model:  e.Model,
		})
	}
	return providers, nil
}

func printEnrichSummary(result *enrich.Result) {
	if jsonOutput {
		printJSON(map[string]any{
			"totalProcessed":     result.TotalProcessed,
			"totalFailed":        result.TotalFailed,
			"skippedCircuit":     result.SkippedCircuit,
			"skippedIncremental": result.SkippedIncremental,
			"failedItems":        result.FailedItems,
			"configHash":         result.ConfigHash,
		})
		return
	}
	fmt.Printf("Processed %d messages (%d failed)\n", result.TotalProcessed, result.TotalFailed)
	if result.SkippedIncremental > 0 {
		fmt.Printf("  skipped (already enriched): %d\n", result.SkippedIncremental)
	}
	if result.SkippedCircuit > 0 {
		fmt.Printf("  skipped (circuit open):     %d\n", result.SkippedCircuit)
	}
	for _, item := range result.FailedItems {
		fmt.Printf("  FAILED %s (%s): %s\n", item.GUID, item.Kind, item.Error)
	}
}

func timelineCmd() *cobra.Command {
	var since, until string
	var corpusPath string
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show per-day message statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if corpusPath == "" {
				corpusPath = cfg.Export.OutputPath
			}
			corpus, err := model.ReadCorpus(corpusPath)
			if err != nil {
				return err
			}

			var opts timeline.Options
			if since != "" {
				opts.StartDate, err = time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date: %w", err)
				}
			}
			if until != "" {
				opts.EndDate, err = time.Parse("2006-01-02", until)
				if err != nil {
					return fmt.Errorf("invalid --until date: %w", err)
				}
			}

			days := timeline.Aggregate(corpus.Messages, opts)
			if jsonOutput {
				printJSON(days)
			} else {
				fmt.Print(timeline.Render(days))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "Corpus path (defaults to the configured output path)")
	cmd.Flags().StringVar(&since, "since", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "End date (YYYY-MM-DD, exclusive)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint and incremental-state status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			checkpointDir, err := config.GetCheckpointDir()
			if err != nil {
				return err
			}

			ecfg := enrich.Config{
				DescribeImages:   cfg.Enrichment.DescribeImages,
				TranscribeAudio:  cfg.Enrichment.TranscribeAudio,
				AnalyzeLinks:     cfg.Enrichment.AnalyzeLinks,
				Model:            cfg.Enrichment.Model,
				RateLimitMS:      cfg.Enrichment.RateLimitMS,
				MaxRetries:       cfg.Enrichment.MaxRetries,
				FailureThreshold: cfg.Enrichment.FailureThreshold,
				CooldownSeconds:  cfg.Enrichment.CooldownSeconds,
			}
			hash := checkpoint.ConfigHash(ecfg)
			cpPath := checkpoint.PathFor(checkpointDir, hash)
			cp := checkpoint.Load(cpPath)

			st, stErr := delta.Load(cfg.Enrichment.StateFile)

			if jsonOutput {
				out := map[string]any{
					"configHash":     hash,
					"checkpointPath": cpPath,
					"checkpoint":     cp,
				}
				if stErr == nil {
					out["incrementalState"] = st
				}
				printJSON(out)
				return nil
			}

			fmt.Printf("Config hash: %s\n", hash[:12])
			if cp == nil {
				fmt.Println("Checkpoint:  none")
			} else {
				fmt.Printf("Checkpoint:  index %d, %d processed, %d failed (%s)\n",
					cp.LastProcessedIndex, cp.TotalProcessed, cp.TotalFailed, cpPath)
			}
			switch {
			case stErr != nil:
				fmt.Printf("State file:  unreadable (%v)\n", stErr)
			case st == nil:
				fmt.Println("State file:  none")
			default:
				fmt.Printf("State file:  %d guids, last run %s\n",
					len(st.ProcessedGUIDs), st.LastRun.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func resetStateCmd() *cobra.Command {
	var stateFile string
	cmd := &cobra.Command{
		Use:   "reset-state",
		Short: "Clear incremental enrichment state",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := stateFile
			if path == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				path = cfg.Enrichment.StateFile
			}
			if err := delta.Reset(path); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"ok": true, "path": path})
			} else {
				fmt.Printf("Cleared incremental state at %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stateFile, "state-file", "", "Incremental state file path")
	return cmd
}

func watchCmd() *cobra.Command {
	var flags convertFlags
	var debounceSec int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run conversion when export files change",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			defer log.Sync()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyConvertFlags(cfg, flags)

			var paths []string
			if cfg.Export.CSVPath != "" {
				paths = append(paths, cfg.Export.CSVPath)
			}
			if cfg.Export.ChatDBPath != "" {
				paths = append(paths, cfg.Export.ChatDBPath)
			}

			ctx, cancel := signalContext()
			defer cancel()

			return live.Watch(ctx, live.Options{
				Paths:    paths,
				Debounce: time.Duration(debounceSec) * time.Second,
			}, log, func() error {
				_, err := runConvert(cfg, log)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&flags.csvPath, "csv", "", "CSV export path")
	cmd.Flags().StringVar(&flags.chatDBPath, "chat-db", "", "chat.db dump path")
	cmd.Flags().StringVar(&flags.outPath, "out", "", "Output corpus path")
	cmd.Flags().IntVar(&debounceSec, "debounce", 2, "Debounce seconds")
	return cmd
}
