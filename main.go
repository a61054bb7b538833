package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fabfab/qa-agent/api"
	"github.com/fabfab/qa-agent/config"
	"github.com/fabfab/qa-agent/ingestion"
	"github.com/fabfab/qa-agent/llm"
	"github.com/fabfab/qa-agent/rag"
)

var (
	configPath string
	verbose    bool
	logFormat  string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "qa-agent",
	Short:         "Generate grounded test cases, Selenium scripts and answers from your documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		switch logFormat {
		case "json":
		case "console":
			zcfg.Encoding = "console"
			zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		default:
			return fmt.Errorf("unknown log format: %s", logFormat)
		}

		var err error
		if logger, err = zcfg.Build(); err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		if cfg, err = config.Load(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Ingest documents into the knowledge store (defaults to the data directory)",
	RunE:  runIngest,
}

var testsCmd = &cobra.Command{
	Use:   "tests [query]",
	Short: "Generate test cases for a feature",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTests,
}

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Generate a Selenium script for a test case",
	Args:  cobra.NoArgs,
	RunE:  runScript,
}

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask a question about the ingested documents",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChat,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List Gemini models that support content generation",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest supported files as they appear in a drop folder",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

var (
	modelFlag      string
	testCaseFlag   string
	testCaseFile   string
	htmlFile       string
	targetURLFlag  string
	shutdownPeriod = 10 * time.Second
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log encoding: json or console")

	for _, cmd := range []*cobra.Command{testsCmd, scriptCmd, chatCmd} {
		cmd.Flags().StringVar(&modelFlag, "model", "", "model name overriding the configured default")
	}
	scriptCmd.Flags().StringVar(&testCaseFlag, "test-case", "", "test case text")
	scriptCmd.Flags().StringVar(&testCaseFile, "test-case-file", "", "read the test case from a file")
	scriptCmd.Flags().StringVar(&htmlFile, "html", "", "HTML source file of the page under test")
	scriptCmd.Flags().StringVar(&targetURLFlag, "url", "", "target URL (default "+rag.DefaultTargetURL+")")

	rootCmd.AddCommand(serveCmd, ingestCmd, testsCmd, scriptCmd, chatCmd, modelsCmd, watchCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func withApp(ctx context.Context, tolerateStore bool, fn func(*app) error) error {
	a, err := openApp(ctx, cfg, logger, tolerateStore)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("close resources", zap.Error(err))
		}
	}()
	return fn(a)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, true, func(a *app) error {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.New(a.pipeline(ctx), a.ingestion(), logger.Named("api")),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		case <-ctx.Done():
		}

		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownPeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, false, func(a *app) error {
		svc := a.ingestion()

		var (
			report ingestion.Report
			err    error
		)
		if len(args) == 0 {
			logger.Info("ingesting data directory",
				zap.String("dir", cfg.DataDir),
				zap.String("embeddings", strings.ToUpper(cfg.Embeddings.Provider)+"/"+cfg.Embeddings.Model),
			)
			report, err = svc.IngestDirectory(ctx, cfg.DataDir)
		} else {
			report, err = ingestPaths(ctx, svc, args)
		}
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}

		fmt.Println(report.Message())
		return nil
	})
}

// ingestPaths accepts a mix of files and directories.
func ingestPaths(ctx context.Context, svc *ingestion.Service, args []string) (ingestion.Report, error) {
	var (
		total ingestion.Report
		files []string
	)
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return total, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		report, err := svc.IngestDirectory(ctx, arg)
		if err != nil {
			return total, err
		}
		total = addReports(total, report)
	}

	if len(files) > 0 {
		report, err := svc.IngestFiles(ctx, files)
		if err != nil {
			return total, err
		}
		total = addReports(total, report)
	}
	return total, nil
}

func addReports(a, b ingestion.Report) ingestion.Report {
	return ingestion.Report{
		Files:   a.Files + b.Files,
		Loaded:  a.Loaded + b.Loaded,
		Chunks:  a.Chunks + b.Chunks,
		Skipped: append(a.Skipped, b.Skipped...),
		Failed:  append(a.Failed, b.Failed...),
	}
}

func runTests(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query, err := argOrPrompt(args, "Describe the feature to test: ")
	if err != nil {
		return err
	}

	return withApp(ctx, false, func(a *app) error {
		res, err := a.pipeline(ctx).GenerateTests(ctx, rag.TestsRequest{Query: query, Model: modelFlag})
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func runScript(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	testCase := testCaseFlag
	if testCaseFile != "" {
		data, err := os.ReadFile(testCaseFile)
		if err != nil {
			return fmt.Errorf("read test case: %w", err)
		}
		testCase = string(data)
	}

	var html string
	if htmlFile != "" {
		data, err := os.ReadFile(htmlFile)
		if err != nil {
			return fmt.Errorf("read html: %w", err)
		}
		html = string(data)
	}

	return withApp(ctx, false, func(a *app) error {
		res, err := a.pipeline(ctx).GenerateScript(ctx, rag.ScriptRequest{
			TestCase:    testCase,
			HTMLContent: html,
			TargetURL:   targetURLFlag,
			Model:       modelFlag,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question, err := argOrPrompt(args, "Enter your question: ")
	if err != nil {
		return err
	}

	return withApp(ctx, false, func(a *app) error {
		res, err := a.pipeline(ctx).Chat(ctx, rag.ChatRequest{Query: question, Model: modelFlag})
		if err != nil {
			return err
		}

		fmt.Println(res.Answer)
		if res.Warning != "" {
			fmt.Println()
			fmt.Println("Warning:", res.Warning)
		}
		if len(res.Sources) > 0 {
			fmt.Println()
			fmt.Println("Sources:")
			for idx, source := range res.Sources {
				fmt.Printf("%d. %s\n", idx+1, source)
			}
		}
		return nil
	})
}

func runModels(cmd *cobra.Command, _ []string) error {
	if cfg.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY not set")
	}

	names, err := llm.ListGenerativeModels(cmd.Context(), cfg.GeminiAPIKey)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := cfg.DataDir
	if len(args) == 1 {
		dir = args[0]
	}

	return withApp(ctx, false, func(a *app) error {
		return ingestion.NewWatcher(a.ingestion(), logger.Named("watcher"), 0).Run(ctx, dir)
	})
}

// argOrPrompt returns the single positional argument or reads one line from stdin.
func argOrPrompt(args []string, prompt string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}

	fmt.Print(prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return "", nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
