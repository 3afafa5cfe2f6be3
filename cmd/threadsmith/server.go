package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/nverev/threadsmith/internal/api"
	"github.com/nverev/threadsmith/internal/backend"
	"github.com/nverev/threadsmith/internal/composer"
	"github.com/nverev/threadsmith/internal/config"
	"github.com/nverev/threadsmith/internal/generation"
	"github.com/nverev/threadsmith/internal/miner"
	"github.com/nverev/threadsmith/internal/pipeline"
	"github.com/nverev/threadsmith/internal/promptcfg"
	"github.com/nverev/threadsmith/internal/retrieval"
	"github.com/nverev/threadsmith/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the threadsmith server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running threadsmith server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show threadsmith system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "threadsmith.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "threadsmith version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to start twice. The health endpoint is the source of truth;
	// the PID file only names the culprit.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check backend readiness.
	client := backend.New(cfg.Backend.BaseURL)
	if err := backend.EnsureReady(ctx, client, os.Stderr,
		cfg.Backend.GenModel, cfg.Backend.AnalysisModel, cfg.Backend.EmbedModel); err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Open the instruction configuration store.
	prompts, err := promptcfg.Open(cfg.Prompts.Dir)
	if err != nil {
		return fmt.Errorf("opening prompt store: %w", err)
	}

	// Wire the pipeline.
	embedder := retrieval.NewEmbedder(client, cfg.Backend.EmbedModel)
	index := retrieval.NewTripleIndex(store.DB())
	triples := retrieval.NewTripleStore(store, index, embedder)
	comp := composer.New(cfg.Generation.ExampleTokens)
	gen := generation.NewGenerator(client, cfg.Backend.GenModel)
	svc := pipeline.NewService(prompts, triples, comp, gen)

	analyzer := miner.NewAnalyzer(client, cfg.Backend.AnalysisModel)
	suggestions := miner.NewSuggestionStore()

	handler := api.NewHandler(api.Deps{
		Service:     svc,
		Triples:     triples,
		Prompts:     prompts,
		Suggestions: suggestions,
		Analyzer:    analyzer,
		Token:       cfg.API.AuthToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Triples: triples,
		Prompts: prompts,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "threadsmith listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("threadsmith is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop threadsmith (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to threadsmith (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	resp, err := httpClient.Get(serverURL + "/healthz")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client := backend.New(cfg.Backend.BaseURL)
	if client.IsRunning(ctx) {
		printStatus("Backend", "running at %s", cfg.Backend.BaseURL)
	} else {
		printStatus("Backend", "not running")
	}

	printStatus("Gen model", "%s", cfg.Backend.GenModel)
	printStatus("Analysis model", "%s", cfg.Backend.AnalysisModel)
	printStatus("Embed model", "%s", cfg.Backend.EmbedModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Prompts dir", "%s", cfg.Prompts.Dir)
	return nil
}
