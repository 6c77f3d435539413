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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/provzone/docchat/internal/admins"
	"github.com/provzone/docchat/internal/answer"
	"github.com/provzone/docchat/internal/api"
	"github.com/provzone/docchat/internal/chunker"
	"github.com/provzone/docchat/internal/config"
	"github.com/provzone/docchat/internal/engine"
	"github.com/provzone/docchat/internal/ingest"
	"github.com/provzone/docchat/internal/parse"
	"github.com/provzone/docchat/internal/retrieval"
	"github.com/provzone/docchat/internal/staging"
	"github.com/provzone/docchat/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docchat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docchat system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "docchat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check the completion/embedding gateway before taking traffic.
	gateway := engine.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)
	if !gateway.IsReady(ctx) {
		printWarning("gateway at %s is not responding; requests will fail until it is reachable", cfg.Gateway.BaseURL)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	stagingStore, err := staging.NewFSStore(cfg.Storage.StagingDir)
	if err != nil {
		return fmt.Errorf("opening staging area: %w", err)
	}

	var parser parse.Parser
	if cfg.Parse.Mode == "local" {
		parser = parse.NewLocalParser()
	} else {
		parser = parse.NewOCRClient(cfg.Parse.BaseURL, cfg.Parse.Mode)
	}

	// Ingestion and retrieval share the embedder so both sides of the
	// pipeline use the same model.
	embedder := retrieval.NewEmbedder(gateway, cfg.Gateway.EmbedModel)
	index := retrieval.NewIndex(store.DB())
	chk := chunker.New(cfg.Chunking.WindowLines, cfg.Chunking.MinChars)
	pipeline := ingest.NewPipeline(store, stagingStore, parser, embedder, index, chk)
	retriever := retrieval.NewRetriever(embedder, index)
	assembler := answer.NewAssembler(retriever, gateway, cfg.Gateway.ChatModel, cfg.Retrieval.TopK, cfg.Retrieval.NeighborRadius)

	adminMgr, err := admins.NewManager(store, cfg.Auth.BootstrapAdmin)
	if err != nil {
		return fmt.Errorf("initializing admin allowlist: %w", err)
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Documents: store,
		Pipeline:  pipeline,
		Assembler: assembler,
		Admins:    adminMgr,
		Token:     cfg.Auth.APIToken,
		Ready:     gateway.IsReady,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP server on stdio transport.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Assembler: assembler,
		Retriever: retriever,
		Documents: store,
		TopK:      cfg.Retrieval.TopK,
		Radius:    cfg.Retrieval.NeighborRadius,
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
		fmt.Fprintf(os.Stderr, "docchat listening on %s\n", addr)
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

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			Status string `json:"status"`
			Engine *bool  `json:"engine"`
		}
		json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			if health.Engine != nil {
				if *health.Engine {
					printStatus("Gateway", "ready at %s", cfg.Gateway.BaseURL)
				} else {
					printStatus("Gateway", "unreachable at %s", cfg.Gateway.BaseURL)
				}
			}
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Chat model", "%s", cfg.Gateway.ChatModel)
	printStatus("Embed model", "%s", cfg.Gateway.EmbedModel)
	printStatus("Parse mode", "%s", cfg.Parse.Mode)

	if resp != nil && resp.StatusCode == 200 {
		c := &apiClient{
			baseURL:    serverURL,
			token:      cfg.Auth.APIToken,
			adminEmail: cfg.Auth.BootstrapAdmin,
			httpClient: client,
		}
		if docsResp, err := c.get(ctx, "/documents?limit=100"); err == nil {
			var docs []json.RawMessage
			if decodeJSON(docsResp, &docs) == nil {
				printStatus("Documents", "%s", countLabel(len(docs), 100))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Staging dir", "%s", cfg.Storage.StagingDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
