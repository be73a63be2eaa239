package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcp-chat/internal/api/handlers"
	"mcp-chat/internal/app"
	"mcp-chat/internal/auth"
	"mcp-chat/internal/config"
	"mcp-chat/internal/logger"
	"mcp-chat/internal/repository/db"
	"mcp-chat/internal/repository/memory"
	"mcp-chat/internal/repository/postgres"
	"mcp-chat/internal/service/llm"
	"mcp-chat/internal/service/session"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:          "mcp-chat",
	Short:        "Chat server with model backends, slash-command powers and live conversations",
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var opts struct {
		Port    string
		Backend string
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if opts.Port != "" {
				appConfig.Server.Port = opts.Port
			}
			if opts.Backend != "" {
				appConfig.Store.Backend = opts.Backend
			}
			return serve(cmd.Context(), appConfig)
		},
	}

	cmd.Flags().StringVarP(&opts.Port, "port", "p", "", "Port to serve on (overrides SERVER_PORT)")
	cmd.Flags().StringVar(&opts.Backend, "store", "", "Document store: memory or postgres (overrides STORE_BACKEND)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			conn, err := postgres.ConnectConfig(appConfig.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			if down {
				return postgres.RollbackMigrations(conn)
			}
			return postgres.RunMigrations(conn)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back every applied migration")
	return cmd
}

func openStore(appConfig *config.AppConfig) (db.DocumentStore, func(), error) {
	switch appConfig.Store.Backend {
	case config.StorePostgres:
		logger.Log.WithField("host", appConfig.Database.Host).Info("Opening PostgreSQL document store")
		store, err := postgres.Open(appConfig.Database.GetDSN())
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Log.WithError(err).Warn("Failed to close document store")
			}
		}, nil
	case config.StoreMemory:
		logger.Log.Warn("Using the in-memory document store, data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend: %s", appConfig.Store.Backend)
}

func serve(ctx context.Context, appConfig *config.AppConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(appConfig)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer closeStore()

	cfg := app.NewConfig(store, appConfig)

	// the request deadline is enforced per attempt by the registry
	client := &http.Client{}
	adapters := llm.Adapters{
		Default:   llm.NewGeminiAdapter(appConfig.LLM.DefaultAPIKey, appConfig.LLM.DefaultBaseURL, client),
		OpenAI:    llm.NewOpenAIAdapter(client),
		Anthropic: llm.NewAnthropicAdapter(client),
		Custom:    llm.NewCustomAdapter(client),
	}

	manager := session.NewManager(cfg, adapters, auth.NewSealer(appConfig.Auth.CredentialsKey))
	defer manager.Close()

	authenticator := auth.NewAuthenticator(appConfig.Auth)

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           handlers.NewRouter(cfg, manager, authenticator),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Log.WithFields(logrus.Fields{
		"port":          appConfig.Server.Port,
		"store":         appConfig.Store.Backend,
		"app_id":        appConfig.Store.AppID,
		"default_model": cfg.ModelsConfig().GetDefaultModel(),
	}).Info("Server starting")
	logger.Log.Infof("Health check: http://localhost:%s/api/health", appConfig.Server.Port)
	logger.Log.Infof("Session endpoint: http://localhost:%s/api/session", appConfig.Server.Port)
	logger.Log.Infof("Chat endpoint: http://localhost:%s/api/chat", appConfig.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
